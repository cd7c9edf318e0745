package rollout

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapls/lms-chat-system-sub004/internal/logger"
)

func newTestHandler(t *testing.T, cfg *Config) (*gin.Engine, *fakeRepo) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc, repo, _ := newTestService(t, cfg)
	handler := NewHandler(svc, "admin-token", logger.NopLogger())

	router := gin.New()
	handler.RegisterRoutes(router)
	return router, repo
}

func doAdmin(router *gin.Engine, method, path, token, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}

	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAdminRoutesRequireToken(t *testing.T) {
	router, _ := newTestHandler(t, DefaultConfig())

	rec := doAdmin(router, http.MethodGet, "/api/v1/chat/rollout/status", "", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doAdmin(router, http.MethodGet, "/api/v1/chat/rollout/status", "wrong-token", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doAdmin(router, http.MethodGet, "/api/v1/chat/rollout/status", "admin-token", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSetStageEndpoint(t *testing.T) {
	router, repo := newTestHandler(t, DefaultConfig())

	rec := doAdmin(router, http.MethodPut, "/api/v1/chat/rollout/stage", "admin-token", `{"stage":"canary"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StageCanary, repo.cfg.Stage)

	rec = doAdmin(router, http.MethodPut, "/api/v1/chat/rollout/stage", "admin-token", `{"stage":"ramping"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusEndpointShape(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stage = StageGradual
	cfg.RolloutPercentage = 25
	cfg.BetaUserIDs[42] = true
	router, _ := newTestHandler(t, cfg)

	rec := doAdmin(router, http.MethodGet, "/api/v1/chat/rollout/status", "admin-token", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, StageGradual, status.Stage)
	assert.Equal(t, 25, status.RolloutPercentage)
	assert.Equal(t, 1, status.BetaUserCount)
	assert.True(t, status.Healthy)
}

func TestBetaUserEndpoints(t *testing.T) {
	router, repo := newTestHandler(t, DefaultConfig())

	rec := doAdmin(router, http.MethodPost, "/api/v1/chat/rollout/beta/42", "admin-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, repo.cfg.BetaUserIDs[42])

	rec = doAdmin(router, http.MethodDelete, "/api/v1/chat/rollout/beta/42", "admin-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, repo.cfg.BetaUserIDs[42])

	rec = doAdmin(router, http.MethodPost, "/api/v1/chat/rollout/beta/zero", "admin-token", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFlagEndpoint(t *testing.T) {
	router, repo := newTestHandler(t, DefaultConfig())

	rec := doAdmin(router, http.MethodPut, "/api/v1/chat/rollout/flags/thread_events", "admin-token", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, repo.cfg.FeatureFlags["thread_events"])

	// Missing body field is a validation error, not a silent default.
	rec = doAdmin(router, http.MethodPut, "/api/v1/chat/rollout/flags/thread_events", "admin-token", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmergencyRollbackEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stage = StageFull
	router, repo := newTestHandler(t, cfg)

	rec := doAdmin(router, http.MethodPost, "/api/v1/chat/rollout/emergency-rollback", "admin-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StageDisabled, repo.cfg.Stage)
}
