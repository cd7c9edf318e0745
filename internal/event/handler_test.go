package event

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapls/lms-chat-system-sub004/internal/logger"
)

func newHookRouter(t *testing.T) (*gin.Engine, *fakeRepo) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := &fakeRepo{}
	producer := NewProducer(repo, nil, time.Hour, logger.NopLogger())
	handler := NewHandler(producer, "service-token", logger.NopLogger())

	router := gin.New()
	handler.RegisterRoutes(router)
	return router, repo
}

func postHook(router *gin.Engine, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHooksRequireServiceToken(t *testing.T) {
	router, repo := newHookRouter(t)

	body := `{"message_id":101,"channel_id":7,"user_id":42,"payload":{"body":"hi"}}`
	rec := postHook(router, "/api/v1/chat/events/message-created", "", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, repo.appended)
}

func TestMessageCreatedHook(t *testing.T) {
	router, repo := newHookRouter(t)

	body := `{"message_id":101,"channel_id":7,"user_id":42,"payload":{"body":"hi"}}`
	rec := postHook(router, "/api/v1/chat/events/message-created", "service-token", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp["event_id"])

	require.Len(t, repo.appended, 1)
	assert.Equal(t, TypeMessageCreate, repo.appended[0].Type)
	assert.Equal(t, int64(7), repo.appended[0].ChannelID)
}

func TestMessageCreatedHookValidation(t *testing.T) {
	router, repo := newHookRouter(t)

	rec := postHook(router, "/api/v1/chat/events/message-created", "service-token", `{"channel_id":7}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, repo.appended)
}

func TestThreadSummaryHook(t *testing.T) {
	router, repo := newHookRouter(t)

	body := `{"thread_id":55,"channel_id":7,"payload":{"reply_count":3,"last_reply_at":"2025-06-01T12:00:00Z"}}`
	rec := postHook(router, "/api/v1/chat/events/thread-summary-updated", "service-token", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	require.Len(t, repo.appended, 1)
	e := repo.appended[0]
	assert.Equal(t, TypeThreadSummaryUpdate, e.Type)
	assert.Equal(t, int64(55), e.ThreadID)
	assert.Equal(t, PriorityLow, e.Priority)
}
