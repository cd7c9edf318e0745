package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapls/lms-chat-system-sub004/internal/rollout"
)

func TestRolloutRepositoryRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	infra := SetupTestInfraWithOptions(t, true, false)
	repo := rollout.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	resetRolloutConfig(t, infra.PostgresDB)

	cfg, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, rollout.StageDisabled, cfg.Stage)
	assert.Equal(t, 0, cfg.RolloutPercentage)
	assert.Empty(t, cfg.BetaUserIDs)

	cfg.Stage = rollout.StageGradual
	cfg.RolloutPercentage = 25
	cfg.BetaUserIDs[42] = true
	cfg.FeatureFlags["thread_events"] = false
	require.NoError(t, repo.Save(ctx, cfg))

	reloaded, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, rollout.StageGradual, reloaded.Stage)
	assert.Equal(t, 25, reloaded.RolloutPercentage)
	assert.True(t, reloaded.BetaUserIDs[42])
	assert.Equal(t, false, reloaded.FeatureFlags["thread_events"])
	assert.Equal(t, cfg.Version, reloaded.Version)
}

func TestRolloutRepositoryVersionConflict(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	infra := SetupTestInfraWithOptions(t, true, false)
	repo := rollout.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	resetRolloutConfig(t, infra.PostgresDB)

	first, err := repo.Get(ctx)
	require.NoError(t, err)
	second, err := repo.Get(ctx)
	require.NoError(t, err)

	first.RolloutPercentage = 10
	require.NoError(t, repo.Save(ctx, first))

	// The second admin holds a stale version; their save must not
	// silently clobber the first one.
	second.RolloutPercentage = 90
	err = repo.Save(ctx, second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version conflict")

	current, err := repo.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, current.RolloutPercentage)
}

func TestRolloutRepositorySaveHealth(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	infra := SetupTestInfraWithOptions(t, true, false)
	repo := rollout.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	resetRolloutConfig(t, infra.PostgresDB)

	require.NoError(t, repo.SaveHealth(ctx, rollout.HealthMetrics{
		ErrorRate:    0.02,
		SuccessRate:  0.98,
		AvgLatencyMs: 150,
	}))

	var errorRate, successRate float64
	query := "SELECT error_rate, success_rate FROM chat_rollout_config WHERE id = 1"
	require.NoError(t, infra.PostgresDB.QueryRow(query).Scan(&errorRate, &successRate))
	assert.InDelta(t, 0.02, errorRate, 0.0001)
	assert.InDelta(t, 0.98, successRate, 0.0001)
}

func TestRolloutAuditLog(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	infra := SetupTestInfraWithOptions(t, true, false)
	audit := rollout.NewAuditRepository(infra.PostgresDB)
	ctx := context.Background()

	truncateTables(t, infra.PostgresDB, "chat_rollout_audit")

	require.NoError(t, audit.Insert(ctx, rollout.NewAuditEntry("set_stage", "tester", "disabled -> beta")))
	require.NoError(t, audit.Insert(ctx, rollout.NewAuditEntry("set_percentage", "tester", "0 -> 25")))

	entries, err := audit.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Newest first.
	assert.Equal(t, "set_percentage", entries[0].Action)
	assert.Equal(t, "set_stage", entries[1].Action)
}
