package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapls/lms-chat-system-sub004/internal/config"
	"github.com/rapls/lms-chat-system-sub004/internal/event"
	"github.com/rapls/lms-chat-system-sub004/internal/retention"
)

func TestSweeperRemovesOnlyExpiredEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	infra := SetupTestInfraWithOptions(t, true, false)
	repo := event.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	truncateTables(t, infra.PostgresDB, "chat_events")

	for i := 0; i < 10; i++ {
		_, err := repo.Append(ctx, makeEvent(event.TypeMessageCreate, 7, -time.Minute))
		require.NoError(t, err)
	}
	liveID, err := repo.Append(ctx, makeEvent(event.TypeMessageCreate, 7, time.Hour))
	require.NoError(t, err)

	sweeper := retention.NewSweeper(repo, config.RetentionConfig{
		Window:          time.Hour,
		SweepInterval:   time.Hour,
		CompactInterval: time.Hour,
	}, createTestLogger())

	sweeper.TryInline(ctx)

	var remaining int64
	require.NoError(t, infra.PostgresDB.QueryRow("SELECT count(*) FROM chat_events").Scan(&remaining))
	assert.Equal(t, int64(1), remaining)

	events, err := repo.Query(ctx, event.Query{Scope: event.Scope{ChannelID: 7}, Types: event.AllTypes()})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, liveID, events[0].ID)

	// Immediate re-trigger is a no-op; the sweeper self-limits.
	_, err = repo.Append(ctx, makeEvent(event.TypeMessageCreate, 7, -time.Minute))
	require.NoError(t, err)
	sweeper.TryInline(ctx)

	require.NoError(t, infra.PostgresDB.QueryRow("SELECT count(*) FROM chat_events").Scan(&remaining))
	assert.Equal(t, int64(2), remaining)
}
