package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapls/lms-chat-system-sub004/internal/event"
)

func TestEventRepositoryAppendAndQuery(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	infra := SetupTestInfraWithOptions(t, true, false)
	repo := event.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	t.Run("append assigns increasing ids", func(t *testing.T) {
		truncateTables(t, infra.PostgresDB, "chat_events")

		first, err := repo.Append(ctx, makeEvent(event.TypeMessageCreate, 7, time.Hour))
		require.NoError(t, err)
		second, err := repo.Append(ctx, makeEvent(event.TypeMessageCreate, 7, time.Hour))
		require.NoError(t, err)
		assert.Greater(t, second, first)
	})

	t.Run("query respects cursor", func(t *testing.T) {
		truncateTables(t, infra.PostgresDB, "chat_events")

		var ids []int64
		for i := 0; i < 3; i++ {
			id, err := repo.Append(ctx, makeEvent(event.TypeMessageCreate, 7, time.Hour))
			require.NoError(t, err)
			ids = append(ids, id)
		}

		events, err := repo.Query(ctx, event.Query{
			Scope:   event.Scope{ChannelID: 7},
			AfterID: ids[0],
			Types:   event.AllTypes(),
		})
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, ids[1], events[0].ID)
		assert.Equal(t, ids[2], events[1].ID)
	})

	t.Run("query respects timestamp cursor", func(t *testing.T) {
		truncateTables(t, infra.PostgresDB, "chat_events")

		old := makeEvent(event.TypeMessageCreate, 7, time.Hour)
		old.CreatedAt = time.Now().UTC().Add(-10 * time.Minute)
		_, err := repo.Append(ctx, old)
		require.NoError(t, err)

		recentID, err := repo.Append(ctx, makeEvent(event.TypeMessageCreate, 7, time.Hour))
		require.NoError(t, err)

		events, err := repo.Query(ctx, event.Query{
			Scope:     event.Scope{ChannelID: 7},
			AfterTime: time.Now().UTC().Add(-time.Minute),
			Types:     event.AllTypes(),
		})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, recentID, events[0].ID)
	})

	t.Run("priority orders within a batch", func(t *testing.T) {
		truncateTables(t, infra.PostgresDB, "chat_events")

		low := makeEvent(event.TypeReactionUpdate, 7, time.Hour)
		low.Priority = event.PriorityLow
		_, err := repo.Append(ctx, low)
		require.NoError(t, err)

		high := makeEvent(event.TypeMessageDelete, 7, time.Hour)
		high.Priority = event.PriorityHigh
		_, err = repo.Append(ctx, high)
		require.NoError(t, err)

		events, err := repo.Query(ctx, event.Query{
			Scope: event.Scope{ChannelID: 7},
			Types: event.AllTypes(),
		})
		require.NoError(t, err)
		require.Len(t, events, 2)
		// The delete was appended later but serves first.
		assert.Equal(t, event.TypeMessageDelete, events[0].Type)
		assert.Equal(t, event.TypeReactionUpdate, events[1].Type)
	})

	t.Run("expired events are invisible", func(t *testing.T) {
		truncateTables(t, infra.PostgresDB, "chat_events")

		_, err := repo.Append(ctx, makeEvent(event.TypeMessageCreate, 7, -time.Minute))
		require.NoError(t, err)
		visible, err := repo.Append(ctx, makeEvent(event.TypeMessageCreate, 7, time.Hour))
		require.NoError(t, err)

		events, err := repo.Query(ctx, event.Query{
			Scope: event.Scope{ChannelID: 7},
			Types: event.AllTypes(),
		})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, visible, events[0].ID)
	})

	t.Run("type filter", func(t *testing.T) {
		truncateTables(t, infra.PostgresDB, "chat_events")

		_, err := repo.Append(ctx, makeEvent(event.TypeMessageCreate, 7, time.Hour))
		require.NoError(t, err)
		_, err = repo.Append(ctx, makeEvent(event.TypeReactionUpdate, 7, time.Hour))
		require.NoError(t, err)

		events, err := repo.Query(ctx, event.Query{
			Scope: event.Scope{ChannelID: 7},
			Types: []event.Type{event.TypeReactionUpdate},
		})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, event.TypeReactionUpdate, events[0].Type)
	})

	t.Run("thread scope", func(t *testing.T) {
		truncateTables(t, infra.PostgresDB, "chat_events")

		channelWide := makeEvent(event.TypeMessageCreate, 7, time.Hour)
		_, err := repo.Append(ctx, channelWide)
		require.NoError(t, err)

		threaded := makeEvent(event.TypeThreadCreate, 7, time.Hour)
		threaded.ThreadID = 55
		threadedID, err := repo.Append(ctx, threaded)
		require.NoError(t, err)

		events, err := repo.Query(ctx, event.Query{
			Scope: event.Scope{ChannelID: 7, ThreadID: 55},
			Types: event.AllTypes(),
		})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, threadedID, events[0].ID)
	})

	t.Run("exclude self", func(t *testing.T) {
		truncateTables(t, infra.PostgresDB, "chat_events")

		mine := makeEvent(event.TypeMessageCreate, 7, time.Hour)
		mine.ActorUserID = 42
		_, err := repo.Append(ctx, mine)
		require.NoError(t, err)

		theirs := makeEvent(event.TypeMessageCreate, 7, time.Hour)
		theirs.ActorUserID = 99
		theirsID, err := repo.Append(ctx, theirs)
		require.NoError(t, err)

		events, err := repo.Query(ctx, event.Query{
			Scope:       event.Scope{ChannelID: 7},
			Types:       event.AllTypes(),
			ExcludeUser: 42,
		})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, theirsID, events[0].ID)
	})
}

func TestEventRepositoryDeleteExpired(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	infra := SetupTestInfraWithOptions(t, true, false)
	repo := event.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	truncateTables(t, infra.PostgresDB, "chat_events")

	for i := 0; i < 5; i++ {
		_, err := repo.Append(ctx, makeEvent(event.TypeMessageCreate, 7, -time.Minute))
		require.NoError(t, err)
	}
	_, err := repo.Append(ctx, makeEvent(event.TypeMessageCreate, 7, time.Hour))
	require.NoError(t, err)

	// Batch smaller than the backlog: two passes drain it.
	deleted, err := repo.DeleteExpired(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	deleted, err = repo.DeleteExpired(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	var remaining int
	require.NoError(t, infra.PostgresDB.QueryRow("SELECT count(*) FROM chat_events").Scan(&remaining))
	assert.Equal(t, 1, remaining)
}
