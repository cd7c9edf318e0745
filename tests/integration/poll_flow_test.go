package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapls/lms-chat-system-sub004/internal/config"
	"github.com/rapls/lms-chat-system-sub004/internal/event"
	"github.com/rapls/lms-chat-system-sub004/internal/membership"
	"github.com/rapls/lms-chat-system-sub004/internal/poll"
	apperrors "github.com/rapls/lms-chat-system-sub004/pkg/errors"
)

func pollTestConfig() config.PollConfig {
	return config.PollConfig{
		DefaultTimeout: 2 * time.Second,
		MaxTimeout:     3 * time.Second,
		CheckInterval:  100 * time.Millisecond,
		BatchSize:      50,
		FastPathTTL:    3 * time.Second,
	}
}

// Full producer-to-poller path against real Postgres and Redis: the
// mutation hook appends and hints, the blocked poll wakes and serves
// from the store.
func TestPollFlowEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	infra := SetupTestInfra(t)
	ctx := context.Background()

	truncateTables(t, infra.PostgresDB, "chat_events", "chat_channel_members")
	addMember(t, infra.PostgresDB, 7, 42)

	repo := event.NewRepository(infra.PostgresDB)
	breaker := createTestBreaker("poll-flow")
	fastPath := event.NewRedisFastPath(infra.RedisClient, breaker, 3*time.Second, createTestLogger())
	producer := event.NewProducer(repo, fastPath, time.Hour, createTestLogger())
	limiter := poll.NewRedisLimiter(infra.RedisClient, breaker, 3, 1000, createTestLogger())

	coordinator := poll.NewCoordinator(
		repo,
		fastPath,
		membership.NewChecker(infra.PostgresDB),
		limiter,
		nil,
		nil,
		pollTestConfig(),
		0,
		createTestLogger(),
	)

	go func() {
		time.Sleep(300 * time.Millisecond)
		_, err := producer.OnMessageCreated(ctx, 101, 7, 99, event.MessageCreatedPayload{Body: "hello"})
		if err != nil {
			t.Errorf("producer hook failed: %v", err)
		}
	}()

	start := time.Now()
	resp, err := coordinator.Poll(ctx, poll.Request{UserID: 42, ChannelID: 7})
	require.NoError(t, err)

	assert.False(t, resp.Timeout)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, event.TypeMessageCreate, resp.Events[0].Type)
	assert.Greater(t, resp.LastEventID, int64(0))
	// Woken by the mid-wait append, well before the timeout.
	assert.Less(t, time.Since(start), 2*time.Second)

	// A second poll from the returned cursor sees nothing new and
	// times out clean.
	resp2, err := coordinator.Poll(ctx, poll.Request{
		UserID:    42,
		ChannelID: 7,
		Cursor:    event.Cursor{LastEventID: resp.LastEventID},
		Timeout:   500 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.True(t, resp2.Timeout)
	assert.Equal(t, resp.LastEventID, resp2.LastEventID)
}

func TestPollFlowDeniesNonMember(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	infra := SetupTestInfraWithOptions(t, true, false)
	ctx := context.Background()

	truncateTables(t, infra.PostgresDB, "chat_events", "chat_channel_members")

	coordinator := poll.NewCoordinator(
		event.NewRepository(infra.PostgresDB),
		nil,
		membership.NewChecker(infra.PostgresDB),
		nil,
		nil,
		nil,
		pollTestConfig(),
		0,
		createTestLogger(),
	)

	_, err := coordinator.Poll(ctx, poll.Request{UserID: 42, ChannelID: 7})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrAccessDenied))
}

func TestFastPathHintRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	infra := SetupTestInfraWithOptions(t, false, true)
	ctx := context.Background()

	fastPath := event.NewRedisFastPath(infra.RedisClient, createTestBreaker("fastpath"), time.Second, createTestLogger())

	scope := event.Scope{ChannelID: 7}
	assert.Equal(t, int64(0), fastPath.Peek(ctx, scope))

	fastPath.Publish(ctx, scope, 12)
	assert.Equal(t, int64(12), fastPath.Peek(ctx, scope))

	// Thread publishes advance the channel-wide key too.
	threadScope := event.Scope{ChannelID: 7, ThreadID: 55}
	fastPath.Publish(ctx, threadScope, 13)
	assert.Equal(t, int64(13), fastPath.Peek(ctx, scope))
	assert.Equal(t, int64(13), fastPath.Peek(ctx, threadScope))

	// Hints expire with their TTL; polling falls back to the store
	// cadence.
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, int64(0), fastPath.Peek(ctx, scope))
}
