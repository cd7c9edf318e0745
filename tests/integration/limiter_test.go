package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapls/lms-chat-system-sub004/internal/poll"
	apperrors "github.com/rapls/lms-chat-system-sub004/pkg/errors"
)

func TestRedisLimiterConnectionCap(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	infra := SetupTestInfraWithOptions(t, false, true)
	limiter := poll.NewRedisLimiter(infra.RedisClient, createTestBreaker("limiter-conn"), 3, 1000, createTestLogger())
	ctx := context.Background()

	var releases []func()
	for i := 0; i < 3; i++ {
		release, err := limiter.Acquire(ctx, 42)
		require.NoError(t, err)
		releases = append(releases, release)
	}

	// Fourth concurrent poll for the same user is refused.
	_, err := limiter.Acquire(ctx, 42)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrConnectionLimit))

	// Another user is unaffected.
	release, err := limiter.Acquire(ctx, 43)
	require.NoError(t, err)
	release()

	// Releasing one slot readmits.
	releases[0]()
	release, err = limiter.Acquire(ctx, 42)
	require.NoError(t, err)
	release()

	for _, r := range releases[1:] {
		r()
	}
}

func TestRedisLimiterRateCap(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	infra := SetupTestInfraWithOptions(t, false, true)
	// Generous connection cap so only the rate counter can refuse.
	limiter := poll.NewRedisLimiter(infra.RedisClient, createTestBreaker("limiter-rate"), 1000, 5, createTestLogger())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		release, err := limiter.Acquire(ctx, 42)
		require.NoError(t, err)
		release()
	}

	_, err := limiter.Acquire(ctx, 42)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrRateLimitExceeded))

	// The rate window counts requests, not open connections, so
	// releasing does not readmit within the same window.
	_, err = limiter.Acquire(ctx, 42)
	assert.Error(t, err)
}
