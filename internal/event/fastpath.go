package event

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rapls/lms-chat-system-sub004/internal/constants"
	"github.com/rapls/lms-chat-system-sub004/internal/logger"
	"github.com/rapls/lms-chat-system-sub004/pkg/circuitbreaker"
	"github.com/rapls/lms-chat-system-sub004/pkg/metrics"
)

// FastPath is the short-TTL recency hint in front of the durable store.
// It only ever carries the latest event id for a scope: a hint newer
// than the caller's cursor tells the coordinator to run its store query
// now instead of finishing the sleep interval. Event data itself is
// never served from here, so a hint with no store counterpart (crash
// between cache write and commit) can at worst cause one extra query.
type FastPath interface {
	Publish(ctx context.Context, scope Scope, eventID int64)
	Peek(ctx context.Context, scope Scope) int64
}

type RedisFastPath struct {
	client  *redis.Client
	breaker *circuitbreaker.Wrapper
	ttl     time.Duration
	logger  logger.Logger
}

func NewRedisFastPath(client *redis.Client, breaker *circuitbreaker.Wrapper, ttl time.Duration, log logger.Logger) *RedisFastPath {
	if ttl <= 0 {
		ttl = constants.FastPathTTL
	}
	return &RedisFastPath{
		client:  client,
		breaker: breaker,
		ttl:     ttl,
		logger:  log,
	}
}

func fastPathKey(scope Scope) string {
	if scope.ThreadID > 0 {
		return fmt.Sprintf("%s%d:%d", constants.CacheKeyPrefixFastPath, scope.ChannelID, scope.ThreadID)
	}
	return fmt.Sprintf("%s%d", constants.CacheKeyPrefixFastPath, scope.ChannelID)
}

// Publish is best-effort: a failed cache write only delays delivery by
// one poll interval.
func (f *RedisFastPath) Publish(ctx context.Context, scope Scope, eventID int64) {
	_, err := f.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
		pipe := f.client.Pipeline()
		// Channel-wide key always advances; thread events also touch
		// their thread key so thread pollers wake early.
		channelKey := fastPathKey(Scope{ChannelID: scope.ChannelID})
		pipe.Set(ctx, channelKey, eventID, f.ttl)
		if scope.ThreadID > 0 {
			pipe.Set(ctx, fastPathKey(scope), eventID, f.ttl)
		}
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	if err != nil {
		f.logger.DebugwCtx(ctx, "Fast-path publish skipped", "error", err)
	}
}

// Peek returns the newest hinted event id for the scope, or 0 when the
// cache has nothing (or Redis is unavailable).
func (f *RedisFastPath) Peek(ctx context.Context, scope Scope) int64 {
	result, err := f.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
		val, err := f.client.Get(ctx, fastPathKey(scope)).Result()
		if err == redis.Nil {
			return int64(0), nil
		}
		if err != nil {
			return int64(0), err
		}
		id, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return int64(0), nil // stale garbage, ignore
		}
		return id, nil
	})
	if err != nil {
		metrics.FastPathHintsTotal.WithLabelValues("error").Inc()
		return 0
	}

	id := result.(int64)
	if id > 0 {
		metrics.FastPathHintsTotal.WithLabelValues("hit").Inc()
	} else {
		metrics.FastPathHintsTotal.WithLabelValues("miss").Inc()
	}
	return id
}

// NopFastPath is used when Redis is not configured.
type NopFastPath struct{}

func (NopFastPath) Publish(ctx context.Context, scope Scope, eventID int64) {}
func (NopFastPath) Peek(ctx context.Context, scope Scope) int64             { return 0 }
