package poll

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rapls/lms-chat-system-sub004/internal/constants"
	"github.com/rapls/lms-chat-system-sub004/internal/logger"
	"github.com/rapls/lms-chat-system-sub004/pkg/circuitbreaker"
	apperrors "github.com/rapls/lms-chat-system-sub004/pkg/errors"
)

// Limiter enforces the per-user concurrent-connection cap and the
// rolling request-rate cap. Both counters are advisory best-effort
// state shared across workers through Redis, not linearizable locks;
// brief overshoot under race is acceptable.
type Limiter interface {
	// Acquire admits one long-poll connection for the user and returns
	// a release func that must run when the request ends, on every
	// path. Errors are ErrConnectionLimit or ErrRateLimitExceeded.
	Acquire(ctx context.Context, userID int64) (func(), error)
}

type RedisLimiter struct {
	client         *redis.Client
	breaker        *circuitbreaker.Wrapper
	maxConns       int
	requestsPerMin int
	logger         logger.Logger
}

func NewRedisLimiter(client *redis.Client, breaker *circuitbreaker.Wrapper, maxConns, requestsPerMin int, log logger.Logger) *RedisLimiter {
	return &RedisLimiter{
		client:         client,
		breaker:        breaker,
		maxConns:       maxConns,
		requestsPerMin: requestsPerMin,
		logger:         log,
	}
}

func (l *RedisLimiter) Acquire(ctx context.Context, userID int64) (func(), error) {
	if err := l.checkRate(ctx, userID); err != nil {
		return nil, err
	}

	connKey := fmt.Sprintf("%s%d", constants.CacheKeyPrefixConn, userID)

	result, err := l.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
		pipe := l.client.TxPipeline()
		incr := pipe.Incr(ctx, connKey)
		// TTL guard so a crashed worker cannot leak a slot forever.
		pipe.Expire(ctx, connKey, constants.ConnectionCounterTTL)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
		return incr.Val(), nil
	})
	if err != nil {
		// Limiter state is advisory: when Redis is gone we admit the
		// request rather than fail every poll on the node.
		l.logger.WarnwCtx(ctx, "Connection limiter unavailable, admitting request", "error", err)
		return func() {}, nil
	}

	count := result.(int64)
	if count > int64(l.maxConns) {
		l.decrement(connKey)
		return nil, apperrors.ErrConnectionLimit.WithDetail("limit", l.maxConns)
	}

	return func() { l.decrement(connKey) }, nil
}

func (l *RedisLimiter) checkRate(ctx context.Context, userID int64) error {
	// Fixed 60-second window. Coarser than a true rolling window but
	// long polls are self-limiting, so the cap is generous anyway.
	window := time.Now().Unix() / int64(constants.RateWindowLength.Seconds())
	rateKey := fmt.Sprintf("%s%d:%d", constants.CacheKeyPrefixRate, userID, window)

	result, err := l.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
		pipe := l.client.TxPipeline()
		incr := pipe.Incr(ctx, rateKey)
		pipe.Expire(ctx, rateKey, 2*constants.RateWindowLength)
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, err
		}
		return incr.Val(), nil
	})
	if err != nil {
		l.logger.WarnwCtx(ctx, "Rate limiter unavailable, admitting request", "error", err)
		return nil
	}

	if result.(int64) > int64(l.requestsPerMin) {
		return apperrors.ErrRateLimitExceeded.WithDetail("limit", l.requestsPerMin)
	}
	return nil
}

// decrement runs on a fresh context because the request context is
// usually already cancelled when the slot is released.
func (l *RedisLimiter) decrement(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := l.breaker.Execute(func() (interface{}, error) {
		val, err := l.client.Decr(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		if val < 0 {
			// Counter drifted (expired mid-request); clamp instead of
			// going negative forever.
			l.client.Del(ctx, key)
		}
		return nil, nil
	})
	if err != nil {
		l.logger.Debugw("Connection slot release failed", "key", key, "error", err)
	}
}

// NopLimiter admits everything; used when Redis is not configured.
type NopLimiter struct{}

func (NopLimiter) Acquire(ctx context.Context, userID int64) (func(), error) {
	return func() {}, nil
}
