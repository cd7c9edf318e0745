package retention

import (
	"context"
	"sync"
	"time"

	"github.com/rapls/lms-chat-system-sub004/internal/config"
	"github.com/rapls/lms-chat-system-sub004/internal/constants"
	"github.com/rapls/lms-chat-system-sub004/internal/event"
	"github.com/rapls/lms-chat-system-sub004/internal/logger"
	"github.com/rapls/lms-chat-system-sub004/pkg/metrics"
)

// Sweeper deletes expired events and periodically compacts the table.
// It is not safety-critical: the query path already filters on
// expires_at, so a late sweep only costs storage.
type Sweeper struct {
	store  event.Repository
	cfg    config.RetentionConfig
	logger logger.Logger

	mu      sync.Mutex
	lastRun time.Time
}

func NewSweeper(store event.Repository, cfg config.RetentionConfig, log logger.Logger) *Sweeper {
	return &Sweeper{
		store:  store,
		cfg:    cfg,
		logger: log,
	}
}

// Run drives the scheduled sweep and compaction loops until ctx is
// cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	sweep := time.NewTicker(s.cfg.SweepInterval)
	defer sweep.Stop()
	compact := time.NewTicker(s.cfg.CompactInterval)
	defer compact.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sweep.C:
			s.sweep(ctx, "scheduled")
		case <-compact.C:
			if err := s.store.Compact(ctx); err != nil {
				s.logger.Warnw("Event table compaction failed", "error", err)
			} else {
				s.logger.Info("Event table compacted")
			}
		}
	}
}

// TryInline is the opportunistic entry point triggered from a small
// fraction of poll wait-loop iterations. It self-limits so a burst of
// triggers from concurrent requests collapses into one sweep.
func (s *Sweeper) TryInline(ctx context.Context) {
	s.mu.Lock()
	if time.Since(s.lastRun) < time.Minute {
		s.mu.Unlock()
		return
	}
	s.lastRun = time.Now()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	s.sweep(ctx, "inline")
}

func (s *Sweeper) sweep(ctx context.Context, trigger string) {
	metrics.SweeperRunsTotal.WithLabelValues(trigger).Inc()

	var total int64
	for {
		deleted, err := s.store.DeleteExpired(ctx, constants.SweepBatchSize)
		if err != nil {
			s.logger.Warnw("Retention sweep failed", "trigger", trigger, "error", err)
			return
		}
		total += deleted
		if deleted < int64(constants.SweepBatchSize) {
			break
		}
	}

	if total > 0 {
		metrics.SweeperDeletedTotal.Add(float64(total))
		s.logger.Infow("Expired events removed", "trigger", trigger, "deleted", total)
	}
}
