package rollout

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rapls/lms-chat-system-sub004/internal/config"
	"github.com/rapls/lms-chat-system-sub004/internal/logger"
	"github.com/rapls/lms-chat-system-sub004/pkg/metrics"
)

// Service owns the staged-rollout state machine and the health circuit
// breaker. The config record is cached in memory and refreshed on a
// short ticker; a few seconds of staleness is fine because routing
// only widens or narrows, never breaks correctness.
type Service struct {
	repo   Repository
	audit  AuditRepository
	cfg    config.RolloutConfig
	logger logger.Logger

	current atomic.Pointer[Config]

	mu      sync.Mutex
	health  HealthMetrics
	healthy bool
}

func NewService(repo Repository, audit AuditRepository, cfg config.RolloutConfig, log logger.Logger) *Service {
	s := &Service{
		repo:    repo,
		audit:   audit,
		cfg:     cfg,
		logger:  log,
		healthy: true,
	}
	s.current.Store(DefaultConfig())
	s.health.SuccessRate = 1.0
	return s
}

// Refresh reloads the shared config record into the local cache.
func (s *Service) Refresh(ctx context.Context) error {
	cfg, err := s.repo.Get(ctx)
	if err != nil {
		return err
	}
	s.current.Store(cfg)
	metrics.RolloutStage.Set(float64(cfg.Stage.Ordinal()))
	metrics.RolloutPercentage.Set(float64(cfg.RolloutPercentage))
	return nil
}

// Run drives the refresh and scheduled health-check tickers until ctx
// is cancelled.
func (s *Service) Run(ctx context.Context) error {
	refresh := time.NewTicker(s.cfg.RefreshInterval)
	defer refresh.Stop()
	healthCheck := time.NewTicker(s.cfg.HealthCheckInterval)
	defer healthCheck.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-refresh.C:
			if err := s.Refresh(ctx); err != nil {
				s.logger.Warnw("Rollout config refresh failed", "error", err)
			}
		case <-healthCheck.C:
			s.CheckHealth(ctx)
		}
	}
}

// ShouldRoute decides deterministically whether the user is served by
// the engine. Same inputs, same answer: the bucket comes from a stable
// hash of the user id, so no per-user state is stored.
func (s *Service) ShouldRoute(userID int64) bool {
	cfg := s.current.Load()

	switch cfg.Stage {
	case StageFull:
		return true
	case StageBeta:
		return cfg.BetaUserIDs[userID]
	case StageCanary:
		return cfg.BetaUserIDs[userID] || userBucket(userID) < canaryPercentage
	case StageGradual:
		return cfg.BetaUserIDs[userID] || userBucket(userID) < cfg.RolloutPercentage
	default:
		return false
	}
}

// FlagEnabled reports a capability flag; flags default to on so a
// fresh record behaves like the consolidated engine with everything
// enabled.
func (s *Service) FlagEnabled(name string) bool {
	cfg := s.current.Load()
	enabled, ok := cfg.FeatureFlags[name]
	if !ok {
		return true
	}
	return enabled
}

func userBucket(userID int64) int {
	h := fnv.New32a()
	fmt.Fprintf(h, "chatpoll:%d", userID)
	return int(h.Sum32() % 100)
}

// RecordResult folds one completed poll into the moving averages.
func (s *Service) RecordResult(success bool, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alpha := s.cfg.EMAAlpha

	errSample := 0.0
	succSample := 1.0
	if !success {
		errSample = 1.0
		succSample = 0.0
	}

	if s.health.SampleCount == 0 {
		s.health.ErrorRate = errSample
		s.health.SuccessRate = succSample
		s.health.AvgLatencyMs = float64(latency.Milliseconds())
	} else {
		s.health.ErrorRate = alpha*errSample + (1-alpha)*s.health.ErrorRate
		s.health.SuccessRate = alpha*succSample + (1-alpha)*s.health.SuccessRate
		s.health.AvgLatencyMs = alpha*float64(latency.Milliseconds()) + (1-alpha)*s.health.AvgLatencyMs
	}
	s.health.SampleCount++
	s.health.UpdatedAt = time.Now().UTC()
}

// Health returns a snapshot of the moving averages.
func (s *Service) Health() HealthMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health
}

func (s *Service) isHealthy(m HealthMetrics) bool {
	if m.SampleCount == 0 {
		return true
	}
	return m.ErrorRate <= s.cfg.MaxErrorRate &&
		m.SuccessRate >= s.cfg.MinSuccessRate &&
		m.AvgLatencyMs <= s.cfg.MaxLatencyMs
}

// CheckHealth is the scheduled circuit breaker: crossing a threshold
// while previously healthy de-escalates the rollout one step without
// manual intervention.
func (s *Service) CheckHealth(ctx context.Context) {
	snapshot := s.Health()
	nowHealthy := s.isHealthy(snapshot)

	if err := s.repo.SaveHealth(ctx, snapshot); err != nil {
		s.logger.Warnw("Failed to persist health metrics", "error", err)
	}

	s.mu.Lock()
	wasHealthy := s.healthy
	s.healthy = nowHealthy
	s.mu.Unlock()

	if nowHealthy || !wasHealthy {
		return
	}

	s.logger.Warnw("Health thresholds breached, degrading rollout",
		"error_rate", snapshot.ErrorRate,
		"success_rate", snapshot.SuccessRate,
		"avg_latency_ms", snapshot.AvgLatencyMs,
	)

	if err := s.degrade(ctx, snapshot); err != nil {
		s.logger.Errorw("Automatic rollout degradation failed", "error", err)
	}
}

func (s *Service) degrade(ctx context.Context, snapshot HealthMetrics) error {
	cfg, err := s.repo.Get(ctx)
	if err != nil {
		return err
	}

	before := fmt.Sprintf("%s/%d%%", cfg.Stage, cfg.RolloutPercentage)

	switch {
	case cfg.Stage == StageFull:
		cfg.Stage = StageGradual
		cfg.RolloutPercentage = 50
	case cfg.Stage == StageGradual && cfg.RolloutPercentage > 10:
		cfg.RolloutPercentage = 10
	case cfg.Stage == StageDisabled:
		return nil
	default:
		cfg.Stage = StageBeta
	}

	if err := s.repo.Save(ctx, cfg); err != nil {
		return err
	}
	s.current.Store(cfg)
	metrics.RolloutDegradationsTotal.Inc()
	metrics.RolloutStage.Set(float64(cfg.Stage.Ordinal()))
	metrics.RolloutPercentage.Set(float64(cfg.RolloutPercentage))

	detail := fmt.Sprintf("%s -> %s/%d%% (error_rate=%.3f success_rate=%.3f latency_ms=%.0f)",
		before, cfg.Stage, cfg.RolloutPercentage,
		snapshot.ErrorRate, snapshot.SuccessRate, snapshot.AvgLatencyMs)
	s.recordAudit(ctx, "auto_degrade", "health-check", detail)

	return nil
}

func (s *Service) SetStage(ctx context.Context, stage Stage, actor string) (*Config, error) {
	cfg, err := s.repo.Get(ctx)
	if err != nil {
		return nil, err
	}

	before := cfg.Stage
	cfg.Stage = stage
	if err := s.repo.Save(ctx, cfg); err != nil {
		return nil, err
	}
	s.current.Store(cfg)
	metrics.RolloutStage.Set(float64(cfg.Stage.Ordinal()))

	s.recordAudit(ctx, "set_stage", actor, fmt.Sprintf("%s -> %s", before, stage))
	return cfg, nil
}

// SetPercentage adjusts the gradual sample size. Increases are gated
// on current health; decreases always go through. The emergency flag
// bypasses the health gate for an increase during incident response.
func (s *Service) SetPercentage(ctx context.Context, pct int, emergency bool, actor string) (*Config, error) {
	if pct < 0 || pct > 100 {
		return nil, fmt.Errorf("rollout percentage must be within [0,100], got %d", pct)
	}

	cfg, err := s.repo.Get(ctx)
	if err != nil {
		return nil, err
	}

	if pct > cfg.RolloutPercentage && !emergency {
		s.mu.Lock()
		healthy := s.healthy
		s.mu.Unlock()
		if !healthy {
			return nil, fmt.Errorf("cannot raise rollout percentage while unhealthy")
		}
	}

	before := cfg.RolloutPercentage
	cfg.RolloutPercentage = pct
	if err := s.repo.Save(ctx, cfg); err != nil {
		return nil, err
	}
	s.current.Store(cfg)
	metrics.RolloutPercentage.Set(float64(pct))

	s.recordAudit(ctx, "set_percentage", actor, fmt.Sprintf("%d -> %d (emergency=%t)", before, pct, emergency))
	return cfg, nil
}

func (s *Service) AddBetaUser(ctx context.Context, userID int64, actor string) (*Config, error) {
	return s.mutateBeta(ctx, userID, true, actor)
}

func (s *Service) RemoveBetaUser(ctx context.Context, userID int64, actor string) (*Config, error) {
	return s.mutateBeta(ctx, userID, false, actor)
}

func (s *Service) mutateBeta(ctx context.Context, userID int64, add bool, actor string) (*Config, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("user id must be positive, got %d", userID)
	}

	cfg, err := s.repo.Get(ctx)
	if err != nil {
		return nil, err
	}

	action := "add_beta_user"
	if add {
		cfg.BetaUserIDs[userID] = true
	} else {
		delete(cfg.BetaUserIDs, userID)
		action = "remove_beta_user"
	}

	if err := s.repo.Save(ctx, cfg); err != nil {
		return nil, err
	}
	s.current.Store(cfg)

	s.recordAudit(ctx, action, actor, strconv.FormatInt(userID, 10))
	return cfg, nil
}

func (s *Service) SetFlag(ctx context.Context, name string, enabled bool, actor string) (*Config, error) {
	if name == "" {
		return nil, fmt.Errorf("flag name is required")
	}

	cfg, err := s.repo.Get(ctx)
	if err != nil {
		return nil, err
	}

	cfg.FeatureFlags[name] = enabled
	if err := s.repo.Save(ctx, cfg); err != nil {
		return nil, err
	}
	s.current.Store(cfg)

	s.recordAudit(ctx, "set_flag", actor, fmt.Sprintf("%s=%t", name, enabled))
	return cfg, nil
}

// EmergencyRollback forces the engine off for everyone, no health
// gate, no questions.
func (s *Service) EmergencyRollback(ctx context.Context, actor string) (*Config, error) {
	cfg, err := s.repo.Get(ctx)
	if err != nil {
		return nil, err
	}

	before := fmt.Sprintf("%s/%d%%", cfg.Stage, cfg.RolloutPercentage)
	cfg.Stage = StageDisabled
	cfg.RolloutPercentage = 0

	if err := s.repo.Save(ctx, cfg); err != nil {
		return nil, err
	}
	s.current.Store(cfg)
	metrics.RolloutStage.Set(0)
	metrics.RolloutPercentage.Set(0)

	s.recordAudit(ctx, "emergency_rollback", actor, before+" -> disabled/0%")
	return cfg, nil
}

func (s *Service) Status(ctx context.Context) (*Status, error) {
	cfg, err := s.repo.Get(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := s.Health()

	s.mu.Lock()
	healthy := s.healthy
	s.mu.Unlock()

	return &Status{
		Stage:             cfg.Stage,
		RolloutPercentage: cfg.RolloutPercentage,
		BetaUserCount:     len(cfg.BetaUserIDs),
		FeatureFlags:      cfg.FeatureFlags,
		Health:            snapshot,
		Healthy:           healthy,
		ConfigVersion:     cfg.Version,
	}, nil
}

func (s *Service) AuditLog(ctx context.Context, limit int) ([]AuditEntry, error) {
	if s.audit == nil {
		return nil, nil
	}
	return s.audit.List(ctx, limit)
}

func (s *Service) recordAudit(ctx context.Context, action, actor, detail string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Insert(ctx, NewAuditEntry(action, actor, detail)); err != nil {
		s.logger.Warnw("Failed to record rollout audit entry", "action", action, "error", err)
	}
}
