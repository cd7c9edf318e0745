package rollout

import (
	"fmt"
	"time"
)

// Stage is the coarse phase of the staged release of the long-poll
// engine. Routing widens monotonically from Disabled to Full.
type Stage string

const (
	StageDisabled Stage = "disabled"
	StageBeta     Stage = "beta"
	StageCanary   Stage = "canary"
	StageGradual  Stage = "gradual"
	StageFull     Stage = "full"
)

// canaryPercentage is the fixed hash-bucket sample size in the canary
// stage.
const canaryPercentage = 5

func ParseStage(raw string) (Stage, error) {
	switch Stage(raw) {
	case StageDisabled, StageBeta, StageCanary, StageGradual, StageFull:
		return Stage(raw), nil
	default:
		return "", fmt.Errorf("unknown rollout stage %q", raw)
	}
}

func (s Stage) Ordinal() int {
	switch s {
	case StageBeta:
		return 1
	case StageCanary:
		return 2
	case StageGradual:
		return 3
	case StageFull:
		return 4
	default:
		return 0
	}
}

// Config is the small shared rollout record, read on every poll and
// mutated only by control actions and the scheduled health check.
type Config struct {
	Stage             Stage           `json:"stage"`
	RolloutPercentage int             `json:"rollout_percentage"`
	BetaUserIDs       map[int64]bool  `json:"beta_user_ids"`
	FeatureFlags      map[string]bool `json:"feature_flags"`
	Version           int64           `json:"version"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func DefaultConfig() *Config {
	return &Config{
		Stage:             StageDisabled,
		RolloutPercentage: 0,
		BetaUserIDs:       make(map[int64]bool),
		FeatureFlags:      make(map[string]bool),
	}
}

// HealthMetrics are exponential moving averages over completed poll
// requests, held in memory per node and persisted on scheduled health
// checks.
type HealthMetrics struct {
	ErrorRate         float64   `json:"error_rate"`
	SuccessRate       float64   `json:"success_rate"`
	AvgLatencyMs      float64   `json:"avg_latency_ms"`
	ActiveConnections int64     `json:"active_connections"`
	SampleCount       int64     `json:"sample_count"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Status is the migration-status report served to administrators.
type Status struct {
	Stage             Stage           `json:"stage"`
	RolloutPercentage int             `json:"rollout_percentage"`
	BetaUserCount     int             `json:"beta_user_count"`
	FeatureFlags      map[string]bool `json:"feature_flags"`
	Health            HealthMetrics   `json:"health"`
	Healthy           bool            `json:"healthy"`
	ConfigVersion     int64           `json:"config_version"`
}
