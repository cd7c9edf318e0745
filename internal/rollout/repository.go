package rollout

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
)

type Repository interface {
	Get(ctx context.Context) (*Config, error)
	Save(ctx context.Context, cfg *Config) error
	SaveHealth(ctx context.Context, m HealthMetrics) error
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Get reads the single rollout row, creating the disabled default on
// first use.
func (r *PostgresRepository) Get(ctx context.Context) (*Config, error) {
	query := `
		SELECT stage, rollout_percentage, beta_user_ids, feature_flags, version, updated_at
		FROM chat_rollout_config
		WHERE id = 1
	`

	var (
		cfg       Config
		stage     string
		betaJSON  []byte
		flagsJSON []byte
	)
	err := r.db.QueryRowContext(ctx, query).Scan(
		&stage,
		&cfg.RolloutPercentage,
		&betaJSON,
		&flagsJSON,
		&cfg.Version,
		&cfg.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return r.insertDefault(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rollout config: %w", err)
	}

	cfg.Stage = Stage(stage)
	if cfg.BetaUserIDs, err = decodeBetaSet(betaJSON); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(flagsJSON, &cfg.FeatureFlags); err != nil {
		return nil, fmt.Errorf("failed to decode feature flags: %w", err)
	}
	if cfg.FeatureFlags == nil {
		cfg.FeatureFlags = make(map[string]bool)
	}

	return &cfg, nil
}

func (r *PostgresRepository) insertDefault(ctx context.Context) (*Config, error) {
	cfg := DefaultConfig()

	query := `
		INSERT INTO chat_rollout_config (id, stage, rollout_percentage, beta_user_ids, feature_flags, version, updated_at)
		VALUES (1, $1, $2, '[]', '{}', 1, now())
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, string(cfg.Stage), cfg.RolloutPercentage); err != nil {
		return nil, fmt.Errorf("failed to seed rollout config: %w", err)
	}

	cfg.Version = 1
	return cfg, nil
}

// Save persists the record with an optimistic version check so
// concurrent admin actions cannot silently overwrite each other.
func (r *PostgresRepository) Save(ctx context.Context, cfg *Config) error {
	betaJSON, err := encodeBetaSet(cfg.BetaUserIDs)
	if err != nil {
		return err
	}
	flagsJSON, err := json.Marshal(cfg.FeatureFlags)
	if err != nil {
		return fmt.Errorf("failed to encode feature flags: %w", err)
	}

	query := `
		UPDATE chat_rollout_config
		SET stage = $1,
		    rollout_percentage = $2,
		    beta_user_ids = $3,
		    feature_flags = $4,
		    version = version + 1,
		    updated_at = now()
		WHERE id = 1 AND version = $5
	`

	res, err := r.db.ExecContext(ctx, query,
		string(cfg.Stage),
		cfg.RolloutPercentage,
		string(betaJSON),
		string(flagsJSON),
		cfg.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to save rollout config: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read save result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("rollout config version conflict (expected %d)", cfg.Version)
	}

	cfg.Version++
	return nil
}

func (r *PostgresRepository) SaveHealth(ctx context.Context, m HealthMetrics) error {
	query := `
		UPDATE chat_rollout_config
		SET error_rate = $1,
		    success_rate = $2,
		    avg_latency_ms = $3,
		    active_connections = $4,
		    health_updated_at = now()
		WHERE id = 1
	`
	if _, err := r.db.ExecContext(ctx, query, m.ErrorRate, m.SuccessRate, m.AvgLatencyMs, m.ActiveConnections); err != nil {
		return fmt.Errorf("failed to save health metrics: %w", err)
	}
	return nil
}

// The beta set is stored as a JSON array of ids. Encoding goes through
// strings to survive ids above 2^53 in downstream JS tooling.
func encodeBetaSet(set map[int64]bool) ([]byte, error) {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to encode beta set: %w", err)
	}
	return data, nil
}

func decodeBetaSet(data []byte) (map[int64]bool, error) {
	var ids []string
	if len(data) > 0 {
		if err := json.Unmarshal(data, &ids); err != nil {
			return nil, fmt.Errorf("failed to decode beta set: %w", err)
		}
	}

	set := make(map[int64]bool, len(ids))
	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		set[id] = true
	}
	return set, nil
}
