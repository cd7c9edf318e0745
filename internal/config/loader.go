package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rapls/lms-chat-system-sub004/internal/constants"
)

func Load(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	bindEnvVariables()
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func bindEnvVariables() {
	viper.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	viper.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	viper.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	viper.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	viper.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	viper.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("server.port", "SERVER_PORT")

	viper.BindEnv("auth.nonce_secret", "AUTH_NONCE_SECRET")
	viper.BindEnv("auth.admin_token", "AUTH_ADMIN_TOKEN")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")

	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("database.postgres.sslmode", "disable")
	viper.SetDefault("database.run_migrations", true)
	viper.SetDefault("database.migrations_dir", "migrations")
}

func applyDefaults(cfg *Config) {
	if cfg.Poll.DefaultTimeout <= 0 {
		cfg.Poll.DefaultTimeout = constants.DefaultPollTimeout
	}
	if cfg.Poll.MaxTimeout <= 0 {
		cfg.Poll.MaxTimeout = constants.MaxPollTimeout
	}
	if cfg.Poll.CheckInterval <= 0 {
		cfg.Poll.CheckInterval = constants.PollCheckInterval
	}
	if cfg.Poll.BatchSize <= 0 {
		cfg.Poll.BatchSize = constants.DefaultBatchSize
	}
	if cfg.Poll.FastPathTTL <= 0 {
		cfg.Poll.FastPathTTL = constants.FastPathTTL
	}

	if cfg.Limits.MaxConnectionsPerUser <= 0 {
		cfg.Limits.MaxConnectionsPerUser = constants.DefaultConnectionCap
	}
	if cfg.Limits.RequestsPerMinute <= 0 {
		cfg.Limits.RequestsPerMinute = constants.DefaultRequestsPerMin
	}

	if cfg.Retention.Window <= 0 {
		cfg.Retention.Window = constants.DefaultRetentionWindow
	}
	if cfg.Retention.SweepInterval <= 0 {
		cfg.Retention.SweepInterval = constants.SweepInterval
	}
	if cfg.Retention.CompactInterval <= 0 {
		cfg.Retention.CompactInterval = constants.CompactInterval
	}
	if cfg.Retention.InlineProbability <= 0 {
		cfg.Retention.InlineProbability = constants.InlineSweepProbability
	}

	if cfg.Rollout.RefreshInterval <= 0 {
		cfg.Rollout.RefreshInterval = constants.RolloutRefreshInterval
	}
	if cfg.Rollout.HealthCheckInterval <= 0 {
		cfg.Rollout.HealthCheckInterval = constants.HealthCheckInterval
	}
	if cfg.Rollout.MaxErrorRate <= 0 {
		cfg.Rollout.MaxErrorRate = 0.05
	}
	if cfg.Rollout.MinSuccessRate <= 0 {
		cfg.Rollout.MinSuccessRate = 0.95
	}
	if cfg.Rollout.MaxLatencyMs <= 0 {
		cfg.Rollout.MaxLatencyMs = 2000
	}
	if cfg.Rollout.EMAAlpha <= 0 || cfg.Rollout.EMAAlpha > 1 {
		cfg.Rollout.EMAAlpha = 0.1
	}

	if len(cfg.Auth.NonceScopes) == 0 {
		// Legacy namespaces issued by older front-end bundles.
		cfg.Auth.NonceScopes = []string{"chat_poll", "chat_realtime", "lms_chat"}
	}
	if cfg.Auth.NonceMaxAge <= 0 {
		cfg.Auth.NonceMaxAge = 12 * time.Hour
	}
	if cfg.Auth.SessionHeader == "" {
		cfg.Auth.SessionHeader = "X-Chat-Session"
	}
	if cfg.Auth.IdentityHeader == "" {
		cfg.Auth.IdentityHeader = "X-Chat-User"
	}
}
