package config

import (
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Logging   LoggingConfig
	Auth      AuthConfig
	Poll      PollConfig
	Limits    LimitsConfig
	Retention RetentionConfig
	Rollout   RolloutConfig
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Breaker   BreakerConfig   `mapstructure:"circuit_breaker"`
	Tracing   TracingConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig
	Redis         RedisConfig
	RunMigrations bool   `mapstructure:"run_migrations"`
	MigrationsDir string `mapstructure:"migrations_dir"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AuthConfig carries the anti-forgery secret shared with the CMS side.
// Scopes lists every accepted token namespace; the chat front end shipped
// several generations of nonce names and all of them stay valid.
type AuthConfig struct {
	NonceSecret    string        `mapstructure:"nonce_secret"`
	NonceScopes    []string      `mapstructure:"nonce_scopes"`
	NonceMaxAge    time.Duration `mapstructure:"nonce_max_age"`
	AdminToken     string        `mapstructure:"admin_token"`
	SessionHeader  string        `mapstructure:"session_header"`
	IdentityHeader string        `mapstructure:"identity_header"`
}

type PollConfig struct {
	DefaultTimeout   time.Duration `mapstructure:"default_timeout"`
	MaxTimeout       time.Duration `mapstructure:"max_timeout"`
	CheckInterval    time.Duration `mapstructure:"check_interval"`
	BatchSize        int           `mapstructure:"batch_size"`
	FastPathTTL      time.Duration `mapstructure:"fast_path_ttl"`
	FastPathDisabled bool          `mapstructure:"fast_path_disabled"`
}

type LimitsConfig struct {
	MaxConnectionsPerUser int `mapstructure:"max_connections_per_user"`
	RequestsPerMinute     int `mapstructure:"requests_per_minute"`
}

type RetentionConfig struct {
	Window            time.Duration `mapstructure:"window"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	CompactInterval   time.Duration `mapstructure:"compact_interval"`
	InlineProbability float64       `mapstructure:"inline_probability"`
}

type RolloutConfig struct {
	RefreshInterval     time.Duration `mapstructure:"refresh_interval"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	MaxErrorRate        float64       `mapstructure:"max_error_rate"`
	MinSuccessRate      float64       `mapstructure:"min_success_rate"`
	MaxLatencyMs        float64       `mapstructure:"max_latency_ms"`
	EMAAlpha            float64       `mapstructure:"ema_alpha"`
}

// RateLimitConfig controls the gin middleware guarding the admin
// endpoints, not the per-user poll limiter.
type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type BreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}
