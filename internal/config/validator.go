package config

import (
	"fmt"
)

func Validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.DBName == "" {
		return fmt.Errorf("database.postgres.dbname is required")
	}

	if cfg.Auth.NonceSecret == "" {
		return fmt.Errorf("auth.nonce_secret is required")
	}

	if cfg.Poll.MaxTimeout < cfg.Poll.DefaultTimeout {
		return fmt.Errorf("poll.max_timeout (%s) must not be below poll.default_timeout (%s)",
			cfg.Poll.MaxTimeout, cfg.Poll.DefaultTimeout)
	}

	if cfg.Retention.InlineProbability < 0 || cfg.Retention.InlineProbability > 1 {
		return fmt.Errorf("retention.inline_probability must be within [0,1], got %f",
			cfg.Retention.InlineProbability)
	}

	return nil
}
