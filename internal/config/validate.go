package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Platform.URL == "" && c.Platform.SchemaFile == "" {
		return errors.New("platform.url or platform.schema_file is required")
	}
	if c.Platform.KeyID != "" && c.Platform.PrivateKeyPath == "" {
		return errors.New("platform.private_key_path is required when platform.key_id is set")
	}
	if c.Platform.MaxRetries < 0 {
		return errors.New("platform.max_retries must be >= 0")
	}

	if c.Bus.Channel == "" {
		return errors.New("bus.channel is required")
	}
	if c.Bus.QueueSize < 1 {
		return errors.New("bus.queue_size must be >= 1")
	}
	if c.Bus.Redis.Port < 1 || c.Bus.Redis.Port > 65535 {
		return fmt.Errorf("bus.redis.port must be between 1 and 65535, got %d", c.Bus.Redis.Port)
	}

	if c.Database.Postgres.Enabled() {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	}

	if c.Connection.PingInterval >= c.Connection.PongTimeout {
		return fmt.Errorf("connection.ping_interval (%s) must be less than pong_timeout (%s)",
			c.Connection.PingInterval, c.Connection.PongTimeout)
	}
	if c.Connection.QueueCapacity < 1 {
		return errors.New("connection.queue_capacity must be >= 1")
	}

	if c.Save.AckTimeout <= 0 {
		return errors.New("save.ack_timeout must be > 0")
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

// SlogLevel parses the configured level name.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("log.level: unknown level %q", l.Level)
	}
	return level, nil
}
