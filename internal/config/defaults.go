package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAddr             = ":8055"
	DefaultPath             = "/ws"
	DefaultReadTimeout      = 10 * time.Second
	DefaultShutdownTimeout  = 15 * time.Second
	DefaultSchemaInterval   = 5 * time.Minute
	DefaultPlatformTimeout  = 10 * time.Second
	DefaultMaxRetries       = 3
	DefaultChannel          = "collab"
	DefaultQueueSize        = 1024
	DefaultRedisPort        = 6379
	DefaultRedisDialTimeout = 5 * time.Second
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 4
	DefaultMinConns         = 1
	DefaultWriteTimeout     = 10 * time.Second
	DefaultPongTimeout      = 60 * time.Second
	DefaultPingInterval     = 25 * time.Second
	DefaultMaxMessageSize   = 4 << 20
	DefaultQueueCapacity    = 32
	DefaultSaveAckTimeout   = 10 * time.Second
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
)

// ApplyDefaults fills zero-valued optional fields.
func (c *Config) ApplyDefaults() {
	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.Path == "" {
		c.Server.Path = DefaultPath
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Platform defaults
	if c.Platform.SchemaInterval == 0 {
		c.Platform.SchemaInterval = DefaultSchemaInterval
	}
	if c.Platform.Timeout == 0 {
		c.Platform.Timeout = DefaultPlatformTimeout
	}
	if c.Platform.MaxRetries == 0 {
		c.Platform.MaxRetries = DefaultMaxRetries
	}

	// Bus defaults
	if c.Bus.Channel == "" {
		c.Bus.Channel = DefaultChannel
	}
	if c.Bus.QueueSize == 0 {
		c.Bus.QueueSize = DefaultQueueSize
	}
	if c.Bus.Redis.Port == 0 {
		c.Bus.Redis.Port = DefaultRedisPort
	}
	if c.Bus.Redis.DialTimeout == 0 {
		c.Bus.Redis.DialTimeout = DefaultRedisDialTimeout
	}

	// Database defaults
	if c.Database.Postgres.Enabled() {
		applyDBDefaults(&c.Database.Postgres)
	}

	// Connection defaults
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.PongTimeout == 0 {
		c.Connection.PongTimeout = DefaultPongTimeout
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.MaxMessageSize == 0 {
		c.Connection.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.Connection.QueueCapacity == 0 {
		c.Connection.QueueCapacity = DefaultQueueCapacity
	}

	if c.Save.AckTimeout == 0 {
		c.Save.AckTimeout = DefaultSaveAckTimeout
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
