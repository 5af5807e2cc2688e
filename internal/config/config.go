package config

import "time"

// Config is the root configuration for a collabd instance.
type Config struct {
	Instance   InstanceConfig   `yaml:"instance"`
	Server     ServerConfig     `yaml:"server"`
	Platform   PlatformConfig   `yaml:"platform"`
	Bus        BusConfig        `yaml:"bus"`
	Database   DatabaseConfig   `yaml:"database"`
	Connection ConnectionConfig `yaml:"connection"`
	Save       SaveConfig       `yaml:"save"`
	Log        LogConfig        `yaml:"log"`
}

// InstanceConfig identifies this instance on the bus.
// An empty ID is replaced with a random uuid at startup.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig holds the HTTP/websocket listener settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	Path            string        `yaml:"path"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Debug           bool          `yaml:"debug"`
}

// PlatformConfig holds settings for the hosting content platform.
type PlatformConfig struct {
	URL            string        `yaml:"url"`
	Token          string        `yaml:"token"`            // static service token
	KeyID          string        `yaml:"key_id"`           // signing key id
	PrivateKeyPath string        `yaml:"private_key_path"` // RSA private key PEM file
	SchemaFile     string        `yaml:"schema_file"`      // offline schema snapshot
	SchemaInterval time.Duration `yaml:"schema_interval"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
}

// BusConfig selects the broadcast bus. Without a redis host the
// in-process bus is used.
type BusConfig struct {
	Channel   string      `yaml:"channel"`
	QueueSize int         `yaml:"queue_size"`
	Redis     RedisConfig `yaml:"redis"`
}

// RedisConfig holds the redis pub/sub connection.
type RedisConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// DatabaseConfig holds the optional postgres connection used by the
// persistence bridge.
type DatabaseConfig struct {
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Enabled reports whether a database was configured.
func (db DBConfig) Enabled() bool {
	return db.Host != ""
}

// ConnectionConfig holds per-socket limits.
type ConnectionConfig struct {
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	QueueCapacity  int           `yaml:"queue_capacity"`
}

// SaveConfig holds save handshake settings.
type SaveConfig struct {
	AckTimeout time.Duration `yaml:"ack_timeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}
