package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: collab-1
platform:
  url: http://localhost:8055
  token: service-token
bus:
  channel: edits
  redis:
    host: localhost
    port: 6380
save:
  ack_timeout: 3s
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "collab-1" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "collab-1")
	}
	if cfg.Platform.URL != "http://localhost:8055" {
		t.Errorf("Platform.URL = %q, want %q", cfg.Platform.URL, "http://localhost:8055")
	}
	if cfg.Bus.Channel != "edits" {
		t.Errorf("Bus.Channel = %q, want %q", cfg.Bus.Channel, "edits")
	}
	if cfg.Bus.Redis.Port != 6380 {
		t.Errorf("Bus.Redis.Port = %d, want %d", cfg.Bus.Redis.Port, 6380)
	}
	if cfg.Save.AckTimeout != 3*time.Second {
		t.Errorf("Save.AckTimeout = %v, want %v", cfg.Save.AckTimeout, 3*time.Second)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_PLATFORM_TOKEN", "secret123")
	t.Setenv("TEST_REDIS_PASSWORD", "hunter2")

	yaml := `
platform:
  url: http://localhost:8055
  token: ${TEST_PLATFORM_TOKEN}
bus:
  redis:
    host: localhost
    password: ${TEST_REDIS_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Platform.Token != "secret123" {
		t.Errorf("Platform.Token = %q, want %q", cfg.Platform.Token, "secret123")
	}
	if cfg.Bus.Redis.Password != "hunter2" {
		t.Errorf("Bus.Redis.Password = %q, want %q", cfg.Bus.Redis.Password, "hunter2")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("server: [")); err == nil {
		t.Error("Parse() expected error for invalid yaml")
	}
}

func TestParse_UnknownKey(t *testing.T) {
	_, err := Parse([]byte("save:\n  ack_timout: 3s\n"))
	if err == nil || !strings.Contains(err.Error(), "ack_timout") {
		t.Errorf("Parse() error = %v, want unknown key ack_timout", err)
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) error = %v", err)
	}
	cfg.ApplyDefaults()
	if cfg.Bus.Channel == "" {
		t.Error("defaults not applicable to an empty config")
	}
}

func TestParse_InstanceFromEnv(t *testing.T) {
	tests := []struct {
		name string
		env  string
		want string
	}{
		{"file value", "", "collab-1"},
		{"env override", "collab-7", "collab-7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvInstanceID, tt.env)
			cfg, err := Parse([]byte("instance:\n  id: collab-1\n"))
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if cfg.Instance.ID != tt.want {
				t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, tt.want)
			}
		})
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
platform:
  schema_file: schema.yaml
database:
  postgres:
    host: localhost
    name: directus
    user: directus
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Server.Addr != DefaultAddr {
		t.Errorf("Server.Addr = %q, want default %q", cfg.Server.Addr, DefaultAddr)
	}
	if cfg.Server.Path != DefaultPath {
		t.Errorf("Server.Path = %q, want default %q", cfg.Server.Path, DefaultPath)
	}
	if cfg.Bus.Channel != DefaultChannel {
		t.Errorf("Bus.Channel = %q, want default %q", cfg.Bus.Channel, DefaultChannel)
	}
	if cfg.Bus.Redis.Port != DefaultRedisPort {
		t.Errorf("Bus.Redis.Port = %d, want default %d", cfg.Bus.Redis.Port, DefaultRedisPort)
	}
	if cfg.Database.Postgres.Port != DefaultDBPort {
		t.Errorf("Database.Postgres.Port = %d, want default %d", cfg.Database.Postgres.Port, DefaultDBPort)
	}
	if cfg.Database.Postgres.MaxConns != DefaultMaxConns {
		t.Errorf("Database.Postgres.MaxConns = %d, want default %d", cfg.Database.Postgres.MaxConns, DefaultMaxConns)
	}
	if cfg.Save.AckTimeout != DefaultSaveAckTimeout {
		t.Errorf("Save.AckTimeout = %v, want default %v", cfg.Save.AckTimeout, DefaultSaveAckTimeout)
	}
	if cfg.Connection.MaxMessageSize != DefaultMaxMessageSize {
		t.Errorf("Connection.MaxMessageSize = %d, want default %d", cfg.Connection.MaxMessageSize, DefaultMaxMessageSize)
	}
	if cfg.Log.Format != DefaultLogFormat {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, DefaultLogFormat)
	}
}

func TestApplyDefaults_DatabaseDisabled(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	if cfg.Database.Postgres.Enabled() {
		t.Error("Database.Postgres.Enabled() = true, want false")
	}
	if cfg.Database.Postgres.Port != 0 {
		t.Errorf("Database.Postgres.Port = %d, want 0 when disabled", cfg.Database.Postgres.Port)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		var cfg Config
		cfg.Platform.URL = "http://localhost:8055"
		cfg.ApplyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "schema file only",
			mutate:  func(c *Config) { c.Platform.URL = ""; c.Platform.SchemaFile = "schema.yaml" },
			wantErr: "",
		},
		{
			name:    "missing platform",
			mutate:  func(c *Config) { c.Platform.URL = "" },
			wantErr: "platform.url or platform.schema_file is required",
		},
		{
			name:    "key id without private key",
			mutate:  func(c *Config) { c.Platform.KeyID = "collab" },
			wantErr: "platform.private_key_path is required when platform.key_id is set",
		},
		{
			name:    "redis port out of range",
			mutate:  func(c *Config) { c.Bus.Redis.Port = 70000 },
			wantErr: "bus.redis.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "missing postgres name",
			mutate:  func(c *Config) { c.Database.Postgres = DBConfig{Host: "localhost", User: "u", MaxConns: 2} },
			wantErr: "database.postgres.name is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.Database.Postgres = DBConfig{Host: "localhost", Name: "db", User: "u", MaxConns: 2, MinConns: 5}
			},
			wantErr: "database.postgres.min_conns (5) cannot exceed max_conns (2)",
		},
		{
			name:    "ping interval exceeds pong timeout",
			mutate:  func(c *Config) { c.Connection.PingInterval = time.Minute; c.Connection.PongTimeout = time.Second },
			wantErr: "connection.ping_interval (1m0s) must be less than pong_timeout (1s)",
		},
		{
			name:    "non-positive ack timeout",
			mutate:  func(c *Config) { c.Save.AckTimeout = -time.Second },
			wantErr: "save.ack_timeout must be > 0",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Log.Level = "loud" },
			wantErr: `log.level: unknown level "loud"`,
		},
		{
			name:    "unknown log format",
			mutate:  func(c *Config) { c.Log.Format = "xml" },
			wantErr: `log.format must be text or json, got "xml"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func TestLogConfig_SlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			got, err := LogConfig{Level: tt.level}.SlogLevel()
			if err != nil {
				t.Fatalf("SlogLevel() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("SlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeTempFile(t, "instance:\n  id: collab-1\n")
	if _, err := LoadAndValidate(path); err == nil {
		t.Error("LoadAndValidate() expected validation error without platform")
	}

	path = writeTempFile(t, "platform:\n  url: http://localhost:8055\n")
	cfg, err := LoadAndValidate(path)
	if err != nil {
		t.Fatalf("LoadAndValidate() error = %v", err)
	}
	if cfg.Bus.Redis.Host != "" {
		t.Errorf("Bus.Redis.Host = %q, want empty", cfg.Bus.Redis.Host)
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
