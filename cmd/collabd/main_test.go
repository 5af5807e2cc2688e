package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/directus-labs/extensions-sub000/internal/bus"
	"github.com/directus-labs/extensions-sub000/internal/config"
	"github.com/directus-labs/extensions-sub000/internal/platform"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(config.LogConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}

	logger.Info("hidden")
	logger.Warn("shown", "room", "articles:1")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record written at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("output = %s, want json record", out)
	}

	if _, err := newLogger(config.LogConfig{Level: "verbose"}, &buf); err == nil {
		t.Error("newLogger() expected error for unknown level")
	}
}

func TestNewPlatform_Offline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	schema := "collections:\n  articles:\n    primary_key: id\n    fields:\n      title:\n        type: string\n"
	if err := os.WriteFile(path, []byte(schema), 0644); err != nil {
		t.Fatalf("write schema: %v", err)
	}

	deps, err := newPlatform(context.Background(), config.PlatformConfig{SchemaFile: path}, slog.Default())
	if err != nil {
		t.Fatalf("newPlatform() error = %v", err)
	}
	if deps.watcher != nil {
		t.Error("watcher set without a platform url")
	}
	if _, ok := deps.schema.Field("articles", "title"); !ok {
		t.Error("schema file not loaded")
	}

	acc, err := deps.auth.Authenticate(context.Background(), "alice")
	if err != nil || acc.User != "alice" {
		t.Errorf("Authenticate(alice) = %+v, %v", acc, err)
	}
	ok, _ := deps.oracle.CanRead(context.Background(), platform.Accountability{User: "alice"}, "articles", "1", []string{"title"})
	if !ok {
		t.Error("offline oracle denied a read")
	}
}

func TestCheckBus(t *testing.T) {
	// Reserve a port and release it so nothing answers there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	tests := []struct {
		name    string
		cfg     config.BusConfig
		want    bool
		wantLog string
	}{
		{"in-process", config.BusConfig{Channel: "collab"}, true, "bus ready"},
		{"unreachable redis", config.BusConfig{Channel: "collab", Redis: config.RedisConfig{Host: "127.0.0.1", Port: port}}, false, "bus unreachable at startup, continuing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := bus.DefaultOptions()
			opts.Redis.Host = tt.cfg.Redis.Host
			opts.Redis.Port = tt.cfg.Redis.Port
			opts.Redis.DialTimeout = 200 * time.Millisecond
			b := bus.New(opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
			defer b.Close()

			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))
			if got := checkBus(context.Background(), b, tt.cfg, logger); got != tt.want {
				t.Errorf("checkBus() = %v, want %v", got, tt.want)
			}
			if !strings.Contains(buf.String(), tt.wantLog) {
				t.Errorf("log = %s, want %q", buf.String(), tt.wantLog)
			}
		})
	}
}
