package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/directus-labs/extensions-sub000/internal/auth"
	"github.com/directus-labs/extensions-sub000/internal/bus"
	"github.com/directus-labs/extensions-sub000/internal/config"
	"github.com/directus-labs/extensions-sub000/internal/connection"
	"github.com/directus-labs/extensions-sub000/internal/database"
	"github.com/directus-labs/extensions-sub000/internal/dispatch"
	"github.com/directus-labs/extensions-sub000/internal/persist"
	"github.com/directus-labs/extensions-sub000/internal/platform"
	"github.com/directus-labs/extensions-sub000/internal/save"
	"github.com/directus-labs/extensions-sub000/internal/server"
	"github.com/directus-labs/extensions-sub000/internal/version"
)

func main() {
	flags := pflag.NewFlagSet("collabd", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "configs/collabd.local.yaml", "path to config file")
	logLevel := flags.String("log-level", "", "override log.level from the config file")
	showVersion := flags.Bool("version", false, "print version and exit")
	flags.Parse(os.Args[1:])

	if *showVersion {
		fmt.Println("collabd", version.String())
		return
	}

	if err := run(*configPath, *logLevel); err != nil {
		slog.Error("collabd failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath, logLevel string) error {
	cfg, err := config.LoadWithDefaults(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logger, err := newLogger(cfg.Log, os.Stdout)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if cfg.Instance.ID == "" {
		cfg.Instance.ID = uuid.NewString()
	}
	logger = logger.With("instance_id", cfg.Instance.ID)

	logger.Info("starting collabd",
		"version", version.Version,
		"commit", version.Commit,
		"config", configPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Bus
	busOpts := bus.DefaultOptions()
	busOpts.QueueSize = cfg.Bus.QueueSize
	busOpts.Redis.Host = cfg.Bus.Redis.Host
	busOpts.Redis.Port = cfg.Bus.Redis.Port
	busOpts.Redis.Password = cfg.Bus.Redis.Password
	busOpts.Redis.DB = cfg.Bus.Redis.DB
	busOpts.Redis.DialTimeout = cfg.Bus.Redis.DialTimeout
	b := bus.New(busOpts, logger.With("component", "bus"))
	defer b.Close()

	checkBus(ctx, b, cfg.Bus, logger)

	// Platform
	plat, err := newPlatform(ctx, cfg.Platform, logger)
	if err != nil {
		return err
	}

	// Persistence
	var committer save.Committer = persist.LogCommitter{Logger: logger.With("component", "persist")}
	var listenDial persist.DialFunc
	if cfg.Database.Postgres.Enabled() {
		logger.Info("connecting to database",
			"host", cfg.Database.Postgres.Host,
			"port", cfg.Database.Postgres.Port,
			"database", cfg.Database.Postgres.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database.Postgres, cfg.Instance.ID)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		logger.Info("database connected")

		committer = persist.NewBridge(pool, logger.With("component", "persist"))
		listenDial = persist.DialPostgres(database.BuildConnString(cfg.Database.Postgres))
	}

	// Dispatcher
	svc := dispatch.NewService(dispatch.Config{
		Instance: cfg.Instance.ID,
		Channel:  cfg.Bus.Channel,
		Save:     save.Config{AckTimeout: cfg.Save.AckTimeout},
	}, b, plat.oracle, plat.schema, committer, logger)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	// HTTP
	srv := server.New(server.Config{
		Path:              cfg.Server.Path,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		Debug:             cfg.Server.Debug,
		Connection: connection.Config{
			WriteTimeout:   cfg.Connection.WriteTimeout,
			PongTimeout:    cfg.Connection.PongTimeout,
			PingInterval:   cfg.Connection.PingInterval,
			MaxMessageSize: cfg.Connection.MaxMessageSize,
			InboundBuffer:  connection.DefaultConfig().InboundBuffer,
			QueueCapacity:  cfg.Connection.QueueCapacity,
		},
	}, svc, plat.auth, logger.With("component", "server"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.Server.Addr)
	})
	if plat.watcher != nil {
		g.Go(func() error {
			return plat.watcher.Run(gctx)
		})
	}
	if listenDial != nil {
		listener := persist.NewListener(persist.DefaultListenerConfig(), listenDial, svc, logger.With("component", "persist"))
		g.Go(func() error {
			return listener.Run(gctx)
		})
	}

	logger.Info("collabd running", "addr", cfg.Server.Addr, "ws_path", cfg.Server.Path)

	err = g.Wait()
	logger.Info("shutting down")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("collabd stopped")
	return nil
}

func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// checkBus logs whether the bus answers. An unreachable Redis does not stop
// the daemon: local rooms keep working and the subscriber reconnects.
func checkBus(ctx context.Context, b bus.Bus, cfg config.BusConfig, logger *slog.Logger) bool {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := b.Ping(ctx); err != nil {
		logger.Warn("bus unreachable at startup, continuing",
			"host", cfg.Redis.Host,
			"port", cfg.Redis.Port,
			"error", err,
		)
		return false
	}
	logger.Info("bus ready", "redis", cfg.Redis.Host != "", "channel", cfg.Channel)
	return true
}

// platformDeps are the collaborators resolved from the platform config.
type platformDeps struct {
	oracle  platform.Oracle
	auth    platform.Authenticator
	schema  *platform.Schema
	watcher *platform.SchemaWatcher
}

func newPlatform(ctx context.Context, cfg config.PlatformConfig, logger *slog.Logger) (platformDeps, error) {
	var deps platformDeps

	if cfg.SchemaFile != "" {
		schema, err := platform.LoadSchemaFile(cfg.SchemaFile)
		if err != nil {
			return deps, err
		}
		deps.schema = schema
		logger.Info("schema loaded", "file", cfg.SchemaFile, "collections", schema.Collections())
	} else {
		deps.schema = platform.NewSchema(platform.SchemaSnapshot{})
	}

	if cfg.URL == "" {
		logger.Warn("no platform configured; tokens are trusted as user names and reads are not checked")
		deps.oracle = platform.AllowAll
		deps.auth = platform.TokenAsUser
		return deps, nil
	}

	opts := []platform.ClientOption{
		platform.WithLogger(logger.With("component", "platform")),
		platform.WithTimeout(cfg.Timeout),
		platform.WithRetries(cfg.MaxRetries, 500*time.Millisecond),
	}
	if cfg.KeyID != "" {
		creds, err := auth.LoadCredentials(cfg.KeyID, cfg.PrivateKeyPath)
		if err != nil {
			return deps, fmt.Errorf("load signing key: %w", err)
		}
		opts = append(opts, platform.WithSigner(creds))
	}
	client := platform.NewClient(cfg.URL, cfg.Token, opts...)
	deps.oracle = client
	deps.auth = client

	if cfg.SchemaFile == "" {
		deps.watcher = platform.NewSchemaWatcher(client, deps.schema, cfg.SchemaInterval, logger.With("component", "schema"))
		if err := deps.watcher.Sync(ctx); err != nil {
			return deps, fmt.Errorf("initial schema sync: %w", err)
		}
	}

	logger.Info("platform configured", "url", cfg.URL, "signed", cfg.KeyID != "")
	return deps, nil
}
