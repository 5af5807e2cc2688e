package database

import (
	"context"
	"fmt"
	"time"

	"github.com/directus-labs/extensions-sub000/internal/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Persistence writes happen in bursts when a room saves; idle connections
// are returned quickly in between.
const (
	maxConnIdleTime   = 2 * time.Minute
	healthCheckPeriod = 30 * time.Second

	// A committer that stalls must not hold row locks for long.
	idleInTxTimeout = "30s"
)

// SessionName is the application_name of instance's sessions, so each
// node's connections can be told apart in pg_stat_activity.
func SessionName(instance string) string {
	if instance == "" {
		return ApplicationName
	}
	return ApplicationName + "/" + instance
}

// PoolConfig builds the pool configuration for one collabd instance.
func PoolConfig(cfg config.DBConfig, instance string) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	params := poolCfg.ConnConfig.RuntimeParams
	params["application_name"] = SessionName(instance)
	params["idle_in_transaction_session_timeout"] = idleInTxTimeout

	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	poolCfg.MaxConnIdleTime = maxConnIdleTime
	poolCfg.HealthCheckPeriod = healthCheckPeriod
	return poolCfg, nil
}

// Connect creates instance's connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DBConfig, instance string) (*pgxpool.Pool, error) {
	poolCfg, err := PoolConfig(cfg, instance)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database %s as %s: %w", cfg.Name, SessionName(instance), err)
	}
	return pool, nil
}
