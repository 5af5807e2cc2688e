package bus

import (
	"log/slog"
)

// New constructs the backend described by opts: Redis when a host is
// configured, in-process otherwise. A Redis server that is unreachable at
// startup is logged, not fatal; the client keeps reconnecting.
func New(opts Options, logger *slog.Logger) Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Redis.Host == "" {
		logger.Info("using in-process bus")
		return NewMemory(opts.QueueSize, logger)
	}
	logger.Info("using redis bus", "host", opts.Redis.Host, "port", opts.Redis.Port, "db", opts.Redis.DB)
	return NewRedis(opts.Redis, logger)
}
