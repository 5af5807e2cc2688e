package bus

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrClosed      = errors.New("bus closed")
	ErrUnavailable = errors.New("bus unavailable")
)

// Handler receives a published payload. Handlers for one subscription are
// called sequentially in publish order.
type Handler func(ctx context.Context, payload []byte)

// Subscription is an active subscription. Close stops delivery and waits for
// the running handler to return.
type Subscription interface {
	Close() error
}

// Bus is a publish/subscribe transport.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

// Options configures the backend selected by New.
type Options struct {
	Redis RedisOptions

	// QueueSize bounds each in-process subscriber's queue.
	QueueSize int
}

// RedisOptions configures the Redis backend. An empty Host selects the
// in-process backend.
type RedisOptions struct {
	Host         string
	Port         int
	Password     string
	DB           int
	DialTimeout  time.Duration
	RetryBackoff time.Duration // initial receive retry wait
	MaxBackoff   time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		QueueSize: 1024,
		Redis: RedisOptions{
			Port:         6379,
			DialTimeout:  5 * time.Second,
			RetryBackoff: 100 * time.Millisecond,
			MaxBackoff:   10 * time.Second,
		},
	}
}
