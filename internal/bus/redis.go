package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is the distributed backend.
type Redis struct {
	client *redis.Client
	opts   RedisOptions
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[*redisSub]struct{}
	closed bool
}

// NewRedis creates a Redis-backed bus. No connection is made until first
// use.
func NewRedis(opts RedisOptions, logger *slog.Logger) *Redis {
	defaults := DefaultOptions().Redis
	if opts.Port == 0 {
		opts.Port = defaults.Port
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaults.DialTimeout
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaults.RetryBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaults.MaxBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:        net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	})

	return &Redis{
		client: client,
		opts:   opts,
		logger: logger,
		subs:   make(map[*redisSub]struct{}),
	}
}

// Publish sends payload to channel. Failures are logged and returned
// wrapped in ErrUnavailable.
func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	if r.isClosed() {
		return ErrClosed
	}
	if err := r.client.Publish(ctx, channel, Encode(payload)).Err(); err != nil {
		r.logger.Warn("redis publish failed", "channel", channel, "error", err)
		return fmt.Errorf("%w: publish: %v", ErrUnavailable, err)
	}
	return nil
}

// Subscribe starts receiving channel. If Redis is unreachable the
// subscription keeps retrying in the background.
func (r *Redis) Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &redisSub{
		bus:     r,
		channel: channel,
		pubsub:  r.client.Subscribe(subCtx, channel),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	r.subs[sub] = struct{}{}
	r.mu.Unlock()

	// Wait for the subscription to be confirmed so that messages published
	// right after Subscribe returns are not missed.
	confirmCtx, confirmCancel := context.WithTimeout(subCtx, r.opts.DialTimeout)
	if _, err := sub.pubsub.Receive(confirmCtx); err != nil {
		r.logger.Warn("redis subscribe not confirmed, will keep retrying", "channel", channel, "error", err)
	}
	confirmCancel()

	go sub.run(subCtx, handler)
	return sub, nil
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close stops all subscriptions and closes the client.
func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := make([]*redisSub, 0, len(r.subs))
	for sub := range r.subs {
		subs = append(subs, sub)
	}
	r.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	return r.client.Close()
}

func (r *Redis) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type redisSub struct {
	bus     *Redis
	channel string
	pubsub  *redis.PubSub
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

func (s *redisSub) run(ctx context.Context, handler Handler) {
	defer close(s.done)

	logger := s.bus.logger.With("channel", s.channel)
	backoff := s.bus.opts.RetryBackoff

	for {
		msg, err := s.pubsub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}
			logger.Warn("redis receive failed, retrying", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, s.bus.opts.MaxBackoff)
			continue
		}
		backoff = s.bus.opts.RetryBackoff

		payload, err := Decode([]byte(msg.Payload))
		if err != nil {
			logger.Warn("dropping undecodable bus frame", "error", err)
			continue
		}
		handler(ctx, payload)
	}
}

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()

		s.cancel()
		err = s.pubsub.Close()
	})
	<-s.done
	return err
}
