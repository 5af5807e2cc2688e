package bus

import (
	"context"
	"log/slog"
	"sync"
)

// Memory is the in-process backend.
type Memory struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySub]struct{}
	size   int
	closed bool
	logger *slog.Logger
}

// NewMemory creates an in-process bus. queueSize bounds each subscriber's
// queue; a full queue drops new messages for that subscriber.
func NewMemory(queueSize int, logger *slog.Logger) *Memory {
	if queueSize < 1 {
		queueSize = DefaultOptions().QueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		subs:   make(map[string]map[*memorySub]struct{}),
		size:   queueSize,
		logger: logger,
	}
}

type memorySub struct {
	bus     *Memory
	channel string
	queue   chan []byte
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// Publish delivers payload to every current subscriber of channel without
// blocking.
func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	for sub := range m.subs[channel] {
		// Each subscriber gets its own copy.
		msg := append([]byte(nil), payload...)
		select {
		case sub.queue <- msg:
		default:
			m.logger.Warn("subscriber queue full, dropping message", "channel", channel)
		}
	}
	return nil
}

// Subscribe registers handler for channel.
func (m *Memory) Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &memorySub{
		bus:     m,
		channel: channel,
		queue:   make(chan []byte, m.size),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	if m.subs[channel] == nil {
		m.subs[channel] = make(map[*memorySub]struct{})
	}
	m.subs[channel][sub] = struct{}{}

	go sub.run(subCtx, handler)
	return sub, nil
}

func (s *memorySub) run(ctx context.Context, handler Handler) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.queue:
			handler(ctx, msg)
		}
	}
}

// Close unsubscribes. Messages still queued are discarded.
func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.bus.remove(s)
		s.cancel()
	})
	<-s.done
	return nil
}

func (m *Memory) remove(sub *memorySub) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs := m.subs[sub.channel]
	delete(subs, sub)
	if len(subs) == 0 {
		delete(m.subs, sub.channel)
	}
}

// Subscribers returns the number of subscribers on channel.
func (m *Memory) Subscribers(channel string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[channel])
}

// Ping always succeeds unless the bus is closed.
func (m *Memory) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every subscription.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var subs []*memorySub
	for _, set := range m.subs {
		for sub := range set {
			subs = append(subs, sub)
		}
	}
	m.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	return nil
}
