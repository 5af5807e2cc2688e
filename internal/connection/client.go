package connection

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/directus-labs/extensions-sub000/internal/platform"
	"github.com/directus-labs/extensions-sub000/internal/protocol"
)

// Client is the server-side state of one browser connection.
type Client struct {
	// ID is assigned by the server and never changes.
	ID string

	acc    platform.Accountability
	logger *slog.Logger

	mu     sync.RWMutex
	uid    string
	color  string
	rooms  map[string]struct{}
	closed bool

	outbound *Queue[protocol.ServerMessage]
	inbound  chan protocol.ClientMessage
	once     sync.Once
}

// NewClient creates a client for an authenticated socket. Until the browser
// identifies itself the UID equals the ID.
func NewClient(acc platform.Accountability, cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.InboundBuffer < 1 {
		cfg.InboundBuffer = DefaultConfig().InboundBuffer
	}
	id := uuid.NewString()
	return &Client{
		ID:       id,
		uid:      id,
		acc:      acc,
		logger:   logger.With("conn_id", id),
		rooms:    make(map[string]struct{}),
		outbound: NewQueue[protocol.ServerMessage](cfg.QueueCapacity),
		inbound:  make(chan protocol.ClientMessage, cfg.InboundBuffer),
	}
}

// Accountability returns the identity the socket authenticated as.
func (c *Client) Accountability() platform.Accountability {
	return c.acc
}

// Logger returns the client's logger.
func (c *Client) Logger() *slog.Logger {
	return c.logger
}

// UID returns the per-tab instance id.
func (c *Client) UID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.uid
}

// Color returns the display color.
func (c *Client) Color() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.color
}

func (c *Client) setIdentity(uid, color string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uid = uid
	c.color = color
}

// JoinRoom records membership of name. It reports false if already a
// member.
func (c *Client) JoinRoom(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[name]; ok {
		return false
	}
	c.rooms[name] = struct{}{}
	return true
}

// LeaveRoom drops membership of name. It reports false if not a member.
func (c *Client) LeaveRoom(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[name]; !ok {
		return false
	}
	delete(c.rooms, name)
	return true
}

// InRoom reports whether the client joined name.
func (c *Client) InRoom(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[name]
	return ok
}

// Rooms returns the joined room names, sorted.
func (c *Client) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.rooms))
	for name := range c.rooms {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Send queues msg for the socket. It never blocks and reports false once
// the client is closed.
func (c *Client) Send(msg protocol.ServerMessage) bool {
	return c.outbound.Push(msg)
}

// Outbound returns the queue the Pump writes from.
func (c *Client) Outbound() *Queue[protocol.ServerMessage] {
	return c.outbound
}

// Inbound returns decoded frames from the browser. It is closed when the
// socket's read side ends.
func (c *Client) Inbound() <-chan protocol.ClientMessage {
	return c.inbound
}

// Deliver hands a decoded frame to the session. It blocks while the
// session is behind and reports false once the client is closed.
func (c *Client) Deliver(msg protocol.ClientMessage, done <-chan struct{}) bool {
	select {
	case c.inbound <- msg:
		return true
	case <-done:
		return false
	}
}

// CloseInbound signals the session that no more frames will arrive.
func (c *Client) CloseInbound() {
	c.once.Do(func() { close(c.inbound) })
}

// Close stops outbound delivery. Queued frames are still written.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.outbound.Close()
}

// Closed reports whether Close was called.
func (c *Client) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
