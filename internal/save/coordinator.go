package save

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/directus-labs/extensions-sub000/internal/protocol"
	"github.com/directus-labs/extensions-sub000/internal/room"
)

// Errors
var (
	ErrRoomNotFound = errors.New("room not found")
	ErrSavePending  = errors.New("save already pending")
)

// Publisher sends broadcasts to every instance.
type Publisher interface {
	Publish(ctx context.Context, typ, room, sender string, data any) error
}

// Committer is told when persistence may proceed.
type Committer interface {
	Committed(ctx context.Context, room string, savedAt time.Time) error
}

// CommitterFunc is a function adapter for Committer.
type CommitterFunc func(ctx context.Context, room string, savedAt time.Time) error

func (f CommitterFunc) Committed(ctx context.Context, room string, savedAt time.Time) error {
	return f(ctx, room, savedAt)
}

// Config holds Save Coordinator configuration.
type Config struct {
	AckTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		AckTimeout: 10 * time.Second,
	}
}

type pendingSave struct {
	timer *time.Timer
}

// Coordinator runs save handshakes for the rooms of one instance.
type Coordinator struct {
	cfg       Config
	rooms     *room.Registry
	pub       Publisher
	committer Committer
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	pending map[string]*pendingSave
}

// New creates a Coordinator. committer may be nil.
func New(cfg Config, rooms *room.Registry, pub Publisher, committer Committer, logger *slog.Logger) *Coordinator {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultConfig().AckTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:       cfg,
		rooms:     rooms,
		pub:       pub,
		committer: committer,
		logger:    logger,
		now:       time.Now,
		pending:   make(map[string]*pendingSave),
	}
}

// Commit starts a handshake in roomName on behalf of initiator, which may
// be empty when persistence asked for the save. It returns ErrSavePending
// if a handshake is already running.
func (c *Coordinator) Commit(ctx context.Context, roomName, initiator string) error {
	r, ok := c.rooms.Get(roomName)
	if !ok {
		return ErrRoomNotFound
	}

	savedAt := c.now()
	pending, started := r.BeginSave(initiator, savedAt)
	if !started {
		c.logger.Debug("save already pending, ignoring commit", "room", roomName, "initiator", initiator)
		return ErrSavePending
	}

	if len(pending) > 0 {
		// Arm the timeout before anyone can confirm.
		c.arm(ctx, r, savedAt)
	}

	if err := c.pub.Publish(ctx, protocol.BroadcastSaveConfirm, roomName, initiator, protocol.SaveConfirmData{
		SavedAt:   savedAt.UnixMilli(),
		Initiator: initiator,
	}); err != nil {
		c.logger.Warn("publish save:confirm failed", "room", roomName, "error", err)
	}

	c.logger.Info("save started", "room", roomName, "initiator", initiator, "pending", len(pending))

	if len(pending) == 0 {
		c.complete(ctx, roomName, savedAt, false)
	}
	return nil
}

// Confirmed records uid's acknowledgement and tells the other instances.
func (c *Coordinator) Confirmed(ctx context.Context, roomName, uid string) {
	if err := c.pub.Publish(ctx, protocol.BroadcastSaveConfirmed, roomName, uid, protocol.SaveConfirmedData{UID: uid}); err != nil {
		c.logger.Warn("publish save:confirmed failed", "room", roomName, "error", err)
	}
	c.Ack(ctx, roomName, uid)
}

// Dropped treats a member that left or disconnected as having confirmed.
func (c *Coordinator) Dropped(ctx context.Context, roomName, uid string) {
	c.Ack(ctx, roomName, uid)
}

// Ack removes uid from the pending set and completes the handshake when it
// empties. It reports whether this call completed it.
func (c *Coordinator) Ack(ctx context.Context, roomName, uid string) bool {
	r, ok := c.rooms.Get(roomName)
	if !ok {
		return false
	}
	savedAt, done := r.AckSave(uid)
	if !done {
		return false
	}
	c.disarm(roomName)
	c.complete(ctx, roomName, savedAt, false)
	return true
}

// arm starts the acknowledgement timeout for r.
func (c *Coordinator) arm(ctx context.Context, r *room.Room, savedAt time.Time) {
	name := r.Name
	background := context.WithoutCancel(ctx)
	p := &pendingSave{}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.pending[name]; ok {
		old.timer.Stop()
	}
	c.pending[name] = p
	p.timer = time.AfterFunc(c.cfg.AckTimeout, func() {
		if !c.forget(name, p) {
			// Completed, or superseded by a newer handshake.
			return
		}
		if !r.CancelSave() {
			return
		}
		c.logger.Warn("save acknowledgement timed out, forcing commit",
			"room", name,
			"timeout", c.cfg.AckTimeout,
		)
		c.complete(background, name, savedAt, true)
	})
}

// forget removes p if it is still the pending save of roomName.
func (c *Coordinator) forget(roomName string, p *pendingSave) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending[roomName] != p {
		return false
	}
	delete(c.pending, roomName)
	return true
}

// disarm stops the timeout for roomName. The timer may already have fired.
func (c *Coordinator) disarm(roomName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pending[roomName]; ok {
		p.timer.Stop()
		delete(c.pending, roomName)
	}
}

func (c *Coordinator) complete(ctx context.Context, roomName string, savedAt time.Time, forced bool) {
	if err := c.pub.Publish(ctx, protocol.BroadcastSaveCommitted, roomName, "", protocol.SaveCommittedData{
		SavedAt: savedAt.UnixMilli(),
		Forced:  forced,
	}); err != nil {
		c.logger.Warn("publish save:committed failed", "room", roomName, "error", err)
	}

	c.logger.Info("save committed", "room", roomName, "forced", forced)

	if c.committer == nil {
		return
	}
	if err := c.committer.Committed(ctx, roomName, savedAt); err != nil {
		c.logger.Error("committer failed", "room", roomName, "error", err)
	}
}

// Pending returns the number of handshakes waiting for acknowledgements.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Stop cancels every timeout. Handshakes in progress are abandoned.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, p := range c.pending {
		p.timer.Stop()
		delete(c.pending, name)
	}
}
