package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/directus-labs/extensions-sub000/internal/bus"
	"github.com/directus-labs/extensions-sub000/internal/connection"
	"github.com/directus-labs/extensions-sub000/internal/platform"
	"github.com/directus-labs/extensions-sub000/internal/protocol"
	"github.com/directus-labs/extensions-sub000/internal/room"
	"github.com/directus-labs/extensions-sub000/internal/sanitize"
	"github.com/directus-labs/extensions-sub000/internal/save"
)

// Config holds Service configuration.
type Config struct {
	Instance string // unique per process, used as broadcast origin
	Channel  string // bus channel shared by all instances
	Save     save.Config
}

// DefaultConfig returns sensible defaults. Instance must still be set.
func DefaultConfig() Config {
	return Config{
		Channel: "collab",
		Save:    save.DefaultConfig(),
	}
}

// Stats is a point-in-time summary of the service.
type Stats struct {
	Instance     string      `json:"instance"`
	Connections  int         `json:"connections"`
	Rooms        []room.Info `json:"rooms"`
	PendingSaves int         `json:"pending_saves"`
}

// Service owns the collaboration state of one instance.
type Service struct {
	cfg       Config
	bus       bus.Bus
	sanitizer *sanitize.Sanitizer
	conns     *connection.Registry
	rooms     *room.Registry
	saves     *save.Coordinator
	logger    *slog.Logger

	mu  sync.Mutex
	sub bus.Subscription
}

// NewService wires a Service. committer may be nil.
func NewService(cfg Config, b bus.Bus, oracle platform.Oracle, catalog platform.Catalog, committer save.Committer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultConfig().Channel
	}

	s := &Service{
		cfg:       cfg,
		bus:       b,
		sanitizer: sanitize.New(oracle, catalog, logger.With("component", "sanitizer")),
		conns:     connection.NewRegistry(),
		rooms:     room.NewRegistry(cfg.Instance),
		logger:    logger.With("instance", cfg.Instance),
	}
	s.saves = save.New(cfg.Save, s.rooms, s, committer, logger.With("component", "save"))
	return s
}

// Start subscribes to the bus channel.
func (s *Service) Start(ctx context.Context) error {
	sub, err := s.bus.Subscribe(ctx, s.cfg.Channel, s.deliver)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.cfg.Channel, err)
	}

	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()

	s.logger.Info("dispatcher started", "channel", s.cfg.Channel)
	return nil
}

// Stop unsubscribes and abandons pending save timeouts.
func (s *Service) Stop() {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	if sub != nil {
		if err := sub.Close(); err != nil {
			s.logger.Warn("close bus subscription", "error", err)
		}
	}
	s.saves.Stop()
	s.logger.Info("dispatcher stopped")
}

// Publish implements save.Publisher. Failures are logged and returned; the
// bus being down never takes the instance down.
func (s *Service) Publish(ctx context.Context, typ, roomName, sender string, data any) error {
	b, err := protocol.NewBroadcast(typ, roomName, s.cfg.Instance, sender, data)
	if err != nil {
		return err
	}
	payload, err := b.Marshal()
	if err != nil {
		return fmt.Errorf("encode broadcast: %w", err)
	}
	if err := s.bus.Publish(ctx, s.cfg.Channel, payload); err != nil {
		s.logger.Warn("publish failed", "type", typ, "room", roomName, "error", err)
		return err
	}
	return nil
}

// Commit starts a save handshake requested from outside any socket, such
// as the persistence layer.
func (s *Service) Commit(ctx context.Context, roomName string) error {
	err := s.saves.Commit(ctx, roomName, "")
	if errors.Is(err, save.ErrRoomNotFound) {
		s.logger.Debug("save requested for a room with no local members", "room", roomName)
	}
	return err
}

// Stats summarizes the instance.
func (s *Service) Stats() Stats {
	return Stats{
		Instance:     s.cfg.Instance,
		Connections:  s.conns.Len(),
		Rooms:        s.rooms.Infos(),
		PendingSaves: s.saves.Pending(),
	}
}

// Connections returns the connection registry.
func (s *Service) Connections() *connection.Registry {
	return s.conns
}

// Rooms returns the room registry.
func (s *Service) Rooms() *room.Registry {
	return s.rooms
}

// Ping checks the bus.
func (s *Service) Ping(ctx context.Context) error {
	return s.bus.Ping(ctx)
}

// recipients returns the local clients of r other than exclude.
func (s *Service) recipients(r *room.Room, exclude string) []*connection.Client {
	members := r.Members()
	out := make([]*connection.Client, 0, len(members))
	for _, uid := range members {
		if uid == exclude {
			continue
		}
		if c, ok := s.conns.LookupUID(uid); ok {
			out = append(out, c)
		}
	}
	return out
}
