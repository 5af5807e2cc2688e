package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/directus-labs/extensions-sub000/internal/room"
)

// Notification channels.
const (
	ChannelSaveRequested = "collab_save_requested"
	ChannelSaveCommitted = "collab_save_committed"
)

// Execer runs a statement. *pgxpool.Pool and *pgx.Conn satisfy it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// NotificationConn is a dedicated connection able to wait for
// notifications. *pgx.Conn satisfies it.
type NotificationConn interface {
	Execer
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// DialFunc opens a NotificationConn.
type DialFunc func(ctx context.Context) (NotificationConn, error)

// DialPostgres returns a DialFunc that opens a standalone pgx connection.
// LISTEN state is per session, so the listener never uses a pooled conn.
func DialPostgres(connString string) DialFunc {
	return func(ctx context.Context) (NotificationConn, error) {
		conn, err := pgx.Connect(ctx, connString)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Requester starts a save handshake for a room.
type Requester interface {
	Commit(ctx context.Context, room string) error
}

// Bridge is a save.Committer that notifies the database when a handshake
// completes.
type Bridge struct {
	db     Execer
	logger *slog.Logger
}

// NewBridge creates a Bridge.
func NewBridge(db Execer, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{db: db, logger: logger}
}

// Committed issues pg_notify on the committed channel with the room name
// as payload.
func (b *Bridge) Committed(ctx context.Context, roomName string, savedAt time.Time) error {
	if _, err := b.db.Exec(ctx, "SELECT pg_notify($1, $2)", ChannelSaveCommitted, roomName); err != nil {
		return fmt.Errorf("notify %s: %w", ChannelSaveCommitted, err)
	}
	b.logger.Debug("save committed notified", "room", roomName, "saved_at", savedAt.UnixMilli())
	return nil
}

// LogCommitter is a save.Committer that only logs.
type LogCommitter struct {
	Logger *slog.Logger
}

// Committed logs the committed save.
func (l LogCommitter) Committed(ctx context.Context, roomName string, savedAt time.Time) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("save committed", "room", roomName, "saved_at", savedAt.UnixMilli())
	return nil
}

// ListenerConfig holds Listener settings.
type ListenerConfig struct {
	Channel      string
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
}

// DefaultListenerConfig returns production defaults.
func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		Channel:      ChannelSaveRequested,
		RetryBackoff: 500 * time.Millisecond,
		MaxBackoff:   30 * time.Second,
	}
}

// Listener turns save-request notifications into save handshakes.
type Listener struct {
	cfg       ListenerConfig
	dial      DialFunc
	requester Requester
	logger    *slog.Logger
}

// NewListener creates a Listener.
func NewListener(cfg ListenerConfig, dial DialFunc, requester Requester, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Channel == "" {
		cfg.Channel = ChannelSaveRequested
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.RetryBackoff {
		cfg.MaxBackoff = cfg.RetryBackoff
	}
	return &Listener{
		cfg:       cfg,
		dial:      dial,
		requester: requester,
		logger:    logger.With("channel", cfg.Channel),
	}
}

// Run listens until ctx is cancelled, reconnecting with exponential
// backoff when the connection fails. It returns nil on cancellation.
func (l *Listener) Run(ctx context.Context) error {
	backoff := l.cfg.RetryBackoff
	for {
		listening, err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if listening {
			backoff = l.cfg.RetryBackoff
		}
		l.logger.Warn("listener disconnected", "error", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, l.cfg.MaxBackoff)
	}
}

// listen runs one connection. It reports whether LISTEN succeeded.
func (l *Listener) listen(ctx context.Context) (bool, error) {
	conn, err := l.dial(ctx)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.cfg.Channel}.Sanitize()); err != nil {
		return false, fmt.Errorf("listen: %w", err)
	}
	l.logger.Info("listening for save requests")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return true, err
		}
		l.handle(ctx, n.Payload)
	}
}

func (l *Listener) handle(ctx context.Context, payload string) {
	if _, _, err := room.ParseName(payload); err != nil {
		l.logger.Warn("ignoring save request", "payload", payload, "error", err)
		return
	}
	err := l.requester.Commit(ctx, payload)
	switch {
	case err == nil:
		l.logger.Debug("save requested", "room", payload)
	case errors.Is(err, context.Canceled):
	default:
		l.logger.Debug("save request not started", "room", payload, "error", err)
	}
}
