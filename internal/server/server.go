package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/directus-labs/extensions-sub000/internal/connection"
	"github.com/directus-labs/extensions-sub000/internal/dispatch"
	"github.com/directus-labs/extensions-sub000/internal/platform"
)

// Config holds Server settings.
type Config struct {
	Path              string   // websocket path
	AllowedOrigins    []string // empty means same origin only, "*" allows any
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	Debug             bool // expose /debug/rooms
	Connection        connection.Config
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Path:              "/ws",
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		Connection:        connection.DefaultConfig(),
	}
}

// Server serves websocket sessions and the operational endpoints.
type Server struct {
	cfg      Config
	svc      *dispatch.Service
	auth     platform.Authenticator
	upgrader websocket.Upgrader
	router   *mux.Router
	logger   *slog.Logger

	// Hijacked sockets outlive http.Server.Shutdown, so they are tracked
	// and cancelled separately.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Server.
func New(cfg Config, svc *dispatch.Service, auth platform.Authenticator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.Path == "" {
		cfg.Path = defaults.Path
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = defaults.ReadHeaderTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}

	s := &Server{
		cfg:    cfg,
		svc:    svc,
		auth:   auth,
		logger: logger,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(s.cfg.Path, s.handleWS).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.cfg.Debug {
		r.HandleFunc("/debug/rooms", s.handleRooms).Methods(http.MethodGet)
	}
	r.HandleFunc("/rooms/{room}/save", s.handleSave).Methods(http.MethodPost)
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully and closes all open sockets.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", ln.Addr().String(), "ws_path", s.cfg.Path)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown", "error", err)
	}
	s.Close()
	s.logger.Info("http server stopped")
	return nil
}

// Close disconnects every open socket and waits for their sessions to
// finish.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimSuffix(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// token extracts the access token from the query or Authorization header.
func token(r *http.Request) string {
	if t := r.URL.Query().Get("access_token"); t != "" {
		return t
	}
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, t, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(t)
		}
	}
	return ""
}
