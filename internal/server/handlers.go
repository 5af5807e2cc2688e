package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/directus-labs/extensions-sub000/internal/connection"
	"github.com/directus-labs/extensions-sub000/internal/platform"
	"github.com/directus-labs/extensions-sub000/internal/room"
	"github.com/directus-labs/extensions-sub000/internal/save"
	"github.com/directus-labs/extensions-sub000/internal/version"
)

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	acc, err := s.authenticate(r)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		s.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	client := connection.NewClient(acc, s.cfg.Connection, s.logger)
	session := s.svc.Attach(client)
	client.Logger().Info("client connected", "user", acc.User, "remote", r.RemoteAddr)

	sessionDone := make(chan struct{})
	go func() {
		defer close(sessionDone)
		session.Run(ctx)
	}()

	connection.NewPump(conn, client, s.cfg.Connection).Run(ctx)
	<-sessionDone
	client.Logger().Info("client disconnected", "user", acc.User)
}

func (s *Server) authenticate(r *http.Request) (platform.Accountability, error) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	return s.auth.Authenticate(ctx, token(r))
}

func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	if errors.Is(err, platform.ErrUnauthenticated) {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	s.logger.Warn("authentication failed", "error", err)
	writeError(w, http.StatusBadGateway, "authentication unavailable")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := struct {
		Status     string         `json:"status"`
		Version    string         `json:"version"`
		Instance   string         `json:"instance"`
		Components map[string]any `json:"components"`
	}{
		Status:     "healthy",
		Version:    version.String(),
		Components: make(map[string]any),
	}

	stats := s.svc.Stats()
	health.Instance = stats.Instance
	health.Components["connections"] = stats.Connections
	health.Components["rooms"] = len(stats.Rooms)

	status := http.StatusOK
	if err := s.svc.Ping(ctx); err != nil {
		health.Status = "unhealthy"
		health.Components["bus"] = map[string]string{
			"status": "disconnected",
			"error":  err.Error(),
		}
		status = http.StatusServiceUnavailable
	} else {
		health.Components["bus"] = "connected"
	}

	writeJSON(w, status, health)
}

func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Stats())
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	acc, err := s.authenticate(r)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	if !acc.Admin {
		writeError(w, http.StatusForbidden, "admin access required")
		return
	}

	name := mux.Vars(r)["room"]
	if _, _, err := room.ParseName(name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = s.svc.Commit(r.Context(), name)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"room": name, "status": "pending"})
	case errors.Is(err, save.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, "room has no members on this instance")
	case errors.Is(err, save.ErrSavePending):
		writeError(w, http.StatusConflict, "save already pending")
	default:
		s.logger.Warn("save request failed", "room", name, "error", err)
		writeError(w, http.StatusInternalServerError, "save request failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
