package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/directus-labs/extensions-sub000/internal/bus"
	"github.com/directus-labs/extensions-sub000/internal/dispatch"
	"github.com/directus-labs/extensions-sub000/internal/platform"
	"github.com/directus-labs/extensions-sub000/internal/protocol"
)

const testRoom = "articles:42"

// tokenAuth maps access tokens to accountabilities.
type tokenAuth map[string]platform.Accountability

func (a tokenAuth) Authenticate(_ context.Context, token string) (platform.Accountability, error) {
	acc, ok := a[token]
	if !ok {
		return platform.Accountability{}, platform.ErrUnauthenticated
	}
	return acc, nil
}

var testTokens = tokenAuth{
	"alice-token": {User: "alice"},
	"bob-token":   {User: "bob"},
	"admin-token": {User: "admin", Admin: true},
}

type testEnv struct {
	bus    *bus.Memory
	svc    *dispatch.Service
	server *Server
	http   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	b := bus.NewMemory(256, nil)

	cfg := dispatch.DefaultConfig()
	cfg.Instance = "inst-1"
	cfg.Save.AckTimeout = time.Minute
	oracle := platform.OracleFunc(func(context.Context, platform.Accountability, string, string, []string) (bool, error) {
		return true, nil
	})
	svc := dispatch.NewService(cfg, b, oracle, platform.NewSchema(platform.SchemaSnapshot{}), nil, nil)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	srvCfg := DefaultConfig()
	srvCfg.Debug = true
	srv := New(srvCfg, svc, testTokens, nil)
	ts := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		srv.Close()
		ts.Close()
		svc.Stop()
		b.Close()
	})
	return &testEnv{bus: b, svc: svc, server: srv, http: ts}
}

func (e *testEnv) wsURL(query string) string {
	u := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	return u
}

func (e *testEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL("access_token="+token), nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, msg protocol.ClientMessage) {
	t.Helper()
	msg.Type = protocol.TypeCollab
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
}

// readAction reads frames until one with the given action arrives.
func readAction(t *testing.T, conn *websocket.Conn, action string) protocol.ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: ReadMessage() error = %v", action, err)
		}
		var msg protocol.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if msg.Action == action {
			return msg
		}
	}
}

func joinRoom(t *testing.T, conn *websocket.Conn, uid string) protocol.ServerMessage {
	t.Helper()
	sendFrame(t, conn, protocol.ClientMessage{Action: protocol.ActionIdentify, UID: uid})
	sendFrame(t, conn, protocol.ClientMessage{Action: protocol.ActionJoin, Room: testRoom})
	return readAction(t, conn, protocol.ActionSync)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestServer_WebsocketRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		query string
	}{
		{"missing token", ""},
		{"unknown token", "access_token=nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(env.wsURL(tt.query), nil)
			if err == nil {
				t.Fatal("Dial() expected handshake failure")
			}
			if resp == nil || resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("handshake response = %v, want 401", resp)
			}
		})
	}
}

func TestServer_WebsocketSession(t *testing.T) {
	env := newTestEnv(t)

	alice := env.dial(t, "alice-token")
	frame := joinRoom(t, alice, "tab-a")
	if frame.Room != testRoom {
		t.Errorf("sync room = %q, want %q", frame.Room, testRoom)
	}

	header := http.Header{"Authorization": {"Bearer bob-token"}}
	bob, _, err := websocket.DefaultDialer.Dial(env.wsURL(""), header)
	if err != nil {
		t.Fatalf("Dial(bearer) error = %v", err)
	}
	frame = joinRoom(t, bob, "tab-b")
	if len(frame.Users) != 1 || frame.Users[0].User != "alice" {
		t.Errorf("sync users = %+v, want alice", frame.Users)
	}

	added := readAction(t, alice, protocol.ActionAwarenessUser)
	if added.Event != protocol.EventAdd || added.User == nil || added.User.UID != "tab-b" {
		t.Errorf("awareness = %+v, want add tab-b", added)
	}

	bob.Close()

	removed := readAction(t, alice, protocol.ActionAwarenessUser)
	if removed.Event != protocol.EventRemove || removed.User == nil || removed.User.UID != "tab-b" {
		t.Errorf("awareness = %+v, want remove tab-b", removed)
	}
	waitFor(t, "bob unregistered", func() bool { return env.svc.Stats().Connections == 1 })
}

func TestServer_PingPong(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "alice-token")

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	if !strings.Contains(string(data), `"pong"`) {
		t.Errorf("reply = %s, want pong", data)
	}
}

func TestServer_Close(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "alice-token")
	joinRoom(t, conn, "tab-a")

	env.server.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	if got := env.svc.Stats().Connections; got != 0 {
		t.Errorf("Connections = %d after Close, want 0", got)
	}
	if got := env.svc.Rooms().Len(); got != 0 {
		t.Errorf("Rooms = %d after Close, want 0", got)
	}
}

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.http.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	var body struct {
		Status     string         `json:"status"`
		Instance   string         `json:"instance"`
		Components map[string]any `json:"components"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK || body.Status != "healthy" {
		t.Errorf("health = %d %q, want 200 healthy", resp.StatusCode, body.Status)
	}
	if body.Instance != "inst-1" {
		t.Errorf("instance = %q, want inst-1", body.Instance)
	}

	env.bus.Close()

	resp, err = http.Get(env.http.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("health after bus close = %d, want 503", resp.StatusCode)
	}
}

func TestServer_DebugRooms(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "alice-token")
	joinRoom(t, conn, "tab-a")

	resp, err := http.Get(env.http.URL + "/debug/rooms")
	if err != nil {
		t.Fatalf("GET /debug/rooms error = %v", err)
	}
	defer resp.Body.Close()

	var stats dispatch.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Connections != 1 {
		t.Errorf("Connections = %d, want 1", stats.Connections)
	}
	if len(stats.Rooms) != 1 || stats.Rooms[0].Name != testRoom || stats.Rooms[0].Members != 1 {
		t.Errorf("Rooms = %+v, want %s with one member", stats.Rooms, testRoom)
	}
}

func TestServer_DebugDisabled(t *testing.T) {
	srv := New(DefaultConfig(), nil, testTokens, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/debug/rooms")
	if err != nil {
		t.Fatalf("GET /debug/rooms error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestServer_Save(t *testing.T) {
	env := newTestEnv(t)

	post := func(path, token string) int {
		t.Helper()
		req, _ := http.NewRequest(http.MethodPost, env.http.URL+path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("POST %s error = %v", path, err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	path := "/rooms/" + testRoom + "/save"

	if got := post(path, ""); got != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", got)
	}
	if got := post(path, "alice-token"); got != http.StatusForbidden {
		t.Errorf("non-admin = %d, want 403", got)
	}
	if got := post("/rooms/nocolon/save", "admin-token"); got != http.StatusBadRequest {
		t.Errorf("bad room = %d, want 400", got)
	}
	if got := post(path, "admin-token"); got != http.StatusNotFound {
		t.Errorf("empty room = %d, want 404", got)
	}

	conn := env.dial(t, "alice-token")
	joinRoom(t, conn, "tab-a")

	if got := post(path, "admin-token"); got != http.StatusAccepted {
		t.Errorf("save = %d, want 202", got)
	}
	readAction(t, conn, protocol.ActionSaveConfirm)

	if got := post(path, "admin-token"); got != http.StatusConflict {
		t.Errorf("second save = %d, want 409", got)
	}

	sendFrame(t, conn, protocol.ClientMessage{Action: protocol.ActionSaveConfirmed, Room: testRoom})
	readAction(t, conn, protocol.ActionSaveCommitted)
}

func TestToken(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header string
		want   string
	}{
		{"query", "/ws?access_token=abc", "", "abc"},
		{"bearer", "/ws", "Bearer abc", "abc"},
		{"bearer lowercase", "/ws", "bearer abc", "abc"},
		{"query wins", "/ws?access_token=q", "Bearer h", "q"},
		{"basic ignored", "/ws", "Basic abc", ""},
		{"none", "/ws", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if got := token(r); got != tt.want {
				t.Errorf("token() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOriginChecker(t *testing.T) {
	if originChecker(nil) != nil {
		t.Error("originChecker(nil) should defer to same-origin check")
	}

	check := originChecker([]string{"https://cms.example.com/"})
	tests := []struct {
		origin string
		want   bool
	}{
		{"https://cms.example.com", true},
		{"https://evil.example.com", false},
		{"", true},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := check(r); got != tt.want {
			t.Errorf("check(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}

	wildcard := originChecker([]string{"*"})
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://anywhere.example")
	if !wildcard(r) {
		t.Error("wildcard origin rejected")
	}
}
