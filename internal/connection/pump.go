package connection

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/directus-labs/extensions-sub000/internal/protocol"
)

// Pump moves frames between a websocket and a Client.
type Pump struct {
	conn   *websocket.Conn
	client *Client
	cfg    Config

	// Write serialization between the write loop and heartbeat pings.
	writeMu sync.Mutex
	done    chan struct{}
}

// NewPump creates a pump for an upgraded socket.
func NewPump(conn *websocket.Conn, client *Client, cfg Config) *Pump {
	defaults := DefaultConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaults.PongTimeout
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongTimeout {
		cfg.PingInterval = cfg.PongTimeout * 9 / 10
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}
	return &Pump{
		conn:   conn,
		client: client,
		cfg:    cfg,
		done:   make(chan struct{}),
	}
}

// Run pumps until the socket fails, the peer closes or ctx is cancelled.
// On return the client's inbound channel is closed and its queue drained
// to the socket as far as possible.
func (p *Pump) Run(ctx context.Context) {
	logger := p.client.Logger()

	p.conn.SetReadLimit(p.cfg.MaxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(p.cfg.PongTimeout))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(p.cfg.PongTimeout))
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.writeLoop()
	}()
	go func() {
		defer wg.Done()
		p.heartbeatLoop()
	}()

	// Unblock ReadMessage on cancellation.
	stop := context.AfterFunc(ctx, func() {
		p.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	p.readLoop()

	close(p.done)
	p.client.CloseInbound()
	p.client.Close()
	wg.Wait()

	p.writeControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err := p.conn.Close(); err != nil {
		logger.Debug("close socket", "error", err)
	}
	logger.Debug("pump stopped")
}

// readLoop decodes frames until the socket fails.
func (p *Pump) readLoop() {
	logger := p.client.Logger()

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logger.Warn("websocket read failed", "error", err)
			} else {
				logger.Debug("websocket closed", "error", err)
			}
			return
		}

		msg, err := protocol.DecodeClient(data)
		if err != nil {
			// No reply; the connection stays open.
			logger.Warn("discarding malformed frame", "error", err)
			continue
		}
		if !msg.IsCollab() && !msg.IsPing() {
			// Host platform traffic sharing the socket.
			continue
		}
		if !p.client.Deliver(msg, p.done) {
			return
		}
	}
}

// writeLoop writes queued frames until the queue is closed and drained.
// A failed write is logged and the frame dropped.
func (p *Pump) writeLoop() {
	logger := p.client.Logger()
	queue := p.client.Outbound()

	for {
		msg, ok := queue.Pop()
		if !ok {
			return
		}
		data, err := json.Marshal(msg)
		if err != nil {
			logger.Error("encode outbound frame", "action", msg.Action, "error", err)
			continue
		}
		if err := p.write(data); err != nil {
			logger.Debug("websocket write failed", "action", msg.Action, "error", err)
		}
	}
}

func (p *Pump) write(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func (p *Pump) writeControl(messageType int, data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteControl(messageType, data, time.Now().Add(p.cfg.WriteTimeout))
}

// heartbeatLoop pings the browser so dead peers are noticed by the read
// deadline.
func (p *Pump) heartbeatLoop() {
	ticker := time.NewTicker(p.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			if err := p.writeControl(websocket.PingMessage, []byte("keepalive")); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				p.client.Logger().Debug("failed to send ping", "error", err)
			}
		}
	}
}
