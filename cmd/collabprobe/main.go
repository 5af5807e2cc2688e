// collabprobe joins a collaboration room and prints every frame it receives.
// Usage: go run ./cmd/collabprobe --url ws://localhost:8055/ws --token alice --room articles:1
//
// With --set field=value it writes a value once the room has synced, with
// --activate field it claims a field, and with --save it starts a save
// handshake and confirms it.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"

	"github.com/directus-labs/extensions-sub000/internal/crdt"
	"github.com/directus-labs/extensions-sub000/internal/protocol"
	"github.com/directus-labs/extensions-sub000/internal/room"
	"github.com/directus-labs/extensions-sub000/internal/version"
)

type options struct {
	url      string
	token    string
	room     string
	uid      string
	color    string
	activate string
	set      []string
	save     bool
	verbose  bool
}

func main() {
	var opts options
	flags := pflag.NewFlagSet("collabprobe", pflag.ExitOnError)
	flags.StringVar(&opts.url, "url", "ws://localhost:8055/ws", "collabd websocket url")
	flags.StringVarP(&opts.token, "token", "t", os.Getenv("COLLAB_TOKEN"), "access token")
	flags.StringVarP(&opts.room, "room", "r", "", "room to join (<collection>:<primaryKey>)")
	flags.StringVar(&opts.uid, "uid", uuid.NewString(), "tab identity")
	flags.StringVar(&opts.color, "color", "#3399ff", "presence color")
	flags.StringVar(&opts.activate, "activate", "", "field to claim after joining")
	flags.StringArrayVar(&opts.set, "set", nil, "field=value to write after sync (repeatable)")
	flags.BoolVar(&opts.save, "save", false, "start a save handshake after sync")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "print raw frames")
	showVersion := flags.Bool("version", false, "print version and exit")
	flags.Parse(os.Args[1:])

	if *showVersion {
		fmt.Println("collabprobe", version.String())
		return
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	if _, _, err := room.ParseName(opts.room); err != nil {
		logger.Error("invalid --room", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, logger); err != nil {
		logger.Error("probe failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, logger *slog.Logger) error {
	header := http.Header{}
	if opts.token != "" {
		header.Set("Authorization", "Bearer "+opts.token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, opts.url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", redact(opts.url), err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", redact(opts.url), err)
	}
	defer conn.Close()
	logger.Info("connected", "url", redact(opts.url), "uid", opts.uid)

	stopClose := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	})
	defer stopClose()

	p := &probe{conn: conn, opts: opts, logger: logger, doc: crdt.NewDocument(opts.uid)}

	if err := p.send(protocol.ClientMessage{Action: protocol.ActionIdentify, UID: opts.uid, Color: opts.color}); err != nil {
		return err
	}
	if err := p.send(protocol.ClientMessage{Action: protocol.ActionJoin, Room: opts.room}); err != nil {
		return err
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if opts.verbose {
			fmt.Printf("<< %s\n", data)
		}
		var msg protocol.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn("undecodable frame", "error", err)
			continue
		}
		if err := p.handle(msg); err != nil {
			return err
		}
	}
}

type probe struct {
	conn   *websocket.Conn
	opts   options
	logger *slog.Logger
	doc    *crdt.Document
}

func (p *probe) send(msg protocol.ClientMessage) error {
	msg.Type = protocol.TypeCollab
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if p.opts.verbose {
		fmt.Printf(">> %s\n", data)
	}
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

func (p *probe) handle(msg protocol.ServerMessage) error {
	switch msg.Action {
	case protocol.ActionSync:
		if len(msg.State) > 0 {
			if _, err := p.doc.Apply(msg.State); err != nil {
				p.logger.Warn("bad sync state", "error", err)
			}
		}
		fmt.Printf("sync %s: %d fields, %d users, %d active fields\n", msg.Room, p.doc.Len(), len(msg.Users), len(msg.Fields))
		p.printDoc()
		for _, u := range msg.Users {
			fmt.Printf("  user %s (%s)\n", u.User, u.UID)
		}
		for _, f := range msg.Fields {
			fmt.Printf("  %s is editing %s\n", f.User, f.Field)
		}
		return p.afterSync()

	case protocol.ActionUpdate:
		fields, err := p.doc.Apply(msg.Update)
		if err != nil {
			p.logger.Warn("bad update", "error", err)
			return nil
		}
		for _, f := range fields {
			v, _ := p.doc.Get(f)
			fmt.Printf("update %s = %v\n", f, v)
		}

	case protocol.ActionAwarenessUser:
		if msg.User != nil {
			fmt.Printf("user %s %s (%s)\n", msg.Event, msg.User.User, msg.User.UID)
		}

	case protocol.ActionAwarenessField:
		if msg.ActiveField != nil {
			fmt.Printf("field %s %s by %s\n", msg.Event, msg.ActiveField.Field, msg.ActiveField.User)
		}

	case protocol.ActionSaveConfirm:
		fmt.Printf("save requested by %q, confirming\n", msg.Initiator)
		return p.send(protocol.ClientMessage{Action: protocol.ActionSaveConfirmed, Room: msg.Room})

	case protocol.ActionSaveCommitted:
		fmt.Printf("save committed at %s\n", time.UnixMilli(msg.SavedAt).Format(time.RFC3339))

	case "":
		if msg.Type == protocol.TypePong {
			fmt.Println("pong")
		}
	}
	return nil
}

func (p *probe) afterSync() error {
	if p.opts.activate != "" {
		collection, pk, _ := room.ParseName(p.opts.room)
		err := p.send(protocol.ClientMessage{
			Action:     protocol.ActionActivate,
			Collection: collection,
			Field:      p.opts.activate,
			PrimaryKey: pk,
		})
		if err != nil {
			return err
		}
	}

	for _, kv := range p.opts.set {
		field, raw, ok := strings.Cut(kv, "=")
		if !ok || field == "" {
			p.logger.Warn("ignoring --set, want field=value", "arg", kv)
			continue
		}
		update, err := p.doc.Set(field, parseValue(raw))
		if err != nil {
			return fmt.Errorf("set %s: %w", field, err)
		}
		if err := p.send(protocol.ClientMessage{Action: protocol.ActionUpdate, Room: p.opts.room, Update: update}); err != nil {
			return err
		}
	}

	if p.opts.save {
		return p.send(protocol.ClientMessage{Action: protocol.ActionSaveCommit, Room: p.opts.room})
	}
	return nil
}

func (p *probe) printDoc() {
	for _, f := range p.doc.Fields() {
		v, _ := p.doc.Get(f)
		fmt.Printf("  %s = %v\n", f, v)
	}
}

// parseValue reads JSON when it can and falls back to the raw string.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

// redact hides the access_token query parameter.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("access_token") {
		q.Set("access_token", "redacted")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
