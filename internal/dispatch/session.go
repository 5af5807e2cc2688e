package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/directus-labs/extensions-sub000/internal/connection"
	"github.com/directus-labs/extensions-sub000/internal/crdt"
	"github.com/directus-labs/extensions-sub000/internal/protocol"
	"github.com/directus-labs/extensions-sub000/internal/room"
	"github.com/directus-labs/extensions-sub000/internal/save"
)

// ErrNotInRoom is returned when a client acts on a room it has not joined.
var ErrNotInRoom = errors.New("not a member of room")

// State is a session's protocol state.
type State int

const (
	StateUnidentified State = iota
	StateIdentified
	StateClosed
)

func (st State) String() string {
	switch st {
	case StateUnidentified:
		return "unidentified"
	case StateIdentified:
		return "identified"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(st))
	}
}

// Session is the protocol state machine of one connection.
type Session struct {
	svc    *Service
	client *connection.Client
	logger *slog.Logger

	mu    sync.Mutex
	state State
}

// Attach registers client and returns its session.
func (s *Service) Attach(client *connection.Client) *Session {
	s.conns.Register(client)
	return &Session{
		svc:    s,
		client: client,
		logger: client.Logger(),
		state:  StateUnidentified,
	}
}

// State returns the session's current state.
func (ss *Session) State() State {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.state
}

func (ss *Session) setState(st State) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.state = st
}

// Run handles the client's frames until its inbound channel closes, then
// closes the session.
func (ss *Session) Run(ctx context.Context) {
	for msg := range ss.client.Inbound() {
		ss.Handle(ctx, msg)
	}
	ss.Close(context.WithoutCancel(ctx))
}

// Handle processes one frame.
func (ss *Session) Handle(ctx context.Context, msg protocol.ClientMessage) {
	if msg.IsPing() {
		ss.client.Send(protocol.Pong())
		return
	}
	if !msg.IsCollab() {
		return
	}

	switch ss.State() {
	case StateClosed:
		return
	case StateUnidentified:
		if msg.Action != protocol.ActionIdentify {
			ss.logger.Warn("discarding message before identify", "action", msg.Action)
			return
		}
	}

	if err := ss.dispatch(ctx, msg); err != nil {
		// Rejected frames get no reply; the connection stays open.
		ss.logger.Warn("message rejected", "action", msg.Action, "room", msg.Room, "error", err)
	}
}

func (ss *Session) dispatch(ctx context.Context, msg protocol.ClientMessage) error {
	var err error
	switch msg.Action {
	case protocol.ActionIdentify:
		err = ss.identify(msg)
	case protocol.ActionJoin:
		err = ss.join(ctx, msg.Room)
	case protocol.ActionLeave:
		err = ss.leave(ctx, msg.Room)
	case protocol.ActionActivate:
		err = ss.activate(ctx, msg)
	case protocol.ActionDeactivate:
		ss.deactivate(ctx, msg.Room)
	case protocol.ActionUpdate:
		err = ss.update(ctx, msg.Room, msg.Update)
	case protocol.ActionSaveCommit:
		err = ss.saveCommit(ctx, msg.Room)
	case protocol.ActionSaveConfirmed:
		err = ss.saveConfirmed(ctx, msg.Room)
	default:
		err = fmt.Errorf("%w: %q", protocol.ErrUnknownAction, msg.Action)
	}
	return err
}

func (ss *Session) identify(msg protocol.ClientMessage) error {
	c := ss.client
	if len(c.Rooms()) > 0 && msg.UID != "" && msg.UID != c.UID() {
		ss.logger.Warn("ignoring uid change while in rooms", "uid", msg.UID)
		msg.UID = c.UID()
	}
	if err := ss.svc.conns.Identify(c, msg.UID, msg.Color); err != nil {
		// Keep the connection id as identity.
		ss.logger.Warn("identify with a uid in use", "uid", msg.UID, "error", err)
	}
	ss.logger = c.Logger().With("uid", c.UID())
	ss.setState(StateIdentified)
	return nil
}

func (ss *Session) join(ctx context.Context, name string) error {
	c := ss.client
	uid := c.UID()

	r, added, err := ss.svc.rooms.Join(name, uid)
	if err != nil {
		return err
	}
	c.JoinRoom(name)

	c.Send(ss.syncMessage(ctx, r))

	if !added {
		return nil
	}

	ss.logger.Debug("joined room", "room", name)
	ss.svc.Publish(ctx, protocol.BroadcastAwarenessUser, name, uid, protocol.AwarenessUserData{
		Event: protocol.EventAdd,
		User:  ss.awarenessUser(),
	})
	users, fields := ss.svc.localPresence(r)
	ss.svc.Publish(ctx, protocol.BroadcastRoomDoc, name, uid, protocol.RoomDocData{
		State:  r.EncodeState(),
		Vector: r.StateVector(),
		Users:  users,
		Fields: fields,
	})
	return nil
}

// syncMessage builds the joiner's view of r.
func (ss *Session) syncMessage(ctx context.Context, r *room.Room) protocol.ServerMessage {
	c := ss.client
	acc := c.Accountability()
	msg := protocol.Collab(protocol.ActionSync, r.Name)

	if u, err := crdt.DecodeUpdate(r.EncodeState()); err == nil && u.Len() > 0 {
		if values, err := u.Values(); err == nil {
			msg.State = ss.svc.filterFor(ctx, acc, r, u, values)
		}
	}

	for _, other := range ss.svc.recipients(r, c.UID()) {
		msg.Users = append(msg.Users, awarenessUserOf(other))
	}
	for _, p := range r.Remote() {
		if p.UID == c.UID() || r.HasMember(p.UID) {
			continue
		}
		msg.Users = append(msg.Users, protocol.AwarenessUser{UID: p.UID, User: p.User, Color: p.Color})
	}

	for _, claim := range r.ActiveFields() {
		if claim.UID == c.UID() {
			continue
		}
		f := awarenessField(claim)
		if ss.svc.canSeeField(ctx, acc, f) {
			msg.Fields = append(msg.Fields, f)
		}
	}
	return msg
}

func (ss *Session) leave(ctx context.Context, name string) error {
	c := ss.client
	uid := c.UID()

	if !c.LeaveRoom(name) {
		return fmt.Errorf("%w: %s", ErrNotInRoom, name)
	}

	if r, ok := ss.svc.rooms.Get(name); ok {
		if claim, ok := r.ClearActiveField(uid); ok {
			ss.publishField(ctx, protocol.EventRemove, claim)
		}
		ss.svc.saves.Dropped(ctx, name, uid)
	}

	ss.svc.Publish(ctx, protocol.BroadcastAwarenessUser, name, uid, protocol.AwarenessUserData{
		Event: protocol.EventRemove,
		User:  ss.awarenessUser(),
	})

	if _, destroyed := ss.svc.rooms.Leave(name, uid); destroyed {
		ss.logger.Debug("room destroyed", "room", name)
	}
	return nil
}

func (ss *Session) activate(ctx context.Context, msg protocol.ClientMessage) error {
	name := room.Name(msg.Collection, msg.PrimaryKey)
	r, err := ss.member(name)
	if err != nil {
		return err
	}

	claim := room.ActiveField{
		UID:        ss.client.UID(),
		User:       ss.client.Accountability().User,
		Collection: msg.Collection,
		Field:      msg.Field,
		PrimaryKey: msg.PrimaryKey,
	}
	r.SetActiveField(claim)
	ss.publishField(ctx, protocol.EventAdd, claim)
	return nil
}

// deactivate clears the claim in name, or in every joined room when name
// is empty.
func (ss *Session) deactivate(ctx context.Context, name string) {
	names := []string{name}
	if name == "" {
		names = ss.client.Rooms()
	}
	for _, n := range names {
		r, ok := ss.svc.rooms.Get(n)
		if !ok || !ss.client.InRoom(n) {
			continue
		}
		if claim, ok := r.ClearActiveField(ss.client.UID()); ok {
			ss.publishField(ctx, protocol.EventRemove, claim)
		}
	}
}

func (ss *Session) update(ctx context.Context, name string, update []byte) error {
	r, err := ss.member(name)
	if err != nil {
		return err
	}
	fields, err := r.ApplyUpdate(update)
	if err != nil {
		return err
	}
	ss.logger.Debug("update applied", "room", name, "fields", fields)

	ss.svc.Publish(ctx, protocol.BroadcastUpdate, name, ss.client.UID(), protocol.UpdateData{Update: update})
	return nil
}

func (ss *Session) saveCommit(ctx context.Context, name string) error {
	if _, err := ss.member(name); err != nil {
		return err
	}
	err := ss.svc.saves.Commit(ctx, name, ss.client.UID())
	if errors.Is(err, save.ErrSavePending) {
		// A second commit while one is pending is ignored.
		return nil
	}
	return err
}

func (ss *Session) saveConfirmed(ctx context.Context, name string) error {
	if _, err := ss.member(name); err != nil {
		return err
	}
	ss.svc.saves.Confirmed(ctx, name, ss.client.UID())
	return nil
}

// Close leaves every joined room and unregisters the connection. It is
// safe to call more than once.
func (ss *Session) Close(ctx context.Context) {
	ss.mu.Lock()
	if ss.state == StateClosed {
		ss.mu.Unlock()
		return
	}
	ss.state = StateClosed
	ss.mu.Unlock()

	for _, name := range ss.client.Rooms() {
		ss.leave(ctx, name)
	}
	ss.svc.conns.Unregister(ss.client)
	ss.client.Close()
	ss.logger.Debug("session closed")
}

func (ss *Session) member(name string) (*room.Room, error) {
	if !ss.client.InRoom(name) {
		return nil, fmt.Errorf("%w: %s", ErrNotInRoom, name)
	}
	r, ok := ss.svc.rooms.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotInRoom, name)
	}
	return r, nil
}

func (ss *Session) publishField(ctx context.Context, event string, claim room.ActiveField) {
	ss.svc.Publish(ctx, protocol.BroadcastAwarenessField, room.Name(claim.Collection, claim.PrimaryKey), claim.UID, protocol.AwarenessFieldData{
		Event: event,
		Field: awarenessField(claim),
	})
}

func (ss *Session) awarenessUser() protocol.AwarenessUser {
	return awarenessUserOf(ss.client)
}

func awarenessUserOf(c *connection.Client) protocol.AwarenessUser {
	return protocol.AwarenessUser{
		UID:   c.UID(),
		User:  c.Accountability().User,
		Color: c.Color(),
	}
}

func awarenessField(claim room.ActiveField) protocol.AwarenessField {
	return protocol.AwarenessField{
		UID:        claim.UID,
		User:       claim.User,
		Collection: claim.Collection,
		Field:      claim.Field,
		PrimaryKey: claim.PrimaryKey,
	}
}
