package dispatch

import (
	"context"

	"github.com/directus-labs/extensions-sub000/internal/crdt"
	"github.com/directus-labs/extensions-sub000/internal/platform"
	"github.com/directus-labs/extensions-sub000/internal/protocol"
	"github.com/directus-labs/extensions-sub000/internal/room"
)

// deliver is the bus handler. It fans a broadcast out to this instance's
// members of the room.
func (s *Service) deliver(ctx context.Context, payload []byte) {
	b, err := protocol.DecodeBroadcast(payload)
	if err != nil {
		s.logger.Warn("discarding malformed broadcast", "error", err)
		return
	}

	r, ok := s.rooms.Get(b.Room)
	if !ok {
		// Nobody here is in the room.
		return
	}

	logger := s.logger.With("type", b.Type, "room", b.Room, "origin", b.Origin)

	switch b.Type {
	case protocol.BroadcastUpdate:
		var data protocol.UpdateData
		if err := b.DecodeData(&data); err != nil {
			logger.Warn("discarding broadcast", "error", err)
			return
		}
		if _, err := r.ApplyUpdate(data.Update); err != nil {
			logger.Warn("discarding undecodable update", "error", err)
			return
		}
		s.deliverUpdate(ctx, r, data.Update, b.Sender)

	case protocol.BroadcastAwarenessUser:
		var data protocol.AwarenessUserData
		if err := b.DecodeData(&data); err != nil {
			logger.Warn("discarding broadcast", "error", err)
			return
		}
		if b.Origin != s.cfg.Instance {
			s.recordUser(r, data.Event, data.User)
		}
		for _, c := range s.recipients(r, b.Sender) {
			msg := protocol.Collab(protocol.ActionAwarenessUser, r.Name)
			msg.Event = data.Event
			user := data.User
			msg.User = &user
			c.Send(msg)
		}

	case protocol.BroadcastAwarenessField:
		var data protocol.AwarenessFieldData
		if err := b.DecodeData(&data); err != nil {
			logger.Warn("discarding broadcast", "error", err)
			return
		}
		f := data.Field
		if b.Origin != s.cfg.Instance {
			s.recordField(r, data.Event, f)
		}
		for _, c := range s.recipients(r, b.Sender) {
			if !s.canSeeField(ctx, c.Accountability(), f) {
				continue
			}
			msg := protocol.Collab(protocol.ActionAwarenessField, r.Name)
			msg.Event = data.Event
			field := f
			msg.ActiveField = &field
			c.Send(msg)
		}

	case protocol.BroadcastSaveConfirm:
		var data protocol.SaveConfirmData
		if err := b.DecodeData(&data); err != nil {
			logger.Warn("discarding broadcast", "error", err)
			return
		}
		for _, c := range s.recipients(r, b.Sender) {
			msg := protocol.Collab(protocol.ActionSaveConfirm, r.Name)
			msg.SavedAt = data.SavedAt
			msg.Initiator = data.Initiator
			c.Send(msg)
		}

	case protocol.BroadcastSaveConfirmed:
		if b.Origin == s.cfg.Instance {
			// Already counted when the member confirmed.
			return
		}
		var data protocol.SaveConfirmedData
		if err := b.DecodeData(&data); err != nil {
			logger.Warn("discarding broadcast", "error", err)
			return
		}
		s.saves.Ack(ctx, r.Name, data.UID)

	case protocol.BroadcastSaveCommitted:
		var data protocol.SaveCommittedData
		if err := b.DecodeData(&data); err != nil {
			logger.Warn("discarding broadcast", "error", err)
			return
		}
		for _, c := range s.recipients(r, "") {
			msg := protocol.Collab(protocol.ActionSaveCommitted, r.Name)
			msg.SavedAt = data.SavedAt
			c.Send(msg)
		}

	case protocol.BroadcastRoomDoc:
		if b.Origin == s.cfg.Instance {
			return
		}
		var data protocol.RoomDocData
		if err := b.DecodeData(&data); err != nil {
			logger.Warn("discarding broadcast", "error", err)
			return
		}
		s.reconcile(ctx, r, data)

	default:
		logger.Warn("discarding broadcast of unknown type")
	}
}

// deliverUpdate sends each local member, except sender, the part of update
// it may read. The delta's touched fields are recomputed here, at delivery,
// from the delta itself.
func (s *Service) deliverUpdate(ctx context.Context, r *room.Room, update []byte, sender string) {
	u, err := crdt.DecodeUpdate(update)
	if err != nil {
		s.logger.Warn("discarding undecodable update", "room", r.Name, "error", err)
		return
	}
	values, err := u.Values()
	if err != nil {
		s.logger.Warn("discarding update with undecodable values", "room", r.Name, "error", err)
		return
	}

	for _, c := range s.recipients(r, sender) {
		filtered := s.filterFor(ctx, c.Accountability(), r, u, values)
		if filtered == nil {
			continue
		}
		msg := protocol.Collab(protocol.ActionUpdate, r.Name)
		msg.Update = filtered
		c.Send(msg)
	}
}

// reconcile merges another instance's copy of a room and its presence, and
// answers with what that instance is missing and who is here, unless the
// message was itself an answer.
func (s *Service) reconcile(ctx context.Context, r *room.Room, data protocol.RoomDocData) {
	if len(data.State) > 0 {
		learned, err := r.MergeState(data.State)
		if err != nil {
			s.logger.Warn("discarding undecodable room state", "room", r.Name, "error", err)
			return
		}
		if learned != nil {
			s.deliverUpdate(ctx, r, learned, "")
		}
	}

	// Members announced here are told about presence they have not seen.
	for _, u := range data.Users {
		if !s.recordUser(r, protocol.EventAdd, u) {
			continue
		}
		for _, c := range s.recipients(r, u.UID) {
			msg := protocol.Collab(protocol.ActionAwarenessUser, r.Name)
			msg.Event = protocol.EventAdd
			user := u
			msg.User = &user
			c.Send(msg)
		}
	}
	for _, f := range data.Fields {
		if !s.recordField(r, protocol.EventAdd, f) {
			continue
		}
		for _, c := range s.recipients(r, f.UID) {
			if !s.canSeeField(ctx, c.Accountability(), f) {
				continue
			}
			msg := protocol.Collab(protocol.ActionAwarenessField, r.Name)
			msg.Event = protocol.EventAdd
			field := f
			msg.ActiveField = &field
			c.Send(msg)
		}
	}

	if data.Reply {
		return
	}
	users, fields := s.localPresence(r)
	s.Publish(ctx, protocol.BroadcastRoomDoc, r.Name, "", protocol.RoomDocData{
		State:  r.EncodeStateAsUpdate(data.Vector),
		Users:  users,
		Fields: fields,
		Reply:  true,
	})
}

// recordUser tracks a member of another instance. It reports whether the
// room's view changed.
func (s *Service) recordUser(r *room.Room, event string, u protocol.AwarenessUser) bool {
	if r.HasMember(u.UID) {
		return false
	}
	if event == protocol.EventRemove {
		return r.RemoveRemote(u.UID)
	}
	return r.SetRemote(room.Presence{UID: u.UID, User: u.User, Color: u.Color})
}

// recordField tracks a claim held on another instance. It reports whether
// the room's view changed.
func (s *Service) recordField(r *room.Room, event string, f protocol.AwarenessField) bool {
	if r.HasMember(f.UID) {
		return false
	}
	if event == protocol.EventRemove {
		_, ok := r.ClearActiveField(f.UID)
		return ok
	}
	return r.SetActiveField(room.ActiveField{
		UID:        f.UID,
		User:       f.User,
		Collection: f.Collection,
		Field:      f.Field,
		PrimaryKey: f.PrimaryKey,
	})
}

// localPresence returns the members connected to this instance and their
// claims.
func (s *Service) localPresence(r *room.Room) ([]protocol.AwarenessUser, []protocol.AwarenessField) {
	var users []protocol.AwarenessUser
	var fields []protocol.AwarenessField
	for _, c := range s.recipients(r, "") {
		users = append(users, awarenessUserOf(c))
	}
	for _, claim := range r.ActiveFields() {
		if r.HasMember(claim.UID) {
			fields = append(fields, awarenessField(claim))
		}
	}
	return users, fields
}

// filterFor re-encodes u with only the fields acc may read, or returns nil.
func (s *Service) filterFor(ctx context.Context, acc platform.Accountability, r *room.Room, u *crdt.Update, values map[string]any) []byte {
	view := s.sanitizer.Sanitize(ctx, values, r.Collection, r.PrimaryKey, acc)
	if view == nil {
		// Nothing readable.
		return nil
	}
	filtered, err := u.Filter(view)
	if err != nil {
		s.logger.Warn("filter update", "room", r.Name, "error", err)
		return nil
	}
	return filtered
}

// canSeeField reports whether acc may learn that someone is editing f.
func (s *Service) canSeeField(ctx context.Context, acc platform.Accountability, f protocol.AwarenessField) bool {
	return s.sanitizer.CanRead(ctx, acc, f.Collection, f.PrimaryKey, f.Field)
}
