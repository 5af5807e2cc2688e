package protocol

import (
	"encoding/json"
	"fmt"
)

// DecodeClient parses a browser frame. Frames that do not belong to the
// collaboration protocol decode without error; callers check IsCollab and
// IsPing. A collab frame with an unknown action or missing required fields
// is rejected.
func DecodeClient(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.Type == "" {
		return ClientMessage{}, fmt.Errorf("%w: no type", ErrMalformedMessage)
	}
	if msg.Type != TypeCollab {
		return msg, nil
	}
	if err := msg.validate(); err != nil {
		return ClientMessage{}, err
	}
	return msg, nil
}

// IsCollab reports whether the frame is a collaboration message.
func (m ClientMessage) IsCollab() bool { return m.Type == TypeCollab }

// IsPing reports whether the frame is a heartbeat.
func (m ClientMessage) IsPing() bool { return m.Type == TypePing }

func (m ClientMessage) validate() error {
	switch m.Action {
	case ActionIdentify, ActionDeactivate:
		return nil
	case ActionJoin, ActionLeave, ActionSaveCommit, ActionSaveConfirmed:
		return require(m.Action, "room", m.Room)
	case ActionActivate:
		if err := require(m.Action, "collection", m.Collection); err != nil {
			return err
		}
		if err := require(m.Action, "field", m.Field); err != nil {
			return err
		}
		return require(m.Action, "primaryKey", m.PrimaryKey)
	case ActionUpdate:
		if err := require(m.Action, "room", m.Room); err != nil {
			return err
		}
		if len(m.Update) == 0 {
			return fmt.Errorf("%w: %s needs update", ErrMissingField, m.Action)
		}
		return nil
	case "":
		return fmt.Errorf("%w: no action", ErrMalformedMessage)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, m.Action)
	}
}

func require(action, name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s needs %s", ErrMissingField, action, name)
	}
	return nil
}

// Pong is the reply to a ping frame.
func Pong() ServerMessage {
	return ServerMessage{Type: TypePong}
}

// Collab builds a server collaboration frame.
func Collab(action, room string) ServerMessage {
	return ServerMessage{Type: TypeCollab, Action: action, Room: room}
}

// NewBroadcast wraps data into a bus envelope.
func NewBroadcast(typ, room, origin, sender string, data any) (Broadcast, error) {
	b := Broadcast{Type: typ, Room: room, Origin: origin, Sender: sender}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Broadcast{}, fmt.Errorf("encode %s data: %w", typ, err)
		}
		b.Data = raw
	}
	return b, nil
}

// Marshal encodes the envelope.
func (b Broadcast) Marshal() ([]byte, error) {
	return json.Marshal(b)
}

// DecodeBroadcast parses a bus envelope.
func DecodeBroadcast(data []byte) (Broadcast, error) {
	var b Broadcast
	if err := json.Unmarshal(data, &b); err != nil {
		return Broadcast{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if b.Type == "" || b.Room == "" {
		return Broadcast{}, fmt.Errorf("%w: broadcast needs type and room", ErrMalformedMessage)
	}
	return b, nil
}

// DecodeData unmarshals the envelope payload into v.
func (b Broadcast) DecodeData(v any) error {
	if len(b.Data) == 0 {
		return fmt.Errorf("%w: %s without data", ErrMalformedMessage, b.Type)
	}
	if err := json.Unmarshal(b.Data, v); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrMalformedMessage, b.Type, err)
	}
	return nil
}
