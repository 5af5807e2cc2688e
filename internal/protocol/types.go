package protocol

import (
	"encoding/json"
	"errors"
)

// Errors
var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrUnknownAction    = errors.New("unknown action")
	ErrMissingField     = errors.New("missing required field")
)

// Frame types.
const (
	TypeCollab = "collab"
	TypePing   = "ping"
	TypePong   = "pong"
)

// Client actions.
const (
	ActionIdentify      = "identify"
	ActionJoin          = "join"
	ActionLeave         = "leave"
	ActionActivate      = "activate"
	ActionDeactivate    = "deactivate"
	ActionUpdate        = "update"
	ActionSaveCommit    = "save:commit"
	ActionSaveConfirmed = "save:confirmed"
)

// Server actions. ActionUpdate is shared with the client set.
const (
	ActionSync           = "sync"
	ActionAwarenessUser  = "awareness-user"
	ActionAwarenessField = "awareness-field"
	ActionSaveConfirm    = "save:confirm"
	ActionSaveCommitted  = "save:committed"
)

// Awareness events.
const (
	EventAdd    = "add"
	EventRemove = "remove"
)

// ClientMessage is a frame received from a browser.
type ClientMessage struct {
	Type   string `json:"type"`
	Action string `json:"action,omitempty"`
	Room   string `json:"room,omitempty"`

	// identify
	Color string `json:"color,omitempty"`
	UID   string `json:"uid,omitempty"`

	// activate
	Collection string `json:"collection,omitempty"`
	Field      string `json:"field,omitempty"`
	PrimaryKey string `json:"primaryKey,omitempty"`

	// update
	Update []byte `json:"update,omitempty"`
}

// ServerMessage is a frame sent to a browser.
type ServerMessage struct {
	Type   string `json:"type"`
	Action string `json:"action,omitempty"`
	Room   string `json:"room,omitempty"`

	// sync
	State  []byte           `json:"state,omitempty"`
	Users  []AwarenessUser  `json:"users,omitempty"`
	Fields []AwarenessField `json:"fields,omitempty"`

	// update
	Update []byte `json:"update,omitempty"`

	// awareness-user, awareness-field
	Event       string          `json:"event,omitempty"`
	User        *AwarenessUser  `json:"user,omitempty"`
	ActiveField *AwarenessField `json:"activeField,omitempty"`

	// save:confirm, save:committed
	SavedAt   int64  `json:"savedAt,omitempty"`
	Initiator string `json:"initiator,omitempty"`
}

// AwarenessUser is the presence of one connection in a room.
type AwarenessUser struct {
	UID   string `json:"uid"`
	User  string `json:"user,omitempty"`
	Color string `json:"color,omitempty"`
}

// AwarenessField is an active-field claim as seen by other members.
type AwarenessField struct {
	UID        string `json:"uid"`
	User       string `json:"user,omitempty"`
	Collection string `json:"collection"`
	Field      string `json:"field"`
	PrimaryKey string `json:"primaryKey"`
}

// Broadcast types carried over the bus.
const (
	BroadcastUpdate         = "update"
	BroadcastAwarenessUser  = "awareness-user"
	BroadcastAwarenessField = "awareness-field"
	BroadcastSaveConfirm    = "save:confirm"
	BroadcastSaveConfirmed  = "save:confirmed"
	BroadcastSaveCommitted  = "save:committed"
	BroadcastRoomDoc        = "room-doc"
)

// Broadcast is the envelope published on the bus. Origin is the publishing
// instance; Sender is the UID of the connection that caused the event, if
// any.
type Broadcast struct {
	Type   string          `json:"type"`
	Room   string          `json:"room"`
	Origin string          `json:"origin"`
	Sender string          `json:"sender,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// UpdateData carries a document delta.
type UpdateData struct {
	Update []byte `json:"update"`
}

// AwarenessUserData announces a member joining or leaving.
type AwarenessUserData struct {
	Event string        `json:"event"`
	User  AwarenessUser `json:"user"`
}

// AwarenessFieldData announces a claim being taken or released.
type AwarenessFieldData struct {
	Event string         `json:"event"`
	Field AwarenessField `json:"field"`
}

// SaveConfirmData asks every other member to flush and acknowledge.
type SaveConfirmData struct {
	SavedAt   int64  `json:"savedAt"`
	Initiator string `json:"initiator,omitempty"`
}

// SaveConfirmedData acknowledges a save:confirm.
type SaveConfirmedData struct {
	UID string `json:"uid"`
}

// SaveCommittedData signals that persistence may proceed.
type SaveCommittedData struct {
	SavedAt int64 `json:"savedAt"`
	Forced  bool  `json:"forced,omitempty"`
}

// RoomDocData carries a room's document state for anti-entropy between
// instances, together with the publishing instance's own members and their
// claims. Reply marks a response, which is merged but never answered.
type RoomDocData struct {
	State  []byte            `json:"state,omitempty"`
	Vector map[string]uint64 `json:"vector,omitempty"`
	Users  []AwarenessUser   `json:"users,omitempty"`
	Fields []AwarenessField  `json:"fields,omitempty"`
	Reply  bool              `json:"reply,omitempty"`
}
