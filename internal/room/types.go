package room

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidName is returned for room names that are not
// "<collection>:<primaryKey>".
var ErrInvalidName = errors.New("invalid room name")

// ActiveField is a connection's claim on a field it is editing. There is at
// most one claim per (room, UID); a new claim replaces the old one.
type ActiveField struct {
	UID        string
	User       string
	Collection string
	Field      string
	PrimaryKey string
}

// Presence is a member of the room connected to another instance.
type Presence struct {
	UID   string
	User  string
	Color string
}

// Info is a point-in-time summary of a room.
type Info struct {
	Name        string    `json:"name"`
	Members     int       `json:"members"`
	Remote      int       `json:"remote"`
	Fields      int       `json:"fields"`
	Claims      int       `json:"claims"`
	SavePending bool      `json:"save_pending"`
	CreatedAt   time.Time `json:"created_at"`
}

// Name builds a room name from its parts.
func Name(collection, primaryKey string) string {
	return collection + ":" + primaryKey
}

// ParseName splits a room name into collection and primary key. The
// primary key may itself contain colons.
func ParseName(name string) (collection, primaryKey string, err error) {
	collection, primaryKey, ok := strings.Cut(name, ":")
	if !ok || collection == "" || primaryKey == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return collection, primaryKey, nil
}
