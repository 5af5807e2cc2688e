package crdt

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Update is a decoded delta. It lets a receiver inspect what a delta
// touches without applying it to a document.
type Update struct {
	entries []entry
}

// DecodeUpdate decodes an update produced by Set, Delete, EncodeState or
// EncodeStateAsUpdate.
func DecodeUpdate(data []byte) (*Update, error) {
	entries, err := decodeEntries(data)
	if err != nil {
		return nil, err
	}
	return &Update{entries: entries}, nil
}

// Fields returns the fields the update touches, sorted.
func (u *Update) Fields() []string {
	return fieldsOf(u.entries)
}

// Len returns the number of entries in the update.
func (u *Update) Len() int {
	return len(u.entries)
}

// Values returns the structured field → value view of the update. When a
// field appears more than once the winning entry is used. Deleted fields map
// to nil.
func (u *Update) Values() (map[string]any, error) {
	winners := u.winners()
	out := make(map[string]any, len(winners))
	for field, e := range winners {
		if e.Deleted {
			out[field] = nil
			continue
		}
		var v any
		if err := json.Unmarshal(e.Value, &v); err != nil {
			return nil, fmt.Errorf("%w: value of %q: %v", ErrMalformedUpdate, field, err)
		}
		out[field] = v
	}
	return out, nil
}

// Filter re-encodes the update keeping only the fields present in view. A
// kept entry whose value differs from view[field] carries the view's value
// instead, with the original clock and writer. Filter returns nil when no
// entry survives.
func (u *Update) Filter(view map[string]any) ([]byte, error) {
	if len(view) == 0 {
		return nil, nil
	}
	original, err := u.Values()
	if err != nil {
		return nil, err
	}
	kept := make([]entry, 0, len(view))
	for field, e := range u.winners() {
		v, ok := view[field]
		if !ok {
			continue
		}
		if !e.Deleted && !reflect.DeepEqual(v, original[field]) {
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encode filtered value for %q: %w", field, err)
			}
			e.Value = raw
		}
		kept = append(kept, e)
	}
	if len(kept) == 0 {
		return nil, nil
	}
	sortEntries(kept)
	return encodeEntries(kept), nil
}

func (u *Update) winners() map[string]entry {
	out := make(map[string]entry, len(u.entries))
	for _, e := range u.entries {
		if current, ok := out[e.Field]; !ok || e.wins(current) {
			out[e.Field] = e
		}
	}
	return out
}
