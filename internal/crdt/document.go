package crdt

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Document is a replicated field → value map.
//
// Document is not safe for concurrent use. The room that owns it serializes
// access.
type Document struct {
	writer  string
	clock   uint64
	entries map[string]entry
	vector  map[string]uint64
}

// NewDocument creates an empty document. Local writes made through Set and
// Delete are attributed to writer.
func NewDocument(writer string) *Document {
	return &Document{
		writer:  writer,
		entries: make(map[string]entry),
		vector:  make(map[string]uint64),
	}
}

// Set assigns value to field and returns the encoded update describing the
// write. value must be JSON-encodable.
func (d *Document) Set(field string, value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode value for %q: %w", field, err)
	}
	e := d.next(field)
	e.Value = raw
	d.merge(e)
	return encodeEntries([]entry{e}), nil
}

// Delete removes field and returns the encoded update.
func (d *Document) Delete(field string) []byte {
	e := d.next(field)
	e.Deleted = true
	d.merge(e)
	return encodeEntries([]entry{e})
}

func (d *Document) next(field string) entry {
	d.clock++
	return entry{Field: field, Clock: d.clock, Writer: d.writer}
}

// Apply merges an encoded update and returns the fields it touches, sorted.
// Applying the same update twice leaves the document unchanged.
func (d *Document) Apply(update []byte) ([]string, error) {
	entries, err := decodeEntries(update)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		d.merge(e)
	}
	return fieldsOf(entries), nil
}

func (d *Document) merge(e entry) {
	if current, ok := d.entries[e.Field]; !ok || e.wins(current) {
		d.entries[e.Field] = e
	}
	if e.Clock > d.vector[e.Writer] {
		d.vector[e.Writer] = e.Clock
	}
	if e.Clock > d.clock {
		d.clock = e.Clock
	}
}

// Get returns the decoded value of field.
func (d *Document) Get(field string) (any, bool) {
	e, ok := d.entries[field]
	if !ok || e.Deleted {
		return nil, false
	}
	var v any
	if err := json.Unmarshal(e.Value, &v); err != nil {
		return nil, false
	}
	return v, true
}

// Fields returns the names of all live fields, sorted.
func (d *Document) Fields() []string {
	fields := make([]string, 0, len(d.entries))
	for field, e := range d.entries {
		if !e.Deleted {
			fields = append(fields, field)
		}
	}
	sort.Strings(fields)
	return fields
}

// Len returns the number of live fields.
func (d *Document) Len() int {
	n := 0
	for _, e := range d.entries {
		if !e.Deleted {
			n++
		}
	}
	return n
}

// Snapshot returns the live fields decoded into a plain map.
func (d *Document) Snapshot() map[string]any {
	out := make(map[string]any, len(d.entries))
	for _, field := range d.Fields() {
		if v, ok := d.Get(field); ok {
			out[field] = v
		}
	}
	return out
}

// EncodeState encodes the whole document, tombstones included, as a single
// update that can be applied to any replica.
func (d *Document) EncodeState() []byte {
	return encodeEntries(d.sortedEntries(nil))
}

// StateVector returns a copy of the highest clock seen per writer.
func (d *Document) StateVector() map[string]uint64 {
	out := make(map[string]uint64, len(d.vector))
	for w, c := range d.vector {
		out[w] = c
	}
	return out
}

// EncodeStateVector encodes the document's state vector.
func (d *Document) EncodeStateVector() []byte {
	return EncodeStateVector(d.vector)
}

// EncodeStateAsUpdate returns an update holding the entries a replica with the given state
// vector has not seen, or nil when it has seen everything.
func (d *Document) EncodeStateAsUpdate(vector map[string]uint64) []byte {
	entries := d.sortedEntries(func(e entry) bool {
		return e.Clock > vector[e.Writer]
	})
	if len(entries) == 0 {
		return nil
	}
	return encodeEntries(entries)
}

func (d *Document) sortedEntries(keep func(entry) bool) []entry {
	out := make([]entry, 0, len(d.entries))
	for _, e := range d.entries {
		if keep == nil || keep(e) {
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out
}

func sortEntries(entries []entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Field < entries[j].Field })
}

func fieldsOf(entries []entry) []string {
	seen := make(map[string]struct{}, len(entries))
	fields := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.Field]; ok {
			continue
		}
		seen[e.Field] = struct{}{}
		fields = append(fields, e.Field)
	}
	sort.Strings(fields)
	return fields
}
