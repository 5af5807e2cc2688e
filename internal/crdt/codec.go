package crdt

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ErrMalformedUpdate is returned when an encoded update or state vector
// cannot be decoded.
var ErrMalformedUpdate = errors.New("malformed document update")

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	// Core deterministic encoding: the same document state always encodes to
	// the same bytes, which keeps state comparisons across instances cheap.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("crdt: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		MaxArrayElements: 1 << 20,
	}.DecMode()
	if err != nil {
		panic("crdt: CBOR decoder initialization failed: " + err.Error())
	}
}

// entry is one last-writer-wins register value.
type entry struct {
	Field   string `cbor:"1,keyasint"`
	Value   []byte `cbor:"2,keyasint,omitempty"` // JSON encoded
	Clock   uint64 `cbor:"3,keyasint"`
	Writer  string `cbor:"4,keyasint"`
	Deleted bool   `cbor:"5,keyasint,omitempty"`
}

// wins reports whether e replaces other in a merge.
func (e entry) wins(other entry) bool {
	if e.Clock != other.Clock {
		return e.Clock > other.Clock
	}
	if e.Writer != other.Writer {
		return e.Writer > other.Writer
	}
	// Same writer and clock only happens for a replayed entry. Compare the
	// content anyway so a misbehaving writer still converges.
	if e.Deleted != other.Deleted {
		return e.Deleted
	}
	return string(e.Value) > string(other.Value)
}

type wireUpdate struct {
	Entries []entry `cbor:"1,keyasint"`
}

func encodeEntries(entries []entry) []byte {
	data, err := encMode.Marshal(wireUpdate{Entries: entries})
	if err != nil {
		// Entries hold only strings, byte slices and integers.
		panic("crdt: encode update: " + err.Error())
	}
	return data
}

func decodeEntries(data []byte) ([]entry, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrMalformedUpdate)
	}
	var wire wireUpdate
	if err := decMode.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	for _, e := range wire.Entries {
		if e.Field == "" {
			return nil, fmt.Errorf("%w: entry without field", ErrMalformedUpdate)
		}
		if e.Writer == "" {
			return nil, fmt.Errorf("%w: entry without writer", ErrMalformedUpdate)
		}
	}
	return wire.Entries, nil
}

// EncodeStateVector encodes a writer → clock map.
func EncodeStateVector(vector map[string]uint64) []byte {
	if vector == nil {
		vector = map[string]uint64{}
	}
	data, err := encMode.Marshal(vector)
	if err != nil {
		panic("crdt: encode state vector: " + err.Error())
	}
	return data
}

// DecodeStateVector decodes a vector produced by EncodeStateVector.
func DecodeStateVector(data []byte) (map[string]uint64, error) {
	vector := make(map[string]uint64)
	if len(data) == 0 {
		return vector, nil
	}
	if err := decMode.Unmarshal(data, &vector); err != nil {
		return nil, fmt.Errorf("%w: state vector: %v", ErrMalformedUpdate, err)
	}
	return vector, nil
}
