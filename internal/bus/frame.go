package bus

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Frame markers. The first byte of every framed payload says how the rest
// is stored.
const (
	frameRaw  byte = 0
	frameZstd byte = 1
)

// compressThreshold is the smallest payload worth trying to compress.
const compressThreshold = 512

// zstd.Encoder and zstd.Decoder are safe for concurrent use through
// EncodeAll and DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("bus: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(64<<20))
	if err != nil {
		panic("bus: zstd decoder initialization failed: " + err.Error())
	}
}

// Encode frames payload for the wire, compressing it when that makes it
// smaller.
func Encode(payload []byte) []byte {
	if len(payload) >= compressThreshold {
		compressed := zstdEncoder.EncodeAll(payload, []byte{frameZstd})
		if len(compressed) < len(payload)+1 {
			return compressed
		}
	}
	out := make([]byte, 0, len(payload)+1)
	out = append(out, frameRaw)
	return append(out, payload...)
}

// Decode reverses Encode.
func Decode(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("decode frame: empty")
	}
	switch frame[0] {
	case frameRaw:
		return frame[1:], nil
	case frameZstd:
		out, err := zstdDecoder.DecodeAll(frame[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("decode frame: unknown marker %d", frame[0])
	}
}
