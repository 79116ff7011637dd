// Package compression provides the byte-level codecs used to keep large
// snapshot fields small at rest.
//
// Supported algorithms:
//
//   - Zstandard (zstd): best ratio with fast decompression (default)
//   - LZ4: fastest, moderate ratio
//
// Encoded payloads carry a one-byte tag so that a reader can always tell a raw
// payload from a compressed one, whatever the writer's configuration was.
package compression

import (
	"errors"
	"fmt"
)

// Algorithm represents a compression algorithm
type Algorithm string

const (
	AlgorithmNone Algorithm = "none"
	AlgorithmZstd Algorithm = "zstd"
	AlgorithmLZ4  Algorithm = "lz4"
)

// Level represents compression level
type Level int

const (
	LevelFastest Level = 1
	LevelDefault Level = 3
	LevelBest    Level = 9
)

// Payload tags. Stored as the first byte of every encoded payload.
const (
	tagRaw  byte = 0x00
	tagZstd byte = 0x01
	tagLZ4  byte = 0x02
)

var ErrCorruptPayload = errors.New("compression: corrupt payload")

// Compressor handles compression/decompression
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Algorithm() Algorithm
}

// New returns the compressor for an algorithm. AlgorithmNone yields nil.
func New(alg Algorithm, level Level) (Compressor, error) {
	switch alg {
	case AlgorithmNone, "":
		return nil, nil
	case AlgorithmZstd:
		return NewZstdCompressor(level)
	case AlgorithmLZ4:
		return NewLZ4Compressor(level)
	default:
		return nil, fmt.Errorf("unknown compression algorithm: %s", alg)
	}
}

// Stats reports what a single Encode call did.
type Stats struct {
	Compressed   bool
	OriginalSize int
	StoredSize   int
}

// Codec compresses payloads at or above a size threshold and leaves smaller ones raw.
type Codec struct {
	compressor Compressor
	minSize    int
}

// NewCodec creates a codec. A nil compressor stores everything raw.
func NewCodec(c Compressor, minSize int) *Codec {
	return &Codec{compressor: c, minSize: minSize}
}

// Encode tags and, when worthwhile, compresses data. A compression error or a
// result that is not smaller falls back to the raw form and is reported via err
// only in the former case so callers can log it.
func (c *Codec) Encode(data []byte) ([]byte, Stats, error) {
	st := Stats{OriginalSize: len(data)}

	if c.compressor != nil && len(data) >= c.minSize && len(data) > 0 {
		packed, err := c.compressor.Compress(data)
		if err != nil {
			out := raw(data)
			st.StoredSize = len(out)
			return out, st, fmt.Errorf("compress %s: %w", c.compressor.Algorithm(), err)
		}
		if len(packed) < len(data) {
			out := make([]byte, 0, len(packed)+1)
			out = append(out, tagFor(c.compressor.Algorithm()))
			out = append(out, packed...)
			st.Compressed = true
			st.StoredSize = len(out)
			return out, st, nil
		}
	}

	out := raw(data)
	st.StoredSize = len(out)
	return out, st, nil
}

// Decode reverses Encode regardless of which algorithm produced the payload.
func Decode(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrCorruptPayload
	}
	body := payload[1:]
	switch payload[0] {
	case tagRaw:
		return body, nil
	case tagZstd:
		return zstdDecoder.Decompress(body)
	case tagLZ4:
		return lz4Decoder.Decompress(body)
	default:
		return nil, fmt.Errorf("%w: unknown tag 0x%02x", ErrCorruptPayload, payload[0])
	}
}

// IsCompressed reports whether an encoded payload holds compressed bytes.
func IsCompressed(payload []byte) bool {
	return len(payload) > 0 && payload[0] != tagRaw
}

func raw(data []byte) []byte {
	out := make([]byte, 0, len(data)+1)
	out = append(out, tagRaw)
	return append(out, data...)
}

func tagFor(alg Algorithm) byte {
	switch alg {
	case AlgorithmZstd:
		return tagZstd
	case AlgorithmLZ4:
		return tagLZ4
	default:
		return tagRaw
	}
}

var (
	zstdDecoder, _ = NewZstdCompressor(LevelDefault)
	lz4Decoder, _  = NewLZ4Compressor(LevelDefault)
)
