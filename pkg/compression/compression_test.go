package compression

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressors(t *testing.T) {
	small := []byte("Hello, World! This is some test data that should be compressed.")
	repetitive := bytes.Repeat([]byte("competitive pressure "), 500)

	tests := []struct {
		name    string
		newFunc func() (Compressor, error)
		data    []byte
	}{
		{"Zstd-small", func() (Compressor, error) { return NewZstdCompressor(LevelDefault) }, small},
		{"Zstd-repetitive", func() (Compressor, error) { return NewZstdCompressor(LevelBest) }, repetitive},
		{"LZ4-small", func() (Compressor, error) { return NewLZ4Compressor(LevelDefault) }, small},
		{"LZ4-repetitive", func() (Compressor, error) { return NewLZ4Compressor(LevelFastest) }, repetitive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			comp, err := tt.newFunc()
			require.NoError(t, err)

			packed, err := comp.Compress(tt.data)
			require.NoError(t, err)
			assert.NotEmpty(t, packed)

			unpacked, err := comp.Decompress(packed)
			require.NoError(t, err)
			assert.Equal(t, tt.data, unpacked)
		})
	}
}

func TestCodecThreshold(t *testing.T) {
	zc, err := New(AlgorithmZstd, LevelDefault)
	require.NoError(t, err)
	codec := NewCodec(zc, 256)

	short := []byte(`{"pricing":"aggressive"}`)
	out, st, err := codec.Encode(short)
	require.NoError(t, err)
	assert.False(t, st.Compressed)
	assert.False(t, IsCompressed(out))

	long := bytes.Repeat([]byte(`{"pricing":"aggressive discounting"}`), 40)
	out, st, err = codec.Encode(long)
	require.NoError(t, err)
	assert.True(t, st.Compressed)
	assert.Less(t, st.StoredSize, st.OriginalSize)

	back, err := Decode(out)
	require.NoError(t, err)
	assert.Equal(t, long, back)
}

func TestCodecRoundTripAcrossAlgorithms(t *testing.T) {
	payloads := [][]byte{
		{},
		[]byte("x"),
		bytes.Repeat([]byte("abc"), 1000),
	}
	for _, alg := range []Algorithm{AlgorithmNone, AlgorithmZstd, AlgorithmLZ4} {
		c, err := New(alg, LevelDefault)
		require.NoError(t, err)
		codec := NewCodec(c, 0)
		for _, p := range payloads {
			out, _, err := codec.Encode(p)
			require.NoError(t, err)
			back, err := Decode(out)
			require.NoError(t, err)
			assert.Equal(t, len(p), len(back), "alg=%s", alg)
			assert.True(t, bytes.Equal(p, back), "alg=%s", alg)
		}
	}
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	_, err := Decode([]byte{0x7f, 1, 2})
	assert.ErrorIs(t, err, ErrCorruptPayload)

	_, err = Decode(nil)
	assert.ErrorIs(t, err, ErrCorruptPayload)
}
