package compression

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ZstdCompressor implements Zstandard compression. Encoder and decoder are
// created lazily and reused; both are safe for concurrent EncodeAll/DecodeAll.
type ZstdCompressor struct {
	level zstd.EncoderLevel

	once    sync.Once
	enc     *zstd.Encoder
	dec     *zstd.Decoder
	initErr error
}

// NewZstdCompressor creates a new Zstd compressor
func NewZstdCompressor(level Level) (*ZstdCompressor, error) {
	var zstdLevel zstd.EncoderLevel
	switch level {
	case LevelFastest:
		zstdLevel = zstd.SpeedFastest
	case LevelBest:
		zstdLevel = zstd.SpeedBestCompression
	default:
		zstdLevel = zstd.SpeedDefault
	}
	return &ZstdCompressor{level: zstdLevel}, nil
}

func (c *ZstdCompressor) init() error {
	c.once.Do(func() {
		c.enc, c.initErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(c.level))
		if c.initErr != nil {
			return
		}
		c.dec, c.initErr = zstd.NewReader(nil)
	})
	return c.initErr
}

func (c *ZstdCompressor) Algorithm() Algorithm {
	return AlgorithmZstd
}

func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	if err := c.init(); err != nil {
		return nil, err
	}
	return c.enc.EncodeAll(data, nil), nil
}

func (c *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	if err := c.init(); err != nil {
		return nil, err
	}
	return c.dec.DecodeAll(data, nil)
}

var _ Compressor = (*ZstdCompressor)(nil)
