package compressors

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/INLOpen/basalt/core"
)

// ZstdCompressor implements core.Compressor using zstd. A single shared
// encoder/decoder pair is reused across calls; both are safe for concurrent
// use via EncodeAll/DecodeAll.
type ZstdCompressor struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

var _ core.Compressor = (*ZstdCompressor)(nil)

func NewZstdCompressor() (*ZstdCompressor, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &ZstdCompressor{enc: enc, dec: dec}, nil
}

func (c *ZstdCompressor) Compress(src []byte) ([]byte, error) {
	return c.enc.EncodeAll(src, make([]byte, 0, len(src))), nil
}

func (c *ZstdCompressor) Decompress(src []byte, dstSize int) ([]byte, error) {
	dst, err := c.dec.DecodeAll(src, make([]byte, 0, dstSize))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return dst, nil
}

func (c *ZstdCompressor) Type() core.CompressionType {
	return core.CompressionZSTD
}
