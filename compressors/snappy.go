package compressors

import (
	"fmt"

	"github.com/golang/snappy"

	"github.com/INLOpen/basalt/core"
)

// SnappyCompressor implements core.Compressor using the snappy block format.
type SnappyCompressor struct{}

var _ core.Compressor = (*SnappyCompressor)(nil)

func NewSnappyCompressor() *SnappyCompressor {
	return &SnappyCompressor{}
}

func (c *SnappyCompressor) Compress(src []byte) ([]byte, error) {
	return snappy.Encode(nil, src), nil
}

func (c *SnappyCompressor) Decompress(src []byte, dstSize int) ([]byte, error) {
	dst, err := snappy.Decode(make([]byte, 0, dstSize), src)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress: %w", err)
	}
	return dst, nil
}

func (c *SnappyCompressor) Type() core.CompressionType {
	return core.CompressionSnappy
}
