package compressors

import (
	"fmt"

	lz4 "github.com/pierrec/lz4/v4"

	"github.com/INLOpen/basalt/core"
)

// LZ4Compressor implements core.Compressor using the LZ4 block format.
// The block format does not record the original size, so Decompress relies
// on the dstSize recorded by the block framing.
type LZ4Compressor struct{}

var _ core.Compressor = (*LZ4Compressor)(nil)

func NewLZ4Compressor() *LZ4Compressor {
	return &LZ4Compressor{}
}

func (c *LZ4Compressor) Compress(src []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 || n >= len(src) {
		// Incompressible input. Store it raw with a copy so the caller
		// still owns the result; Decompress detects this case by length.
		return append([]byte(nil), src...), nil
	}
	return dst[:n], nil
}

func (c *LZ4Compressor) Decompress(src []byte, dstSize int) ([]byte, error) {
	if dstSize == len(src) {
		// Raw block stored by Compress for incompressible input.
		return src, nil
	}
	dst := make([]byte, dstSize)
	n, err := lz4.UncompressBlock(src, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return dst[:n], nil
}

func (c *LZ4Compressor) Type() core.CompressionType {
	return core.CompressionLZ4
}
