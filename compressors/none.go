package compressors

import "github.com/INLOpen/basalt/core"

// NoCompression implements core.Compressor without performing compression.
type NoCompression struct{}

var _ core.Compressor = (*NoCompression)(nil)

func NewNoCompression() *NoCompression {
	return &NoCompression{}
}

func (c *NoCompression) Compress(src []byte) ([]byte, error) {
	return src, nil
}

func (c *NoCompression) Decompress(src []byte, dstSize int) ([]byte, error) {
	return src, nil
}

func (c *NoCompression) Type() core.CompressionType {
	return core.CompressionNone
}
