package compressors

import (
	"fmt"

	"github.com/INLOpen/basalt/core"
)

// ForType returns a compressor for the given on-disk compression type.
func ForType(ct core.CompressionType) (core.Compressor, error) {
	switch ct {
	case core.CompressionNone:
		return NewNoCompression(), nil
	case core.CompressionSnappy:
		return NewSnappyCompressor(), nil
	case core.CompressionLZ4:
		return NewLZ4Compressor(), nil
	case core.CompressionZSTD:
		return NewZstdCompressor()
	default:
		return nil, fmt.Errorf("unknown compression type %d", ct)
	}
}

// ForName returns a compressor for a configuration string ("none", "snappy",
// "lz4", "zstd").
func ForName(name string) (core.Compressor, error) {
	switch name {
	case "", "none":
		return NewNoCompression(), nil
	case "snappy":
		return NewSnappyCompressor(), nil
	case "lz4":
		return NewLZ4Compressor(), nil
	case "zstd":
		return NewZstdCompressor()
	default:
		return nil, fmt.Errorf("unknown compression %q", name)
	}
}
