package core

// CompressionType identifies the compression algorithm used.
// It is stored on disk so readers know how to decompress.
type CompressionType byte

const (
	CompressionNone   CompressionType = 0
	CompressionSnappy CompressionType = 1
	CompressionLZ4    CompressionType = 2
	CompressionZSTD   CompressionType = 3
)

// Compressor defines the interface for block compression algorithms.
type Compressor interface {
	// Compress compresses src into a new slice.
	Compress(src []byte) ([]byte, error)
	// Decompress decompresses src. dstSize is the original uncompressed
	// length, which block framing records alongside the payload.
	Decompress(src []byte, dstSize int) ([]byte, error)
	// Type returns the CompressionType identifier for this compressor.
	Type() CompressionType
}

// String returns the string representation of the CompressionType.
func (ct CompressionType) String() string {
	switch ct {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return "unknown"
	}
}
