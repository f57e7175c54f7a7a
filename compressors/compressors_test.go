package compressors

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/basalt/core"
)

func allCompressors(t *testing.T) []core.Compressor {
	t.Helper()
	zstd, err := NewZstdCompressor()
	require.NoError(t, err)
	return []core.Compressor{
		NewNoCompression(),
		NewSnappyCompressor(),
		NewLZ4Compressor(),
		zstd,
	}
}

func TestCompressorsRoundTrip(t *testing.T) {
	compressible := bytes.Repeat([]byte("abcdefgh"), 512)
	incompressible := make([]byte, 256)
	for i := range incompressible {
		incompressible[i] = byte(i*7 + 13)
	}

	for _, c := range allCompressors(t) {
		t.Run(c.Type().String(), func(t *testing.T) {
			for _, src := range [][]byte{compressible, incompressible, {}} {
				compressed, err := c.Compress(src)
				require.NoError(t, err)
				out, err := c.Decompress(compressed, len(src))
				require.NoError(t, err)
				assert.Equal(t, src, out)
			}
		})
	}
}

func TestForTypeMatchesForName(t *testing.T) {
	cases := map[string]core.CompressionType{
		"none":   core.CompressionNone,
		"snappy": core.CompressionSnappy,
		"lz4":    core.CompressionLZ4,
		"zstd":   core.CompressionZSTD,
	}
	for name, ct := range cases {
		byName, err := ForName(name)
		require.NoError(t, err)
		byType, err := ForType(ct)
		require.NoError(t, err)
		assert.Equal(t, ct, byName.Type())
		assert.Equal(t, ct, byType.Type())
	}

	_, err := ForName("gzip")
	require.Error(t, err)
	_, err = ForType(core.CompressionType(99))
	require.Error(t, err)
}
