package sstable

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/INLOpen/basalt/core"
)

// File layout:
//
//	header:  [u64 magic][u8 format version][u8 compression]
//	blocks:  repeated [u32 crc][u32 uncompressedLen][payload]
//	index:   one block (never compressed) of
//	         [u32 count] { [uvarint keyLen][firstKey][u64 offset][u32 len] }
//	footer:  [u64 indexOffset][u32 indexLen][u64 magic]
//
// Block payload (after decompression):
//
//	[u32 count] { [uvarint keyLen][internal key][uvarint valLen][value] }
//
// Entries are sorted by internal key; the index records each block's first
// key so Seek binary-searches the index, then the block.

const (
	tableMagic    = uint64(0x62736c74_73737462) // "bslt" "sstb"
	formatVersion = 1

	headerLen     = 8 + 1 + 1
	blockFrameLen = 4 + 4
	footerLen     = 8 + 4 + 8
)

// FileName returns the SSTable file name for a file number.
func FileName(fileNumber uint64) string {
	return fmt.Sprintf("%06d.sst", fileNumber)
}

type indexEntry struct {
	firstKey []byte
	offset   uint64
	length   uint32
}

type blockEntry struct {
	key   []byte
	value []byte
}

// encodeBlock serializes entries into a block payload.
func encodeBlock(dst []byte, entries []blockEntry) []byte {
	var tmp [binary.MaxVarintLen64]byte
	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(len(entries)))
	dst = append(dst, count[:]...)
	for _, e := range entries {
		n := binary.PutUvarint(tmp[:], uint64(len(e.key)))
		dst = append(dst, tmp[:n]...)
		dst = append(dst, e.key...)
		n = binary.PutUvarint(tmp[:], uint64(len(e.value)))
		dst = append(dst, tmp[:n]...)
		dst = append(dst, e.value...)
	}
	return dst
}

// decodeBlock parses a block payload into entries.
func decodeBlock(payload []byte) ([]blockEntry, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("block too short: %w", core.ErrCorrupted)
	}
	count := binary.LittleEndian.Uint32(payload[:4])
	pos := 4
	entries := make([]blockEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		klen, n := binary.Uvarint(payload[pos:])
		if n <= 0 || pos+n+int(klen) > len(payload) {
			return nil, fmt.Errorf("block entry key: %w", core.ErrCorrupted)
		}
		pos += n
		key := payload[pos : pos+int(klen)]
		pos += int(klen)

		vlen, n := binary.Uvarint(payload[pos:])
		if n <= 0 || pos+n+int(vlen) > len(payload) {
			return nil, fmt.Errorf("block entry value: %w", core.ErrCorrupted)
		}
		pos += n
		value := payload[pos : pos+int(vlen)]
		pos += int(vlen)

		entries = append(entries, blockEntry{key: key, value: value})
	}
	return entries, nil
}

// frameBlock compresses payload and prepends the crc/length frame.
func frameBlock(payload []byte, compressor core.Compressor) ([]byte, error) {
	compressed, err := compressor.Compress(payload)
	if err != nil {
		return nil, fmt.Errorf("compress block: %w", err)
	}
	framed := make([]byte, blockFrameLen+len(compressed))
	binary.LittleEndian.PutUint32(framed[:4], crc32.ChecksumIEEE(compressed))
	binary.LittleEndian.PutUint32(framed[4:8], uint32(len(payload)))
	copy(framed[blockFrameLen:], compressed)
	return framed, nil
}

// unframeBlock verifies the crc and decompresses the payload.
func unframeBlock(framed []byte, compressor core.Compressor) ([]byte, error) {
	if len(framed) < blockFrameLen {
		return nil, fmt.Errorf("block frame too short: %w", core.ErrCorrupted)
	}
	sum := binary.LittleEndian.Uint32(framed[:4])
	uncompressedLen := binary.LittleEndian.Uint32(framed[4:8])
	payload := framed[blockFrameLen:]
	if crc32.ChecksumIEEE(payload) != sum {
		return nil, fmt.Errorf("block checksum mismatch: %w", core.ErrCorrupted)
	}
	return compressor.Decompress(payload, int(uncompressedLen))
}
