package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/INLOpen/basalt/compressors"
	"github.com/INLOpen/basalt/core"
)

// ReaderOptions configures opening an existing table file.
type ReaderOptions struct {
	FilePath   string
	FileNumber uint64
	Logger     *slog.Logger
}

// Reader serves lookups and iteration over one immutable table file. The
// index is held in memory; data blocks are read and decoded on demand.
// Safe for concurrent readers.
//
// A Reader is reference counted: OpenReader hands out the first reference,
// every snapshot that wants to outlive the table's registration takes another
// with Ref, and the file closes when the last reference is dropped.
type Reader struct {
	refs       atomic.Int32
	file       *os.File
	path       string
	fileNumber uint64
	size       int64
	compressor core.Compressor
	cmp        core.InternalKeyComparator
	index      []indexEntry
	logger     *slog.Logger
}

// OpenReader opens a table file, validating the header and footer and
// loading the block index.
func OpenReader(opts ReaderOptions) (*Reader, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	file, err := os.Open(opts.FilePath)
	if err != nil {
		return nil, fmt.Errorf("open sstable %s: %w", opts.FilePath, err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat sstable %s: %w", opts.FilePath, err)
	}
	if stat.Size() < headerLen+footerLen {
		file.Close()
		return nil, fmt.Errorf("sstable %s truncated: %w", opts.FilePath, core.ErrCorrupted)
	}

	r := &Reader{
		file:       file,
		path:       opts.FilePath,
		fileNumber: opts.FileNumber,
		size:       stat.Size(),
		logger:     opts.Logger.With("component", "SSTableReader", "file_number", opts.FileNumber),
	}
	r.refs.Store(1)

	var header [headerLen]byte
	if _, err := file.ReadAt(header[:], 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("read sstable header: %w", err)
	}
	if binary.LittleEndian.Uint64(header[:8]) != tableMagic {
		file.Close()
		return nil, fmt.Errorf("sstable %s bad magic: %w", opts.FilePath, core.ErrCorrupted)
	}
	if header[8] != formatVersion {
		file.Close()
		return nil, fmt.Errorf("sstable %s unsupported format version %d", opts.FilePath, header[8])
	}
	r.compressor, err = compressors.ForType(core.CompressionType(header[9]))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("sstable %s: %w", opts.FilePath, err)
	}

	var footer [footerLen]byte
	if _, err := file.ReadAt(footer[:], stat.Size()-footerLen); err != nil {
		file.Close()
		return nil, fmt.Errorf("read sstable footer: %w", err)
	}
	if binary.LittleEndian.Uint64(footer[12:]) != tableMagic {
		file.Close()
		return nil, fmt.Errorf("sstable %s bad footer magic: %w", opts.FilePath, core.ErrCorrupted)
	}
	indexOffset := binary.LittleEndian.Uint64(footer[:8])
	indexLen := binary.LittleEndian.Uint32(footer[8:12])

	indexPayload := make([]byte, indexLen)
	if _, err := file.ReadAt(indexPayload, int64(indexOffset)); err != nil {
		file.Close()
		return nil, fmt.Errorf("read sstable index: %w", err)
	}
	if err := r.decodeIndex(indexPayload); err != nil {
		file.Close()
		return nil, fmt.Errorf("sstable %s index: %w", opts.FilePath, err)
	}
	return r, nil
}

func (r *Reader) decodeIndex(payload []byte) error {
	if len(payload) < 8 {
		return core.ErrCorrupted
	}
	body := payload[:len(payload)-4]
	sum := binary.LittleEndian.Uint32(payload[len(payload)-4:])
	if crc32.ChecksumIEEE(body) != sum {
		return core.ErrCorrupted
	}
	count := binary.LittleEndian.Uint32(body[:4])
	pos := 4
	r.index = make([]indexEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		klen, n := binary.Uvarint(body[pos:])
		if n <= 0 || pos+n+int(klen)+12 > len(body) {
			return core.ErrCorrupted
		}
		pos += n
		firstKey := body[pos : pos+int(klen)]
		pos += int(klen)
		offset := binary.LittleEndian.Uint64(body[pos : pos+8])
		length := binary.LittleEndian.Uint32(body[pos+8 : pos+12])
		pos += 12
		r.index = append(r.index, indexEntry{firstKey: firstKey, offset: offset, length: length})
	}
	return nil
}

// readBlock reads, verifies and decodes block i.
func (r *Reader) readBlock(i int) ([]blockEntry, error) {
	e := r.index[i]
	framed := make([]byte, e.length)
	if _, err := r.file.ReadAt(framed, int64(e.offset)); err != nil {
		return nil, fmt.Errorf("read sstable block %d: %w", i, err)
	}
	payload, err := unframeBlock(framed, r.compressor)
	if err != nil {
		return nil, fmt.Errorf("sstable block %d: %w", i, err)
	}
	return decodeBlock(payload)
}

// Get returns the newest version of userKey stored in this table.
func (r *Reader) Get(userKey []byte) (value []byte, entryType core.EntryType, found bool, err error) {
	it := r.NewIterator()
	defer it.Close()

	// The newest version for a user key is the smallest internal key with
	// that user key, so a seek with the maximum trailer lands on it.
	it.Seek(core.EncodeInternalKey(userKey, core.MaxSequenceNumber, 0xff))
	if !it.Valid() {
		return nil, 0, false, it.Error()
	}
	foundUser, _, et, perr := core.ParseInternalKey(it.Key())
	if perr != nil {
		return nil, 0, false, perr
	}
	if !bytes.Equal(foundUser, userKey) {
		return nil, 0, false, it.Error()
	}
	if et == core.EntryTypeDelete {
		return nil, et, true, nil
	}
	v := append([]byte(nil), it.Value()...)
	return v, et, true, nil
}

// FileNumber returns the table's file number.
func (r *Reader) FileNumber() uint64 { return r.fileNumber }

// FilePath returns the path of the table file.
func (r *Reader) FilePath() string { return r.path }

// Size returns the file size in bytes.
func (r *Reader) Size() int64 { return r.size }

// Ref acquires an additional reference.
func (r *Reader) Ref() {
	r.refs.Add(1)
}

// Unref releases a reference. The underlying file is closed when the last
// reference is dropped.
func (r *Reader) Unref() error {
	n := r.refs.Add(-1)
	if n < 0 {
		panic("sstable: reader reference count below zero")
	}
	if n == 0 {
		return r.file.Close()
	}
	return nil
}

// Close drops the opener's reference.
func (r *Reader) Close() error {
	return r.Unref()
}
