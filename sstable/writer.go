package sstable

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/INLOpen/basalt/compressors"
	"github.com/INLOpen/basalt/core"
)

// WriterOptions configures a new SSTable writer.
type WriterOptions struct {
	DataDir    string
	FileNumber uint64
	BlockSize  int
	Compressor core.Compressor
	Logger     *slog.Logger
}

// Writer builds one sorted table file. Add must be called in ascending
// internal-key order; Finish seals the file, Abort discards it.
type Writer struct {
	file   *os.File
	bw     *bufio.Writer
	path   string
	opts   WriterOptions
	cmp    core.InternalKeyComparator
	logger *slog.Logger

	offset       uint64
	pending      []blockEntry
	pendingBytes int
	index        []indexEntry

	smallest []byte
	largest  []byte
	count    int
	finished bool
}

// NewWriter creates the table file and writes its header.
func NewWriter(opts WriterOptions) (*Writer, error) {
	if opts.BlockSize <= 0 {
		opts.BlockSize = 4096
	}
	if opts.Compressor == nil {
		opts.Compressor = compressors.NewNoCompression()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	path := filepath.Join(opts.DataDir, FileName(opts.FileNumber))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("create sstable %s: %w", path, err)
	}

	w := &Writer{
		file:   file,
		bw:     bufio.NewWriter(file),
		path:   path,
		opts:   opts,
		logger: opts.Logger.With("component", "SSTableWriter", "file_number", opts.FileNumber),
	}

	var header [headerLen]byte
	binary.LittleEndian.PutUint64(header[:8], tableMagic)
	header[8] = formatVersion
	header[9] = byte(opts.Compressor.Type())
	if _, err := w.bw.Write(header[:]); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write sstable header: %w", err)
	}
	w.offset = headerLen
	return w, nil
}

// Add appends one entry. ikey is an encoded internal key and must be
// strictly greater than the previously added key.
func (w *Writer) Add(ikey, value []byte) error {
	if w.finished {
		return core.ErrClosed
	}
	if w.largest != nil && w.cmp.Compare(ikey, w.largest) <= 0 {
		return fmt.Errorf("sstable entries out of order: %q after %q", ikey, w.largest)
	}

	keyCopy := append([]byte(nil), ikey...)
	valCopy := append([]byte(nil), value...)
	w.pending = append(w.pending, blockEntry{key: keyCopy, value: valCopy})
	w.pendingBytes += len(keyCopy) + len(valCopy)

	if w.smallest == nil {
		w.smallest = keyCopy
	}
	w.largest = keyCopy
	w.count++

	if w.pendingBytes >= w.opts.BlockSize {
		return w.flushBlock()
	}
	return nil
}

func (w *Writer) flushBlock() error {
	if len(w.pending) == 0 {
		return nil
	}
	payload := encodeBlock(nil, w.pending)
	framed, err := frameBlock(payload, w.opts.Compressor)
	if err != nil {
		return err
	}
	if _, err := w.bw.Write(framed); err != nil {
		return fmt.Errorf("write sstable block: %w", err)
	}
	w.index = append(w.index, indexEntry{
		firstKey: w.pending[0].key,
		offset:   w.offset,
		length:   uint32(len(framed)),
	})
	w.offset += uint64(len(framed))
	w.pending = w.pending[:0]
	w.pendingBytes = 0
	return nil
}

// Finish flushes the last block, writes the index and footer, and syncs the
// file to disk.
func (w *Writer) Finish() error {
	if w.finished {
		return core.ErrClosed
	}
	if err := w.flushBlock(); err != nil {
		return err
	}

	indexOffset := w.offset
	indexPayload := w.encodeIndex()
	if _, err := w.bw.Write(indexPayload); err != nil {
		return fmt.Errorf("write sstable index: %w", err)
	}
	w.offset += uint64(len(indexPayload))

	var footer [footerLen]byte
	binary.LittleEndian.PutUint64(footer[:8], indexOffset)
	binary.LittleEndian.PutUint32(footer[8:12], uint32(len(indexPayload)))
	binary.LittleEndian.PutUint64(footer[12:], tableMagic)
	if _, err := w.bw.Write(footer[:]); err != nil {
		return fmt.Errorf("write sstable footer: %w", err)
	}
	w.offset += footerLen

	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("flush sstable: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync sstable: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close sstable: %w", err)
	}
	w.finished = true
	w.logger.Debug("sstable written", "entries", w.count, "bytes", w.offset)
	return nil
}

func (w *Writer) encodeIndex() []byte {
	var tmp [binary.MaxVarintLen64]byte
	buf := make([]byte, 4, 4+len(w.index)*24)
	binary.LittleEndian.PutUint32(buf[:4], uint32(len(w.index)))
	for _, e := range w.index {
		n := binary.PutUvarint(tmp[:], uint64(len(e.firstKey)))
		buf = append(buf, tmp[:n]...)
		buf = append(buf, e.firstKey...)
		var fixed [12]byte
		binary.LittleEndian.PutUint64(fixed[:8], e.offset)
		binary.LittleEndian.PutUint32(fixed[8:], e.length)
		buf = append(buf, fixed[:]...)
	}
	sum := crc32.ChecksumIEEE(buf)
	var crc [4]byte
	binary.LittleEndian.PutUint32(crc[:], sum)
	return append(buf, crc[:]...)
}

// Abort discards the partially written file.
func (w *Writer) Abort() {
	if w.finished {
		return
	}
	w.finished = true
	w.file.Close()
	if err := os.Remove(w.path); err != nil {
		w.logger.Warn("failed to remove aborted sstable", "path", w.path, "error", err)
	}
}

// FilePath returns the path of the table file.
func (w *Writer) FilePath() string { return w.path }

// FileNumber returns the table's file number.
func (w *Writer) FileNumber() uint64 { return w.opts.FileNumber }

// Smallest returns the smallest internal key written so far.
func (w *Writer) Smallest() []byte { return w.smallest }

// Largest returns the largest internal key written so far.
func (w *Writer) Largest() []byte { return w.largest }

// Count returns the number of entries written.
func (w *Writer) Count() int { return w.count }

// Size returns the number of bytes written so far.
func (w *Writer) Size() int64 { return int64(w.offset) }
