package manifest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/INLOpen/basalt/core"
)

// FileMetadata describes one live SSTable recorded in the manifest.
type FileMetadata struct {
	FileNumber  uint64
	Size        int64
	SmallestKey []byte // internal key
	LargestKey  []byte // internal key
}

// VersionEdit is a unit of metadata mutation: files added and removed, plus
// updated counters. A memtable flush produces one edit for the whole batch,
// owned by the oldest memtable in the batch.
type VersionEdit struct {
	NewFiles       []FileMetadata
	DeletedFiles   []uint64
	NextFileNumber uint64
	LastSeqNum     uint64
}

// AddFile records a new live file in the edit.
func (e *VersionEdit) AddFile(meta FileMetadata) {
	e.NewFiles = append(e.NewFiles, meta)
}

// RemoveFile records a file deletion in the edit.
func (e *VersionEdit) RemoveFile(fileNumber uint64) {
	e.DeletedFiles = append(e.DeletedFiles, fileNumber)
}

// Empty reports whether the edit carries no mutations.
func (e *VersionEdit) Empty() bool {
	return len(e.NewFiles) == 0 && len(e.DeletedFiles) == 0 &&
		e.NextFileNumber == 0 && e.LastSeqNum == 0
}

// Clear resets the edit to empty, keeping allocated capacity.
func (e *VersionEdit) Clear() {
	e.NewFiles = e.NewFiles[:0]
	e.DeletedFiles = e.DeletedFiles[:0]
	e.NextFileNumber = 0
	e.LastSeqNum = 0
}

// EncodeTo writes the binary representation of the edit to w.
func (e *VersionEdit) EncodeTo(w io.Writer) error {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(len(e.NewFiles)))
	for _, f := range e.NewFiles {
		binary.Write(&buf, binary.LittleEndian, f.FileNumber)
		binary.Write(&buf, binary.LittleEndian, f.Size)
		binary.Write(&buf, binary.LittleEndian, uint32(len(f.SmallestKey)))
		buf.Write(f.SmallestKey)
		binary.Write(&buf, binary.LittleEndian, uint32(len(f.LargestKey)))
		buf.Write(f.LargestKey)
	}
	binary.Write(&buf, binary.LittleEndian, uint32(len(e.DeletedFiles)))
	for _, fn := range e.DeletedFiles {
		binary.Write(&buf, binary.LittleEndian, fn)
	}
	binary.Write(&buf, binary.LittleEndian, e.NextFileNumber)
	binary.Write(&buf, binary.LittleEndian, e.LastSeqNum)

	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write version edit: %w", err)
	}
	return nil
}

// DecodeFrom parses an edit from its binary representation.
func (e *VersionEdit) DecodeFrom(data []byte) error {
	r := bytes.NewReader(data)
	var nFiles uint32
	if err := binary.Read(r, binary.LittleEndian, &nFiles); err != nil {
		return fmt.Errorf("decode version edit: %w", core.ErrCorrupted)
	}
	e.NewFiles = make([]FileMetadata, 0, nFiles)
	for i := uint32(0); i < nFiles; i++ {
		var f FileMetadata
		if err := binary.Read(r, binary.LittleEndian, &f.FileNumber); err != nil {
			return fmt.Errorf("decode file number: %w", core.ErrCorrupted)
		}
		if err := binary.Read(r, binary.LittleEndian, &f.Size); err != nil {
			return fmt.Errorf("decode file size: %w", core.ErrCorrupted)
		}
		var err error
		if f.SmallestKey, err = readLenPrefixed(r); err != nil {
			return fmt.Errorf("decode smallest key: %w", err)
		}
		if f.LargestKey, err = readLenPrefixed(r); err != nil {
			return fmt.Errorf("decode largest key: %w", err)
		}
		e.NewFiles = append(e.NewFiles, f)
	}
	var nDeleted uint32
	if err := binary.Read(r, binary.LittleEndian, &nDeleted); err != nil {
		return fmt.Errorf("decode deleted count: %w", core.ErrCorrupted)
	}
	e.DeletedFiles = make([]uint64, 0, nDeleted)
	for i := uint32(0); i < nDeleted; i++ {
		var fn uint64
		if err := binary.Read(r, binary.LittleEndian, &fn); err != nil {
			return fmt.Errorf("decode deleted file: %w", core.ErrCorrupted)
		}
		e.DeletedFiles = append(e.DeletedFiles, fn)
	}
	if err := binary.Read(r, binary.LittleEndian, &e.NextFileNumber); err != nil {
		return fmt.Errorf("decode next file number: %w", core.ErrCorrupted)
	}
	if err := binary.Read(r, binary.LittleEndian, &e.LastSeqNum); err != nil {
		return fmt.Errorf("decode last seq num: %w", core.ErrCorrupted)
	}
	return nil
}

func readLenPrefixed(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, core.ErrCorrupted
	}
	if int(n) > r.Len() {
		return nil, core.ErrCorrupted
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, core.ErrCorrupted
	}
	return b, nil
}
