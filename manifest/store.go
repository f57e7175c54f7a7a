package manifest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/INLOpen/basalt/core"
)

const (
	manifestFileName = "MANIFEST"
	manifestMagic    = uint64(0x62736c74_6d616e69) // "bslt" "mani"
)

// Version is an immutable snapshot of the live file set.
type Version struct {
	// Files lists live SSTables newest-first (descending file number).
	Files []FileMetadata
}

// Store is the durable metadata store: an append-only log of VersionEdits
// plus the in-memory state they fold into. One record per applied edit,
// framed as [u32 length][u32 crc][payload].
type Store struct {
	dir    string
	file   *os.File
	logger *slog.Logger

	// logMu serializes appends to the manifest file. It is held only while
	// the caller's coordination lock is released, never together with it.
	logMu sync.Mutex

	// State below is guarded by the caller's coordination lock, per the
	// same convention the flush list follows.
	live           map[uint64]FileMetadata
	nextFileNumber uint64
	lastSeqNum     uint64
	closed         bool
}

// Open opens or creates the manifest in dir and replays every record.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create manifest dir %s: %w", dir, err)
	}
	path := filepath.Join(dir, manifestFileName)

	s := &Store{
		dir:            dir,
		logger:         logger.With("component", "ManifestStore"),
		live:           make(map[uint64]FileMetadata),
		nextFileNumber: 1,
	}

	existing, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := s.replay(existing); err != nil {
			return nil, err
		}
	case os.IsNotExist(err):
		// Fresh store; header written below.
	default:
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open manifest %s: %w", path, err)
	}
	s.file = file

	if len(existing) == 0 {
		var header [8]byte
		binary.LittleEndian.PutUint64(header[:], manifestMagic)
		if _, err := file.Write(header[:]); err != nil {
			file.Close()
			return nil, fmt.Errorf("write manifest header: %w", err)
		}
		if err := file.Sync(); err != nil {
			file.Close()
			return nil, fmt.Errorf("sync manifest header: %w", err)
		}
	}

	s.logger.Info("manifest opened", "live_files", len(s.live), "next_file_number", s.nextFileNumber)
	return s, nil
}

func (s *Store) replay(data []byte) error {
	if len(data) < 8 || binary.LittleEndian.Uint64(data[:8]) != manifestMagic {
		return fmt.Errorf("manifest header: %w", core.ErrCorrupted)
	}
	r := bytes.NewReader(data[8:])
	for r.Len() > 0 {
		var frame [8]byte
		if _, err := io.ReadFull(r, frame[:]); err != nil {
			return fmt.Errorf("manifest record frame: %w", core.ErrCorrupted)
		}
		length := binary.LittleEndian.Uint32(frame[:4])
		sum := binary.LittleEndian.Uint32(frame[4:])
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return fmt.Errorf("manifest record payload: %w", core.ErrCorrupted)
		}
		if crc32.ChecksumIEEE(payload) != sum {
			return fmt.Errorf("manifest record checksum: %w", core.ErrCorrupted)
		}
		var edit VersionEdit
		if err := edit.DecodeFrom(payload); err != nil {
			return err
		}
		s.apply(&edit)
	}
	return nil
}

// LogAndApply durably records edit and folds it into the current version.
// The caller must hold mu; the file append and sync run with mu released,
// and mu is reacquired before the in-memory state changes. Callers must
// therefore tolerate unrelated state changes across this call.
func (s *Store) LogAndApply(mu *sync.Mutex, edit *VersionEdit) error {
	if s.closed {
		return core.ErrClosed
	}

	var payload bytes.Buffer
	if err := edit.EncodeTo(&payload); err != nil {
		return err
	}

	mu.Unlock()
	s.logMu.Lock()
	err := s.appendRecord(payload.Bytes())
	s.logMu.Unlock()
	mu.Lock()

	if err != nil {
		return err
	}
	s.apply(edit)
	return nil
}

func (s *Store) appendRecord(payload []byte) error {
	var frame [8]byte
	binary.LittleEndian.PutUint32(frame[:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(frame[4:], crc32.ChecksumIEEE(payload))
	if _, err := s.file.Write(frame[:]); err != nil {
		return fmt.Errorf("append manifest record: %w", err)
	}
	if _, err := s.file.Write(payload); err != nil {
		return fmt.Errorf("append manifest record: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync manifest: %w", err)
	}
	return nil
}

// apply folds an edit into the in-memory state. Caller holds the
// coordination lock.
func (s *Store) apply(edit *VersionEdit) {
	for _, fn := range edit.DeletedFiles {
		delete(s.live, fn)
	}
	for _, f := range edit.NewFiles {
		s.live[f.FileNumber] = f
	}
	if edit.NextFileNumber > s.nextFileNumber {
		s.nextFileNumber = edit.NextFileNumber
	}
	if edit.LastSeqNum > s.lastSeqNum {
		s.lastSeqNum = edit.LastSeqNum
	}
}

// NewFileNumber allocates the next file number. Caller holds the
// coordination lock.
func (s *Store) NewFileNumber() uint64 {
	n := s.nextFileNumber
	s.nextFileNumber++
	return n
}

// NextFileNumber returns the next number that will be allocated.
func (s *Store) NextFileNumber() uint64 {
	return s.nextFileNumber
}

// LastSeqNum returns the highest committed sequence number.
func (s *Store) LastSeqNum() uint64 {
	return s.lastSeqNum
}

// Current returns a snapshot of the live file set, newest-first.
// Caller holds the coordination lock.
func (s *Store) Current() Version {
	files := make([]FileMetadata, 0, len(s.live))
	for _, f := range s.live {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].FileNumber > files[j].FileNumber
	})
	return Version{Files: files}
}

// Close syncs and closes the manifest file.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return fmt.Errorf("sync manifest on close: %w", err)
	}
	return s.file.Close()
}
