package engine

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/INLOpen/basalt/compressors"
	"github.com/INLOpen/basalt/core"
	"github.com/INLOpen/basalt/manifest"
	"github.com/INLOpen/basalt/memtable"
	"github.com/INLOpen/basalt/sstable"
)

// Options configures an Engine.
type Options struct {
	DataDir string

	// MemtableThreshold is the size in bytes at which the active memtable
	// is sealed and handed to the flush list.
	MemtableThreshold int64

	// MinFlushThreshold is the number of sealed tables that must be
	// pending before a background flush is scheduled.
	MinFlushThreshold int

	// SSTableBlockSize is the target uncompressed block size.
	SSTableBlockSize int

	// Compression names the block compression: none, snappy, lz4, zstd.
	Compression string

	// FlushWorkers is the number of background flush goroutines.
	FlushWorkers int

	// FlushInterval bounds how long a sealed table waits when the pending
	// count stays below MinFlushThreshold.
	FlushInterval time.Duration

	Logger *slog.Logger

	// TestingOnlyFailFlushCount makes the next N table writes fail.
	TestingOnlyFailFlushCount *atomic.Int32

	// TestingOnlyFailCommitCount makes the next N manifest commits fail.
	TestingOnlyFailCommitCount *atomic.Int32
}

func (o *Options) withDefaults() {
	if o.MemtableThreshold <= 0 {
		o.MemtableThreshold = 4 * 1024 * 1024
	}
	if o.MinFlushThreshold <= 0 {
		o.MinFlushThreshold = 1
	}
	if o.SSTableBlockSize <= 0 {
		o.SSTableBlockSize = 4096
	}
	if o.FlushWorkers <= 0 {
		o.FlushWorkers = 1
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// Engine is an LSM storage engine core: an active memtable, a flush list of
// sealed memtables, SSTables on disk and a manifest recording the live file
// set.
//
// mu is the process-wide coordination lock of the design: every flush-list
// call and all engine state mutations happen under it. The one operation
// allowed to release and reacquire it internally is the manifest commit.
type Engine struct {
	opts       Options
	logger     *slog.Logger
	tracer     trace.Tracer
	compressor core.Compressor
	cmp        core.InternalKeyComparator

	mu       sync.Mutex
	active   *memtable.Memtable
	imm      *memtable.FlushList
	versions *manifest.Store
	store    memtable.MetadataStore
	readers  map[uint64]*sstable.Reader

	// pendingOutputs holds file numbers of flushes that have been assigned
	// but not yet committed, shared with the compaction subsystem so those
	// files are neither collected nor double-used.
	pendingOutputs map[uint64]struct{}

	seq    atomic.Uint64
	closed bool

	flushCh  chan struct{}
	shutdown chan struct{}
	workers  *errgroup.Group
}

// Open opens or creates an engine in opts.DataDir and starts the background
// flush workers.
func Open(opts Options) (*Engine, error) {
	opts.withDefaults()
	if opts.DataDir == "" {
		return nil, fmt.Errorf("engine: DataDir is required")
	}
	if err := os.MkdirAll(opts.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	compressor, err := compressors.ForName(opts.Compression)
	if err != nil {
		return nil, err
	}

	versions, err := manifest.Open(opts.DataDir, opts.Logger)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		opts:           opts,
		logger:         opts.Logger.With("component", "Engine"),
		tracer:         otel.Tracer("github.com/INLOpen/basalt/engine"),
		compressor:     compressor,
		versions:       versions,
		imm:            memtable.NewFlushList(opts.Logger),
		active:         memtable.New(opts.MemtableThreshold),
		readers:        make(map[uint64]*sstable.Reader),
		pendingOutputs: make(map[uint64]struct{}),
		flushCh:        make(chan struct{}, 1),
		shutdown:       make(chan struct{}),
	}
	e.seq.Store(versions.LastSeqNum())
	e.store = versions
	if opts.TestingOnlyFailCommitCount != nil {
		e.store = &commitFailPoint{store: versions, count: opts.TestingOnlyFailCommitCount}
	}

	e.mu.Lock()
	err = e.ensureReadersLocked()
	e.mu.Unlock()
	if err != nil {
		versions.Close()
		return nil, err
	}

	e.workers = &errgroup.Group{}
	for i := 0; i < opts.FlushWorkers; i++ {
		e.workers.Go(e.flushLoop)
	}

	e.logger.Info("engine opened", "data_dir", opts.DataDir, "live_files", len(e.readers), "last_seq", e.seq.Load())
	return e, nil
}

// Put writes a key-value pair.
func (e *Engine) Put(key, value []byte) error {
	return e.write(key, value, core.EntryTypePut)
}

// Delete writes a tombstone for key.
func (e *Engine) Delete(key []byte) error {
	return e.write(key, nil, core.EntryTypeDelete)
}

func (e *Engine) write(key, value []byte, entryType core.EntryType) error {
	keyCopy := append([]byte(nil), key...)
	valCopy := append([]byte(nil), value...)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return core.ErrClosed
	}
	// Allocated under mu so a concurrent seal can never strand a lower
	// sequence number in a newer memtable.
	seq := e.seq.Add(1)
	if err := e.active.Put(keyCopy, valCopy, entryType, seq); err != nil {
		e.mu.Unlock()
		return err
	}
	if e.active.IsFull() {
		e.sealActiveLocked()
	}
	e.mu.Unlock()

	// Cheap, lock-free check: only take the scheduling path when a flush
	// may actually be outstanding.
	if e.imm.FlushNeeded() {
		e.signalFlush()
	}
	return nil
}

// sealActiveLocked moves the active memtable to the flush list and installs
// a fresh one. Caller holds mu.
func (e *Engine) sealActiveLocked() {
	sealed := e.active
	e.imm.Add(sealed)
	sealed.Unref() // the flush list now holds its own reference
	e.active = memtable.New(e.opts.MemtableThreshold)
	e.logger.Debug("memtable sealed", "size_bytes", sealed.ApproximateMemoryUsage(), "pending", e.imm.Size())
}

func (e *Engine) signalFlush() {
	select {
	case e.flushCh <- struct{}{}:
	default:
	}
}

// Get returns the newest value for key. The lookup order is the active
// memtable, then the flush list (newest first), then SSTables newest first.
func (e *Engine) Get(key []byte) ([]byte, bool, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, false, core.ErrClosed
	}
	active := e.active
	active.Ref()
	e.imm.RefAll()
	mems := e.imm.GetMemTables()
	tables := e.readersSnapshotLocked()
	e.mu.Unlock()

	defer func() {
		active.Unref()
		for _, m := range mems {
			m.Unref()
		}
		for _, r := range tables {
			r.Unref()
		}
	}()

	if v, t, ok := active.Get(key); ok {
		return getResult(v, t)
	}
	for _, m := range mems {
		if v, t, ok := m.Get(key); ok {
			return getResult(v, t)
		}
	}
	for _, r := range tables {
		v, t, ok, err := r.Get(key)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return getResult(v, t)
		}
	}
	return nil, false, nil
}

func getResult(value []byte, entryType core.EntryType) ([]byte, bool, error) {
	if entryType == core.EntryTypeDelete {
		return nil, false, nil
	}
	return value, true, nil
}

// readersSnapshotLocked returns the open readers newest-first, taking a
// reference on each so the snapshot stays readable if a reader is dropped
// underneath it. The caller unrefs every entry when done. Caller holds mu.
func (e *Engine) readersSnapshotLocked() []*sstable.Reader {
	out := make([]*sstable.Reader, 0, len(e.readers))
	for _, r := range e.readers {
		r.Ref()
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FileNumber() > out[j].FileNumber()
	})
	return out
}

// ensureReadersLocked opens readers for every live manifest file that does
// not have one yet. Caller holds mu.
func (e *Engine) ensureReadersLocked() error {
	for _, f := range e.versions.Current().Files {
		if _, ok := e.readers[f.FileNumber]; ok {
			continue
		}
		r, err := sstable.OpenReader(sstable.ReaderOptions{
			FilePath:   filepath.Join(e.opts.DataDir, sstable.FileName(f.FileNumber)),
			FileNumber: f.FileNumber,
			Logger:     e.opts.Logger,
		})
		if err != nil {
			return err
		}
		e.readers[f.FileNumber] = r
	}
	return nil
}

// ApproximateMemoryUsage reports the in-memory footprint of the active
// memtable plus every sealed table awaiting flush.
func (e *Engine) ApproximateMemoryUsage() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active.ApproximateMemoryUsage() + e.imm.ApproximateMemoryUsage()
}

// Close flushes all remaining memtables, stops the workers and closes every
// file.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	// Seal whatever is in the active memtable so the final flush covers it.
	if e.active.Len() > 0 {
		e.sealActiveLocked()
	}
	e.mu.Unlock()

	close(e.shutdown)
	if err := e.workers.Wait(); err != nil {
		e.logger.Error("flush worker exited with error", "error", err)
	}

	var firstErr error
	if err := e.flushRemaining(); err != nil {
		firstErr = err
	}

	e.mu.Lock()
	e.closed = true
	e.active.Unref()
	for _, r := range e.readers {
		if err := r.Unref(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.readers = nil
	err := e.versions.Close()
	e.mu.Unlock()
	if err != nil && firstErr == nil {
		firstErr = err
	}
	e.logger.Info("engine closed")
	return firstErr
}
