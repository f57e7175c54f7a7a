package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/INLOpen/basalt/core"
	"github.com/INLOpen/basalt/iterator"
	"github.com/INLOpen/basalt/manifest"
	"github.com/INLOpen/basalt/memtable"
	"github.com/INLOpen/basalt/sstable"
)

// flushLoop runs in a background goroutine until shutdown. It wakes on an
// explicit signal or on a timer so a lone sealed table below the minimum
// batch threshold still reaches disk.
func (e *Engine) flushLoop() error {
	ticker := time.NewTicker(e.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.shutdown:
			return nil
		case <-e.flushCh:
		case <-ticker.C:
		}
		for {
			e.mu.Lock()
			pending := e.imm.IsFlushPending(e.opts.MinFlushThreshold)
			e.mu.Unlock()
			if !pending {
				break
			}
			if err := e.flushOnce(context.Background()); err != nil {
				e.logger.Error("background flush failed", "error", err)
				// Tables were rolled back to pending. Back off before the
				// retry so a persistent disk error does not spin.
				select {
				case <-e.shutdown:
					return nil
				case <-time.After(e.opts.FlushInterval):
				}
			}
		}
	}
}

// flushRemaining drains the flush list synchronously. Used on Close after
// the workers have stopped.
func (e *Engine) flushRemaining() error {
	for {
		e.mu.Lock()
		pending := e.imm.IsFlushPending(1)
		e.mu.Unlock()
		if !pending {
			return nil
		}
		if err := e.flushOnce(context.Background()); err != nil {
			return err
		}
	}
}

// flushOnce picks the current batch of sealed memtables, writes them to a
// single SSTable and installs the result through the manifest.
func (e *Engine) flushOnce(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "Engine.flushOnce")
	defer span.End()

	e.mu.Lock()
	mems := e.imm.PickMemtablesToFlush()
	if len(mems) == 0 {
		e.mu.Unlock()
		return nil
	}
	fileNumber := e.versions.NewFileNumber()
	e.pendingOutputs[fileNumber] = struct{}{}
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Int("flush.memtables", len(mems)),
		attribute.Int64("flush.file_number", int64(fileNumber)),
	)
	e.logger.Info("flush started", "memtables", len(mems), "file_number", fileNumber)

	meta, flushErr := e.writeTable(ctx, mems, fileNumber)

	e.mu.Lock()
	defer e.mu.Unlock()

	if flushErr == nil {
		// Register the reader before the batch can leave the flush list so
		// there is never a moment where the data is in neither source.
		reader, openErr := sstable.OpenReader(sstable.ReaderOptions{
			FilePath:   filepath.Join(e.opts.DataDir, sstable.FileName(fileNumber)),
			FileNumber: fileNumber,
			Logger:     e.opts.Logger,
		})
		if openErr != nil {
			flushErr = openErr
		} else {
			e.readers[fileNumber] = reader

			edit := mems[0].PendingEdit()
			edit.AddFile(meta)
			edit.NextFileNumber = e.versions.NextFileNumber()
			edit.LastSeqNum = e.seq.Load()
		}
	}

	err := e.imm.InstallMemtableFlushResults(mems, e.store, flushErr, &e.mu, fileNumber, e.pendingOutputs)
	if err != nil {
		// The drain may have failed on a different batch than ours, or on
		// ours with only the oldest table rolled back. The file can only be
		// dropped once no batch member references it; while a member still
		// carries it, the file holds the only durable copy of that member's
		// data.
		survivor := -1
		for i, m := range mems {
			if m.FlushCompleted() {
				survivor = i
				break
			}
		}
		switch {
		case survivor < 0:
			e.dropTableLocked(fileNumber)
		case survivor > 0:
			// The rolled-back oldest table took the batch edit with it, so
			// the oldest surviving member carries it from here; its commit
			// installs the file on a later drain.
			edit := mems[survivor].PendingEdit()
			edit.AddFile(meta)
			edit.NextFileNumber = e.versions.NextFileNumber()
			edit.LastSeqNum = e.seq.Load()
		}
		return err
	}
	e.logger.Info("flush finished", "file_number", fileNumber, "size_bytes", meta.Size)
	return nil
}

// writeTable merges the batch of memtables (oldest to newest) into one
// SSTable. The merging iterator keeps the newest entry for each user key, so
// the output carries at most one version per key.
func (e *Engine) writeTable(ctx context.Context, mems []*memtable.Memtable, fileNumber uint64) (manifest.FileMetadata, error) {
	if c := e.opts.TestingOnlyFailFlushCount; c != nil && c.Load() > 0 {
		c.Add(-1)
		return manifest.FileMetadata{}, fmt.Errorf("injected flush failure for file %d", fileNumber)
	}

	builder := iterator.NewMergeIteratorBuilder(e.cmp)
	for _, m := range mems {
		builder.AddIterator(m.NewIterator())
	}
	it := builder.Finish()
	defer it.Close()

	w, err := sstable.NewWriter(sstable.WriterOptions{
		DataDir:    e.opts.DataDir,
		FileNumber: fileNumber,
		BlockSize:  e.opts.SSTableBlockSize,
		Compressor: e.compressor,
		Logger:     e.opts.Logger,
	})
	if err != nil {
		return manifest.FileMetadata{}, err
	}

	var lastUser []byte
	haveLast := false
	for it.SeekToFirst(); it.Valid(); it.Next() {
		if err := ctx.Err(); err != nil {
			w.Abort()
			return manifest.FileMetadata{}, err
		}
		ikey := it.Key()
		user := core.UserKey(ikey)
		if haveLast && bytes.Equal(user, lastUser) {
			continue // an older version shadowed by the one just written
		}
		lastUser = append(lastUser[:0], user...)
		haveLast = true
		if err := w.Add(ikey, it.Value()); err != nil {
			w.Abort()
			return manifest.FileMetadata{}, err
		}
	}
	if err := it.Error(); err != nil {
		w.Abort()
		return manifest.FileMetadata{}, err
	}
	if err := w.Finish(); err != nil {
		return manifest.FileMetadata{}, err
	}

	return manifest.FileMetadata{
		FileNumber:  fileNumber,
		Size:        w.Size(),
		SmallestKey: w.Smallest(),
		LargestKey:  w.Largest(),
	}, nil
}

// commitFailPoint wraps the metadata store so the next N commits fail,
// mirroring TestingOnlyFailFlushCount for the commit step.
type commitFailPoint struct {
	store memtable.MetadataStore
	count *atomic.Int32
}

func (s *commitFailPoint) LogAndApply(mu *sync.Mutex, edit *manifest.VersionEdit) error {
	if s.count.Load() > 0 {
		s.count.Add(-1)
		return fmt.Errorf("injected commit failure")
	}
	return s.store.LogAndApply(mu, edit)
}

// dropTableLocked unregisters the reader and deletes the file of an SSTable
// whose flush could not be committed. Snapshots holding their own reference
// keep reading; the file closes when the last of them lets go. Caller
// holds mu.
func (e *Engine) dropTableLocked(fileNumber uint64) {
	if r, ok := e.readers[fileNumber]; ok {
		delete(e.readers, fileNumber)
		r.Unref()
	}
	path := filepath.Join(e.opts.DataDir, sstable.FileName(fileNumber))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		e.logger.Warn("could not remove uncommitted table file", "path", path, "error", err)
	}
}
