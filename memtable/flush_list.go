package memtable

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/INLOpen/basalt/core"
	"github.com/INLOpen/basalt/manifest"
)

// MetadataStore applies a metadata edit durably. LogAndApply may release and
// reacquire mu around its blocking I/O, so callers must re-validate any
// state they derived from the list after it returns.
type MetadataStore interface {
	LogAndApply(mu *sync.Mutex, edit *manifest.VersionEdit) error
}

// FlushList owns the sealed memtables awaiting flush and commit. The newest
// table sits at the head (index 0), the oldest at the tail; commits drain
// strictly from the tail so metadata edits are applied in creation order no
// matter which background flush finishes first.
//
// Every method except FlushNeeded requires the caller to hold the engine's
// coordination lock. The list performs no locking of its own.
type FlushList struct {
	tables             []*Memtable
	numFlushNotStarted int
	commitInProgress   bool

	// flushNeeded is a lock-free hint for the write path: "there may be
	// flush work outstanding". It is never authoritative; callers take the
	// coordination lock and consult IsFlushPending before acting.
	flushNeeded atomic.Bool

	logger *slog.Logger
}

// NewFlushList creates an empty flush list.
func NewFlushList(logger *slog.Logger) *FlushList {
	if logger == nil {
		logger = slog.Default()
	}
	return &FlushList{logger: logger.With("component", "FlushList")}
}

// Size returns the number of tables in the list.
func (l *FlushList) Size() int {
	if l.numFlushNotStarted > len(l.tables) {
		panic("flushlist: more unstarted flushes than tables")
	}
	return len(l.tables)
}

// Add inserts a freshly sealed memtable at the head. The list takes its own
// reference; the caller keeps any reference it holds.
func (l *FlushList) Add(m *Memtable) {
	if l.numFlushNotStarted > len(l.tables) {
		panic("flushlist: more unstarted flushes than tables")
	}
	m.Ref()
	l.tables = append([]*Memtable{m}, l.tables...)
	l.numFlushNotStarted++
	if l.numFlushNotStarted == 1 {
		l.flushNeeded.Store(true)
	}
}

// IsFlushPending reports whether at least threshold tables have not yet
// started flushing.
func (l *FlushList) IsFlushPending(threshold int) bool {
	return l.numFlushNotStarted >= threshold
}

// FlushNeeded is the lock-free fast path for the write path: it may return a
// stale answer and is only ever a hint to take the lock and check properly.
func (l *FlushList) FlushNeeded() bool {
	return l.flushNeeded.Load()
}

// PickMemtablesToFlush marks every not-yet-started table as in progress and
// returns them oldest-first. The caller assigns the batch one shared output
// file number.
func (l *FlushList) PickMemtablesToFlush() []*Memtable {
	var picked []*Memtable
	for i := len(l.tables) - 1; i >= 0; i-- {
		m := l.tables[i]
		if m.flushInProgress {
			continue
		}
		if m.flushCompleted {
			panic("flushlist: table completed flushing before being picked")
		}
		l.numFlushNotStarted--
		if l.numFlushNotStarted == 0 {
			l.flushNeeded.Store(false)
		}
		m.flushInProgress = true
		picked = append(picked, m)
	}
	return picked
}

// InstallMemtableFlushResults records the outcome of a flush batch.
//
// If flushErr is non-nil, every table in the batch is reset to the pending
// state (eligible for a later attempt), fileNumber is removed from
// pendingOutputs, and flushErr is returned.
//
// On success the batch is marked completed and stamped with fileNumber. If
// another installer is active the call returns immediately; the active
// installer's drain loop will observe and commit this batch. Otherwise this
// call becomes the installer and drains the tail of the list: for each batch
// whose tail table has completed, the batch's single edit is applied via
// store (which may release and reacquire mu), committed tables are removed,
// unreferenced and cleared from pendingOutputs. A commit failure resets the
// failing table to pending and stops the drain with an error.
func (l *FlushList) InstallMemtableFlushResults(mems []*Memtable, store MetadataStore, flushErr error, mu *sync.Mutex, fileNumber uint64, pendingOutputs map[uint64]struct{}) error {
	if flushErr != nil {
		for _, m := range mems {
			l.rollbackToPending(m)
			delete(pendingOutputs, fileNumber)
		}
		return flushErr
	}

	first := true
	for _, m := range mems {
		if !m.flushInProgress {
			panic("flushlist: installing a table that was never picked")
		}
		if !first && m.edit != nil && !m.edit.Empty() {
			panic("flushlist: only the oldest table of a batch may carry an edit")
		}
		first = false
		m.flushCompleted = true
		m.fileNumber = fileNumber
	}

	// Another thread is committing; it will drain this batch on its pass.
	if l.commitInProgress {
		return nil
	}
	l.commitInProgress = true
	defer func() { l.commitInProgress = false }()

	// Commit strictly from the oldest table forward. The metadata store may
	// drop mu during its I/O, so the list is re-read on every step.
	var err error
	for len(l.tables) > 0 && err == nil {
		m := l.tables[len(l.tables)-1]
		if !m.flushCompleted {
			break
		}
		fn := m.fileNumber
		l.logger.Info("commit table: started", "file_number", fn)

		err = store.LogAndApply(mu, m.PendingEdit())

		// Later tables with the same file number are part of the same
		// batch; they share the edit's outcome without another store call.
		bulk := false
		for {
			if err == nil {
				l.logger.Info("commit table: done", "file_number", fn, "bulk", bulk)
				l.remove(m)
				if m.fileNumber == 0 {
					panic("flushlist: committed table without a file number")
				}
				// Cleared only now that the file is durably referenced, so
				// concurrent compactions never treat it as discardable.
				delete(pendingOutputs, m.fileNumber)
				m.Unref()
			} else {
				l.logger.Error("commit table: failed", "file_number", fn, "error", err)
				l.rollbackToPending(m)
				delete(pendingOutputs, fn)
				err = fmt.Errorf("%w: table file %d", core.ErrCommitFailed, fn)
			}
			bulk = true
			if len(l.tables) == 0 {
				break
			}
			m = l.tables[len(l.tables)-1]
			if m.fileNumber != fn {
				break
			}
		}
	}
	return err
}

// rollbackToPending restores a table to the initial pending state so a later
// flush attempt can retry it.
func (l *FlushList) rollbackToPending(m *Memtable) {
	m.flushInProgress = false
	m.flushCompleted = false
	m.fileNumber = 0
	if m.edit != nil {
		m.edit.Clear()
	}
	l.numFlushNotStarted++
	l.flushNeeded.Store(true)
}

// remove drops m from the list by identity.
func (l *FlushList) remove(m *Memtable) {
	for i, t := range l.tables {
		if t == m {
			l.tables = append(l.tables[:i], l.tables[i+1:]...)
			return
		}
	}
}

// Get searches the tables newest-first and returns the first hit, so the
// most recent write wins.
func (l *FlushList) Get(userKey []byte) (value []byte, entryType core.EntryType, found bool) {
	for _, m := range l.tables {
		if v, t, ok := m.Get(userKey); ok {
			return v, t, true
		}
	}
	return nil, 0, false
}

// GetMemTables returns a snapshot of the current tables, newest-first.
func (l *FlushList) GetMemTables() []*Memtable {
	out := make([]*Memtable, len(l.tables))
	copy(out, l.tables)
	return out
}

// RefAll acquires a reference on every table in the list, keeping a
// consistent snapshot alive while a reader builds its iterators.
func (l *FlushList) RefAll() {
	for _, m := range l.tables {
		m.Ref()
	}
}

// UnrefAll releases the references taken by RefAll.
func (l *FlushList) UnrefAll() {
	for _, m := range l.tables {
		m.Unref()
	}
}

// ApproximateMemoryUsage sums each table's self-reported footprint.
func (l *FlushList) ApproximateMemoryUsage() int64 {
	var total int64
	for _, m := range l.tables {
		total += m.ApproximateMemoryUsage()
	}
	return total
}
