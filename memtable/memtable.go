package memtable

import (
	"bytes"
	"sync"
	"sync/atomic"
	"time"

	"github.com/INLOpen/skiplist"

	"github.com/INLOpen/basalt/core"
	"github.com/INLOpen/basalt/manifest"
)

// Key is the skiplist key: a user key plus the sequence number of the write.
type Key struct {
	UserKey []byte
	Seq     uint64
}

// Entry is the skiplist value for one write.
type Entry struct {
	UserKey   []byte
	Value     []byte
	EntryType core.EntryType
	Seq       uint64
}

// size returns the estimated memory footprint of the entry.
func (e *Entry) size() int64 {
	return int64(len(e.UserKey) + len(e.Value) + core.InternalTrailerLen + 1)
}

// compareKeys orders by user key ascending, then sequence number descending,
// so the newest version of a key is encountered first.
func compareKeys(a, b *Key) int {
	if c := bytes.Compare(a.UserKey, b.UserKey); c != 0 {
		return c
	}
	switch {
	case a.Seq > b.Seq:
		return -1
	case a.Seq < b.Seq:
		return 1
	default:
		return 0
	}
}

// Memtable is an in-memory sorted buffer of recent writes. Once sealed it is
// handed to the FlushList and becomes read-only; the flush coordination
// fields below are then written exclusively by the FlushList under the
// engine's coordination lock.
//
// A Memtable is reference-counted: it is destroyed when the last reference
// is released. The creator holds one reference; the FlushList and every open
// iterator hold their own.
type Memtable struct {
	mu        sync.RWMutex
	data      *skiplist.SkipList[*Key, *Entry]
	sizeBytes int64
	threshold int64
	createdAt time.Time

	refs atomic.Int32

	// Flush coordination state, owned by the FlushList. Guarded by the
	// engine's coordination lock, not by mu.
	flushInProgress bool
	flushCompleted  bool
	fileNumber      uint64
	edit            *manifest.VersionEdit
}

// New creates an empty memtable with the given size threshold.
// The caller holds the initial reference.
func New(threshold int64) *Memtable {
	m := &Memtable{
		data:      skiplist.NewWithComparator[*Key, *Entry](compareKeys),
		threshold: threshold,
		createdAt: time.Now(),
	}
	m.refs.Store(1)
	return m
}

// Ref acquires a reference.
func (m *Memtable) Ref() {
	m.refs.Add(1)
}

// Unref releases a reference, destroying the memtable when the count
// reaches zero.
func (m *Memtable) Unref() {
	if n := m.refs.Add(-1); n == 0 {
		m.destroy()
	} else if n < 0 {
		panic("memtable: reference count went negative")
	}
}

// Put inserts a write. Entries with distinct sequence numbers never collide,
// so every version of a key is retained until flush.
func (m *Memtable) Put(userKey, value []byte, entryType core.EntryType, seq uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := keyPool.Get()
	k.UserKey = userKey
	k.Seq = seq

	e := entryPool.Get()
	e.UserKey = userKey
	e.Value = value
	e.EntryType = entryType
	e.Seq = seq

	if old := m.data.Insert(k, e); old != nil {
		// Same key and sequence number: the skiplist updated the node in
		// place, so the spare key and the replaced entry go back to the pool.
		keyPool.Put(k)
		oldEntry := old.Value()
		m.sizeBytes -= oldEntry.size()
		entryPool.Put(oldEntry)
	}
	m.sizeBytes += e.size()
	return nil
}

// Get returns the newest version of userKey. A tombstone is reported as
// found with EntryTypeDelete; the caller decides how to interpret it.
func (m *Memtable) Get(userKey []byte) (value []byte, entryType core.EntryType, found bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	search := keyPool.Get()
	search.UserKey = userKey
	search.Seq = core.MaxSequenceNumber
	defer keyPool.Put(search)

	node, ok := m.data.Seek(search)
	if !ok {
		return nil, 0, false
	}
	if !bytes.Equal(node.Key().UserKey, userKey) {
		return nil, 0, false
	}
	e := node.Value()
	if e.EntryType == core.EntryTypeDelete {
		return nil, e.EntryType, true
	}
	return e.Value, e.EntryType, true
}

// ApproximateMemoryUsage returns the estimated in-memory footprint in bytes.
func (m *Memtable) ApproximateMemoryUsage() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sizeBytes
}

// IsFull reports whether the memtable reached its size threshold.
func (m *Memtable) IsFull() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sizeBytes >= m.threshold
}

// Len returns the number of entries, counting all versions.
func (m *Memtable) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.Len()
}

// CreatedAt returns the memtable's creation time.
func (m *Memtable) CreatedAt() time.Time {
	return m.createdAt
}

// PendingEdit returns the metadata edit for this memtable's flush batch,
// allocating it on first use. Only the oldest table of a batch ever carries
// a non-empty edit.
func (m *Memtable) PendingEdit() *manifest.VersionEdit {
	if m.edit == nil {
		m.edit = &manifest.VersionEdit{}
	}
	return m.edit
}

// FlushInProgress reports whether the table was picked for flushing.
// Caller holds the engine's coordination lock.
func (m *Memtable) FlushInProgress() bool { return m.flushInProgress }

// FlushCompleted reports whether the background flush finished writing.
// Caller holds the engine's coordination lock.
func (m *Memtable) FlushCompleted() bool { return m.flushCompleted }

// FileNumber returns the destination file number, 0 if unassigned.
// Caller holds the engine's coordination lock.
func (m *Memtable) FileNumber() uint64 { return m.fileNumber }

// destroy returns all keys and entries to the pools and drops the skiplist.
func (m *Memtable) destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return
	}
	m.data.Range(func(k *Key, e *Entry) bool {
		k.UserKey = nil
		k.Seq = 0
		keyPool.Put(k)
		e.UserKey = nil
		e.Value = nil
		e.EntryType = 0
		e.Seq = 0
		entryPool.Put(e)
		return true
	})
	m.data = nil
	m.sizeBytes = 0
}
