package engine

import (
	"bytes"

	"github.com/INLOpen/basalt/core"
	"github.com/INLOpen/basalt/iterator"
	"github.com/INLOpen/basalt/memtable"
	"github.com/INLOpen/basalt/sstable"
)

// Iterator is a bidirectional scan over the live keyspace of the engine. It
// merges the active memtable, every sealed memtable and all SSTables, exposes
// exactly one version per user key and hides tombstones.
type Iterator struct {
	e     *Engine
	inner core.InternalIterator

	active *memtable.Memtable
	mems   []*memtable.Memtable
	tables []*sstable.Reader

	valid   bool
	key     []byte
	value   []byte
	err     error
	closed  bool
	reverse bool
}

// NewIterator builds a merged iterator over a consistent snapshot of the
// engine's sources. The snapshot pins the memtables it covers; Close releases
// them.
func (e *Engine) NewIterator() (*Iterator, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, core.ErrClosed
	}
	active := e.active
	active.Ref()
	e.imm.RefAll()
	mems := e.imm.GetMemTables()
	tables := e.readersSnapshotLocked()
	e.mu.Unlock()

	builder := iterator.NewMergeIteratorBuilder(e.cmp)
	builder.AddIterator(active.NewIterator())
	for _, m := range mems {
		builder.AddIterator(m.NewIterator())
	}
	for _, r := range tables {
		builder.AddIterator(r.NewIterator())
	}

	return &Iterator{
		e:      e,
		inner:  builder.Finish(),
		active: active,
		mems:   mems,
		tables: tables,
	}, nil
}

// SeekToFirst positions the iterator at the smallest live user key.
func (it *Iterator) SeekToFirst() {
	it.reverse = false
	it.inner.SeekToFirst()
	it.findNextUserEntry(nil)
}

// SeekToLast positions the iterator at the largest live user key.
func (it *Iterator) SeekToLast() {
	it.reverse = true
	it.inner.SeekToLast()
	it.findPrevUserEntry()
}

// Seek positions the iterator at the first live user key >= target.
func (it *Iterator) Seek(target []byte) {
	it.reverse = false
	it.inner.Seek(core.EncodeInternalKey(target, core.MaxSequenceNumber, 0xff))
	it.findNextUserEntry(nil)
}

// Next advances to the next larger live user key.
func (it *Iterator) Next() {
	if !it.valid {
		return
	}
	if it.reverse {
		// After backward motion the inner iterator sits one entry before
		// the current key, or past the front when the current key is the
		// smallest. Either way forward motion restarts among versions of
		// the current key, which the skip below passes over.
		it.reverse = false
		if it.inner.Valid() {
			it.inner.Next()
		} else {
			it.inner.SeekToFirst()
		}
		if !it.inner.Valid() {
			it.invalidate()
			return
		}
	} else {
		it.inner.Next()
	}
	it.findNextUserEntry(it.key)
}

// Prev moves to the next smaller live user key.
func (it *Iterator) Prev() {
	if !it.valid {
		return
	}
	if !it.reverse {
		// Walk the inner iterator back past every version of the current
		// user key before hunting for the previous one.
		it.reverse = true
		for {
			it.inner.Prev()
			if !it.inner.Valid() {
				it.invalidate()
				return
			}
			if !bytes.Equal(core.UserKey(it.inner.Key()), it.key) {
				break
			}
		}
	} else {
		it.inner.Prev()
	}
	it.findPrevUserEntry()
}

// findNextUserEntry scans forward for the next user key whose newest version
// is not a tombstone. Versions of skipUser are passed over, as are older
// versions shadowed by the entry already taken for a key.
func (it *Iterator) findNextUserEntry(skipUser []byte) {
	skip := append([]byte(nil), skipUser...)
	skipping := skipUser != nil
	for it.inner.Valid() {
		ikey := it.inner.Key()
		user, _, entryType, err := core.ParseInternalKey(ikey)
		if err != nil {
			it.fail(err)
			return
		}
		if skipping && bytes.Equal(user, skip) {
			it.inner.Next()
			continue
		}
		// First (therefore newest) version of this user key.
		if entryType == core.EntryTypeDelete {
			skip = append(skip[:0], user...)
			skipping = true
			it.inner.Next()
			continue
		}
		it.take(user, it.inner.Value())
		return
	}
	it.invalidate()
}

// findPrevUserEntry scans backward. Moving backward visits the versions of a
// user key oldest-first, so the winning (newest) version of each key is the
// last one seen before the key changes.
func (it *Iterator) findPrevUserEntry() {
	var (
		haveEntry bool
		entryType core.EntryType
		user      []byte
		value     []byte
	)
	for it.inner.Valid() {
		ikey := it.inner.Key()
		u, _, t, err := core.ParseInternalKey(ikey)
		if err != nil {
			it.fail(err)
			return
		}
		if haveEntry && !bytes.Equal(u, user) {
			// Crossed into the previous user key. The candidate carried so
			// far is the newest version of the key behind us.
			if entryType != core.EntryTypeDelete {
				it.take(user, value)
				return
			}
			haveEntry = false
		}
		user = append(user[:0], u...)
		value = append(value[:0], it.inner.Value()...)
		entryType = t
		haveEntry = true
		it.inner.Prev()
	}
	if haveEntry && entryType != core.EntryTypeDelete {
		it.takeOwned(user, value)
		return
	}
	it.invalidate()
}

func (it *Iterator) take(user, value []byte) {
	it.key = append(it.key[:0], user...)
	it.value = append(it.value[:0], value...)
	it.valid = true
}

func (it *Iterator) takeOwned(user, value []byte) {
	it.key = user
	it.value = value
	it.valid = true
}

func (it *Iterator) invalidate() {
	it.valid = false
}

func (it *Iterator) fail(err error) {
	if it.err == nil {
		it.err = err
	}
	it.valid = false
}

// Valid reports whether the iterator is positioned at a live entry.
func (it *Iterator) Valid() bool { return it.valid }

// Key returns the current user key. Valid until the next move.
func (it *Iterator) Key() []byte { return it.key }

// Value returns the current value. Valid until the next move.
func (it *Iterator) Value() []byte { return it.value }

// Error returns the first error the iterator or any of its sources hit.
func (it *Iterator) Error() error {
	if it.err != nil {
		return it.err
	}
	return it.inner.Error()
}

// Close releases the snapshot. Safe to call more than once.
func (it *Iterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	err := it.inner.Close()
	it.active.Unref()
	for _, m := range it.mems {
		m.Unref()
	}
	for _, r := range it.tables {
		r.Unref()
	}
	it.valid = false
	return err
}
