package memtable

import (
	"sort"

	"github.com/INLOpen/basalt/core"
)

// Iterator is a bidirectional iterator over an immutable snapshot of the
// memtable, taken at creation time. Internal keys are pre-encoded so that
// Seek is a plain binary search and Prev is a position decrement. The
// iterator holds a reference on the memtable until Close.
//
// Not safe for concurrent use.
type Iterator struct {
	m      *Memtable
	ikeys  [][]byte
	values [][]byte
	cmp    core.InternalKeyComparator
	pos    int
}

var _ core.InternalIterator = (*Iterator)(nil)

// NewIterator snapshots the memtable's sorted contents and returns an
// iterator positioned before the first entry.
func (m *Memtable) NewIterator() core.InternalIterator {
	m.Ref()
	m.mu.RLock()
	n := 0
	if m.data != nil {
		n = m.data.Len()
	}
	it := &Iterator{
		m:      m,
		ikeys:  make([][]byte, 0, n),
		values: make([][]byte, 0, n),
		pos:    -1,
	}
	if m.data != nil {
		m.data.Range(func(k *Key, e *Entry) bool {
			it.ikeys = append(it.ikeys, core.EncodeInternalKey(e.UserKey, e.Seq, e.EntryType))
			it.values = append(it.values, e.Value)
			return true
		})
	}
	m.mu.RUnlock()
	return it
}

func (it *Iterator) SeekToFirst() {
	if len(it.ikeys) == 0 {
		it.pos = -1
		return
	}
	it.pos = 0
}

func (it *Iterator) SeekToLast() {
	it.pos = len(it.ikeys) - 1
}

func (it *Iterator) Seek(target []byte) {
	i := sort.Search(len(it.ikeys), func(i int) bool {
		return it.cmp.Compare(it.ikeys[i], target) >= 0
	})
	if i == len(it.ikeys) {
		it.pos = -1
		return
	}
	it.pos = i
}

func (it *Iterator) Next() {
	if it.pos < 0 {
		return
	}
	it.pos++
	if it.pos >= len(it.ikeys) {
		it.pos = -1
	}
}

func (it *Iterator) Prev() {
	if it.pos < 0 {
		return
	}
	it.pos--
}

func (it *Iterator) Valid() bool {
	return it.pos >= 0 && it.pos < len(it.ikeys)
}

func (it *Iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.ikeys[it.pos]
}

func (it *Iterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.values[it.pos]
}

func (it *Iterator) Error() error { return nil }

// Close releases the iterator's reference on the memtable.
// Safe to call more than once.
func (it *Iterator) Close() error {
	if it.m == nil {
		return nil
	}
	it.m.Unref()
	it.m = nil
	it.ikeys = nil
	it.values = nil
	it.pos = -1
	return nil
}
