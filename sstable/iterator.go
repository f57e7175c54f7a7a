package sstable

import (
	"sort"

	"github.com/INLOpen/basalt/core"
)

// Iterator is a bidirectional iterator over one table file. It decodes one
// block at a time; Prev steps into the previous block positioned at its
// last entry.
//
// Not safe for concurrent use; multiple iterators over the same Reader are.
type Iterator struct {
	r   *Reader
	cmp core.InternalKeyComparator

	blockIdx int
	entries  []blockEntry
	pos      int
	err      error
}

var _ core.InternalIterator = (*Iterator)(nil)

// NewIterator returns an iterator positioned before the first entry.
func (r *Reader) NewIterator() core.InternalIterator {
	return &Iterator{r: r, blockIdx: -1, pos: -1}
}

// loadBlock decodes block i and leaves the position unset.
func (it *Iterator) loadBlock(i int) bool {
	if i < 0 || i >= len(it.r.index) {
		it.invalidate()
		return false
	}
	entries, err := it.r.readBlock(i)
	if err != nil {
		it.err = err
		it.invalidate()
		return false
	}
	it.blockIdx = i
	it.entries = entries
	return true
}

func (it *Iterator) invalidate() {
	it.blockIdx = -1
	it.entries = nil
	it.pos = -1
}

func (it *Iterator) SeekToFirst() {
	if !it.loadBlock(0) {
		return
	}
	it.pos = 0
}

func (it *Iterator) SeekToLast() {
	if !it.loadBlock(len(it.r.index) - 1) {
		return
	}
	it.pos = len(it.entries) - 1
}

func (it *Iterator) Seek(target []byte) {
	// Find the last block whose first key is <= target; the target, if
	// present, lives there or in a later block.
	idx := sort.Search(len(it.r.index), func(i int) bool {
		return it.cmp.Compare(it.r.index[i].firstKey, target) > 0
	}) - 1
	if idx < 0 {
		idx = 0
	}
	if !it.loadBlock(idx) {
		return
	}
	it.pos = sort.Search(len(it.entries), func(i int) bool {
		return it.cmp.Compare(it.entries[i].key, target) >= 0
	})
	if it.pos == len(it.entries) {
		// Target is past this block; it can only be at the start of the next.
		if !it.loadBlock(idx + 1) {
			return
		}
		it.pos = 0
	}
}

func (it *Iterator) Next() {
	if !it.Valid() {
		return
	}
	it.pos++
	if it.pos >= len(it.entries) {
		next := it.blockIdx + 1
		if !it.loadBlock(next) {
			return
		}
		it.pos = 0
	}
}

func (it *Iterator) Prev() {
	if !it.Valid() {
		return
	}
	it.pos--
	if it.pos < 0 {
		prev := it.blockIdx - 1
		if !it.loadBlock(prev) {
			return
		}
		it.pos = len(it.entries) - 1
	}
}

func (it *Iterator) Valid() bool {
	return it.pos >= 0 && it.pos < len(it.entries)
}

func (it *Iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.entries[it.pos].key
}

func (it *Iterator) Value() []byte {
	if !it.Valid() {
		return nil
	}
	return it.entries[it.pos].value
}

func (it *Iterator) Error() error { return it.err }

func (it *Iterator) Close() error {
	it.invalidate()
	it.r = nil
	return it.err
}
