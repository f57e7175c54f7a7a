package iterator

import (
	"github.com/INLOpen/basalt/core"
)

type direction int

const (
	dirForward direction = iota
	dirBackward
)

// MergingIterator combines N sorted child iterators into a single sorted
// stream, forward and backward. At most one heap is live at a time, selected
// by the current direction: a min-heap of children for forward iteration, a
// max-heap for backward.
//
// When a key is present in more than one child (an overlapping memtable and
// a flushed file, say), each key is yielded exactly once. Stepping advances
// every child whose key equals the one just yielded, and a direction switch
// seeks the other children to the current key, advancing any child that
// lands exactly on it so the duplicate is never re-yielded.
//
// Child errors are non-fatal to the merge; Error reports the first non-nil
// child error, checked lazily when queried.
type MergingIterator struct {
	children []core.InternalIterator
	cmp      core.Comparator

	minHeap *mergeHeap
	maxHeap *mergeHeap
	dir     direction

	// current is the child that produced the most recently yielded entry.
	// It is always the root of the active heap while the iterator is valid.
	current core.InternalIterator

	// keyBuf holds a copy of the key being stepped past, so duplicate
	// suppression survives the child advancing under it.
	keyBuf []byte

	pooled bool
	err    error
}

var _ core.InternalIterator = (*MergingIterator)(nil)

// NewMergingIterator builds a merging iterator over children. Zero children
// yield an always-empty iterator; a single child is returned as-is.
func NewMergingIterator(cmp core.Comparator, children ...core.InternalIterator) core.InternalIterator {
	switch len(children) {
	case 0:
		return NewEmptyIterator()
	case 1:
		return children[0]
	}
	mi := &MergingIterator{}
	mi.reset(cmp)
	mi.children = append(mi.children, children...)
	return mi
}

// reset prepares a zero or recycled MergingIterator for reuse.
func (mi *MergingIterator) reset(cmp core.Comparator) {
	mi.children = mi.children[:0]
	mi.cmp = cmp
	if mi.minHeap == nil {
		mi.minHeap = newMergeHeap(cmp, false)
		mi.maxHeap = newMergeHeap(cmp, true)
	} else {
		mi.minHeap.cmp = cmp
		mi.maxHeap.cmp = cmp
		mi.minHeap.clear()
		mi.maxHeap.clear()
	}
	mi.dir = dirForward
	mi.current = nil
	mi.err = nil
}

// AddIterator appends a child. Only valid before the first positioning call.
func (mi *MergingIterator) AddIterator(child core.InternalIterator) {
	mi.children = append(mi.children, child)
}

func (mi *MergingIterator) clearHeaps() {
	mi.minHeap.clear()
	mi.maxHeap.clear()
}

// activeHeap returns the heap for the current direction.
func (mi *MergingIterator) activeHeap() *mergeHeap {
	if mi.dir == dirBackward {
		return mi.maxHeap
	}
	return mi.minHeap
}

func (mi *MergingIterator) SeekToFirst() {
	mi.clearHeaps()
	for _, child := range mi.children {
		child.SeekToFirst()
		if child.Valid() {
			mi.minHeap.items = append(mi.minHeap.items, child)
		}
	}
	mi.minHeap.initHeap()
	mi.dir = dirForward
	mi.current = mi.minHeap.top()
}

func (mi *MergingIterator) SeekToLast() {
	mi.clearHeaps()
	for _, child := range mi.children {
		child.SeekToLast()
		if child.Valid() {
			mi.maxHeap.items = append(mi.maxHeap.items, child)
		}
	}
	mi.maxHeap.initHeap()
	mi.dir = dirBackward
	mi.current = mi.maxHeap.top()
}

func (mi *MergingIterator) Seek(target []byte) {
	mi.clearHeaps()
	for _, child := range mi.children {
		child.Seek(target)
		if child.Valid() {
			mi.minHeap.items = append(mi.minHeap.items, child)
		}
	}
	mi.minHeap.initHeap()
	mi.dir = dirForward
	mi.current = mi.minHeap.top()
}

func (mi *MergingIterator) Next() {
	if !mi.Valid() {
		return
	}
	if mi.dir != dirForward {
		mi.switchToForward()
	}
	mi.keyBuf = append(mi.keyBuf[:0], mi.minHeap.top().Key()...)
	// Advance every child sitting on the yielded key, not just the top, so
	// a key overlapping several sources comes out exactly once.
	for mi.minHeap.Len() > 0 {
		top := mi.minHeap.top()
		if !mi.cmp.Equal(top.Key(), mi.keyBuf) {
			break
		}
		top.Next()
		if top.Valid() {
			mi.minHeap.fixTop()
		} else {
			mi.minHeap.popTop()
		}
	}
	mi.current = mi.minHeap.top()
}

func (mi *MergingIterator) Prev() {
	if !mi.Valid() {
		return
	}
	if mi.dir != dirBackward {
		mi.switchToBackward()
	}
	mi.keyBuf = append(mi.keyBuf[:0], mi.maxHeap.top().Key()...)
	for mi.maxHeap.Len() > 0 {
		top := mi.maxHeap.top()
		if !mi.cmp.Equal(top.Key(), mi.keyBuf) {
			break
		}
		top.Prev()
		if top.Valid() {
			mi.maxHeap.fixTop()
		} else {
			mi.maxHeap.popTop()
		}
	}
	mi.current = mi.maxHeap.top()
}

// switchToForward repositions every child except current just past the
// current key and rebuilds the min-heap. A child sitting exactly on the
// current key is an overlapping duplicate and is advanced once so it is
// never re-yielded.
func (mi *MergingIterator) switchToForward() {
	key := mi.current.Key()
	mi.clearHeaps()
	for _, child := range mi.children {
		if child != mi.current {
			child.Seek(key)
			if child.Valid() && mi.cmp.Equal(key, child.Key()) {
				child.Next()
			}
		}
		if child.Valid() {
			mi.minHeap.items = append(mi.minHeap.items, child)
		}
	}
	mi.minHeap.initHeap()
	mi.dir = dirForward
}

// switchToBackward is the mirror: every child except current is positioned
// on the greatest key strictly before the current key (seek lands at the
// first key >= current, so one step back suffices; an exhausted seek means
// every key is smaller and the child starts from its last entry).
func (mi *MergingIterator) switchToBackward() {
	key := mi.current.Key()
	mi.clearHeaps()
	for _, child := range mi.children {
		if child != mi.current {
			child.Seek(key)
			if child.Valid() {
				child.Prev()
			} else {
				child.SeekToLast()
			}
		}
		if child.Valid() {
			mi.maxHeap.items = append(mi.maxHeap.items, child)
		}
	}
	mi.maxHeap.initHeap()
	mi.dir = dirBackward
}

func (mi *MergingIterator) Valid() bool {
	return mi.activeHeap().Len() > 0
}

func (mi *MergingIterator) Key() []byte {
	if top := mi.activeHeap().top(); top != nil {
		return top.Key()
	}
	return nil
}

func (mi *MergingIterator) Value() []byte {
	if top := mi.activeHeap().top(); top != nil {
		return top.Value()
	}
	return nil
}

// Error returns the first non-nil status among the children.
func (mi *MergingIterator) Error() error {
	if mi.err != nil {
		return mi.err
	}
	for _, child := range mi.children {
		if err := child.Error(); err != nil {
			mi.err = err
			break
		}
	}
	return mi.err
}

// Close closes every child and recycles the iterator if it came from the
// builder pool.
func (mi *MergingIterator) Close() error {
	var firstErr error
	for _, child := range mi.children {
		if err := child.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	mi.children = mi.children[:0]
	mi.clearHeaps()
	mi.current = nil
	if mi.pooled {
		mi.pooled = false
		mergingIterPool.Put(mi)
	}
	return firstErr
}
