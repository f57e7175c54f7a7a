package iterator

import (
	"container/heap"

	"github.com/INLOpen/basalt/core"
)

// mergeHeap implements heap.Interface over child iterators, ordered by their
// current keys. With reverse unset it is a min-heap (forward iteration);
// with reverse set it is a max-heap (backward iteration).
type mergeHeap struct {
	items   []core.InternalIterator
	cmp     core.Comparator
	reverse bool
}

func newMergeHeap(cmp core.Comparator, reverse bool) *mergeHeap {
	return &mergeHeap{cmp: cmp, reverse: reverse}
}

func (h *mergeHeap) Len() int { return len(h.items) }

func (h *mergeHeap) Less(i, j int) bool {
	c := h.cmp.Compare(h.items[i].Key(), h.items[j].Key())
	if h.reverse {
		return c > 0
	}
	return c < 0
}

func (h *mergeHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
}

func (h *mergeHeap) Push(x interface{}) {
	h.items = append(h.items, x.(core.InternalIterator))
}

func (h *mergeHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid holding the reference
	h.items = old[:n-1]
	return item
}

// top returns the root without removing it.
func (h *mergeHeap) top() core.InternalIterator {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0]
}

// add pushes a child and restores heap order.
func (h *mergeHeap) add(it core.InternalIterator) {
	heap.Push(h, it)
}

// fixTop restores heap order after the root's key changed.
func (h *mergeHeap) fixTop() {
	heap.Fix(h, 0)
}

// popTop removes the root.
func (h *mergeHeap) popTop() {
	heap.Pop(h)
}

// clear empties the heap, keeping capacity.
func (h *mergeHeap) clear() {
	for i := range h.items {
		h.items[i] = nil
	}
	h.items = h.items[:0]
}

// init establishes heap order over the current items.
func (h *mergeHeap) initHeap() {
	heap.Init(h)
}
