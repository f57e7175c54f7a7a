package iterator

import (
	"sync"

	"github.com/INLOpen/basalt/core"
)

// mergingIterPool recycles MergingIterator shells so the read path does not
// pay a heap allocation per query. Iterators return themselves on Close.
var mergingIterPool = sync.Pool{
	New: func() interface{} { return &MergingIterator{} },
}

// MergeIteratorBuilder incrementally assembles a MergingIterator. The
// iterator shell is taken from a shared pool and handed to the caller by
// Finish, which also resets the builder: a builder may be reused by adding
// more children, but a second Finish without further AddIterator calls is a
// usage error and returns nil.
type MergeIteratorBuilder struct {
	cmp   core.Comparator
	merge *MergingIterator
}

// NewMergeIteratorBuilder creates a builder for the given key order.
func NewMergeIteratorBuilder(cmp core.Comparator) *MergeIteratorBuilder {
	return &MergeIteratorBuilder{cmp: cmp}
}

// AddIterator appends a child to the iterator under construction.
func (b *MergeIteratorBuilder) AddIterator(child core.InternalIterator) {
	if b.merge == nil {
		b.merge = mergingIterPool.Get().(*MergingIterator)
		b.merge.reset(b.cmp)
		b.merge.pooled = true
	}
	b.merge.AddIterator(child)
}

// Finish transfers ownership of the built iterator to the caller and resets
// the builder to its empty state. The caller must Close the result.
func (b *MergeIteratorBuilder) Finish() core.InternalIterator {
	mi := b.merge
	b.merge = nil
	if mi == nil {
		return nil
	}
	return mi
}
