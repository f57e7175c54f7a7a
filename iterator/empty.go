package iterator

import "github.com/INLOpen/basalt/core"

// EmptyIterator is an iterator over nothing; every position is invalid.
type EmptyIterator struct{}

var _ core.InternalIterator = (*EmptyIterator)(nil)

// NewEmptyIterator returns an always-exhausted iterator.
func NewEmptyIterator() core.InternalIterator {
	return &EmptyIterator{}
}

func (it *EmptyIterator) SeekToFirst() {}

func (it *EmptyIterator) SeekToLast() {}

func (it *EmptyIterator) Seek([]byte) {}

func (it *EmptyIterator) Next() {}

func (it *EmptyIterator) Prev() {}

func (it *EmptyIterator) Valid() bool { return false }

func (it *EmptyIterator) Key() []byte { return nil }

func (it *EmptyIterator) Value() []byte { return nil }

func (it *EmptyIterator) Error() error { return nil }

func (it *EmptyIterator) Close() error { return nil }
