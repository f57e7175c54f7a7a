package core

// InternalIterator is the contract shared by every sorted source in the
// engine: memtables, SSTables and the merging iterator that combines them.
// Keys are encoded internal keys. The slices returned by Key and Value are
// only valid until the next repositioning call.
//
// Implementations are not safe for concurrent use.
type InternalIterator interface {
	// SeekToFirst positions the iterator at the first entry.
	SeekToFirst()
	// SeekToLast positions the iterator at the last entry.
	SeekToLast()
	// Seek positions the iterator at the first entry with key >= target.
	Seek(target []byte)
	// Next advances to the next entry. Requires Valid().
	Next()
	// Prev moves back to the previous entry. Requires Valid().
	Prev()
	// Valid reports whether the iterator is positioned at an entry.
	Valid() bool
	Key() []byte
	Value() []byte
	// Error returns the first error the iterator encountered, if any.
	Error() error
	Close() error
}
