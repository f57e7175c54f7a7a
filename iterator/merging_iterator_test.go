package iterator

import (
	"bytes"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/basalt/core"
)

// bytesComparator orders plain keys lexicographically. Tests use it so
// fixtures can be written as short strings.
type bytesComparator struct{}

func (bytesComparator) Compare(a, b []byte) int { return bytes.Compare(a, b) }
func (bytesComparator) Equal(a, b []byte) bool  { return bytes.Equal(a, b) }

// sliceIter is a child iterator over an in-memory sorted key list.
type sliceIter struct {
	keys   []string
	pos    int
	err    error
	closed bool
}

var _ core.InternalIterator = (*sliceIter)(nil)

func newSliceIter(keys ...string) *sliceIter {
	return &sliceIter{keys: keys, pos: -1}
}

func (s *sliceIter) SeekToFirst() { s.pos = 0 }
func (s *sliceIter) SeekToLast()  { s.pos = len(s.keys) - 1 }

func (s *sliceIter) Seek(target []byte) {
	s.pos = sort.SearchStrings(s.keys, string(target))
}

func (s *sliceIter) Next() { s.pos++ }
func (s *sliceIter) Prev() { s.pos-- }

func (s *sliceIter) Valid() bool { return s.pos >= 0 && s.pos < len(s.keys) }

func (s *sliceIter) Key() []byte {
	if !s.Valid() {
		return nil
	}
	return []byte(s.keys[s.pos])
}

func (s *sliceIter) Value() []byte {
	if !s.Valid() {
		return nil
	}
	return []byte("v-" + s.keys[s.pos])
}

func (s *sliceIter) Error() error { return s.err }

func (s *sliceIter) Close() error {
	s.closed = true
	return nil
}

func collectForward(it core.InternalIterator) []string {
	var out []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		out = append(out, string(it.Key()))
	}
	return out
}

func collectBackward(it core.InternalIterator) []string {
	var out []string
	for it.SeekToLast(); it.Valid(); it.Prev() {
		out = append(out, string(it.Key()))
	}
	return out
}

func TestMergingIteratorForwardSuppressesDuplicates(t *testing.T) {
	it := NewMergingIterator(bytesComparator{},
		newSliceIter("1", "3", "5"),
		newSliceIter("2", "3", "6"),
	)
	defer it.Close()

	assert.Equal(t, []string{"1", "2", "3", "5", "6"}, collectForward(it))
}

func TestMergingIteratorDirectionReversal(t *testing.T) {
	it := NewMergingIterator(bytesComparator{},
		newSliceIter("1", "3", "5"),
		newSliceIter("2", "3", "6"),
	)
	defer it.Close()

	it.SeekToFirst()
	var forward []string
	for it.Valid() && string(it.Key()) != "5" {
		forward = append(forward, string(it.Key()))
		it.Next()
	}
	require.True(t, it.Valid())
	require.Equal(t, "5", string(it.Key()))
	assert.Equal(t, []string{"1", "2", "3"}, forward)

	// Reversing from 5 must descend without re-emitting or skipping 3.
	var backward []string
	for it.Prev(); it.Valid(); it.Prev() {
		backward = append(backward, string(it.Key()))
	}
	assert.Equal(t, []string{"3", "2", "1"}, backward)
}

func TestMergingIteratorReverseRoundTrip(t *testing.T) {
	build := func() core.InternalIterator {
		return NewMergingIterator(bytesComparator{},
			newSliceIter("a", "c", "e", "g"),
			newSliceIter("b", "c", "f"),
			newSliceIter("d", "g"),
		)
	}

	fwd := build()
	forward := collectForward(fwd)
	fwd.Close()

	bwd := build()
	backward := collectBackward(bwd)
	bwd.Close()

	require.Equal(t, len(forward), len(backward))
	for i := range forward {
		assert.Equal(t, forward[i], backward[len(backward)-1-i])
	}
}

func TestMergingIteratorSeek(t *testing.T) {
	it := NewMergingIterator(bytesComparator{},
		newSliceIter("1", "3", "5"),
		newSliceIter("2", "3", "6"),
	)
	defer it.Close()

	it.Seek([]byte("3"))
	require.True(t, it.Valid())
	assert.Equal(t, "3", string(it.Key()))

	it.Next()
	require.True(t, it.Valid())
	assert.Equal(t, "5", string(it.Key()))

	it.Seek([]byte("7"))
	assert.False(t, it.Valid())
}

func TestMergingIteratorBackwardFromMiddle(t *testing.T) {
	it := NewMergingIterator(bytesComparator{},
		newSliceIter("1", "4"),
		newSliceIter("2", "5"),
	)
	defer it.Close()

	it.Seek([]byte("4"))
	require.Equal(t, "4", string(it.Key()))

	it.Prev()
	require.True(t, it.Valid())
	assert.Equal(t, "2", string(it.Key()))
	it.Prev()
	require.True(t, it.Valid())
	assert.Equal(t, "1", string(it.Key()))
	it.Prev()
	assert.False(t, it.Valid())
}

func TestMergingIteratorSingleChildPassthrough(t *testing.T) {
	child := newSliceIter("a", "b")
	it := NewMergingIterator(bytesComparator{}, child)
	assert.Equal(t, []string{"a", "b"}, collectForward(it))
}

func TestMergingIteratorEmpty(t *testing.T) {
	it := NewMergingIterator(bytesComparator{})
	it.SeekToFirst()
	assert.False(t, it.Valid())
	assert.NoError(t, it.Error())
}

func TestMergingIteratorAggregatesChildError(t *testing.T) {
	broken := newSliceIter("1")
	broken.err = errors.New("read failed")
	it := NewMergingIterator(bytesComparator{},
		newSliceIter("2"),
		broken,
	)
	defer it.Close()

	it.SeekToFirst()
	require.Error(t, it.Error())
	assert.EqualError(t, it.Error(), "read failed")
}

func TestMergingIteratorCloseClosesChildren(t *testing.T) {
	a := newSliceIter("1")
	b := newSliceIter("2")
	it := NewMergingIterator(bytesComparator{}, a, b)
	require.NoError(t, it.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestMergeIteratorBuilderSequentialUse(t *testing.T) {
	b := NewMergeIteratorBuilder(bytesComparator{})

	b.AddIterator(newSliceIter("1", "3"))
	b.AddIterator(newSliceIter("2"))
	first := b.Finish()
	require.NotNil(t, first)
	assert.Equal(t, []string{"1", "2", "3"}, collectForward(first))
	require.NoError(t, first.Close())

	// The builder is reusable after Finish; the second iterator is
	// independent of the first.
	b.AddIterator(newSliceIter("x", "z"))
	b.AddIterator(newSliceIter("y"))
	second := b.Finish()
	require.NotNil(t, second)
	assert.Equal(t, []string{"x", "y", "z"}, collectForward(second))
	require.NoError(t, second.Close())

	// Finish without any AddIterator is a usage error.
	assert.Nil(t, b.Finish())
}
