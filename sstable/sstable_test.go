package sstable

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/basalt/compressors"
	"github.com/INLOpen/basalt/core"
)

func ikey(user string, seq uint64) []byte {
	return core.EncodeInternalKey([]byte(user), seq, core.EntryTypePut)
}

// writeTestTable writes n entries key-0000..key-n with tiny blocks so the
// index holds several of them.
func writeTestTable(t *testing.T, dir string, fileNumber uint64, n int, comp core.Compressor) *Reader {
	t.Helper()
	w, err := NewWriter(WriterOptions{
		DataDir:    dir,
		FileNumber: fileNumber,
		BlockSize:  64,
		Compressor: comp,
	})
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		user := fmt.Sprintf("key-%04d", i)
		value := fmt.Sprintf("value-%04d", i)
		require.NoError(t, w.Add(ikey(user, uint64(i+1)), []byte(value)))
	}
	require.NoError(t, w.Finish())
	require.Equal(t, n, w.Count())

	r, err := OpenReader(ReaderOptions{
		FilePath:   w.FilePath(),
		FileNumber: fileNumber,
	})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestWriteAndGet(t *testing.T) {
	r := writeTestTable(t, t.TempDir(), 1, 100, nil)

	v, et, found, err := r.Get([]byte("key-0042"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, core.EntryTypePut, et)
	assert.Equal(t, []byte("value-0042"), v)

	_, _, found, err = r.Get([]byte("key-9999"))
	require.NoError(t, err)
	assert.False(t, found)

	_, _, found, err = r.Get([]byte("aaa"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestWriteAndGetCompressed(t *testing.T) {
	zstd, err := compressors.NewZstdCompressor()
	require.NoError(t, err)
	comps := []core.Compressor{
		compressors.NewNoCompression(),
		compressors.NewSnappyCompressor(),
		compressors.NewLZ4Compressor(),
		zstd,
	}
	for i, comp := range comps {
		t.Run(comp.Type().String(), func(t *testing.T) {
			r := writeTestTable(t, t.TempDir(), uint64(i+1), 50, comp)
			v, _, found, err := r.Get([]byte("key-0007"))
			require.NoError(t, err)
			require.True(t, found)
			assert.Equal(t, []byte("value-0007"), v)
		})
	}
}

func TestGetReturnsTombstone(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(WriterOptions{DataDir: dir, FileNumber: 3})
	require.NoError(t, err)
	require.NoError(t, w.Add(core.EncodeInternalKey([]byte("gone"), 9, core.EntryTypeDelete), nil))
	require.NoError(t, w.Finish())

	r, err := OpenReader(ReaderOptions{FilePath: w.FilePath(), FileNumber: 3})
	require.NoError(t, err)
	defer r.Close()

	_, et, found, err := r.Get([]byte("gone"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, core.EntryTypeDelete, et)
}

func TestWriterRejectsOutOfOrderKeys(t *testing.T) {
	w, err := NewWriter(WriterOptions{DataDir: t.TempDir(), FileNumber: 4})
	require.NoError(t, err)
	defer w.Abort()

	require.NoError(t, w.Add(ikey("b", 2), []byte("x")))
	require.Error(t, w.Add(ikey("a", 1), []byte("y")))
	require.Error(t, w.Add(ikey("b", 2), []byte("z")))
}

func TestWriterBounds(t *testing.T) {
	w, err := NewWriter(WriterOptions{DataDir: t.TempDir(), FileNumber: 5})
	require.NoError(t, err)
	require.NoError(t, w.Add(ikey("apple", 1), []byte("1")))
	require.NoError(t, w.Add(ikey("pear", 2), []byte("2")))
	require.NoError(t, w.Finish())

	assert.Equal(t, ikey("apple", 1), w.Smallest())
	assert.Equal(t, ikey("pear", 2), w.Largest())
	assert.Greater(t, w.Size(), int64(0))
}

func TestIteratorForwardOrder(t *testing.T) {
	const n = 60
	r := writeTestTable(t, t.TempDir(), 6, n, nil)

	it := r.NewIterator()
	defer it.Close()

	i := 0
	for it.SeekToFirst(); it.Valid(); it.Next() {
		assert.Equal(t, []byte(fmt.Sprintf("key-%04d", i)), core.UserKey(it.Key()))
		assert.Equal(t, []byte(fmt.Sprintf("value-%04d", i)), it.Value())
		i++
	}
	require.NoError(t, it.Error())
	assert.Equal(t, n, i)
}

func TestIteratorBackwardOrder(t *testing.T) {
	const n = 60
	r := writeTestTable(t, t.TempDir(), 7, n, nil)

	it := r.NewIterator()
	defer it.Close()

	i := n - 1
	for it.SeekToLast(); it.Valid(); it.Prev() {
		assert.Equal(t, []byte(fmt.Sprintf("key-%04d", i)), core.UserKey(it.Key()))
		i--
	}
	require.NoError(t, it.Error())
	assert.Equal(t, -1, i)
}

func TestIteratorSeek(t *testing.T) {
	r := writeTestTable(t, t.TempDir(), 8, 60, nil)

	it := r.NewIterator()
	defer it.Close()

	it.Seek(core.EncodeInternalKey([]byte("key-0030"), core.MaxSequenceNumber, 0xff))
	require.True(t, it.Valid())
	assert.Equal(t, []byte("key-0030"), core.UserKey(it.Key()))

	// Between two keys: lands on the next one.
	it.Seek(core.EncodeInternalKey([]byte("key-0030a"), core.MaxSequenceNumber, 0xff))
	require.True(t, it.Valid())
	assert.Equal(t, []byte("key-0031"), core.UserKey(it.Key()))

	// Before the first key.
	it.Seek(core.EncodeInternalKey([]byte("aaa"), core.MaxSequenceNumber, 0xff))
	require.True(t, it.Valid())
	assert.Equal(t, []byte("key-0000"), core.UserKey(it.Key()))

	// Past the last key.
	it.Seek(core.EncodeInternalKey([]byte("zzz"), core.MaxSequenceNumber, 0xff))
	assert.False(t, it.Valid())
}

func TestIteratorDirectionChangeAcrossBlocks(t *testing.T) {
	r := writeTestTable(t, t.TempDir(), 9, 60, nil)

	it := r.NewIterator()
	defer it.Close()

	it.Seek(core.EncodeInternalKey([]byte("key-0020"), core.MaxSequenceNumber, 0xff))
	require.True(t, it.Valid())
	it.Prev()
	require.True(t, it.Valid())
	assert.Equal(t, []byte("key-0019"), core.UserKey(it.Key()))
	it.Next()
	require.True(t, it.Valid())
	assert.Equal(t, []byte("key-0020"), core.UserKey(it.Key()))
}

func TestOpenReaderRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName(1))
	require.NoError(t, os.WriteFile(path, []byte("this is not a table"), 0644))

	_, err := OpenReader(ReaderOptions{FilePath: path, FileNumber: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrCorrupted)
}

func TestReaderRefCounting(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(WriterOptions{DataDir: dir, FileNumber: 5})
	require.NoError(t, err)
	require.NoError(t, w.Add(ikey("k", 1), []byte("v")))
	require.NoError(t, w.Finish())

	r, err := OpenReader(ReaderOptions{FilePath: w.FilePath(), FileNumber: 5})
	require.NoError(t, err)

	// Dropping the opener's reference while another is held keeps the file
	// open and the table readable.
	r.Ref()
	require.NoError(t, r.Close())

	v, _, found, err := r.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v"), v)

	require.NoError(t, r.Unref())
	_, _, _, err = r.Get([]byte("k"))
	require.Error(t, err)
}
