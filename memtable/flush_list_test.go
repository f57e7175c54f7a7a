package memtable

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/INLOpen/basalt/core"
	"github.com/INLOpen/basalt/manifest"
)

// fakeStore records applied edits. When blockFirst is set, the first
// LogAndApply releases mu like the real store does around its I/O, then
// waits on release before reacquiring.
type fakeStore struct {
	applied    []uint64 // file numbers, in commit order
	calls      int
	failures   int // fail this many upcoming calls
	blockFirst bool
	entered    chan struct{}
	release    chan struct{}
}

func (f *fakeStore) LogAndApply(mu *sync.Mutex, edit *manifest.VersionEdit) error {
	f.calls++
	if f.blockFirst {
		f.blockFirst = false
		mu.Unlock()
		close(f.entered)
		<-f.release
		mu.Lock()
	}
	if f.failures > 0 {
		f.failures--
		return errors.New("apply failed")
	}
	for _, nf := range edit.NewFiles {
		f.applied = append(f.applied, nf.FileNumber)
	}
	return nil
}

func newTable(t *testing.T, key, value string, seq uint64) *Memtable {
	t.Helper()
	m := New(1 << 20)
	require.NoError(t, m.Put([]byte(key), []byte(value), core.EntryTypePut, seq))
	t.Cleanup(m.Unref)
	return m
}

func stampEdit(m *Memtable, fileNumber uint64) {
	m.PendingEdit().AddFile(manifest.FileMetadata{FileNumber: fileNumber})
}

func TestFlushListAddAndCounters(t *testing.T) {
	fl := NewFlushList(nil)
	assert.Equal(t, 0, fl.Size())
	assert.False(t, fl.FlushNeeded())
	assert.False(t, fl.IsFlushPending(1))

	m1 := newTable(t, "a", "1", 1)
	m2 := newTable(t, "b", "2", 2)
	fl.Add(m1)
	fl.Add(m2)

	assert.Equal(t, 2, fl.Size())
	assert.True(t, fl.FlushNeeded())
	assert.True(t, fl.IsFlushPending(2))
	assert.False(t, fl.IsFlushPending(3))

	// Newest first.
	assert.Equal(t, []*Memtable{m2, m1}, fl.GetMemTables())
}

func TestPickMemtablesToFlushOldestFirst(t *testing.T) {
	fl := NewFlushList(nil)
	m1 := newTable(t, "a", "1", 1)
	m2 := newTable(t, "b", "2", 2)
	m3 := newTable(t, "c", "3", 3)
	fl.Add(m1)
	fl.Add(m2)
	fl.Add(m3)

	picked := fl.PickMemtablesToFlush()
	require.Equal(t, []*Memtable{m1, m2, m3}, picked)
	for _, m := range picked {
		assert.True(t, m.FlushInProgress())
		assert.False(t, m.FlushCompleted())
	}
	assert.False(t, fl.FlushNeeded())
	assert.False(t, fl.IsFlushPending(1))

	// Everything is already in progress; nothing left to pick.
	assert.Empty(t, fl.PickMemtablesToFlush())

	// Tables picked for flushing are still readable.
	assert.Equal(t, 3, fl.Size())
	v, _, ok := fl.Get([]byte("b"))
	require.True(t, ok)
	assert.Equal(t, []byte("2"), v)
}

func TestInstallFlushFailureRollsBack(t *testing.T) {
	fl := NewFlushList(nil)
	m1 := newTable(t, "a", "1", 1)
	m2 := newTable(t, "b", "2", 2)
	fl.Add(m1)
	fl.Add(m2)

	picked := fl.PickMemtablesToFlush()
	require.Len(t, picked, 2)

	var mu sync.Mutex
	mu.Lock()
	defer mu.Unlock()

	pending := map[uint64]struct{}{7: {}}
	flushErr := errors.New("disk full")
	err := fl.InstallMemtableFlushResults(picked, &fakeStore{}, flushErr, &mu, 7, pending)
	require.ErrorIs(t, err, flushErr)

	for _, m := range picked {
		assert.False(t, m.FlushInProgress())
		assert.False(t, m.FlushCompleted())
		assert.Equal(t, uint64(0), m.FileNumber())
	}
	assert.Empty(t, pending)
	assert.True(t, fl.FlushNeeded())
	assert.True(t, fl.IsFlushPending(2))

	// The batch is eligible for a retry.
	assert.Equal(t, []*Memtable{m1, m2}, fl.PickMemtablesToFlush())
}

func TestInstallSuccessCommitsBatchWithSingleEdit(t *testing.T) {
	fl := NewFlushList(nil)
	m1 := newTable(t, "a", "1", 1)
	m2 := newTable(t, "b", "2", 2)
	fl.Add(m1)
	fl.Add(m2)

	picked := fl.PickMemtablesToFlush()
	require.Equal(t, []*Memtable{m1, m2}, picked)
	stampEdit(picked[0], 7) // only the oldest table of the batch carries the edit

	var mu sync.Mutex
	mu.Lock()
	defer mu.Unlock()

	store := &fakeStore{}
	pending := map[uint64]struct{}{7: {}}
	err := fl.InstallMemtableFlushResults(picked, store, nil, &mu, 7, pending)
	require.NoError(t, err)

	// One store call for the whole batch, both tables gone.
	assert.Equal(t, 1, store.calls)
	assert.Equal(t, []uint64{7}, store.applied)
	assert.Equal(t, 0, fl.Size())
	assert.Empty(t, pending)
}

func TestCommitOrderOldestFirst(t *testing.T) {
	fl := NewFlushList(nil)
	m1 := newTable(t, "a", "1", 1)
	fl.Add(m1)
	batch1 := fl.PickMemtablesToFlush()
	require.Equal(t, []*Memtable{m1}, batch1)

	m2 := newTable(t, "b", "2", 2)
	fl.Add(m2)
	batch2 := fl.PickMemtablesToFlush()
	require.Equal(t, []*Memtable{m2}, batch2)

	var mu sync.Mutex
	mu.Lock()
	defer mu.Unlock()

	store := &fakeStore{}
	pending := map[uint64]struct{}{7: {}, 8: {}}

	// The newer batch finishes flushing first. It must not be committed
	// ahead of the older one.
	stampEdit(m2, 8)
	require.NoError(t, fl.InstallMemtableFlushResults(batch2, store, nil, &mu, 8, pending))
	assert.Zero(t, store.calls)
	assert.Equal(t, 2, fl.Size())
	assert.True(t, m2.FlushCompleted())

	// Once the older batch lands, both are committed, oldest first.
	stampEdit(m1, 7)
	require.NoError(t, fl.InstallMemtableFlushResults(batch1, store, nil, &mu, 7, pending))
	assert.Equal(t, []uint64{7, 8}, store.applied)
	assert.Equal(t, 0, fl.Size())
	assert.Empty(t, pending)
}

func TestCommitFailureRollsBackAndRetries(t *testing.T) {
	fl := NewFlushList(nil)
	m1 := newTable(t, "a", "1", 1)
	fl.Add(m1)
	picked := fl.PickMemtablesToFlush()
	stampEdit(m1, 7)

	var mu sync.Mutex
	mu.Lock()
	defer mu.Unlock()

	store := &fakeStore{failures: 1}
	pending := map[uint64]struct{}{7: {}}
	err := fl.InstallMemtableFlushResults(picked, store, nil, &mu, 7, pending)
	require.ErrorIs(t, err, core.ErrCommitFailed)

	assert.False(t, m1.FlushInProgress())
	assert.False(t, m1.FlushCompleted())
	assert.Equal(t, uint64(0), m1.FileNumber())
	assert.Empty(t, pending)
	assert.True(t, fl.FlushNeeded())
	assert.Equal(t, 1, fl.Size())

	// Retry with a healthy store succeeds.
	retry := fl.PickMemtablesToFlush()
	require.Equal(t, []*Memtable{m1}, retry)
	stampEdit(m1, 9)
	pending[9] = struct{}{}
	require.NoError(t, fl.InstallMemtableFlushResults(retry, store, nil, &mu, 9, pending))
	assert.Equal(t, []uint64{9}, store.applied)
	assert.Equal(t, 0, fl.Size())
	assert.Empty(t, pending)
}

func TestConcurrentInstallDoesNotBlock(t *testing.T) {
	fl := NewFlushList(nil)
	m1 := newTable(t, "a", "1", 1)
	fl.Add(m1)
	batch1 := fl.PickMemtablesToFlush()
	stampEdit(m1, 7)

	m2 := newTable(t, "b", "2", 2)
	fl.Add(m2)
	batch2 := fl.PickMemtablesToFlush()
	stampEdit(m2, 8)

	var mu sync.Mutex
	store := &fakeStore{
		blockFirst: true,
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	pending := map[uint64]struct{}{7: {}, 8: {}}

	installerA := make(chan error, 1)
	go func() {
		mu.Lock()
		err := fl.InstallMemtableFlushResults(batch1, store, nil, &mu, 7, pending)
		mu.Unlock()
		installerA <- err
	}()

	// Installer A is inside the store's I/O with mu released.
	<-store.entered

	// Installer B must return promptly; A's drain picks up its batch.
	mu.Lock()
	errB := fl.InstallMemtableFlushResults(batch2, store, nil, &mu, 8, pending)
	mu.Unlock()
	require.NoError(t, errB)
	assert.True(t, m2.FlushCompleted())

	close(store.release)
	select {
	case err := <-installerA:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("installer A did not finish")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{7, 8}, store.applied)
	assert.Equal(t, 0, fl.Size())
	assert.Empty(t, pending)
}

func TestFlushListGetNewestFirst(t *testing.T) {
	fl := NewFlushList(nil)
	older := newTable(t, "k", "old", 1)
	newer := newTable(t, "k", "new", 2)
	fl.Add(older)
	fl.Add(newer)

	v, et, ok := fl.Get([]byte("k"))
	require.True(t, ok)
	assert.Equal(t, core.EntryTypePut, et)
	assert.Equal(t, []byte("new"), v)
}

func TestFlushListRefAllKeepsSnapshotAlive(t *testing.T) {
	fl := NewFlushList(nil)
	m := New(1 << 20)
	require.NoError(t, m.Put([]byte("a"), []byte("1"), core.EntryTypePut, 1))
	fl.Add(m)
	m.Unref() // hand ownership to the list

	// A balanced RefAll/UnrefAll pair leaves the list's reference intact.
	fl.RefAll()
	fl.UnrefAll()

	fl.RefAll()
	snapshot := fl.GetMemTables()

	// Commit removes the table from the list and drops the list's
	// reference; the snapshot reference keeps it readable.
	picked := fl.PickMemtablesToFlush()
	stampEdit(picked[0], 7)
	var mu sync.Mutex
	mu.Lock()
	pending := map[uint64]struct{}{7: {}}
	require.NoError(t, fl.InstallMemtableFlushResults(picked, &fakeStore{}, nil, &mu, 7, pending))
	mu.Unlock()

	v, _, ok := snapshot[0].Get([]byte("a"))
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)
	for _, sm := range snapshot {
		sm.Unref()
	}
}

func TestFlushListApproximateMemoryUsage(t *testing.T) {
	fl := NewFlushList(nil)
	assert.Zero(t, fl.ApproximateMemoryUsage())
	m := newTable(t, "a", "1", 1)
	fl.Add(m)
	assert.Equal(t, m.ApproximateMemoryUsage(), fl.ApproximateMemoryUsage())
}
