package memtable

import (
	"sync"
	"sync/atomic"
)

// freePool is a bounded free list for memtable keys and entries. It is kept
// deliberately simple: a mutex-guarded stack with hit/miss counters, sized
// for high ingestion rates.
type freePool[T any] struct {
	mu    sync.Mutex
	items []*T

	hits   atomic.Uint64
	misses atomic.Uint64
}

func newFreePool[T any](size int) *freePool[T] {
	return &freePool[T]{items: make([]*T, 0, size)}
}

func (p *freePool[T]) Get() *T {
	p.mu.Lock()
	if len(p.items) == 0 {
		p.mu.Unlock()
		p.misses.Add(1)
		return new(T)
	}
	item := p.items[len(p.items)-1]
	p.items = p.items[:len(p.items)-1]
	p.mu.Unlock()
	p.hits.Add(1)
	return item
}

func (p *freePool[T]) Put(item *T) {
	p.mu.Lock()
	if len(p.items) < cap(p.items) {
		p.items = append(p.items, item)
	}
	p.mu.Unlock()
}

// Metrics returns hit/miss counts and the current free-list size.
func (p *freePool[T]) Metrics() (hits, misses uint64, size int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits.Load(), p.misses.Load(), len(p.items)
}

var (
	keyPool   = newFreePool[Key](16384)
	entryPool = newFreePool[Entry](16384)
)
