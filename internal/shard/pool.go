package shard

import (
	"container/list"
	"fmt"
	"path/filepath"
	"sync"
)

// Pool hands out Store handles keyed by project id, bounded by size with
// LRU eviction. Storage handles for shards are the only per-project shared
// resource (spec §5); evicted handles are closed, and reopening an evicted
// shard is safe because schema creation is idempotent.
type Pool struct {
	dir  string
	size int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
}

type poolEntry struct {
	projectID string
	store     *Store
}

// NewPool creates a shard pool rooted at dir, bounded to size open handles.
func NewPool(dir string, size int) *Pool {
	if size <= 0 {
		size = 64
	}
	return &Pool{
		dir:     dir,
		size:    size,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Get returns the Store for projectID, opening it if not already pooled and
// evicting the least-recently-used handle if the pool is full.
func (p *Pool) Get(projectID string) (*Store, error) {
	p.mu.Lock()
	if el, ok := p.entries[projectID]; ok {
		p.order.MoveToFront(el)
		s := el.Value.(*poolEntry).store
		p.mu.Unlock()
		return s, nil
	}
	p.mu.Unlock()

	store, err := Open(p.pathFor(projectID))
	if err != nil {
		return nil, fmt.Errorf("shard pool: open %s: %w", projectID, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Another goroutine may have opened it first; prefer the existing one.
	if el, ok := p.entries[projectID]; ok {
		p.order.MoveToFront(el)
		existing := el.Value.(*poolEntry).store
		store.Close()
		return existing, nil
	}

	el := p.order.PushFront(&poolEntry{projectID: projectID, store: store})
	p.entries[projectID] = el

	for p.order.Len() > p.size {
		p.evictOldest()
	}
	return store, nil
}

// evictOldest closes and drops the least-recently-used entry. Caller must
// hold p.mu.
func (p *Pool) evictOldest() {
	back := p.order.Back()
	if back == nil {
		return
	}
	entry := back.Value.(*poolEntry)
	p.order.Remove(back)
	delete(p.entries, entry.projectID)
	_ = entry.store.Close()
}

// Len reports the number of currently open shard handles.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.order.Len()
}

// CloseAll closes every pooled handle, e.g. during graceful shutdown.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for el := p.order.Front(); el != nil; el = el.Next() {
		_ = el.Value.(*poolEntry).store.Close()
	}
	p.entries = make(map[string]*list.Element)
	p.order = list.New()
}

// Evict closes and drops projectID's handle if present, e.g. after the
// project is deleted from the Registry.
func (p *Pool) Evict(projectID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	el, ok := p.entries[projectID]
	if !ok {
		return
	}
	p.order.Remove(el)
	delete(p.entries, projectID)
	_ = el.Value.(*poolEntry).store.Close()
}

func (p *Pool) pathFor(projectID string) string {
	return filepath.Join(p.dir, projectID+".sqlite3")
}
