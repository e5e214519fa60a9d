// Package checkpoint stores materialized graphs at selected versions so that
// historical reads replay only the log tail after the nearest checkpoint.
// Checkpoints are a cache: losing one changes cost, never results.
package checkpoint

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"vrdf/internal/engine/graph"
	"vrdf/internal/engine/versions"
)

// Key identifies a checkpoint. The changeset id guards against reusing a
// checkpoint for a different history that happens to share a version id.
type Key struct {
	Dataset     string
	Version     int64
	ChangesetID string
}

func KeyOf(v versions.Version) Key {
	return Key{Dataset: v.Dataset, Version: v.ID, ChangesetID: v.ChangesetID}
}

func (k Key) String() string {
	// zero-padded so lexical order matches version order
	return fmt.Sprintf("cp/%s/%020d/%s", k.Dataset, k.Version, k.ChangesetID)
}

// MemoryStore keeps the most recently used checkpoints in RAM.
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	items    map[Key]*list.Element
	order    *list.List // front = most recently used
}

type memEntry struct {
	key   Key
	graph *graph.Graph
}

// NewMemoryStore bounds the store to capacity graphs; values <= 0 become 1.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemoryStore{
		capacity: capacity,
		items:    make(map[Key]*list.Element, capacity),
		order:    list.New(),
	}
}

func (m *MemoryStore) Get(_ context.Context, v versions.Version) (*graph.Graph, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[KeyOf(v)]
	if !ok {
		return nil, false, nil
	}
	m.order.MoveToFront(el)
	return el.Value.(*memEntry).graph.Clone(), true, nil
}

func (m *MemoryStore) Put(_ context.Context, v versions.Version, g *graph.Graph) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := KeyOf(v)
	if el, ok := m.items[key]; ok {
		m.order.MoveToFront(el)
		el.Value.(*memEntry).graph = g.Clone()
		return nil
	}
	if m.order.Len() >= m.capacity {
		if back := m.order.Back(); back != nil {
			m.order.Remove(back)
			delete(m.items, back.Value.(*memEntry).key)
		}
	}
	m.items[key] = m.order.PushFront(&memEntry{key: key, graph: g.Clone()})
	return nil
}

// Len returns the number of cached checkpoints.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order.Init()
	m.items = make(map[Key]*list.Element, m.capacity)
	return nil
}
