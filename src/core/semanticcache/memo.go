package semanticcache

import (
	"container/list"
	"sync"
)

// embeddingMemo is a small LRU of key text to embedding so that a lookup
// followed by a store for the same question embeds only once.
type embeddingMemo struct {
	capacity int
	items    map[string]*list.Element
	lru      *list.List
	mu       sync.Mutex
}

type memoItem struct {
	key   string
	value []float32
}

func newEmbeddingMemo(capacity int) *embeddingMemo {
	if capacity <= 0 {
		capacity = 1
	}
	return &embeddingMemo{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

func (m *embeddingMemo) get(key string) ([]float32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if elem, ok := m.items[key]; ok {
		m.lru.MoveToFront(elem)
		return elem.Value.(*memoItem).value, true
	}
	return nil, false
}

func (m *embeddingMemo) set(key string, value []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if elem, ok := m.items[key]; ok {
		m.lru.MoveToFront(elem)
		elem.Value.(*memoItem).value = value
		return
	}
	m.items[key] = m.lru.PushFront(&memoItem{key: key, value: value})
	if m.lru.Len() > m.capacity {
		if oldest := m.lru.Back(); oldest != nil {
			m.lru.Remove(oldest)
			delete(m.items, oldest.Value.(*memoItem).key)
		}
	}
}
