package semanticcache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrStoreUnavailable marks a persistence failure; the cache keeps working in memory.
var ErrStoreUnavailable = errors.New("cache store unavailable")

// Store is the durable side of the cache.
type Store interface {
	// Insert persists a new entry. The ID is assigned by the cache.
	Insert(ctx context.Context, entry *Entry) error
	// Scan returns every stored entry.
	Scan(ctx context.Context) ([]*Entry, error)
	// RecordHit persists a hit count and hit time for an entry.
	RecordHit(ctx context.Context, id int64, hitCount int, at time.Time) error
	// Delete removes entries by id. Unknown ids are ignored.
	Delete(ctx context.Context, ids ...int64) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// MemoryStore keeps entries in process memory only.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[int64]*Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[int64]*Entry)}
}

func (s *MemoryStore) Insert(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ID] = entry.clone()
	return nil
}

func (s *MemoryStore) Scan(_ context.Context) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) RecordHit(_ context.Context, id int64, hitCount int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.HitCount = hitCount
		e.LastHitAt = at
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, ids ...int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.entries, id)
	}
	return nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries), nil
}

func (s *MemoryStore) Close() error { return nil }
