// Package semanticcache maps questions to previously computed answers by
// embedding similarity. Entries are kept in memory for scanning and written
// through to a Store so that they survive restarts; when the store fails the
// cache keeps serving from memory for the rest of the process lifetime.
package semanticcache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-logr/logr"

	"agentrag/src/core/provenance"
	"agentrag/src/log"
)

const (
	DefaultThreshold = 0.88
	DefaultCapacity  = 1000
	DefaultTTL       = 24 * time.Hour

	memoCapacity = 256
)

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config holds the cache policy.
type Config struct {
	// Threshold is the minimum cosine similarity for a hit.
	Threshold float64
	// Capacity bounds the number of entries; 0 means unbounded.
	Capacity int
	// TTL is the lifetime of an entry; 0 disables expiry.
	TTL time.Duration
	// ContextualKeys folds the prior user turn into the embedded key so that
	// follow-up questions are disambiguated.
	ContextualKeys bool
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		Threshold: DefaultThreshold,
		Capacity:  DefaultCapacity,
		TTL:       DefaultTTL,
	}
}

type Cache struct {
	cfg      Config
	embedder Embedder
	store    Store
	persist  bool
	degraded atomic.Bool

	mu      sync.RWMutex
	entries []*Entry

	ids    *snowflake.Node
	memo   *embeddingMemo
	now    func() time.Time
	logger logr.Logger

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

type Option func(c *Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New builds a cache and loads the entries already held by store.
// A nil store gives a memory-only cache. A store that cannot be read
// degrades the cache instead of failing.
func New(ctx context.Context, cfg Config, embedder Embedder, store Store, opts ...Option) (*Cache, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}

	node, err := snowflake.NewNode(3) // Node number 3 for cache entries
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}

	c := &Cache{
		cfg:      cfg,
		embedder: embedder,
		store:    store,
		persist:  store != nil,
		ids:      node,
		memo:     newEmbeddingMemo(memoCapacity),
		now:      time.Now,
		logger:   log.WithName("semantic-cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = NewMemoryStore()
	}

	if c.persist {
		loaded, err := c.store.Scan(ctx)
		if err != nil {
			c.degrade(err)
		} else {
			sort.Slice(loaded, func(i, j int) bool { return loaded[i].ID < loaded[j].ID })
			c.entries = loaded
		}
	}

	c.logger.Info("semantic cache initialized",
		"threshold", c.cfg.Threshold,
		"capacity", c.cfg.Capacity,
		"ttl", c.cfg.TTL.String(),
		"entries", len(c.entries),
		"mode", c.Mode())
	return c, nil
}

// Lookup returns the most similar live entry of the query namespace when its
// similarity reaches the threshold, together with that similarity. A miss
// returns a nil entry. Ties on similarity go to the most recently created entry.
func (c *Cache) Lookup(ctx context.Context, q Query) (*Entry, float64, error) {
	vec, err := c.embed(ctx, c.key(q))
	if err != nil {
		c.recordMiss()
		return nil, 0, fmt.Errorf("failed to embed question: %w", err)
	}

	c.purgeExpired(ctx)

	ns := namespaceOf(q)
	c.mu.RLock()
	var (
		best    *Entry
		bestSim = -2.0
	)
	for _, e := range c.entries {
		if e.Namespace != ns {
			continue
		}
		sim := Cosine(vec, e.Embedding)
		if sim > bestSim || (sim == bestSim && best != nil && newer(e, best)) {
			best, bestSim = e, sim
		}
	}
	var bestID int64
	if best != nil {
		bestID = best.ID
	}
	c.mu.RUnlock()

	if best == nil || bestSim < c.cfg.Threshold {
		c.recordMiss()
		if best != nil {
			c.logger.V(1).Info("cache miss", "similarity", bestSim, "threshold", c.cfg.Threshold)
		}
		return nil, bestSim, nil
	}

	now := c.now()
	c.mu.Lock()
	var hit *Entry
	for _, e := range c.entries {
		if e.ID == bestID {
			e.HitCount++
			e.LastHitAt = now
			hit = e.clone()
			break
		}
	}
	c.mu.Unlock()

	if hit == nil {
		// evicted between the scan and the update
		c.recordMiss()
		return nil, bestSim, nil
	}

	c.recordHit()
	c.persistHit(ctx, hit)
	c.logger.Info("cache hit", "similarity", bestSim, "query", truncate(q.Question, 50), "cached", truncate(hit.Question, 50))
	return hit, bestSim, nil
}

// Store always creates a new entry, then applies the capacity policy.
// Nothing is written when ctx is already done.
func (c *Cache) Store(ctx context.Context, q Query, answer string, trace []provenance.Invocation, sources []provenance.Source) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec, err := c.embed(ctx, c.key(q))
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := c.now()
	entry := &Entry{
		ID:        c.ids.Generate().Int64(),
		Namespace: namespaceOf(q),
		Question:  strings.TrimSpace(q.Question),
		Embedding: vec,
		Answer:    answer,
		Trace:     append([]provenance.Invocation(nil), trace...),
		Sources:   append([]provenance.Source(nil), sources...),
		CreatedAt: now,
	}
	if c.cfg.TTL > 0 {
		entry.ExpiresAt = now.Add(c.cfg.TTL)
	}

	if c.persisting() {
		if err := c.store.Insert(ctx, entry); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				c.deleteFromStore(ctx, entry.ID)
				return nil, ctxErr
			}
			c.degrade(err)
		}
	}

	c.mu.Lock()
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		// the store may hold the row already
		c.deleteFromStore(ctx, entry.ID)
		return nil, err
	}
	c.entries = append(c.entries, entry)
	victims := c.selectVictimsLocked()
	c.mu.Unlock()

	if len(victims) > 0 {
		c.evictions.Add(int64(len(victims)))
		cacheEvictions.Add(float64(len(victims)))
		c.deleteFromStore(ctx, victims...)
		c.logger.V(1).Info("evicted entries", "count", len(victims))
	}

	c.logger.V(1).Info("stored entry", "id", entry.ID, "expires_at", entry.ExpiresAt)
	return entry.clone(), nil
}

// Delete removes an entry by id.
func (c *Cache) Delete(ctx context.Context, id int64) bool {
	c.mu.Lock()
	found := false
	for i, e := range c.entries {
		if e.ID == id {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			found = true
			break
		}
	}
	c.mu.Unlock()
	if found {
		c.deleteFromStore(ctx, id)
	}
	return found
}

// Count returns the number of entries currently held, expired or not.
func (c *Cache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear removes every entry and resets the statistics.
func (c *Cache) Clear(ctx context.Context) int {
	c.mu.Lock()
	ids := make([]int64, len(c.entries))
	for i, e := range c.entries {
		ids[i] = e.ID
	}
	c.entries = nil
	c.mu.Unlock()

	c.deleteFromStore(ctx, ids...)
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
	c.logger.Info("cache cleared", "entries", len(ids))
	return len(ids)
}

func (c *Cache) Stats() Stats {
	now := c.now()
	c.mu.RLock()
	active := 0
	for _, e := range c.entries {
		if !e.Expired(now) {
			active++
		}
	}
	c.mu.RUnlock()

	hits, misses := c.hits.Load(), c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total) * 100
	}
	return Stats{
		Hits:          hits,
		Misses:        misses,
		Evictions:     c.evictions.Load(),
		HitRate:       rate,
		ActiveEntries: active,
		Threshold:     c.cfg.Threshold,
		Mode:          c.Mode(),
	}
}

// Mode reports "persistent", "memory" (no store configured) or "degraded".
func (c *Cache) Mode() string {
	switch {
	case !c.persist:
		return "memory"
	case c.degraded.Load():
		return "degraded"
	}
	return "persistent"
}

func (c *Cache) Close() error {
	return c.store.Close()
}

func (c *Cache) persisting() bool {
	return c.persist && !c.degraded.Load()
}

func (c *Cache) degrade(err error) {
	if c.degraded.CompareAndSwap(false, true) {
		cacheDegraded.Set(1)
		c.logger.Error(fmt.Errorf("%w: %w", ErrStoreUnavailable, err), "cache store failed, continuing in memory only")
	}
}

func (c *Cache) persistHit(ctx context.Context, e *Entry) {
	if !c.persisting() {
		return
	}
	if err := c.store.RecordHit(ctx, e.ID, e.HitCount, e.LastHitAt); err != nil {
		c.storeFailed(ctx, err)
	}
}

// deleteFromStore outlives the caller's cancellation so that the store never
// keeps rows the memory copy has already dropped.
func (c *Cache) deleteFromStore(ctx context.Context, ids ...int64) {
	if len(ids) == 0 || !c.persisting() {
		return
	}
	if err := c.store.Delete(context.WithoutCancel(ctx), ids...); err != nil {
		c.degrade(err)
	}
}

// storeFailed degrades the cache unless the failure came from the caller
// giving up.
func (c *Cache) storeFailed(ctx context.Context, err error) {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		c.logger.V(1).Info("store call abandoned by caller", "error", err.Error())
		return
	}
	c.degrade(err)
}

func (c *Cache) purgeExpired(ctx context.Context) {
	if c.cfg.TTL <= 0 {
		return
	}
	now := c.now()
	c.mu.Lock()
	var expired []int64
	kept := c.entries[:0]
	for _, e := range c.entries {
		if e.Expired(now) {
			expired = append(expired, e.ID)
			continue
		}
		kept = append(kept, e)
	}
	c.entries = kept
	c.mu.Unlock()

	if len(expired) > 0 {
		c.deleteFromStore(ctx, expired...)
		c.logger.V(1).Info("cleaned up expired entries", "count", len(expired))
	}
}

// selectVictimsLocked removes the least recently used entries above capacity.
// Recency is the last hit (creation time for never-hit entries), then hit count.
func (c *Cache) selectVictimsLocked() []int64 {
	if c.cfg.Capacity <= 0 || len(c.entries) <= c.cfg.Capacity {
		return nil
	}
	order := make([]*Entry, len(c.entries))
	copy(order, c.entries)
	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if !a.lastUsed().Equal(b.lastUsed()) {
			return a.lastUsed().Before(b.lastUsed())
		}
		if a.HitCount != b.HitCount {
			return a.HitCount < b.HitCount
		}
		return a.ID < b.ID
	})

	excess := len(c.entries) - c.cfg.Capacity
	drop := make(map[int64]struct{}, excess)
	victims := make([]int64, 0, excess)
	for _, e := range order[:excess] {
		drop[e.ID] = struct{}{}
		victims = append(victims, e.ID)
	}
	kept := c.entries[:0]
	for _, e := range c.entries {
		if _, ok := drop[e.ID]; !ok {
			kept = append(kept, e)
		}
	}
	c.entries = kept
	return victims
}

func (c *Cache) embed(ctx context.Context, key string) ([]float32, error) {
	if vec, ok := c.memo.get(key); ok {
		return vec, nil
	}
	raw, err := c.embedder.Embed(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty embedding")
	}
	vec := Normalize(raw)
	c.memo.set(key, vec)
	return vec, nil
}

func (c *Cache) key(q Query) string {
	question := strings.TrimSpace(q.Question)
	if !c.cfg.ContextualKeys {
		return question
	}
	prior := strings.Join(strings.Fields(strings.ToLower(q.PriorTurn)), " ")
	if prior == "" {
		return question
	}
	return question + "\n(previous: " + prior + ")"
}

func (c *Cache) recordHit() {
	c.hits.Add(1)
	cacheLookups.WithLabelValues("hit").Inc()
}

func (c *Cache) recordMiss() {
	c.misses.Add(1)
	cacheLookups.WithLabelValues("miss").Inc()
}

func namespaceOf(q Query) string {
	if q.Namespace == "" {
		return DefaultNamespace
	}
	return q.Namespace
}

func newer(a, b *Entry) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
