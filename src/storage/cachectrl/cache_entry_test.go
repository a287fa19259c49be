package cachectrl_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentrag/src/core/provenance"
	"agentrag/src/core/semanticcache"
	"agentrag/src/storage/cachectrl"
)

func newStore(t *testing.T, path string) *cachectrl.Store {
	t.Helper()
	db, err := cachectrl.OpenSQLite(path)
	require.NoError(t, err)
	store, err := cachectrl.NewStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, filepath.Join(t.TempDir(), "cache.db"))

	created := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	entry := &semanticcache.Entry{
		ID:        42,
		Namespace: semanticcache.DefaultNamespace,
		Question:  "Où se trouvent les laboratoires Givaudan ?",
		Embedding: []float32{0.6, 0.8, 0},
		Answer:    "À Vernier.",
		Trace:     []provenance.Invocation{{Tool: "search_vector_database", Input: "laboratoires", Output: "[Doc 1 - sites]"}},
		Sources:   []provenance.Source{{DocumentID: "labs", Title: "sites"}},
		CreatedAt: created,
		ExpiresAt: created.Add(24 * time.Hour),
	}
	require.NoError(t, store.Insert(ctx, entry))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hitAt := created.Add(time.Hour)
	require.NoError(t, store.RecordHit(ctx, 42, 3, hitAt))

	got, err := store.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	e := got[0]
	assert.Equal(t, entry.Question, e.Question)
	assert.Equal(t, entry.Embedding, e.Embedding)
	assert.Equal(t, entry.Trace, e.Trace)
	assert.Equal(t, entry.Sources, e.Sources)
	assert.Equal(t, 3, e.HitCount)
	assert.True(t, e.LastHitAt.Equal(hitAt))
	assert.True(t, e.ExpiresAt.Equal(entry.ExpiresAt))
	assert.True(t, e.CreatedAt.Equal(created))

	require.NoError(t, store.Delete(ctx, 42, 7))
	n, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, store.Delete(ctx))
}

type unitEmbedder struct{}

func (unitEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if text == "vanille" {
		return []float32{0, 1}, nil
	}
	return []float32{1, 0}, nil
}

func TestCacheSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	first, err := semanticcache.New(ctx, semanticcache.DefaultConfig(), unitEmbedder{}, newStore(t, path))
	require.NoError(t, err)
	_, err = first.Store(ctx, semanticcache.Query{Question: "laboratoires"}, "À Vernier.", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "persistent", first.Mode())

	second, err := semanticcache.New(ctx, semanticcache.DefaultConfig(), unitEmbedder{}, newStore(t, path))
	require.NoError(t, err)
	assert.Equal(t, 1, second.Count())

	hit, sim, err := second.Lookup(ctx, semanticcache.Query{Question: "laboratoires"})
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.InDelta(t, 1.0, sim, 1e-6)
	assert.Equal(t, "À Vernier.", hit.Answer)

	miss, _, err := second.Lookup(ctx, semanticcache.Query{Question: "vanille"})
	require.NoError(t, err)
	assert.Nil(t, miss)
}
