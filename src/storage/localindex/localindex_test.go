package localindex_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentrag/src/core/retrieval"
	"agentrag/src/storage/localindex"
)

func corpus() []localindex.Chunk {
	return []localindex.Chunk{
		{DocumentID: "labs", Text: "Les laboratoires de recherche sont à Vernier", Title: "sites", Embedding: []float32{1, 0, 0}},
		{DocumentID: "vanille", Text: "La vanille de Madagascar", Embedding: []float32{0, 1, 0}},
		{DocumentID: "asie", Text: "Centre de création à Singapour", Embedding: []float32{0.8, 0.6, 0}},
	}
}

func TestIndexSearch(t *testing.T) {
	idx, err := localindex.New()
	require.NoError(t, err)
	defer idx.Close()
	require.NoError(t, idx.Add(context.Background(), corpus()...))
	assert.Equal(t, 3, idx.Len())

	hits, err := idx.Search(context.Background(), retrieval.IndexRequest{
		QueryText:      "laboratoires",
		QueryEmbedding: []float32{2, 0, 0},
		TopK:           10,
	})
	require.NoError(t, err)

	byID := map[string]retrieval.IndexHit{}
	for _, h := range hits {
		byID[h.DocumentID] = h
	}
	require.Len(t, byID, 2, "vanille is orthogonal and has no keyword match")
	assert.Positive(t, byID["labs"].KeywordScore)
	assert.InDelta(t, 1.0, byID["labs"].DenseScore, 1e-6)
	assert.Zero(t, byID["asie"].KeywordScore)
	assert.InDelta(t, 0.8, byID["asie"].DenseScore, 1e-6)
	assert.Equal(t, "sites", byID["labs"].Source.Title)

	// end to end through the retriever
	r := retrieval.NewHybridRetriever(idx, fixedEmbedder{1, 0, 0})
	cands, err := r.Retrieve(context.Background(), "laboratoires", 2)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "labs", cands[0].DocumentID)
}

type fixedEmbedder []float32

func (f fixedEmbedder) Embed(context.Context, string) ([]float32, error) {
	return f, nil
}

func TestAddRejectsChunkWithoutID(t *testing.T) {
	idx, err := localindex.New()
	require.NoError(t, err)
	assert.Error(t, idx.Add(context.Background(), localindex.Chunk{Text: "x"}))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"document_id":"a","content":"alpha","embedding":[1,0]},
		{"document_id":"b","content":"beta"}
	]`), 0o600))

	chunks, err := localindex.LoadFile(context.Background(), path, fixedEmbedder{0, 1})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, []float32{1, 0}, chunks[0].Embedding)
	assert.Equal(t, []float32{0, 1}, chunks[1].Embedding)

	_, err = localindex.LoadFile(context.Background(), filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.Error(t, err)
}
