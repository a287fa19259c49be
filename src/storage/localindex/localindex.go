// Package localindex is an in-process knowledge index: bleve for keyword
// scores and an exact cosine scan for dense scores. It serves local runs and
// tests where no index service is available.
package localindex

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"

	"agentrag/src/core/provenance"
	"agentrag/src/core/retrieval"
	"agentrag/src/core/semanticcache"
)

// Chunk is one pre-chunked piece of the knowledge base.
type Chunk struct {
	DocumentID string    `json:"document_id"`
	Text       string    `json:"content"`
	Title      string    `json:"title,omitempty"`
	Section    string    `json:"section,omitempty"`
	Path       string    `json:"path,omitempty"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

type Index struct {
	index bleve.Index

	mu     sync.RWMutex
	chunks map[string]Chunk
}

func New() (*Index, error) {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	docMapping.AddFieldMappingsAt("title", textFieldMapping)
	im.DefaultMapping = docMapping

	index, err := bleve.NewMemOnly(im)
	if err != nil {
		return nil, fmt.Errorf("failed to create bleve index: %w", err)
	}
	return &Index{index: index, chunks: make(map[string]Chunk)}, nil
}

// Add indexes chunks. Embeddings are normalized on the way in.
func (x *Index) Add(_ context.Context, chunks ...Chunk) error {
	batch := x.index.NewBatch()
	for _, c := range chunks {
		if c.DocumentID == "" {
			return fmt.Errorf("chunk without document_id")
		}
		if err := batch.Index(c.DocumentID, map[string]interface{}{
			"content": c.Text,
			"title":   c.Title,
		}); err != nil {
			return fmt.Errorf("failed to index chunk %s: %w", c.DocumentID, err)
		}
	}
	if err := x.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to apply batch: %w", err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	for _, c := range chunks {
		c.Embedding = semanticcache.Normalize(c.Embedding)
		x.chunks[c.DocumentID] = c
	}
	return nil
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.chunks)
}

func (x *Index) Search(ctx context.Context, req retrieval.IndexRequest) ([]retrieval.IndexHit, error) {
	size := req.TopK
	if size <= 0 {
		size = retrieval.DefaultTopK
	}

	var keyword []retrieval.IndexHit
	if req.QueryText != "" {
		search := bleve.NewSearchRequest(bleve.NewMatchQuery(req.QueryText))
		search.Size = size
		results, err := x.index.SearchInContext(ctx, search)
		if err != nil {
			return nil, fmt.Errorf("bleve search failed: %w", err)
		}
		x.mu.RLock()
		for _, h := range results.Hits {
			if c, ok := x.chunks[h.ID]; ok {
				hit := toHit(c)
				hit.KeywordScore = h.Score
				keyword = append(keyword, hit)
			}
		}
		x.mu.RUnlock()
	}

	var dense []retrieval.IndexHit
	if len(req.QueryEmbedding) > 0 {
		query := semanticcache.Normalize(req.QueryEmbedding)
		x.mu.RLock()
		for _, c := range x.chunks {
			if sim := semanticcache.Cosine(query, c.Embedding); sim > 0 {
				hit := toHit(c)
				hit.DenseScore = sim
				dense = append(dense, hit)
			}
		}
		x.mu.RUnlock()
		sort.Slice(dense, func(i, j int) bool {
			if dense[i].DenseScore != dense[j].DenseScore {
				return dense[i].DenseScore > dense[j].DenseScore
			}
			return dense[i].DocumentID < dense[j].DocumentID
		})
		if len(dense) > size {
			dense = dense[:size]
		}
	}

	return retrieval.MergeHits(keyword, dense), nil
}

func (x *Index) Ready(context.Context) error {
	return nil
}

func (x *Index) Close() error {
	return x.index.Close()
}

// Embedder fills in missing chunk embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// LoadFile reads a JSON array of chunks and embeds those without an embedding.
func LoadFile(ctx context.Context, path string, embedder Embedder) ([]Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var chunks []Chunk
	if err := json.Unmarshal(data, &chunks); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	for i := range chunks {
		if len(chunks[i].Embedding) > 0 || embedder == nil {
			continue
		}
		vec, err := embedder.Embed(ctx, chunks[i].Text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunk %s: %w", chunks[i].DocumentID, err)
		}
		chunks[i].Embedding = vec
	}
	return chunks, nil
}

func toHit(c Chunk) retrieval.IndexHit {
	return retrieval.IndexHit{
		DocumentID: c.DocumentID,
		Text:       c.Text,
		Source: provenance.Source{
			DocumentID: c.DocumentID,
			Title:      c.Title,
			Section:    c.Section,
			Path:       c.Path,
		},
	}
}
