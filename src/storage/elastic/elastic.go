// Package elastic serves knowledge-index queries from an Elasticsearch index
// holding one document per chunk with a dense_vector field.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/elastic/go-elasticsearch/v8"
	"golang.org/x/sync/errgroup"

	"agentrag/src/core/provenance"
	"agentrag/src/core/retrieval"
)

const (
	DefaultIndexName = "givaudan-chunks"

	contentField   = "content"
	embeddingField = "embedding"
	minCandidates  = 100
)

func NewClient(address string) (*elasticsearch.Client, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{address}})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return client, nil
}

// Index runs a match query and a knn query over the same index and merges
// them by document id. The knn score for cosine similarity is (1+cos)/2.
type Index struct {
	client *elasticsearch.Client
	name   string
}

func NewIndex(client *elasticsearch.Client, name string) *Index {
	if name == "" {
		name = DefaultIndexName
	}
	return &Index{client: client, name: name}
}

type chunkSource struct {
	Content    string `json:"content"`
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Section    string `json:"section"`
	Path       string `json:"path"`
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string      `json:"_id"`
			Score  float64     `json:"_score"`
			Source chunkSource `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (x *Index) Search(ctx context.Context, req retrieval.IndexRequest) ([]retrieval.IndexHit, error) {
	size := req.TopK
	if size <= 0 {
		size = retrieval.DefaultTopK
	}

	var keyword, dense []retrieval.IndexHit
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		body := map[string]any{
			"size":    size,
			"_source": []string{contentField, "document_id", "title", "section", "path"},
			"query": map[string]any{
				"match": map[string]any{contentField: req.QueryText},
			},
		}
		hits, err := x.search(ctx, body)
		if err != nil {
			return fmt.Errorf("keyword query: %w", err)
		}
		for i := range hits {
			hits[i].KeywordScore, hits[i].DenseScore = hits[i].DenseScore, 0
		}
		keyword = hits
		return nil
	})
	if len(req.QueryEmbedding) > 0 {
		g.Go(func() error {
			body := map[string]any{
				"size":    size,
				"_source": []string{contentField, "document_id", "title", "section", "path"},
				"knn": map[string]any{
					"field":          embeddingField,
					"query_vector":   req.QueryEmbedding,
					"k":              size,
					"num_candidates": max(minCandidates, size*10),
				},
			}
			hits, err := x.search(ctx, body)
			if err != nil {
				return fmt.Errorf("knn query: %w", err)
			}
			dense = hits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return retrieval.MergeHits(keyword, dense), nil
}

// search runs one query and returns hits with the raw _score in DenseScore.
func (x *Index) search(ctx context.Context, body map[string]any) ([]retrieval.IndexHit, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	res, err := x.client.Search(
		x.client.Search.WithContext(ctx),
		x.client.Search.WithIndex(x.name),
		x.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", x.name, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, fmt.Errorf("search %s returned %s: %s", x.name, res.Status(), bytes.TrimSpace(msg))
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	hits := make([]retrieval.IndexHit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		id := h.Source.DocumentID
		if id == "" {
			id = h.ID
		}
		hits = append(hits, retrieval.IndexHit{
			DocumentID: id,
			Text:       h.Source.Content,
			Source: provenance.Source{
				DocumentID: id,
				Title:      h.Source.Title,
				Section:    h.Source.Section,
				Path:       h.Source.Path,
			},
			DenseScore: h.Score,
		})
	}
	return hits, nil
}

// Ready pings the cluster.
func (x *Index) Ready(ctx context.Context) error {
	res, err := x.client.Ping(x.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to ping elasticsearch: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch ping returned %s", res.Status())
	}
	return nil
}
