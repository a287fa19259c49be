// Package retrieval queries the knowledge index with a combined keyword and
// dense-vector request and fuses both scores into one ranking.
package retrieval

import (
	"context"
	"errors"

	"agentrag/src/core/provenance"
)

// ErrRetrievalFailed is returned when the index or the embedder cannot serve a query.
var ErrRetrievalFailed = errors.New("retrieval failed")

// Candidate is one chunk considered for a query. It lives for a single query.
type Candidate struct {
	DocumentID   string            `json:"documentId"`
	Text         string            `json:"text"`
	Source       provenance.Source `json:"source"`
	KeywordScore float64           `json:"keywordScore"`
	DenseScore   float64           `json:"denseScore"`
	FusedScore   float64           `json:"fusedScore"`
	// RerankScore is nil until the candidate has been reranked.
	RerankScore *float64 `json:"rerankScore,omitempty"`
}

// FinalScore is the score that orders the candidate: the rerank score once
// present, the fused score before.
func (c Candidate) FinalScore() float64 {
	if c.RerankScore != nil {
		return *c.RerankScore
	}
	return c.FusedScore
}

// IndexRequest asks the index for keyword and dense scores over one candidate pool.
type IndexRequest struct {
	QueryText      string
	QueryEmbedding []float32
	TopK           int
	Alpha          float64
}

// IndexHit carries raw, possibly unnormalized scores as returned by the index.
// A score of 0 means the candidate was not matched by that leg.
type IndexHit struct {
	DocumentID   string
	Text         string
	Source       provenance.Source
	KeywordScore float64
	DenseScore   float64
}

// KnowledgeIndex is the black-box hybrid search API.
type KnowledgeIndex interface {
	Search(ctx context.Context, req IndexRequest) ([]IndexHit, error)
}

// ReadinessChecker is implemented by indexes that can report whether they
// are reachable without running a query.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
