package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"agentrag/src/core/provider"
	"agentrag/src/log"
)

const (
	DefaultTopK    = 10
	defaultTimeout = 15 * time.Second
)

// HybridRetriever embeds the query, issues one hybrid request to the index
// and fuses the returned keyword and dense scores.
type HybridRetriever struct {
	index    KnowledgeIndex
	embedder Embedder
	alpha    float64
	timeout  time.Duration
	logger   logr.Logger
}

type Option func(r *HybridRetriever)

// WithAlpha sets the dense weight of the fusion. Values outside [0,1] are ignored.
func WithAlpha(alpha float64) Option {
	return func(r *HybridRetriever) {
		if alpha >= 0 && alpha <= 1 {
			r.alpha = alpha
		}
	}
}

// WithTimeout bounds each retrieval, embedding included.
func WithTimeout(d time.Duration) Option {
	return func(r *HybridRetriever) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func NewHybridRetriever(index KnowledgeIndex, embedder Embedder, opts ...Option) *HybridRetriever {
	r := &HybridRetriever{
		index:    index,
		embedder: embedder,
		alpha:    DefaultAlpha,
		timeout:  defaultTimeout,
		logger:   log.WithName("retriever"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Alpha returns the configured dense weight.
func (r *HybridRetriever) Alpha() float64 {
	return r.alpha
}

// Retrieve returns at most topK candidates ordered by fused score.
// Index or embedding failures are returned as ErrRetrievalFailed, never as an empty result.
func (r *HybridRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Candidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrRetrievalFailed)
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrievalFailed, provider.Unavailable("embedding", err))
	}

	hits, err := r.index.Search(ctx, IndexRequest{
		QueryText:      query,
		QueryEmbedding: embedding,
		TopK:           topK,
		Alpha:          r.alpha,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrievalFailed, provider.Unavailable("knowledge-index", err))
	}

	candidates := FuseHits(hits, r.alpha)
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	r.logger.V(1).Info("retrieved candidates", "query", query, "hits", len(hits), "returned", len(candidates))
	return candidates, nil
}

// Ready reports whether the index is reachable. Indexes that cannot tell are
// assumed ready.
func (r *HybridRetriever) Ready(ctx context.Context) error {
	rc, ok := r.index.(ReadinessChecker)
	if !ok {
		return nil
	}
	if err := rc.Ready(ctx); err != nil {
		return provider.Unavailable("knowledge-index", err)
	}
	return nil
}
