// Package rerank refines a small candidate shortlist with a cross-encoder
// that scores each (query, chunk) pair jointly.
package rerank

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-logr/logr"

	"agentrag/src/core/provider"
	"agentrag/src/core/retrieval"
	"agentrag/src/log"
)

const (
	DefaultFinalK = 3
	// MaxCandidates caps how many candidates are ever sent to the cross-encoder.
	MaxCandidates  = 20
	defaultTimeout = 10 * time.Second
)

// ErrRerankerUnavailable is reported in Result.Err when the fallback ordering was used.
var ErrRerankerUnavailable = errors.New("reranker unavailable")

// Scorer returns one relevance score per text, in input order.
type Scorer interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// Result is the reranked shortlist. Degraded is set when the scorer could not
// be used and the candidates are the top final_k by fused score instead.
type Result struct {
	Candidates []retrieval.Candidate
	Degraded   bool
	Err        error
}

type Reranker struct {
	scorer  Scorer
	finalK  int
	timeout time.Duration
	logger  logr.Logger
}

type Option func(r *Reranker)

func WithFinalK(k int) Option {
	return func(r *Reranker) {
		if k > 0 {
			r.finalK = k
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(r *Reranker) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewReranker builds a reranker. A nil scorer always takes the fallback path.
func NewReranker(scorer Scorer, opts ...Option) *Reranker {
	r := &Reranker{
		scorer:  scorer,
		finalK:  DefaultFinalK,
		timeout: defaultTimeout,
		logger:  log.WithName("reranker"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reranker) FinalK() int {
	return r.finalK
}

// Rerank returns a subset of candidates of size at most final_k ordered by
// rerank score. It never fails: an unavailable scorer yields the top
// final_k by fused score with Degraded set.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []retrieval.Candidate) Result {
	if len(candidates) == 0 {
		return Result{}
	}

	shortlist := make([]retrieval.Candidate, len(candidates))
	copy(shortlist, candidates)
	retrieval.SortByFused(shortlist)
	if len(shortlist) > MaxCandidates {
		shortlist = shortlist[:MaxCandidates]
	}

	if r.scorer == nil {
		return r.fallback(shortlist, fmt.Errorf("%w: no scorer configured", ErrRerankerUnavailable))
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	texts := make([]string, len(shortlist))
	for i, c := range shortlist {
		texts[i] = c.Text
	}
	scores, err := r.scorer.Score(ctx, query, texts)
	if err != nil {
		return r.fallback(shortlist, fmt.Errorf("%w: %w", ErrRerankerUnavailable, provider.Unavailable("reranker", err)))
	}
	if len(scores) != len(shortlist) {
		return r.fallback(shortlist, fmt.Errorf("%w: got %d scores for %d candidates", ErrRerankerUnavailable, len(scores), len(shortlist)))
	}

	for i := range shortlist {
		score := scores[i]
		shortlist[i].RerankScore = &score
	}
	sort.SliceStable(shortlist, func(i, j int) bool {
		a, b := *shortlist[i].RerankScore, *shortlist[j].RerankScore
		if a != b {
			return a > b
		}
		return shortlist[i].DocumentID < shortlist[j].DocumentID
	})

	out := truncate(shortlist, r.finalK)
	r.logger.V(1).Info("reranked candidates", "in", len(candidates), "out", len(out))
	return Result{Candidates: out}
}

// Fast returns the top final_k by fused score without calling the scorer.
func (r *Reranker) Fast(candidates []retrieval.Candidate) []retrieval.Candidate {
	shortlist := make([]retrieval.Candidate, len(candidates))
	copy(shortlist, candidates)
	retrieval.SortByFused(shortlist)
	return truncate(shortlist, r.finalK)
}

func (r *Reranker) fallback(shortlist []retrieval.Candidate, err error) Result {
	r.logger.Error(err, "reranking skipped, keeping fused order")
	return Result{
		Candidates: truncate(shortlist, r.finalK),
		Degraded:   true,
		Err:        err,
	}
}

func truncate(cs []retrieval.Candidate, k int) []retrieval.Candidate {
	if len(cs) > k {
		return cs[:k]
	}
	return cs
}
