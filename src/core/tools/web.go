package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"agentrag/src/core/provenance"
	"agentrag/src/core/provider"
)

const (
	DefaultQueryPrefix = "Givaudan parfums arômes"
	NoWebResultMessage = "Aucun résultat web."

	webOutputLen = 500
)

var ErrWebUnavailable = errors.New("web search unavailable")

// WebHit is one ranked result of the web search provider.
type WebHit struct {
	Title   string
	URL     string
	Snippet string
}

type Searcher interface {
	Search(ctx context.Context, query string) ([]WebHit, error)
}

// WebSearch forwards the input to an external search provider. It is meant
// for recent events or when the knowledge base has nothing useful.
type WebSearch struct {
	searcher Searcher
	prefix   string
	limiter  *rate.Limiter
}

type WebOption func(w *WebSearch)

func WithQueryPrefix(prefix string) WebOption {
	return func(w *WebSearch) {
		w.prefix = strings.TrimSpace(prefix)
	}
}

// WithRateLimit bounds provider calls per minute. Zero disables limiting.
func WithRateLimit(perMinute int) WebOption {
	return func(w *WebSearch) {
		if perMinute > 0 {
			w.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60), 1)
		}
	}
}

// NewWebSearch builds the tool. A nil searcher keeps the tool registered but
// every call fails with ErrWebUnavailable.
func NewWebSearch(searcher Searcher, opts ...WebOption) *WebSearch {
	w := &WebSearch{
		searcher: searcher,
		prefix:   DefaultQueryPrefix,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *WebSearch) Name() string {
	return WebToolName
}

func (w *WebSearch) Description() string {
	return "Cherche sur internet (pour info récentes uniquement)"
}

func (w *WebSearch) Invoke(ctx context.Context, input string) (Result, error) {
	if w.searcher == nil {
		return Result{}, provider.Unavailable("web-search", ErrWebUnavailable)
	}
	if w.limiter != nil {
		if err := w.limiter.Wait(ctx); err != nil {
			return Result{}, fmt.Errorf("wait for web search slot: %w", err)
		}
	}

	query := strings.TrimSpace(input)
	if w.prefix != "" {
		query = w.prefix + " " + query
	}
	hits, err := w.searcher.Search(ctx, query)
	if err != nil {
		return Result{}, provider.Unavailable("web-search", err)
	}
	if len(hits) == 0 {
		return Result{Output: NoWebResultMessage}, nil
	}

	lines := make([]string, 0, len(hits))
	sources := make([]provenance.Source, 0, len(hits))
	for _, h := range hits {
		lines = append(lines, fmt.Sprintf("%s: %s (%s)", h.Title, h.Snippet, h.URL))
		sources = append(sources, provenance.Source{Title: h.Title, URL: h.URL})
	}
	return Result{Output: truncate(strings.Join(lines, "\n"), webOutputLen), Sources: sources}, nil
}
