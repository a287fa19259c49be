package tools_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentrag/src/core/provenance"
	"agentrag/src/core/rerank"
	"agentrag/src/core/retrieval"
	"agentrag/src/core/tools"
)

type stubRetriever struct {
	candidates []retrieval.Candidate
	err        error
	topK       int
}

func (s *stubRetriever) Retrieve(_ context.Context, _ string, topK int) ([]retrieval.Candidate, error) {
	s.topK = topK
	return s.candidates, s.err
}

type reverseScorer struct{ calls int }

// Score favours later candidates so reranking visibly changes the order.
func (r *reverseScorer) Score(_ context.Context, _ string, texts []string) ([]float64, error) {
	r.calls++
	out := make([]float64, len(texts))
	for i := range texts {
		out[i] = float64(i)
	}
	return out, nil
}

func labCandidates() []retrieval.Candidate {
	return []retrieval.Candidate{
		{DocumentID: "d1", Text: strings.Repeat("Genève ", 80), FusedScore: 0.9, Source: provenance.Source{Title: "sites.pdf"}},
		{DocumentID: "d2", Text: "Vernier", FusedScore: 0.8, Source: provenance.Source{Path: "docs/labs.md"}},
		{DocumentID: "d3", Text: "Zurich", FusedScore: 0.7},
		{DocumentID: "d4", Text: "Singapour", FusedScore: 0.6},
	}
}

func TestKnowledgeSearch(t *testing.T) {
	retriever := &stubRetriever{candidates: labCandidates()}
	scorer := &reverseScorer{}
	tool := tools.NewKnowledgeSearch(retriever, rerank.NewReranker(scorer))

	res, err := tool.Invoke(context.Background(), "laboratoires Givaudan")
	require.NoError(t, err)

	assert.Equal(t, 10, retriever.topK)
	assert.Equal(t, 1, scorer.calls)
	require.Len(t, res.Sources, 3)
	assert.Equal(t, "d4", res.Sources[0].DocumentID)
	assert.Equal(t, "d3", res.Sources[1].DocumentID)
	assert.Equal(t, "d2", res.Sources[2].DocumentID)
	assert.True(t, strings.HasPrefix(res.Output, "[Doc 1 - d4]\nSingapour"))
	assert.Contains(t, res.Output, "[Doc 3 - docs/labs.md]\nVernier")
}

func TestKnowledgeSearchFastMode(t *testing.T) {
	retriever := &stubRetriever{candidates: labCandidates()}
	scorer := &reverseScorer{}
	tool := tools.NewKnowledgeSearch(retriever, rerank.NewReranker(scorer))

	res, err := tool.Invoke(tools.WithFastMode(context.Background(), true), "laboratoires")
	require.NoError(t, err)

	assert.Zero(t, scorer.calls)
	require.Len(t, res.Sources, 3)
	assert.Equal(t, "d1", res.Sources[0].DocumentID)
	assert.Equal(t, "sites.pdf", res.Sources[0].Title)

	first := strings.SplitN(res.Output, "\n[Doc 2", 2)[0]
	body := strings.TrimPrefix(first, "[Doc 1 - sites.pdf]\n")
	assert.Equal(t, 303, len([]rune(body)), "chunk is cut to 300 runes plus ellipsis")
	assert.True(t, strings.HasSuffix(body, "..."))
}

func TestKnowledgeSearchEmptyAndFailing(t *testing.T) {
	empty := tools.NewKnowledgeSearch(&stubRetriever{}, rerank.NewReranker(nil))
	res, err := empty.Invoke(context.Background(), "rien")
	require.NoError(t, err)
	assert.Equal(t, tools.NoDocumentsMessage, res.Output)
	assert.Empty(t, res.Sources)

	down := tools.NewKnowledgeSearch(&stubRetriever{err: retrieval.ErrRetrievalFailed}, rerank.NewReranker(nil))
	_, err = down.Invoke(context.Background(), "laboratoires")
	assert.True(t, errors.Is(err, retrieval.ErrRetrievalFailed))
}

type readinessRetriever struct {
	stubRetriever
	readyErr error
}

func (p *readinessRetriever) Ready(context.Context) error { return p.readyErr }

func TestRegistryAvailableHidesUnreadyKnowledgeSearch(t *testing.T) {
	down := tools.NewKnowledgeSearch(&readinessRetriever{readyErr: errors.New("index down")}, rerank.NewReranker(nil))
	webTool := tools.NewWebSearch(nil)
	r := tools.NewRegistry(0, down, webTool)

	got := r.Available(context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, tools.WebToolName, got[0].Name())

	up := tools.NewKnowledgeSearch(&readinessRetriever{}, rerank.NewReranker(nil))
	assert.Len(t, tools.NewRegistry(0, up, webTool).Available(context.Background()), 2)
}
