package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-logr/logr"

	"agentrag/src/core/provenance"
	"agentrag/src/core/rerank"
	"agentrag/src/core/retrieval"
	"agentrag/src/log"
)

const (
	NoDocumentsMessage = "Aucun document trouvé."

	knowledgeTopK     = 10
	knowledgeChunkLen = 300
)

type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]retrieval.Candidate, error)
}

type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []retrieval.Candidate) rerank.Result
	Fast(candidates []retrieval.Candidate) []retrieval.Candidate
}

// KnowledgeSearch retrieves ten candidates from the knowledge base and keeps
// the reranked top ones.
type KnowledgeSearch struct {
	retriever Retriever
	reranker  Reranker
	topK      int
	logger    logr.Logger
}

func NewKnowledgeSearch(retriever Retriever, reranker Reranker) *KnowledgeSearch {
	return &KnowledgeSearch{
		retriever: retriever,
		reranker:  reranker,
		topK:      knowledgeTopK,
		logger:    log.WithName("knowledge-search"),
	}
}

func (k *KnowledgeSearch) Name() string {
	return KnowledgeToolName
}

func (k *KnowledgeSearch) Description() string {
	return "Cherche dans la base Givaudan (parfums, arômes, laboratoires, etc.)"
}

// Ready probes the retriever when it supports it.
func (k *KnowledgeSearch) Ready(ctx context.Context) error {
	if rc, ok := k.retriever.(ReadinessChecker); ok {
		return rc.Ready(ctx)
	}
	return nil
}

func (k *KnowledgeSearch) Invoke(ctx context.Context, input string) (Result, error) {
	candidates, err := k.retriever.Retrieve(ctx, input, k.topK)
	if err != nil {
		return Result{}, err
	}
	if len(candidates) == 0 {
		return Result{Output: NoDocumentsMessage}, nil
	}

	var final []retrieval.Candidate
	if FastMode(ctx) {
		final = k.reranker.Fast(candidates)
	} else {
		res := k.reranker.Rerank(ctx, input, candidates)
		if res.Degraded {
			k.logger.Info("using fused order", "reason", res.Err.Error())
		}
		final = res.Candidates
	}

	parts := make([]string, 0, len(final))
	sources := make([]provenance.Source, 0, len(final))
	for i, c := range final {
		src := c.Source
		if src.DocumentID == "" {
			src.DocumentID = c.DocumentID
		}
		src.Score = c.FinalScore()
		sources = append(sources, src)
		parts = append(parts, fmt.Sprintf("[Doc %d - %s]\n%s", i+1, src.Label(), truncate(c.Text, knowledgeChunkLen)))
	}
	return Result{Output: strings.Join(parts, "\n"), Sources: sources}, nil
}
