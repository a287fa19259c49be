package rerank_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"agentrag/src/core/rerank"
	"agentrag/src/core/retrieval"
)

// lengthScorer scores texts by how many query words they contain.
type lengthScorer struct {
	err   error
	short bool
	calls int
	sent  int
}

func (s *lengthScorer) Score(_ context.Context, query string, texts []string) ([]float64, error) {
	s.calls++
	s.sent = len(texts)
	if s.err != nil {
		return nil, s.err
	}
	words := strings.Fields(strings.ToLower(query))
	scores := make([]float64, len(texts))
	for i, t := range texts {
		for _, w := range words {
			if strings.Contains(strings.ToLower(t), w) {
				scores[i]++
			}
		}
	}
	if s.short {
		return scores[:len(scores)-1], nil
	}
	return scores, nil
}

func candidates() []retrieval.Candidate {
	return []retrieval.Candidate{
		{DocumentID: "d1", Text: "Givaudan fondée à Genève", FusedScore: 0.9},
		{DocumentID: "d2", Text: "laboratoires à Vernier près de Genève", FusedScore: 0.7},
		{DocumentID: "d3", Text: "pyramide olfactive", FusedScore: 0.6},
		{DocumentID: "d4", Text: "les laboratoires de recherche Givaudan", FusedScore: 0.5},
		{DocumentID: "d5", Text: "laboratoires Givaudan à Singapour et Zurich", FusedScore: 0.4},
	}
}

func TestRerank(t *testing.T) {
	scorer := &lengthScorer{}
	r := rerank.NewReranker(scorer)

	got := r.Rerank(context.Background(), "laboratoires Givaudan", candidates())
	if got.Degraded {
		t.Fatalf("Rerank() degraded: %v", got.Err)
	}
	wantOrder := []string{"d4", "d5", "d1"}
	if len(got.Candidates) != len(wantOrder) {
		t.Fatalf("Rerank() len = %d, want %d", len(got.Candidates), len(wantOrder))
	}
	for i, id := range wantOrder {
		if got.Candidates[i].DocumentID != id {
			t.Errorf("Rerank()[%d] = %s, want %s", i, got.Candidates[i].DocumentID, id)
		}
		if got.Candidates[i].RerankScore == nil {
			t.Errorf("Rerank()[%d] missing rerank score", i)
		}
	}
}

func TestRerankFallback(t *testing.T) {
	tests := []struct {
		name   string
		scorer rerank.Scorer
	}{
		{name: "no scorer", scorer: nil},
		{name: "scorer down", scorer: &lengthScorer{err: errors.New("connection refused")}},
		{name: "short response", scorer: &lengthScorer{short: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := rerank.NewReranker(tt.scorer)
			got := r.Rerank(context.Background(), "laboratoires", candidates())
			if !got.Degraded || !errors.Is(got.Err, rerank.ErrRerankerUnavailable) {
				t.Fatalf("Rerank() = degraded %v err %v, want fallback", got.Degraded, got.Err)
			}
			wantOrder := []string{"d1", "d2", "d3"}
			for i, id := range wantOrder {
				if got.Candidates[i].DocumentID != id {
					t.Errorf("fallback[%d] = %s, want %s", i, got.Candidates[i].DocumentID, id)
				}
				if got.Candidates[i].RerankScore != nil {
					t.Errorf("fallback[%d] has a rerank score", i)
				}
			}
		})
	}
}

func TestRerankCapsCandidatesSentToScorer(t *testing.T) {
	var many []retrieval.Candidate
	for i := 0; i < 50; i++ {
		many = append(many, retrieval.Candidate{DocumentID: fmt.Sprintf("d%02d", i), Text: "x", FusedScore: float64(i)})
	}
	scorer := &lengthScorer{}
	rerank.NewReranker(scorer).Rerank(context.Background(), "x", many)
	if scorer.sent != rerank.MaxCandidates {
		t.Errorf("scorer received %d candidates, want %d", scorer.sent, rerank.MaxCandidates)
	}
}

func TestRerankOutputIsSubsetOfInput(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 30).Draw(t, "n")
		finalK := rapid.IntRange(1, 10).Draw(t, "finalK")
		failing := rapid.Bool().Draw(t, "failing")

		in := make([]retrieval.Candidate, n)
		present := map[string]bool{}
		for i := range in {
			id := fmt.Sprintf("doc-%d", i)
			in[i] = retrieval.Candidate{
				DocumentID: id,
				Text:       rapid.StringMatching(`[a-z ]{0,20}`).Draw(t, "text"),
				FusedScore: rapid.Float64Range(0, 1).Draw(t, "fused"),
			}
			present[id] = true
		}

		scorer := &lengthScorer{}
		if failing {
			scorer.err = errors.New("down")
		}
		got := rerank.NewReranker(scorer, rerank.WithFinalK(finalK)).Rerank(context.Background(), "a b c", in)

		if len(got.Candidates) > finalK {
			t.Fatalf("output size %d exceeds final_k %d", len(got.Candidates), finalK)
		}
		seen := map[string]bool{}
		for _, c := range got.Candidates {
			if !present[c.DocumentID] {
				t.Fatalf("output introduced %s", c.DocumentID)
			}
			if seen[c.DocumentID] {
				t.Fatalf("output duplicated %s", c.DocumentID)
			}
			seen[c.DocumentID] = true
		}
	})
}
