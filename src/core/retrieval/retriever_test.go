package retrieval_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"agentrag/src/core/provider"
	"agentrag/src/core/retrieval"
)

type stubEmbedder struct{ err error }

func (s stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []float32{1, 0, 0}, nil
}

type stubIndex struct {
	hits []retrieval.IndexHit
	err  error
	got  retrieval.IndexRequest
}

func (s *stubIndex) Search(_ context.Context, req retrieval.IndexRequest) ([]retrieval.IndexHit, error) {
	s.got = req
	return s.hits, s.err
}

func TestHybridRetrieverRetrieve(t *testing.T) {
	var hits []retrieval.IndexHit
	for i := 0; i < 15; i++ {
		hits = append(hits, retrieval.IndexHit{
			DocumentID:   fmt.Sprintf("doc-%02d", i),
			Text:         fmt.Sprintf("chunk %d", i),
			KeywordScore: float64(i),
			DenseScore:   float64(i) / 20,
		})
	}

	tests := []struct {
		name    string
		topK    int
		hits    []retrieval.IndexHit
		wantLen int
		wantTop string
	}{
		{name: "default top k", topK: 0, hits: hits, wantLen: 10, wantTop: "doc-14"},
		{name: "explicit top k", topK: 3, hits: hits, wantLen: 3, wantTop: "doc-14"},
		{name: "fewer hits than k", topK: 10, hits: hits[:2], wantLen: 2, wantTop: "doc-01"},
		{name: "no hits", topK: 10, hits: nil, wantLen: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			index := &stubIndex{hits: tt.hits}
			r := retrieval.NewHybridRetriever(index, stubEmbedder{})

			got, err := r.Retrieve(context.Background(), "laboratoires Givaudan", tt.topK)
			if err != nil {
				t.Fatalf("Retrieve() error = %v", err)
			}
			if len(got) != tt.wantLen {
				t.Fatalf("Retrieve() len = %d, want %d", len(got), tt.wantLen)
			}
			if tt.wantLen > 0 && got[0].DocumentID != tt.wantTop {
				t.Errorf("top candidate = %s, want %s", got[0].DocumentID, tt.wantTop)
			}
			for i := 1; i < len(got); i++ {
				if got[i].FusedScore > got[i-1].FusedScore {
					t.Errorf("candidates not ordered by fused score at %d", i)
				}
			}
			if index.got.Alpha != retrieval.DefaultAlpha {
				t.Errorf("index alpha = %v, want %v", index.got.Alpha, retrieval.DefaultAlpha)
			}
		})
	}
}

func TestHybridRetrieverFailures(t *testing.T) {
	tests := []struct {
		name     string
		embedErr error
		indexErr error
		query    string
		provider string
	}{
		{name: "index unreachable", indexErr: errors.New("dial tcp: connection refused"), query: "q", provider: "knowledge-index"},
		{name: "embedding down", embedErr: errors.New("503"), query: "q", provider: "embedding"},
		{name: "empty query", query: "   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := retrieval.NewHybridRetriever(&stubIndex{err: tt.indexErr}, stubEmbedder{err: tt.embedErr})
			got, err := r.Retrieve(context.Background(), tt.query, 10)
			if !errors.Is(err, retrieval.ErrRetrievalFailed) {
				t.Fatalf("Retrieve() error = %v, want ErrRetrievalFailed", err)
			}
			if got != nil {
				t.Errorf("Retrieve() returned candidates on failure: %v", got)
			}
			if provider.Name(err) != tt.provider {
				t.Errorf("provider = %q, want %q", provider.Name(err), tt.provider)
			}
		})
	}
}

func TestWithAlpha(t *testing.T) {
	tests := []struct {
		alpha float64
		want  float64
	}{
		{alpha: 0.75, want: 0.75},
		{alpha: 0, want: 0},
		{alpha: 1.5, want: retrieval.DefaultAlpha},
		{alpha: -0.1, want: retrieval.DefaultAlpha},
	}
	for _, tt := range tests {
		r := retrieval.NewHybridRetriever(&stubIndex{}, stubEmbedder{}, retrieval.WithAlpha(tt.alpha))
		if r.Alpha() != tt.want {
			t.Errorf("WithAlpha(%v) = %v, want %v", tt.alpha, r.Alpha(), tt.want)
		}
	}
}

type readyIndex struct {
	stubIndex
	err error
}

func (r *readyIndex) Ready(context.Context) error { return r.err }

func TestHybridRetrieverReady(t *testing.T) {
	if err := retrieval.NewHybridRetriever(&stubIndex{}, &stubEmbedder{}).Ready(context.Background()); err != nil {
		t.Errorf("Ready() without checker = %v, want nil", err)
	}
	down := &readyIndex{err: errors.New("connection refused")}
	err := retrieval.NewHybridRetriever(down, &stubEmbedder{}).Ready(context.Background())
	if provider.Name(err) != "knowledge-index" {
		t.Errorf("Ready() = %v, want knowledge-index failure", err)
	}
}
