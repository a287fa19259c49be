package elastic_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentrag/src/core/retrieval"
	"agentrag/src/storage/elastic"
)

func newServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodHead {
			w.WriteHeader(status)
			return
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `{"error":"index_not_found_exception"}`)
			return
		}

		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["knn"]; ok {
			_, _ = io.WriteString(w, `{"hits":{"hits":[
				{"_id":"e1","_score":0.95,"_source":{"content":"Vernier","document_id":"doc-1","title":"sites.pdf"}},
				{"_id":"e3","_score":0.7,"_source":{"content":"Singapour"}}
			]}}`)
			return
		}
		_, _ = io.WriteString(w, `{"hits":{"hits":[
			{"_id":"e1","_score":7.2,"_source":{"content":"Vernier","document_id":"doc-1","title":"sites.pdf"}},
			{"_id":"e2","_score":3.1,"_source":{"content":"Zurich","document_id":"doc-2"}}
		]}}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestIndexSearch(t *testing.T) {
	srv := newServer(t, http.StatusOK)
	client, err := elastic.NewClient(srv.URL)
	require.NoError(t, err)

	hits, err := elastic.NewIndex(client, "").Search(context.Background(), retrieval.IndexRequest{
		QueryText:      "laboratoires",
		QueryEmbedding: []float32{0.1, 0.2},
		TopK:           5,
	})
	require.NoError(t, err)
	require.Len(t, hits, 3)

	byID := map[string]retrieval.IndexHit{}
	for _, h := range hits {
		byID[h.DocumentID] = h
	}
	assert.InDelta(t, 7.2, byID["doc-1"].KeywordScore, 1e-9)
	assert.InDelta(t, 0.95, byID["doc-1"].DenseScore, 1e-9)
	assert.InDelta(t, 3.1, byID["doc-2"].KeywordScore, 1e-9)
	assert.Zero(t, byID["doc-2"].DenseScore)
	assert.InDelta(t, 0.7, byID["e3"].DenseScore, 1e-9)
	assert.Equal(t, "sites.pdf", byID["doc-1"].Source.Title)
}

func TestIndexSearchError(t *testing.T) {
	srv := newServer(t, http.StatusNotFound)
	client, err := elastic.NewClient(srv.URL)
	require.NoError(t, err)

	index := elastic.NewIndex(client, "missing")
	_, err = index.Search(context.Background(), retrieval.IndexRequest{QueryText: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	assert.Error(t, index.Ready(context.Background()))
}

func TestIndexReady(t *testing.T) {
	srv := newServer(t, http.StatusOK)
	client, err := elastic.NewClient(srv.URL)
	require.NoError(t, err)
	assert.NoError(t, elastic.NewIndex(client, "").Ready(context.Background()))
}
