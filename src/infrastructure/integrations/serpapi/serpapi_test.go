package serpapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentrag/src/core/tools"
	"agentrag/src/infrastructure/integrations/serpapi"
)

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "google", q.Get("engine"))
		assert.Equal(t, "Givaudan résultats 2024", q.Get("q"))
		assert.Equal(t, "fr", q.Get("hl"))
		assert.Equal(t, "secret", q.Get("api_key"))
		_, _ = w.Write([]byte(`{
			"answer_box": {"title": "Givaudan", "answer": "CHF 7,4 milliards", "link": "https://www.givaudan.com"},
			"organic_results": [
				{"position": 1, "title": " Résultats annuels ", "link": "https://a.example", "snippet": "Croissance organique"},
				{"position": 2, "title": "Presse", "link": "https://b.example", "snippet": "Communiqué"}
			]
		}`))
	}))
	defer srv.Close()

	c := serpapi.NewClient("secret", time.Second, serpapi.WithBaseURL(srv.URL), serpapi.WithResults(2))
	hits, err := c.Search(context.Background(), "Givaudan résultats 2024")
	require.NoError(t, err)
	assert.Equal(t, []tools.WebHit{
		{Title: "Givaudan", URL: "https://www.givaudan.com", Snippet: "CHF 7,4 milliards"},
		{Title: "Résultats annuels", URL: "https://a.example", Snippet: "Croissance organique"},
	}, hits)
}

func TestSearchErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "api error", status: http.StatusUnauthorized, body: `{"error":"Invalid API key."}`},
		{name: "gateway", status: http.StatusBadGateway, body: `<html>bad gateway</html>`},
		{name: "error with 200", status: http.StatusOK, body: `{"error":"Your account has run out of searches."}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := serpapi.NewClient("secret", time.Second, serpapi.WithBaseURL(srv.URL)).Search(context.Background(), "q")
			require.Error(t, err)
			assert.NotContains(t, err.Error(), "secret")
		})
	}
}

func TestSearchWithoutKey(t *testing.T) {
	_, err := serpapi.NewClient("", time.Second).Search(context.Background(), "q")
	assert.ErrorIs(t, err, serpapi.ErrMissingAPIKey)
}

func TestSearchNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"search_metadata":{"status":"Success"}}`))
	}))
	defer srv.Close()

	hits, err := serpapi.NewClient("k", time.Second, serpapi.WithBaseURL(srv.URL)).Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Empty(t, hits)
}
