package v2_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v2 "agentrag/handler/http/v2"
	"agentrag/src/core/agent"
	"agentrag/src/core/orchestrator"
	"agentrag/src/core/semanticcache"
)

type fakeResolver struct {
	got  orchestrator.Request
	resp *orchestrator.Response
	err  error
}

func (f *fakeResolver) Resolve(_ context.Context, req orchestrator.Request) (*orchestrator.Response, error) {
	f.got = req
	return f.resp, f.err
}

type fakeCache struct {
	entries int
}

func (f *fakeCache) Stats() semanticcache.Stats {
	return semanticcache.Stats{Hits: 3, Misses: 1, HitRate: 75, ActiveEntries: f.entries, Threshold: 0.88, Mode: "persistent"}
}

func (f *fakeCache) Clear(context.Context) int {
	n := f.entries
	f.entries = 0
	return n
}

func newRouter(h *v2.Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterRoutes(r)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestChat(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		resp       *orchestrator.Response
		err        error
		wantStatus int
		wantAnswer string
	}{
		{
			name:       "answer",
			body:       `{"question":"Où se trouvent les laboratoires Givaudan ?","chat_history":[{"role":"user","content":"Bonjour"}],"fast_mode":true}`,
			resp:       &orchestrator.Response{Answer: "À Vernier.", TraceID: "t1"},
			wantStatus: http.StatusOK,
			wantAnswer: "À Vernier.",
		},
		{
			name:       "empty question",
			body:       `{"question":"  "}`,
			err:        orchestrator.ErrInvalidInput,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			body:       `{"question":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "pipeline failure",
			body:       `{"question":"q"}`,
			resp:       &orchestrator.Response{Answer: orchestrator.FailureAnswer, Failed: true},
			err:        fmt.Errorf("%w: llm unavailable: connection refused", orchestrator.ErrNoAnswer),
			wantStatus: http.StatusServiceUnavailable,
			wantAnswer: orchestrator.FailureAnswer,
		},
		{
			name:       "client went away",
			body:       `{"question":"q"}`,
			err:        context.Canceled,
			wantStatus: 499,
		},
		{
			name:       "unexpected",
			body:       `{"question":"q"}`,
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := &fakeResolver{resp: tt.resp, err: tt.err}
			r := newRouter(v2.NewHandler(resolver, &fakeCache{}, v2.SystemInfo{}))

			w := do(r, http.MethodPost, "/api/v1/chat", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantAnswer == "" {
				return
			}
			var got orchestrator.Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
			assert.Equal(t, tt.wantAnswer, got.Answer)
			assert.NotContains(t, w.Body.String(), "connection refused")
		})
	}
}

func TestChatForwardsRequest(t *testing.T) {
	resolver := &fakeResolver{resp: &orchestrator.Response{Answer: "ok"}}
	r := newRouter(v2.NewHandler(resolver, nil, v2.SystemInfo{}))

	w := do(r, http.MethodPost, "/api/v1/chat", `{"question":"q","chat_history":[{"role":"user","content":"Bonjour"}],"fast_mode":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, orchestrator.Request{
		Question:    "q",
		ChatHistory: []agent.Turn{{Role: "user", Content: "Bonjour"}},
		FastMode:    true,
	}, resolver.got)
}

func TestCacheRoutes(t *testing.T) {
	cache := &fakeCache{entries: 4}
	r := newRouter(v2.NewHandler(&fakeResolver{}, cache, v2.SystemInfo{}))

	w := do(r, http.MethodGet, "/api/v1/cache/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats semanticcache.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 4, stats.ActiveEntries)
	assert.Equal(t, 0.88, stats.Threshold)

	w = do(r, http.MethodDelete, "/api/v1/cache", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"removed":4}`, w.Body.String())
	assert.Equal(t, 0, cache.entries)
}

func TestCacheRoutesWithoutCache(t *testing.T) {
	r := newRouter(v2.NewHandler(&fakeResolver{}, nil, v2.SystemInfo{}))
	assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodGet, "/api/v1/cache/stats", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodDelete, "/api/v1/cache", "").Code)
}

func TestCheckHealth(t *testing.T) {
	up := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name       string
		components []v2.Component
		wantStatus int
		want       string
	}{
		{
			name:       "all up",
			components: []v2.Component{{Name: "llm", Required: true, Check: up}, {Name: "knowledge-index", Check: up}},
			wantStatus: http.StatusOK,
			want:       "healthy",
		},
		{
			name:       "optional down",
			components: []v2.Component{{Name: "llm", Required: true, Check: up}, {Name: "knowledge-index", Check: down}},
			wantStatus: http.StatusOK,
			want:       "degraded",
		},
		{
			name:       "required down",
			components: []v2.Component{{Name: "llm", Required: true, Check: down}, {Name: "knowledge-index", Check: up}},
			wantStatus: http.StatusServiceUnavailable,
			want:       "unavailable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRouter(v2.NewHandler(&fakeResolver{}, nil, v2.SystemInfo{}, tt.components...))
			w := do(r, http.MethodGet, "/health", "")
			assert.Equal(t, tt.wantStatus, w.Code)

			var body struct {
				Status     string `json:"status"`
				Components map[string]struct {
					Status string `json:"status"`
				} `json:"components"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.want, body.Status)
			assert.Len(t, body.Components, len(tt.components))
		})
	}
}

func TestSystemInfo(t *testing.T) {
	info := v2.SystemInfo{Name: "react_agent", Model: "llama3.1", EmbeddingModel: "nomic-embed-text", Index: "weaviate", Alpha: 0.5, FinalK: 3}
	r := newRouter(v2.NewHandler(&fakeResolver{}, &fakeCache{}, info))

	w := do(r, http.MethodGet, "/system", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got v2.SystemInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "react_agent", got.Name)
	assert.Equal(t, "nomic-embed-text", got.EmbeddingModel)
	assert.Equal(t, 0.5, got.Alpha)
	assert.Equal(t, 3, got.FinalK)
	assert.Equal(t, "persistent", got.CacheMode)
}

func TestMetricsRoute(t *testing.T) {
	r := newRouter(v2.NewHandler(&fakeResolver{}, nil, v2.SystemInfo{}))
	w := do(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
