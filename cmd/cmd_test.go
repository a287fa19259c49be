package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withConfig(t *testing.T, kv map[string]any) {
	t.Helper()
	for k, v := range kv {
		viper.Set(k, v)
	}
	t.Cleanup(func() {
		viper.Reset()
		settingDefaultConfig()
	})
}

func TestDefaults(t *testing.T) {
	assert.Equal(t, 0.88, viper.GetFloat64("cache.threshold"))
	assert.Equal(t, 1000, viper.GetInt("cache.capacity"))
	assert.Equal(t, "24h0m0s", viper.GetDuration("cache.ttl").String())
	assert.Equal(t, 10, viper.GetInt("agent.max_iterations"))
	assert.Equal(t, 3, viper.GetInt("rerank.final_k"))
	assert.Equal(t, "react_agent", viper.GetString("cache.namespace"))
	assert.False(t, viper.GetBool("cache.skip_time_sensitive"))
}

func TestBuildPipeline(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name      string
		cache     string
		wantCache bool
		wantMode  string
	}{
		{name: "memory cache", cache: "memory", wantCache: true, wantMode: "memory"},
		{name: "sqlite cache", cache: "sqlite", wantCache: true, wantMode: "persistent"},
		{name: "cache disabled", cache: "none"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withConfig(t, map[string]any{
				"index.backend":     "local",
				"index.local_path":  filepath.Join(dir, "missing.json"),
				"cache.backend":     tt.cache,
				"cache.sqlite_path": filepath.Join(dir, tt.name, "cache.db"),
			})

			p, err := buildPipeline(context.Background())
			require.NoError(t, err)
			defer p.Close()

			assert.NotNil(t, p.orchestrator)
			assert.Nil(t, p.scorer)
			assert.Len(t, p.registry.Tools(), 2)

			info := systemInfo(p)
			assert.Equal(t, viper.GetFloat64("retrieval.alpha"), info.Alpha)
			assert.Equal(t, 3, info.FinalK)
			assert.Equal(t, viper.GetString("ollama.embedding_model"), info.EmbeddingModel)
			if !tt.wantCache {
				assert.Nil(t, p.cache)
				return
			}
			require.NotNil(t, p.cache)
			assert.Equal(t, tt.wantMode, p.cache.Mode())
		})
	}
}

func TestBuildPipelineCacheStores(t *testing.T) {
	dir := t.TempDir()
	notADir := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(notADir, []byte("x"), 0o644))
	mr := miniredis.RunT(t)

	tests := []struct {
		name     string
		kv       map[string]any
		wantMode string
	}{
		{
			name:     "sqlite path under a regular file",
			kv:       map[string]any{"cache.backend": "sqlite", "cache.sqlite_path": filepath.Join(notADir, "sub", "cache.db")},
			wantMode: "memory",
		},
		{
			name:     "redis reachable",
			kv:       map[string]any{"cache.backend": "redis", "redis.addr": mr.Addr()},
			wantMode: "persistent",
		},
		{
			name:     "redis unreachable",
			kv:       map[string]any{"cache.backend": "redis", "redis.addr": "127.0.0.1:1"},
			wantMode: "memory",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.kv["index.backend"] = "local"
			tt.kv["index.local_path"] = filepath.Join(dir, "missing.json")
			withConfig(t, tt.kv)

			p, err := buildPipeline(context.Background())
			require.NoError(t, err)
			defer p.Close()

			require.NotNil(t, p.cache)
			assert.Equal(t, tt.wantMode, p.cache.Mode())
		})
	}
}

func TestBuildPipelineUnknownBackends(t *testing.T) {
	tests := []struct {
		name string
		kv   map[string]any
	}{
		{name: "index", kv: map[string]any{"index.backend": "solr"}},
		{name: "cache", kv: map[string]any{"index.backend": "local", "index.local_path": "/nonexistent/chunks.json", "cache.backend": "memcached"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withConfig(t, tt.kv)
			_, err := buildPipeline(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestReadQuestions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "questions.txt")
	require.NoError(t, os.WriteFile(path, []byte("# warmup\nQuelle est l'histoire de Givaudan ?\n\n  Comment fonctionne la pyramide olfactive ?  \n"), 0o644))

	got, err := readQuestions(path)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Quelle est l'histoire de Givaudan ?",
		"Comment fonctionne la pyramide olfactive ?",
	}, got)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("# nothing\n"), 0o644))
	_, err = readQuestions(empty)
	assert.Error(t, err)
}

func TestDefaultQuestions(t *testing.T) {
	assert.Len(t, defaultQuestions, 10)
}
