package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"agentrag/src/core/agent"
	"agentrag/src/core/orchestrator"
	"agentrag/src/core/rerank"
	"agentrag/src/core/retrieval"
	"agentrag/src/core/semanticcache"
	"agentrag/src/core/tools"
	"agentrag/src/infrastructure/integrations/crossencoder"
	"agentrag/src/infrastructure/integrations/ollama"
	"agentrag/src/infrastructure/integrations/serpapi"
	"agentrag/src/log"
	"agentrag/src/storage/cachectrl"
	"agentrag/src/storage/elastic"
	"agentrag/src/storage/localindex"
	"agentrag/src/storage/redisstore"
	"agentrag/src/storage/weaviate"
)

// pipeline is the fully wired query resolution stack.
type pipeline struct {
	llm          *ollama.Client
	cache        *semanticcache.Cache
	retriever    *retrieval.HybridRetriever
	reranker     *rerank.Reranker
	scorer       *crossencoder.Client
	registry     *tools.Registry
	orchestrator *orchestrator.Orchestrator
	indexBackend string
	closers      []func() error
}

func (p *pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			log.Error(err, "failed to close resource")
		}
	}
}

func dsnFromConfig() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		viper.GetString("postgres.host"),
		viper.GetString("postgres.user"),
		viper.GetString("postgres.password"),
		viper.GetString("postgres.db"),
		viper.GetString("postgres.port"))
}

func buildPipeline(ctx context.Context) (*pipeline, error) {
	p := &pipeline{indexBackend: strings.ToLower(viper.GetString("index.backend"))}

	llm, err := ollama.NewClient(
		viper.GetString("ollama.url"),
		viper.GetDuration("ollama.timeout"),
		ollama.WithLLMModel(viper.GetString("ollama.llm_model")),
		ollama.WithEmbeddingModel(viper.GetString("ollama.embedding_model")),
	)
	if err != nil {
		return nil, err
	}
	p.llm = llm

	index, err := p.buildIndex(ctx)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.retriever = retrieval.NewHybridRetriever(index, llm,
		retrieval.WithAlpha(viper.GetFloat64("retrieval.alpha")),
		retrieval.WithTimeout(viper.GetDuration("retrieval.timeout")),
	)

	// A nil Scorer makes the reranker fall back to fused order.
	var scorer rerank.Scorer
	if u := viper.GetString("rerank.url"); u != "" {
		p.scorer = crossencoder.NewClient(u, viper.GetDuration("rerank.timeout"))
		scorer = p.scorer
	}
	p.reranker = rerank.NewReranker(scorer,
		rerank.WithFinalK(viper.GetInt("rerank.final_k")),
		rerank.WithTimeout(viper.GetDuration("rerank.timeout")),
	)

	var searcher tools.Searcher
	if key := viper.GetString("serpapi.api_key"); key != "" {
		searcher = serpapi.NewClient(key, viper.GetDuration("serpapi.timeout"),
			serpapi.WithLanguage(viper.GetString("serpapi.language")))
	} else {
		log.Info("serpapi api key not set, web search disabled")
	}
	web := tools.NewWebSearch(searcher,
		tools.WithQueryPrefix(viper.GetString("serpapi.query_prefix")),
		tools.WithRateLimit(viper.GetInt("serpapi.rate_per_minute")),
	)

	p.registry = tools.NewRegistry(viper.GetDuration("agent.tool_timeout"),
		tools.NewKnowledgeSearch(p.retriever, p.reranker),
		web,
	)

	loop := agent.NewLoop(llm, p.registry, agent.Config{
		MaxIterations:    viper.GetInt("agent.max_iterations"),
		MaxExecutionTime: viper.GetDuration("agent.max_execution_time"),
		HistoryTurns:     viper.GetInt("agent.history_turns"),
	})

	cache, err := p.buildCache(ctx)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.cache = cache

	cfg := orchestrator.Config{
		ModelName:         llm.LLMModel(),
		Namespace:         viper.GetString("cache.namespace"),
		SkipTimeSensitive: viper.GetBool("cache.skip_time_sensitive"),
	}
	if cache != nil {
		p.orchestrator = orchestrator.New(cache, loop, cfg)
	} else {
		p.orchestrator = orchestrator.New(nil, loop, cfg)
	}
	return p, nil
}

func (p *pipeline) buildIndex(ctx context.Context) (retrieval.KnowledgeIndex, error) {
	switch p.indexBackend {
	case "weaviate":
		client, err := weaviate.NewClient(viper.GetString("weaviate.url"))
		if err != nil {
			return nil, err
		}
		return weaviate.NewIndex(client, viper.GetString("weaviate.class")), nil
	case "elasticsearch", "elastic":
		client, err := elastic.NewClient(viper.GetString("elasticsearch.url"))
		if err != nil {
			return nil, err
		}
		return elastic.NewIndex(client, viper.GetString("elasticsearch.index")), nil
	case "local":
		index, err := localindex.New()
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, index.Close)

		path := viper.GetString("index.local_path")
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			log.Info("local index file not found, starting empty", "path", path)
			return index, nil
		}
		chunks, err := localindex.LoadFile(ctx, path, p.llm)
		if err != nil {
			return nil, err
		}
		if err := index.Add(ctx, chunks...); err != nil {
			return nil, err
		}
		log.Info("local index loaded", "path", path, "chunks", index.Len())
		return index, nil
	default:
		return nil, fmt.Errorf("unknown index backend %q", p.indexBackend)
	}
}

// buildCache returns nil when caching is disabled. A persistent store that
// cannot be reached leaves the cache in memory-only mode.
func (p *pipeline) buildCache(ctx context.Context) (*semanticcache.Cache, error) {
	cfg := semanticcache.Config{
		Threshold:      viper.GetFloat64("cache.threshold"),
		Capacity:       viper.GetInt("cache.capacity"),
		TTL:            viper.GetDuration("cache.ttl"),
		ContextualKeys: viper.GetBool("cache.contextual_keys"),
	}

	var store semanticcache.Store
	switch backend := strings.ToLower(viper.GetString("cache.backend")); backend {
	case "none", "disabled", "off":
		log.Info("semantic cache disabled")
		return nil, nil
	case "memory", "":
	case "sqlite":
		s, err := openSQLiteStore(viper.GetString("cache.sqlite_path"))
		if err != nil {
			log.Error(err, "cache store unreachable, using memory only")
			break
		}
		store = s
	case "postgres":
		db, err := cachectrl.OpenPostgres(dsnFromConfig())
		if err != nil {
			log.Error(err, "cache store unreachable, using memory only")
			break
		}
		s, err := cachectrl.NewStore(db)
		if err != nil {
			log.Error(err, "cache store unreachable, using memory only")
			break
		}
		store = s
	case "redis":
		client, err := redisstore.NewClient(ctx,
			viper.GetString("redis.addr"),
			viper.GetString("redis.password"),
			viper.GetInt("redis.db"),
		)
		if err != nil {
			log.Error(err, "cache store unreachable, using memory only")
			break
		}
		store = redisstore.NewStore(client)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}

	cache, err := semanticcache.New(ctx, cfg, p.llm, store)
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}
	p.closers = append(p.closers, cache.Close)
	return cache, nil
}

func openSQLiteStore(path string) (*cachectrl.Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	db, err := cachectrl.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	return cachectrl.NewStore(db)
}
