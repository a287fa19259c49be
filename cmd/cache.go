package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"agentrag/src/infrastructure/integrations/ollama"
	"agentrag/src/log"
)

var errCacheDegraded = errors.New("cache store unreachable, serving from memory")

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the semantic cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openCache(cmd.Context())
		if err != nil {
			return err
		}
		defer p.Close()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p.cache.Stats())
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cache entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openCache(cmd.Context())
		if err != nil {
			return err
		}
		defer p.Close()

		removed := p.cache.Clear(cmd.Context())
		log.Info("cache cleared", "removed", removed)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

// openCache wires only the embedding client and the cache.
func openCache(ctx context.Context) (*pipeline, error) {
	llm, err := ollama.NewClient(
		viper.GetString("ollama.url"),
		viper.GetDuration("ollama.timeout"),
		ollama.WithEmbeddingModel(viper.GetString("ollama.embedding_model")),
	)
	if err != nil {
		return nil, err
	}
	p := &pipeline{llm: llm}
	cache, err := p.buildCache(ctx)
	if err != nil {
		p.Close()
		return nil, err
	}
	if cache == nil {
		return nil, errors.New("semantic cache is disabled")
	}
	p.cache = cache
	return p, nil
}
