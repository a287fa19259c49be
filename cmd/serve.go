package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	v2 "agentrag/handler/http/v2"
	"agentrag/src/log"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the question answering server",
	Long:  `The serve command starts an HTTP server exposing the chat, health, system and cache APIs.`,
	RunE:  RunServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func RunServer(cmd *cobra.Command, args []string) error {
	p, err := buildPipeline(cmd.Context())
	if err != nil {
		log.Error(err, "Failed to build pipeline")
		return err
	}
	defer p.Close()

	// Initialize HTTP handler
	handler := newHandler(p)

	// Setup gin router
	r := gin.New()
	r.Use(gin.Recovery())
	handler.RegisterRoutes(r)

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + viper.GetString("server.port"),
		Handler: r,
	}

	// Start server in a goroutine
	go func() {
		log.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "Failed to start server")
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	// Parse shutdown timeout
	timeout, err := time.ParseDuration(viper.GetString("server.shutdown_timeout"))
	if err != nil {
		log.Error(err, "Invalid shutdown timeout, using default 5s")
		timeout = 5 * time.Second
	}

	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(ctx); err != nil {
		log.Error(err, "Server forced to shutdown")
	}

	log.Info("Server exited")
	return nil
}

func newHandler(p *pipeline) *v2.Handler {
	components := []v2.Component{
		{Name: "llm", Required: true, Check: p.llm.Ready},
		{Name: "knowledge-index", Check: p.retriever.Ready},
	}
	if p.scorer != nil {
		components = append(components, v2.Component{Name: "reranker", Check: p.scorer.Ready})
	}

	info := systemInfo(p)
	if p.cache == nil {
		return v2.NewHandler(p.orchestrator, nil, info, components...)
	}
	components = append(components, v2.Component{Name: "cache-store", Check: func(context.Context) error {
		if p.cache.Mode() == "degraded" {
			return errCacheDegraded
		}
		return nil
	}})
	return v2.NewHandler(p.orchestrator, p.cache, info, components...)
}

func systemInfo(p *pipeline) v2.SystemInfo {
	return v2.SystemInfo{
		Name:           "react_agent",
		Description:    "ReAct agent with hybrid search, cross-encoder reranking and semantic caching",
		Version:        "2.0.0",
		Model:          p.llm.LLMModel(),
		EmbeddingModel: p.llm.EmbeddingModel(),
		Index:          p.indexBackend,
		Alpha:          p.retriever.Alpha(),
		FinalK:         p.reranker.FinalK(),
		Features: []string{
			"Hybrid search (BM25 + dense)",
			"Cross-encoder reranking",
			"ReAct agent with knowledge and web tools",
			"Semantic caching",
			"Conversation memory",
		},
	}
}
