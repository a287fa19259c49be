package v2

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agentrag/src/core/orchestrator"
	"agentrag/src/core/semanticcache"
)

// Resolver answers one question.
type Resolver interface {
	Resolve(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error)
}

// CacheAdmin exposes cache statistics and maintenance.
type CacheAdmin interface {
	Stats() semanticcache.Stats
	Clear(ctx context.Context) int
}

// Component is a named dependency reported by the health endpoint.
type Component struct {
	Name string
	// Required components make the service unavailable when their check fails.
	Required bool
	Check    func(ctx context.Context) error
}

// SystemInfo describes the configured pipeline.
type SystemInfo struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	Version        string `json:"version"`
	Model          string `json:"model"`
	EmbeddingModel string `json:"embedding_model"`
	Index          string `json:"index"`
	// Alpha is the dense weight of hybrid fusion.
	Alpha     float64  `json:"alpha"`
	FinalK    int      `json:"final_k"`
	CacheMode string   `json:"cache_mode"`
	Features  []string `json:"features"`
}

type Handler struct {
	resolver   Resolver
	cache      CacheAdmin
	components []Component
	system     SystemInfo
}

func NewHandler(resolver Resolver, cache CacheAdmin, system SystemInfo, components ...Component) *Handler {
	return &Handler{
		resolver:   resolver,
		cache:      cache,
		components: components,
		system:     system,
	}
}

// RegisterRoutes registers all v2 API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.CheckHealth)
	r.GET("/system", h.GetSystemInfo)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")

	// Chat routes
	v1.POST("/chat", h.Chat)

	// Cache routes
	v1.GET("/cache/stats", h.GetCacheStats)
	v1.DELETE("/cache", h.ClearCache)

	// System routes
	v1.GET("/health", h.CheckHealth)
	v1.GET("/system", h.GetSystemInfo)
}

// Common error response structure
type ErrorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func sendError(c *gin.Context, status int, err error) {
	var code string
	switch {
	case errors.Is(err, orchestrator.ErrInvalidInput):
		code = "INVALID_INPUT"
		status = http.StatusBadRequest
	case status == http.StatusBadRequest:
		code = "BAD_REQUEST"
	case status == http.StatusServiceUnavailable:
		code = "UNAVAILABLE"
	default:
		code = "INTERNAL_ERROR"
		status = http.StatusInternalServerError
	}

	c.JSON(status, ErrorResponse{
		Code:    code,
		Message: err.Error(),
	})
}

func sendJSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}
