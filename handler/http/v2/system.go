package v2

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const healthCheckTimeout = 3 * time.Second

type componentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type healthStatus struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]componentHealth `json:"components"`
}

// CheckHealth godoc
// @Summary Check system health status
// @Tags system
// @Produce json
// @Success 200 {object} healthStatus
// @Failure 503 {object} healthStatus
// @Router /health [get]
func (h *Handler) CheckHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	status := healthStatus{
		Status:     "healthy",
		Timestamp:  time.Now(),
		Components: make(map[string]componentHealth, len(h.components)),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	code := http.StatusOK
	for _, comp := range h.components {
		wg.Add(1)
		go func(comp Component) {
			defer wg.Done()
			health := componentHealth{Status: "up"}
			if err := comp.Check(ctx); err != nil {
				health = componentHealth{Status: "down", Error: err.Error()}
			}

			mu.Lock()
			defer mu.Unlock()
			status.Components[comp.Name] = health
			if health.Status == "up" {
				return
			}
			if comp.Required {
				status.Status = "unavailable"
				code = http.StatusServiceUnavailable
			} else if status.Status == "healthy" {
				status.Status = "degraded"
			}
		}(comp)
	}
	wg.Wait()

	sendJSON(c, code, status)
}

// GetSystemInfo godoc
// @Summary Describe the configured pipeline
// @Tags system
// @Produce json
// @Success 200 {object} SystemInfo
// @Router /system [get]
func (h *Handler) GetSystemInfo(c *gin.Context) {
	info := h.system
	if h.cache != nil {
		info.CacheMode = h.cache.Stats().Mode
	}
	sendJSON(c, http.StatusOK, info)
}
