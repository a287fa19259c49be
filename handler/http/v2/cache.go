package v2

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetCacheStats godoc
// @Summary Semantic cache statistics
// @Tags cache
// @Produce json
// @Success 200 {object} semanticcache.Stats
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/cache/stats [get]
func (h *Handler) GetCacheStats(c *gin.Context) {
	if h.cache == nil {
		sendError(c, http.StatusServiceUnavailable, fmt.Errorf("cache is disabled"))
		return
	}
	sendJSON(c, http.StatusOK, h.cache.Stats())
}

// ClearCache godoc
// @Summary Remove every cache entry and reset statistics
// @Tags cache
// @Produce json
// @Success 200 {object} map[string]int
// @Failure 503 {object} ErrorResponse
// @Router /api/v1/cache [delete]
func (h *Handler) ClearCache(c *gin.Context) {
	if h.cache == nil {
		sendError(c, http.StatusServiceUnavailable, fmt.Errorf("cache is disabled"))
		return
	}
	removed := h.cache.Clear(c.Request.Context())
	sendJSON(c, http.StatusOK, gin.H{"removed": removed})
}
