package controllers

import (
	"net/http"

	"breadth-backend/internal/database"
	"breadth-backend/pkg/cache"

	"github.com/labstack/echo/v4"
)

// HealthController handles health check endpoints
type HealthController struct {
	db    *database.DB
	cache *cache.RedisCache
}

// NewHealthController creates a new health controller
func NewHealthController(db *database.DB, redisCache *cache.RedisCache) *HealthController {
	return &HealthController{db: db, cache: redisCache}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Cache    string `json:"cache,omitempty"`
	Message  string `json:"message,omitempty"`
}

// HealthCheck verifies the database and cache are reachable
func (h *HealthController) HealthCheck(c echo.Context) error {
	response := HealthResponse{Status: "healthy"}

	ctx := c.Request().Context()
	if err := h.db.Health(ctx); err != nil {
		response.Status = "unhealthy"
		response.Database = "unhealthy"
		response.Message = "Database connection failed: " + err.Error()
		return c.JSON(http.StatusServiceUnavailable, response)
	}
	response.Database = "healthy"

	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			// degraded, not down: queries still work without the cache
			response.Cache = "unhealthy"
		} else {
			response.Cache = "healthy"
		}
	}

	return c.JSON(http.StatusOK, response)
}
