package controllers

import (
	"net/http"

	"breadth-backend/services"

	"github.com/labstack/echo/v4"
)

// RateLimitedClient is the slice of the exchange client the admin surface
// needs: latch inspection and the operator reset.
type RateLimitedClient interface {
	Limited() bool
	ResetLimit()
}

// AdminController exposes operator visibility and controls: ingestion
// status and the exchange rate-limit latch
type AdminController struct {
	backfillService  *services.BackfillService
	collectorService *services.CollectorService
	registry         *services.BasePriceRegistry
	client           RateLimitedClient
}

// NewAdminController creates a new admin controller
func NewAdminController(backfillService *services.BackfillService, collectorService *services.CollectorService, registry *services.BasePriceRegistry, client RateLimitedClient) *AdminController {
	return &AdminController{
		backfillService:  backfillService,
		collectorService: collectorService,
		registry:         registry,
		client:           client,
	}
}

// GetStatus reports ingestion state: backfill progress, the rate-limit
// latch, collector ticks and the registry size
func (ac *AdminController) GetStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":            true,
		"backfill_running":   ac.backfillService.InProgress(),
		"backfill_completed": ac.backfillService.Completed(),
		"backfill":           ac.backfillService.Stats(),
		"collector":          ac.collectorService.Stats(),
		"rate_limited":       ac.client.Limited(),
		"base_price_count":   ac.registry.Count(),
	})
}

// ResetRateLimit clears the exchange rate-limit latch. Operator action.
func (ac *AdminController) ResetRateLimit(c echo.Context) error {
	ac.client.ResetLimit()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success": true, "message": "rate limit latch cleared",
	})
}
