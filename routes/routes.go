package routes

import (
	"context"
	"log"

	"breadth-backend/config"
	"breadth-backend/controllers"
	"breadth-backend/internal/binance"
	"breadth-backend/internal/database"
	"breadth-backend/internal/middleware"
	"breadth-backend/pkg/cache"
	"breadth-backend/repositories"
	"breadth-backend/services"

	"github.com/labstack/echo/v4"
)

// SetupRoutes wires repositories, services and controllers, starts the
// ingestion pipeline, and registers the query surface. The returned stop
// function shuts the background services down.
func SetupRoutes(e *echo.Echo, db *database.DB, cfg *config.Config) func() {
	redisCache := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	binanceClient := binance.NewClient(cfg)

	candleRepo := repositories.NewCandleRepository(db)
	indexRepo := repositories.NewIndexRepository(db)
	basePriceRepo := repositories.NewBasePriceRepository(db)

	registry := services.NewBasePriceRegistry(basePriceRepo)
	if err := registry.Load(context.Background()); err != nil {
		log.Fatalf("Failed to load base prices: %v", err)
	}

	backfillService := services.NewBackfillService(candleRepo, indexRepo, registry, binanceClient, cfg)
	collectorService := services.NewCollectorService(candleRepo, indexRepo, registry, binanceClient, backfillService, cfg)

	indexService := services.NewIndexService(indexRepo, candleRepo, registry, redisCache)
	distributionService := services.NewDistributionService(candleRepo)
	uptrendService := services.NewUptrendService(candleRepo)

	// derived results go stale the moment a new index row commits
	collectorService.AddInvalidator(uptrendService)
	collectorService.AddInvalidator(indexService)

	// fill history first; the collector skips ticks until backfill is done
	go func() {
		if err := backfillService.Run(context.Background()); err != nil {
			log.Printf("[routes] Backfill failed, live collection stays blocked: %v", err)
		}
	}()
	go collectorService.Start()

	indexController := controllers.NewIndexController(indexService, distributionService, uptrendService, backfillService)
	adminController := controllers.NewAdminController(backfillService, collectorService, registry, binanceClient)
	healthController := controllers.NewHealthController(db, redisCache)

	e.Use(middleware.CORS(cfg))
	e.Use(middleware.RateLimit(cfg))

	v1 := e.Group("/api/v1")

	v1.GET("/health", healthController.HealthCheck)

	index := v1.Group("/index")
	index.GET("/current", indexController.GetCurrent)
	index.GET("/history", indexController.GetHistory)
	index.GET("/stats", indexController.GetStats)
	index.GET("/distribution", indexController.GetDistribution)
	index.GET("/uptrend-distribution", indexController.GetUptrendDistribution)
	index.GET("/base-prices", indexController.GetBasePrices)
	index.GET("/status", adminController.GetStatus)
	index.POST("/rate-limit/reset", adminController.ResetRateLimit)
	index.POST("/repair", indexController.Repair)
	index.DELETE("/data", indexController.DeleteData)
	index.DELETE("/symbol/:symbol", indexController.PurgeSymbol)

	return func() {
		collectorService.Stop()
		if err := redisCache.Close(); err != nil {
			log.Printf("[routes] Failed to close Redis: %v", err)
		}
	}
}
