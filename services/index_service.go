package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"breadth-backend/models"
	"breadth-backend/pkg/cache"
)

const (
	cacheKeyCurrent = "index:current"
	cacheKeyStats   = "index:stats"
	indexCacheTTL   = time.Minute
)

// IndexService serves the stored index series: the latest point, history
// windows, multi-window stats, and the admin delete operations. Hot
// responses are cached in Redis and invalidated when the collector
// commits a new row.
type IndexService struct {
	indexes  IndexStore
	candles  CandleStore
	registry *BasePriceRegistry
	cache    *cache.RedisCache
}

// NewIndexService creates a new index query service
func NewIndexService(indexes IndexStore, candles CandleStore, registry *BasePriceRegistry, redisCache *cache.RedisCache) *IndexService {
	return &IndexService{
		indexes:  indexes,
		candles:  candles,
		registry: registry,
		cache:    redisCache,
	}
}

// Invalidate drops the cached hot responses after a new index row commits
func (s *IndexService) Invalidate() {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, key := range []string{cacheKeyCurrent, cacheKeyStats} {
		if err := s.cache.Delete(ctx, key); err != nil {
			log.Printf("[IndexService] Failed to invalidate %s: %v", key, err)
		}
	}
}

// Current returns the newest index point, or nil when none is stored
func (s *IndexService) Current(ctx context.Context) (*models.IndexPoint, error) {
	if s.cache != nil {
		var cached models.IndexPoint
		if err := s.cache.Get(ctx, cacheKeyCurrent, &cached); err == nil {
			return &cached, nil
		}
	}

	row, err := s.indexes.GetLatest(ctx)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}

	point := row.ToPoint()
	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKeyCurrent, point, indexCacheTTL); err != nil {
			log.Printf("[IndexService] Failed to cache current point: %v", err)
		}
	}
	return &point, nil
}

// History returns the index points of the trailing look-back window
func (s *IndexService) History(ctx context.Context, hours int) ([]models.IndexPoint, error) {
	if hours <= 0 {
		return nil, fmt.Errorf("hours must be positive, got %d", hours)
	}

	end := time.Now().UTC()
	start := end.Add(-time.Duration(hours) * time.Hour)
	rows, err := s.indexes.GetRange(ctx, start, end)
	if err != nil {
		return nil, err
	}

	points := make([]models.IndexPoint, 0, len(rows))
	for i := range rows {
		points = append(points, rows[i].ToPoint())
	}
	return points, nil
}

// Stats returns the multi-window delta summary, or nil when the index is empty
func (s *IndexService) Stats(ctx context.Context) (*models.IndexStats, error) {
	if s.cache != nil {
		var cached models.IndexStats
		if err := s.cache.Get(ctx, cacheKeyStats, &cached); err == nil {
			return &cached, nil
		}
	}

	latest, err := s.indexes.GetLatest(ctx)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, nil
	}

	stats := &models.IndexStats{
		Current:      latest.IndexValue,
		CoinCount:    latest.CoinCount,
		LastUpdateMs: latest.OpenTime.UnixMilli(),
	}

	now := time.Now().UTC()
	windows := []struct {
		lookback time.Duration
		change   *float64
		high     *float64
		low      *float64
	}{
		{24 * time.Hour, &stats.Change24h, &stats.High24h, &stats.Low24h},
		{3 * 24 * time.Hour, &stats.Change3d, &stats.High3d, &stats.Low3d},
		{7 * 24 * time.Hour, &stats.Change7d, &stats.High7d, &stats.Low7d},
		{30 * 24 * time.Hour, &stats.Change30d, &stats.High30d, &stats.Low30d},
	}

	for _, w := range windows {
		first, high, low, found, err := s.indexes.GetWindow(ctx, now.Add(-w.lookback))
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		*w.change = latest.IndexValue - first
		*w.high = high
		*w.low = low
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKeyStats, stats, indexCacheTTL); err != nil {
			log.Printf("[IndexService] Failed to cache stats: %v", err)
		}
	}
	return stats, nil
}

// DeleteRange removes candles and index rows over [start, end] in
// lockstep, returning both counts
func (s *IndexService) DeleteRange(ctx context.Context, start, end time.Time) (candlesDeleted, indexRowsDeleted int64, err error) {
	candlesDeleted, err = s.candles.DeleteRange(ctx, start, end)
	if err != nil {
		return 0, 0, err
	}
	indexRowsDeleted, err = s.indexes.DeleteRange(ctx, start, end)
	if err != nil {
		return candlesDeleted, 0, err
	}

	s.Invalidate()
	log.Printf("[IndexService] Deleted %d candles and %d index rows in %s .. %s",
		candlesDeleted, indexRowsDeleted, start.Format(time.RFC3339), end.Format(time.RFC3339))
	return candlesDeleted, indexRowsDeleted, nil
}

// PurgeSymbol removes one symbol's candles and revokes its base price
func (s *IndexService) PurgeSymbol(ctx context.Context, symbol string) (int64, error) {
	deleted, err := s.candles.DeleteBySymbol(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if err := s.registry.Revoke(ctx, symbol); err != nil {
		return deleted, err
	}

	log.Printf("[IndexService] Purged %s: %d candles deleted, base revoked", symbol, deleted)
	return deleted, nil
}

// BasePrices lists the registry's durable state for operator inspection
func (s *IndexService) BasePrices(ctx context.Context) ([]models.BasePrice, error) {
	return s.registry.store.GetAll(ctx)
}
