package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"breadth-backend/config"
	"breadth-backend/internal/timeutil"
	"breadth-backend/models"
)

// tickOffset delays each tick past the bucket boundary so the exchange
// has finalized the just-closed candle
const tickOffset = 10 * time.Second

// CacheInvalidator is anything holding derived results that go stale when
// a new index row is committed
type CacheInvalidator interface {
	Invalidate()
}

// CollectorService runs the five-minute live tick: fetch every active
// symbol's latest closed candle, aggregate one index row, and persist
// both. Ticks are idempotent per bucket and skipped entirely while a
// backfill is running.
type CollectorService struct {
	candles  CandleStore
	indexes  IndexStore
	registry *BasePriceRegistry
	client   ExchangeClient
	backfill *BackfillService
	cfg      *config.Config

	invalidators []CacheInvalidator

	stopChan chan struct{}
	stopOnce sync.Once

	mu    sync.RWMutex
	stats CollectorStats
}

// CollectorStats tracks the most recent live ticks
type CollectorStats struct {
	LastRunTime   time.Time `json:"last_run_time"`
	LastBucket    time.Time `json:"last_bucket"`
	LastCoinCount int       `json:"last_coin_count"`
	TotalTicks    int64     `json:"total_ticks"`
	SkippedTicks  int64     `json:"skipped_ticks"`
	LastError     string    `json:"last_error,omitempty"`
}

// NewCollectorService creates a new live collector
func NewCollectorService(candles CandleStore, indexes IndexStore, registry *BasePriceRegistry, client ExchangeClient, backfill *BackfillService, cfg *config.Config) *CollectorService {
	return &CollectorService{
		candles:  candles,
		indexes:  indexes,
		registry: registry,
		client:   client,
		backfill: backfill,
		cfg:      cfg,
		stopChan: make(chan struct{}),
	}
}

// AddInvalidator registers a cache to clear whenever a new index row commits
func (s *CollectorService) AddInvalidator(inv CacheInvalidator) {
	s.invalidators = append(s.invalidators, inv)
}

// Stats returns a copy of the collector statistics
func (s *CollectorService) Stats() CollectorStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Start schedules the tick loop: every five minutes, ten seconds past the
// boundary. Blocks until Stop, so call it in a goroutine.
func (s *CollectorService) Start() {
	next := timeutil.Floor5Min(time.Now()).Add(timeutil.BucketSize + tickOffset)
	log.Printf("[CollectorService] First tick at %s", next.Format(time.RFC3339))

	select {
	case <-time.After(time.Until(next)):
	case <-s.stopChan:
		return
	}

	ticker := time.NewTicker(timeutil.BucketSize)
	defer ticker.Stop()

	s.runTick()
	for {
		select {
		case <-ticker.C:
			s.runTick()
		case <-s.stopChan:
			log.Printf("[CollectorService] Stopped")
			return
		}
	}
}

// Stop terminates the tick loop
func (s *CollectorService) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

func (s *CollectorService) runTick() {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	if err := s.Tick(ctx); err != nil {
		s.mu.Lock()
		s.stats.LastError = err.Error()
		s.mu.Unlock()
		log.Printf("[CollectorService] ERROR: %v", err)
	}
}

// Tick performs one collection cycle for the just-closed bucket
func (s *CollectorService) Tick(ctx context.Context) error {
	s.mu.Lock()
	s.stats.TotalTicks++
	s.stats.LastRunTime = time.Now()
	s.mu.Unlock()

	if s.backfill != nil && (s.backfill.InProgress() || !s.backfill.Completed()) {
		s.skip("backfill not finished")
		return nil
	}

	expected := timeutil.LatestClosedBucket(time.Now())
	exists, err := s.indexes.Exists(ctx, expected)
	if err != nil {
		return err
	}
	if exists {
		s.skip("bucket already collected")
		return nil
	}

	active, err := s.client.GetActiveSymbols(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active symbols: %w", err)
	}
	if len(active) == 0 {
		s.skip("no active symbols")
		return nil
	}

	if err := s.registry.ReconcileWithActive(ctx, active); err != nil {
		return err
	}

	candles := s.fetchLatestCandles(ctx, active)
	if len(candles) == 0 {
		s.skip("no candles returned")
		return nil
	}

	bucket := deriveBucket(candles)
	if bucket.After(expected) {
		// never emit a bucket that has not closed yet, whatever the
		// exchange hands back
		bucket = expected
	}
	batch := candlesAt(candles, bucket)
	if len(batch) == 0 {
		s.skip("no candles at derived bucket")
		return nil
	}

	// re-check now that the bucket comes from the data itself
	exists, err = s.indexes.Exists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		s.skip("bucket already collected")
		return nil
	}

	// new symbols adopt their first close as base and sit this bucket out
	contributing := make([]models.Candle, 0, len(batch))
	for _, c := range batch {
		if _, ok := s.registry.Get(c.Symbol); !ok {
			if _, err := s.registry.AdoptIfMissing(ctx, c.Symbol, c.Close); err != nil {
				return err
			}
			continue
		}
		contributing = append(contributing, c)
	}

	row := ComputeIndexRow(bucket, contributing, s.registry.Snapshot())

	if err := s.candles.BulkInsert(ctx, batch); err != nil {
		return err
	}
	if row != nil {
		if err := s.indexes.Insert(ctx, row); err != nil {
			return err
		}
		for _, inv := range s.invalidators {
			inv.Invalidate()
		}
	}

	s.mu.Lock()
	s.stats.LastBucket = bucket
	if row != nil {
		s.stats.LastCoinCount = row.CoinCount
	}
	s.stats.LastError = ""
	s.mu.Unlock()

	if row != nil {
		log.Printf("[CollectorService] Bucket %s: index=%.4f coins=%d up=%d down=%d",
			bucket.Format(time.RFC3339), row.IndexValue, row.CoinCount, row.UpCount, row.DownCount)
	} else {
		log.Printf("[CollectorService] Bucket %s: candles stored, no contributing symbols yet", bucket.Format(time.RFC3339))
	}
	return nil
}

// fetchLatestCandles fans out over the active symbols with a bounded
// worker pool and collects each symbol's latest closed candle
func (s *CollectorService) fetchLatestCandles(ctx context.Context, symbols []string) []models.Candle {
	semaphore := make(chan struct{}, s.cfg.CollectConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	candles := make([]models.Candle, 0, len(symbols))

	for _, symbol := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			candle, err := s.client.GetLatestClosedKline(ctx, sym)
			if err != nil {
				log.Printf("[CollectorService] ERROR fetching %s: %v", sym, err)
				return
			}
			if candle == nil {
				return
			}

			mu.Lock()
			candles = append(candles, *candle)
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()

	return candles
}

func (s *CollectorService) skip(reason string) {
	s.mu.Lock()
	s.stats.SkippedTicks++
	s.mu.Unlock()
	log.Printf("[CollectorService] Tick skipped: %s", reason)
}

// deriveBucket picks the newest open time among the returned candles; the
// fleet should agree, and stragglers are dropped by candlesAt
func deriveBucket(candles []models.Candle) time.Time {
	var latest time.Time
	for _, c := range candles {
		if c.OpenTime.After(latest) {
			latest = c.OpenTime
		}
	}
	return latest
}

func candlesAt(candles []models.Candle, bucket time.Time) []models.Candle {
	out := make([]models.Candle, 0, len(candles))
	for _, c := range candles {
		if c.OpenTime.Equal(bucket) {
			out = append(out, c)
		}
	}
	return out
}
