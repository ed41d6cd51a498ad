package services

import (
	"context"
	"math"
	"testing"
	"time"

	"breadth-backend/config"
	"breadth-backend/internal/timeutil"
	"breadth-backend/models"
)

func collectorFixture(symbols ...string) (*CollectorService, *fakeCandleStore, *fakeIndexStore, *fakeExchange, *BasePriceRegistry) {
	candles := newFakeCandleStore()
	indexes := newFakeIndexStore()
	registry := NewBasePriceRegistry(newFakeBasePriceStore())
	exchange := newFakeExchange(symbols...)
	cfg := &config.Config{CollectConcurrency: 4}

	collector := NewCollectorService(candles, indexes, registry, exchange, nil, cfg)
	return collector, candles, indexes, exchange, registry
}

func TestCollectorAdoptsOnFirstObservation(t *testing.T) {
	collector, candles, indexes, exchange, registry := collectorFixture("AAAUSDT")

	bucket := timeutil.LatestClosedBucket(time.Now()).Add(-timeutil.BucketSize)
	exchange.latest["AAAUSDT"] = models.Candle{
		Symbol: "AAAUSDT", OpenTime: bucket,
		Open: 100, High: 105, Low: 99, Close: 102, QuoteVolume: 1000,
	}

	if err := collector.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}

	if price, ok := registry.Get("AAAUSDT"); !ok || price != 102 {
		t.Errorf("base = %v (%v), want adopted close 102", price, ok)
	}
	if exists, _ := indexes.Exists(context.Background(), bucket); exists {
		t.Error("the adopting symbol must not contribute an index row")
	}
	if len(candles.all()) != 1 {
		t.Errorf("stored candles = %d, want 1", len(candles.all()))
	}
}

func TestCollectorFirstContributingTick(t *testing.T) {
	collector, _, indexes, exchange, registry := collectorFixture("AAAUSDT")

	if _, err := registry.AdoptIfMissing(context.Background(), "AAAUSDT", 102); err != nil {
		t.Fatal(err)
	}

	bucket := timeutil.LatestClosedBucket(time.Now())
	exchange.latest["AAAUSDT"] = models.Candle{
		Symbol: "AAAUSDT", OpenTime: bucket,
		Open: 102, High: 108, Low: 101, Close: 107.1, QuoteVolume: 500,
	}

	if err := collector.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}

	row, err := indexes.GetLatest(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if row == nil {
		t.Fatal("expected an index row")
	}
	if !row.OpenTime.Equal(bucket) {
		t.Errorf("row bucket = %v, want %v", row.OpenTime, bucket)
	}
	if math.Abs(row.IndexValue-5.0) > 1e-9 {
		t.Errorf("index value = %v, want 5.0", row.IndexValue)
	}
	if row.UpCount != 1 || row.DownCount != 0 || row.ADR != 1 {
		t.Errorf("up/down/adr = %d/%d/%v, want 1/0/1", row.UpCount, row.DownCount, row.ADR)
	}
	if row.TotalVolume != 500 {
		t.Errorf("total volume = %v, want 500", row.TotalVolume)
	}
}

func TestCollectorIdempotentRerun(t *testing.T) {
	collector, candles, indexes, exchange, registry := collectorFixture("AAAUSDT")

	if _, err := registry.AdoptIfMissing(context.Background(), "AAAUSDT", 100); err != nil {
		t.Fatal(err)
	}

	bucket := timeutil.LatestClosedBucket(time.Now())
	exchange.latest["AAAUSDT"] = models.Candle{
		Symbol: "AAAUSDT", OpenTime: bucket,
		Open: 100, High: 106, Low: 99, Close: 105, QuoteVolume: 100,
	}

	for i := 0; i < 2; i++ {
		if err := collector.Tick(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	rows, err := indexes.GetRange(context.Background(), bucket, bucket)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Errorf("index rows = %d, want exactly 1", len(rows))
	}
	if len(candles.all()) != 1 {
		t.Errorf("candles = %d, want exactly 1", len(candles.all()))
	}

	stats := collector.Stats()
	if stats.SkippedTicks != 1 {
		t.Errorf("skipped ticks = %d, want 1", stats.SkippedTicks)
	}
}

func TestCollectorInvalidatesCachesOnCommit(t *testing.T) {
	collector, _, _, exchange, registry := collectorFixture("AAAUSDT")

	if _, err := registry.AdoptIfMissing(context.Background(), "AAAUSDT", 100); err != nil {
		t.Fatal(err)
	}

	invalidated := 0
	collector.AddInvalidator(invalidatorFunc(func() { invalidated++ }))

	bucket := timeutil.LatestClosedBucket(time.Now())
	exchange.latest["AAAUSDT"] = models.Candle{
		Symbol: "AAAUSDT", OpenTime: bucket,
		Open: 100, High: 104, Low: 99, Close: 103, QuoteVolume: 10,
	}

	if err := collector.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if invalidated != 1 {
		t.Errorf("invalidations = %d, want 1", invalidated)
	}

	// the idempotent re-run commits nothing and must not invalidate
	if err := collector.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if invalidated != 1 {
		t.Errorf("invalidations after no-op tick = %d, want still 1", invalidated)
	}
}

type invalidatorFunc func()

func (f invalidatorFunc) Invalidate() { f() }

func TestCollectorSkipsDuringBackfill(t *testing.T) {
	candles := newFakeCandleStore()
	indexes := newFakeIndexStore()
	registry := NewBasePriceRegistry(newFakeBasePriceStore())
	exchange := newFakeExchange("AAAUSDT")
	cfg := &config.Config{CollectConcurrency: 4, BackfillConcurrency: 2, BackfillDays: 1}

	backfill := NewBackfillService(candles, indexes, registry, exchange, cfg)
	collector := NewCollectorService(candles, indexes, registry, exchange, backfill, cfg)

	bucket := timeutil.LatestClosedBucket(time.Now())
	exchange.latest["AAAUSDT"] = models.Candle{
		Symbol: "AAAUSDT", OpenTime: bucket,
		Open: 100, High: 104, Low: 99, Close: 103, QuoteVolume: 10,
	}

	// backfill has not completed: the tick must write nothing
	if err := collector.Tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(candles.all()) != 0 {
		t.Error("tick must be a no-op while backfill has not completed")
	}
	if collector.Stats().SkippedTicks != 1 {
		t.Errorf("skipped ticks = %d, want 1", collector.Stats().SkippedTicks)
	}
}
