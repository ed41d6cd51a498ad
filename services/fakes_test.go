package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"breadth-backend/models"
)

// fakeCandleStore is an in-memory CandleStore for service tests
type fakeCandleStore struct {
	mu      sync.Mutex
	candles map[string]models.Candle // keyed by symbol + open time
}

func newFakeCandleStore() *fakeCandleStore {
	return &fakeCandleStore{candles: make(map[string]models.Candle)}
}

func candleKey(symbol string, t time.Time) string {
	return symbol + "@" + t.UTC().Format(time.RFC3339)
}

func (f *fakeCandleStore) BulkInsert(_ context.Context, candles []models.Candle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range candles {
		key := candleKey(c.Symbol, c.OpenTime)
		if _, exists := f.candles[key]; exists {
			continue
		}
		f.candles[key] = c
	}
	return nil
}

func (f *fakeCandleStore) all() []models.Candle {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Candle, 0, len(f.candles))
	for _, c := range f.candles {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].OpenTime.Before(out[j].OpenTime)
	})
	return out
}

func (f *fakeCandleStore) inRange(start, end time.Time) []models.Candle {
	var out []models.Candle
	for _, c := range f.all() {
		if !c.OpenTime.Before(start) && !c.OpenTime.After(end) {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeCandleStore) DistinctOpenTimes(_ context.Context, start, end time.Time) ([]time.Time, error) {
	seen := make(map[int64]struct{})
	var out []time.Time
	for _, c := range f.inRange(start, end) {
		if _, ok := seen[c.OpenTime.Unix()]; ok {
			continue
		}
		seen[c.OpenTime.Unix()] = struct{}{}
		out = append(out, c.OpenTime)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (f *fakeCandleStore) OpenTimesForSymbol(_ context.Context, symbol string, start, end time.Time) ([]time.Time, error) {
	var out []time.Time
	for _, c := range f.inRange(start, end) {
		if c.Symbol == symbol {
			out = append(out, c.OpenTime)
		}
	}
	return out, nil
}

func (f *fakeCandleStore) GetAllInRange(_ context.Context, start, end time.Time) ([]models.Candle, error) {
	return f.inRange(start, end), nil
}

func (f *fakeCandleStore) GetAtBucket(_ context.Context, bucket time.Time) ([]models.Candle, error) {
	var out []models.Candle
	for _, c := range f.all() {
		if c.OpenTime.Equal(bucket) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCandleStore) GetExtremes(_ context.Context, start, end time.Time) (map[string]models.SymbolExtremes, error) {
	out := make(map[string]models.SymbolExtremes)
	for _, c := range f.inRange(start, end) {
		e, ok := out[c.Symbol]
		if !ok {
			e = models.SymbolExtremes{Symbol: c.Symbol, MaxHigh: c.High, MinLow: c.Low}
		} else {
			if c.High > e.MaxHigh {
				e.MaxHigh = c.High
			}
			if c.Low < e.MinLow {
				e.MinLow = c.Low
			}
		}
		out[c.Symbol] = e
	}
	return out, nil
}

func (f *fakeCandleStore) GetEarliestSnapshot(_ context.Context, t time.Time) ([]models.SnapshotPrice, error) {
	var earliest time.Time
	found := false
	for _, c := range f.all() {
		if c.OpenTime.Before(t) {
			continue
		}
		if !found || c.OpenTime.Before(earliest) {
			earliest = c.OpenTime
			found = true
		}
	}
	if !found {
		return nil, nil
	}
	return f.snapshotAt(earliest), nil
}

func (f *fakeCandleStore) GetLatestSnapshot(_ context.Context, t time.Time) ([]models.SnapshotPrice, error) {
	var latest time.Time
	found := false
	for _, c := range f.all() {
		if c.OpenTime.After(t) {
			continue
		}
		if !found || c.OpenTime.After(latest) {
			latest = c.OpenTime
			found = true
		}
	}
	if !found {
		return nil, nil
	}
	return f.snapshotAt(latest), nil
}

func (f *fakeCandleStore) snapshotAt(bucket time.Time) []models.SnapshotPrice {
	var out []models.SnapshotPrice
	for _, c := range f.all() {
		if c.OpenTime.Equal(bucket) {
			out = append(out, models.SnapshotPrice{
				Symbol: c.Symbol, OpenTime: c.OpenTime, Open: c.Open, Close: c.Close,
			})
		}
	}
	return out
}

func (f *fakeCandleStore) MaxOpenTime(_ context.Context) (time.Time, error) {
	var max time.Time
	for _, c := range f.all() {
		if c.OpenTime.After(max) {
			max = c.OpenTime
		}
	}
	return max, nil
}

func (f *fakeCandleStore) DeleteRange(_ context.Context, start, end time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for key, c := range f.candles {
		if !c.OpenTime.Before(start) && !c.OpenTime.After(end) {
			delete(f.candles, key)
			deleted++
		}
	}
	return deleted, nil
}

func (f *fakeCandleStore) DeleteBySymbol(_ context.Context, symbol string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for key, c := range f.candles {
		if c.Symbol == symbol {
			delete(f.candles, key)
			deleted++
		}
	}
	return deleted, nil
}

// fakeIndexStore is an in-memory IndexStore
type fakeIndexStore struct {
	mu   sync.Mutex
	rows map[int64]models.IndexRow
}

func newFakeIndexStore() *fakeIndexStore {
	return &fakeIndexStore{rows: make(map[int64]models.IndexRow)}
}

func (f *fakeIndexStore) Insert(_ context.Context, row *models.IndexRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := row.OpenTime.Unix()
	if _, exists := f.rows[key]; exists {
		return nil
	}
	f.rows[key] = *row
	return nil
}

func (f *fakeIndexStore) Exists(_ context.Context, bucket time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rows[bucket.Unix()]
	return ok, nil
}

func (f *fakeIndexStore) GetLatest(_ context.Context) (*models.IndexRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *models.IndexRow
	for key := range f.rows {
		row := f.rows[key]
		if latest == nil || row.OpenTime.After(latest.OpenTime) {
			latest = &row
		}
	}
	return latest, nil
}

func (f *fakeIndexStore) GetRange(_ context.Context, start, end time.Time) ([]models.IndexRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.IndexRow
	for _, row := range f.rows {
		if !row.OpenTime.Before(start) && !row.OpenTime.After(end) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })
	return out, nil
}

func (f *fakeIndexStore) GetWindow(_ context.Context, since time.Time) (float64, float64, float64, bool, error) {
	rows, _ := f.GetRange(context.Background(), since, time.Unix(1<<40, 0))
	if len(rows) == 0 {
		return 0, 0, 0, false, nil
	}
	first := rows[0].IndexValue
	high, low := first, first
	for _, row := range rows {
		if row.IndexValue > high {
			high = row.IndexValue
		}
		if row.IndexValue < low {
			low = row.IndexValue
		}
	}
	return first, high, low, true, nil
}

func (f *fakeIndexStore) DeleteRange(_ context.Context, start, end time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var deleted int64
	for key, row := range f.rows {
		if !row.OpenTime.Before(start) && !row.OpenTime.After(end) {
			delete(f.rows, key)
			deleted++
		}
	}
	return deleted, nil
}

// fakeBasePriceStore is an in-memory BasePriceStore
type fakeBasePriceStore struct {
	mu     sync.Mutex
	prices map[string]float64
}

func newFakeBasePriceStore() *fakeBasePriceStore {
	return &fakeBasePriceStore{prices: make(map[string]float64)}
}

func (f *fakeBasePriceStore) GetAll(_ context.Context) ([]models.BasePrice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.BasePrice
	for symbol, price := range f.prices {
		out = append(out, models.BasePrice{Symbol: symbol, Price: price})
	}
	return out, nil
}

func (f *fakeBasePriceStore) Upsert(_ context.Context, symbol string, price float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
	return nil
}

func (f *fakeBasePriceStore) Delete(_ context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.prices, symbol)
	return nil
}

// fakeExchange serves canned candles per symbol
type fakeExchange struct {
	mu      sync.Mutex
	symbols []string
	latest  map[string]models.Candle
	series  map[string][]models.Candle
}

func newFakeExchange(symbols ...string) *fakeExchange {
	return &fakeExchange{
		symbols: symbols,
		latest:  make(map[string]models.Candle),
		series:  make(map[string][]models.Candle),
	}
}

func (f *fakeExchange) GetActiveSymbols(_ context.Context) ([]string, error) {
	return f.symbols, nil
}

func (f *fakeExchange) GetLatestClosedKline(_ context.Context, symbol string) (*models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.latest[symbol]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (f *fakeExchange) GetKlineRange(_ context.Context, symbol string, start, end time.Time, _ int) ([]models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Candle
	for _, c := range f.series[symbol] {
		if !c.OpenTime.Before(start) && !c.OpenTime.After(end) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeExchange) GetKlineRangePaged(ctx context.Context, symbol string, start, end time.Time, _ int, fn func([]models.Candle) error) error {
	batch, err := f.GetKlineRange(ctx, symbol, start, end, 0)
	if err != nil || len(batch) == 0 {
		return err
	}
	return fn(batch)
}

func (f *fakeExchange) Limited() bool { return false }
