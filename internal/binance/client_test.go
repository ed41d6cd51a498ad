package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"breadth-backend/config"
	"breadth-backend/models"
)

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		BinanceBaseURL:    baseURL,
		QuoteSuffix:       "USDT",
		ExcludeSymbols:    []string{"BTCUSDT", "ETHUSDT"},
		RequestIntervalMs: 1,
	}
}

func klinePayload(openTimeMs int64, open, high, low, close, quoteVolume string) []interface{} {
	return []interface{}{
		openTimeMs, open, high, low, close, "123.4",
		openTimeMs + 5*60*1000 - 1, quoteVolume, 42, "1.0", "2.0", "0",
	}
}

func TestGetKlineRangeParsesPayload(t *testing.T) {
	openTime := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/klines" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("interval"); got != "5m" {
			t.Errorf("interval = %q, want 5m", got)
		}
		payload := [][]interface{}{
			klinePayload(openTime.UnixMilli(), "100.5", "105.25", "99.75", "102.0", "12345.6"),
		}
		json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	candles, err := client.GetKlineRange(context.Background(), "AAAUSDT", openTime, openTime, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(candles) != 1 {
		t.Fatalf("got %d candles, want 1", len(candles))
	}

	c := candles[0]
	if c.Symbol != "AAAUSDT" {
		t.Errorf("symbol = %q", c.Symbol)
	}
	if !c.OpenTime.Equal(openTime) {
		t.Errorf("open time = %v, want %v", c.OpenTime, openTime)
	}
	if c.Open != 100.5 || c.High != 105.25 || c.Low != 99.75 || c.Close != 102.0 {
		t.Errorf("ohlc = %v/%v/%v/%v", c.Open, c.High, c.Low, c.Close)
	}
	if c.QuoteVolume != 12345.6 {
		t.Errorf("quote volume = %v, want 12345.6", c.QuoteVolume)
	}
	if !c.Valid() {
		t.Error("parsed candle must satisfy the OHLC invariant")
	}
}

func TestRateLimitLatch(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	now := time.Now().UTC()

	if _, err := client.GetKlineRange(context.Background(), "AAAUSDT", now.Add(-time.Hour), now, 10); err == nil {
		t.Fatal("expected an error on 429")
	}
	if !client.Limited() {
		t.Fatal("latch must engage on 429")
	}
	if hits.Load() != 1 {
		t.Fatalf("hits = %d, want 1", hits.Load())
	}

	// latched calls short-circuit without network I/O
	candles, err := client.GetKlineRange(context.Background(), "AAAUSDT", now.Add(-time.Hour), now, 10)
	if err != nil || candles != nil {
		t.Errorf("latched call = (%v, %v), want empty and no error", candles, err)
	}
	symbols, err := client.GetActiveSymbols(context.Background())
	if err != nil || symbols != nil {
		t.Errorf("latched symbols call = (%v, %v), want empty and no error", symbols, err)
	}
	if hits.Load() != 1 {
		t.Errorf("hits after latched calls = %d, want still 1", hits.Load())
	}

	// only an operator reset restores traffic
	client.ResetLimit()
	if client.Limited() {
		t.Error("latch must clear on reset")
	}
	client.GetKlineRange(context.Background(), "AAAUSDT", now.Add(-time.Hour), now, 10)
	if hits.Load() != 2 {
		t.Errorf("hits after reset = %d, want 2", hits.Load())
	}
}

func TestGetActiveSymbolsFilters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fapi/v1/ticker/24hr" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		payload := []map[string]interface{}{
			{"symbol": "BTCUSDT"},
			{"symbol": "ETHUSDT"},
			{"symbol": "SOLUSDT"},
			{"symbol": "ADAUSDT"},
			{"symbol": "BTCBUSD"},
		}
		json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	symbols, err := client.GetActiveSymbols(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	want := map[string]bool{"SOLUSDT": true, "ADAUSDT": true}
	if len(symbols) != len(want) {
		t.Fatalf("symbols = %v, want exactly %v", symbols, want)
	}
	for _, s := range symbols {
		if !want[s] {
			t.Errorf("unexpected symbol %s (flagships and foreign quotes must be filtered)", s)
		}
	}
}

func TestGetKlineRangePagedAdvancesWindow(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	step := 5 * time.Minute

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startMs, _ := strconv.ParseInt(r.URL.Query().Get("startTime"), 10, 64)
		start := time.UnixMilli(startMs).UTC()

		var payload [][]interface{}
		// serve two candles per page out of a four-candle history
		for i := 0; i < 2; i++ {
			candleTime := start.Add(time.Duration(i) * step)
			if candleTime.After(t0.Add(3 * step)) {
				break
			}
			payload = append(payload, klinePayload(candleTime.UnixMilli(), "10", "11", "9", "10.5", "100"))
		}
		json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))

	var batches [][]models.Candle
	err := client.GetKlineRangePaged(context.Background(), "AAAUSDT", t0, t0.Add(3*step), 2, func(batch []models.Candle) error {
		batches = append(batches, batch)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(batches))
	}
	if !batches[1][0].OpenTime.Equal(t0.Add(2 * step)) {
		t.Errorf("second page starts at %v, want one bucket past the first page", batches[1][0].OpenTime)
	}
	total := len(batches[0]) + len(batches[1])
	if total != 4 {
		t.Errorf("total candles = %d, want 4", total)
	}
}
