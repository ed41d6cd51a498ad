package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"breadth-backend/config"
	"breadth-backend/internal/timeutil"
	"breadth-backend/models"
)

// Client is the Binance USDT-M futures market-data client. All public
// methods honor a process-wide rate-limit latch: once the exchange answers
// 429 or 418 the latch engages, every later call returns empty without
// network I/O, and only an operator reset re-enables traffic.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cfg        *config.Config

	// one-way latch, engaged on HTTP 429/418
	limited atomic.Bool

	requestInterval time.Duration
}

// NewClient creates a new futures market-data client
func NewClient(cfg *config.Config) *Client {
	transport := &http.Transport{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 5 * time.Second,
	}

	return &Client{
		baseURL: cfg.BinanceBaseURL,
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: transport,
		},
		cfg:             cfg,
		requestInterval: time.Duration(cfg.RequestIntervalMs) * time.Millisecond,
	}
}

// Limited reports whether the rate-limit latch is engaged
func (c *Client) Limited() bool {
	return c.limited.Load()
}

// ResetLimit clears the rate-limit latch. Operator action only.
func (c *Client) ResetLimit() {
	c.limited.Store(false)
}

// ticker24hr is the slice of the 24hr ticker payload we consume
type ticker24hr struct {
	Symbol string `json:"symbol"`
}

// GetActiveSymbols returns the currently tradable symbols ending in the
// configured quote suffix, minus the exclusion set.
func (c *Client) GetActiveSymbols(ctx context.Context) ([]string, error) {
	if c.limited.Load() {
		return nil, nil
	}

	body, err := c.get(ctx, "/fapi/v1/ticker/24hr", nil)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	var tickers []ticker24hr
	if err := json.Unmarshal(body, &tickers); err != nil {
		return nil, fmt.Errorf("failed to decode ticker response: %w", err)
	}

	symbols := make([]string, 0, len(tickers))
	for _, t := range tickers {
		sym := strings.ToUpper(t.Symbol)
		if !strings.HasSuffix(sym, c.cfg.QuoteSuffix) {
			continue
		}
		if c.cfg.IsExcluded(sym) {
			continue
		}
		symbols = append(symbols, sym)
	}
	return symbols, nil
}

// GetLatestClosedKline fetches the most recent fully closed five-minute
// candle for a symbol. The exchange's newest kline is usually the open
// bucket, so candles newer than the latest closed bucket are dropped.
func (c *Client) GetLatestClosedKline(ctx context.Context, symbol string) (*models.Candle, error) {
	if c.limited.Load() {
		return nil, nil
	}

	candles, err := c.fetchKlines(ctx, symbol, nil, nil, 2)
	if err != nil {
		return nil, err
	}

	cutoff := timeutil.LatestClosedBucket(time.Now())
	var latest *models.Candle
	for i := range candles {
		if candles[i].OpenTime.After(cutoff) {
			continue
		}
		if latest == nil || candles[i].OpenTime.After(latest.OpenTime) {
			latest = &candles[i]
		}
	}
	return latest, nil
}

// GetKlineRange fetches one window of five-minute candles in [start, end]
func (c *Client) GetKlineRange(ctx context.Context, symbol string, start, end time.Time, limit int) ([]models.Candle, error) {
	if c.limited.Load() {
		return nil, nil
	}
	return c.fetchKlines(ctx, symbol, &start, &end, limit)
}

// GetKlineRangePaged walks [start, end] page by page, invoking fn on each
// non-empty batch. The next page starts one bucket after the last candle
// returned; pagination stops on an empty batch, an exhausted window, or an
// engaged latch. Between pages it sleeps the configured request interval.
func (c *Client) GetKlineRangePaged(ctx context.Context, symbol string, start, end time.Time, pageLimit int, fn func([]models.Candle) error) error {
	cursor := start
	for !cursor.After(end) {
		if c.limited.Load() {
			return nil
		}

		batch, err := c.fetchKlines(ctx, symbol, &cursor, &end, pageLimit)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		if err := fn(batch); err != nil {
			return err
		}

		cursor = batch[len(batch)-1].OpenTime.Add(timeutil.BucketSize)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.requestInterval):
		}
	}
	return nil
}

// fetchKlines issues one klines request and converts the positional arrays
func (c *Client) fetchKlines(ctx context.Context, symbol string, start, end *time.Time, limit int) ([]models.Candle, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", "5m")
	if start != nil {
		params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	}
	if end != nil {
		params.Set("endTime", strconv.FormatInt(end.Add(timeutil.BucketSize-time.Millisecond).UnixMilli(), 10))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.get(ctx, "/fapi/v1/klines", params)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode klines response: %w", err)
	}

	candles := make([]models.Candle, 0, len(raw))
	for _, k := range raw {
		candle, err := convertKline(symbol, k)
		if err != nil {
			continue
		}
		candles = append(candles, *candle)
	}
	return candles, nil
}

// get performs one GET against the exchange, engaging the latch on 429/418
func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418 {
		c.limited.Store(true)
		return nil, fmt.Errorf("exchange rate limit hit (status %d), latch engaged", resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s failed with status %d: %s", path, resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}

// convertKline maps one positional kline array onto a Candle. Fields
// consumed: [0] openTime ms, [1] open, [2] high, [3] low, [4] close,
// [7] quote asset volume.
func convertKline(symbol string, k []interface{}) (*models.Candle, error) {
	if len(k) < 8 {
		return nil, fmt.Errorf("invalid kline data length %d", len(k))
	}

	openTime, err := toInt64(k[0])
	if err != nil {
		return nil, fmt.Errorf("invalid open time: %w", err)
	}

	open, err := toFloat(k[1])
	if err != nil {
		return nil, fmt.Errorf("invalid open: %w", err)
	}
	high, err := toFloat(k[2])
	if err != nil {
		return nil, fmt.Errorf("invalid high: %w", err)
	}
	low, err := toFloat(k[3])
	if err != nil {
		return nil, fmt.Errorf("invalid low: %w", err)
	}
	closePrice, err := toFloat(k[4])
	if err != nil {
		return nil, fmt.Errorf("invalid close: %w", err)
	}
	quoteVolume, err := toFloat(k[7])
	if err != nil {
		return nil, fmt.Errorf("invalid quote volume: %w", err)
	}

	return &models.Candle{
		Symbol:      symbol,
		OpenTime:    time.UnixMilli(openTime).UTC(),
		Open:        open,
		High:        high,
		Low:         low,
		Close:       closePrice,
		QuoteVolume: quoteVolume,
	}, nil
}

func toInt64(v interface{}) (int64, error) {
	switch val := v.(type) {
	case float64:
		return int64(val), nil
	case int64:
		return val, nil
	case string:
		return strconv.ParseInt(val, 10, 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to int64", v)
	}
}

func toFloat(v interface{}) (float64, error) {
	switch val := v.(type) {
	case string:
		return strconv.ParseFloat(val, 64)
	case float64:
		return val, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", v)
	}
}
