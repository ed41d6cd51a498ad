package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"breadth-backend/internal/database"
	"breadth-backend/models"
)

// insertChunkSize caps one multi-row INSERT statement
const insertChunkSize = 2000

// CandleRepository handles database operations for candles
type CandleRepository struct {
	db *database.DB
}

// NewCandleRepository creates a new candle repository
func NewCandleRepository(db *database.DB) *CandleRepository {
	return &CandleRepository{db: db}
}

// BulkInsert appends candles with insert-or-ignore semantics. Duplicate
// (symbol, open_time) pairs are silently skipped. Rows are written as
// multi-row INSERT statements in chunks.
func (r *CandleRepository) BulkInsert(ctx context.Context, candles []models.Candle) error {
	for offset := 0; offset < len(candles); offset += insertChunkSize {
		end := offset + insertChunkSize
		if end > len(candles) {
			end = len(candles)
		}
		if err := r.insertChunk(ctx, candles[offset:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *CandleRepository) insertChunk(ctx context.Context, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO candles (symbol, open_time, open, high, low, close, quote_volume) VALUES ")

	args := make([]interface{}, 0, len(candles)*7)
	for i, c := range candles {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 7
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7)
		args = append(args, c.Symbol, c.OpenTime, c.Open, c.High, c.Low, c.Close, c.QuoteVolume)
	}
	sb.WriteString(" ON CONFLICT (symbol, open_time) DO NOTHING")

	if _, err := r.db.Pool.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to bulk insert candles: %w", err)
	}
	return nil
}

// DistinctOpenTimes returns every bucket instant present in [start, end]
func (r *CandleRepository) DistinctOpenTimes(ctx context.Context, start, end time.Time) ([]time.Time, error) {
	query := `
		SELECT DISTINCT open_time FROM candles
		WHERE open_time >= $1 AND open_time <= $2
		ORDER BY open_time ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to get distinct open times: %w", err)
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan open time: %w", err)
		}
		times = append(times, t.UTC())
	}
	return times, rows.Err()
}

// OpenTimesForSymbol returns the bucket instants stored for one symbol in [start, end]
func (r *CandleRepository) OpenTimesForSymbol(ctx context.Context, symbol string, start, end time.Time) ([]time.Time, error) {
	query := `
		SELECT open_time FROM candles
		WHERE symbol = $1 AND open_time >= $2 AND open_time <= $3
		ORDER BY open_time ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to get open times for %s: %w", symbol, err)
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan open time: %w", err)
		}
		times = append(times, t.UTC())
	}
	return times, rows.Err()
}

// GetBySymbolRange retrieves one symbol's candles in [start, end] in time order
func (r *CandleRepository) GetBySymbolRange(ctx context.Context, symbol string, start, end time.Time) ([]models.Candle, error) {
	query := `
		SELECT symbol, open_time, open, high, low, close, quote_volume
		FROM candles
		WHERE symbol = $1 AND open_time >= $2 AND open_time <= $3
		ORDER BY open_time ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to get candles for %s: %w", symbol, err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// GetAllInRange retrieves every candle in [start, end] ordered by (symbol, open_time)
func (r *CandleRepository) GetAllInRange(ctx context.Context, start, end time.Time) ([]models.Candle, error) {
	query := `
		SELECT symbol, open_time, open, high, low, close, quote_volume
		FROM candles
		WHERE open_time >= $1 AND open_time <= $2
		ORDER BY symbol ASC, open_time ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to get candles in range: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// GetAtBucket retrieves all candles sharing one exact bucket instant
func (r *CandleRepository) GetAtBucket(ctx context.Context, bucket time.Time) ([]models.Candle, error) {
	query := `
		SELECT symbol, open_time, open, high, low, close, quote_volume
		FROM candles
		WHERE open_time = $1
		ORDER BY symbol ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to get candles at bucket: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// GetExtremes returns each symbol's max high and min low over [start, end]
func (r *CandleRepository) GetExtremes(ctx context.Context, start, end time.Time) (map[string]models.SymbolExtremes, error) {
	query := `
		SELECT symbol, MAX(high), MIN(low)
		FROM candles
		WHERE open_time >= $1 AND open_time <= $2
		GROUP BY symbol
	`

	rows, err := r.db.Pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to get extremes: %w", err)
	}
	defer rows.Close()

	extremes := make(map[string]models.SymbolExtremes)
	for rows.Next() {
		var e models.SymbolExtremes
		if err := rows.Scan(&e.Symbol, &e.MaxHigh, &e.MinLow); err != nil {
			return nil, fmt.Errorf("failed to scan extremes: %w", err)
		}
		extremes[e.Symbol] = e
	}
	return extremes, rows.Err()
}

// GetEarliestSnapshot returns all symbols' candles at the single earliest
// bucket at or after t
func (r *CandleRepository) GetEarliestSnapshot(ctx context.Context, t time.Time) ([]models.SnapshotPrice, error) {
	query := `
		SELECT symbol, open_time, open, close FROM candles
		WHERE open_time = (SELECT MIN(open_time) FROM candles WHERE open_time >= $1)
	`
	return r.querySnapshot(ctx, query, t)
}

// GetLatestSnapshot returns all symbols' candles at the single latest
// bucket at or before t
func (r *CandleRepository) GetLatestSnapshot(ctx context.Context, t time.Time) ([]models.SnapshotPrice, error) {
	query := `
		SELECT symbol, open_time, open, close FROM candles
		WHERE open_time = (SELECT MAX(open_time) FROM candles WHERE open_time <= $1)
	`
	return r.querySnapshot(ctx, query, t)
}

func (r *CandleRepository) querySnapshot(ctx context.Context, query string, t time.Time) ([]models.SnapshotPrice, error) {
	rows, err := r.db.Pool.Query(ctx, query, t)
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	defer rows.Close()

	var snaps []models.SnapshotPrice
	for rows.Next() {
		var s models.SnapshotPrice
		if err := rows.Scan(&s.Symbol, &s.OpenTime, &s.Open, &s.Close); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		s.OpenTime = s.OpenTime.UTC()
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}

// MaxOpenTime returns the latest stored bucket instant, or zero if the
// table is empty
func (r *CandleRepository) MaxOpenTime(ctx context.Context) (time.Time, error) {
	var t *time.Time
	err := r.db.Pool.QueryRow(ctx, `SELECT MAX(open_time) FROM candles`).Scan(&t)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get max open time: %w", err)
	}
	if t == nil {
		return time.Time{}, nil
	}
	return t.UTC(), nil
}

// DeleteRange removes candles in [start, end] and returns the row count
func (r *CandleRepository) DeleteRange(ctx context.Context, start, end time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM candles WHERE open_time >= $1 AND open_time <= $2`, start, end)
	if err != nil {
		return 0, fmt.Errorf("failed to delete candle range: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteBySymbol removes all candles for one symbol and returns the row count
func (r *CandleRepository) DeleteBySymbol(ctx context.Context, symbol string) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM candles WHERE symbol = $1`, symbol)
	if err != nil {
		return 0, fmt.Errorf("failed to delete candles for %s: %w", symbol, err)
	}
	return tag.RowsAffected(), nil
}

type candleRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanCandles(rows candleRows) ([]models.Candle, error) {
	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		err := rows.Scan(&c.Symbol, &c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.QuoteVolume)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		c.OpenTime = c.OpenTime.UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}
