package services

import (
	"context"
	"time"

	"breadth-backend/models"
)

// CandleStore is the persistence surface the services need for candles.
// Implemented by repositories.CandleRepository.
type CandleStore interface {
	BulkInsert(ctx context.Context, candles []models.Candle) error
	DistinctOpenTimes(ctx context.Context, start, end time.Time) ([]time.Time, error)
	OpenTimesForSymbol(ctx context.Context, symbol string, start, end time.Time) ([]time.Time, error)
	GetAllInRange(ctx context.Context, start, end time.Time) ([]models.Candle, error)
	GetAtBucket(ctx context.Context, bucket time.Time) ([]models.Candle, error)
	GetExtremes(ctx context.Context, start, end time.Time) (map[string]models.SymbolExtremes, error)
	GetEarliestSnapshot(ctx context.Context, t time.Time) ([]models.SnapshotPrice, error)
	GetLatestSnapshot(ctx context.Context, t time.Time) ([]models.SnapshotPrice, error)
	MaxOpenTime(ctx context.Context) (time.Time, error)
	DeleteRange(ctx context.Context, start, end time.Time) (int64, error)
	DeleteBySymbol(ctx context.Context, symbol string) (int64, error)
}

// IndexStore is the persistence surface for index rows.
// Implemented by repositories.IndexRepository.
type IndexStore interface {
	Insert(ctx context.Context, row *models.IndexRow) error
	Exists(ctx context.Context, bucket time.Time) (bool, error)
	GetLatest(ctx context.Context) (*models.IndexRow, error)
	GetRange(ctx context.Context, start, end time.Time) ([]models.IndexRow, error)
	GetWindow(ctx context.Context, since time.Time) (first, high, low float64, found bool, err error)
	DeleteRange(ctx context.Context, start, end time.Time) (int64, error)
}

// BasePriceStore is the persistence surface for base prices.
// Implemented by repositories.BasePriceRepository.
type BasePriceStore interface {
	GetAll(ctx context.Context) ([]models.BasePrice, error)
	Upsert(ctx context.Context, symbol string, price float64) error
	Delete(ctx context.Context, symbol string) error
}

// ExchangeClient is the market-data surface of internal/binance.Client.
type ExchangeClient interface {
	GetActiveSymbols(ctx context.Context) ([]string, error)
	GetLatestClosedKline(ctx context.Context, symbol string) (*models.Candle, error)
	GetKlineRange(ctx context.Context, symbol string, start, end time.Time, limit int) ([]models.Candle, error)
	GetKlineRangePaged(ctx context.Context, symbol string, start, end time.Time, pageLimit int, fn func([]models.Candle) error) error
	Limited() bool
}
