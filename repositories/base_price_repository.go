package repositories

import (
	"context"
	"fmt"
	"time"

	"breadth-backend/internal/database"
	"breadth-backend/models"
)

// BasePriceRepository handles database operations for base prices
type BasePriceRepository struct {
	db *database.DB
}

// NewBasePriceRepository creates a new base price repository
func NewBasePriceRepository(db *database.DB) *BasePriceRepository {
	return &BasePriceRepository{db: db}
}

// GetAll retrieves every stored base price
func (r *BasePriceRepository) GetAll(ctx context.Context) ([]models.BasePrice, error) {
	query := `SELECT symbol, price, created_at FROM base_prices ORDER BY symbol ASC`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get base prices: %w", err)
	}
	defer rows.Close()

	var prices []models.BasePrice
	for rows.Next() {
		var bp models.BasePrice
		if err := rows.Scan(&bp.Symbol, &bp.Price, &bp.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan base price: %w", err)
		}
		bp.CreatedAt = bp.CreatedAt.UTC()
		prices = append(prices, bp)
	}
	return prices, rows.Err()
}

// Upsert writes a base price. For a symbol that already has a row, only the
// price is replaced; created_at keeps its original value.
func (r *BasePriceRepository) Upsert(ctx context.Context, symbol string, price float64) error {
	query := `
		INSERT INTO base_prices (symbol, price, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (symbol) DO UPDATE SET price = EXCLUDED.price
	`

	if _, err := r.db.Pool.Exec(ctx, query, symbol, price, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to upsert base price for %s: %w", symbol, err)
	}
	return nil
}

// Delete removes the base price for one symbol
func (r *BasePriceRepository) Delete(ctx context.Context, symbol string) error {
	if _, err := r.db.Pool.Exec(ctx, `DELETE FROM base_prices WHERE symbol = $1`, symbol); err != nil {
		return fmt.Errorf("failed to delete base price for %s: %w", symbol, err)
	}
	return nil
}
