package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"breadth-backend/internal/database"
	"breadth-backend/models"

	"github.com/jackc/pgx/v5"
)

// IndexRepository handles database operations for index rows
type IndexRepository struct {
	db *database.DB
}

// NewIndexRepository creates a new index repository
func NewIndexRepository(db *database.DB) *IndexRepository {
	return &IndexRepository{db: db}
}

// Insert writes one index row; a duplicate bucket is silently skipped
func (r *IndexRepository) Insert(ctx context.Context, row *models.IndexRow) error {
	query := `
		INSERT INTO index_rows (open_time, index_value, total_volume, coin_count, up_count, down_count, adr)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (open_time) DO NOTHING
	`

	_, err := r.db.Pool.Exec(ctx, query,
		row.OpenTime, row.IndexValue, row.TotalVolume,
		row.CoinCount, row.UpCount, row.DownCount, row.ADR)
	if err != nil {
		return fmt.Errorf("failed to insert index row: %w", err)
	}
	return nil
}

// Exists reports whether an index row is stored for the given bucket
func (r *IndexRepository) Exists(ctx context.Context, bucket time.Time) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM index_rows WHERE open_time = $1)`, bucket).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check index row existence: %w", err)
	}
	return exists, nil
}

// GetLatest returns the newest index row, or nil when none is stored
func (r *IndexRepository) GetLatest(ctx context.Context) (*models.IndexRow, error) {
	query := `
		SELECT open_time, index_value, total_volume, coin_count, up_count, down_count, adr
		FROM index_rows
		ORDER BY open_time DESC
		LIMIT 1
	`

	var row models.IndexRow
	err := r.db.Pool.QueryRow(ctx, query).Scan(
		&row.OpenTime, &row.IndexValue, &row.TotalVolume,
		&row.CoinCount, &row.UpCount, &row.DownCount, &row.ADR)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest index row: %w", err)
	}
	row.OpenTime = row.OpenTime.UTC()
	return &row, nil
}

// GetRange returns index rows in [start, end] ordered by bucket
func (r *IndexRepository) GetRange(ctx context.Context, start, end time.Time) ([]models.IndexRow, error) {
	query := `
		SELECT open_time, index_value, total_volume, coin_count, up_count, down_count, adr
		FROM index_rows
		WHERE open_time >= $1 AND open_time <= $2
		ORDER BY open_time ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to get index rows: %w", err)
	}
	defer rows.Close()

	var out []models.IndexRow
	for rows.Next() {
		var row models.IndexRow
		err := rows.Scan(&row.OpenTime, &row.IndexValue, &row.TotalVolume,
			&row.CoinCount, &row.UpCount, &row.DownCount, &row.ADR)
		if err != nil {
			return nil, fmt.Errorf("failed to scan index row: %w", err)
		}
		row.OpenTime = row.OpenTime.UTC()
		out = append(out, row)
	}
	return out, rows.Err()
}

// GetWindow returns the earliest index value at or after since, plus the
// max and min index values over the same window. found is false when the
// window holds no rows.
func (r *IndexRepository) GetWindow(ctx context.Context, since time.Time) (first, high, low float64, found bool, err error) {
	query := `
		SELECT
			(SELECT index_value FROM index_rows WHERE open_time >= $1 ORDER BY open_time ASC LIMIT 1),
			MAX(index_value), MIN(index_value)
		FROM index_rows
		WHERE open_time >= $1
	`

	var firstP, highP, lowP *float64
	if err := r.db.Pool.QueryRow(ctx, query, since).Scan(&firstP, &highP, &lowP); err != nil {
		return 0, 0, 0, false, fmt.Errorf("failed to get index window: %w", err)
	}
	if firstP == nil || highP == nil || lowP == nil {
		return 0, 0, 0, false, nil
	}
	return *firstP, *highP, *lowP, true, nil
}

// DeleteRange removes index rows in [start, end] and returns the row count
func (r *IndexRepository) DeleteRange(ctx context.Context, start, end time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM index_rows WHERE open_time >= $1 AND open_time <= $2`, start, end)
	if err != nil {
		return 0, fmt.Errorf("failed to delete index rows: %w", err)
	}
	return tag.RowsAffected(), nil
}
