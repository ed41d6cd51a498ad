package models

import (
	"time"
)

// BasePrice is the fixed per-symbol reference price. It is set once, at the
// symbol's first observation with a positive price (the close in live
// collection, the first open seen by backfill), and every later percent
// change for the symbol is measured against it until the symbol is delisted
// and the base revoked.
type BasePrice struct {
	Symbol    string    `json:"symbol" db:"symbol"`
	Price     float64   `json:"price" db:"price"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
