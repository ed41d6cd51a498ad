package models

import (
	"time"
)

// IndexRow is one computed point of the market-breadth index: the simple
// mean of per-symbol percent changes against their base prices, plus
// advance/decline counts for the same bucket.
type IndexRow struct {
	OpenTime    time.Time `json:"open_time" db:"open_time"`
	IndexValue  float64   `json:"index_value" db:"index_value"`
	TotalVolume float64   `json:"total_volume" db:"total_volume"`
	CoinCount   int       `json:"coin_count" db:"coin_count"`
	UpCount     int       `json:"up_count" db:"up_count"`
	DownCount   int       `json:"down_count" db:"down_count"`
	ADR         float64   `json:"adr" db:"adr"`
}

// IndexPoint is the wire shape for a single index row.
type IndexPoint struct {
	TimestampMs int64   `json:"timestamp_ms"`
	IndexValue  float64 `json:"index_value"`
	TotalVolume float64 `json:"total_volume"`
	CoinCount   int     `json:"coin_count"`
	UpCount     int     `json:"up_count"`
	DownCount   int     `json:"down_count"`
	ADR         float64 `json:"adr"`
}

// ToPoint converts a stored row to its wire shape.
func (r *IndexRow) ToPoint() IndexPoint {
	return IndexPoint{
		TimestampMs: r.OpenTime.UnixMilli(),
		IndexValue:  r.IndexValue,
		TotalVolume: r.TotalVolume,
		CoinCount:   r.CoinCount,
		UpCount:     r.UpCount,
		DownCount:   r.DownCount,
		ADR:         r.ADR,
	}
}

// WindowDelta describes the index move over one look-back window.
type WindowDelta struct {
	Change float64 `json:"change"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
}

// IndexStats is the multi-window summary served by the stats endpoint.
type IndexStats struct {
	Current      float64 `json:"current"`
	CoinCount    int     `json:"coin_count"`
	LastUpdateMs int64   `json:"last_update_ms"`
	Change24h    float64 `json:"change24h"`
	High24h      float64 `json:"high24h"`
	Low24h       float64 `json:"low24h"`
	Change3d     float64 `json:"change3d"`
	High3d       float64 `json:"high3d"`
	Low3d        float64 `json:"low3d"`
	Change7d     float64 `json:"change7d"`
	High7d       float64 `json:"high7d"`
	Low7d        float64 `json:"low7d"`
	Change30d    float64 `json:"change30d"`
	High30d      float64 `json:"high30d"`
	Low30d       float64 `json:"low30d"`
}
