package services

import (
	"time"

	"breadth-backend/models"
)

// ComputeIndexRow turns one bucket's candle batch into a single index row:
// the simple mean of per-symbol percent changes against their bases, the
// summed quote volume, and the advance/decline counts. Symbols without a
// base, or with a non-positive base or close, do not contribute. Returns
// nil when no symbol contributes.
//
// The function is pure and is shared by the live collector and backfill.
func ComputeIndexRow(bucket time.Time, candles []models.Candle, bases map[string]float64) *models.IndexRow {
	var (
		sumPct      float64
		totalVolume float64
		coinCount   int
		upCount     int
		downCount   int
	)

	for _, c := range candles {
		base, ok := bases[c.Symbol]
		if !ok || base <= 0 || c.Close <= 0 {
			continue
		}

		pct := (c.Close - base) / base * 100
		sumPct += pct
		totalVolume += c.QuoteVolume
		coinCount++
		if pct > 0 {
			upCount++
		} else if pct < 0 {
			downCount++
		}
	}

	if coinCount == 0 {
		return nil
	}

	adr := float64(upCount)
	if downCount > 0 {
		adr = float64(upCount) / float64(downCount)
	}

	return &models.IndexRow{
		OpenTime:    bucket,
		IndexValue:  sumPct / float64(coinCount),
		TotalVolume: totalVolume,
		CoinCount:   coinCount,
		UpCount:     upCount,
		DownCount:   downCount,
		ADR:         adr,
	}
}
