package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"breadth-backend/models"
)

// ErrInsufficientData marks a query whose window holds no usable candles,
// typically because backfill has not reached it yet. Callers answer with
// success=false rather than an error status.
var ErrInsufficientData = errors.New("insufficient data for the requested window")

// DistributionService answers the rise-distribution query: how every
// symbol's percent change over a window spreads across adaptive histogram
// buckets.
type DistributionService struct {
	candles CandleStore
}

// NewDistributionService creates a new distribution service
func NewDistributionService(candles CandleStore) *DistributionService {
	return &DistributionService{candles: candles}
}

// Query computes the histogram over an aligned UTC window. The base of
// each symbol's change is its open at the earliest stored bucket at or
// after the window start; the end is its close at the latest stored bucket
// at or before the window end.
func (s *DistributionService) Query(ctx context.Context, start, end time.Time) (*models.DistributionResult, error) {
	baseSnaps, err := s.candles.GetEarliestSnapshot(ctx, start)
	if err != nil {
		return nil, err
	}
	if len(baseSnaps) == 0 {
		return nil, fmt.Errorf("%w: no candles at or after %s", ErrInsufficientData, start.Format(time.RFC3339))
	}

	endSnaps, err := s.candles.GetLatestSnapshot(ctx, end)
	if err != nil {
		return nil, err
	}
	if len(endSnaps) == 0 {
		return nil, fmt.Errorf("%w: no candles at or before %s", ErrInsufficientData, end.Format(time.RFC3339))
	}

	extremes, err := s.candles.GetExtremes(ctx, start, end)
	if err != nil {
		return nil, err
	}

	bases := make(map[string]float64, len(baseSnaps))
	for _, snap := range baseSnaps {
		bases[snap.Symbol] = snap.Open
	}

	changes := make([]models.CoinChange, 0, len(endSnaps))
	upCount, downCount := 0, 0
	for _, snap := range endSnaps {
		base, ok := bases[snap.Symbol]
		if !ok || base <= 0 || snap.Close <= 0 {
			continue
		}

		cc := models.CoinChange{
			Symbol: snap.Symbol,
			Change: (snap.Close - base) / base * 100,
		}
		if ext, ok := extremes[snap.Symbol]; ok {
			cc.MaxChange = (ext.MaxHigh - base) / base * 100
			cc.MinChange = (ext.MinLow - base) / base * 100
		}
		changes = append(changes, cc)

		if cc.Change > 0 {
			upCount++
		} else if cc.Change < 0 {
			downCount++
		}
	}

	if len(changes) == 0 {
		return nil, fmt.Errorf("%w: no symbol present in both snapshots", ErrInsufficientData)
	}

	sort.Slice(changes, func(i, j int) bool { return changes[i].Change > changes[j].Change })

	result := &models.DistributionResult{
		TotalCoins:      len(changes),
		UpCount:         upCount,
		DownCount:       downCount,
		Distribution:    buildDistribution(changes),
		AllCoinsRanking: changes,
	}

	log.Printf("[DistributionService] %s .. %s: %d coins, %d up, %d down",
		start.Format(time.RFC3339), end.Format(time.RFC3339), result.TotalCoins, upCount, downCount)
	return result, nil
}

// buildDistribution buckets the (already sorted) changes with the adaptive
// step and returns the buckets in natural order. Empty buckets inside the
// range are kept out of the response.
func buildDistribution(changes []models.CoinChange) []models.DistributionBucket {
	minChange, maxChange := changes[0].Change, changes[0].Change
	for _, cc := range changes {
		if cc.Change < minChange {
			minChange = cc.Change
		}
		if cc.Change > maxChange {
			maxChange = cc.Change
		}
	}

	step := adaptiveStep(maxChange - minChange)

	grouped := make(map[float64][]models.CoinChange)
	for _, cc := range changes {
		lo := bucketFloor(cc.Change, step)
		grouped[lo] = append(grouped[lo], cc)
	}

	los := make([]float64, 0, len(grouped))
	for lo := range grouped {
		los = append(los, lo)
	}
	sort.Float64s(los)

	buckets := make([]models.DistributionBucket, 0, len(los))
	for _, lo := range los {
		members := grouped[lo]
		buckets = append(buckets, models.DistributionBucket{
			Range: bucketLabel(lo, step),
			Count: len(members),
			Coins: members,
		})
	}
	return buckets
}
