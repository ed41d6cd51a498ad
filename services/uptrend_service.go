package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"breadth-backend/models"
)

const (
	uptrendCacheSize = 10
	uptrendCacheTTL  = 5 * time.Minute
)

// UptrendParams are the knobs of the wave detector: the fraction of the
// gain a close must keep for the wave to stay alive, the number of candles
// without a new peak that ends it, and the minimum magnitude worth
// reporting.
type UptrendParams struct {
	KeepRatio        float64
	NoNewHighCandles int
	MinUptrendPct    float64
}

// Validate checks the knobs are inside their meaningful ranges
func (p UptrendParams) Validate() error {
	if p.KeepRatio <= 0 || p.KeepRatio > 1 {
		return fmt.Errorf("keepRatio must be in (0, 1], got %v", p.KeepRatio)
	}
	if p.NoNewHighCandles <= 0 {
		return fmt.Errorf("noNewHighCandles must be positive, got %d", p.NoNewHighCandles)
	}
	if p.MinUptrendPct < 0 {
		return fmt.Errorf("minUptrend must be non-negative, got %v", p.MinUptrendPct)
	}
	return nil
}

// UptrendService segments each symbol's price series into one-sided
// uptrend waves and serves the bucketed distribution over them. Results
// are cached per aligned window and parameter set; the live collector
// invalidates the cache when a new index row commits.
type UptrendService struct {
	candles CandleStore

	mu    sync.Mutex
	cache map[string]*uptrendCacheEntry
}

type uptrendCacheEntry struct {
	result  *models.UptrendResult
	written time.Time
}

// NewUptrendService creates a new uptrend service
func NewUptrendService(candles CandleStore) *UptrendService {
	return &UptrendService{
		candles: candles,
		cache:   make(map[string]*uptrendCacheEntry),
	}
}

// Invalidate drops every cached result. Called by the live collector.
func (s *UptrendService) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.cache) > 0 {
		s.cache = make(map[string]*uptrendCacheEntry)
	}
}

// Query runs the wave detector over an aligned UTC window
func (s *UptrendService) Query(ctx context.Context, start, end time.Time, params UptrendParams) (*models.UptrendResult, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%d:%d:%v:%d:%v", start.Unix(), end.Unix(), params.KeepRatio, params.NoNewHighCandles, params.MinUptrendPct)
	if cached := s.getCached(key); cached != nil {
		return cached, nil
	}

	all, err := s.candles.GetAllInRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%w: no candles in %s .. %s", ErrInsufficientData,
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	var waves []models.Wave
	forEachSymbol(all, func(symbol string, series []models.Candle) {
		waves = append(waves, scanWaves(symbol, series, params)...)
	})

	result := assembleUptrend(waves)
	s.putCached(key, result)

	log.Printf("[UptrendService] %s .. %s: %d waves, %d ongoing", start.Format(time.RFC3339), end.Format(time.RFC3339), result.TotalCoins, result.OngoingCount)
	return result, nil
}

func (s *UptrendService) getCached(key string) *models.UptrendResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache[key]
	if !ok {
		return nil
	}
	if time.Since(entry.written) > uptrendCacheTTL {
		delete(s.cache, key)
		return nil
	}
	return entry.result
}

func (s *UptrendService) putCached(key string, result *models.UptrendResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.cache) >= uptrendCacheSize {
		oldestKey := ""
		var oldest time.Time
		for k, e := range s.cache {
			if oldestKey == "" || e.written.Before(oldest) {
				oldestKey, oldest = k, e.written
			}
		}
		delete(s.cache, oldestKey)
	}
	s.cache[key] = &uptrendCacheEntry{result: result, written: time.Now()}
}

// forEachSymbol walks candles ordered by (symbol, open_time) and hands
// each symbol's contiguous series to fn
func forEachSymbol(all []models.Candle, fn func(symbol string, series []models.Candle)) {
	start := 0
	for i := 1; i <= len(all); i++ {
		if i == len(all) || all[i].Symbol != all[start].Symbol {
			fn(all[start].Symbol, all[start:i])
			start = i
		}
	}
}

// waveState is the per-symbol scan state
type waveState struct {
	wsPrice       float64
	wsTime        time.Time
	peakPrice     float64
	peakTime      time.Time
	peakIdx       int
	waveLowestLow float64
	noNewHigh     int
}

// scanWaves runs the one-pass wave detector over one symbol's series.
//
// A wave starts at a candle's low, rides while new highs keep coming, and
// ends when the close gives back too much of the gain or the peak goes
// stale for too long. A low under the wave's historical low invalidates it
// outright. After a termination the next wave starts from the lowest low
// seen since the peak, so a post-peak dip that is now rebounding is
// measured from the dip.
func scanWaves(symbol string, series []models.Candle, params UptrendParams) []models.Wave {
	var waves []models.Wave
	var st waveState
	inWave := false

	emit := func(ongoing bool) {
		if st.peakPrice <= st.wsPrice || st.wsTime.Equal(st.peakTime) {
			return
		}
		pct := (st.peakPrice - st.wsPrice) / st.wsPrice * 100
		if pct < params.MinUptrendPct {
			return
		}
		waves = append(waves, models.Wave{
			Symbol:      symbol,
			StartTimeMs: st.wsTime.UnixMilli(),
			PeakTimeMs:  st.peakTime.UnixMilli(),
			StartPrice:  st.wsPrice,
			PeakPrice:   st.peakPrice,
			Pct:         pct,
			Ongoing:     ongoing,
		})
	}

	for i, c := range series {
		if !inWave {
			st = waveState{
				wsPrice:       c.Low,
				wsTime:        c.OpenTime,
				peakPrice:     c.High,
				peakTime:      c.OpenTime,
				peakIdx:       i,
				waveLowestLow: c.Low,
			}
			inWave = true
			continue
		}

		madeNewHigh := false
		if c.High > st.peakPrice {
			st.peakPrice = c.High
			st.peakTime = c.OpenTime
			st.peakIdx = i
			st.noNewHigh = 0
			madeNewHigh = true
		} else {
			st.noNewHigh++
		}

		// a low under the wave's floor invalidates it; restart here
		if c.Low < st.waveLowestLow {
			st = waveState{
				wsPrice:       c.Low,
				wsTime:        c.OpenTime,
				peakPrice:     c.High,
				peakTime:      c.OpenTime,
				peakIdx:       i,
				waveLowestLow: c.Low,
			}
			continue
		}

		pr := 1.0
		if st.peakPrice > st.wsPrice {
			pr = (c.Close - st.wsPrice) / (st.peakPrice - st.wsPrice)
		}

		giveback := !madeNewHigh && pr < params.KeepRatio && st.peakPrice > st.wsPrice
		sideways := st.noNewHigh >= params.NoNewHighCandles

		if giveback || sideways {
			emit(false)

			// next wave starts at the lowest low strictly after the peak
			lowIdx := st.peakIdx + 1
			for j := st.peakIdx + 2; j <= i; j++ {
				if series[j].Low < series[lowIdx].Low {
					lowIdx = j
				}
			}
			st = waveState{
				wsPrice:       series[lowIdx].Low,
				wsTime:        series[lowIdx].OpenTime,
				peakPrice:     c.High,
				peakTime:      c.OpenTime,
				peakIdx:       i,
				waveLowestLow: series[lowIdx].Low,
			}
		}
	}

	if inWave && st.peakPrice > st.wsPrice {
		emit(st.noNewHigh < params.NoNewHighCandles)
	}

	return waves
}

// assembleUptrend ranks the waves, computes the summary and buckets by the
// shared adaptive-step scheme
func assembleUptrend(waves []models.Wave) *models.UptrendResult {
	result := &models.UptrendResult{
		Distribution:    []models.WaveBucket{},
		AllCoinsRanking: []models.Wave{},
	}
	if len(waves) == 0 {
		return result
	}

	sort.Slice(waves, func(i, j int) bool { return waves[i].Pct > waves[j].Pct })

	var sum float64
	for _, w := range waves {
		sum += w.Pct
		if w.Ongoing {
			result.OngoingCount++
		}
	}
	result.TotalCoins = len(waves)
	result.AvgUptrend = sum / float64(len(waves))
	result.MaxUptrend = waves[0].Pct
	result.AllCoinsRanking = waves

	minPct, maxPct := waves[len(waves)-1].Pct, waves[0].Pct
	step := adaptiveStep(maxPct - minPct)

	grouped := make(map[float64][]models.Wave)
	for _, w := range waves {
		lo := bucketFloor(w.Pct, step)
		grouped[lo] = append(grouped[lo], w)
	}

	los := make([]float64, 0, len(grouped))
	for lo := range grouped {
		los = append(los, lo)
	}
	sort.Float64s(los)

	for _, lo := range los {
		members := grouped[lo]
		bucket := models.WaveBucket{
			Range: bucketLabel(lo, step),
			Count: len(members),
			Waves: members,
		}
		for _, w := range members {
			if w.Ongoing {
				bucket.OngoingCount++
			}
		}
		result.Distribution = append(result.Distribution, bucket)
	}
	return result
}
