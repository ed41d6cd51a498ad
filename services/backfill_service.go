package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"breadth-backend/config"
	"breadth-backend/internal/timeutil"
	"breadth-backend/models"

	"github.com/google/uuid"
)

// backfillPageLimit is the kline page size used while walking history
const backfillPageLimit = 500

// BackfillService fills the candle and index tables up to the latest
// closed bucket on startup, in two phases: the main fill against a
// snapshot of the clock, then a catch-up of buckets that closed while
// phase one was running. It also repairs per-symbol gaps on demand.
type BackfillService struct {
	candles  CandleStore
	indexes  IndexStore
	registry *BasePriceRegistry
	client   ExchangeClient
	cfg      *config.Config

	inProgress   atomic.Bool
	completed    atomic.Bool
	failureCount atomic.Int64

	mu    sync.RWMutex
	stats BackfillStats
}

// BackfillStats tracks the most recent backfill run
type BackfillStats struct {
	LastRunStart     time.Time `json:"last_run_start"`
	LastRunEnd       time.Time `json:"last_run_end"`
	CandlesInserted  int64     `json:"candles_inserted"`
	IndexRowsWritten int64     `json:"index_rows_written"`
	SymbolsFilled    int       `json:"symbols_filled"`
	FailureCount     int64     `json:"failure_count"`
	LastError        string    `json:"last_error,omitempty"`
}

// RepairSummary reports one gap-repair run
type RepairSummary struct {
	JobID           string    `json:"job_id"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	SymbolsScanned  int       `json:"symbols_scanned"`
	RunsRequested   int       `json:"runs_requested"`
	CandlesInserted int64     `json:"candles_inserted"`
}

// NewBackfillService creates a new backfill service
func NewBackfillService(candles CandleStore, indexes IndexStore, registry *BasePriceRegistry, client ExchangeClient, cfg *config.Config) *BackfillService {
	return &BackfillService{
		candles:  candles,
		indexes:  indexes,
		registry: registry,
		client:   client,
		cfg:      cfg,
	}
}

// InProgress reports whether a backfill run is active. The live collector
// skips its tick while this is set.
func (s *BackfillService) InProgress() bool {
	return s.inProgress.Load()
}

// Completed reports whether a backfill run has finished successfully.
// Live collection stays blocked until this is set; a failed run leaves it
// unset and requires operator action.
func (s *BackfillService) Completed() bool {
	return s.completed.Load()
}

// Stats returns a copy of the latest run statistics
func (s *BackfillService) Stats() BackfillStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := s.stats
	stats.FailureCount = s.failureCount.Load()
	return stats
}

// Run executes the two-phase historical fill. The phase-1 endpoint is
// frozen at entry; phase 2 re-reads the clock to catch buckets that closed
// while phase 1 was running.
func (s *BackfillService) Run(ctx context.Context) error {
	if !s.inProgress.CompareAndSwap(false, true) {
		return fmt.Errorf("backfill already in progress")
	}
	defer s.inProgress.Store(false)

	started := time.Now()
	s.mu.Lock()
	s.stats = BackfillStats{LastRunStart: started}
	s.mu.Unlock()

	phase1End := timeutil.LatestClosedBucket(started)

	phase1Start, ok, err := s.phase1Start(ctx, phase1End)
	if err != nil {
		s.recordError(err)
		return err
	}

	if ok {
		log.Printf("[BackfillService] Phase 1: filling %s .. %s", phase1Start.Format(time.RFC3339), phase1End.Format(time.RFC3339))
		if err := s.fillRange(ctx, phase1Start, phase1End, true); err != nil {
			s.recordError(err)
			return err
		}
		if err := s.computeIndexRows(ctx, phase1Start, phase1End); err != nil {
			s.recordError(err)
			return err
		}
	} else {
		log.Printf("[BackfillService] Phase 1: candle table already current, nothing to fill")
	}

	phase2Start := phase1End.Add(timeutil.BucketSize)
	phase2End := timeutil.LatestClosedBucket(time.Now())
	if !phase2End.Before(phase2Start) {
		log.Printf("[BackfillService] Phase 2: catching up %s .. %s", phase2Start.Format(time.RFC3339), phase2End.Format(time.RFC3339))
		if err := s.fillRange(ctx, phase2Start, phase2End, false); err != nil {
			s.recordError(err)
			return err
		}
		if err := s.computeIndexRows(ctx, phase2Start, phase2End); err != nil {
			s.recordError(err)
			return err
		}
	}

	s.mu.Lock()
	s.stats.LastRunEnd = time.Now()
	s.mu.Unlock()
	s.completed.Store(true)

	log.Printf("[BackfillService] Completed in %v", time.Since(started))
	return nil
}

// recordError stores the failure for the status endpoint; the in-progress
// flag is cleared by Run's defer and live collection stays blocked until
// an operator intervenes.
func (s *BackfillService) recordError(err error) {
	s.mu.Lock()
	s.stats.LastError = err.Error()
	s.stats.LastRunEnd = time.Now()
	s.mu.Unlock()
	log.Printf("[BackfillService] ERROR: %v", err)
}

// phase1Start derives the phase-1 window start. An empty candle table
// means the configured number of days before the endpoint; otherwise the
// fill resumes one bucket after the newest stored candle. ok is false when
// the table is already at or past the endpoint.
func (s *BackfillService) phase1Start(ctx context.Context, phase1End time.Time) (time.Time, bool, error) {
	maxStored, err := s.candles.MaxOpenTime(ctx)
	if err != nil {
		return time.Time{}, false, err
	}
	if maxStored.IsZero() {
		return phase1End.Add(-time.Duration(s.cfg.BackfillDays) * 24 * time.Hour), true, nil
	}
	if !maxStored.Before(phase1End) {
		return time.Time{}, false, nil
	}
	return maxStored.Add(timeutil.BucketSize), true, nil
}

// fillRange fans out one worker per active symbol, gated by a counting
// semaphore of the configured concurrency. When collectBases is set, each
// worker records its first observed open price as a tentative base and the
// registry adopts the new ones after all workers finish.
func (s *BackfillService) fillRange(ctx context.Context, start, end time.Time, collectBases bool) error {
	symbols, err := s.client.GetActiveSymbols(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active symbols: %w", err)
	}
	if len(symbols) == 0 {
		return fmt.Errorf("exchange returned no active symbols")
	}

	semaphore := make(chan struct{}, s.cfg.BackfillConcurrency)
	var wg sync.WaitGroup

	var baseMu sync.Mutex
	tentativeBases := make(map[string]float64)

	var inserted atomic.Int64

	for _, symbol := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if s.client.Limited() {
				return
			}

			n, firstOpen, err := s.fillSymbol(ctx, sym, start, end)
			if err != nil {
				s.noteFailure(sym, err)
				return
			}
			inserted.Add(n)

			if collectBases && firstOpen > 0 {
				baseMu.Lock()
				tentativeBases[sym] = firstOpen
				baseMu.Unlock()
			}
		}(symbol)
	}
	wg.Wait()

	if collectBases {
		if err := s.registry.SnapshotKnown(ctx, tentativeBases); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.stats.CandlesInserted += inserted.Load()
	s.stats.SymbolsFilled = len(symbols)
	s.mu.Unlock()

	log.Printf("[BackfillService] Filled %d symbols, %d candles inserted", len(symbols), inserted.Load())
	return nil
}

// fillSymbol paginates one symbol's history, inserting each batch after
// dropping buckets already present for that symbol. Returns the inserted
// count and the first observed open price.
func (s *BackfillService) fillSymbol(ctx context.Context, symbol string, start, end time.Time) (int64, float64, error) {
	present, err := s.candles.OpenTimesForSymbol(ctx, symbol, start, end)
	if err != nil {
		return 0, 0, err
	}
	existing := make(map[int64]struct{}, len(present))
	for _, t := range present {
		existing[t.Unix()] = struct{}{}
	}

	var inserted int64
	var firstOpen float64

	err = s.client.GetKlineRangePaged(ctx, symbol, start, end, backfillPageLimit, func(batch []models.Candle) error {
		if firstOpen == 0 && len(batch) > 0 {
			firstOpen = batch[0].Open
		}

		fresh := make([]models.Candle, 0, len(batch))
		for _, c := range batch {
			if c.OpenTime.After(end) {
				continue
			}
			if _, dup := existing[c.OpenTime.Unix()]; dup {
				continue
			}
			fresh = append(fresh, c)
		}
		if len(fresh) == 0 {
			return nil
		}
		if err := s.candles.BulkInsert(ctx, fresh); err != nil {
			return err
		}
		inserted += int64(len(fresh))
		return nil
	})
	if err != nil {
		return inserted, firstOpen, err
	}
	return inserted, firstOpen, nil
}

// noteFailure counts a per-symbol failure; every tenth failure sleeps five
// seconds in the calling goroutine to let a struggling exchange recover.
// During a fill that is the failing worker alone, which keeps its
// semaphore slot while it sleeps; during gap repair it is the whole repair.
func (s *BackfillService) noteFailure(symbol string, err error) {
	count := s.failureCount.Add(1)
	log.Printf("[BackfillService] ERROR filling %s: %v (failure #%d)", symbol, err, count)

	s.mu.Lock()
	s.stats.LastError = err.Error()
	s.mu.Unlock()

	if count%10 == 0 {
		time.Sleep(5 * time.Second)
	}
}

// computeIndexRows writes an index row for every bucket in [start, end]
// that has candles but no index row yet
func (s *BackfillService) computeIndexRows(ctx context.Context, start, end time.Time) error {
	buckets, err := s.candles.DistinctOpenTimes(ctx, start, end)
	if err != nil {
		return err
	}

	existingRows, err := s.indexes.GetRange(ctx, start, end)
	if err != nil {
		return err
	}
	existing := make(map[int64]struct{}, len(existingRows))
	for _, row := range existingRows {
		existing[row.OpenTime.Unix()] = struct{}{}
	}

	bases := s.registry.Snapshot()
	var written int64

	for _, bucket := range buckets {
		if _, done := existing[bucket.Unix()]; done {
			continue
		}
		candles, err := s.candles.GetAtBucket(ctx, bucket)
		if err != nil {
			return err
		}
		row := ComputeIndexRow(bucket, candles, bases)
		if row == nil {
			continue
		}
		if err := s.indexes.Insert(ctx, row); err != nil {
			return err
		}
		written++
	}

	s.mu.Lock()
	s.stats.IndexRowsWritten += written
	s.mu.Unlock()

	log.Printf("[BackfillService] Wrote %d index rows for %s .. %s", written, start.Format(time.RFC3339), end.Format(time.RFC3339))
	return nil
}

// RepairGaps finds missing buckets per symbol over [start, end], groups
// them into contiguous runs, and refetches each run from the exchange.
func (s *BackfillService) RepairGaps(ctx context.Context, start, end time.Time) (*RepairSummary, error) {
	start = timeutil.Floor5Min(start)
	end = timeutil.Floor5Min(end)
	cutoff := timeutil.LatestClosedBucket(time.Now())
	if end.After(cutoff) {
		end = cutoff
	}
	if end.Before(start) {
		return nil, fmt.Errorf("repair range is empty after alignment")
	}

	symbols, err := s.client.GetActiveSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active symbols: %w", err)
	}

	summary := &RepairSummary{
		JobID: uuid.NewString(),
		Start: start,
		End:   end,
	}
	log.Printf("[BackfillService] Gap repair %s: %s .. %s over %d symbols", summary.JobID, start.Format(time.RFC3339), end.Format(time.RFC3339), len(symbols))

	for _, symbol := range symbols {
		if s.client.Limited() {
			break
		}

		present, err := s.candles.OpenTimesForSymbol(ctx, symbol, start, end)
		if err != nil {
			return nil, err
		}
		missing := missingBuckets(start, end, present)
		if len(missing) == 0 {
			continue
		}
		summary.SymbolsScanned++

		for _, run := range contiguousRuns(missing) {
			summary.RunsRequested++
			batch, err := s.client.GetKlineRange(ctx, symbol, run[0], run[len(run)-1], len(run))
			if err != nil {
				s.noteFailure(symbol, err)
				continue
			}
			if len(batch) == 0 {
				continue
			}
			if err := s.candles.BulkInsert(ctx, batch); err != nil {
				return nil, err
			}
			summary.CandlesInserted += int64(len(batch))
		}
	}

	log.Printf("[BackfillService] Gap repair %s done: %d candles inserted over %d runs", summary.JobID, summary.CandlesInserted, summary.RunsRequested)
	return summary, nil
}

// missingBuckets diffs the expected five-minute grid against the
// minute-truncated set of stored instants
func missingBuckets(start, end time.Time, present []time.Time) []time.Time {
	stored := make(map[int64]struct{}, len(present))
	for _, t := range present {
		stored[t.Truncate(time.Minute).Unix()] = struct{}{}
	}

	var missing []time.Time
	for _, t := range timeutil.Grid(start, end) {
		if _, ok := stored[t.Unix()]; !ok {
			missing = append(missing, t)
		}
	}
	return missing
}

// contiguousRuns groups sorted bucket instants into runs with no holes
func contiguousRuns(buckets []time.Time) [][]time.Time {
	var runs [][]time.Time
	for i := 0; i < len(buckets); {
		j := i + 1
		for j < len(buckets) && buckets[j].Sub(buckets[j-1]) == timeutil.BucketSize {
			j++
		}
		runs = append(runs, buckets[i:j])
		i = j
	}
	return runs
}
