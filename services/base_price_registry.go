package services

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// BasePriceRegistry owns the per-symbol reference prices. It is the only
// component allowed to mutate base prices, in memory and in the store. A
// base is set once at first observation and survives until the symbol
// drops out of the exchange's active list.
type BasePriceRegistry struct {
	store BasePriceStore

	mu     sync.RWMutex
	prices map[string]float64
}

// NewBasePriceRegistry creates an empty registry backed by the given store
func NewBasePriceRegistry(store BasePriceStore) *BasePriceRegistry {
	return &BasePriceRegistry{
		store:  store,
		prices: make(map[string]float64),
	}
}

// Load populates the in-memory map from the durable store
func (r *BasePriceRegistry) Load(ctx context.Context) error {
	stored, err := r.store.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load base prices: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.prices = make(map[string]float64, len(stored))
	for _, bp := range stored {
		r.prices[bp.Symbol] = bp.Price
	}
	log.Printf("[BasePriceRegistry] Loaded %d base prices", len(r.prices))
	return nil
}

// Get returns the base price for a symbol, if one is set
func (r *BasePriceRegistry) Get(symbol string) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	price, ok := r.prices[symbol]
	return price, ok
}

// Snapshot returns a copy of the full symbol → base map
func (r *BasePriceRegistry) Snapshot() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]float64, len(r.prices))
	for sym, p := range r.prices {
		out[sym] = p
	}
	return out
}

// Count returns the number of symbols holding a base
func (r *BasePriceRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.prices)
}

// AdoptIfMissing sets the base for a symbol that has none. The adoption is
// atomic across memory and store; an existing base is never replaced.
func (r *BasePriceRegistry) AdoptIfMissing(ctx context.Context, symbol string, price float64) (bool, error) {
	if price <= 0 {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.prices[symbol]; exists {
		return false, nil
	}
	if err := r.store.Upsert(ctx, symbol, price); err != nil {
		return false, err
	}
	r.prices[symbol] = price
	log.Printf("[BasePriceRegistry] Adopted base price for %s: %v", symbol, price)
	return true, nil
}

// SnapshotKnown merges candidate bases gathered by backfill: any symbol
// already holding a base is skipped, the rest adopt their candidate price.
func (r *BasePriceRegistry) SnapshotKnown(ctx context.Context, candidates map[string]float64) error {
	adopted := 0
	for symbol, price := range candidates {
		ok, err := r.AdoptIfMissing(ctx, symbol, price)
		if err != nil {
			return fmt.Errorf("failed to adopt base for %s: %w", symbol, err)
		}
		if ok {
			adopted++
		}
	}
	if adopted > 0 {
		log.Printf("[BasePriceRegistry] Adopted %d new base prices from backfill", adopted)
	}
	return nil
}

// Revoke removes one symbol's base from memory and store. Used by the
// admin purge; delisting goes through ReconcileWithActive.
func (r *BasePriceRegistry) Revoke(ctx context.Context, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Delete(ctx, symbol); err != nil {
		return fmt.Errorf("failed to revoke base for %s: %w", symbol, err)
	}
	delete(r.prices, symbol)
	return nil
}

// ReconcileWithActive revokes the base of every symbol no longer in the
// exchange's active set. Candle history is untouched; a re-listed symbol
// re-initializes at its then-current close.
func (r *BasePriceRegistry) ReconcileWithActive(ctx context.Context, active []string) error {
	activeSet := make(map[string]struct{}, len(active))
	for _, sym := range active {
		activeSet[sym] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for symbol := range r.prices {
		if _, ok := activeSet[symbol]; ok {
			continue
		}
		if err := r.store.Delete(ctx, symbol); err != nil {
			return fmt.Errorf("failed to revoke base for %s: %w", symbol, err)
		}
		delete(r.prices, symbol)
		log.Printf("[BasePriceRegistry] Revoked base price for delisted symbol %s", symbol)
	}
	return nil
}
