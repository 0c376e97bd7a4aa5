package ledger

import (
	"BTCFiRisk/internal/state"
	"context"
	"sync"
	"time"
)

// CachedPosition is the last position read from the external ledger.
type CachedPosition struct {
	Account     Account
	Position    state.Position
	FetchedAt   time.Time
	BlockNumber uint64
}

// Cache stores the latest known position per account.
type Cache interface {
	Get(ctx context.Context, acct Account) (CachedPosition, bool, error)
	Put(ctx context.Context, entry CachedPosition) error
	All(ctx context.Context) ([]CachedPosition, error)
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu        sync.RWMutex
	positions map[Account]CachedPosition
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		positions: make(map[Account]CachedPosition),
	}
}

func (mc *MemoryCache) Get(_ context.Context, acct Account) (CachedPosition, bool, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	entry, ok := mc.positions[acct]
	return entry, ok, nil
}

// Put keeps the newer of the stored and incoming entry, by block then time,
// so a slow refresh cannot overwrite a fresher one.
func (mc *MemoryCache) Put(_ context.Context, entry CachedPosition) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if cur, ok := mc.positions[entry.Account]; ok && newer(cur, entry) {
		return nil
	}
	mc.positions[entry.Account] = entry
	return nil
}

func (mc *MemoryCache) All(_ context.Context) ([]CachedPosition, error) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	out := make([]CachedPosition, 0, len(mc.positions))
	for _, entry := range mc.positions {
		out = append(out, entry)
	}
	return out, nil
}

func newer(a, b CachedPosition) bool {
	if a.BlockNumber != b.BlockNumber && a.BlockNumber != 0 && b.BlockNumber != 0 {
		return a.BlockNumber > b.BlockNumber
	}
	return a.FetchedAt.After(b.FetchedAt)
}
