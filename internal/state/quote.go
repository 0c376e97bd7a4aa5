package state

import (
	"time"

	"github.com/holiman/uint256"
)

// PriceQuote is a read-only snapshot of the collateral price in debt-asset
// terms. Quotes are fetched fresh before every risk computation.
type PriceQuote struct {
	Price uint256.Int // Fixed-point: price scale (1e8), debt units per whole collateral unit

	// Freshness marker
	AsOf        time.Time
	BlockNumber uint64 // 0 when the source has no block context
	Source      string
}

// Valid reports whether the quote carries a usable (non-zero) price.
func (q PriceQuote) Valid() bool {
	return !q.Price.IsZero()
}

// Age returns how old the quote is relative to now.
func (q PriceQuote) Age(now time.Time) time.Duration {
	return now.Sub(q.AsOf)
}
