package ledger

import (
	"BTCFiRisk/internal/state"
	"context"

	"github.com/holiman/uint256"
)

// ProtocolStats aggregates every cached position.
type ProtocolStats struct {
	TotalCollateral uint256.Int // Collateral scale
	TotalDebt       uint256.Int // Debt scale
	ActivePositions int         // Positions holding collateral or debt

	// TVL is the total collateral valued at the quote, in debt units.
	// Zero when no quote was supplied.
	TVL uint256.Int
}

// Stats sums the cached positions. Sums saturate rather than wrap.
func (l *Ledger) Stats(ctx context.Context, q *state.PriceQuote) (ProtocolStats, error) {
	entries, err := l.cache.All(ctx)
	if err != nil {
		return ProtocolStats{}, err
	}

	var stats ProtocolStats
	for _, e := range entries {
		if e.Position.IsZero() {
			continue
		}
		stats.ActivePositions++
		saturatingAdd(&stats.TotalCollateral, &e.Position.Collateral)
		saturatingAdd(&stats.TotalDebt, &e.Position.Debt)
	}

	if q != nil && q.Valid() {
		stats.TVL = state.CollateralValue(state.Position{Collateral: stats.TotalCollateral}, *q)
	}
	return stats, nil
}

func saturatingAdd(sum, x *uint256.Int) {
	if _, overflow := sum.AddOverflow(sum, x); overflow {
		sum.SetAllOne()
	}
}
