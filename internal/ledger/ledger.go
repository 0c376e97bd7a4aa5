package ledger

import (
	"BTCFiRisk/internal/observability"
	"BTCFiRisk/internal/state"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// PositionSource reads an account's collateral and debt from the external
// ledger. A missing account reads as the zero position, not an error.
type PositionSource interface {
	FetchPosition(ctx context.Context, acct Account) (state.Position, uint64, error)
}

// Ledger holds the latest known position per account, refreshed from the
// external ledger before every risk computation.
type Ledger struct {
	source  PositionSource
	cache   Cache
	now     func() time.Time
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func New(source PositionSource, cache Cache, metrics *observability.Metrics) *Ledger {
	return &Ledger{
		source:  source,
		cache:   cache,
		now:     time.Now,
		logger:  observability.NewLogger("ledger"),
		metrics: metrics,
	}
}

// GetPosition returns the cached position for acct. It never fails: an
// unknown account, or a cache read error, maps to the zero position.
func (l *Ledger) GetPosition(ctx context.Context, acct Account) state.Position {
	entry, ok, err := l.cache.Get(ctx, acct)
	if err != nil {
		l.logger.Warn().Err(err).Str("account", acct.Hex()).Msg("position cache read failed")
	}
	if l.metrics != nil {
		if ok {
			l.metrics.CacheHits.WithLabelValues("hit").Inc()
		} else {
			l.metrics.CacheHits.WithLabelValues("miss").Inc()
		}
	}
	if !ok {
		return state.Position{}
	}
	return entry.Position
}

// Refresh pulls acct's position from the external ledger and caches it.
// The cache is never used as a fallback when the source fails.
func (l *Ledger) Refresh(ctx context.Context, acct Account) (state.Position, error) {
	start := time.Now()
	pos, block, err := l.source.FetchPosition(ctx, acct)
	if l.metrics != nil {
		l.metrics.RefreshDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return state.Position{}, fmt.Errorf("refresh position %s: %w", acct.Hex(), err)
	}

	entry := CachedPosition{
		Account:     acct,
		Position:    pos,
		FetchedAt:   l.now(),
		BlockNumber: block,
	}
	if err := l.cache.Put(ctx, entry); err != nil {
		l.logger.Warn().Err(err).Str("account", acct.Hex()).Msg("position cache write failed")
	}

	l.logger.Debug().
		Str("account", acct.Hex()).
		Str("position", pos.String()).
		Uint64("block", block).
		Msg("position refreshed")

	return pos, nil
}
