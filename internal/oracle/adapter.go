package oracle

import (
	fp "BTCFiRisk/internal/math"
	"BTCFiRisk/internal/observability"
	"BTCFiRisk/internal/state"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// ErrNoData is returned by a PriceSource that has no reading to offer.
var ErrNoData = errors.New("price source returned no data")

// RawPrice is one upstream reading before normalization. Decimals is the
// source's own scale (8 for the lending contract, 13 in older deployments).
type RawPrice struct {
	Value       uint256.Int
	Decimals    int
	BlockNumber uint64
	ObservedAt  time.Time
}

// PriceSource is the external feed the adapter wraps.
type PriceSource interface {
	LatestPrice(ctx context.Context) (RawPrice, error)
	Name() string
}

// Adapter turns raw readings into PriceQuotes at the canonical 1e8 scale.
// Every failure surfaces as OracleUnavailable; there is no fallback price.
type Adapter struct {
	source  PriceSource
	timeout time.Duration
	now     func() time.Time
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewAdapter(source PriceSource, timeout time.Duration, metrics *observability.Metrics) *Adapter {
	return &Adapter{
		source:  source,
		timeout: timeout,
		now:     time.Now,
		logger:  observability.NewLogger("oracle"),
		metrics: metrics,
	}
}

// WithClock overrides the wall clock used to stamp quotes.
func (a *Adapter) WithClock(now func() time.Time) *Adapter {
	a.now = now
	return a
}

// FetchQuote reads the source under the adapter's deadline and normalizes it.
func (a *Adapter) FetchQuote(ctx context.Context) (state.PriceQuote, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := a.source.LatestPrice(ctx)
	if a.metrics != nil {
		a.metrics.OracleFetchDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		reason := "error"
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			reason = "timeout"
		case errors.Is(err, ErrNoData):
			reason = "no_data"
		}
		return state.PriceQuote{}, a.unavailable(reason, err, "fetch price from "+a.source.Name())
	}

	price, err := Normalize(raw)
	if err != nil {
		return state.PriceQuote{}, a.unavailable("invalid", err, "normalize price from "+a.source.Name())
	}

	asOf := raw.ObservedAt
	if asOf.IsZero() {
		asOf = a.now()
	}

	q := state.PriceQuote{
		Price:       price,
		AsOf:        asOf,
		BlockNumber: raw.BlockNumber,
		Source:      a.source.Name(),
	}
	if a.metrics != nil {
		a.metrics.QuotePrice.Set(fp.ToDecimal(&q.Price, fp.PriceConfig).InexactFloat64())
	}
	return q, nil
}

func (a *Adapter) unavailable(reason string, err error, msg string) error {
	if a.metrics != nil {
		a.metrics.OracleFailures.WithLabelValues(reason).Inc()
	}
	a.logger.Warn().Err(err).Str("reason", reason).Msg("price quote unavailable")
	return state.Wrap(state.KindOracleUnavailable, err, msg)
}

// Normalize rescales a raw reading to the 1e8 price scale, rounding down.
// A reading that rounds to zero is rejected rather than passed on.
func Normalize(raw RawPrice) (uint256.Int, error) {
	if raw.Decimals < 0 || raw.Decimals > 77 {
		return uint256.Int{}, fmt.Errorf("unsupported price decimals %d", raw.Decimals)
	}
	if raw.Value.IsZero() {
		return uint256.Int{}, ErrNoData
	}
	price, overflow := fp.Rescale(&raw.Value, raw.Decimals, fp.PriceConfig.DecimalPrecision, fp.RoundDown)
	if overflow {
		return uint256.Int{}, fmt.Errorf("price overflows at %d decimals", fp.PriceConfig.DecimalPrecision)
	}
	if price.IsZero() {
		return uint256.Int{}, fmt.Errorf("price %s at %d decimals is below one unit", raw.Value.Dec(), raw.Decimals)
	}
	return price, nil
}

// IsStale reports whether q is older than maxAge at now. A quote without a
// timestamp is always stale; maxAge <= 0 disables the check.
func IsStale(q state.PriceQuote, maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 {
		return false
	}
	if q.AsOf.IsZero() {
		return true
	}
	return q.Age(now) > maxAge
}
