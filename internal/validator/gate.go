package validator

import (
	"BTCFiRisk/internal/ledger"
	"BTCFiRisk/internal/observability"
	"BTCFiRisk/internal/oracle"
	"BTCFiRisk/internal/state"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// PositionRefresher is satisfied by *ledger.Ledger.
type PositionRefresher interface {
	Refresh(ctx context.Context, acct ledger.Account) (state.Position, error)
}

// QuoteFetcher is satisfied by *oracle.Adapter.
type QuoteFetcher interface {
	FetchQuote(ctx context.Context) (state.PriceQuote, error)
}

// Assessment is the freshly computed risk view of one account.
type Assessment struct {
	Account  ledger.Account
	Position state.Position
	Quote    state.PriceQuote
	Snapshot state.RiskSnapshot
	Drift    *DriftReport // nil when drift detection is off or failed
}

// Decision is the outcome of gating one intent.
type Decision struct {
	Account ledger.Account
	Action  state.ActionKind
	Amount  uint256.Int

	Accepted bool
	Kind     state.ErrorKind // KindUnknown when accepted
	Reason   string

	Position state.Position
	Quote    state.PriceQuote

	// Before and After are nil when no usable quote was available.
	// After is also nil when the intent was rejected.
	Before *state.RiskSnapshot
	After  *state.RiskSnapshot
}

// Err returns the rejection as a ValidationError, or nil when accepted.
func (d Decision) Err() error {
	if d.Accepted {
		return nil
	}
	return &state.ValidationError{Kind: d.Kind, Msg: d.Reason}
}

// Gate is the single entry point every state-changing intent passes through.
// Each call refreshes the position and fetches a new quote; nothing is reused
// between calls.
type Gate struct {
	positions   PositionRefresher
	quotes      QuoteFetcher
	calc        *state.RiskCalculator
	maxQuoteAge time.Duration
	drift       *DriftDetector
	now         func() time.Time
	logger      zerolog.Logger
	metrics     *observability.Metrics
}

func NewGate(
	positions PositionRefresher,
	quotes QuoteFetcher,
	calc *state.RiskCalculator,
	maxQuoteAge time.Duration,
	metrics *observability.Metrics,
) *Gate {
	return &Gate{
		positions:   positions,
		quotes:      quotes,
		calc:        calc,
		maxQuoteAge: maxQuoteAge,
		now:         time.Now,
		logger:      observability.NewLogger("validator"),
		metrics:     metrics,
	}
}

// WithDriftDetector enables contract health-factor comparison in Assess.
func (g *Gate) WithDriftDetector(d *DriftDetector) *Gate {
	g.drift = d
	return g
}

// WithClock overrides the clock used for staleness checks.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

func (g *Gate) Params() state.RiskParams {
	return g.calc.Params()
}

// freshQuote fetches a quote and applies the staleness policy. A stale quote
// is reported as OracleUnavailable.
func (g *Gate) freshQuote(ctx context.Context) (state.PriceQuote, error) {
	q, err := g.quotes.FetchQuote(ctx)
	if err != nil {
		return state.PriceQuote{}, err
	}
	now := g.now()
	if g.metrics != nil {
		g.metrics.QuoteAge.Set(q.Age(now).Seconds())
	}
	if oracle.IsStale(q, g.maxQuoteAge, now) {
		return state.PriceQuote{}, state.Errorf(state.KindOracleUnavailable,
			"quote from %s is %s old (max %s)", q.Source, q.Age(now).Truncate(time.Second), g.maxQuoteAge)
	}
	return q, nil
}

// Quote returns a fresh quote under the staleness policy.
func (g *Gate) Quote(ctx context.Context) (state.PriceQuote, error) {
	return g.freshQuote(ctx)
}

// Assess refreshes acct and returns its current risk snapshot. Without a
// usable quote it fails with OracleUnavailable.
func (g *Gate) Assess(ctx context.Context, acct ledger.Account) (Assessment, error) {
	pos, err := g.positions.Refresh(ctx, acct)
	if err != nil {
		return Assessment{}, err
	}
	q, err := g.freshQuote(ctx)
	if err != nil {
		return Assessment{}, err
	}
	snap, err := g.calc.Snapshot(pos, q)
	if err != nil {
		return Assessment{}, err
	}

	a := Assessment{Account: acct, Position: pos, Quote: q, Snapshot: snap}
	if g.drift != nil {
		report, err := g.drift.Check(ctx, acct, snap.HealthFactor)
		if err != nil {
			g.logger.Warn().Err(err).Str("account", acct.Hex()).Msg("drift check failed")
		} else {
			a.Drift = &report
		}
	}
	return a, nil
}

// Check gates one intent. The returned error is non-nil only when the
// position itself could not be read; every validation outcome, including
// OracleUnavailable, is reported in the Decision.
func (g *Gate) Check(ctx context.Context, acct ledger.Account, kind state.ActionKind, amount uint256.Int) (Decision, error) {
	start := time.Now()

	pos, err := g.positions.Refresh(ctx, acct)
	if err != nil {
		g.observe(kind, "position_unavailable", start)
		return Decision{}, fmt.Errorf("gate %s: %w", kind, err)
	}

	d := Decision{Account: acct, Action: kind, Amount: amount, Position: pos}

	q, quoteErr := g.freshQuote(ctx)
	if quoteErr == nil {
		d.Quote = q
		if before, err := g.calc.Snapshot(pos, q); err == nil {
			d.Before = &before
		}
	}

	verr := Validate(kind, pos, q, g.calc.Params().Threshold, amount)
	if verr != nil {
		d.Kind = state.KindOf(verr)
		d.Reason = verr.Error()
		if d.Kind == state.KindOracleUnavailable && quoteErr != nil {
			d.Reason = quoteErr.Error()
		}
		g.logger.Info().
			Str("account", acct.Hex()).
			Str("action", kind.String()).
			Str("amount", amount.Dec()).
			Str("kind", d.Kind.String()).
			Msg("intent rejected")
		g.observe(kind, d.Kind.String(), start)
		return d, nil
	}

	d.Accepted = true
	if d.Before != nil {
		if next, err := state.ApplyAction(kind, pos, amount); err == nil {
			if after, err := g.calc.Snapshot(next, q); err == nil {
				d.After = &after
			}
		}
	}
	g.observe(kind, "accepted", start)
	return d, nil
}

func (g *Gate) observe(kind state.ActionKind, outcome string, start time.Time) {
	if g.metrics == nil {
		return
	}
	g.metrics.Validations.WithLabelValues(kind.String(), outcome).Inc()
	g.metrics.ValidationDuration.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())
}

// IsRejection reports whether err is a validation outcome rather than an
// infrastructure failure.
func IsRejection(err error) bool {
	var ve *state.ValidationError
	return errors.As(err, &ve)
}
