package ingestion

import (
	"BTCFiRisk/internal/action"
	"BTCFiRisk/internal/event"
	"BTCFiRisk/internal/ledger"
	"BTCFiRisk/internal/observability"
	"BTCFiRisk/internal/state"
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ResultTracker is the part of action.Tracker results are applied to.
type ResultTracker interface {
	Succeed(ctx context.Context, id uuid.UUID, txHash string) (action.Action, error)
	Fail(ctx context.Context, id uuid.UUID, reason, txHash string) (action.Action, error)
}

// PositionRefresher re-reads a position after the external ledger changed it.
type PositionRefresher interface {
	Refresh(ctx context.Context, acct ledger.Account) (state.Position, error)
}

// ResultProcessor drains raw execution results, moves the matching action to
// its terminal status and refreshes the account's cached position.
type ResultProcessor struct {
	in        <-chan RawEvent
	tracker   ResultTracker
	positions PositionRefresher
	dedup     *ResultDedup
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

func NewResultProcessor(in <-chan RawEvent, tracker ResultTracker, positions PositionRefresher, metrics *observability.Metrics) *ResultProcessor {
	return &ResultProcessor{
		in:        in,
		tracker:   tracker,
		positions: positions,
		dedup:     NewResultDedup(DefaultDedupCapacity),
		logger:    observability.NewLogger("results"),
		metrics:   metrics,
	}
}

// Run processes results until ctx is cancelled or the input channel closes.
func (rp *ResultProcessor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-rp.in:
			if !ok {
				return nil
			}
			rp.handle(ctx, raw)
		}
	}
}

func (rp *ResultProcessor) handle(ctx context.Context, raw RawEvent) {
	evt, err := ParseRawEvent(raw, raw.EventType)
	if err != nil {
		rp.logger.Error().Err(err).Str("subject", raw.Subject).Msg("dropping malformed result")
		terminate(raw)
		return
	}
	result, ok := evt.(*event.ActionResult)
	if !ok {
		rp.logger.Error().Str("type", evt.EventType().String()).Msg("unexpected event on result subject")
		terminate(raw)
		return
	}

	if rp.dedup.Seen(result.ActionID) {
		rp.duplicate("memory")
		ack(raw)
		return
	}

	a, err := rp.apply(ctx, result)
	switch {
	case errors.Is(err, action.ErrUnknownAction):
		// Submitted by another instance or already pruned; nothing to update.
		rp.logger.Warn().Str("action_id", result.ActionID.String()).Msg("result for unknown action")
		ack(raw)
		return
	case errors.Is(err, action.ErrInvalidTransition):
		// Redelivery of a result already applied.
		rp.logger.Debug().Str("action_id", result.ActionID.String()).Msg("duplicate result")
		rp.dedup.Mark(result.ActionID)
		rp.duplicate("tracker")
		ack(raw)
		return
	case err != nil:
		rp.logger.Error().Err(err).Str("action_id", result.ActionID.String()).Msg("apply result failed")
		nak(raw)
		return
	}

	rp.dedup.Mark(a.ID)
	if rp.metrics != nil {
		rp.metrics.ActionResults.WithLabelValues(a.Kind.String(), a.Status.String()).Inc()
	}

	if rp.positions != nil {
		if _, err := rp.positions.Refresh(ctx, a.Account); err != nil {
			rp.logger.Warn().Err(err).Str("account", a.Account.Hex()).Msg("position refresh after result failed")
		}
	}
	ack(raw)
}

func (rp *ResultProcessor) apply(ctx context.Context, r *event.ActionResult) (action.Action, error) {
	if r.Success {
		return rp.tracker.Succeed(ctx, r.ActionID, r.TxHash)
	}
	return rp.tracker.Fail(ctx, r.ActionID, r.Reason, r.TxHash)
}

func (rp *ResultProcessor) duplicate(tier string) {
	if rp.metrics != nil {
		rp.metrics.DuplicateResults.WithLabelValues(tier).Inc()
	}
}

func ack(raw RawEvent) {
	if raw.AckFunc != nil {
		raw.AckFunc()
	}
}

func nak(raw RawEvent) {
	if raw.NakFunc != nil {
		raw.NakFunc()
	}
}

func terminate(raw RawEvent) {
	if raw.TermFunc != nil {
		raw.TermFunc()
		return
	}
	ack(raw)
}
