package action

import (
	"BTCFiRisk/internal/ledger"
	"BTCFiRisk/internal/observability"
	"BTCFiRisk/internal/state"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownAction     = errors.New("unknown action")
	ErrInvalidTransition = errors.New("invalid action transition")
	ErrDuplicateRequest  = errors.New("duplicate action request")
)

// Store persists actions and their transitions. Optional.
type Store interface {
	Insert(ctx context.Context, a Action) error
	RecordTransition(ctx context.Context, a Action, from Status) error
	Get(ctx context.Context, id uuid.UUID) (Action, error)

	// FindByIdempotencyKey reports the action previously created under key.
	FindByIdempotencyKey(ctx context.Context, key string) (Action, bool, error)
}

// Tracker owns the in-memory lifecycle of every submitted action and writes
// each change through to the Store when one is configured.
type Tracker struct {
	mu      sync.RWMutex
	actions map[uuid.UUID]*Action
	byKey   map[string]uuid.UUID

	store   Store
	now     func() time.Time
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewTracker(store Store, metrics *observability.Metrics) *Tracker {
	return &Tracker{
		actions: make(map[uuid.UUID]*Action),
		byKey:   make(map[string]uuid.UUID),
		store:   store,
		now:     time.Now,
		logger:  observability.NewLogger("action"),
		metrics: metrics,
	}
}

// Create registers a NotStarted action. A non-empty idempotencyKey that was
// already used returns the earlier action together with ErrDuplicateRequest.
func (t *Tracker) Create(ctx context.Context, acct ledger.Account, kind state.ActionKind, amount uint256.Int, idempotencyKey string) (Action, error) {
	if idempotencyKey != "" {
		prior, ok, err := t.lookupKey(ctx, idempotencyKey)
		if err != nil {
			return Action{}, err
		}
		if ok {
			return prior, ErrDuplicateRequest
		}
	}

	now := t.now()
	a := &Action{
		ID:             uuid.New(),
		Account:        acct,
		Kind:           kind,
		Amount:         amount,
		Status:         StatusNotStarted,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if t.store != nil {
		if err := t.store.Insert(ctx, *a); err != nil {
			if errors.Is(err, ErrDuplicateRequest) && idempotencyKey != "" {
				// Another request claimed the key between lookup and insert.
				return t.claimedKey(ctx, idempotencyKey)
			}
			t.persistFailed("insert", err)
			return Action{}, fmt.Errorf("persist action: %w", err)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if idempotencyKey != "" {
		if id, ok := t.byKey[idempotencyKey]; ok {
			return *t.actions[id], ErrDuplicateRequest
		}
		t.byKey[idempotencyKey] = a.ID
	}
	t.actions[a.ID] = a
	return *a, nil
}

func (t *Tracker) lookupKey(ctx context.Context, key string) (Action, bool, error) {
	t.mu.RLock()
	id, ok := t.byKey[key]
	var prior Action
	if ok {
		prior = *t.actions[id]
	}
	t.mu.RUnlock()
	if ok {
		return prior, true, nil
	}

	if t.store == nil {
		return Action{}, false, nil
	}
	prior, ok, err := t.store.FindByIdempotencyKey(ctx, key)
	if err != nil {
		return Action{}, false, fmt.Errorf("lookup idempotency key: %w", err)
	}
	return prior, ok, nil
}

func (t *Tracker) claimedKey(ctx context.Context, key string) (Action, error) {
	prior, ok, err := t.store.FindByIdempotencyKey(ctx, key)
	if err != nil {
		return Action{}, fmt.Errorf("lookup idempotency key: %w", err)
	}
	if !ok {
		return Action{}, fmt.Errorf("idempotency key %q claimed but not found", key)
	}
	return prior, ErrDuplicateRequest
}

// Start marks an action InFlight once its intent has been published.
func (t *Tracker) Start(ctx context.Context, id uuid.UUID) (Action, error) {
	return t.transition(ctx, id, StatusInFlight, func(*Action) {})
}

// Succeed records a successful execution result.
func (t *Tracker) Succeed(ctx context.Context, id uuid.UUID, txHash string) (Action, error) {
	return t.transition(ctx, id, StatusSucceeded, func(a *Action) {
		a.TxHash = txHash
	})
}

// Fail records a failure with the reason the caller should render.
func (t *Tracker) Fail(ctx context.Context, id uuid.UUID, reason, txHash string) (Action, error) {
	return t.transition(ctx, id, StatusFailed, func(a *Action) {
		a.FailureReason = reason
		a.TxHash = txHash
	})
}

func (t *Tracker) transition(ctx context.Context, id uuid.UUID, next Status, mutate func(*Action)) (Action, error) {
	if err := t.adopt(ctx, id); err != nil {
		return Action{}, err
	}

	t.mu.Lock()
	a, ok := t.actions[id]
	if !ok {
		t.mu.Unlock()
		return Action{}, fmt.Errorf("%w: %s", ErrUnknownAction, id)
	}
	if !a.Status.CanTransitionTo(next) {
		from := a.Status
		t.mu.Unlock()
		return Action{}, fmt.Errorf("%w: %s → %s for %s", ErrInvalidTransition, from, next, id)
	}

	from := a.Status
	a.Status = next
	a.UpdatedAt = t.now()
	mutate(a)
	snapshot := *a
	t.mu.Unlock()

	t.updateGauge(from, next)

	if t.store != nil {
		if err := t.store.RecordTransition(ctx, snapshot, from); err != nil {
			// The in-memory lifecycle stays authoritative for this process.
			t.persistFailed("transition", err)
		}
	}

	t.logger.Info().
		Str("action_id", id.String()).
		Str("account", snapshot.Account.Hex()).
		Str("kind", snapshot.Kind.String()).
		Str("from", from.String()).
		Str("to", next.String()).
		Str("reason", snapshot.FailureReason).
		Msg("action transition")

	return snapshot, nil
}

// adopt loads an action this process does not hold (created before a
// restart or by another instance) from the Store so its lifecycle can
// continue here.
func (t *Tracker) adopt(ctx context.Context, id uuid.UUID) error {
	t.mu.RLock()
	_, ok := t.actions[id]
	t.mu.RUnlock()
	if ok || t.store == nil {
		return nil
	}

	stored, err := t.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUnknownAction) {
			return err
		}
		return fmt.Errorf("load action %s: %w", id, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.actions[id]; ok {
		return nil
	}
	t.actions[id] = &stored
	if stored.IdempotencyKey != "" {
		t.byKey[stored.IdempotencyKey] = id
	}
	if stored.Status == StatusInFlight && t.metrics != nil {
		t.metrics.ActionsInFlight.Inc()
	}
	t.logger.Info().
		Str("action_id", id.String()).
		Str("status", stored.Status.String()).
		Msg("adopted stored action")
	return nil
}

// Get returns an action by id, falling back to the Store for actions this
// process no longer (or never) held in memory.
func (t *Tracker) Get(ctx context.Context, id uuid.UUID) (Action, error) {
	t.mu.RLock()
	a, ok := t.actions[id]
	var snapshot Action
	if ok {
		snapshot = *a
	}
	t.mu.RUnlock()
	if ok {
		return snapshot, nil
	}

	if t.store != nil {
		return t.store.Get(ctx, id)
	}
	return Action{}, fmt.Errorf("%w: %s", ErrUnknownAction, id)
}

// Active returns the non-terminal actions of an account.
func (t *Tracker) Active(acct ledger.Account) []Action {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Action
	for _, a := range t.actions {
		if a.Account == acct && !a.IsTerminal() {
			out = append(out, *a)
		}
	}
	return out
}

// CleanupTerminal drops terminal actions last updated before cutoff.
func (t *Tracker) CleanupTerminal(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id, a := range t.actions {
		if a.IsTerminal() && a.UpdatedAt.Before(cutoff) {
			delete(t.actions, id)
			if a.IdempotencyKey != "" {
				delete(t.byKey, a.IdempotencyKey)
			}
			removed++
		}
	}
	return removed
}

func (t *Tracker) updateGauge(from, to Status) {
	if t.metrics == nil {
		return
	}
	if to == StatusInFlight {
		t.metrics.ActionsInFlight.Inc()
	}
	if from == StatusInFlight {
		t.metrics.ActionsInFlight.Dec()
	}
}

func (t *Tracker) persistFailed(op string, err error) {
	t.logger.Error().Err(err).Str("operation", op).Msg("action persistence failed")
	if t.metrics != nil {
		t.metrics.PersistErrors.WithLabelValues(op).Inc()
	}
}
