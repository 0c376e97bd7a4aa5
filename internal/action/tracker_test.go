package action_test

import (
	"BTCFiRisk/internal/action"
	"BTCFiRisk/internal/ledger"
	"BTCFiRisk/internal/state"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var alice = ledger.Account{0xaa}

// memStore records calls for assertions.
type memStore struct {
	mu          sync.Mutex
	inserted    []action.Action
	transitions []action.Status
	failNext    error

	// racer, when set, is written just before the next Insert under the same
	// idempotency key, as a concurrent request would.
	racer *action.Action
}

func (m *memStore) Insert(_ context.Context, a action.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	if m.racer != nil && m.racer.IdempotencyKey == a.IdempotencyKey {
		m.inserted = append(m.inserted, *m.racer)
		m.racer = nil
		return fmt.Errorf("insert action %s: %w", a.ID, action.ErrDuplicateRequest)
	}
	m.inserted = append(m.inserted, a)
	return nil
}

func (m *memStore) RecordTransition(_ context.Context, a action.Action, _ action.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, a.Status)
	for i := range m.inserted {
		if m.inserted[i].ID == a.ID {
			m.inserted[i] = a
		}
	}
	return nil
}

func (m *memStore) FindByIdempotencyKey(_ context.Context, key string) (action.Action, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.inserted {
		if a.IdempotencyKey == key {
			return a, true, nil
		}
	}
	return action.Action{}, false, nil
}

func (m *memStore) Get(_ context.Context, id uuid.UUID) (action.Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.inserted {
		if a.ID == id {
			return a, nil
		}
	}
	return action.Action{}, action.ErrUnknownAction
}

// ============================================================================
// Test: Status transitions
// ============================================================================

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to action.Status
		want     bool
	}{
		{action.StatusNotStarted, action.StatusInFlight, true},
		{action.StatusNotStarted, action.StatusFailed, true},
		{action.StatusNotStarted, action.StatusSucceeded, false},
		{action.StatusInFlight, action.StatusSucceeded, true},
		{action.StatusInFlight, action.StatusFailed, true},
		{action.StatusInFlight, action.StatusNotStarted, false},
		{action.StatusSucceeded, action.StatusFailed, false},
		{action.StatusFailed, action.StatusInFlight, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s → %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range []action.Status{action.StatusNotStarted, action.StatusInFlight, action.StatusSucceeded, action.StatusFailed} {
		got, ok := action.ParseStatus(s.String())
		if !ok || got != s {
			t.Errorf("ParseStatus(%q) = %v, %v", s.String(), got, ok)
		}
	}
	if _, ok := action.ParseStatus("Pending"); ok {
		t.Error("unknown status should not parse")
	}
}

// ============================================================================
// Test: Tracker lifecycle
// ============================================================================

func TestTracker_HappyPath(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	tr := action.NewTracker(store, nil)

	a, err := tr.Create(ctx, alice, state.ActionBorrow, *uint256.NewInt(500), "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if a.Status != action.StatusNotStarted {
		t.Errorf("status: got %s, want NotStarted", a.Status)
	}

	if _, err := tr.Start(ctx, a.ID); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if got := tr.Active(alice); len(got) != 1 {
		t.Errorf("active: got %d, want 1", len(got))
	}

	done, err := tr.Succeed(ctx, a.ID, "0xabc")
	if err != nil {
		t.Fatalf("Succeed failed: %v", err)
	}
	if done.Status != action.StatusSucceeded || done.TxHash != "0xabc" {
		t.Errorf("got %s/%s", done.Status, done.TxHash)
	}
	if got := tr.Active(alice); len(got) != 0 {
		t.Errorf("active after success: got %d, want 0", len(got))
	}

	if len(store.inserted) != 1 {
		t.Errorf("inserted: got %d, want 1", len(store.inserted))
	}
	if len(store.transitions) != 2 {
		t.Errorf("transitions: got %d, want 2", len(store.transitions))
	}
}

func TestTracker_FailCarriesReason(t *testing.T) {
	ctx := context.Background()
	tr := action.NewTracker(nil, nil)

	a, _ := tr.Create(ctx, alice, state.ActionWithdraw, *uint256.NewInt(1), "")
	failed, err := tr.Fail(ctx, a.ID, "publish failed", "")
	if err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if failed.FailureReason != "publish failed" {
		t.Errorf("reason: got %q", failed.FailureReason)
	}

	got, err := tr.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != action.StatusFailed {
		t.Errorf("status: got %s, want Failed", got.Status)
	}
}

func TestTracker_RejectsInvalidTransition(t *testing.T) {
	ctx := context.Background()
	tr := action.NewTracker(nil, nil)

	a, _ := tr.Create(ctx, alice, state.ActionRepay, *uint256.NewInt(1), "")
	if _, err := tr.Succeed(ctx, a.ID, ""); !errors.Is(err, action.ErrInvalidTransition) {
		t.Errorf("NotStarted → Succeeded: got %v, want ErrInvalidTransition", err)
	}

	tr.Start(ctx, a.ID)
	tr.Succeed(ctx, a.ID, "")
	if _, err := tr.Fail(ctx, a.ID, "late", ""); !errors.Is(err, action.ErrInvalidTransition) {
		t.Errorf("terminal → Failed: got %v, want ErrInvalidTransition", err)
	}
}

func TestTracker_UnknownAction(t *testing.T) {
	tr := action.NewTracker(nil, nil)
	if _, err := tr.Start(context.Background(), uuid.New()); !errors.Is(err, action.ErrUnknownAction) {
		t.Errorf("got %v, want ErrUnknownAction", err)
	}
	if _, err := tr.Get(context.Background(), uuid.New()); !errors.Is(err, action.ErrUnknownAction) {
		t.Errorf("got %v, want ErrUnknownAction", err)
	}
}

func TestTracker_CreateFailsWhenStoreFails(t *testing.T) {
	store := &memStore{failNext: errors.New("db down")}
	tr := action.NewTracker(store, nil)

	if _, err := tr.Create(context.Background(), alice, state.ActionDeposit, *uint256.NewInt(1), ""); err == nil {
		t.Fatal("expected error when the store rejects the insert")
	}
	if got := tr.Active(alice); len(got) != 0 {
		t.Errorf("unpersisted action must not be tracked, got %d", len(got))
	}
}

func TestTracker_GetFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	tr := action.NewTracker(store, nil)

	a, _ := tr.Create(ctx, alice, state.ActionDeposit, *uint256.NewInt(1), "")
	tr.Start(ctx, a.ID)
	tr.Fail(ctx, a.ID, "reverted", "")
	if removed := tr.CleanupTerminal(time.Now().Add(time.Minute)); removed != 1 {
		t.Fatalf("cleanup removed %d, want 1", removed)
	}

	got, err := tr.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("Get after cleanup should hit the store: %v", err)
	}
	if got.ID != a.ID {
		t.Errorf("id: got %s, want %s", got.ID, a.ID)
	}
}

func TestTracker_IdempotencyKey(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	tr := action.NewTracker(store, nil)

	first, err := tr.Create(ctx, alice, state.ActionBorrow, *uint256.NewInt(10), "req-1")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	again, err := tr.Create(ctx, alice, state.ActionBorrow, *uint256.NewInt(10), "req-1")
	if !errors.Is(err, action.ErrDuplicateRequest) {
		t.Fatalf("got %v, want ErrDuplicateRequest", err)
	}
	if again.ID != first.ID {
		t.Errorf("duplicate should return the original action")
	}
	if len(store.inserted) != 1 {
		t.Errorf("inserted: got %d, want 1", len(store.inserted))
	}

	// A fresh tracker over the same store still sees the key.
	restarted := action.NewTracker(store, nil)
	if _, err := restarted.Create(ctx, alice, state.ActionBorrow, *uint256.NewInt(10), "req-1"); !errors.Is(err, action.ErrDuplicateRequest) {
		t.Errorf("after restart: got %v, want ErrDuplicateRequest", err)
	}
}

func TestTracker_IdempotencyKeyRacedInsert(t *testing.T) {
	ctx := context.Background()
	winner := action.Action{
		ID:             uuid.New(),
		Account:        alice,
		Kind:           state.ActionBorrow,
		Amount:         *uint256.NewInt(10),
		Status:         action.StatusInFlight,
		IdempotencyKey: "req-race",
	}
	store := &memStore{racer: &winner}
	tr := action.NewTracker(store, nil)

	got, err := tr.Create(ctx, alice, state.ActionBorrow, *uint256.NewInt(10), "req-race")
	if !errors.Is(err, action.ErrDuplicateRequest) {
		t.Fatalf("got %v, want ErrDuplicateRequest", err)
	}
	if got.ID != winner.ID {
		t.Errorf("id: got %s, want the concurrent winner %s", got.ID, winner.ID)
	}
}

// ============================================================================
// Test: Restart recovery
// ============================================================================

func TestTracker_TransitionAdoptsStoredAction(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}

	before := action.NewTracker(store, nil)
	a, err := before.Create(ctx, alice, state.ActionRepay, *uint256.NewInt(7), "req-restart")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := before.Start(ctx, a.ID); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	after := action.NewTracker(store, nil)
	done, err := after.Succeed(ctx, a.ID, "0xabc")
	if err != nil {
		t.Fatalf("Succeed after restart: %v", err)
	}
	if done.Status != action.StatusSucceeded {
		t.Errorf("status: got %s, want Succeeded", done.Status)
	}

	stored, _ := store.Get(ctx, a.ID)
	if stored.Status != action.StatusSucceeded || stored.TxHash != "0xabc" {
		t.Errorf("stored: got %s/%s, want Succeeded/0xabc", stored.Status, stored.TxHash)
	}

	// The second delivery is now a duplicate, not an unknown action.
	if _, err := after.Succeed(ctx, a.ID, "0xabc"); !errors.Is(err, action.ErrInvalidTransition) {
		t.Errorf("redelivery: got %v, want ErrInvalidTransition", err)
	}
}

func TestTracker_TransitionUnknownInStore(t *testing.T) {
	tr := action.NewTracker(&memStore{}, nil)
	if _, err := tr.Succeed(context.Background(), uuid.New(), ""); !errors.Is(err, action.ErrUnknownAction) {
		t.Errorf("got %v, want ErrUnknownAction", err)
	}
}
