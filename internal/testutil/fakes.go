package testutil

import (
	"BTCFiRisk/internal/action"
	"BTCFiRisk/internal/ledger"
	"BTCFiRisk/internal/oracle"
	"BTCFiRisk/internal/state"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Units builds a uint256 amount from raw units.
func Units(v uint64) uint256.Int {
	return *uint256.NewInt(v)
}

// FakeChain is an in-memory external ledger. It serves positions, a price
// and the contract's own health factor, and counts reads so tests can assert
// that nothing was served from a stale copy.
type FakeChain struct {
	mu        sync.Mutex
	positions map[ledger.Account]state.Position
	contract  map[ledger.Account]uint256.Int
	price     oracle.RawPrice
	block     uint64

	PositionErr error
	PriceErr    error

	PositionReads int
	PriceReads    int
}

func NewFakeChain() *FakeChain {
	return &FakeChain{
		positions: make(map[ledger.Account]state.Position),
		contract:  make(map[ledger.Account]uint256.Int),
	}
}

func (fc *FakeChain) SetPosition(acct ledger.Account, p state.Position) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.positions[acct] = p
}

// SetPrice sets the raw feed reading at the given decimals.
func (fc *FakeChain) SetPrice(value uint64, decimals int, observedAt time.Time) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.price = oracle.RawPrice{Value: Units(value), Decimals: decimals, ObservedAt: observedAt}
}

func (fc *FakeChain) SetContractHealthFactor(acct ledger.Account, hundredths uint64) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.contract[acct] = Units(hundredths)
}

func (fc *FakeChain) FetchPosition(_ context.Context, acct ledger.Account) (state.Position, uint64, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.PositionReads++
	if fc.PositionErr != nil {
		return state.Position{}, 0, fc.PositionErr
	}
	fc.block++
	return fc.positions[acct], fc.block, nil
}

func (fc *FakeChain) Name() string { return "fake-chain" }

func (fc *FakeChain) LatestPrice(ctx context.Context) (oracle.RawPrice, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.PriceReads++
	if fc.PriceErr != nil {
		return oracle.RawPrice{}, fc.PriceErr
	}
	if fc.price.Value.IsZero() {
		return oracle.RawPrice{}, oracle.ErrNoData
	}
	raw := fc.price
	raw.BlockNumber = fc.block
	return raw, nil
}

func (fc *FakeChain) ContractHealthFactor(_ context.Context, acct ledger.Account) (uint256.Int, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.contract[acct], nil
}

// ActionStore is an in-memory action.Store that outlives any one Tracker,
// standing in for Postgres across a simulated restart.
type ActionStore struct {
	mu      sync.Mutex
	actions map[uuid.UUID]action.Action
}

func NewActionStore() *ActionStore {
	return &ActionStore{actions: make(map[uuid.UUID]action.Action)}
}

func (s *ActionStore) Insert(_ context.Context, a action.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, prior := range s.actions {
		if a.IdempotencyKey != "" && prior.IdempotencyKey == a.IdempotencyKey {
			return action.ErrDuplicateRequest
		}
	}
	s.actions[a.ID] = a
	return nil
}

func (s *ActionStore) RecordTransition(_ context.Context, a action.Action, from action.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.actions[a.ID]
	if !ok {
		return action.ErrUnknownAction
	}
	if cur.Status != from {
		return action.ErrInvalidTransition
	}
	s.actions[a.ID] = a
	return nil
}

func (s *ActionStore) Get(_ context.Context, id uuid.UUID) (action.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return action.Action{}, action.ErrUnknownAction
	}
	return a, nil
}

func (s *ActionStore) FindByIdempotencyKey(_ context.Context, key string) (action.Action, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.actions {
		if a.IdempotencyKey == key {
			return a, true, nil
		}
	}
	return action.Action{}, false, nil
}
