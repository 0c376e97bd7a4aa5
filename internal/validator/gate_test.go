package validator_test

import (
	"BTCFiRisk/internal/ledger"
	"BTCFiRisk/internal/observability"
	"BTCFiRisk/internal/oracle"
	"BTCFiRisk/internal/state"
	"BTCFiRisk/internal/testutil"
	"BTCFiRisk/internal/validator"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	alice = mustAccount("0x00000000000000000000000000000000000a11ce")
	now   = time.Unix(1_700_000_100, 0)
)

func mustAccount(s string) ledger.Account {
	acct, err := ledger.ParseAccount(s)
	if err != nil {
		panic(err)
	}
	return acct
}

func newGate(chain *testutil.FakeChain) *validator.Gate {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	l := ledger.New(chain, ledger.NewMemoryCache(), metrics)
	adapter := oracle.NewAdapter(chain, time.Second, metrics)
	calc := state.NewRiskCalculator(state.DefaultRiskParams())
	return validator.NewGate(l, adapter, calc, time.Minute, metrics).
		WithClock(func() time.Time { return now })
}

// ============================================================================
// Test: Gate.Check
// ============================================================================

func TestGate_AcceptsAndProjects(t *testing.T) {
	chain := testutil.NewFakeChain()
	chain.SetPosition(alice, state.NewPosition(oneBTC, 0))
	chain.SetPrice(price100, 8, now.Add(-5*time.Second))

	d, err := newGate(chain).Check(context.Background(), alice, state.ActionBorrow, testutil.Units(8_000_000_000_000))
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !d.Accepted {
		t.Fatalf("expected accepted, got %s: %s", d.Kind, d.Reason)
	}
	if d.Before == nil || d.After == nil {
		t.Fatal("accepted decision should carry before and after snapshots")
	}
	if !d.Before.HealthFactor.IsInfinite() {
		t.Errorf("before HF: got %s, want ∞", d.Before.HealthFactor)
	}
	if d.After.HealthFactor.String() != "1.00" {
		t.Errorf("after HF: got %s, want 1.00", d.After.HealthFactor)
	}
	if d.Err() != nil {
		t.Errorf("accepted decision should have nil Err, got %v", d.Err())
	}
}

func TestGate_RefreshesEveryCall(t *testing.T) {
	chain := testutil.NewFakeChain()
	chain.SetPosition(alice, state.NewPosition(oneBTC, 0))
	chain.SetPrice(price100, 8, now)
	gate := newGate(chain)
	ctx := context.Background()

	if d, _ := gate.Check(ctx, alice, state.ActionBorrow, testutil.Units(8_000_000_000_000)); !d.Accepted {
		t.Fatalf("first borrow should pass: %s", d.Reason)
	}

	// The external ledger executed the borrow; the next check must see it.
	chain.SetPosition(alice, state.NewPosition(oneBTC, 8_000_000_000_000))
	d, err := gate.Check(ctx, alice, state.ActionBorrow, testutil.Units(1))
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Accepted || d.Kind != state.KindExceedsMaxBorrow {
		t.Errorf("second borrow: accepted=%v kind=%s, want ExceedsMaxBorrow", d.Accepted, d.Kind)
	}
	if chain.PositionReads != 2 || chain.PriceReads != 2 {
		t.Errorf("expected 2 position and 2 price reads, got %d and %d", chain.PositionReads, chain.PriceReads)
	}
}

func TestGate_StaleQuoteIsOracleUnavailable(t *testing.T) {
	chain := testutil.NewFakeChain()
	chain.SetPosition(alice, state.NewPosition(oneBTC, 1_000))
	chain.SetPrice(price100, 8, now.Add(-2*time.Minute))

	d, err := newGate(chain).Check(context.Background(), alice, state.ActionBorrow, testutil.Units(1))
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Accepted || d.Kind != state.KindOracleUnavailable {
		t.Fatalf("got accepted=%v kind=%s, want OracleUnavailable", d.Accepted, d.Kind)
	}
	if !errors.Is(d.Err(), state.ErrOracleUnavailable) {
		t.Errorf("Err(): got %v", d.Err())
	}
	if d.Before != nil {
		t.Error("no snapshot may be produced from a stale quote")
	}
}

func TestGate_DepositWithoutPrice(t *testing.T) {
	chain := testutil.NewFakeChain()
	chain.PriceErr = errors.New("feed halted")

	d, err := newGate(chain).Check(context.Background(), alice, state.ActionDeposit, testutil.Units(oneBTC))
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !d.Accepted {
		t.Errorf("deposit does not depend on price, got %s", d.Kind)
	}
	if d.Before != nil || d.After != nil {
		t.Error("snapshots need a quote")
	}
}

func TestGate_PositionUnavailable(t *testing.T) {
	chain := testutil.NewFakeChain()
	chain.PositionErr = errors.New("rpc down")
	chain.SetPrice(price100, 8, now)

	_, err := newGate(chain).Check(context.Background(), alice, state.ActionRepay, testutil.Units(1))
	if err == nil {
		t.Fatal("expected error when the position cannot be read")
	}
	if validator.IsRejection(err) {
		t.Error("infrastructure failure must not look like a validation rejection")
	}
}

// ============================================================================
// Test: Gate.Assess and drift
// ============================================================================

func TestGate_AssessWithDrift(t *testing.T) {
	chain := testutil.NewFakeChain()
	chain.SetPosition(alice, state.NewPosition(oneBTC, 5_000_000_000_000))
	chain.SetPrice(price100, 8, now)
	chain.SetContractHealthFactor(alice, 155)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	gate := newGate(chain).WithDriftDetector(validator.NewDriftDetector(chain, 2, metrics))

	a, err := gate.Assess(context.Background(), alice)
	if err != nil {
		t.Fatalf("Assess failed: %v", err)
	}
	if a.Snapshot.Status != state.HealthStatusSafe {
		t.Errorf("status: got %s", a.Snapshot.Status)
	}
	if a.Drift == nil {
		t.Fatal("drift report missing")
	}
	if a.Drift.Local.Uint64() != 160 || a.Drift.Diff.Uint64() != 5 {
		t.Errorf("drift: local=%d diff=%d, want 160 and 5", a.Drift.Local.Uint64(), a.Drift.Diff.Uint64())
	}
	if !a.Drift.Exceeded {
		t.Error("diff 5 should exceed tolerance 2")
	}
}

func TestDrift_NoDebtMatchesContractZero(t *testing.T) {
	chain := testutil.NewFakeChain()
	dd := validator.NewDriftDetector(chain, 0, nil)

	report, err := dd.Check(context.Background(), alice, state.InfiniteHealthFactor())
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if report.Exceeded || !report.Diff.IsZero() {
		t.Errorf("∞ locally and 0 on the contract should agree, got diff %d", report.Diff.Uint64())
	}
}

func TestGate_AssessWithoutQuote(t *testing.T) {
	chain := testutil.NewFakeChain()
	chain.SetPosition(alice, state.NewPosition(oneBTC, 0))

	_, err := newGate(chain).Assess(context.Background(), alice)
	if !errors.Is(err, state.ErrOracleUnavailable) {
		t.Errorf("got %v, want OracleUnavailable", err)
	}
}
