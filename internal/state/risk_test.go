package state_test

import (
	fp "BTCFiRisk/internal/math"
	"BTCFiRisk/internal/state"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/holiman/uint256"
)

const (
	oneBTC   = 100_000_000        // 1.00000000 wBTC
	price100 = 10_000_000_000_000 // $100,000.00000000
)

func quote(price uint64) state.PriceQuote {
	return state.PriceQuote{Price: units(price), AsOf: time.Unix(1_700_000_000, 0), Source: "test"}
}

// ============================================================================
// Test: Reference scenarios
// ============================================================================

func TestMaxBorrow_OneBTC(t *testing.T) {
	p := state.NewPosition(oneBTC, 0)
	q := quote(price100)

	got := state.ComputeMaxBorrow(p, q, state.DefaultLiquidationThreshold)
	if got.Uint64() != 8_000_000_000_000 {
		t.Fatalf("max borrow: got %d, want 8_000_000_000_000 ($80,000)", got.Uint64())
	}

	after, err := state.ApplyBorrow(p, got)
	if err != nil {
		t.Fatalf("ApplyBorrow failed: %v", err)
	}
	hf := state.ComputeHealthFactor(after, q, state.DefaultLiquidationThreshold)
	if hf.String() != "1.00" {
		t.Errorf("health factor after max borrow: got %s, want 1.00", hf)
	}
}

func TestMaxWithdraw_HalfDebt(t *testing.T) {
	p := state.NewPosition(oneBTC, 5_000_000_000_000) // $50,000 debt
	q := quote(price100)

	got := state.ComputeMaxWithdraw(p, q, state.DefaultLiquidationThreshold)
	if got.Uint64() != 37_500_000 {
		t.Fatalf("max withdraw: got %d, want 37_500_000 (0.375 BTC)", got.Uint64())
	}

	after, err := state.ApplyWithdraw(p, got)
	if err != nil {
		t.Fatalf("ApplyWithdraw failed: %v", err)
	}
	hf := state.ComputeHealthFactor(after, q, state.DefaultLiquidationThreshold)
	if !hf.AtLeastOne() {
		t.Errorf("health factor after max withdraw fell below 1: %s", hf)
	}
}

func TestHealthFactor_Value(t *testing.T) {
	p := state.NewPosition(oneBTC, 5_000_000_000_000)
	hf := state.ComputeHealthFactor(p, quote(price100), state.DefaultLiquidationThreshold)

	// 80000 / 50000 = 1.6
	if hf.String() != "1.60" {
		t.Errorf("got %s, want 1.60", hf)
	}
	if h := hf.Hundredths(); h.Uint64() != 160 {
		t.Errorf("hundredths: got %d, want 160", h.Uint64())
	}
}

// ============================================================================
// Test: Zero debt sentinel
// ============================================================================

func TestHealthFactor_ZeroDebtIsInfinite(t *testing.T) {
	cases := []struct {
		name  string
		p     state.Position
		price uint64
	}{
		{"empty", state.Position{}, price100},
		{"collateral only", state.NewPosition(oneBTC, 0), price100},
		{"tiny price", state.NewPosition(oneBTC, 0), 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hf := state.ComputeHealthFactor(tc.p, quote(tc.price), state.DefaultLiquidationThreshold)
			if !hf.IsInfinite() {
				t.Errorf("expected infinite health factor, got %s", hf)
			}
			if hf.String() != "∞" {
				t.Errorf("display: got %q", hf.String())
			}
			if h := hf.Hundredths(); !h.IsZero() {
				t.Errorf("hundredths of infinity should be 0, got %d", h.Uint64())
			}
		})
	}
}

func TestMaxWithdraw_NoDebtReturnsAllCollateral(t *testing.T) {
	p := state.NewPosition(12_345, 0)
	got := state.ComputeMaxWithdraw(p, quote(price100), state.DefaultLiquidationThreshold)
	if got.Uint64() != 12_345 {
		t.Errorf("got %d, want 12_345", got.Uint64())
	}
}

func TestMaxWithdraw_Underwater(t *testing.T) {
	// $90,000 debt against $80,000 borrow power
	p := state.NewPosition(oneBTC, 9_000_000_000_000)
	got := state.ComputeMaxWithdraw(p, quote(price100), state.DefaultLiquidationThreshold)
	if !got.IsZero() {
		t.Errorf("underwater position should allow no withdrawal, got %d", got.Uint64())
	}
	mb := state.ComputeMaxBorrow(p, quote(price100), state.DefaultLiquidationThreshold)
	if !mb.IsZero() {
		t.Errorf("underwater position should allow no borrow, got %d", mb.Uint64())
	}
}

// ============================================================================
// Test: Safety invariant
// ============================================================================

func TestSafety_RandomPositions(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	thresholds := []state.LiquidationThreshold{1, 5_000, 7_333, 8_000, 9_999, 10_000}

	for i := 0; i < 2_000; i++ {
		p := state.NewPosition(rng.Uint64()>>rng.Intn(64), rng.Uint64()>>rng.Intn(64))
		q := quote(1 + rng.Uint64()>>rng.Intn(64))
		th := thresholds[rng.Intn(len(thresholds))]

		if mb := state.ComputeMaxBorrow(p, q, th); !mb.IsZero() {
			after, err := state.ApplyBorrow(p, mb)
			if err != nil {
				t.Fatalf("case %d: borrow max: %v", i, err)
			}
			if hf := state.ComputeHealthFactor(after, q, th); !hf.AtLeastOne() {
				t.Fatalf("case %d: %s price=%d th=%d: HF %s after max borrow %d",
					i, p, q.Price.Uint64(), th, hf, mb.Uint64())
			}
		}

		if mw := state.ComputeMaxWithdraw(p, q, th); !mw.IsZero() {
			after, err := state.ApplyWithdraw(p, mw)
			if err != nil {
				t.Fatalf("case %d: withdraw max: %v", i, err)
			}
			if hf := state.ComputeHealthFactor(after, q, th); !hf.AtLeastOne() {
				t.Fatalf("case %d: %s price=%d th=%d: HF %s after max withdraw %d",
					i, p, q.Price.Uint64(), th, hf, mw.Uint64())
			}
		}
	}
}

func TestMaxWithdraw_BoundaryIsTight(t *testing.T) {
	p := state.NewPosition(oneBTC, 5_000_000_000_000)
	q := quote(price100)
	th := state.DefaultLiquidationThreshold

	mw := state.ComputeMaxWithdraw(p, q, th)
	one := uint256.NewInt(1)
	var over uint256.Int
	over.Add(&mw, one)

	after, err := state.ApplyWithdraw(p, over)
	if err != nil {
		t.Fatalf("ApplyWithdraw failed: %v", err)
	}
	if hf := state.ComputeHealthFactor(after, q, th); hf.AtLeastOne() {
		t.Errorf("withdrawing one unit past the bound should break HF >= 1, got %s", hf)
	}
}

// ============================================================================
// Test: Monotonicity
// ============================================================================

func TestMonotonicity(t *testing.T) {
	th := state.DefaultLiquidationThreshold
	q := quote(price100)

	base := state.NewPosition(oneBTC, 2_000_000_000_000)
	moreDebt := state.NewPosition(oneBTC, 3_000_000_000_000)
	moreCollateral := state.NewPosition(2*oneBTC, 2_000_000_000_000)

	hfBase := state.ComputeHealthFactor(base, q, th)
	if state.ComputeHealthFactor(moreDebt, q, th).Cmp(hfBase) >= 0 {
		t.Error("more debt should lower the health factor")
	}
	if state.ComputeHealthFactor(moreCollateral, q, th).Cmp(hfBase) <= 0 {
		t.Error("more collateral should raise the health factor")
	}
	if state.ComputeHealthFactor(base, quote(price100/2), th).Cmp(hfBase) >= 0 {
		t.Error("a lower price should lower the health factor")
	}

	mbBase := state.ComputeMaxBorrow(base, q, th)
	mbDebt := state.ComputeMaxBorrow(moreDebt, q, th)
	if mbDebt.Gt(&mbBase) {
		t.Error("max borrow must not grow with debt")
	}
	mwBase := state.ComputeMaxWithdraw(base, q, th)
	mwDebt := state.ComputeMaxWithdraw(moreDebt, q, th)
	if mwDebt.Gt(&mwBase) {
		t.Error("max withdraw must not grow with debt")
	}
}

// ============================================================================
// Test: Overflow saturation
// ============================================================================

func TestHealthFactor_SaturatesBelowSentinel(t *testing.T) {
	var p state.Position
	p.Collateral.SetAllOne()
	p.Debt.SetUint64(1)

	hf := state.ComputeHealthFactor(p, quote(price100), state.DefaultLiquidationThreshold)
	if hf.IsInfinite() {
		t.Error("finite debt must never report the infinity sentinel")
	}
	if !hf.AtLeastOne() {
		t.Error("saturated HF should still be >= 1")
	}
}

// ============================================================================
// Test: Classification and snapshot
// ============================================================================

func TestClassifyHealth(t *testing.T) {
	params := state.DefaultRiskParams()
	q := quote(price100)

	cases := []struct {
		name string
		debt uint64
		want state.HealthStatus
	}{
		{"no debt", 0, state.HealthStatusNoDebt},
		{"safe at 1.60", 5_000_000_000_000, state.HealthStatusSafe},
		{"warning at 1.14", 7_000_000_000_000, state.HealthStatusWarning},
		{"boundary 1.00 is warning", 8_000_000_000_000, state.HealthStatusWarning},
		{"liquidation at 0.88", 9_000_000_000_000, state.HealthStatusLiquidationRisk},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hf := state.ComputeHealthFactor(state.NewPosition(oneBTC, tc.debt), q, params.Threshold)
			if got := state.ClassifyHealth(hf, params.WarningHealthFactor); got != tc.want {
				t.Errorf("got %s, want %s (hf=%s)", got, tc.want, hf)
			}
		})
	}
}

func TestRiskCalculator_Snapshot(t *testing.T) {
	rc := state.NewRiskCalculator(state.DefaultRiskParams())
	snap, err := rc.Snapshot(state.NewPosition(oneBTC, 5_000_000_000_000), quote(price100))
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	if snap.CollateralValue.Uint64() != 10_000_000_000_000 {
		t.Errorf("collateral value: got %d", snap.CollateralValue.Uint64())
	}
	if snap.BorrowPower.Uint64() != 8_000_000_000_000 {
		t.Errorf("borrow power: got %d", snap.BorrowPower.Uint64())
	}
	if snap.MaxBorrow.Uint64() != 3_000_000_000_000 {
		t.Errorf("max borrow: got %d", snap.MaxBorrow.Uint64())
	}
	if snap.MaxWithdraw.Uint64() != 37_500_000 {
		t.Errorf("max withdraw: got %d", snap.MaxWithdraw.Uint64())
	}
	if snap.Status != state.HealthStatusSafe {
		t.Errorf("status: got %s", snap.Status)
	}
}

func TestRiskCalculator_NoPrice(t *testing.T) {
	rc := state.NewRiskCalculator(state.DefaultRiskParams())
	_, err := rc.Snapshot(state.NewPosition(oneBTC, 1), state.PriceQuote{})
	if !errors.Is(err, state.ErrOracleUnavailable) {
		t.Errorf("got %v, want OracleUnavailable", err)
	}
}

func TestValidateRiskParams(t *testing.T) {
	if err := state.ValidateRiskParams(state.DefaultRiskParams()); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}

	bad := state.DefaultRiskParams()
	bad.Threshold = 10_001
	if err := state.ValidateRiskParams(bad); err == nil {
		t.Error("threshold above 100% should be rejected")
	}

	bad = state.DefaultRiskParams()
	bad.Threshold = 0
	if err := state.ValidateRiskParams(bad); err == nil {
		t.Error("zero threshold should be rejected")
	}

	bad = state.DefaultRiskParams()
	bad.WarningHealthFactor = fp.Pow10(17)
	if err := state.ValidateRiskParams(bad); err == nil {
		t.Error("warning below 1.00 should be rejected")
	}
}
