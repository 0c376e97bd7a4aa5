package state

import (
	fp "BTCFiRisk/internal/math"

	"github.com/holiman/uint256"
)

// HealthFactor is a fixed-point ratio at 1e18 scale. The all-ones 256-bit
// value is reserved as the infinity sentinel for debt-free positions.
type HealthFactor struct {
	Value uint256.Int
}

// InfiniteHealthFactor is reported whenever debt is zero.
func InfiniteHealthFactor() HealthFactor {
	return HealthFactor{Value: fp.Max()}
}

// maxFiniteHealthFactor is what an overflowing ratio saturates to.
func maxFiniteHealthFactor() HealthFactor {
	v := fp.Max()
	v.SubUint64(&v, 1)
	return HealthFactor{Value: v}
}

func (hf HealthFactor) IsInfinite() bool {
	maxV := fp.Max()
	return hf.Value.Eq(&maxV)
}

// AtLeastOne reports hf >= 1.00.
func (hf HealthFactor) AtLeastOne() bool {
	one := fp.HealthFactorConfig.Scale
	return !hf.Value.Lt(&one)
}

// Cmp compares two health factors; infinity compares greater than any finite value.
func (hf HealthFactor) Cmp(other HealthFactor) int {
	return hf.Value.Cmp(&other.Value)
}

// Hundredths returns the value at the contract's scale (150 = 1.50), with
// infinity encoded as 0 the way the contract reports a debt-free account.
func (hf HealthFactor) Hundredths() uint256.Int {
	if hf.IsInfinite() {
		return uint256.Int{}
	}
	v, _ := fp.Rescale(&hf.Value, fp.HealthFactorConfig.DecimalPrecision,
		fp.ContractHealthFactorConfig.DecimalPrecision, fp.RoundDown)
	return v
}

func (hf HealthFactor) String() string {
	if hf.IsInfinite() {
		return "∞"
	}
	return fp.FormatAmountPlaces(&hf.Value, fp.HealthFactorConfig, 2)
}

// HealthStatus classifies a health factor for display.
type HealthStatus int32

const (
	HealthStatusNoDebt HealthStatus = iota
	HealthStatusSafe
	HealthStatusWarning
	HealthStatusLiquidationRisk
)

func (hs HealthStatus) String() string {
	switch hs {
	case HealthStatusNoDebt:
		return "NoDebt"
	case HealthStatusSafe:
		return "Safe"
	case HealthStatusWarning:
		return "Warning"
	case HealthStatusLiquidationRisk:
		return "LiquidationRisk"
	default:
		return "Unknown"
	}
}

// ClassifyHealth maps a health factor onto NoDebt / LiquidationRisk (< 1.00) /
// Warning (< warning) / Safe.
func ClassifyHealth(hf HealthFactor, warning uint256.Int) HealthStatus {
	switch {
	case hf.IsInfinite():
		return HealthStatusNoDebt
	case !hf.AtLeastOne():
		return HealthStatusLiquidationRisk
	case hf.Value.Lt(&warning):
		return HealthStatusWarning
	default:
		return HealthStatusSafe
	}
}

// RiskSnapshot is derived on demand from (Position, PriceQuote, threshold) and
// never persisted or mutated.
type RiskSnapshot struct {
	CollateralValue uint256.Int // Debt scale
	BorrowPower     uint256.Int // Debt scale, collateral value discounted by threshold
	HealthFactor    HealthFactor
	MaxBorrow       uint256.Int // Debt scale
	MaxWithdraw     uint256.Int // Collateral scale
	Status          HealthStatus
}

// CollateralValue returns floor(collateral * price / 1e8) in debt units.
// Saturates on overflow, which can only under-state the true value.
func CollateralValue(p Position, q PriceQuote) uint256.Int {
	scale := fp.CollateralConfig.Scale
	return fp.MulDivSaturating(&p.Collateral, &q.Price, &scale, fp.RoundDown)
}

// BorrowPower returns floor(collateralValue * threshold / 10000).
func BorrowPower(collateralValue uint256.Int, t LiquidationThreshold) uint256.Int {
	return fp.MulDivSaturating(&collateralValue, t.Uint256(), uint256.NewInt(fp.BasisPoints), fp.RoundDown)
}

// ComputeHealthFactor returns borrow_power / debt at 1e18 scale, or infinity
// when debt is zero regardless of collateral or price.
func ComputeHealthFactor(p Position, q PriceQuote, t LiquidationThreshold) HealthFactor {
	if !p.HasDebt() {
		return InfiniteHealthFactor()
	}
	bp := BorrowPower(CollateralValue(p, q), t)
	wad := fp.HealthFactorConfig.Scale
	v, overflow := fp.MulDiv(&bp, &wad, &p.Debt, fp.RoundDown)
	if overflow {
		return maxFiniteHealthFactor()
	}
	hf := HealthFactor{Value: v}
	if hf.IsInfinite() {
		return maxFiniteHealthFactor()
	}
	return hf
}

// ComputeMaxBorrow returns max(0, borrow_power - debt): the largest additional
// debt that keeps the health factor >= 1.00.
func ComputeMaxBorrow(p Position, q PriceQuote, t LiquidationThreshold) uint256.Int {
	bp := BorrowPower(CollateralValue(p, q), t)
	return fp.SubFloor(&bp, &p.Debt)
}

// ComputeMaxWithdraw returns the largest collateral withdrawal that keeps the
// health factor >= 1.00. The minimum-collateral terms round up so the bound
// never exceeds the truly safe amount.
func ComputeMaxWithdraw(p Position, q PriceQuote, t LiquidationThreshold) uint256.Int {
	if !p.HasDebt() {
		return p.Collateral
	}
	if t == 0 || !q.Valid() {
		return uint256.Int{}
	}

	minValue := fp.MulDivSaturating(&p.Debt, uint256.NewInt(fp.BasisPoints), t.Uint256(), fp.RoundUp)
	scale := fp.CollateralConfig.Scale
	minUnits := fp.MulDivSaturating(&minValue, &scale, &q.Price, fp.RoundUp)
	return fp.SubFloor(&p.Collateral, &minUnits)
}

// RiskCalculator derives RiskSnapshots under a fixed set of risk params.
// It holds no mutable state and is safe for concurrent use.
type RiskCalculator struct {
	params RiskParams
}

func NewRiskCalculator(params RiskParams) *RiskCalculator {
	return &RiskCalculator{params: params}
}

func (rc *RiskCalculator) Params() RiskParams {
	return rc.params
}

// Snapshot computes the full RiskSnapshot. A quote without a usable price
// yields OracleUnavailable; no default price is ever substituted.
func (rc *RiskCalculator) Snapshot(p Position, q PriceQuote) (RiskSnapshot, error) {
	if !q.Valid() {
		return RiskSnapshot{}, Errorf(KindOracleUnavailable, "no usable price quote")
	}

	t := rc.params.Threshold
	cv := CollateralValue(p, q)
	hf := ComputeHealthFactor(p, q, t)

	return RiskSnapshot{
		CollateralValue: cv,
		BorrowPower:     BorrowPower(cv, t),
		HealthFactor:    hf,
		MaxBorrow:       ComputeMaxBorrow(p, q, t),
		MaxWithdraw:     ComputeMaxWithdraw(p, q, t),
		Status:          ClassifyHealth(hf, rc.params.WarningHealthFactor),
	}, nil
}
