// internal/math/fixedpoint.go
package math

import (
	"github.com/holiman/uint256"
)

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int         // Number of decimal places
	Scale            uint256.Int // 10^DecimalPrecision
}

// NewDecimalConfig builds a config for the given number of fractional digits.
func NewDecimalConfig(precision int) DecimalConfig {
	return DecimalConfig{DecimalPrecision: precision, Scale: Pow10(precision)}
}

// BasisPoints is the denominator of every ratio expressed in bps (10000 = 100%).
const BasisPoints = 10_000

var (
	// Standard configs. Debt and price share one protocol-wide scale; see DESIGN.md.
	CollateralConfig   = NewDecimalConfig(8)  // 0.00000001 wBTC
	DebtConfig         = NewDecimalConfig(8)  // 0.00000001 USD
	PriceConfig        = NewDecimalConfig(8)  // 0.00000001 USD per wBTC
	HealthFactorConfig = NewDecimalConfig(18) // 1e18 = 1.00

	// ContractHealthFactorConfig is the scale the lending contract reports its own
	// health factor in (150 = 1.50).
	ContractHealthFactorConfig = NewDecimalConfig(2)
)

type RoundingMode int

const (
	RoundDown RoundingMode = iota // Floor (default for every bound we report)
	RoundUp                       // Ceiling (used for minimum-collateral terms)
)

// Pow10 returns 10^n as a 256-bit integer. n must be <= 77.
func Pow10(n int) uint256.Int {
	var z uint256.Int
	z.Exp(uint256.NewInt(10), uint256.NewInt(uint64(n)))
	return z
}

// Max returns the largest representable unit amount.
func Max() uint256.Int {
	var z uint256.Int
	z.SetAllOne()
	return z
}

// MulDiv computes x * y / d with a 512-bit intermediate product so that no
// combination of 256-bit inputs can overflow mid-calculation. The boolean
// reports whether the final quotient did not fit in 256 bits; in that case
// the returned value is meaningless and callers must saturate.
// d must be non-zero.
func MulDiv(x, y, d *uint256.Int, mode RoundingMode) (uint256.Int, bool) {
	if d.IsZero() {
		panic("math: division by zero")
	}

	var q uint256.Int
	if _, overflow := q.MulDivOverflow(x, y, d); overflow {
		return q, true
	}

	if mode == RoundUp {
		var rem uint256.Int
		rem.MulMod(x, y, d)
		if !rem.IsZero() {
			if _, overflow := q.AddOverflow(&q, uint256.NewInt(1)); overflow {
				return q, true
			}
		}
	}

	return q, false
}

// MulDivSaturating is MulDiv that clamps an overflowing quotient to Max().
func MulDivSaturating(x, y, d *uint256.Int, mode RoundingMode) uint256.Int {
	q, overflow := MulDiv(x, y, d, mode)
	if overflow {
		return Max()
	}
	return q
}

// Rescale converts x from one fixed-point precision to another.
func Rescale(x *uint256.Int, from, to int, mode RoundingMode) (uint256.Int, bool) {
	switch {
	case from == to:
		return *x, false
	case from < to:
		factor := Pow10(to - from)
		one := uint256.NewInt(1)
		return MulDiv(x, &factor, one, mode)
	default:
		divisor := Pow10(from - to)
		one := uint256.NewInt(1)
		return MulDiv(x, one, &divisor, mode)
	}
}

// SubFloor returns max(0, x - y).
func SubFloor(x, y *uint256.Int) uint256.Int {
	var z uint256.Int
	if x.Cmp(y) <= 0 {
		return z
	}
	z.Sub(x, y)
	return z
}

// Fraction returns floor(x * bps / 10000); used for the 25/50/75/100% presets.
func Fraction(x *uint256.Int, bps uint64) uint256.Int {
	return MulDivSaturating(x, uint256.NewInt(bps), uint256.NewInt(BasisPoints), RoundDown)
}
