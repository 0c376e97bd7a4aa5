package math

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

var (
	ErrNotNumeric     = errors.New("amount is not a number")
	ErrNegativeAmount = errors.New("amount is negative")
	ErrAmountTooLarge = errors.New("amount exceeds 256-bit range")
)

// maxUint256Digits is the decimal length of 2^256-1.
const maxUint256Digits = 78

// ParseAmount converts human input such as "0.375" into fixed-point units.
// Fractional digits beyond the configured precision are truncated, never rounded up.
func ParseAmount(text string, cfg DecimalConfig) (uint256.Int, error) {
	var z uint256.Int

	text = strings.TrimSpace(text)
	if text == "" {
		return z, ErrNotNumeric
	}

	d, err := decimal.NewFromString(text)
	if err != nil {
		return z, fmt.Errorf("%w: %q", ErrNotNumeric, text)
	}
	if d.IsNegative() {
		return z, ErrNegativeAmount
	}

	if d.IsZero() {
		return z, nil
	}

	// Bound the integer digit count before materializing the value: the
	// exponent form lets a few bytes of input describe a huge integer.
	intDigits := int64(d.NumDigits()) + int64(d.Exponent()) + int64(cfg.DecimalPrecision)
	if intDigits > maxUint256Digits {
		return z, ErrAmountTooLarge
	}
	if intDigits <= 0 {
		return z, nil
	}

	scaled := d.Shift(int32(cfg.DecimalPrecision)).Truncate(0)
	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return z, ErrAmountTooLarge
	}
	return *v, nil
}

// ParseUnits parses a decimal string of raw integer units (the wire format).
func ParseUnits(text string) (uint256.Int, error) {
	var z uint256.Int
	if err := z.SetFromDecimal(strings.TrimSpace(text)); err != nil {
		return z, fmt.Errorf("%w: %q", ErrNotNumeric, text)
	}
	return z, nil
}

// FormatAmount renders units with exactly cfg.DecimalPrecision fractional digits.
func FormatAmount(x *uint256.Int, cfg DecimalConfig) string {
	return ToDecimal(x, cfg).StringFixed(int32(cfg.DecimalPrecision))
}

// FormatAmountPlaces renders units rounded down to the given number of places.
func FormatAmountPlaces(x *uint256.Int, cfg DecimalConfig, places int32) string {
	return ToDecimal(x, cfg).Truncate(places).StringFixed(places)
}

// ToDecimal lifts units into a decimal.Decimal for display arithmetic.
func ToDecimal(x *uint256.Int, cfg DecimalConfig) decimal.Decimal {
	return decimal.NewFromBigInt(x.ToBig(), -int32(cfg.DecimalPrecision))
}
