package validator

import (
	fp "BTCFiRisk/internal/math"
	"BTCFiRisk/internal/state"

	"github.com/holiman/uint256"
)

// Each validator recomputes what it needs from the values passed in and
// returns nil or a *state.ValidationError. Validation is advisory: the
// external ledger makes the authoritative decision at execution time.

func ValidateDeposit(amount uint256.Int) error {
	if amount.IsZero() {
		return state.Errorf(state.KindInvalidAmount, "deposit amount must be positive")
	}
	return nil
}

// ValidateWithdraw needs a usable quote only while debt is outstanding; a
// debt-free position may withdraw all of its collateral at any price.
func ValidateWithdraw(p state.Position, q state.PriceQuote, t state.LiquidationThreshold, amount uint256.Int) error {
	if amount.IsZero() {
		return state.Errorf(state.KindInvalidAmount, "withdraw amount must be positive")
	}
	if amount.Gt(&p.Collateral) {
		return state.Errorf(state.KindInsufficientCollateral, "withdraw %s exceeds collateral %s",
			fp.FormatAmount(&amount, fp.CollateralConfig), fp.FormatAmount(&p.Collateral, fp.CollateralConfig))
	}
	if p.HasDebt() && !q.Valid() {
		return state.Errorf(state.KindOracleUnavailable, "no usable price to check withdraw against debt")
	}

	maxWithdraw := state.ComputeMaxWithdraw(p, q, t)
	if amount.Gt(&maxWithdraw) {
		return state.Errorf(state.KindExceedsMaxWithdraw, "withdraw %s exceeds max withdraw %s",
			fp.FormatAmount(&amount, fp.CollateralConfig), fp.FormatAmount(&maxWithdraw, fp.CollateralConfig))
	}
	return nil
}

func ValidateBorrow(p state.Position, q state.PriceQuote, t state.LiquidationThreshold, amount uint256.Int) error {
	if amount.IsZero() {
		return state.Errorf(state.KindInvalidAmount, "borrow amount must be positive")
	}
	if p.Collateral.IsZero() {
		return state.Errorf(state.KindNoCollateral, "deposit collateral before borrowing")
	}
	if !q.Valid() {
		return state.Errorf(state.KindOracleUnavailable, "no usable price to value collateral")
	}

	maxBorrow := state.ComputeMaxBorrow(p, q, t)
	if amount.Gt(&maxBorrow) {
		return state.Errorf(state.KindExceedsMaxBorrow, "borrow %s exceeds max borrow %s",
			fp.FormatAmount(&amount, fp.DebtConfig), fp.FormatAmount(&maxBorrow, fp.DebtConfig))
	}
	return nil
}

func ValidateRepay(p state.Position, amount uint256.Int) error {
	if amount.IsZero() {
		return state.Errorf(state.KindInvalidAmount, "repay amount must be positive")
	}
	if amount.Gt(&p.Debt) {
		return state.Errorf(state.KindExceedsDebt, "repay %s exceeds debt %s",
			fp.FormatAmount(&amount, fp.DebtConfig), fp.FormatAmount(&p.Debt, fp.DebtConfig))
	}
	return nil
}

// Validate dispatches on kind.
func Validate(kind state.ActionKind, p state.Position, q state.PriceQuote, t state.LiquidationThreshold, amount uint256.Int) error {
	switch kind {
	case state.ActionDeposit:
		return ValidateDeposit(amount)
	case state.ActionWithdraw:
		return ValidateWithdraw(p, q, t, amount)
	case state.ActionBorrow:
		return ValidateBorrow(p, q, t, amount)
	case state.ActionRepay:
		return ValidateRepay(p, amount)
	default:
		return state.Errorf(state.KindInvalidAmount, "unknown action %s", kind)
	}
}
