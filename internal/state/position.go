// internal/state/position.go
package state

import (
	fp "BTCFiRisk/internal/math"

	"github.com/holiman/uint256"
)

// Position holds an account's collateral and debt. It is a value type: every
// transform below returns a new Position and never mutates its receiver, so
// positions can be shared across goroutines without locking.
type Position struct {
	Collateral uint256.Int // Fixed-point: collateral scale (1e8)
	Debt       uint256.Int // Fixed-point: debt scale (1e8)
}

// NewPosition builds a position from raw unit counts.
func NewPosition(collateral, debt uint64) Position {
	var p Position
	p.Collateral.SetUint64(collateral)
	p.Debt.SetUint64(debt)
	return p
}

// IsZero reports whether the position holds neither collateral nor debt.
func (p Position) IsZero() bool {
	return p.Collateral.IsZero() && p.Debt.IsZero()
}

// HasDebt reports whether any debt is outstanding.
func (p Position) HasDebt() bool {
	return !p.Debt.IsZero()
}

func (p Position) String() string {
	return "collateral=" + fp.FormatAmount(&p.Collateral, fp.CollateralConfig) +
		" debt=" + fp.FormatAmount(&p.Debt, fp.DebtConfig)
}

// ApplyDeposit returns p with amount added to collateral.
func ApplyDeposit(p Position, amount uint256.Int) (Position, error) {
	if amount.IsZero() {
		return p, Errorf(KindInvalidAmount, "deposit amount must be positive")
	}
	if _, overflow := p.Collateral.AddOverflow(&p.Collateral, &amount); overflow {
		return Position{}, Errorf(KindInvalidAmount, "deposit overflows collateral width")
	}
	return p, nil
}

// ApplyWithdraw returns p with amount removed from collateral.
func ApplyWithdraw(p Position, amount uint256.Int) (Position, error) {
	if amount.Gt(&p.Collateral) {
		return p, Errorf(KindInsufficientCollateral, "withdraw %s exceeds collateral %s",
			fp.FormatAmount(&amount, fp.CollateralConfig),
			fp.FormatAmount(&p.Collateral, fp.CollateralConfig))
	}
	p.Collateral.Sub(&p.Collateral, &amount)
	return p, nil
}

// ApplyBorrow returns p with amount added to debt. The caller is responsible
// for checking the amount against MaxBorrow first.
func ApplyBorrow(p Position, amount uint256.Int) (Position, error) {
	if amount.IsZero() {
		return p, Errorf(KindInvalidAmount, "borrow amount must be positive")
	}
	if _, overflow := p.Debt.AddOverflow(&p.Debt, &amount); overflow {
		return Position{}, Errorf(KindInvalidAmount, "borrow overflows debt width")
	}
	return p, nil
}

// ApplyRepay returns p with amount removed from debt.
func ApplyRepay(p Position, amount uint256.Int) (Position, error) {
	if amount.Gt(&p.Debt) {
		return p, Errorf(KindExceedsDebt, "repay %s exceeds debt %s",
			fp.FormatAmount(&amount, fp.DebtConfig),
			fp.FormatAmount(&p.Debt, fp.DebtConfig))
	}
	p.Debt.Sub(&p.Debt, &amount)
	return p, nil
}
