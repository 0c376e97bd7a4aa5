package state

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// ActionKind is one of the four state-changing intents the external ledger accepts.
type ActionKind int32

const (
	ActionDeposit ActionKind = iota + 1
	ActionWithdraw
	ActionBorrow
	ActionRepay
)

func (ak ActionKind) String() string {
	switch ak {
	case ActionDeposit:
		return "deposit"
	case ActionWithdraw:
		return "withdraw"
	case ActionBorrow:
		return "borrow"
	case ActionRepay:
		return "repay"
	default:
		return "unknown"
	}
}

// ContractMethod is the external ledger entry point for the action.
func (ak ActionKind) ContractMethod() string {
	switch ak {
	case ActionDeposit:
		return "deposit_collateral"
	case ActionWithdraw:
		return "withdraw_collateral"
	case ActionBorrow:
		return "borrow"
	case ActionRepay:
		return "repay"
	default:
		return ""
	}
}

// CollateralDenominated reports whether the amount is in collateral units
// (deposit, withdraw) rather than debt units (borrow, repay).
func (ak ActionKind) CollateralDenominated() bool {
	return ak == ActionDeposit || ak == ActionWithdraw
}

func ParseActionKind(s string) (ActionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "deposit", "deposit_collateral":
		return ActionDeposit, nil
	case "withdraw", "withdraw_collateral":
		return ActionWithdraw, nil
	case "borrow":
		return ActionBorrow, nil
	case "repay":
		return ActionRepay, nil
	default:
		return 0, fmt.Errorf("unknown action %q", s)
	}
}

// ApplyAction dispatches to the matching position transform.
func ApplyAction(kind ActionKind, p Position, amount uint256.Int) (Position, error) {
	switch kind {
	case ActionDeposit:
		return ApplyDeposit(p, amount)
	case ActionWithdraw:
		return ApplyWithdraw(p, amount)
	case ActionBorrow:
		return ApplyBorrow(p, amount)
	case ActionRepay:
		return ApplyRepay(p, amount)
	default:
		return p, fmt.Errorf("unknown action kind %d", int32(kind))
	}
}
