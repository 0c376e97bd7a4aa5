package action

import (
	"BTCFiRisk/internal/ledger"
	"BTCFiRisk/internal/state"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Status is the request/response lifecycle of one submitted intent.
// NotStarted → InFlight → Succeeded | Failed(reason)
type Status int32

const (
	StatusNotStarted Status = iota
	StatusInFlight          // Intent handed to the external ledger
	StatusSucceeded         // External ledger executed it
	StatusFailed            // Rejected before or during execution
)

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "NotStarted"
	case StatusInFlight:
		return "InFlight"
	case StatusSucceeded:
		return "Succeeded"
	case StatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

func ParseStatus(s string) (Status, bool) {
	for _, st := range []Status{StatusNotStarted, StatusInFlight, StatusSucceeded, StatusFailed} {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}

var transitions = map[Status][]Status{
	StatusNotStarted: {
		StatusInFlight,
		StatusFailed, // Publish failed before the ledger saw it
	},
	StatusInFlight: {
		StatusSucceeded,
		StatusFailed,
	},
	StatusSucceeded: {
		// Terminal
	},
	StatusFailed: {
		// Terminal
	},
}

// CanTransitionTo validates lifecycle transitions.
func (s Status) CanTransitionTo(next Status) bool {
	for _, a := range transitions[s] {
		if next == a {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Action tracks one intent from submission to its execution result.
type Action struct {
	ID      uuid.UUID
	Account ledger.Account
	Kind    state.ActionKind
	Amount  uint256.Int

	Status        Status
	FailureReason string // set only when Failed
	TxHash        string // set by the execution result, when known

	// Client-supplied dedup key; empty when the caller sent none
	IdempotencyKey string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a *Action) IsTerminal() bool {
	return a.Status.IsTerminal()
}
