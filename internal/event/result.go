package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionResult reports how the external ledger executed an intent.
type ActionResult struct {
	ActionID    uuid.UUID `json:"action_id"`
	Account     string    `json:"account"`
	Success     bool      `json:"success"`
	TxHash      string    `json:"tx_hash,omitempty"`
	BlockNumber uint64    `json:"block_number,omitempty"`
	Reason      string    `json:"reason,omitempty"` // set when Success is false
	Timestamp   time.Time `json:"timestamp"`
}

func (r *ActionResult) IdempotencyKey() string {
	return r.ActionID.String()
}

func (r *ActionResult) EventType() EventType {
	return EventTypeActionResult
}

// Subject is btcfi.results.<account>.
func (r *ActionResult) Subject() string {
	return fmt.Sprintf("%s.%s", ResultSubjectRoot, r.Account)
}
