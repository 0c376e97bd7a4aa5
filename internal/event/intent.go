package event

import (
	"BTCFiRisk/internal/ledger"
	"BTCFiRisk/internal/state"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// ActionIntent asks the external ledger to execute one validated action.
// Amounts are decimal strings of unsigned integer units.
type ActionIntent struct {
	ActionID uuid.UUID `json:"action_id"`
	Account  string    `json:"account"`
	Action   string    `json:"action"`
	Method   string    `json:"method"`
	Amount   string    `json:"amount"`

	// Quote the validation ran against; empty for price-independent actions
	QuotePrice string `json:"quote_price,omitempty"`
	QuoteBlock uint64 `json:"quote_block,omitempty"`

	// Projected health factor after the action at contract scale (150 = 1.50), "0" = no debt
	ProjectedHealthFactor string `json:"projected_health_factor,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewActionIntent builds the intent for an accepted action. quote and after
// may be nil when the action did not need a price.
func NewActionIntent(
	id uuid.UUID,
	acct ledger.Account,
	kind state.ActionKind,
	amount uint256.Int,
	quote *state.PriceQuote,
	after *state.RiskSnapshot,
	createdAt time.Time,
) *ActionIntent {
	intent := &ActionIntent{
		ActionID:  id,
		Account:   strings.ToLower(acct.Hex()),
		Action:    kind.String(),
		Method:    kind.ContractMethod(),
		Amount:    amount.Dec(),
		CreatedAt: createdAt.UTC(),
	}
	if quote != nil && quote.Valid() {
		intent.QuotePrice = quote.Price.Dec()
		intent.QuoteBlock = quote.BlockNumber
	}
	if after != nil {
		hf := after.HealthFactor.Hundredths()
		intent.ProjectedHealthFactor = hf.Dec()
	}
	return intent
}

func (i *ActionIntent) IdempotencyKey() string {
	return i.ActionID.String()
}

func (i *ActionIntent) EventType() EventType {
	return EventTypeActionIntent
}

// Subject is btcfi.intents.<action>.<account>.
func (i *ActionIntent) Subject() string {
	return fmt.Sprintf("%s.%s.%s", IntentSubjectRoot, i.Action, i.Account)
}
