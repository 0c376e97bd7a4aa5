package ingestion

import (
	"BTCFiRisk/internal/event"
	"BTCFiRisk/internal/ledger"
	"BTCFiRisk/internal/state"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type string) into a
// typed event.Event. Malformed messages are rejected here so the result
// processor only ever sees well-formed payloads.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	switch event.ParseEventType(eventType) {
	case event.EventTypeActionIntent:
		return parseActionIntent(raw.Data)
	case event.EventTypeActionResult:
		return parseActionResult(raw.Data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
}

func parseActionIntent(data []byte) (*event.ActionIntent, error) {
	var intent event.ActionIntent
	if err := json.Unmarshal(data, &intent); err != nil {
		return nil, fmt.Errorf("parse ActionIntent: %w", err)
	}
	if intent.ActionID == uuid.Nil {
		return nil, fmt.Errorf("parse action_id: missing")
	}
	if _, err := ledger.ParseAccount(intent.Account); err != nil {
		return nil, fmt.Errorf("parse account: %w", err)
	}

	kind, err := state.ParseActionKind(intent.Action)
	if err != nil {
		return nil, fmt.Errorf("parse action: %w", err)
	}
	if intent.Method != kind.ContractMethod() {
		return nil, fmt.Errorf("method %q does not match action %s", intent.Method, kind)
	}

	amount, err := uint256.FromDecimal(intent.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	if amount.IsZero() {
		return nil, fmt.Errorf("parse amount: must be positive")
	}
	if intent.QuotePrice != "" {
		if _, err := uint256.FromDecimal(intent.QuotePrice); err != nil {
			return nil, fmt.Errorf("parse quote_price: %w", err)
		}
	}
	return &intent, nil
}

func parseActionResult(data []byte) (*event.ActionResult, error) {
	var result event.ActionResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("parse ActionResult: %w", err)
	}
	if result.ActionID == uuid.Nil {
		return nil, fmt.Errorf("parse action_id: missing")
	}
	if _, err := ledger.ParseAccount(result.Account); err != nil {
		return nil, fmt.Errorf("parse account: %w", err)
	}
	result.Account = strings.ToLower(result.Account)

	if !result.Success && strings.TrimSpace(result.Reason) == "" {
		result.Reason = "execution failed"
	}
	return &result, nil
}
