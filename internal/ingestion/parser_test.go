package ingestion_test

import (
	"BTCFiRisk/internal/event"
	"BTCFiRisk/internal/ingestion"
	"encoding/json"
	"testing"
	"time"
)

const (
	testActionID = "550e8400-e29b-41d4-a716-446655440000"
	testAccount  = "0x1111111111111111111111111111111111111111"
)

func rawFromJSON(t *testing.T, eventType string, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   "test",
		EventType: eventType,
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseActionResult(t *testing.T) {
	payload := map[string]interface{}{
		"action_id":    testActionID,
		"account":      "0x1111111111111111111111111111111111111111",
		"success":      true,
		"tx_hash":      "0xdeadbeef",
		"block_number": 42,
		"timestamp":    "2026-01-02T03:04:05Z",
	}

	raw := rawFromJSON(t, "ActionResult", payload)
	evt, err := ingestion.ParseRawEvent(raw, raw.EventType)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	r, ok := evt.(*event.ActionResult)
	if !ok {
		t.Fatalf("expected *event.ActionResult, got %T", evt)
	}
	if r.ActionID.String() != testActionID {
		t.Errorf("action_id: got %s", r.ActionID)
	}
	if !r.Success || r.TxHash != "0xdeadbeef" || r.BlockNumber != 42 {
		t.Errorf("unexpected result: %+v", r)
	}
	if r.EventType() != event.EventTypeActionResult {
		t.Errorf("event type: got %v, want ActionResult", r.EventType())
	}
	if r.Subject() != "btcfi.results."+testAccount {
		t.Errorf("subject: got %s", r.Subject())
	}
}

func TestParseActionResult_FailureDefaultsReason(t *testing.T) {
	payload := map[string]interface{}{
		"action_id": testActionID,
		"account":   testAccount,
		"success":   false,
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, "ActionResult", payload), "ActionResult")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if r := evt.(*event.ActionResult); r.Reason != "execution failed" {
		t.Errorf("reason: got %q, want default", r.Reason)
	}
}

func TestParseActionResult_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]interface{}
	}{
		{"missing id", map[string]interface{}{"account": testAccount, "success": true}},
		{"bad id", map[string]interface{}{"action_id": "nope", "account": testAccount}},
		{"bad account", map[string]interface{}{"action_id": testActionID, "account": "0x12"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ingestion.ParseRawEvent(rawFromJSON(t, "ActionResult", tt.payload), "ActionResult"); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestParseActionIntent(t *testing.T) {
	payload := map[string]interface{}{
		"action_id":  testActionID,
		"account":    testAccount,
		"action":     "withdraw",
		"method":     "withdraw_collateral",
		"amount":     "37500000",
		"created_at": "2026-01-02T03:04:05Z",
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, "ActionIntent", payload), "ActionIntent")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	intent, ok := evt.(*event.ActionIntent)
	if !ok {
		t.Fatalf("expected *event.ActionIntent, got %T", evt)
	}
	if intent.Subject() != "btcfi.intents.withdraw."+testAccount {
		t.Errorf("subject: got %s", intent.Subject())
	}
}

func TestParseActionIntent_Rejects(t *testing.T) {
	base := func() map[string]interface{} {
		return map[string]interface{}{
			"action_id": testActionID,
			"account":   testAccount,
			"action":    "borrow",
			"method":    "borrow",
			"amount":    "100",
		}
	}

	tests := []struct {
		name  string
		field string
		value interface{}
	}{
		{"zero amount", "amount", "0"},
		{"negative amount", "amount", "-5"},
		{"fractional amount", "amount", "1.5"},
		{"unknown action", "action", "liquidate"},
		{"method mismatch", "method", "repay"},
		{"bad quote price", "quote_price", "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := base()
			payload[tt.field] = tt.value
			if _, err := ingestion.ParseRawEvent(rawFromJSON(t, "ActionIntent", payload), "ActionIntent"); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestParseUnknownEventType(t *testing.T) {
	raw := rawFromJSON(t, "TradeFill", map[string]interface{}{})
	if _, err := ingestion.ParseRawEvent(raw, "TradeFill"); err == nil {
		t.Error("expected error for unknown event type")
	}
}
