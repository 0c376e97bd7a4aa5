package event

// EventType discriminator for messages exchanged with the external ledger
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeActionIntent
	EventTypeActionResult
)

// Subject roots on the bus. Intents go out under IntentSubjectRoot, execution
// results come back under ResultSubjectRoot.
const (
	IntentSubjectRoot = "btcfi.intents"
	ResultSubjectRoot = "btcfi.results"
)

// Event is the interface all bus payloads implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Subject returns the bus subject the event is published on
	Subject() string
}

func (et EventType) String() string {
	switch et {
	case EventTypeActionIntent:
		return "ActionIntent"
	case EventTypeActionResult:
		return "ActionResult"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of String. Unknown names map to EventTypeUnknown.
func ParseEventType(s string) EventType {
	switch s {
	case "ActionIntent":
		return EventTypeActionIntent
	case "ActionResult":
		return EventTypeActionResult
	default:
		return EventTypeUnknown
	}
}
