package ingestion_test

import (
	"BTCFiRisk/internal/event"
	"BTCFiRisk/internal/ingestion"
	"BTCFiRisk/internal/ledger"
	"BTCFiRisk/internal/observability"
	"BTCFiRisk/internal/state"
	"BTCFiRisk/internal/testutil"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

type capturedMsg struct {
	subject string
	data    []byte
}

// fakeStream records publishes; it does not apply options.
type fakeStream struct {
	msgs []capturedMsg
	err  error
}

func (f *fakeStream) Publish(_ context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.msgs = append(f.msgs, capturedMsg{subject: subject, data: data})
	return &jetstream.PubAck{Stream: ingestion.IntentStream, Sequence: uint64(len(f.msgs))}, nil
}

func borrowIntent(t *testing.T) *event.ActionIntent {
	t.Helper()
	acct, err := ledger.ParseAccount(testAccount)
	if err != nil {
		t.Fatalf("ParseAccount: %v", err)
	}

	q := state.PriceQuote{Price: testutil.Units(10_000_000_000_000), BlockNumber: 123}
	after := state.NewPosition(100_000_000, 4_000_000_000_000)
	snap, err := state.NewRiskCalculator(state.DefaultRiskParams()).Snapshot(after, q)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	return event.NewActionIntent(
		uuid.MustParse(testActionID),
		acct,
		state.ActionBorrow,
		testutil.Units(4_000_000_000_000),
		&q,
		&snap,
		time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	)
}

// ============================================================================
// Test: IntentPublisher
// ============================================================================

func TestIntentPublisher_WireFormat(t *testing.T) {
	stream := &fakeStream{}
	pub := ingestion.NewIntentPublisher(stream, time.Second, nil)

	if err := pub.Publish(context.Background(), borrowIntent(t)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if len(stream.msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(stream.msgs))
	}

	msg := stream.msgs[0]
	if msg.subject != "btcfi.intents.borrow."+testAccount {
		t.Errorf("subject: got %s", msg.subject)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, msg.data, "", "  "); err != nil {
		t.Fatalf("indent: %v", err)
	}
	pretty.WriteByte('\n')
	testutil.AssertGolden(t, "intent_borrow.golden.json", pretty.Bytes())
}

func TestIntentPublisher_RoundTripsThroughParser(t *testing.T) {
	stream := &fakeStream{}
	pub := ingestion.NewIntentPublisher(stream, time.Second, nil)
	if err := pub.Publish(context.Background(), borrowIntent(t)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	raw := ingestion.RawEvent{Data: stream.msgs[0].data, EventType: "ActionIntent"}
	if _, err := ingestion.ParseRawEvent(raw, raw.EventType); err != nil {
		t.Errorf("published intent should parse: %v", err)
	}
}

func TestIntentPublisher_ErrorCounted(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	stream := &fakeStream{err: nats.ErrConnectionClosed}
	pub := ingestion.NewIntentPublisher(stream, time.Second, metrics)

	err := pub.Publish(context.Background(), borrowIntent(t))
	if !errors.Is(err, nats.ErrConnectionClosed) {
		t.Fatalf("got %v, want wrapped ErrConnectionClosed", err)
	}
	if got := promtest.ToFloat64(metrics.IntentPublishErr.WithLabelValues("borrow")); got != 1 {
		t.Errorf("publish errors: got %v, want 1", got)
	}
}

func TestStreamConfigs(t *testing.T) {
	cfgs := ingestion.StreamConfigs()
	if len(cfgs) != 2 {
		t.Fatalf("got %d streams, want 2", len(cfgs))
	}
	if cfgs[0].Subjects[0] != "btcfi.intents.>" || cfgs[1].Subjects[0] != "btcfi.results.>" {
		t.Errorf("unexpected subjects: %v / %v", cfgs[0].Subjects, cfgs[1].Subjects)
	}
	if cfgs[0].Duplicates == 0 {
		t.Error("intent stream needs a duplicate window for msg-id dedup")
	}
}
