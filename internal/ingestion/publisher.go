package ingestion

import (
	"BTCFiRisk/internal/event"
	"BTCFiRisk/internal/observability"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// StreamPublisher is the slice of jetstream.JetStream the intent publisher
// needs.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// IntentPublisher publishes validated action intents for the external signer.
// Subjects follow the pattern: btcfi.intents.{action}.{account}
type IntentPublisher struct {
	js      StreamPublisher
	timeout time.Duration
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewIntentPublisher(js StreamPublisher, timeout time.Duration, metrics *observability.Metrics) *IntentPublisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &IntentPublisher{
		js:      js,
		timeout: timeout,
		logger:  observability.NewLogger("ingestion"),
		metrics: metrics,
	}
}

// Publish sends the intent and waits for the stream ack. The action id is
// the JetStream message id, so a retried publish is deduplicated server-side.
func (ip *IntentPublisher) Publish(ctx context.Context, intent *event.ActionIntent) error {
	data, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("marshal intent: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, ip.timeout)
	defer cancel()

	ack, err := ip.js.Publish(ctx, intent.Subject(), data, jetstream.WithMsgID(intent.IdempotencyKey()))
	if err != nil {
		if ip.metrics != nil {
			ip.metrics.IntentPublishErr.WithLabelValues(intent.Action).Inc()
		}
		return fmt.Errorf("publish intent %s: %w", intent.ActionID, err)
	}

	if ip.metrics != nil {
		ip.metrics.IntentsPublished.WithLabelValues(intent.Action).Inc()
	}
	ev := ip.logger.Info().
		Str("action_id", intent.ActionID.String()).
		Str("subject", intent.Subject()).
		Str("amount", intent.Amount)
	if ack != nil {
		ev = ev.Uint64("stream_seq", ack.Sequence).Bool("duplicate", ack.Duplicate)
	}
	ev.Msg("intent published")
	return nil
}
