// Package dlq keeps rejected and undeliverable ingest status messages on a
// JetStream stream so operators can inspect and purge them.
package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/ingest-notify/common/logging"
	"github.com/telhawk-systems/ingest-notify/common/messaging"
	"github.com/telhawk-systems/ingest-notify/common/messaging/nats"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/dispatch"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/event"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/metrics"
)

// Rejection reasons, used as the last subject token.
const (
	ReasonValidation = "validation"
	ReasonDecode     = "decode"
	ReasonDelivery   = "delivery"
	ReasonUnknown    = "unknown"
)

// ErrDisabled is returned by read operations on a nil queue.
var ErrDisabled = errors.New("dlq not enabled")

// RejectedEvent is the record stored for each rejected message.
type RejectedEvent struct {
	Timestamp  time.Time        `json:"timestamp"`
	Attributes event.Attributes `json:"attributes"`
	Error      string           `json:"error"`
	Problems   []event.Problem  `json:"problems,omitempty"`
	Reason     string           `json:"reason"`
}

// ReasonFor classifies a rejection error.
func ReasonFor(err error) string {
	switch {
	case errors.Is(err, event.ErrValidation):
		return ReasonValidation
	case errors.Is(err, dispatch.ErrDelivery):
		return ReasonDelivery
	default:
		return ReasonUnknown
	}
}

// NewRejectedEvent builds the DLQ record for attrs.
func NewRejectedEvent(attrs event.Attributes, err error, reason string) RejectedEvent {
	rec := RejectedEvent{
		Timestamp:  time.Now().UTC(),
		Attributes: attrs,
		Reason:     reason,
	}
	if err != nil {
		rec.Error = err.Error()
		var verr *event.ValidationError
		if errors.As(err, &verr) {
			rec.Problems = verr.Problems
		}
	}
	return rec
}

type syncPublisher interface {
	PublishSync(ctx context.Context, subject string, data []byte) (*jetstream.PubAck, error)
}

// JetStreamQueue writes rejected events to NATS JetStream.
// Safe for use across multiple notifier instances.
type JetStreamQueue struct {
	js      syncPublisher
	stream  jetstream.Stream
	logger  *slog.Logger
	written uint64
}

// NewJetStreamQueue creates a DLQ backed by NATS JetStream.
func NewJetStreamQueue(ctx context.Context, js *nats.JetStreamClient, logger *slog.Logger) (*JetStreamQueue, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream client is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	stream, err := js.CreateOrUpdateStream(ctx, nats.IngestNotifyDLQStream)
	if err != nil {
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}

	logger = logger.With(logging.Component("dlq"))
	logger.Info("DLQ stream ready", slog.String("stream", nats.IngestNotifyDLQStream.Name))

	return &JetStreamQueue{
		js:     js,
		stream: stream,
		logger: logger,
	}, nil
}

// Write records a rejected message on ingest.notifications.dlq.<reason>.
func (q *JetStreamQueue) Write(ctx context.Context, attrs event.Attributes, err error, reason string) error {
	if q == nil {
		return nil
	}

	data, marshalErr := json.Marshal(NewRejectedEvent(attrs, err, reason))
	if marshalErr != nil {
		return fmt.Errorf("marshal dlq entry: %w", marshalErr)
	}

	subject := messaging.DLQSubject(reason)
	if _, pubErr := q.js.PublishSync(ctx, subject, data); pubErr != nil {
		q.logger.ErrorContext(ctx, "Failed to publish DLQ entry",
			logging.Subject(subject),
			logging.Error(pubErr))
		return fmt.Errorf("publish dlq entry: %w", pubErr)
	}

	atomic.AddUint64(&q.written, 1)
	metrics.DLQWrittenTotal.WithLabelValues(reason).Inc()
	q.logger.InfoContext(ctx, "Published rejected event",
		logging.Subject(subject),
		logging.InvocationID(logging.GetInvocationID(ctx)))
	return nil
}

// OnRejected stores a rejected input. It matches pipeline.RejectHook.
func (q *JetStreamQueue) OnRejected(ctx context.Context, attrs event.Attributes, err error) error {
	return q.Write(ctx, attrs, err, ReasonFor(err))
}

// Stats returns DLQ metrics from JetStream.
func (q *JetStreamQueue) Stats(ctx context.Context) map[string]interface{} {
	if q == nil {
		return map[string]interface{}{
			"enabled": false,
			"backend": "jetstream",
		}
	}

	info, err := q.stream.Info(ctx)
	if err != nil {
		return map[string]interface{}{
			"enabled":       true,
			"backend":       "jetstream",
			"written_local": atomic.LoadUint64(&q.written),
			"error":         err.Error(),
		}
	}

	return map[string]interface{}{
		"enabled":        true,
		"backend":        "jetstream",
		"written_local":  atomic.LoadUint64(&q.written),
		"total_messages": info.State.Msgs,
		"total_bytes":    info.State.Bytes,
		"first_seq":      info.State.FirstSeq,
		"last_seq":       info.State.LastSeq,
		"consumer_count": info.State.Consumers,
	}
}

// List returns up to limit rejected events, oldest first.
func (q *JetStreamQueue) List(ctx context.Context, limit int) ([]RejectedEvent, error) {
	if q == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 100
	}

	// Ephemeral consumer; nothing is acknowledged so entries stay put.
	consumer, err := q.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{messaging.SubjectIngestNotificationsDLQ + ".>"},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create list consumer: %w", err)
	}

	msgs, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	var events []RejectedEvent
	for msg := range msgs.Messages() {
		var rec RejectedEvent
		if err := json.Unmarshal(msg.Data(), &rec); err != nil {
			q.logger.WarnContext(ctx, "Skipping unreadable DLQ entry", logging.Error(err))
			continue
		}
		events = append(events, rec)
	}
	if err := msgs.Error(); err != nil && !errors.Is(err, jetstream.ErrNoMessages) {
		q.logger.WarnContext(ctx, "DLQ fetch completed with error", logging.Error(err))
	}

	return events, nil
}

// Purge removes all events from the DLQ stream.
func (q *JetStreamQueue) Purge(ctx context.Context) error {
	if q == nil {
		return ErrDisabled
	}
	if err := q.stream.Purge(ctx); err != nil {
		return fmt.Errorf("purge dlq stream: %w", err)
	}
	q.logger.InfoContext(ctx, "Purged DLQ stream")
	return nil
}

// Written returns how many entries this instance has published.
func (q *JetStreamQueue) Written() uint64 {
	if q == nil {
		return 0
	}
	return atomic.LoadUint64(&q.written)
}
