// Package consumer connects message transports to the notification pipeline.
// Every adapter runs exactly one pipeline invocation per delivered message.
package consumer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/telhawk-systems/ingest-notify/common/logging"
	"github.com/telhawk-systems/ingest-notify/common/messaging"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/dlq"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/event"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/metrics"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/pipeline"
)

// Processor runs one invocation.
type Processor interface {
	Process(ctx context.Context, attrs event.Attributes) pipeline.Result
}

// DeadLetterWriter stores messages that could not be decoded.
type DeadLetterWriter interface {
	Write(ctx context.Context, attrs event.Attributes, err error, reason string) error
}

// Handler adapts a Processor to messaging.MessageHandler.
type Handler struct {
	processor   Processor
	deadLetter  DeadLetterWriter
	logger      *slog.Logger
	maxAttempts int
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithMaxAttempts sets the broker's delivery limit. A message that still fails
// on its last attempt is written to the dead-letter queue and terminated.
// Zero disables the check.
func WithMaxAttempts(n int) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.maxAttempts = n
		}
	}
}

// NewHandler creates a Handler. deadLetter may be nil.
func NewHandler(processor Processor, deadLetter DeadLetterWriter, logger *slog.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		processor:  processor,
		deadLetter: deadLetter,
		logger:     logger.With(logging.Component("consumer")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle processes msg. Rejections come back wrapped with messaging.Permanent
// so the transport does not redeliver them; delivery failures stay retryable.
func (h *Handler) Handle(ctx context.Context, msg *messaging.Message) error {
	ctx = logging.WithInvocationID(ctx, uuid.NewString())

	attrs, err := DecodeAttributes(msg)
	if err != nil {
		return h.undecodable(ctx, msg, err)
	}

	res := h.processor.Process(ctx, attrs)
	switch res.State {
	case pipeline.StateDispatched:
		if res.HookErr != nil {
			// Redelivery would send the notification again.
			h.logger.WarnContext(ctx, "Notification delivered but post-delivery hook failed; not redelivering",
				logging.InvocationID(res.InvocationID),
				logging.Error(res.HookErr))
		}
		return nil
	case pipeline.StateRejected:
		if errors.Is(res.Err, pipeline.ErrHook) {
			return res.Err
		}
		return messaging.Permanent(res.Err)
	default:
		if h.lastAttempt(msg) {
			return h.exhausted(ctx, attrs, res.Err)
		}
		return res.Err
	}
}

func (h *Handler) lastAttempt(msg *messaging.Message) bool {
	return h.maxAttempts > 0 && msg.Attempt >= h.maxAttempts
}

// exhausted dead-letters a message the broker will not redeliver again.
func (h *Handler) exhausted(ctx context.Context, attrs event.Attributes, err error) error {
	h.logger.ErrorContext(ctx, "Ingest notification undeliverable after final attempt",
		logging.InvocationID(logging.GetInvocationID(ctx)),
		slog.Int("attempts", h.maxAttempts),
		logging.Error(err))

	if h.deadLetter == nil {
		return err
	}
	if dlqErr := h.deadLetter.Write(ctx, attrs, err, dlq.ReasonDelivery); dlqErr != nil {
		return errors.Join(err, dlqErr)
	}
	return messaging.Permanent(err)
}

// HandlerFunc returns Handle as a messaging.MessageHandler.
func (h *Handler) HandlerFunc() messaging.MessageHandler {
	return h.Handle
}

func (h *Handler) undecodable(ctx context.Context, msg *messaging.Message, err error) error {
	metrics.EventsTotal.WithLabelValues(pipeline.StateRejected.String()).Inc()
	h.logger.ErrorContext(ctx, "Undecodable ingest status message",
		logging.Subject(msg.Subject),
		logging.InvocationID(logging.GetInvocationID(ctx)),
		logging.Error(err))

	if h.deadLetter != nil {
		raw := event.Attributes{"raw_body": string(msg.Data)}
		if dlqErr := h.deadLetter.Write(ctx, raw, err, dlq.ReasonDecode); dlqErr != nil {
			return errors.Join(err, dlqErr)
		}
	}
	return messaging.Permanent(err)
}
