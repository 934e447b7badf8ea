package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/telhawk-systems/ingest-notify/common/logging"
	"github.com/telhawk-systems/ingest-notify/common/messaging"
	"github.com/telhawk-systems/ingest-notify/common/messaging/nats"
)

// Source delivers messages to a handler until its context is cancelled.
type Source interface {
	Run(ctx context.Context, handler messaging.MessageHandler) error
	Name() string
}

// NATSSource consumes core NATS messages through a queue group, so several
// notifier instances share the load. Core NATS does not redeliver; failures
// are only logged.
type NATSSource struct {
	subscriber messaging.Subscriber
	subject    string
	queue      string
	logger     *slog.Logger
}

// NewNATSSource creates a core NATS source. Empty subject and queue use the
// standard ingest names.
func NewNATSSource(subscriber messaging.Subscriber, subject, queue string, logger *slog.Logger) *NATSSource {
	if subject == "" {
		subject = messaging.SubjectIngestNotificationsStatus
	}
	if queue == "" {
		queue = messaging.QueueNotifyWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSSource{
		subscriber: subscriber,
		subject:    subject,
		queue:      queue,
		logger:     logger.With(logging.Component("nats-source")),
	}
}

func (s *NATSSource) Name() string { return "nats" }

func (s *NATSSource) Run(ctx context.Context, handler messaging.MessageHandler) error {
	sub, err := s.subscriber.QueueSubscribe(s.subject, s.queue, func(msgCtx context.Context, msg *messaging.Message) error {
		return handler(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", s.subject, err)
	}
	s.logger.Info("Subscribed to ingest status messages",
		logging.Subject(s.subject),
		slog.String("queue", s.queue))

	<-ctx.Done()

	if err := sub.Unsubscribe(); err != nil {
		s.logger.Warn("Failed to unsubscribe", logging.Subject(s.subject), logging.Error(err))
	}
	return nil
}

// JetStreamSource consumes from a durable JetStream consumer. Retryable
// failures are redelivered after NakDelay, up to the consumer's MaxDeliver.
type JetStreamSource struct {
	js       *nats.JetStreamClient
	stream   nats.StreamConfig
	consumer nats.ConsumerConfig
	nakDelay time.Duration
	logger   *slog.Logger
}

// JetStreamOptions configures a JetStreamSource.
type JetStreamOptions struct {
	Subject    string
	Durable    string
	MaxDeliver int
	AckWait    time.Duration
	NakDelay   time.Duration
}

// NewJetStreamSource creates a durable JetStream source.
func NewJetStreamSource(js *nats.JetStreamClient, opts JetStreamOptions, logger *slog.Logger) *JetStreamSource {
	if logger == nil {
		logger = slog.Default()
	}
	stream, consumer := jetStreamConfigs(opts)
	return &JetStreamSource{
		js:       js,
		stream:   stream,
		consumer: consumer,
		nakDelay: opts.NakDelay,
		logger:   logger.With(logging.Component("jetstream-source")),
	}
}

func jetStreamConfigs(opts JetStreamOptions) (nats.StreamConfig, nats.ConsumerConfig) {
	subject := opts.Subject
	if subject == "" {
		subject = messaging.SubjectIngestNotificationsStatus
	}
	durable := opts.Durable
	if durable == "" {
		durable = messaging.QueueNotifyWorkers
	}

	stream := nats.IngestNotificationsStream
	stream.Subjects = []string{subject}

	consumer := nats.DefaultConsumerConfig(durable, subject)
	if opts.MaxDeliver > 0 {
		consumer.MaxDeliver = opts.MaxDeliver
	}
	if opts.AckWait > 0 {
		consumer.AckWait = opts.AckWait
	}
	return stream, consumer
}

func (s *JetStreamSource) Name() string { return "jetstream" }

func (s *JetStreamSource) Run(ctx context.Context, handler messaging.MessageHandler) error {
	if _, err := s.js.CreateOrUpdateStream(ctx, s.stream); err != nil {
		return err
	}
	if _, err := s.js.CreateOrUpdateConsumer(ctx, s.stream.Name, s.consumer); err != nil {
		return err
	}

	stop, err := s.js.ConsumeMessages(ctx, s.stream.Name, s.consumer.Name, s.nakDelay, handler)
	if err != nil {
		return err
	}

	<-ctx.Done()
	stop()
	return nil
}
