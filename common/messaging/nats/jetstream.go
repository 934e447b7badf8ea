// Package nats provides JetStream support for durable, persistent messaging.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/telhawk-systems/ingest-notify/common/logging"
	"github.com/telhawk-systems/ingest-notify/common/messaging"
)

// DefaultNakDelay is how long JetStream waits before redelivering a message
// whose handler failed with a retryable error.
const DefaultNakDelay = 5 * time.Second

// JetStreamClient extends Client with JetStream persistence capabilities.
type JetStreamClient struct {
	*Client
	js jetstream.JetStream
}

// StreamConfig defines a JetStream stream configuration.
type StreamConfig struct {
	// Name is the stream name.
	Name string

	// Subjects are the subjects this stream captures.
	Subjects []string

	// MaxAge is the maximum age of messages in the stream.
	MaxAge time.Duration

	// MaxBytes is the maximum total size of the stream.
	MaxBytes int64

	// MaxMsgs is the maximum number of messages in the stream.
	MaxMsgs int64

	// Retention policy (LimitsPolicy, InterestPolicy, WorkQueuePolicy).
	Retention jetstream.RetentionPolicy

	// Storage type (FileStorage, MemoryStorage).
	Storage jetstream.StorageType
}

// ConsumerConfig defines a JetStream consumer configuration.
type ConsumerConfig struct {
	// Name is the durable consumer name.
	Name string

	// FilterSubject filters which messages this consumer receives.
	FilterSubject string

	// AckWait is time to wait for acknowledgment before redelivery.
	AckWait time.Duration

	// MaxDeliver is maximum delivery attempts before giving up.
	MaxDeliver int

	// MaxAckPending is maximum unacknowledged messages.
	MaxAckPending int
}

// DefaultStreamConfig returns sensible defaults for a stream.
func DefaultStreamConfig(name string, subjects []string) StreamConfig {
	return StreamConfig{
		Name:      name,
		Subjects:  subjects,
		MaxAge:    24 * time.Hour,
		MaxBytes:  1024 * 1024 * 1024, // 1GB
		MaxMsgs:   1000000,
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	}
}

// DefaultConsumerConfig returns sensible defaults for a consumer.
func DefaultConsumerConfig(name, filterSubject string) ConsumerConfig {
	return ConsumerConfig{
		Name:          name,
		FilterSubject: filterSubject,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		MaxAckPending: 100,
	}
}

// NewJetStreamClient creates a JetStream-enabled client.
func NewJetStreamClient(cfg Config) (*JetStreamClient, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(client.conn)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &JetStreamClient{
		Client: client,
		js:     js,
	}, nil
}

// CreateOrUpdateStream creates or updates a stream.
func (c *JetStreamClient) CreateOrUpdateStream(ctx context.Context, cfg StreamConfig) (jetstream.Stream, error) {
	streamCfg := jetstream.StreamConfig{
		Name:      cfg.Name,
		Subjects:  cfg.Subjects,
		MaxAge:    cfg.MaxAge,
		MaxBytes:  cfg.MaxBytes,
		MaxMsgs:   cfg.MaxMsgs,
		Retention: cfg.Retention,
		Storage:   cfg.Storage,
	}

	stream, err := c.js.CreateOrUpdateStream(ctx, streamCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}

	return stream, nil
}

// CreateOrUpdateConsumer creates or updates a durable consumer.
func (c *JetStreamClient) CreateOrUpdateConsumer(ctx context.Context, streamName string, cfg ConsumerConfig) (jetstream.Consumer, error) {
	consumerCfg := jetstream.ConsumerConfig{
		Name:          cfg.Name,
		Durable:       cfg.Name,
		FilterSubject: cfg.FilterSubject,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		MaxAckPending: cfg.MaxAckPending,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}

	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", streamName, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, consumerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create/update consumer %s: %w", cfg.Name, err)
	}

	return consumer, nil
}

// PublishSync publishes a message and waits for acknowledgment.
func (c *JetStreamClient) PublishSync(ctx context.Context, subject string, data []byte) (*jetstream.PubAck, error) {
	return c.js.Publish(ctx, subject, data)
}

// PublishMsgSync publishes a Message with headers and waits for acknowledgment.
func (c *JetStreamClient) PublishMsgSync(ctx context.Context, msg *messaging.Message) (*jetstream.PubAck, error) {
	return c.js.PublishMsg(ctx, messageToNATS(msg))
}

// ConsumeMessages starts consuming messages from a consumer with the given handler.
// Successful messages are acked. Handler errors marked messaging.Permanent are
// terminated so JetStream never redelivers them; any other error is nak'ed with
// nakDelay so JetStream redelivers up to the consumer's MaxDeliver.
// Returns a function that stops consuming.
func (c *JetStreamClient) ConsumeMessages(ctx context.Context, streamName, consumerName string, nakDelay time.Duration, handler messaging.MessageHandler) (func(), error) {
	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", streamName, err)
	}

	consumer, err := stream.Consumer(ctx, consumerName)
	if err != nil {
		return nil, fmt.Errorf("failed to get consumer %s: %w", consumerName, err)
	}

	if nakDelay <= 0 {
		nakDelay = DefaultNakDelay
	}

	consumeCtx, cancel := context.WithCancel(ctx)

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		m := jetStreamToMessage(msg)

		if err := handler(consumeCtx, m); err != nil {
			if messaging.IsPermanent(err) {
				if termErr := msg.Term(); termErr != nil {
					c.logger.Warn("Failed to terminate message",
						logging.Subject(m.Subject), logging.Error(termErr))
				}
				return
			}
			if nakErr := msg.NakWithDelay(nakDelay); nakErr != nil {
				c.logger.Warn("Failed to nak message",
					logging.Subject(m.Subject), logging.Error(nakErr))
			}
			return
		}

		if ackErr := msg.Ack(); ackErr != nil {
			c.logger.Warn("Failed to ack message",
				logging.Subject(m.Subject), logging.Error(ackErr))
		}
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("JetStream consumer started",
		slog.String("stream", streamName),
		slog.String("consumer", consumerName))

	return func() {
		cancel()
		cons.Stop()
	}, nil
}

// jetStreamToMessage converts a JetStream message to our Message type,
// using the stream timestamp and delivery count when metadata is available.
func jetStreamToMessage(msg jetstream.Msg) *messaging.Message {
	m := &messaging.Message{
		Subject:   msg.Subject(),
		Data:      msg.Data(),
		Reply:     msg.Reply(),
		Metadata:  headerToMetadata(msg.Headers()),
		Timestamp: time.Now(),
	}
	if md, err := msg.Metadata(); err == nil && md != nil {
		m.Timestamp = md.Timestamp
		m.Attempt = int(md.NumDelivered)
	}
	return m
}

// Predefined stream configurations for the ingest notifier.
var (
	// IngestNotificationsStream captures status messages from pipeline services.
	IngestNotificationsStream = StreamConfig{
		Name:      "INGEST_NOTIFICATIONS",
		Subjects:  []string{messaging.SubjectIngestNotificationsStatus},
		MaxAge:    24 * time.Hour,
		MaxBytes:  100 * 1024 * 1024, // 100MB
		MaxMsgs:   100000,
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	}

	// IngestNotifyDLQStream keeps rejected status messages for inspection.
	IngestNotifyDLQStream = StreamConfig{
		Name:      "INGEST_NOTIFY_DLQ",
		Subjects:  []string{messaging.SubjectIngestNotificationsDLQ + ".>"},
		MaxAge:    7 * 24 * time.Hour,
		MaxBytes:  100 * 1024 * 1024, // 100MB
		MaxMsgs:   100000,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	}
)
