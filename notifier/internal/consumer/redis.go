package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/ingest-notify/common/logging"
	"github.com/telhawk-systems/ingest-notify/common/messaging"
)

// Stream fields carrying the JSON body; every other field is an attribute.
// When an entry has both, RedisBodyField wins.
const (
	RedisBodyField = "body"
	RedisDataField = "data"
)

// RedisOptions configures a RedisSource.
type RedisOptions struct {
	Stream   string
	Group    string
	Consumer string
	Count    int64
	// Block is how long XREADGROUP waits for new entries. A negative value
	// polls without blocking.
	Block time.Duration
	// MinIdle is how long an entry must stay unacknowledged before another
	// consumer reclaims it for a retry.
	MinIdle time.Duration
}

// RedisSource consumes a Redis stream through a consumer group. Successful
// and permanently failed entries are acknowledged; retryable failures stay
// pending and are reclaimed after MinIdle.
type RedisSource struct {
	client redis.UniversalClient
	opts   RedisOptions
	logger *slog.Logger
}

// NewRedisSource creates a Redis Streams source.
func NewRedisSource(client redis.UniversalClient, opts RedisOptions, logger *slog.Logger) *RedisSource {
	if opts.Stream == "" {
		opts.Stream = messaging.SubjectIngestNotificationsStatus
	}
	if opts.Group == "" {
		opts.Group = messaging.QueueNotifyWorkers
	}
	if opts.Consumer == "" {
		opts.Consumer = "notifier"
	}
	if opts.Count <= 0 {
		opts.Count = 10
	}
	if opts.Block == 0 {
		opts.Block = 5 * time.Second
	}
	if opts.MinIdle <= 0 {
		opts.MinIdle = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisSource{
		client: client,
		opts:   opts,
		logger: logger.With(logging.Component("redis-source")),
	}
}

func (s *RedisSource) Name() string { return "redis" }

// EnsureGroup creates the stream and consumer group when missing.
func (s *RedisSource) EnsureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.opts.Stream, s.opts.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", s.opts.Group, err)
	}
	return nil
}

// CheckHealth pings Redis.
func (s *RedisSource) CheckHealth(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisSource) Run(ctx context.Context, handler messaging.MessageHandler) error {
	if err := s.EnsureGroup(ctx); err != nil {
		return err
	}
	s.logger.Info("Consuming Redis stream",
		slog.String("stream", s.opts.Stream),
		slog.String("group", s.opts.Group),
		slog.String("consumer", s.opts.Consumer))

	reclaim := time.NewTicker(s.opts.MinIdle)
	defer reclaim.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-reclaim.C:
			if _, err := s.Reclaim(ctx, handler); err != nil && ctx.Err() == nil {
				s.logger.Warn("Reclaiming pending entries failed", logging.Error(err))
			}
		default:
		}

		if _, err := s.Poll(ctx, handler); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("Reading Redis stream failed", logging.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// Poll reads new entries once and handles them. It returns how many entries
// were handled.
func (s *RedisSource) Poll(ctx context.Context, handler messaging.MessageHandler) (int, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.opts.Group,
		Consumer: s.opts.Consumer,
		Streams:  []string{s.opts.Stream, ">"},
		Count:    s.opts.Count,
		Block:    s.opts.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	n := 0
	for _, stream := range streams {
		for _, entry := range stream.Messages {
			s.handle(ctx, entry, handler)
			n++
		}
	}
	return n, nil
}

// Reclaim takes over entries left pending longer than MinIdle and handles
// them again.
func (s *RedisSource) Reclaim(ctx context.Context, handler messaging.MessageHandler) (int, error) {
	entries, _, err := s.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   s.opts.Stream,
		Group:    s.opts.Group,
		Consumer: s.opts.Consumer,
		MinIdle:  s.opts.MinIdle,
		Start:    "0-0",
		Count:    s.opts.Count,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("reclaim pending entries: %w", err)
	}

	for _, entry := range entries {
		s.handle(ctx, entry, handler)
	}
	return len(entries), nil
}

func (s *RedisSource) handle(ctx context.Context, entry redis.XMessage, handler messaging.MessageHandler) {
	msg := redisToMessage(s.opts.Stream, entry)

	if err := handler(ctx, msg); err != nil && !messaging.IsPermanent(err) {
		s.logger.WarnContext(ctx, "Leaving entry pending for retry",
			slog.String("entry_id", entry.ID),
			logging.Error(err))
		return
	}

	if err := s.client.XAck(ctx, s.opts.Stream, s.opts.Group, entry.ID).Err(); err != nil {
		s.logger.WarnContext(ctx, "Failed to ack entry",
			slog.String("entry_id", entry.ID),
			logging.Error(err))
	}
}

func redisToMessage(stream string, entry redis.XMessage) *messaging.Message {
	msg := &messaging.Message{
		Subject:   stream,
		Metadata:  make(map[string]string, len(entry.Values)),
		Timestamp: entryTime(entry.ID),
	}
	for k, v := range entry.Values {
		switch k {
		case RedisBodyField, RedisDataField:
		default:
			msg.Metadata[k] = fmt.Sprint(v)
		}
	}
	for _, field := range []string{RedisBodyField, RedisDataField} {
		if v, ok := entry.Values[field]; ok {
			msg.Data = []byte(fmt.Sprint(v))
			break
		}
	}
	return msg
}

// entryTime reads the millisecond timestamp from a stream entry ID.
func entryTime(id string) time.Time {
	ms, _, ok := strings.Cut(id, "-")
	if !ok {
		return time.Now()
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.UnixMilli(n)
}
