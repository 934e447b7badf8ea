package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/telhawk-systems/ingest-notify/common/logging"
	"github.com/telhawk-systems/ingest-notify/common/messaging"
	natsclient "github.com/telhawk-systems/ingest-notify/common/messaging/nats"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/chain"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/config"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/consumer"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/dlq"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/pipeline"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Consume ingest status messages and deliver notifications",
	Long: `Connects to the configured transport and runs one notification
invocation per status message until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Starting ingest notifier",
		slog.String("transport", cfg.Transport),
		slog.Int("port", cfg.Server.Port),
		slog.String("log_level", cfg.Logging.Level),
		slog.Bool("dlq_enabled", cfg.DLQ.Enabled),
		slog.Bool("chain_enabled", cfg.Chain.Enabled))

	sender, err := buildSender(cfg, logger)
	if err != nil {
		return err
	}

	var js *natsclient.JetStreamClient
	if cfg.NeedsNATS() {
		js, err = natsclient.NewJetStreamClient(natsConfig(cfg))
		if err != nil {
			return err
		}
		defer func() {
			if err := js.Drain(); err != nil {
				logger.Warn("Failed to drain NATS connection", logging.Error(err))
			}
		}()
		logger.Info("Connected to NATS", slog.String("url", cfg.NATS.URL))
	}

	var (
		opts       []pipeline.Option
		deadLetter consumer.DeadLetterWriter
		queue      server.DeadLetterQueue
	)
	if cfg.DLQ.Enabled {
		q, err := dlq.NewJetStreamQueue(ctx, js, logger.Logger)
		if err != nil {
			return err
		}
		opts = append(opts, pipeline.WithRejectHook(q.OnRejected))
		deadLetter, queue = q, q
	}
	if cfg.Chain.Enabled {
		trigger := chain.New(js, cfg.Chain.Subject, cfg.Chain.NextServices, logger.Logger)
		opts = append(opts, pipeline.WithDeliveredHook(trigger.OnDelivered))
	}

	processor, err := buildProcessor(cfg, sender, logger, opts...)
	if err != nil {
		return err
	}
	var handlerOpts []consumer.HandlerOption
	if cfg.Transport == config.TransportJetStream {
		handlerOpts = append(handlerOpts, consumer.WithMaxAttempts(cfg.JetStream.MaxDeliver))
	}
	handler := consumer.NewHandler(processor, deadLetter, logger.Logger, handlerOpts...)

	source, ready, closeSource, err := buildSource(cfg, js, logger)
	if err != nil {
		return err
	}
	defer closeSource()

	httpServer := server.New(cfg.Server, server.NewRouter(ready, queue, logger.Logger))

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Consuming ingest status messages", slog.String("source", source.Name()))
		if err := source.Run(gCtx, handler.HandlerFunc()); err != nil {
			return fmt.Errorf("%s source: %w", source.Name(), err)
		}
		return nil
	})
	g.Go(func() error {
		return server.Serve(gCtx, httpServer, cfg.Server.ShutdownTimeout)
	})

	err = g.Wait()
	logger.Info("Ingest notifier stopped")
	return err
}

// buildSource returns the transport source with its readiness check and a
// cleanup function.
func buildSource(cfg *config.Config, js *natsclient.JetStreamClient, logger *logging.Logger) (consumer.Source, server.ReadinessCheck, func(), error) {
	natsReady := func(ctx context.Context) error {
		status := messaging.CheckClientHealth(ctx, js)
		if !status.Connected {
			return fmt.Errorf("nats: %s", status.Error)
		}
		return nil
	}

	switch cfg.Transport {
	case config.TransportNATS:
		src := consumer.NewNATSSource(js, cfg.NATS.Subject, cfg.NATS.Queue, logger.Logger)
		return src, natsReady, func() {}, nil

	case config.TransportJetStream:
		src := consumer.NewJetStreamSource(js, consumer.JetStreamOptions{
			Subject:    cfg.NATS.Subject,
			Durable:    cfg.JetStream.Durable,
			MaxDeliver: cfg.JetStream.MaxDeliver,
			AckWait:    cfg.JetStream.AckWait,
			NakDelay:   cfg.JetStream.NakDelay,
		}, logger.Logger)
		return src, natsReady, func() {}, nil

	case config.TransportRedis:
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("invalid redis URL: %w", err)
		}
		client := redis.NewClient(opt)
		src := consumer.NewRedisSource(client, consumer.RedisOptions{
			Stream:   cfg.Redis.Stream,
			Group:    cfg.Redis.Group,
			Consumer: cfg.Redis.Consumer,
			Count:    cfg.Redis.Count,
			Block:    cfg.Redis.Block,
			MinIdle:  cfg.Redis.MinIdle,
		}, logger.Logger)
		closeFn := func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close redis client", logging.Error(err))
			}
		}
		return src, src.CheckHealth, closeFn, nil

	default:
		return nil, nil, nil, fmt.Errorf("unsupported transport %q", cfg.Transport)
	}
}
