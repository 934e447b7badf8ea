package cmd

import (
	"errors"

	"github.com/telhawk-systems/ingest-notify/common/logging"
	natsclient "github.com/telhawk-systems/ingest-notify/common/messaging/nats"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/config"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/dispatch"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/format"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/notification"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/pipeline"
)

func newLogger(cfg *config.Config) *logging.Logger {
	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("ingest-notify"))
	logging.SetDefault(logger)
	return logger
}

// buildSender assembles the configured notification targets. Several targets
// are fanned out through a MultiChannel.
func buildSender(cfg *config.Config, logger *logging.Logger) (dispatch.Sender, error) {
	n := cfg.Notification
	timeout := n.Timeout()

	var channels []notification.Channel
	if n.SlackWebhookURL != "" {
		channels = append(channels, notification.NewSlackChannel(n.SlackWebhookURL, timeout))
	}
	if n.WebhookURL != "" {
		channels = append(channels, notification.NewWebhookChannel(n.WebhookURL, timeout))
	}
	if n.SMTP.Enabled() {
		channels = append(channels, notification.NewSMTPChannel(n.SMTP, timeout))
	}
	if n.Log {
		channels = append(channels, notification.NewLogChannel(logger.Logger))
	}

	switch len(channels) {
	case 0:
		return nil, errors.New("no notification target configured")
	case 1:
		return channels[0], nil
	default:
		return notification.NewMultiChannel(channels...), nil
	}
}

func buildProcessor(cfg *config.Config, sender dispatch.Sender, logger *logging.Logger, opts ...pipeline.Option) (*pipeline.Processor, error) {
	style, err := format.ParseDataStyle(cfg.Format.DataStyle)
	if err != nil {
		return nil, err
	}
	formatter := format.New(format.Options{
		DataStyle:         style,
		MaxTracebackBytes: cfg.Format.MaxTracebackBytes,
	})
	dispatcher := dispatch.New(sender, logger.Logger)

	opts = append([]pipeline.Option{pipeline.WithLogger(logger.Logger)}, opts...)
	return pipeline.New(formatter, dispatcher, opts...), nil
}

func natsConfig(cfg *config.Config) natsclient.Config {
	nc := natsclient.DefaultConfig()
	nc.URL = cfg.NATS.URL
	if cfg.NATS.Name != "" {
		nc.Name = cfg.NATS.Name
	}
	nc.MaxReconnects = cfg.NATS.MaxReconnects
	if cfg.NATS.ReconnectWait > 0 {
		nc.ReconnectWait = cfg.NATS.ReconnectWait
	}
	if cfg.NATS.Timeout > 0 {
		nc.Timeout = cfg.NATS.Timeout
	}
	nc.Username = cfg.NATS.Username
	nc.Password = cfg.NATS.Password
	nc.Token = cfg.NATS.Token
	return nc
}
