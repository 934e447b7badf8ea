package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/telhawk-systems/ingest-notify/notifier/internal/format"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/notification"
)

// Transport names.
const (
	TransportNATS      = "nats"
	TransportJetStream = "jetstream"
	TransportRedis     = "redis"
)

const redacted = "********"

type Config struct {
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
	Transport    string             `mapstructure:"transport" yaml:"transport"`
	NATS         NATSConfig         `mapstructure:"nats" yaml:"nats"`
	JetStream    JetStreamConfig    `mapstructure:"jetstream" yaml:"jetstream"`
	Redis        RedisConfig        `mapstructure:"redis" yaml:"redis"`
	Format       FormatConfig       `mapstructure:"format" yaml:"format"`
	Notification NotificationConfig `mapstructure:"notification" yaml:"notification"`
	DLQ          DLQConfig          `mapstructure:"dlq" yaml:"dlq"`
	Chain        ChainConfig        `mapstructure:"chain" yaml:"chain"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

type NATSConfig struct {
	URL           string        `mapstructure:"url" yaml:"url"`
	Name          string        `mapstructure:"name" yaml:"name"`
	Subject       string        `mapstructure:"subject" yaml:"subject"`
	Queue         string        `mapstructure:"queue" yaml:"queue"`
	MaxReconnects int           `mapstructure:"max_reconnects" yaml:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait" yaml:"reconnect_wait"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Username      string        `mapstructure:"username" yaml:"username"`
	Password      string        `mapstructure:"password" yaml:"password"`
	Token         string        `mapstructure:"token" yaml:"token"`
}

type JetStreamConfig struct {
	Durable    string        `mapstructure:"durable" yaml:"durable"`
	MaxDeliver int           `mapstructure:"max_deliver" yaml:"max_deliver"`
	AckWait    time.Duration `mapstructure:"ack_wait" yaml:"ack_wait"`
	NakDelay   time.Duration `mapstructure:"nak_delay" yaml:"nak_delay"`
}

type RedisConfig struct {
	URL      string        `mapstructure:"url" yaml:"url"`
	Stream   string        `mapstructure:"stream" yaml:"stream"`
	Group    string        `mapstructure:"group" yaml:"group"`
	Consumer string        `mapstructure:"consumer" yaml:"consumer"`
	Count    int64         `mapstructure:"count" yaml:"count"`
	Block    time.Duration `mapstructure:"block" yaml:"block"`
	MinIdle  time.Duration `mapstructure:"min_idle" yaml:"min_idle"`
}

type FormatConfig struct {
	DataStyle         string `mapstructure:"data_style" yaml:"data_style"`
	MaxTracebackBytes int    `mapstructure:"max_traceback_bytes" yaml:"max_traceback_bytes"`
}

type NotificationConfig struct {
	Log             bool                    `mapstructure:"log" yaml:"log"`
	WebhookURL      string                  `mapstructure:"webhook_url" yaml:"webhook_url"`
	SlackWebhookURL string                  `mapstructure:"slack_webhook_url" yaml:"slack_webhook_url"`
	SMTP            notification.SMTPConfig `mapstructure:"smtp" yaml:"smtp"`
	TimeoutSeconds  int                     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// Timeout returns the per-send timeout.
func (n NotificationConfig) Timeout() time.Duration {
	return time.Duration(n.TimeoutSeconds) * time.Second
}

type DLQConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

type ChainConfig struct {
	Enabled      bool              `mapstructure:"enabled" yaml:"enabled"`
	Subject      string            `mapstructure:"subject" yaml:"subject"`
	// NextServices keys are lowercased by viper; chain lookups ignore case.
	NextServices map[string]string `mapstructure:"next_services" yaml:"next_services"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8089)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("transport", TransportJetStream)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.name", "ingest-notify")
	v.SetDefault("nats.subject", "ingest.notifications.status")
	v.SetDefault("nats.queue", "notify-workers")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.timeout", "5s")
	v.SetDefault("nats.username", "")
	v.SetDefault("nats.password", "")
	v.SetDefault("nats.token", "")
	v.SetDefault("jetstream.durable", "notify-workers")
	v.SetDefault("jetstream.max_deliver", 5)
	v.SetDefault("jetstream.ack_wait", "30s")
	v.SetDefault("jetstream.nak_delay", "5s")
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.stream", "ingest.notifications.status")
	v.SetDefault("redis.group", "notify-workers")
	v.SetDefault("redis.consumer", "notifier")
	v.SetDefault("redis.count", 10)
	v.SetDefault("redis.block", "5s")
	v.SetDefault("redis.min_idle", "1m")
	v.SetDefault("format.data_style", string(format.DataStyleIndent))
	v.SetDefault("format.max_traceback_bytes", 0)
	v.SetDefault("notification.log", true)
	v.SetDefault("notification.webhook_url", "")
	v.SetDefault("notification.slack_webhook_url", "")
	v.SetDefault("notification.timeout_seconds", 10)
	v.SetDefault("notification.smtp.host", "")
	v.SetDefault("notification.smtp.port", 0)
	v.SetDefault("notification.smtp.username", "")
	v.SetDefault("notification.smtp.password", "")
	v.SetDefault("notification.smtp.from", "")
	v.SetDefault("notification.smtp.to", []string{})
	v.SetDefault("notification.smtp.encryption", "starttls")
	v.SetDefault("dlq.enabled", true)
	v.SetDefault("chain.enabled", false)
	v.SetDefault("chain.subject", "ingest.services.start")
	v.SetDefault("chain.next_services", map[string]string{
		"ursa_major": "fornax",
		"webhook":    "aquarius",
	})

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/ingest-notify")
	}

	// Environment variables override
	v.SetEnvPrefix("NOTIFIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration can run the notifier.
func (c *Config) Validate() error {
	var errs []error

	switch c.Transport {
	case TransportNATS, TransportJetStream:
		if c.NATS.URL == "" {
			errs = append(errs, errors.New("nats.url is required"))
		}
	case TransportRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("redis.url is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("transport must be one of %s, %s, %s; got %q",
			TransportNATS, TransportJetStream, TransportRedis, c.Transport))
	}

	if (c.DLQ.Enabled || c.Chain.Enabled) && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required when dlq or chain is enabled"))
	}

	if _, err := format.ParseDataStyle(c.Format.DataStyle); err != nil {
		errs = append(errs, err)
	}
	if c.Format.MaxTracebackBytes < 0 {
		errs = append(errs, errors.New("format.max_traceback_bytes must not be negative"))
	}

	n := c.Notification
	if n.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("notification.timeout_seconds must be positive"))
	}
	if n.SMTP.Host != "" && !n.SMTP.Enabled() {
		errs = append(errs, errors.New("notification.smtp requires from and at least one to address"))
	}
	if !n.Log && n.WebhookURL == "" && n.SlackWebhookURL == "" && !n.SMTP.Enabled() {
		errs = append(errs, errors.New("at least one notification target must be configured"))
	}
	for name, raw := range map[string]string{"notification.webhook_url": n.WebhookURL, "notification.slack_webhook_url": n.SlackWebhookURL} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("%s must be an http(s) URL", name))
		}
	}

	return errors.Join(errs...)
}

// NeedsNATS reports whether a NATS connection is required.
func (c *Config) NeedsNATS() bool {
	return c.Transport == TransportNATS || c.Transport == TransportJetStream || c.DLQ.Enabled || c.Chain.Enabled
}

// Redacted returns a copy safe to print, with credentials masked.
func (c Config) Redacted() Config {
	out := c
	out.NATS.Password = mask(c.NATS.Password)
	out.NATS.Token = mask(c.NATS.Token)
	out.Notification.SMTP.Password = mask(c.Notification.SMTP.Password)
	out.Notification.SMTP.To = append([]string(nil), c.Notification.SMTP.To...)
	out.Notification.WebhookURL = maskURLPath(c.Notification.WebhookURL)
	out.Notification.SlackWebhookURL = maskURLPath(c.Notification.SlackWebhookURL)
	if u, err := url.Parse(c.Redis.URL); err == nil {
		out.Redis.URL = u.Redacted()
	}
	out.Chain.NextServices = make(map[string]string, len(c.Chain.NextServices))
	for k, v := range c.Chain.NextServices {
		out.Chain.NextServices[k] = v
	}
	return out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return redacted
}

// maskURLPath hides the path of webhook URLs, which carries the secret.
func maskURLPath(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return redacted
	}
	return u.Scheme + "://" + u.Host + "/" + redacted
}
