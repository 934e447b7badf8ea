// Package notification implements the notification targets the dispatcher
// can send to: chat webhooks, generic HTTP webhooks, email and the log.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/telhawk-systems/ingest-notify/common/logging"
)

// Channel defines the interface for notification delivery.
type Channel interface {
	Send(ctx context.Context, subject, body string) error
	Name() string
}

const userAgent = "IngestNotify/1.0"

// WebhookChannel sends notifications via HTTP POST as a JSON document.
type WebhookChannel struct {
	URL     string
	Timeout time.Duration
	client  *http.Client
}

// NewWebhookChannel creates a webhook notification channel.
func NewWebhookChannel(url string, timeout time.Duration) *WebhookChannel {
	return &WebhookChannel{
		URL:     url,
		Timeout: timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (w *WebhookChannel) Name() string {
	return "webhook"
}

func (w *WebhookChannel) Send(ctx context.Context, subject, body string) error {
	payload := map[string]interface{}{
		"subject":   subject,
		"body":      body,
		"source":    "ingest-notify",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	return postJSON(ctx, w.client, w.URL, "webhook", payload)
}

// SlackChannel sends notifications to Slack via an incoming webhook.
type SlackChannel struct {
	WebhookURL string
	Timeout    time.Duration
	client     *http.Client
}

// NewSlackChannel creates a Slack notification channel.
func NewSlackChannel(webhookURL string, timeout time.Duration) *SlackChannel {
	return &SlackChannel{
		WebhookURL: webhookURL,
		Timeout:    timeout,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (s *SlackChannel) Name() string {
	return "slack"
}

func (s *SlackChannel) Send(ctx context.Context, subject, body string) error {
	payload := map[string]interface{}{
		"text": subject,
		"attachments": []map[string]interface{}{
			{
				"text":   body,
				"footer": "Ingest Notifier",
				"ts":     time.Now().Unix(),
			},
		},
	}
	return postJSON(ctx, s.client, s.WebhookURL, "slack", payload)
}

// postJSON posts payload and treats any non-2xx status as a failure.
func postJSON(ctx context.Context, client *http.Client, url, kind string, payload interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", kind, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create %s request: %w", kind, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", kind, resp.StatusCode)
	}

	return nil
}

// LogChannel writes notifications to a structured logger.
type LogChannel struct {
	logger *slog.Logger
}

// NewLogChannel creates a log-based notification channel.
// A nil logger uses slog.Default.
func NewLogChannel(logger *slog.Logger) *LogChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogChannel{logger: logger.With(logging.Component("notification-log"))}
}

func (l *LogChannel) Name() string {
	return "log"
}

func (l *LogChannel) Send(ctx context.Context, subject, body string) error {
	l.logger.InfoContext(ctx, "Ingest notification",
		slog.String("notification_subject", subject),
		slog.String("notification_body", body))
	return nil
}

// MultiChannel sends each notification to several channels.
// Every channel is attempted; the send fails if any channel fails, so the
// invocation is reported as failed and the transport can redeliver.
type MultiChannel struct {
	channels []Channel
}

// NewMultiChannel creates a notification channel that fans out to multiple channels.
func NewMultiChannel(channels ...Channel) *MultiChannel {
	return &MultiChannel{channels: channels}
}

func (m *MultiChannel) Name() string {
	return "multi"
}

// Channels returns the wrapped channels.
func (m *MultiChannel) Channels() []Channel {
	return m.channels
}

func (m *MultiChannel) Send(ctx context.Context, subject, body string) error {
	if len(m.channels) == 0 {
		return errors.New("no notification channels configured")
	}

	var errs []error
	for _, ch := range m.channels {
		if err := ch.Send(ctx, subject, body); err != nil {
			errs = append(errs, fmt.Errorf("%s channel failed: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}
