// Package chain asks the next ingest service to start once a service has
// reported success for a package.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/telhawk-systems/ingest-notify/common/logging"
	"github.com/telhawk-systems/ingest-notify/common/messaging"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/event"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/metrics"
)

// Header names on a start request.
const (
	HeaderPackageID       = "package_id"
	HeaderRequestedStatus = "requested_status"
	HeaderService         = "service"

	StatusStart = "START"
)

// DefaultNextServices maps a finished service to the one that follows it.
func DefaultNextServices() map[string]string {
	return map[string]string{
		"ursa_major": "fornax",
		"webhook":    "aquarius",
	}
}

// Trigger publishes start requests for the next service in the ingest chain.
type Trigger struct {
	publisher messaging.Publisher
	subject   string
	next      map[string]string
	logger    *slog.Logger
}

// New creates a Trigger. An empty subject uses messaging.SubjectIngestServicesStart.
func New(publisher messaging.Publisher, subject string, next map[string]string, logger *slog.Logger) *Trigger {
	if subject == "" {
		subject = messaging.SubjectIngestServicesStart
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := make(map[string]string, len(next))
	for k, v := range next {
		m[serviceKey(k)] = v
	}
	return &Trigger{
		publisher: publisher,
		subject:   subject,
		next:      m,
		logger:    logger.With(logging.Component("chain")),
	}
}

// Next returns the service that follows service, if any. Service names match
// case-insensitively since config loading lowercases map keys.
func (t *Trigger) Next(service string) (string, bool) {
	next, ok := t.next[serviceKey(service)]
	return next, ok && next != ""
}

func serviceKey(service string) string {
	return strings.ToLower(strings.TrimSpace(service))
}

// OnDelivered starts the next service after a successful outcome. It matches
// pipeline.DeliveredHook.
func (t *Trigger) OnDelivered(ctx context.Context, ev *event.IngestEvent) error {
	if ev.Outcome() != event.OutcomeSuccess {
		return nil
	}

	next, ok := t.Next(ev.Service())
	if !ok {
		t.logger.InfoContext(ctx, "No next service configured",
			logging.Service(ev.Service()),
			logging.PackageID(ev.PackageID()))
		return nil
	}

	msg := StartRequest(t.subject, ev.PackageID(), next)
	if err := t.publisher.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("start %s for package %s: %w", next, ev.PackageID(), err)
	}

	metrics.ChainPublishedTotal.WithLabelValues(next).Inc()
	t.logger.InfoContext(ctx, "Requested next service start",
		logging.Service(next),
		logging.PackageID(ev.PackageID()),
		logging.Subject(t.subject))
	return nil
}

// StartRequest builds the message that asks service to start on packageID.
func StartRequest(subject, packageID, service string) *messaging.Message {
	return &messaging.Message{
		Subject: subject,
		Data:    []byte(fmt.Sprintf("Start service %s for package %s", service, packageID)),
		Metadata: map[string]string{
			HeaderPackageID:       packageID,
			HeaderRequestedStatus: StatusStart,
			HeaderService:         service,
		},
	}
}
