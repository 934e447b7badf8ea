// Package dispatch delivers formatted notifications to the configured
// notification target.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/telhawk-systems/ingest-notify/common/logging"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/format"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/metrics"
)

// Sender is the capability supplied by the environment for reaching a
// notification target.
type Sender interface {
	// Send delivers one notification. A nil error means the target accepted it.
	Send(ctx context.Context, subject, body string) error
	// Name identifies the target in logs and metrics.
	Name() string
}

// ErrDelivery is matched by every *DeliveryError via errors.Is.
var ErrDelivery = errors.New("notification delivery failed")

// DeliveryError reports that the target could not be reached or refused the
// notification.
type DeliveryError struct {
	Target string
	Reason string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %s: %s", e.Target, e.Reason)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrDelivery) match.
func (e *DeliveryError) Is(target error) bool { return target == ErrDelivery }

// Dispatcher sends each notification exactly once. It never retries.
type Dispatcher struct {
	sender Sender
	logger *slog.Logger
}

// New creates a Dispatcher for sender. A nil logger uses slog.Default.
func New(sender Sender, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sender: sender,
		logger: logger.With(logging.Component("dispatcher")),
	}
}

// Target returns the name of the configured sender.
func (d *Dispatcher) Target() string { return d.sender.Name() }

// Dispatch makes one Send call with msg unchanged. A failed send comes back
// as a *DeliveryError.
func (d *Dispatcher) Dispatch(ctx context.Context, msg format.Message) error {
	target := d.sender.Name()
	start := time.Now()

	err := d.sender.Send(ctx, msg.Subject, msg.Body)
	elapsed := time.Since(start)
	metrics.DispatchDuration.WithLabelValues(target).Observe(elapsed.Seconds())

	if err != nil {
		metrics.DeliveriesTotal.WithLabelValues(target, metrics.StatusFailed).Inc()
		d.logger.ErrorContext(ctx, "Notification delivery failed",
			logging.Target(target),
			logging.InvocationID(logging.GetInvocationID(ctx)),
			logging.Duration(elapsed.Milliseconds()),
			logging.Error(err))
		return &DeliveryError{Target: target, Reason: err.Error(), Err: err}
	}

	metrics.DeliveriesTotal.WithLabelValues(target, metrics.StatusDelivered).Inc()
	d.logger.DebugContext(ctx, "Notification delivered",
		logging.Target(target),
		logging.InvocationID(logging.GetInvocationID(ctx)),
		logging.Duration(elapsed.Milliseconds()))
	return nil
}
