// Package pipeline runs one ingest status message through parsing,
// formatting and dispatch.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/telhawk-systems/ingest-notify/common/logging"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/dispatch"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/event"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/format"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/metrics"
)

// State is the position of one invocation in the processing lifecycle.
type State string

const (
	StateReceived       State = "received"
	StateValidated      State = "validated"
	StateRejected       State = "rejected"
	StateDispatched     State = "dispatched"
	StateDeliveryFailed State = "delivery_failed"
)

func (s State) String() string { return string(s) }

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	switch s {
	case StateRejected, StateDispatched, StateDeliveryFailed:
		return true
	default:
		return false
	}
}

var (
	// ErrInternal reports a bug caught while processing a single invocation.
	ErrInternal = errors.New("internal processing error")
	// ErrHook reports that a reject or delivered hook failed. The input may
	// be retried even when it was rejected.
	ErrHook = errors.New("pipeline hook failed")
)

// Result describes the outcome of one invocation. Err is nil only when
// State is StateDispatched. HookErr is set when the notification was
// delivered but a delivered hook failed; the state stays StateDispatched
// because the notification must not be sent again.
type Result struct {
	InvocationID string
	State        State
	Event        *event.IngestEvent
	Message      format.Message
	Err          error
	HookErr      error
}

// Rejected reports whether the input failed validation.
func (r Result) Rejected() bool { return r.State == StateRejected }

// RejectHook is called after an input is rejected. attrs is the raw input.
type RejectHook func(ctx context.Context, attrs event.Attributes, err error) error

// DeliveredHook is called after a notification was accepted by the target.
// Its error is reported in Result.HookErr and never changes the state.
type DeliveredHook func(ctx context.Context, ev *event.IngestEvent) error

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the processor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithRejectHook adds a hook run for every rejected input.
func WithRejectHook(h RejectHook) Option {
	return func(p *Processor) {
		if h != nil {
			p.onReject = append(p.onReject, h)
		}
	}
}

// WithDeliveredHook adds a hook run after every successful dispatch.
func WithDeliveredHook(h DeliveredHook) Option {
	return func(p *Processor) {
		if h != nil {
			p.onDelivered = append(p.onDelivered, h)
		}
	}
}

// Processor holds only immutable configuration and is safe for concurrent use.
type Processor struct {
	formatter   *format.Formatter
	dispatcher  *dispatch.Dispatcher
	logger      *slog.Logger
	onReject    []RejectHook
	onDelivered []DeliveredHook
}

// New creates a Processor.
func New(formatter *format.Formatter, dispatcher *dispatch.Dispatcher, opts ...Option) *Processor {
	p := &Processor{
		formatter:  formatter,
		dispatcher: dispatcher,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(logging.Component("pipeline"))
	return p
}

// Process handles one invocation. A rejected input never reaches the
// formatter or the dispatcher.
func (p *Processor) Process(ctx context.Context, attrs event.Attributes) (res Result) {
	id := logging.GetInvocationID(ctx)
	if id == "" {
		id = uuid.NewString()
		ctx = logging.WithInvocationID(ctx, id)
	}
	res = Result{InvocationID: id, State: StateReceived}

	defer func() {
		if r := recover(); r != nil {
			if res.State == StateDispatched {
				res.HookErr = fmt.Errorf("%w: %w: %v", ErrHook, ErrInternal, r)
			} else {
				res.State = StateDeliveryFailed
				res.Err = fmt.Errorf("%w: %v", ErrInternal, r)
			}
			p.logger.ErrorContext(ctx, "Recovered panic while processing ingest event",
				logging.InvocationID(id),
				slog.Any("panic", r))
		}
		metrics.EventsTotal.WithLabelValues(res.State.String()).Inc()
	}()

	ev, err := event.Parse(attrs)
	if err != nil {
		return p.reject(ctx, res, attrs, err)
	}
	res.Event = ev
	res.State = StateValidated

	log := p.logger.With(
		logging.InvocationID(id),
		logging.PackageID(ev.PackageID()),
		logging.Service(ev.Service()),
		logging.Outcome(ev.Outcome().String()))

	res.Message = p.formatter.Format(ev)

	if err := p.dispatcher.Dispatch(ctx, res.Message); err != nil {
		res.State = StateDeliveryFailed
		res.Err = err
		log.ErrorContext(ctx, "Ingest notification not delivered", logging.Error(err))
		return res
	}

	res.State = StateDispatched
	log.InfoContext(ctx, "Ingest notification dispatched", logging.Target(p.dispatcher.Target()))

	var hookErrs []error
	for _, h := range p.onDelivered {
		if err := h(ctx, ev); err != nil {
			log.ErrorContext(ctx, "Post-delivery hook failed", logging.Error(err))
			hookErrs = append(hookErrs, err)
		}
	}
	if len(hookErrs) > 0 {
		res.HookErr = fmt.Errorf("%w: delivered: %w", ErrHook, errors.Join(hookErrs...))
	}
	return res
}

func (p *Processor) reject(ctx context.Context, res Result, attrs event.Attributes, err error) Result {
	res.State = StateRejected
	res.Err = err

	p.logger.ErrorContext(ctx, "Ingest event rejected",
		logging.InvocationID(res.InvocationID),
		logging.Error(err))

	for _, h := range p.onReject {
		if hookErr := h(ctx, attrs, err); hookErr != nil {
			p.logger.ErrorContext(ctx, "Reject hook failed",
				logging.InvocationID(res.InvocationID),
				logging.Error(hookErr))
			res.Err = errors.Join(err, fmt.Errorf("%w: reject: %w", ErrHook, hookErr))
		}
	}
	return res
}
