package consumer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/ingest-notify/common/logging"
	"github.com/telhawk-systems/ingest-notify/common/messaging"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/dispatch"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/dlq"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/event"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/pipeline"
)

type stubProcessor struct {
	result pipeline.Result
	calls  []event.Attributes
	ids    []string
}

func (p *stubProcessor) Process(ctx context.Context, attrs event.Attributes) pipeline.Result {
	p.calls = append(p.calls, attrs)
	p.ids = append(p.ids, logging.GetInvocationID(ctx))
	return p.result
}

type deadLetters struct {
	err     error
	reasons []string
	attrs   []event.Attributes
}

func (d *deadLetters) Write(ctx context.Context, attrs event.Attributes, err error, reason string) error {
	d.reasons = append(d.reasons, reason)
	d.attrs = append(d.attrs, attrs)
	return d.err
}

var validMsg = &messaging.Message{
	Subject:  messaging.SubjectIngestNotificationsStatus,
	Metadata: map[string]string{"package_id": "pkg-1", "service": "svc", "outcome": "SUCCESS"},
}

func TestHandle_ResultMapping(t *testing.T) {
	verr := event.NewValidationError("outcome", "missing")
	derr := &dispatch.DeliveryError{Target: "slack", Reason: "timeout", Err: errors.New("timeout")}

	tests := []struct {
		name          string
		result        pipeline.Result
		wantErr       bool
		wantPermanent bool
	}{
		{"dispatched", pipeline.Result{State: pipeline.StateDispatched}, false, false},
		{"dispatched with failed delivered hook", pipeline.Result{
			State:   pipeline.StateDispatched,
			HookErr: fmt.Errorf("%w: delivered: publish timeout", pipeline.ErrHook),
		}, false, false},
		{"rejected", pipeline.Result{State: pipeline.StateRejected, Err: verr}, true, true},
		{"rejected but dlq write failed", pipeline.Result{
			State: pipeline.StateRejected,
			Err:   errors.Join(verr, fmt.Errorf("%w: reject: boom", pipeline.ErrHook)),
		}, true, false},
		{"delivery failed", pipeline.Result{State: pipeline.StateDeliveryFailed, Err: derr}, true, false},
		{"internal", pipeline.Result{State: pipeline.StateDeliveryFailed, Err: pipeline.ErrInternal}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &stubProcessor{result: tt.result}
			err := NewHandler(proc, nil, nil).Handle(context.Background(), validMsg)

			require.Len(t, proc.calls, 1)
			assert.Equal(t, "pkg-1", proc.calls[0]["package_id"])
			assert.NotEmpty(t, proc.ids[0], "invocation id must be set")
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantPermanent, messaging.IsPermanent(err))
			assert.ErrorIs(t, err, tt.result.Err)
		})
	}
}

func TestHandle_UndecodableBody(t *testing.T) {
	msg := &messaging.Message{Subject: "ingest.notifications.status", Data: []byte("not json")}

	t.Run("dead-lettered and terminated", func(t *testing.T) {
		proc := &stubProcessor{}
		dl := &deadLetters{}

		err := NewHandler(proc, dl, nil).Handle(context.Background(), msg)

		assert.True(t, messaging.IsPermanent(err))
		assert.ErrorIs(t, err, event.ErrValidation)
		assert.Empty(t, proc.calls, "pipeline must not run")
		require.Equal(t, []string{dlq.ReasonDecode}, dl.reasons)
		assert.Equal(t, "not json", dl.attrs[0]["raw_body"])
	})

	t.Run("dlq failure keeps the message retryable", func(t *testing.T) {
		dl := &deadLetters{err: errors.New("stream unavailable")}

		err := NewHandler(&stubProcessor{}, dl, nil).Handle(context.Background(), msg)

		require.Error(t, err)
		assert.False(t, messaging.IsPermanent(err))
	})

	t.Run("no dlq configured", func(t *testing.T) {
		err := NewHandler(&stubProcessor{}, nil, nil).HandlerFunc()(context.Background(), msg)
		assert.True(t, messaging.IsPermanent(err))
	})
}

func TestHandle_FinalDeliveryAttempt(t *testing.T) {
	derr := &dispatch.DeliveryError{Target: "webhook", Reason: "status 503", Err: errors.New("503")}

	tests := []struct {
		name          string
		maxAttempts   int
		attempt       int
		dlqErr        error
		wantPermanent bool
		wantReasons   []string
	}{
		{"earlier attempt is retried", 3, 2, nil, false, nil},
		{"last attempt is dead-lettered", 3, 3, nil, true, []string{dlq.ReasonDelivery}},
		{"last attempt with dlq failure stays retryable", 3, 3, errors.New("stream unavailable"), false, []string{dlq.ReasonDelivery}},
		{"no limit configured", 0, 10, nil, false, nil},
		{"broker without attempt count", 3, 0, nil, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &stubProcessor{result: pipeline.Result{State: pipeline.StateDeliveryFailed, Err: derr}}
			dl := &deadLetters{err: tt.dlqErr}
			msg := &messaging.Message{
				Subject:  validMsg.Subject,
				Metadata: validMsg.Metadata,
				Attempt:  tt.attempt,
			}

			err := NewHandler(proc, dl, nil, WithMaxAttempts(tt.maxAttempts)).Handle(context.Background(), msg)

			require.Error(t, err)
			assert.ErrorIs(t, err, dispatch.ErrDelivery)
			assert.Equal(t, tt.wantPermanent, messaging.IsPermanent(err))
			assert.Equal(t, tt.wantReasons, dl.reasons)
			if len(tt.wantReasons) > 0 {
				assert.Equal(t, "pkg-1", dl.attrs[0]["package_id"])
			}
		})
	}
}

func TestHandle_FinalAttemptSkipsDeliveredMessages(t *testing.T) {
	dl := &deadLetters{}
	proc := &stubProcessor{result: pipeline.Result{State: pipeline.StateDispatched}}
	msg := &messaging.Message{Subject: validMsg.Subject, Metadata: validMsg.Metadata, Attempt: 5}

	err := NewHandler(proc, dl, nil, WithMaxAttempts(5)).Handle(context.Background(), msg)

	assert.NoError(t, err)
	assert.Empty(t, dl.reasons)
}
