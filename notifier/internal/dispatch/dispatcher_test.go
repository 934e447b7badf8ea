package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/format"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/metrics"
)

type recordingSender struct {
	name  string
	err   error
	calls []format.Message
}

func (s *recordingSender) Name() string { return s.name }

func (s *recordingSender) Send(ctx context.Context, subject, body string) error {
	s.calls = append(s.calls, format.Message{Subject: subject, Body: body})
	return s.err
}

func TestDispatch_Success(t *testing.T) {
	sender := &recordingSender{name: "dispatch-test-ok"}
	d := New(sender, nil)
	msg := format.Message{Subject: "transfer-service: SUCCESS — package pkg-123", Body: "body\n"}

	err := d.Dispatch(context.Background(), msg)

	require.NoError(t, err)
	require.Len(t, sender.calls, 1)
	assert.Equal(t, msg, sender.calls[0], "subject and body must pass through unchanged")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DeliveriesTotal.WithLabelValues("dispatch-test-ok", metrics.StatusDelivered)))
	assert.Equal(t, "dispatch-test-ok", d.Target())
}

func TestDispatch_FailureIsReportedNotRetried(t *testing.T) {
	cause := errors.New("connection refused")
	sender := &recordingSender{name: "dispatch-test-fail", err: cause}
	d := New(sender, nil)

	err := d.Dispatch(context.Background(), format.Message{Subject: "s", Body: "b"})

	require.Error(t, err)
	assert.Len(t, sender.calls, 1, "dispatcher must not retry")
	assert.ErrorIs(t, err, ErrDelivery)
	assert.ErrorIs(t, err, cause)

	var derr *DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "dispatch-test-fail", derr.Target)
	assert.Equal(t, "connection refused", derr.Reason)
	assert.Equal(t, "deliver to dispatch-test-fail: connection refused", derr.Error())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DeliveriesTotal.WithLabelValues("dispatch-test-fail", metrics.StatusFailed)))
}
