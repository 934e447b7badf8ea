package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/ingest-notify/common/messaging"
	"github.com/telhawk-systems/ingest-notify/notifier/internal/event"
)

type fakePublisher struct {
	err  error
	msgs []*messaging.Message
}

func (p *fakePublisher) Publish(ctx context.Context, subject string, data []byte) error {
	return p.PublishMsg(ctx, &messaging.Message{Subject: subject, Data: data})
}

func (p *fakePublisher) PublishMsg(ctx context.Context, msg *messaging.Message) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *fakePublisher) Request(ctx context.Context, subject string, data []byte, timeout time.Duration) (*messaging.Message, error) {
	return nil, errors.New("not implemented")
}

func (p *fakePublisher) Close() error { return nil }

func parse(t *testing.T, service, outcome string) *event.IngestEvent {
	t.Helper()
	attrs := event.Attributes{"package_id": "pkg-77", "service": service, "outcome": outcome}
	if outcome == "FAILURE" {
		attrs["traceback"] = "boom"
	}
	ev, err := event.Parse(attrs)
	require.NoError(t, err)
	return ev
}

func TestOnDelivered_PublishesStartRequest(t *testing.T) {
	pub := &fakePublisher{}
	trigger := New(pub, "", DefaultNextServices(), nil)

	require.NoError(t, trigger.OnDelivered(context.Background(), parse(t, "ursa_major", "SUCCESS")))

	require.Len(t, pub.msgs, 1)
	msg := pub.msgs[0]
	assert.Equal(t, messaging.SubjectIngestServicesStart, msg.Subject)
	assert.Equal(t, "Start service fornax for package pkg-77", string(msg.Data))
	assert.Equal(t, map[string]string{
		"package_id":       "pkg-77",
		"requested_status": "START",
		"service":          "fornax",
	}, msg.Metadata)
}

func TestOnDelivered_NoOp(t *testing.T) {
	tests := []struct {
		name    string
		service string
		outcome string
	}{
		{"unknown service", "transfer-service", "SUCCESS"},
		{"failure outcome", "ursa_major", "FAILURE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			trigger := New(pub, "custom.start", DefaultNextServices(), nil)

			require.NoError(t, trigger.OnDelivered(context.Background(), parse(t, tt.service, tt.outcome)))
			assert.Empty(t, pub.msgs)
		})
	}
}

func TestOnDelivered_PublishFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: no responders")}
	trigger := New(pub, "", DefaultNextServices(), nil)

	err := trigger.OnDelivered(context.Background(), parse(t, "webhook", "SUCCESS"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "start aquarius for package pkg-77")
	assert.ErrorIs(t, err, pub.err)
}

func TestNew_CopiesServiceMap(t *testing.T) {
	next := map[string]string{"a": "b", "c": ""}
	trigger := New(&fakePublisher{}, "", next, nil)
	next["a"] = "z"

	got, ok := trigger.Next("a")
	assert.True(t, ok)
	assert.Equal(t, "b", got)

	_, ok = trigger.Next("c")
	assert.False(t, ok, "empty target means no next service")
}

func TestNext_IgnoresServiceCase(t *testing.T) {
	trigger := New(&fakePublisher{}, "", map[string]string{"UrsaMajor": "Fornax", "webhook": "aquarius"}, nil)

	tests := []struct {
		service string
		want    string
	}{
		{"UrsaMajor", "Fornax"},
		{"ursamajor", "Fornax"},
		{"URSAMAJOR", "Fornax"},
		{"Webhook", "aquarius"},
	}

	for _, tt := range tests {
		t.Run(tt.service, func(t *testing.T) {
			got, ok := trigger.Next(tt.service)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
