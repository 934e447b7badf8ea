package notification

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"
)

func TestSMTPConfig_Enabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  SMTPConfig
		want bool
	}{
		{"complete", SMTPConfig{Host: "smtp.example.org", From: "ingest@example.org", To: []string{"archivists@example.org"}}, true},
		{"no host", SMTPConfig{From: "ingest@example.org", To: []string{"a@example.org"}}, false},
		{"no from", SMTPConfig{Host: "smtp.example.org", To: []string{"a@example.org"}}, false},
		{"blank recipients", SMTPConfig{Host: "smtp.example.org", From: "ingest@example.org", To: []string{" ", ""}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.Enabled())
		})
	}
}

func TestSMTPChannel_BuildMessage(t *testing.T) {
	channel := NewSMTPChannel(SMTPConfig{
		Host: "smtp.example.org",
		From: "ingest@example.org",
		To:   []string{"archivists@example.org", " digital@example.org "},
	}, time.Second)
	assert.Equal(t, "smtp", channel.Name())

	m, err := channel.buildMessage(testSubject, testBody)
	require.NoError(t, err)

	recipients, err := m.GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"archivists@example.org", "digital@example.org"}, recipients)
	assert.Equal(t, []string{testSubject}, m.GetGenHeader(mail.HeaderSubject))

	var out strings.Builder
	_, err = m.WriteTo(&out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "KeyError: 'checksum'")
}

func TestSMTPChannel_BuildMessageErrors(t *testing.T) {
	_, err := NewSMTPChannel(SMTPConfig{From: "ingest@example.org"}, 0).buildMessage(testSubject, testBody)
	assert.ErrorContains(t, err, "no email recipients")

	_, err = NewSMTPChannel(SMTPConfig{From: "not an address", To: []string{"a@example.org"}}, 0).buildMessage(testSubject, testBody)
	assert.ErrorContains(t, err, "invalid from address")

	_, err = NewSMTPChannel(SMTPConfig{From: "ingest@example.org", To: []string{"bad address"}}, 0).buildMessage(testSubject, testBody)
	assert.ErrorContains(t, err, "invalid recipient")
}

func TestSMTPChannel_UnreachableServer(t *testing.T) {
	// Grab a free port and release it so nothing is listening there.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	channel := NewSMTPChannel(SMTPConfig{
		Host:       "127.0.0.1",
		Port:       port,
		From:       "ingest@example.org",
		To:         []string{"archivists@example.org"},
		Encryption: "none",
	}, 2*time.Second)

	err = channel.Send(context.Background(), testSubject, testBody)
	assert.ErrorContains(t, err, "send email")
}

func TestSMTPChannel_DefaultPorts(t *testing.T) {
	tests := []struct {
		encryption string
		port       int
		want       int
	}{
		{"none", 0, 25},
		{"starttls", 0, 587},
		{"ssl_tls", 0, 465},
		{"starttls", 2525, 2525},
	}

	for _, tt := range tests {
		t.Run(tt.encryption, func(t *testing.T) {
			ch := NewSMTPChannel(SMTPConfig{Encryption: tt.encryption, Port: tt.port}, 0)
			assert.Equal(t, tt.want, ch.port())
		})
	}
}

func TestTLSPolicyFromEncryption(t *testing.T) {
	assert.Equal(t, mail.TLSMandatory, tlsPolicyFromEncryption("ssl_tls"))
	assert.Equal(t, mail.TLSMandatory, tlsPolicyFromEncryption("starttls"))
	assert.Equal(t, mail.NoTLS, tlsPolicyFromEncryption("none"))
	assert.Equal(t, mail.NoTLS, tlsPolicyFromEncryption(""))
}
