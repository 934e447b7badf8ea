package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

// SMTPConfig holds connection parameters for the email channel.
type SMTPConfig struct {
	Host       string   `mapstructure:"host" yaml:"host"`
	Port       int      `mapstructure:"port" yaml:"port"`
	Username   string   `mapstructure:"username" yaml:"username"`
	Password   string   `mapstructure:"password" yaml:"password"`
	From       string   `mapstructure:"from" yaml:"from"`
	To         []string `mapstructure:"to" yaml:"to"`
	Encryption string   `mapstructure:"encryption" yaml:"encryption"` // "none", "starttls", "ssl_tls"
}

// Enabled reports whether enough settings are present to send email.
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.From != "" && len(c.recipients()) > 0
}

func (c SMTPConfig) recipients() []string {
	var out []string
	for _, r := range c.To {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// SMTPChannel delivers notifications to an email list using go-mail.
type SMTPChannel struct {
	config  SMTPConfig
	timeout time.Duration
}

// NewSMTPChannel creates an email notification channel.
func NewSMTPChannel(config SMTPConfig, timeout time.Duration) *SMTPChannel {
	return &SMTPChannel{config: config, timeout: timeout}
}

func (s *SMTPChannel) Name() string {
	return "smtp"
}

// Send builds a plain-text email and delivers it in one SMTP session.
func (s *SMTPChannel) Send(ctx context.Context, subject, body string) error {
	m, err := s.buildMessage(subject, body)
	if err != nil {
		return err
	}

	opts := []mail.Option{
		mail.WithPort(s.port()),
		mail.WithTLSPolicy(tlsPolicyFromEncryption(s.config.Encryption)),
	}
	if s.config.Encryption == "ssl_tls" {
		opts = append(opts, mail.WithSSL())
	}
	if s.timeout > 0 {
		opts = append(opts, mail.WithTimeout(s.timeout))
	}
	if s.config.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.config.Username),
			mail.WithPassword(s.config.Password),
		)
	}

	c, err := mail.NewClient(s.config.Host, opts...)
	if err != nil {
		return fmt.Errorf("failed to create mail client: %w", err)
	}

	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

func (s *SMTPChannel) buildMessage(subject, body string) (*mail.Msg, error) {
	recipients := s.config.recipients()
	if len(recipients) == 0 {
		return nil, errors.New("no email recipients configured")
	}

	m := mail.NewMsg()
	if err := m.From(s.config.From); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	for _, r := range recipients {
		if err := m.AddTo(r); err != nil {
			return nil, fmt.Errorf("invalid recipient %q: %w", r, err)
		}
	}

	m.Subject(subject)
	m.SetBodyString(mail.TypeTextPlain, body)
	return m, nil
}

func (s *SMTPChannel) port() int {
	if s.config.Port > 0 {
		return s.config.Port
	}
	switch s.config.Encryption {
	case "ssl_tls":
		return 465
	case "starttls":
		return 587
	default:
		return 25
	}
}

// tlsPolicyFromEncryption converts the encryption string to a go-mail TLSPolicy.
func tlsPolicyFromEncryption(enc string) mail.TLSPolicy {
	switch enc {
	case "ssl_tls", "starttls":
		return mail.TLSMandatory
	default:
		return mail.NoTLS
	}
}
