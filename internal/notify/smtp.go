package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"gliderdac/internal/dac"
)

// SMTPConfig configures an SMTPSender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string // empty disables authentication
	Password string
	From     string
}

// SMTPSender delivers messages through an SMTP relay, upgrading the
// connection with STARTTLS when the server offers it.
type SMTPSender struct {
	cfg  SMTPConfig
	send func(ctx context.Context, m *mail.Msg) error
	now  func() time.Time
}

// NewSMTPSender creates a sender for the given relay.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	s := &SMTPSender{cfg: cfg, now: time.Now}
	s.send = s.dialAndSend
	return s
}

// Send delivers msg to its To and CC recipients.
func (s *SMTPSender) Send(ctx context.Context, msg dac.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m, err := s.build(msg)
	if err != nil {
		return fmt.Errorf("sending %q: %w", msg.Subject, err)
	}
	if err := s.send(ctx, m); err != nil {
		return fmt.Errorf("sending %q via %s:%d: %w", msg.Subject, s.cfg.Host, s.cfg.Port, err)
	}
	return nil
}

var headerBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// build renders msg as a plain-text message. Line breaks in the subject
// are folded to spaces so it stays a single header.
func (s *SMTPSender) build(msg dac.Message) (*mail.Msg, error) {
	var to []string
	for _, addr := range msg.To {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	cc := strings.TrimSpace(msg.CC)
	if len(to) == 0 && cc == "" {
		return nil, fmt.Errorf("no recipients")
	}

	m := mail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return nil, fmt.Errorf("invalid sender: %w", err)
	}
	if len(to) > 0 {
		if err := m.To(to...); err != nil {
			return nil, fmt.Errorf("invalid recipient: %w", err)
		}
	}
	if cc != "" {
		if err := m.Cc(cc); err != nil {
			return nil, fmt.Errorf("invalid cc: %w", err)
		}
	}
	m.Subject(headerBreaks.Replace(msg.Subject))
	m.SetDateWithValue(s.now())
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	return m, nil
}

// options returns the client options for the configured relay.
func (s *SMTPSender) options() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	return opts
}

func (s *SMTPSender) dialAndSend(ctx context.Context, m *mail.Msg) error {
	client, err := mail.NewClient(s.cfg.Host, s.options()...)
	if err != nil {
		return fmt.Errorf("creating smtp client: %w", err)
	}
	return client.DialAndSendWithContext(ctx, m)
}

var _ dac.Notifier = (*SMTPSender)(nil)
