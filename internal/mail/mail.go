// Package mail delivers the account and activity emails. Bodies are written
// as Markdown and rendered to HTML; the Markdown doubles as the plain-text
// alternative. Providers: Resend API, SMTP, or a log-only sender for local
// development.
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"github.com/safeplay/safeplay-api/pkg/utilities"
)

// Provider names.
const (
	ProviderLog    = "log"
	ProviderResend = "resend"
	ProviderSMTP   = "smtp"
)

// Message is one outbound email.
type Message struct {
	ID      string
	From    string
	To      string
	Subject string
	Text    string
	HTML    string
	// Link is the call-to-action URL, if any. Only the log sender reads it.
	Link string
}

// Sender transports a rendered message.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

type Config struct {
	Provider     string `yaml:"provider"`
	From         string `yaml:"from"`
	ResendAPIKey string `yaml:"resend_api_key"`
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SMTPUser     string `yaml:"smtp_user"`
	SMTPPass     string `yaml:"smtp_pass"`
	// ResetTTLMinutes is quoted in the reset email.
	ResetTTLMinutes int `yaml:"-"`
}

// NewSender builds the transport selected by cfg.Provider.
func NewSender(cfg Config, logger *zap.SugaredLogger) (Sender, error) {
	switch cfg.Provider {
	case "", ProviderLog:
		return &LogSender{logger: logger}, nil
	case ProviderResend:
		if cfg.ResendAPIKey == "" {
			return nil, errors.New("RESEND_API_KEY is required for the resend provider")
		}
		return NewResendSender(cfg.ResendAPIKey), nil
	case ProviderSMTP:
		if cfg.SMTPHost == "" {
			return nil, errors.New("SMTP_HOST is required for the smtp provider")
		}
		return NewSMTPSender(cfg), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cfg.Provider)
	}
}

// Mailer composes SafePlay emails and hands them to a Sender.
type Mailer struct {
	sender Sender
	from   string
	ids    *utilities.IDGenerator
	logger *zap.SugaredLogger
	md     goldmark.Markdown
	cfg    Config
}

func NewMailer(sender Sender, cfg Config, ids *utilities.IDGenerator, logger *zap.SugaredLogger) *Mailer {
	from := cfg.From
	if from == "" {
		from = "SafePlay <no-reply@example.com>"
	}
	return &Mailer{sender: sender, from: from, ids: ids, logger: logger, md: goldmark.New(), cfg: cfg}
}

func (m *Mailer) deliver(ctx context.Context, to, subject, markdown, link string) error {
	var buf bytes.Buffer
	if err := m.md.Convert([]byte(markdown), &buf); err != nil {
		return fmt.Errorf("render %q: %w", subject, err)
	}
	msg := Message{
		ID:      m.ids.Next(),
		From:    m.from,
		To:      to,
		Subject: subject,
		Text:    markdown,
		HTML:    buf.String(),
		Link:    link,
	}
	if err := m.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("send %q to %s: %w", subject, to, err)
	}
	m.logger.Infow("email sent", "id", msg.ID, "to", to, "subject", subject)
	return nil
}

// SendVerification mails the email verification link.
func (m *Mailer) SendVerification(ctx context.Context, to, fullName, link string) error {
	body := fmt.Sprintf(`## Hi %s

Thanks for signing up to **SafePlay**. Confirm your email to activate your account:

[Verify my email](%s)

If the link does not work, paste this address into your browser:

%s

If you did not create this account you can ignore this email.
`, escape(fullName), link, link)
	return m.deliver(ctx, to, "Verify your email - Welcome to SafePlay", body, link)
}

// SendPasswordReset mails the password reset link.
func (m *Mailer) SendPasswordReset(ctx context.Context, to, fullName, link string) error {
	ttl := m.cfg.ResetTTLMinutes
	if ttl <= 0 {
		ttl = 30
	}
	body := fmt.Sprintf(`## Hi %s

We received a request to reset your SafePlay password.

[Reset my password](%s)

This link expires in %d minutes. If you did not ask for it, ignore this message.
`, escape(fullName), link, ttl)
	return m.deliver(ctx, to, "Reset your password - SafePlay", body, link)
}
