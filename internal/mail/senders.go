package mail

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"
	gomail "github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// LogSender does not deliver anything; it logs the message and its link so
// local setups can follow verification and reset flows.
type LogSender struct {
	logger *zap.SugaredLogger
}

func (s *LogSender) Send(_ context.Context, m Message) error {
	s.logger.Infow("email not delivered (log provider)", "id", m.ID, "to", m.To, "subject", m.Subject, "link", m.Link)
	return nil
}

// ResendSender posts messages to the Resend API.
type ResendSender struct {
	client *resend.Client
}

func NewResendSender(apiKey string) *ResendSender {
	return &ResendSender{client: resend.NewClient(apiKey)}
}

func (s *ResendSender) Send(ctx context.Context, m Message) error {
	params := &resend.SendEmailRequest{
		From:    m.From,
		To:      []string{m.To},
		Subject: m.Subject,
		Html:    m.HTML,
		Text:    m.Text,
		Headers: map[string]string{"X-Entity-Ref-ID": m.ID},
	}
	if _, err := s.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	return nil
}

// SMTPSender delivers through an SMTP relay. Port 465 uses implicit TLS,
// anything else requires STARTTLS.
type SMTPSender struct {
	cfg Config
}

func NewSMTPSender(cfg Config) *SMTPSender {
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 587
	}
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(ctx context.Context, m Message) error {
	msg := gomail.NewMsg()
	if err := msg.From(m.From); err != nil {
		return fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(m.To); err != nil {
		return fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(m.Subject)
	msg.SetMessageIDWithValue(m.ID)
	msg.SetBodyString(gomail.TypeTextPlain, m.Text)
	msg.AddAlternativeString(gomail.TypeTextHTML, m.HTML)

	opts := []gomail.Option{gomail.WithPort(s.cfg.SMTPPort)}
	if s.cfg.SMTPPort == 465 {
		opts = append(opts, gomail.WithSSL())
	} else {
		opts = append(opts, gomail.WithTLSPolicy(gomail.TLSMandatory))
	}
	if s.cfg.SMTPUser != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.cfg.SMTPUser),
			gomail.WithPassword(s.cfg.SMTPPass),
		)
	}
	client, err := gomail.NewClient(s.cfg.SMTPHost, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
