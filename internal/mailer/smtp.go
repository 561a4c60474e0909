package mailer

import (
	"bytes"
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"dms-go/internal/config"
	"dms-go/internal/dms"
)

// SMTPMailer delivers messages through an SMTP relay.
type SMTPMailer struct {
	from   string
	dialer *gomail.Dialer
}

var _ dms.Mailer = (*SMTPMailer)(nil)

// NewSMTPMailer creates a mailer for the relay described by cfg. STARTTLS is
// used when the relay offers it; SMTPSSL selects implicit TLS instead.
func NewSMTPMailer(cfg config.MailConfig) *SMTPMailer {
	d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	d.SSL = cfg.SMTPSSL
	return &SMTPMailer{from: cfg.From, dialer: d}
}

// Send dials the relay and delivers msg to every recipient in one transaction.
func (m *SMTPMailer) Send(ctx context.Context, msg *dms.Message) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(msg.To) == 0 {
		return nil, fmt.Errorf("message %s has no recipients", msg.EmailID)
	}

	raw, err := Render(m.from, msg)
	if err != nil {
		return nil, err
	}

	sc, err := m.dialer.Dial()
	if err != nil {
		return nil, fmt.Errorf("smtp dial: %w", err)
	}
	defer sc.Close()

	if err := sc.Send(m.from, msg.To, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("smtp send: %w", err)
	}
	return raw, nil
}
