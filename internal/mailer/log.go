package mailer

import (
	"context"
	"strings"

	"dms-go/internal/dms"
)

// LogMailer records messages in the log instead of sending them. It is the
// default until an SMTP relay is configured.
type LogMailer struct {
	from   string
	logger dms.Logger
}

var _ dms.Mailer = (*LogMailer)(nil)

func NewLogMailer(from string, logger dms.Logger) *LogMailer {
	return &LogMailer{from: from, logger: logger}
}

func (m *LogMailer) Send(_ context.Context, msg *dms.Message) ([]byte, error) {
	raw, err := Render(m.from, msg)
	if err != nil {
		return nil, err
	}
	m.logger.Info("mail not sent (log mailer)",
		"email", msg.EmailID,
		"from", m.from,
		"to", strings.Join(msg.To, ","),
		"subject", msg.Subject,
		"bytes", len(raw))
	return raw, nil
}
