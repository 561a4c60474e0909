package mailer

import (
	"fmt"

	"dms-go/internal/config"
	"dms-go/internal/dms"
)

// NewMailerFromConfig creates a Mailer based on the mail config type. Real
// transports are wrapped in a rate limiter.
func NewMailerFromConfig(cfg config.MailConfig, logger dms.Logger) (dms.Mailer, error) {
	var m dms.Mailer
	switch cfg.Type {
	case "smtp":
		if cfg.SMTPHost == "" {
			return nil, fmt.Errorf("smtp mailer requires smtp_host to be set")
		}
		if cfg.SMTPPort == 0 {
			return nil, fmt.Errorf("smtp mailer requires smtp_port to be set")
		}
		if cfg.From == "" {
			return nil, fmt.Errorf("smtp mailer requires from to be set")
		}
		m = NewSMTPMailer(cfg)
	case "log", "":
		m = NewLogMailer(cfg.From, logger)
	case "memory":
		return NewMemoryMailer(cfg.From), nil
	default:
		return nil, fmt.Errorf("unknown mail type: %s", cfg.Type)
	}

	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 5
	}
	return NewThrottled(m, rps), nil
}
