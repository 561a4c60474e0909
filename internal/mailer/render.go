package mailer

import (
	"bytes"
	"fmt"

	"gopkg.in/gomail.v2"

	"dms-go/internal/dms"
)

// Render builds msg as a MIME message sent by from and returns its bytes.
// Headers that are not plain ASCII are RFC 2047 encoded. The bytes are
// rendered once per send and are what both the relay and the archive get.
func Render(from string, msg *dms.Message) ([]byte, error) {
	gm := gomail.NewMessage()
	if from != "" {
		gm.SetHeader("From", from)
	}
	if len(msg.To) > 0 {
		gm.SetHeader("To", msg.To...)
	}
	gm.SetHeader("Subject", msg.Subject)
	gm.SetHeader("X-DMS-Email-ID", msg.EmailID)
	gm.SetDateHeader("Date", msg.Date)
	gm.SetBody("text/plain", msg.Body)

	var buf bytes.Buffer
	if _, err := gm.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("rendering message %s: %w", msg.EmailID, err)
	}
	return buf.Bytes(), nil
}
