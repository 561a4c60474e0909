package dms

import (
	"context"
	"io"
	"time"
)

// Message is an outbound email produced by a firing record. The sender
// address belongs to the Mailer.
type Message struct {
	EmailID string
	To      []string
	Subject string
	Body    string
	Date    time.Time
}

// Mailer delivers messages.
type Mailer interface {
	// Send delivers msg and returns the rendered message exactly as it was
	// handed to the transport. A returned error means the message was not
	// accepted and the record stays due.
	Send(ctx context.Context, msg *Message) ([]byte, error)
}

// Archive keeps a copy of every dispatched message.
type Archive interface {
	// Put stores size bytes read from r under key.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get writes the object stored under key to w.
	Get(ctx context.Context, key string, w io.Writer) error

	// List returns the keys that start with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}
