package mailer

import (
	"context"
	"sync"

	"dms-go/internal/dms"
)

// MemoryMailer keeps sent messages in memory. Safe for concurrent use.
type MemoryMailer struct {
	from string

	mu     sync.Mutex
	sent   []*dms.Message
	raw    [][]byte
	err    error
	onSend func(*dms.Message)
}

var _ dms.Mailer = (*MemoryMailer)(nil)

func NewMemoryMailer(from string) *MemoryMailer {
	return &MemoryMailer{from: from}
}

// Send records msg and its rendering, or returns the error set by FailWith.
// A hook set by OnSend runs before the message counts as delivered.
func (m *MemoryMailer) Send(_ context.Context, msg *dms.Message) ([]byte, error) {
	m.mu.Lock()
	hook, err := m.onSend, m.err
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if hook != nil {
		hook(msg)
	}

	raw, err := Render(m.from, msg)
	if err != nil {
		return nil, err
	}
	cp := *msg
	cp.To = append([]string(nil), msg.To...)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, &cp)
	m.raw = append(m.raw, raw)
	return raw, nil
}

// FailWith makes every following Send return err. Pass nil to recover.
func (m *MemoryMailer) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// OnSend registers fn to run inside every following Send, after the
// failure check and before the message is recorded. Pass nil to clear it.
func (m *MemoryMailer) OnSend(fn func(*dms.Message)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSend = fn
}

// Sent returns a snapshot of the messages sent so far.
func (m *MemoryMailer) Sent() []*dms.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*dms.Message(nil), m.sent...)
}

// Raw returns the rendered bytes of every message sent so far, in order.
func (m *MemoryMailer) Raw() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.raw...)
}
