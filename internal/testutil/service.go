package testutil

import (
	"context"
	"testing"

	"dms-go/internal/archive"
	"dms-go/internal/database"
	"dms-go/internal/dms"
	"dms-go/internal/mailer"
)

// TestPepper is the code pepper used by NewHarness.
const TestPepper = "test-pepper"

// TestSender is the From address of mail sent through a Harness.
const TestSender = "dms@example.com"

// Harness bundles a DMSService with the fakes behind it so tests can drive
// the clock and inspect what was sent.
type Harness struct {
	Service *dms.DMSService
	Store   *database.SQLStore
	Mailer  *mailer.MemoryMailer
	Archive *archive.MemoryArchive
	Clock   *StubClock
	IDs     *StubIDGenerator
}

// NewHarness wires a service over an in-memory store, mailer and archive,
// with the clock at Epoch.
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	return newHarness(NewTestStore(t))
}

// NewFileHarness is NewHarness over a SQLite file, for tests that run
// service calls from several goroutines.
func NewFileHarness(t *testing.T) *Harness {
	t.Helper()
	return newHarness(NewFileTestStore(t))
}

func newHarness(store *database.SQLStore) *Harness {
	h := &Harness{
		Store:   store,
		Mailer:  mailer.NewMemoryMailer(TestSender),
		Archive: archive.NewMemoryArchive(),
		Clock:   FixedClock(),
		IDs:     NewStubIDGenerator(),
	}
	h.Service = dms.NewDMSService(h.Store, h.Mailer, h.Archive,
		dms.NewCodeHasher(TestPepper), dms.NewNopLogger(), h.Clock, h.IDs)
	return h
}

// Login registers email and returns the user.
func (h *Harness) Login(t *testing.T, email string) *dms.User {
	t.Helper()
	u, err := h.Service.Login(context.Background(), email)
	if err != nil {
		t.Fatalf("Login(%q) error = %v", email, err)
	}
	return u
}

// Create stores a record for ownerID, failing the test on error. The code
// confirmation is filled in from in.Code.
func (h *Harness) Create(t *testing.T, ownerID string, in dms.NewEmail) *dms.EmailRecord {
	t.Helper()
	in.CodeConfirm = in.Code
	rec, err := h.Service.Create(context.Background(), ownerID, in)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return rec
}

// Unlock returns the records bound to code, failing the test on error.
func (h *Harness) Unlock(t *testing.T, ownerID, code string) []*dms.EmailRecord {
	t.Helper()
	recs, err := h.Service.Unlock(context.Background(), ownerID, code)
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	return recs
}
