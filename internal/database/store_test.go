package database

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dms-go/internal/dms"
)

// newTestStore creates a new in-memory store with migrations applied.
func newTestStore(t *testing.T) *SQLStore {
	t.Helper()

	s, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		t.Fatalf("failed to migrate: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

var base = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

func seedUser(t *testing.T, s *SQLStore, id, email string) {
	t.Helper()
	err := s.Transact(context.Background(), func(tx dms.StoreTx) error {
		return tx.InsertUser(context.Background(), &dms.User{ID: id, Email: email, FirstName: "F", LastName: "L"})
	})
	if err != nil {
		t.Fatalf("InsertUser() error = %v", err)
	}
}

func testRecord(id, owner, digest string) *dms.EmailRecord {
	return &dms.EmailRecord{
		ID:               id,
		OwnerID:          owner,
		Subject:          "subject " + id,
		Body:             "body",
		Recipients:       "a@b.com",
		Interval:         "1h",
		Timezone:         "UTC",
		CodeDigest:       digest,
		LastCheckin:      base,
		IntervalNextSend: base.Add(time.Hour),
		CreatedAt:        base,
	}
}

func insert(t *testing.T, s *SQLStore, recs ...*dms.EmailRecord) {
	t.Helper()
	err := s.Transact(context.Background(), func(tx dms.StoreTx) error {
		for _, r := range recs {
			if err := tx.InsertEmail(context.Background(), r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InsertEmail() error = %v", err)
	}
}

func TestSQLStore_Users(t *testing.T) {
	ctx := context.Background()

	t.Run("find by email and id", func(t *testing.T) {
		s := newTestStore(t)
		seedUser(t, s, "user-1", "me@example.com")

		err := s.Transact(ctx, func(tx dms.StoreTx) error {
			u, err := tx.FindUserByEmail(ctx, "me@example.com")
			if err != nil {
				return err
			}
			if u == nil || u.ID != "user-1" {
				t.Errorf("FindUserByEmail() = %+v, want user-1", u)
			}
			u, err = tx.FindUser(ctx, "user-1")
			if err != nil {
				return err
			}
			if u == nil || u.Email != "me@example.com" {
				t.Errorf("FindUser() = %+v, want me@example.com", u)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Transact() error = %v", err)
		}
	})

	t.Run("missing user is nil", func(t *testing.T) {
		s := newTestStore(t)
		err := s.Transact(ctx, func(tx dms.StoreTx) error {
			u, err := tx.FindUserByEmail(ctx, "nobody@example.com")
			if err != nil {
				return err
			}
			if u != nil {
				t.Errorf("FindUserByEmail() = %+v, want nil", u)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Transact() error = %v", err)
		}
	})

	t.Run("update names", func(t *testing.T) {
		s := newTestStore(t)
		seedUser(t, s, "user-1", "me@example.com")

		err := s.Transact(ctx, func(tx dms.StoreTx) error {
			return tx.UpdateUserNames(ctx, &dms.User{ID: "user-1", FirstName: "Ada", LastName: "Lovelace"})
		})
		if err != nil {
			t.Fatalf("UpdateUserNames() error = %v", err)
		}

		_ = s.Transact(ctx, func(tx dms.StoreTx) error {
			u, _ := tx.FindUser(ctx, "user-1")
			if u.FirstName != "Ada" || u.LastName != "Lovelace" {
				t.Errorf("names = %q %q, want Ada Lovelace", u.FirstName, u.LastName)
			}
			return nil
		})
	})

	t.Run("update unknown user", func(t *testing.T) {
		s := newTestStore(t)
		err := s.Transact(ctx, func(tx dms.StoreTx) error {
			return tx.UpdateUserNames(ctx, &dms.User{ID: "ghost", FirstName: "A", LastName: "B"})
		})
		if !errors.Is(err, dms.ErrNotFound) {
			t.Errorf("UpdateUserNames() error = %v, want ErrNotFound", err)
		}
	})
}

func TestSQLStore_Emails(t *testing.T) {
	ctx := context.Background()

	t.Run("round trips every field", func(t *testing.T) {
		s := newTestStore(t)
		seedUser(t, s, "user-1", "me@example.com")

		want := testRecord("e1", "user-1", "digest-a")
		sendAt := base.Add(30 * time.Minute)
		want.SendTime = &sendAt
		want.Timezone = "Europe/Berlin"
		insert(t, s, want)

		_ = s.Transact(ctx, func(tx dms.StoreTx) error {
			got, err := tx.FindEmail(ctx, "user-1", "e1")
			if err != nil {
				t.Fatalf("FindEmail() error = %v", err)
			}
			if got == nil {
				t.Fatal("FindEmail() = nil")
			}
			if got.Subject != want.Subject || got.Body != want.Body || got.Recipients != want.Recipients {
				t.Errorf("text fields = %+v, want %+v", got, want)
			}
			if got.Interval != "1h" || got.Timezone != "Europe/Berlin" || got.CodeDigest != "digest-a" {
				t.Errorf("interval/timezone/digest = %q %q %q", got.Interval, got.Timezone, got.CodeDigest)
			}
			if got.SendTime == nil || !got.SendTime.Equal(sendAt) {
				t.Errorf("SendTime = %v, want %v", got.SendTime, sendAt)
			}
			if !got.IntervalNextSend.Equal(want.IntervalNextSend) || !got.LastCheckin.Equal(base) {
				t.Errorf("times = %v / %v", got.IntervalNextSend, got.LastCheckin)
			}
			return nil
		})
	})

	t.Run("find by code is owner and code scoped", func(t *testing.T) {
		s := newTestStore(t)
		seedUser(t, s, "user-1", "one@example.com")
		seedUser(t, s, "user-2", "two@example.com")

		second := testRecord("e2", "user-1", "digest-a")
		second.CreatedAt = base.Add(time.Minute)
		insert(t, s,
			testRecord("e1", "user-1", "digest-a"),
			second,
			testRecord("e3", "user-1", "digest-b"),
			testRecord("e4", "user-2", "digest-a"),
		)

		_ = s.Transact(ctx, func(tx dms.StoreTx) error {
			got, err := tx.FindEmailsByCode(ctx, "user-1", "digest-a")
			if err != nil {
				t.Fatalf("FindEmailsByCode() error = %v", err)
			}
			if len(got) != 2 || got[0].ID != "e1" || got[1].ID != "e2" {
				t.Errorf("FindEmailsByCode() = %v, want [e1 e2]", ids(got))
			}

			none, err := tx.FindEmailsByCode(ctx, "user-1", "digest-z")
			if err != nil {
				t.Fatalf("FindEmailsByCode() error = %v", err)
			}
			if len(none) != 0 {
				t.Errorf("FindEmailsByCode(unknown) = %v, want empty", ids(none))
			}
			return nil
		})
	})

	t.Run("find email of another owner is nil", func(t *testing.T) {
		s := newTestStore(t)
		seedUser(t, s, "user-1", "one@example.com")
		seedUser(t, s, "user-2", "two@example.com")
		insert(t, s, testRecord("e1", "user-1", "d"))

		_ = s.Transact(ctx, func(tx dms.StoreTx) error {
			got, err := tx.FindEmail(ctx, "user-2", "e1")
			if err != nil {
				t.Fatalf("FindEmail() error = %v", err)
			}
			if got != nil {
				t.Errorf("FindEmail() = %+v, want nil", got)
			}
			return nil
		})
	})

	t.Run("update clears send time", func(t *testing.T) {
		s := newTestStore(t)
		seedUser(t, s, "user-1", "one@example.com")
		rec := testRecord("e1", "user-1", "d")
		sendAt := base.Add(time.Minute)
		rec.SendTime = &sendAt
		insert(t, s, rec)

		rec.SendTime = nil
		rec.Subject = "changed"
		rec.IntervalNextSend = base.Add(2 * time.Hour)
		if err := s.Transact(ctx, func(tx dms.StoreTx) error { return tx.UpdateEmail(ctx, rec) }); err != nil {
			t.Fatalf("UpdateEmail() error = %v", err)
		}

		_ = s.Transact(ctx, func(tx dms.StoreTx) error {
			got, _ := tx.FindEmail(ctx, "user-1", "e1")
			if got.SendTime != nil {
				t.Errorf("SendTime = %v, want nil", got.SendTime)
			}
			if got.Subject != "changed" {
				t.Errorf("Subject = %q, want changed", got.Subject)
			}
			if !got.IntervalNextSend.Equal(base.Add(2 * time.Hour)) {
				t.Errorf("IntervalNextSend = %v", got.IntervalNextSend)
			}
			return nil
		})
	})

	t.Run("delete", func(t *testing.T) {
		s := newTestStore(t)
		seedUser(t, s, "user-1", "one@example.com")
		insert(t, s, testRecord("e1", "user-1", "d"))

		if err := s.Transact(ctx, func(tx dms.StoreTx) error { return tx.DeleteEmail(ctx, "user-1", "e1") }); err != nil {
			t.Fatalf("DeleteEmail() error = %v", err)
		}
		err := s.Transact(ctx, func(tx dms.StoreTx) error { return tx.DeleteEmail(ctx, "user-1", "e1") })
		if !errors.Is(err, dms.ErrNotFound) {
			t.Errorf("second DeleteEmail() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("failed transaction rolls back", func(t *testing.T) {
		s := newTestStore(t)
		seedUser(t, s, "user-1", "one@example.com")

		boom := errors.New("boom")
		err := s.Transact(ctx, func(tx dms.StoreTx) error {
			if err := tx.InsertEmail(ctx, testRecord("e1", "user-1", "d")); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("Transact() error = %v, want boom", err)
		}

		_ = s.Transact(ctx, func(tx dms.StoreTx) error {
			got, _ := tx.FindEmail(ctx, "user-1", "e1")
			if got != nil {
				t.Error("email persisted despite rollback")
			}
			return nil
		})
	})
}

func TestSQLStore_FindDueEmails(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedUser(t, s, "user-1", "one@example.com")

	notDue := testRecord("later", "user-1", "d")
	notDue.IntervalNextSend = base.Add(2 * time.Hour)

	intervalDue := testRecord("interval", "user-1", "d")
	intervalDue.IntervalNextSend = base.Add(-time.Minute)

	sendTimeDue := testRecord("sendtime", "user-1", "d")
	sendTimeDue.IntervalNextSend = base.Add(24 * time.Hour)
	sendAt := base.Add(-time.Second)
	sendTimeDue.SendTime = &sendAt

	exactlyNow := testRecord("now", "user-1", "d")
	exactlyNow.IntervalNextSend = base

	insert(t, s, notDue, intervalDue, sendTimeDue, exactlyNow)

	got, err := s.FindDueEmails(ctx, base)
	if err != nil {
		t.Fatalf("FindDueEmails() error = %v", err)
	}
	want := []string{"interval", "now", "sendtime"}
	if strings.Join(ids(got), ",") != strings.Join(want, ",") {
		t.Errorf("FindDueEmails() = %v, want %v", ids(got), want)
	}
}

func TestSQLStore_CheckMigrations(t *testing.T) {
	t.Run("fails on DB without migrations applied", func(t *testing.T) {
		s, err := OpenSQLite(":memory:")
		if err != nil {
			t.Fatalf("OpenSQLite() error = %v", err)
		}
		defer s.Close()

		if err := s.CheckMigrations(); err == nil {
			t.Error("CheckMigrations() expected error for missing schema")
		}
	})

	t.Run("passes after migrate", func(t *testing.T) {
		s := newTestStore(t)
		if err := s.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
	})

	t.Run("file database survives reopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "dms.db")
		s, err := OpenSQLite(path)
		if err != nil {
			t.Fatalf("OpenSQLite() error = %v", err)
		}
		if err := s.Migrate(); err != nil {
			t.Fatalf("Migrate() error = %v", err)
		}
		s.Close()

		again, err := OpenSQLite(path)
		if err != nil {
			t.Fatalf("OpenSQLite() error = %v", err)
		}
		defer again.Close()
		if err := again.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() after reopen error = %v", err)
		}
	})
}

func TestSQLStore_Schema(t *testing.T) {
	s := newTestStore(t)

	schema, err := s.Schema(context.Background())
	if err != nil {
		t.Fatalf("Schema() error = %v", err)
	}
	for _, want := range []string{"CREATE TABLE emails", "CREATE TABLE users", "idx_emails_owner_code"} {
		if !strings.Contains(schema, want) {
			t.Errorf("Schema() missing %q", want)
		}
	}
	if strings.Contains(schema, "schema_migrations") {
		t.Error("Schema() includes the migrations table")
	}
}

func ids(recs []*dms.EmailRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
