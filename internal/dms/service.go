package dms

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DMSService coordinates the store, the mailer and the archive to implement
// accounts, code partitions, change sets and the trigger sweep.
type DMSService struct {
	store   Store
	mailer  Mailer
	archive Archive
	codes   *CodeHasher
	logger  Logger
	clock   Clock
	idgen   IDGenerator
}

// NewDMSService creates a DMSService with the provided dependencies.
// archive may be nil, in which case sent messages are not kept.
func NewDMSService(store Store, mailer Mailer, archive Archive, codes *CodeHasher, logger Logger, clock Clock, idgen IDGenerator) *DMSService {
	return &DMSService{
		store:   store,
		mailer:  mailer,
		archive: archive,
		codes:   codes,
		logger:  logger,
		clock:   clock,
		idgen:   idgen,
	}
}

// Login returns the user for email, creating it with default names on first
// sight. Repeated logins return the same user.
func (s *DMSService) Login(ctx context.Context, email string) (*User, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fieldError("email", ErrMissingField)
	}
	if utf8.RuneCountInString(email) > MaxEmailLength {
		return nil, fieldError("email", tooLong(MaxEmailLength))
	}

	var user *User
	err := s.store.Transact(ctx, func(tx StoreTx) error {
		existing, err := tx.FindUserByEmail(ctx, email)
		if err != nil {
			return fmt.Errorf("finding user: %w", err)
		}
		if existing != nil {
			user = existing
			return nil
		}

		user = &User{
			ID:        s.idgen.New(),
			Email:     email,
			FirstName: DefaultFirstName,
			LastName:  DefaultLastName,
		}
		if err := tx.InsertUser(ctx, user); err != nil {
			return fmt.Errorf("inserting user: %w", err)
		}
		s.logger.Info("user created", "user", user.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// UserByEmail returns the user registered for email, or ErrNotFound if that
// identity has never logged in.
func (s *DMSService) UserByEmail(ctx context.Context, email string) (*User, error) {
	var user *User
	err := s.store.Transact(ctx, func(tx StoreTx) error {
		u, err := tx.FindUserByEmail(ctx, email)
		if err != nil {
			return fmt.Errorf("finding user: %w", err)
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	return user, nil
}

// ChangeName sets the user's names from "<first> <last>".
func (s *DMSService) ChangeName(ctx context.Context, ownerID, newName string) (*User, error) {
	parts := strings.Fields(newName)
	if len(parts) != 2 {
		return nil, fieldError("new_name", ErrInvalidName)
	}
	for _, p := range parts {
		if utf8.RuneCountInString(p) > MaxNameLength {
			return nil, fieldError("new_name", tooLong(MaxNameLength))
		}
	}

	var user *User
	err := s.store.Transact(ctx, func(tx StoreTx) error {
		u, err := tx.FindUser(ctx, ownerID)
		if err != nil {
			return fmt.Errorf("finding user: %w", err)
		}
		if u == nil {
			return fmt.Errorf("user %s: %w", ownerID, ErrNotFound)
		}
		u.FirstName, u.LastName = parts[0], parts[1]
		if err := tx.UpdateUserNames(ctx, u); err != nil {
			return fmt.Errorf("updating user: %w", err)
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Unlock returns the owner's records bound to code. A code that matches
// nothing yields an empty list, so callers cannot tell a wrong code from an
// unused one.
func (s *DMSService) Unlock(ctx context.Context, ownerID, code string) ([]*EmailRecord, error) {
	if code == "" {
		return nil, fieldError("code", ErrCodeRequired)
	}
	digest := s.codes.Digest(code)

	var records []*EmailRecord
	err := s.store.Transact(ctx, func(tx StoreTx) error {
		found, err := tx.FindEmailsByCode(ctx, ownerID, digest)
		if err != nil {
			return fmt.Errorf("finding emails: %w", err)
		}
		records = found
		return nil
	})
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []*EmailRecord{}
	}
	return records, nil
}

// Checkin restarts the interval of every record bound to code from now and
// returns how many records it touched. Zero is not an error.
func (s *DMSService) Checkin(ctx context.Context, ownerID, code string) (int, error) {
	if code == "" {
		return 0, fieldError("code", ErrCodeRequired)
	}
	digest := s.codes.Digest(code)
	now := s.clock.Now()

	count := 0
	err := s.store.Transact(ctx, func(tx StoreTx) error {
		records, err := tx.FindEmailsByCode(ctx, ownerID, digest)
		if err != nil {
			return fmt.Errorf("finding emails: %w", err)
		}
		for _, r := range records {
			r.LastCheckin = now
			if err := rearm(r); err != nil {
				return fmt.Errorf("email %s: %w", r.ID, err)
			}
			if err := tx.UpdateEmail(ctx, r); err != nil {
				return fmt.Errorf("updating email %s: %w", r.ID, err)
			}
		}
		count = len(records)
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("checked in", "owner", ownerID, "emails", count)
	return count, nil
}

// Create validates and stores a new record, armed from now.
func (s *DMSService) Create(ctx context.Context, ownerID string, in NewEmail) (*EmailRecord, error) {
	if in.Code == "" {
		return nil, fieldError("code", ErrCodeRequired)
	}
	if utf8.RuneCountInString(in.Code) > MaxCodeLength {
		return nil, fieldError("code", tooLong(MaxCodeLength))
	}
	if in.Code != in.CodeConfirm {
		return nil, fieldError("code_confirm", ErrCodeMismatch)
	}

	now := s.clock.Now()
	rec := &EmailRecord{
		OwnerID:     ownerID,
		Subject:     in.Subject,
		Body:        in.Body,
		Recipients:  in.Recipients,
		Interval:    in.Interval,
		Timezone:    in.Timezone,
		LastCheckin: now,
		CreatedAt:   now,
	}
	if rec.Timezone == "" {
		rec.Timezone = DefaultTimezone
	}
	if err := validateRecord(rec); err != nil {
		return nil, err
	}
	if in.SendTime != "" {
		t, err := parseFutureSendTime(in.SendTime, rec.Timezone, now)
		if err != nil {
			return nil, err
		}
		rec.SendTime = &t
	}
	if err := rearm(rec); err != nil {
		return nil, err
	}
	rec.ID = s.idgen.New()
	rec.CodeDigest = s.codes.Digest(in.Code)

	err := s.store.Transact(ctx, func(tx StoreTx) error {
		owner, err := tx.FindUser(ctx, ownerID)
		if err != nil {
			return fmt.Errorf("finding user: %w", err)
		}
		if owner == nil {
			return fmt.Errorf("user %s: %w", ownerID, ErrNotFound)
		}
		if err := tx.InsertEmail(ctx, rec); err != nil {
			return fmt.Errorf("inserting email: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("email created", "owner", ownerID, "email", rec.ID, "state", string(rec.State(now)))
	return rec, nil
}

// Delete removes a record. The code must be presented again; a record that
// exists under another code is reported as not found.
func (s *DMSService) Delete(ctx context.Context, ownerID, id, code string) error {
	if id == "" {
		return fieldError("id", ErrMissingField)
	}
	if code == "" {
		return fieldError("code", ErrCodeRequired)
	}
	digest := s.codes.Digest(code)

	err := s.store.Transact(ctx, func(tx StoreTx) error {
		rec, err := tx.FindEmail(ctx, ownerID, id)
		if err != nil {
			return fmt.Errorf("finding email: %w", err)
		}
		if rec == nil || rec.CodeDigest != digest {
			return fmt.Errorf("email %s: %w", id, ErrNotFound)
		}
		if err := tx.DeleteEmail(ctx, ownerID, id); err != nil {
			return fmt.Errorf("deleting email: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("email deleted", "owner", ownerID, "email", id)
	return nil
}

// ApplyChanges applies a change set to the records bound to code. Every
// patch is validated before anything is written and the whole set commits
// in one transaction, so a single bad patch rejects the submission. Each
// changed record has its trigger recomputed from its last check-in.
func (s *DMSService) ApplyChanges(ctx context.Context, ownerID, code string, changes []Patch) ([]Confirmed, error) {
	if code == "" {
		return nil, fieldError("code", ErrCodeRequired)
	}
	if len(changes) == 0 {
		return nil, fieldError("changes", ErrNoChanges)
	}

	seen := make(map[string]bool, len(changes))
	for i, p := range changes {
		if p.ID == "" {
			return nil, &ValidationError{Index: i + 1, Field: "id", Err: ErrMissingField}
		}
		if seen[p.ID] {
			return nil, &ValidationError{Index: i + 1, Field: "id", Err: fmt.Errorf("duplicate change for email %s", p.ID)}
		}
		seen[p.ID] = true
		if p.IsEmpty() {
			return nil, &ValidationError{Index: i + 1, Err: ErrNoChanges}
		}
	}

	digest := s.codes.Digest(code)
	now := s.clock.Now()

	var confirmed []Confirmed
	err := s.store.Transact(ctx, func(tx StoreTx) error {
		updated := make([]*EmailRecord, 0, len(changes))
		for i, p := range changes {
			rec, err := tx.FindEmail(ctx, ownerID, p.ID)
			if err != nil {
				return fmt.Errorf("finding email %s: %w", p.ID, err)
			}
			if rec == nil || rec.CodeDigest != digest {
				return &ValidationError{Index: i + 1, Field: "id", Err: fmt.Errorf("email %s: %w", p.ID, ErrNotFound)}
			}

			next, err := applyPatch(rec, p, now)
			if err != nil {
				var ve *ValidationError
				if errors.As(err, &ve) {
					ve.Index = i + 1
					return ve
				}
				return &ValidationError{Index: i + 1, Err: err}
			}
			updated = append(updated, next)
		}

		confirmed = make([]Confirmed, 0, len(updated))
		for _, rec := range updated {
			if err := tx.UpdateEmail(ctx, rec); err != nil {
				return fmt.Errorf("updating email %s: %w", rec.ID, err)
			}
			confirmed = append(confirmed, Confirmed{ID: rec.ID, IntervalNextSend: rec.IntervalNextSend})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("changes applied", "owner", ownerID, "emails", len(confirmed))
	return confirmed, nil
}
