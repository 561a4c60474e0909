package dms

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"dms-go/internal/recipient"
)

// SweepReport summarizes one pass of the trigger engine.
type SweepReport struct {
	Due         int
	Retired     int // one-shot records sent and deleted
	Rescheduled int // recurring records sent and re-armed
	Skipped     int // checked in, edited or deleted since the due query
	Failed      int // dispatch errors; retried on the next sweep
}

// Sent returns the number of messages dispatched.
func (r SweepReport) Sent() int { return r.Retired + r.Rescheduled }

// Sweep dispatches every record that is due. A record is re-read under lock
// before sending so a check-in that landed after the due query wins.
// Dispatch happens outside any transaction; only a confirmed dispatch
// advances or retires the record.
func (s *DMSService) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := s.clock.Now()

	due, err := s.store.FindDueEmails(ctx, now)
	if err != nil {
		return report, fmt.Errorf("finding due emails: %w", err)
	}
	report.Due = len(due)

	for _, candidate := range due {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		outcome, err := s.fire(ctx, candidate.OwnerID, candidate.ID, now)
		if err != nil {
			report.Failed++
			s.logger.Warn("dispatch failed", "email", candidate.ID, "error", err)
			continue
		}
		switch outcome {
		case StateSentTerminal:
			report.Retired++
		case StateSentRescheduled:
			report.Rescheduled++
		default:
			report.Skipped++
		}
	}

	if report.Due > 0 {
		s.logger.Info("sweep finished",
			"due", report.Due, "retired", report.Retired, "rescheduled", report.Rescheduled,
			"skipped", report.Skipped, "failed", report.Failed)
	}
	return report, nil
}

// fire sends one record and returns its outcome state. A record that is no
// longer due returns its armed state, and one that is gone returns "".
func (s *DMSService) fire(ctx context.Context, ownerID, id string, firedAt time.Time) (State, error) {
	var rec *EmailRecord
	err := s.store.Transact(ctx, func(tx StoreTx) error {
		r, err := tx.FindEmail(ctx, ownerID, id)
		if err != nil {
			return fmt.Errorf("finding email: %w", err)
		}
		rec = r
		return nil
	})
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", nil
	}
	if state := rec.State(firedAt); state != StateDue {
		return state, nil
	}

	msg := &Message{
		EmailID: rec.ID,
		To:      recipient.Split(rec.Recipients),
		Subject: rec.Subject,
		Body:    rec.Body,
		Date:    firedAt,
	}
	raw, err := s.mailer.Send(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("sending email %s: %w", rec.ID, err)
	}
	s.archiveMessage(ctx, rec, raw, firedAt)

	// The outcome is taken from the record as it stands after dispatch. An
	// edit that cleared or moved the send time keeps the record armed.
	var outcome State
	err = s.store.Transact(ctx, func(tx StoreTx) error {
		current, err := tx.FindEmail(ctx, ownerID, id)
		if err != nil {
			return fmt.Errorf("finding email: %w", err)
		}
		if current == nil {
			outcome = StateSentTerminal
			return nil
		}
		if current.OneShot() && sameSendTime(rec, current) {
			outcome = StateSentTerminal
			return tx.DeleteEmail(ctx, ownerID, id)
		}
		outcome = StateSentRescheduled
		current.LastCheckin = firedAt
		if err := rearm(current); err != nil {
			return err
		}
		return tx.UpdateEmail(ctx, current)
	})
	if err != nil {
		s.logger.Error("finalizing sent email", "email", id, "error", err)
		return "", fmt.Errorf("finalizing email %s: %w", id, err)
	}

	s.logger.Info("email sent", "email", id, "outcome", string(outcome))
	return outcome, nil
}

func sameSendTime(a, b *EmailRecord) bool {
	if a.SendTime == nil || b.SendTime == nil {
		return a.SendTime == b.SendTime
	}
	return a.SendTime.Equal(*b.SendTime)
}

// archiveMessage stores the rendered message. Failures are logged, never
// returned: the message has already been delivered.
func (s *DMSService) archiveMessage(ctx context.Context, rec *EmailRecord, raw []byte, sentAt time.Time) {
	if s.archive == nil {
		return
	}
	key := ArchiveKey(rec.OwnerID, rec.ID, sentAt)
	if err := s.archive.Put(ctx, key, bytes.NewReader(raw), int64(len(raw))); err != nil {
		s.logger.Warn("archiving message", "email", rec.ID, "key", key, "error", err)
	}
}

// ArchiveKey names an archived message: <owner>/<email>/<UTC timestamp>.eml.
func ArchiveKey(ownerID, emailID string, sentAt time.Time) string {
	return fmt.Sprintf("%s/%s/%s.eml", ownerID, emailID, sentAt.UTC().Format("20060102T150405Z"))
}
