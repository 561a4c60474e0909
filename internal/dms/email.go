package dms

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"dms-go/internal/interval"
	"dms-go/internal/recipient"
)

// Field limits, in characters.
const (
	MaxSubjectLength    = 1000
	MaxBodyLength       = 4000
	MaxRecipientsLength = 1000
	MaxSendTimeLength   = 100
	MaxCodeLength       = 100
	MaxIntervalLength   = 100
	MaxTimezoneLength   = 100
	MaxEmailLength      = 100
	MaxNameLength       = 50
)

// DefaultTimezone is used when a record does not name one.
const DefaultTimezone = "UTC"

// SendTimeLayout is the wall-clock form accepted for send_time, interpreted
// in the record's timezone. RFC 3339 is accepted too.
const SendTimeLayout = "2006-01-02T15:04"

// EmailRecord is one armed message. The secret code is held only as a
// digest and never leaves the server.
type EmailRecord struct {
	ID               string     `json:"id"`
	OwnerID          string     `json:"-"`
	Subject          string     `json:"subject"`
	Body             string     `json:"body"`
	Recipients       string     `json:"recipients"`
	SendTime         *time.Time `json:"send_time"`
	Interval         string     `json:"interval"`
	Timezone         string     `json:"timezone"`
	IntervalNextSend time.Time  `json:"interval_next_send"`
	LastCheckin      time.Time  `json:"last_checkin"`
	CodeDigest       string     `json:"-"`
	CreatedAt        time.Time  `json:"-"`
}

// Clone returns a deep copy.
func (r *EmailRecord) Clone() *EmailRecord {
	c := *r
	if r.SendTime != nil {
		t := *r.SendTime
		c.SendTime = &t
	}
	return &c
}

// OneShot reports whether the record is retired after its first send.
func (r *EmailRecord) OneShot() bool {
	return r.SendTime != nil
}

// DueAt is the instant the record fires. A check-in moves
// IntervalNextSend but never an absolute send time, so one-shot records fire
// at whichever comes first.
func (r *EmailRecord) DueAt() time.Time {
	if r.SendTime != nil && r.SendTime.Before(r.IntervalNextSend) {
		return *r.SendTime
	}
	return r.IntervalNextSend
}

// State is a record's position in the trigger lifecycle.
type State string

const (
	StateArmedOneShot    State = "ARMED_ONESHOT"
	StateArmedRecurring  State = "ARMED_RECURRING"
	StateDue             State = "DUE"
	StateSentTerminal    State = "SENT_TERMINAL"
	StateSentRescheduled State = "SENT_RESCHEDULED"
)

// State returns the armed or due state at now. The SENT_* states are sweep
// outcomes and are never stored.
func (r *EmailRecord) State(now time.Time) State {
	switch {
	case !now.Before(r.DueAt()):
		return StateDue
	case r.OneShot():
		return StateArmedOneShot
	default:
		return StateArmedRecurring
	}
}

// User is an account, keyed by the email claim of its bearer token.
type User struct {
	ID        string `json:"-"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Default names given to a user on first login.
const (
	DefaultFirstName = "FirstName"
	DefaultLastName  = "LastName"
)

// NewEmail is the input to Create.
type NewEmail struct {
	Subject     string `json:"subject"`
	Body        string `json:"body"`
	Recipients  string `json:"recipients"`
	SendTime    string `json:"send_time"`
	Code        string `json:"code"`
	CodeConfirm string `json:"code_confirm"`
	Interval    string `json:"interval"`
	Timezone    string `json:"timezone"`
}

// Patch is a partial update of one record. Nil fields are left alone. An
// empty SendTime clears a pending one-shot send. ID, code and derived fields
// cannot be patched.
type Patch struct {
	ID         string  `json:"id"`
	Subject    *string `json:"subject,omitempty"`
	Body       *string `json:"body,omitempty"`
	Recipients *string `json:"recipients,omitempty"`
	SendTime   *string `json:"send_time,omitempty"`
	Interval   *string `json:"interval,omitempty"`
	Timezone   *string `json:"timezone,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Subject == nil && p.Body == nil && p.Recipients == nil &&
		p.SendTime == nil && p.Interval == nil && p.Timezone == nil
}

// Confirmed carries the server-computed trigger for a changed record.
type Confirmed struct {
	ID               string    `json:"id"`
	IntervalNextSend time.Time `json:"interval_next_send"`
}

// FormatSendTime renders t the way Diff and the CLI submit it.
func FormatSendTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// ParseSendTime accepts RFC 3339 or SendTimeLayout in the named zone.
func ParseSendTime(raw, tz string) (time.Time, error) {
	if utf8.RuneCountInString(raw) > MaxSendTimeLength {
		return time.Time{}, tooLong(MaxSendTimeLength)
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	loc, err := loadLocation(tz)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.ParseInLocation(SendTimeLayout, raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not YYYY-MM-DDTHH:MM", ErrInvalidSendTime, raw)
	}
	return t.UTC(), nil
}

func loadLocation(tz string) (*time.Location, error) {
	if tz == "" {
		tz = DefaultTimezone
	}
	if utf8.RuneCountInString(tz) > MaxTimezoneLength {
		return nil, tooLong(MaxTimezoneLength)
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, tz)
	}
	return loc, nil
}

// validateRecord checks every mutable field of r.
func validateRecord(r *EmailRecord) error {
	for _, f := range []struct {
		name  string
		value string
		max   int
	}{
		{"subject", r.Subject, MaxSubjectLength},
		{"body", r.Body, MaxBodyLength},
		{"recipients", r.Recipients, MaxRecipientsLength},
		{"interval", r.Interval, MaxIntervalLength},
	} {
		if strings.TrimSpace(f.value) == "" {
			return fieldError(f.name, ErrMissingField)
		}
		if utf8.RuneCountInString(f.value) > f.max {
			return fieldError(f.name, tooLong(f.max))
		}
	}

	if err := recipient.Validate(r.Recipients); err != nil {
		return fieldError("recipients", err)
	}
	if _, err := interval.Parse(r.Interval); err != nil {
		return fieldError("interval", err)
	}
	if _, err := loadLocation(r.Timezone); err != nil {
		return fieldError("timezone", err)
	}
	return nil
}

// rearm recomputes the derived trigger from the record's last check-in.
func rearm(r *EmailRecord) error {
	next, err := interval.Next(r.Interval, r.LastCheckin)
	if err != nil {
		return fieldError("interval", err)
	}
	r.IntervalNextSend = next
	return nil
}

// applyPatch returns a validated copy of r with p applied.
func applyPatch(r *EmailRecord, p Patch, now time.Time) (*EmailRecord, error) {
	out := r.Clone()
	if p.Subject != nil {
		out.Subject = *p.Subject
	}
	if p.Body != nil {
		out.Body = *p.Body
	}
	if p.Recipients != nil {
		out.Recipients = *p.Recipients
	}
	if p.Interval != nil {
		out.Interval = *p.Interval
	}
	if p.Timezone != nil {
		out.Timezone = *p.Timezone
		if out.Timezone == "" {
			out.Timezone = DefaultTimezone
		}
	}
	if p.SendTime != nil {
		if *p.SendTime == "" {
			out.SendTime = nil
		} else {
			t, err := parseFutureSendTime(*p.SendTime, out.Timezone, now)
			if err != nil {
				return nil, err
			}
			out.SendTime = &t
		}
	}

	if err := validateRecord(out); err != nil {
		return nil, err
	}
	if err := rearm(out); err != nil {
		return nil, err
	}
	return out, nil
}

func parseFutureSendTime(raw, tz string, now time.Time) (time.Time, error) {
	t, err := ParseSendTime(raw, tz)
	if err != nil {
		return time.Time{}, fieldError("send_time", err)
	}
	if !t.After(now) {
		return time.Time{}, fieldError("send_time", fmt.Errorf("%w: %s is not in the future", ErrInvalidSendTime, raw))
	}
	return t, nil
}
