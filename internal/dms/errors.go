package dms

import (
	"errors"
	"fmt"

	"dms-go/internal/interval"
	"dms-go/internal/recipient"
)

var (
	// ErrInvalidInterval marks an interval that does not parse.
	ErrInvalidInterval = interval.ErrInvalidFormat

	// ErrInvalidRecipients marks a recipient list with a malformed entry.
	ErrInvalidRecipients = recipient.ErrInvalidList

	ErrCodeMismatch    = errors.New("code and confirmation do not match")
	ErrCodeRequired    = errors.New("code is required")
	ErrNotFound        = errors.New("not found")
	ErrAuthRequired    = errors.New("authentication required")
	ErrInvalidSendTime = errors.New("invalid send time")
	ErrInvalidTimezone = errors.New("invalid timezone")
	ErrTooLong         = errors.New("value too long")
	ErrMissingField    = errors.New("missing required field")
	ErrInvalidName     = errors.New("name must be a first and last name")
	ErrNoChanges       = errors.New("no changes")
)

// ValidationError ties a rejection to a field and, for batch submissions, to
// the 1-based position of the offending change.
type ValidationError struct {
	Index int
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	msg := e.Err.Error()
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Index > 0 {
		msg = fmt.Sprintf("change %d: %s", e.Index, msg)
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a client input problem rather than a
// missing record or an infrastructure failure.
func IsValidation(err error) bool {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAuthRequired) {
		return false
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return true
	}
	for _, target := range []error{
		ErrInvalidInterval, ErrInvalidRecipients, ErrCodeMismatch, ErrCodeRequired,
		ErrInvalidSendTime, ErrInvalidTimezone, ErrTooLong, ErrMissingField,
		ErrInvalidName, ErrNoChanges,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func fieldError(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

func tooLong(max int) error {
	return fmt.Errorf("%w: at most %d characters", ErrTooLong, max)
}
