// Package recipient validates comma-separated recipient lists.
package recipient

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidList is wrapped by every validation failure.
var ErrInvalidList = errors.New("invalid recipient list")

// addressPattern is structural only: a dotted local part, '@', and a domain
// with at least one dot. No deliverability checks are made.
var addressPattern = regexp.MustCompile(`^[\w-]+(\.[\w-]+)*@[\w-]+(\.[\w-]+)+$`)

// ListError names the first entry that failed. Index is 1-based.
type ListError struct {
	Index int
	Entry string
}

func (e *ListError) Error() string {
	if e.Entry == "" {
		return fmt.Sprintf("%s recipient is empty", ordinal(e.Index))
	}
	return fmt.Sprintf("%s recipient %q is not a valid email address", ordinal(e.Index), e.Entry)
}

func (e *ListError) Unwrap() error { return ErrInvalidList }

// Validate checks every entry of a comma-separated list. One bad entry
// invalidates the whole list.
func Validate(list string) error {
	for i, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if !ValidAddress(entry) {
			return &ListError{Index: i + 1, Entry: entry}
		}
	}
	return nil
}

// ValidAddress reports whether a single, already trimmed address is well formed.
func ValidAddress(addr string) bool {
	return addressPattern.MatchString(addr)
}

// Split returns the trimmed, non-empty entries of list.
func Split(list string) []string {
	var out []string
	for _, entry := range strings.Split(list, ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

func ordinal(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
