// Package interval implements the compact recurrence grammar used to arm
// emails, e.g. "1Y2M3d4h5m".
//
// A spec is a run of <quantity><unit> tokens with no separators. Units are
// Y/y (years), M (months), d/D (days), h/H (hours) and m (minutes). Only the
// month unit is case-sensitive; every other letter folds to lower case. Each
// unit may appear at most once, in any order.
package interval

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

var (
	// ErrInvalidFormat is returned for any string that does not parse.
	ErrInvalidFormat = errors.New("invalid interval format")

	// ErrZeroDuration is returned for a well-formed spec whose every quantity is zero.
	ErrZeroDuration = fmt.Errorf("%w: interval must be longer than zero", ErrInvalidFormat)

	// ErrOutOfRange is returned when the next trigger would fall after MaxYear.
	ErrOutOfRange = fmt.Errorf("%w: next trigger is too far in the future", ErrInvalidFormat)
)

// MaxYear is the last year a trigger may fall in. Later instants have no
// four-digit RFC 3339 form and cannot be sent to clients.
const MaxYear = 9999

// maxQuantity bounds a single token so calendar arithmetic cannot overflow.
const maxQuantity = 100000

var tokenPattern = regexp.MustCompile(`(\d+)([yYMdDhHm])`)

// Spec is a parsed interval. The zero value is not a valid interval.
type Spec struct {
	Years   int
	Months  int
	Days    int
	Hours   int
	Minutes int
}

// Parse validates s and returns the parsed Spec. Whitespace anywhere in s is
// ignored.
func Parse(s string) (Spec, error) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	if cleaned == "" {
		return Spec{}, fmt.Errorf("%w: empty interval", ErrInvalidFormat)
	}

	matches := tokenPattern.FindAllStringSubmatchIndex(cleaned, -1)
	if len(matches) == 0 {
		return Spec{}, fmt.Errorf("%w: %q has no <number><unit> tokens", ErrInvalidFormat, s)
	}

	var spec Spec
	seen := make(map[byte]bool, 5)
	next := 0
	for _, m := range matches {
		if m[0] != next {
			return Spec{}, fmt.Errorf("%w: unexpected %q in %q", ErrInvalidFormat, cleaned[next:m[0]], s)
		}
		next = m[1]

		qty, err := strconv.Atoi(cleaned[m[2]:m[3]])
		if err != nil || qty > maxQuantity {
			return Spec{}, fmt.Errorf("%w: quantity %q out of range", ErrInvalidFormat, cleaned[m[2]:m[3]])
		}

		unit := normalizeUnit(cleaned[m[4]])
		if seen[unit] {
			return Spec{}, fmt.Errorf("%w: unit %q appears more than once", ErrInvalidFormat, string(unit))
		}
		seen[unit] = true

		switch unit {
		case 'y':
			spec.Years = qty
		case 'M':
			spec.Months = qty
		case 'd':
			spec.Days = qty
		case 'h':
			spec.Hours = qty
		case 'm':
			spec.Minutes = qty
		}
	}
	if next != len(cleaned) {
		return Spec{}, fmt.Errorf("%w: unexpected %q in %q", ErrInvalidFormat, cleaned[next:], s)
	}

	if spec.IsZero() {
		return Spec{}, ErrZeroDuration
	}
	return spec, nil
}

// Valid reports whether s parses.
func Valid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// Next parses s and returns the trigger instant that follows from. A
// trigger past the end of MaxYear is rejected with ErrOutOfRange.
func Next(s string, from time.Time) (time.Time, error) {
	spec, err := Parse(s)
	if err != nil {
		return time.Time{}, err
	}
	next := spec.Next(from)
	if next.UTC().Year() > MaxYear {
		return time.Time{}, fmt.Errorf("%w: %q from %s", ErrOutOfRange, s, from.UTC().Format(time.RFC3339))
	}
	return next, nil
}

func normalizeUnit(c byte) byte {
	if c == 'M' {
		return c
	}
	return byte(unicode.ToLower(rune(c)))
}

// IsZero reports whether every quantity is zero.
func (s Spec) IsZero() bool {
	return s.Years == 0 && s.Months == 0 && s.Days == 0 && s.Hours == 0 && s.Minutes == 0
}

// String returns the canonical form: units in Y M d h m order, zero units
// omitted. The result parses back to an equal Spec.
func (s Spec) String() string {
	var b strings.Builder
	for _, part := range []struct {
		qty  int
		unit string
	}{
		{s.Years, "Y"},
		{s.Months, "M"},
		{s.Days, "d"},
		{s.Hours, "h"},
		{s.Minutes, "m"},
	} {
		if part.qty == 0 {
			continue
		}
		b.WriteString(strconv.Itoa(part.qty))
		b.WriteString(part.unit)
	}
	return b.String()
}

// Next returns from shifted by the interval. Years and months move calendar
// fields, clamping to the last day of a shorter month (Jan 31 + 1M = Feb 28),
// while days, hours and minutes move elapsed time. For a non-zero Spec the
// result is always after from.
func (s Spec) Next(from time.Time) time.Time {
	t := addMonths(from, s.Years*12+s.Months)
	return t.Add(time.Duration(s.Days)*24*time.Hour +
		time.Duration(s.Hours)*time.Hour +
		time.Duration(s.Minutes)*time.Minute)
}

// Approx returns a nominal length (365-day years, 30-day months) for display
// and ordering. Use Next for scheduling.
func (s Spec) Approx() time.Duration {
	days := s.Years*365 + s.Months*30 + s.Days
	return time.Duration(days)*24*time.Hour +
		time.Duration(s.Hours)*time.Hour +
		time.Duration(s.Minutes)*time.Minute
}

func addMonths(t time.Time, months int) time.Time {
	if months == 0 {
		return t
	}
	y, m, d := t.Date()
	total := int(m) - 1 + months
	year := y + total/12
	month := time.Month(total%12 + 1)
	if last := daysIn(year, month); d > last {
		d = last
	}
	hh, mm, ss := t.Clock()
	return time.Date(year, month, d, hh, mm, ss, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
