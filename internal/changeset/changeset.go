// Package changeset computes the minimal patches between the records a
// client unlocked and the records it edited, and folds the server's
// confirmation back into the working copy.
package changeset

import (
	"dms-go/internal/dms"
	"dms-go/internal/interval"
	"dms-go/internal/recipient"
)

// Diff returns one patch per working record that differs from its pristine
// counterpart, in working order. A record absent from pristine yields a
// patch carrying every mutable field. Pristine records missing from working
// are not represented.
func Diff(pristine, working []dms.EmailRecord) []dms.Patch {
	byID := make(map[string]*dms.EmailRecord, len(pristine))
	for i := range pristine {
		byID[pristine[i].ID] = &pristine[i]
	}

	var patches []dms.Patch
	for i := range working {
		w := &working[i]
		p, ok := byID[w.ID]
		if !ok {
			patches = append(patches, full(w))
			continue
		}
		if patch, changed := diffOne(p, w); changed {
			patches = append(patches, patch)
		}
	}
	return patches
}

func full(r *dms.EmailRecord) dms.Patch {
	return dms.Patch{
		ID:         r.ID,
		Subject:    ptr(r.Subject),
		Body:       ptr(r.Body),
		Recipients: ptr(r.Recipients),
		SendTime:   ptr(sendTime(r)),
		Interval:   ptr(r.Interval),
		Timezone:   ptr(r.Timezone),
	}
}

func diffOne(p, w *dms.EmailRecord) (dms.Patch, bool) {
	patch := dms.Patch{ID: w.ID}
	changed := false
	set := func(dst **string, before, after string) {
		if before != after {
			*dst = ptr(after)
			changed = true
		}
	}
	set(&patch.Subject, p.Subject, w.Subject)
	set(&patch.Body, p.Body, w.Body)
	set(&patch.Recipients, p.Recipients, w.Recipients)
	set(&patch.SendTime, sendTime(p), sendTime(w))
	set(&patch.Interval, p.Interval, w.Interval)
	set(&patch.Timezone, p.Timezone, w.Timezone)
	return patch, changed
}

// sendTime renders the absolute send time the way patches carry it; "" means
// no send time.
func sendTime(r *dms.EmailRecord) string {
	if r.SendTime == nil {
		return ""
	}
	return dms.FormatSendTime(*r.SendTime)
}

func ptr(s string) *string { return &s }

// Merge returns a copy of working with interval_next_send taken from the
// server's confirmation for each confirmed id. Everything else stays as
// submitted.
func Merge(working []dms.EmailRecord, confirmed []dms.Confirmed) []dms.EmailRecord {
	next := make(map[string]dms.Confirmed, len(confirmed))
	for _, c := range confirmed {
		next[c.ID] = c
	}

	out := clone(working)
	for i := range out {
		if c, ok := next[out[i].ID]; ok {
			out[i].IntervalNextSend = c.IntervalNextSend
		}
	}
	return out
}

func clone(records []dms.EmailRecord) []dms.EmailRecord {
	out := make([]dms.EmailRecord, len(records))
	for i := range records {
		out[i] = *records[i].Clone()
	}
	return out
}

// Validate checks the fields of changes that can be rejected without the
// server: interval syntax and recipient lists. Errors name the 1-based
// position of the offending change.
func Validate(changes []dms.Patch) error {
	for i, p := range changes {
		if p.Interval != nil {
			if _, err := interval.Parse(*p.Interval); err != nil {
				return &dms.ValidationError{Index: i + 1, Field: "interval", Err: err}
			}
		}
		if p.Recipients != nil {
			if err := recipient.Validate(*p.Recipients); err != nil {
				return &dms.ValidationError{Index: i + 1, Field: "recipients", Err: err}
			}
		}
	}
	return nil
}
