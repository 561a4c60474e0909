package changeset

import (
	"context"
	"fmt"

	"dms-go/internal/dms"
)

// Submitter sends a change set for the partition unlocked by code.
type Submitter interface {
	SubmitChanges(ctx context.Context, code string, changes []dms.Patch) ([]dms.Confirmed, error)
}

// Workspace holds the pristine and working copies of one unlocked
// partition. It is not safe for concurrent use.
type Workspace struct {
	code     string
	pristine []dms.EmailRecord
	working  []dms.EmailRecord
}

// NewWorkspace starts a session over records, as returned by an unlock.
func NewWorkspace(code string, records []*dms.EmailRecord) *Workspace {
	pristine := make([]dms.EmailRecord, len(records))
	for i, r := range records {
		pristine[i] = *r.Clone()
	}
	return &Workspace{
		code:     code,
		pristine: pristine,
		working:  clone(pristine),
	}
}

// Code returns the access code the workspace was unlocked with.
func (w *Workspace) Code() string { return w.code }

// Records returns a copy of the working records.
func (w *Workspace) Records() []dms.EmailRecord {
	return clone(w.working)
}

// Edit applies fn to the working record with id. The id itself cannot be
// changed.
func (w *Workspace) Edit(id string, fn func(r *dms.EmailRecord)) error {
	for i := range w.working {
		if w.working[i].ID == id {
			fn(&w.working[i])
			w.working[i].ID = id
			return nil
		}
	}
	return fmt.Errorf("email %s: %w", id, dms.ErrNotFound)
}

// Remove drops a record from the working copy. Removal is local: it is not
// part of the change set and does not delete anything on the server.
func (w *Workspace) Remove(id string) bool {
	for i := range w.working {
		if w.working[i].ID == id {
			w.working = append(w.working[:i], w.working[i+1:]...)
			return true
		}
	}
	return false
}

// Add appends rec to the working copy. A record unknown to the pristine
// copy is submitted with every field set; the server only accepts ids it
// already holds under the workspace code.
func (w *Workspace) Add(rec dms.EmailRecord) {
	w.working = append(w.working, *rec.Clone())
}

// Changes returns the current change set.
func (w *Workspace) Changes() []dms.Patch {
	return Diff(w.pristine, w.working)
}

// Save submits the change set. An empty or invalid set is rejected
// without contacting the server. On failure nothing is merged and the
// pristine copy is untouched; on success the confirmation is merged and the
// result becomes the new pristine copy.
func (w *Workspace) Save(ctx context.Context, s Submitter) ([]dms.Confirmed, error) {
	changes := w.Changes()
	if len(changes) == 0 {
		return nil, dms.ErrNoChanges
	}
	if err := Validate(changes); err != nil {
		return nil, err
	}

	confirmed, err := s.SubmitChanges(ctx, w.code, changes)
	if err != nil {
		return nil, err
	}

	w.working = Merge(w.working, confirmed)
	w.pristine = clone(w.working)
	return confirmed, nil
}
