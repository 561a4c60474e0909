package app

import "time"

// Operation tracks one CLI invocation for the log: which command ran, when
// it started and whether it failed.
type Operation struct {
	Name    string
	Started time.Time
	Status  string // "success" or "error"
}

// NewOperation starts tracking the command name at now.
func NewOperation(name string, now time.Time) *Operation {
	return &Operation{
		Name:    name,
		Started: now,
		Status:  "success",
	}
}

// Fail marks the operation as failed.
func (op *Operation) Fail() {
	op.Status = "error"
}

// Elapsed returns the run time at now, rounded to milliseconds.
func (op *Operation) Elapsed(now time.Time) time.Duration {
	return now.Sub(op.Started).Round(time.Millisecond)
}
