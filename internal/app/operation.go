package app

import "time"

// Operation tracks one CLI invocation for logging. Its ID tags every log
// line the invocation writes.
type Operation struct {
	ID         string
	Name       string
	Parameters string
	Started    time.Time
	Status     string // "success" or "error"
}

// NewOperation creates an operation started at now.
func NewOperation(name, parameters string, now time.Time) *Operation {
	return &Operation{
		ID:         name + "-" + now.UTC().Format("20060102T150405Z"),
		Name:       name,
		Parameters: parameters,
		Started:    now,
		Status:     "success",
	}
}

// Finish records the outcome and returns how long the operation ran.
func (op *Operation) Finish(err error, now time.Time) time.Duration {
	if err != nil {
		op.Status = "error"
	}
	return now.Sub(op.Started)
}
