package app

import "time"

// Operation tracks one CLI invocation. Its ID correlates every log line the
// invocation writes and its status is logged when the App closes.
type Operation struct {
	ID        string
	Name      string
	StartedAt time.Time
	Status    string // "success" or "error"
}

// NewOperation creates an operation record for the named CLI command.
func NewOperation(name string, startedAt time.Time) *Operation {
	return &Operation{
		ID:        startedAt.UTC().Format("20060102T150405Z"),
		Name:      name,
		StartedAt: startedAt,
		Status:    "success",
	}
}

// Fail marks the operation as failed. The first failure sticks.
func (op *Operation) Fail() {
	op.Status = "error"
}

// Duration returns how long the operation has been running.
func (op *Operation) Duration(now time.Time) time.Duration {
	return now.Sub(op.StartedAt)
}
