package app

import (
	"time"

	"pdrb/internal/pdr"
)

// Operation statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Operation tracks one CLI command for the log. Its ID tags every log line the command writes.
type Operation struct {
	ID      string
	Name    string
	Started time.Time
	Status  string
	Err     error
}

// NewOperation starts an operation named after the CLI command.
func NewOperation(name string, ids pdr.IDGenerator, clock pdr.Clock) *Operation {
	return &Operation{
		ID:      ids.New(),
		Name:    name,
		Started: clock.Now(),
		Status:  StatusSuccess,
	}
}

// Track marks the operation failed when err is non-nil, and returns err unchanged.
func (op *Operation) Track(err error) error {
	if err != nil && op.Err == nil {
		op.Status = StatusError
		op.Err = err
	}
	return err
}

// Failed reports whether any tracked call failed.
func (op *Operation) Failed() bool {
	return op.Status == StatusError
}

// Elapsed returns the time since the operation started.
func (op *Operation) Elapsed(clock pdr.Clock) time.Duration {
	return clock.Now().Sub(op.Started)
}
