package pdr

import (
	"errors"
	"fmt"
)

// ErrUnsupportedFeature is returned when a requested archive container has no backend.
var ErrUnsupportedFeature = errors.New("unsupported feature")

// ErrNotPermitted is returned by Service when the injected permission predicate says no.
var ErrNotPermitted = errors.New("operation not permitted")

// ValidationError reports bad caller input. No side effects have been attempted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DecodeStage names the decoding step that failed.
type DecodeStage string

const (
	DecodeContainer DecodeStage = "container"
	DecodeTransport DecodeStage = "transport"
	DecodeStructure DecodeStage = "structure"
	DecodeRecords   DecodeStage = "records"
)

// DecodeError reports a malformed archive. Import aborts before any store mutation.
type DecodeError struct {
	Stage DecodeStage
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding archive (%s): %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// StoreError reports a failure for a single record operation.
// Index is the record's position in its archive list, or -1 when not applicable.
type StoreError struct {
	Op       string
	Category Category
	Index    int
	RecordID int64
	Err      error
}

func (e *StoreError) Error() string {
	switch {
	case e.RecordID != 0:
		return fmt.Sprintf("%s %s record id=%d: %v", e.Op, e.Category, e.RecordID, e.Err)
	case e.Index >= 0:
		return fmt.Sprintf("%s %s record #%d: %v", e.Op, e.Category, e.Index, e.Err)
	default:
		return fmt.Sprintf("%s %s records: %v", e.Op, e.Category, e.Err)
	}
}

func (e *StoreError) Unwrap() error { return e.Err }

// IOError reports a disk read or write failure.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// PartialImportError reports an import that mutated the store but did not complete cleanly.
// Delete and insert are not transactional, so the store may hold fewer records than before.
type PartialImportError struct {
	Deleted  int
	Inserted int
	Failures []*StoreError
}

func (e *PartialImportError) Error() string {
	return fmt.Sprintf("import partially applied: deleted %d, inserted %d, %d failure(s)",
		e.Deleted, e.Inserted, len(e.Failures))
}

func (e *PartialImportError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// RecordError is a StoreError for a single archive entry.
type RecordError = StoreError
