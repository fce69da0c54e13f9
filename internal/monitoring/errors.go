package monitoring

import (
	"errors"
	"fmt"
)

// PersistenceError marks a Store failure. It is the only error a job is
// allowed to return; device and notification failures are absorbed earlier.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// ScheduleSpecError is returned when a job's trigger cannot be parsed.
type ScheduleSpecError struct {
	JobID string
	Spec  string
	Err   error
}

func (e *ScheduleSpecError) Error() string {
	return fmt.Sprintf("invalid schedule %q for job %s: %v", e.Spec, e.JobID, e.Err)
}

func (e *ScheduleSpecError) Unwrap() error {
	return e.Err
}
