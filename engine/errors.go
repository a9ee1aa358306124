package engine

import (
	"errors"
	"fmt"
)

// ErrRecoveryExhausted is returned when retries for a transient step
// failure are exhausted and the instance has transitioned to StatusError.
var ErrRecoveryExhausted = errors.New("recovery exhausted")

// ErrWorkflowNotFound is returned by control-surface operations for
// unknown workflow ids.
var ErrWorkflowNotFound = errors.New("workflow not found")

// ValidationError indicates a malformed start request. It is surfaced
// synchronously; no instance is created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid start request: %s %s", e.Field, e.Reason)
}

// StepExecutionError indicates an agent or routing step failure.
type StepExecutionError struct {
	WorkflowID string
	StepIndex  int
	StepName   string
	Cause      error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("workflow %s step %d (%s): %v",
		e.WorkflowID, e.StepIndex, e.StepName, e.Cause)
}

func (e *StepExecutionError) Unwrap() error { return e.Cause }

// PersistenceError indicates a failed store operation. Saves during the
// run loop are best-effort: the in-memory mutation is kept and the error
// is logged, a documented consistency gap closed by idempotent
// whole-document writes on the next save.
type PersistenceError struct {
	WorkflowID string
	Op         string
	Cause      error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s for workflow %s: %v", e.Op, e.WorkflowID, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }
