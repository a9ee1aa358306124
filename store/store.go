// Package store provides the instance repository used by the orchestrator.
// Implementations persist whole instance documents; saves are idempotent
// full-document writes, which is what makes best-effort persistence safe
// to retry after a failure.
package store

import (
	"context"
	"errors"

	"github.com/pipeworks-ai/conductor/workflow"
)

// ErrNotFound is returned when no instance exists for the requested id.
var ErrNotFound = errors.New("workflow instance not found")

// InstanceStore persists workflow instances keyed by id.
type InstanceStore interface {
	// Save writes the full instance document (create or update).
	Save(ctx context.Context, inst *workflow.Instance) error

	// Load returns a copy of the instance, or ErrNotFound.
	Load(ctx context.Context, workflowID string) (*workflow.Instance, error)

	// List returns instances matching the filter, newest first.
	List(ctx context.Context, filter Filter) ([]*workflow.Instance, error)

	// Delete removes an instance. Retention policy only; the engine never
	// calls this for terminal instances.
	Delete(ctx context.Context, workflowID string) error
}

// Filter narrows List results.
type Filter struct {
	Status   workflow.Status
	Template string
	Limit    int
}

func (f Filter) matches(inst *workflow.Instance) bool {
	if f.Status != "" && inst.Status != f.Status {
		return false
	}
	if f.Template != "" && inst.Template != f.Template {
		return false
	}
	return true
}
