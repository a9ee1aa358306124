// Package checkpoint snapshots workflow instance state and restores it on
// rollback. Snapshots are deep value copies taken with the instance clone
// methods; a checkpoint never aliases live instance state.
package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pipeworks-ai/conductor/workflow"
)

// Type classifies why a checkpoint was taken.
type Type string

const (
	TypeManual     Type = "manual"
	TypeAutomatic  Type = "automatic"
	TypePreStep    Type = "pre_step"
	TypePreRecover Type = "pre_recover"
)

// Checkpoint is an immutable, restorable snapshot of an instance.
type Checkpoint struct {
	ID          string                   `json:"id"`
	WorkflowID  string                   `json:"workflow_id"`
	Type        Type                     `json:"type"`
	Description string                   `json:"description,omitempty"`
	StepIndex   int                      `json:"step_index"`
	ActiveAgent string                   `json:"active_agent,omitempty"`
	Context     workflow.InstanceContext `json:"context"`
	Messages    []workflow.Message       `json:"messages,omitempty"`
	Errors      []workflow.ErrorRecord   `json:"errors,omitempty"`
	Metadata    map[string]string        `json:"metadata,omitempty"`
	CreatedAt   time.Time                `json:"created_at"`
	ExpiresAt   *time.Time               `json:"expires_at,omitempty"`
}

// Summary is the lightweight listing form kept in memory.
type Summary struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	Description string    `json:"description,omitempty"`
	StepIndex   int       `json:"step_index"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists checkpoints durably, keyed by checkpoint id.
type Store interface {
	Save(ctx context.Context, cp *Checkpoint) error
	Load(ctx context.Context, checkpointID string) (*Checkpoint, error)
	List(ctx context.Context, workflowID string) ([]*Checkpoint, error)
	Delete(ctx context.Context, checkpointID string) error
}

// ErrNotFound is wrapped by RollbackNotFoundError for unknown checkpoints.
var ErrNotFound = fmt.Errorf("checkpoint not found")

// RollbackNotFoundError indicates a rollback against an unknown checkpoint.
type RollbackNotFoundError struct {
	WorkflowID   string
	CheckpointID string
}

func (e *RollbackNotFoundError) Error() string {
	return fmt.Sprintf("rollback %s: checkpoint %s not found", e.WorkflowID, e.CheckpointID)
}

func (e *RollbackNotFoundError) Unwrap() error { return ErrNotFound }

func newCheckpointID() string {
	return "ckpt_" + uuid.NewString()
}
