// Package notify provides the best-effort notification collaborator. The
// engine publishes lifecycle and elicitation events through it; a publish
// failure is logged by the caller and never fails the workflow step.
package notify

import (
	"context"
)

// Event names published by the engine.
const (
	EventWorkflowStarted   = "workflow.started"
	EventWorkflowCompleted = "workflow.completed"
	EventWorkflowFailed    = "workflow.failed"
	EventWorkflowCancelled = "workflow.cancelled"
	EventStatusChanged     = "workflow.status_changed"
	EventStepCompleted     = "workflow.step_completed"
	EventElicitation       = "workflow.elicitation_requested"
	EventRolledBack        = "workflow.rolled_back"
)

// Notifier publishes an event with an arbitrary payload to a channel.
type Notifier interface {
	Publish(ctx context.Context, channel, event string, payload any) error
}

// Nop discards all events.
type Nop struct{}

// NewNop returns a Notifier that does nothing.
func NewNop() Nop { return Nop{} }

func (Nop) Publish(context.Context, string, string, any) error { return nil }
