package workflow

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a workflow instance.
type Status string

const (
	StatusInitializing         Status = "initializing"
	StatusRunning              Status = "running"
	StatusPaused               Status = "paused"
	StatusPausedForElicitation Status = "paused_for_elicitation"
	StatusRollingBack          Status = "rolling_back"
	StatusRolledBack           Status = "rolled_back"
	StatusCompleted            Status = "completed"
	StatusError                Status = "error"
	StatusCancelled            Status = "cancelled"
)

// IsTerminal reports whether the execution loop halts in this status.
// Terminal instances remain queryable; they are never deleted by the core.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusError:
		return true
	default:
		return false
	}
}

// CanTransitionTo validates a status transition against the lifecycle
// state machine. Cancel is allowed from any non-terminal state.
func (s Status) CanTransitionTo(next Status) bool {
	if next == StatusCancelled {
		return !s.IsTerminal()
	}
	allowed, ok := statusTransitions[s]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == next {
			return true
		}
	}
	return false
}

var statusTransitions = map[Status][]Status{
	StatusInitializing: {StatusRunning, StatusError},
	StatusRunning: {
		StatusPaused, StatusPausedForElicitation, StatusRollingBack,
		StatusCompleted, StatusError,
	},
	StatusPaused:               {StatusRunning, StatusRollingBack},
	StatusPausedForElicitation: {StatusRunning, StatusRollingBack},
	StatusRollingBack:          {StatusRolledBack, StatusError},
	StatusRolledBack:           {StatusRunning, StatusRollingBack},
	StatusError:                {StatusRollingBack},
}

// Artifact is a named, typed output produced by a step.
type Artifact struct {
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one entry of the instance's accumulated conversation log.
type Message struct {
	Agent     string    `json:"agent"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorRecord is a structured step failure appended to the instance.
type ErrorRecord struct {
	StepIndex         int       `json:"step_index"`
	Message           string    `json:"message"`
	RecoveryAttempted bool      `json:"recovery_attempted"`
	Timestamp         time.Time `json:"timestamp"`
}

// ElicitationRecord is one resolved human-input exchange, kept for history.
type ElicitationRecord struct {
	MessageID  string    `json:"message_id"`
	StepIndex  int       `json:"step_index"`
	Prompt     string    `json:"prompt"`
	Response   string    `json:"response"`
	AnsweredAt time.Time `json:"answered_at"`
}

// InstanceContext is the mutable context bundle of a running instance.
type InstanceContext struct {
	Artifacts      map[string]Artifact `json:"artifacts"`
	Decisions      map[string]string   `json:"decisions"`
	ElicitationLog []ElicitationRecord `json:"elicitation_log,omitempty"`
}

// NewInstanceContext creates an empty context bundle.
func NewInstanceContext() InstanceContext {
	return InstanceContext{
		Artifacts: make(map[string]Artifact),
		Decisions: make(map[string]string),
	}
}

// Clone returns a deep value copy with no aliasing into the receiver.
func (c InstanceContext) Clone() InstanceContext {
	out := InstanceContext{
		Artifacts: make(map[string]Artifact, len(c.Artifacts)),
		Decisions: make(map[string]string, len(c.Decisions)),
	}
	for k, v := range c.Artifacts {
		out.Artifacts[k] = v
	}
	for k, v := range c.Decisions {
		out.Decisions[k] = v
	}
	if len(c.ElicitationLog) > 0 {
		out.ElicitationLog = make([]ElicitationRecord, len(c.ElicitationLog))
		copy(out.ElicitationLog, c.ElicitationLog)
	}
	return out
}

// Instance is one running execution of a definition. It is owned
// exclusively by the orchestrator process that created it; cross-instance
// isolation comes from unique identity, not locking.
type Instance struct {
	ID          string            `json:"id"`
	Template    string            `json:"template"`
	Goal        string            `json:"goal"`
	Steps       []Step            `json:"steps"`
	Status      Status            `json:"status"`
	CurrentStep int               `json:"current_step"`
	ActiveAgent string            `json:"active_agent,omitempty"`
	Context     InstanceContext   `json:"context"`
	Messages    []Message         `json:"messages,omitempty"`
	Errors      []ErrorRecord     `json:"errors,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Clone returns a deep value copy of the instance. Steps are shared: they
// are immutable after parsing.
func (in *Instance) Clone() *Instance {
	out := *in
	out.Context = in.Context.Clone()
	if len(in.Messages) > 0 {
		out.Messages = make([]Message, len(in.Messages))
		copy(out.Messages, in.Messages)
	}
	if len(in.Errors) > 0 {
		out.Errors = make([]ErrorRecord, len(in.Errors))
		copy(out.Errors, in.Errors)
	}
	if in.Metadata != nil {
		out.Metadata = make(map[string]string, len(in.Metadata))
		for k, v := range in.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

// StepAt returns the step at index, or false when the index has run past
// the end of the sequence.
func (in *Instance) StepAt(index int) (Step, bool) {
	if index < 0 || index >= len(in.Steps) {
		return Step{}, false
	}
	return in.Steps[index], true
}

// HasArtifact reports whether the named artifact exists (exact match).
func (in *Instance) HasArtifact(name string) bool {
	_, ok := in.Context.Artifacts[name]
	return ok
}

// Validate checks the instance invariants the engine relies on.
func (in *Instance) Validate() error {
	if in.ID == "" {
		return fmt.Errorf("instance missing id")
	}
	if in.CurrentStep < 0 || in.CurrentStep > len(in.Steps) {
		return fmt.Errorf("instance %s: step index %d out of range [0,%d]",
			in.ID, in.CurrentStep, len(in.Steps))
	}
	return nil
}
