// Package generation defines the contract the orchestrator requires from a
// text-generation collaborator, plus the agent persona registry used to
// build per-step execution context.
package generation

import (
	"context"
	"errors"
	"fmt"
)

// Persona is the named role configuration for an agent step.
type Persona struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Role   string `yaml:"role"`
	Prompt string `yaml:"prompt"`
}

// Request carries everything a provider needs to execute one agent step.
type Request struct {
	WorkflowID  string
	Goal        string
	Action      string
	Description string
	// History holds the most recent workflow messages, oldest first.
	History []string
	// Artifacts maps artifact names to their current content.
	Artifacts map[string]string
	// Decisions holds routing decisions recorded so far.
	Decisions map[string]string
	// HandoffPrompt is the optional transition prompt for the active agent.
	HandoffPrompt string
}

// GeneratedArtifact is an artifact produced by a generation call.
type GeneratedArtifact struct {
	Name    string
	Type    string
	Content string
}

// Elicitation describes the human input a provider is asking for.
type Elicitation struct {
	Prompt  string
	Kind    string // "text", "choice", or "approval"
	Options []string
	// Decision optionally names the routing decision the answer feeds.
	Decision string
}

// Result is the outcome of one generation call.
type Result struct {
	Content             string
	Artifacts           []GeneratedArtifact
	ElicitationRequired bool
	Elicitation         *Elicitation
}

// Provider executes one agent step. Implementations must be safe to retry:
// a repeated call with the same request must not corrupt downstream state.
type Provider interface {
	Generate(ctx context.Context, persona *Persona, req *Request) (*Result, error)
}

// ProviderError is a structured generation failure. Transient failures
// (rate limits, upstream timeouts) are marked retryable so the recovery
// manager can re-drive the step.
type ProviderError struct {
	Code      string
	Message   string
	Retryable bool
	Cause     error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// Provider error codes.
const (
	ErrCodeRateLimit       = "RATE_LIMIT"
	ErrCodeUpstreamTimeout = "UPSTREAM_TIMEOUT"
	ErrCodeUnavailable     = "PROVIDER_UNAVAILABLE"
	ErrCodeInvalidPersona  = "INVALID_PERSONA"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// IsRetryable reports whether err is a retryable provider failure.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}
