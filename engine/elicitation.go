package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pipeworks-ai/conductor/generation"
	"github.com/pipeworks-ai/conductor/workflow"
)

// ElicitationRequest is an outstanding request for human input. Each
// request carries the step index that owns it, so resolution is addressed
// explicitly instead of picking an arbitrary pending entry.
type ElicitationRequest struct {
	WorkflowID string    `json:"workflow_id"`
	MessageID  string    `json:"message_id"`
	StepIndex  int       `json:"step_index"`
	Prompt     string    `json:"prompt"`
	Kind       string    `json:"kind"` // "text", "choice", or "approval"
	Options    []string  `json:"options,omitempty"`
	Decision   string    `json:"decision,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ElicitationService tracks pending human-input requests per workflow and
// merges responses back into instance state.
type ElicitationService struct {
	logger *zap.Logger
	// pending maps workflow id -> message id -> request.
	pending map[string]map[string]*ElicitationRequest
	mu      sync.RWMutex
}

// NewElicitationService creates an empty service.
func NewElicitationService(logger *zap.Logger) *ElicitationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ElicitationService{
		logger:  logger.With(zap.String("component", "elicitation_service")),
		pending: make(map[string]map[string]*ElicitationRequest),
	}
}

// Create registers a pending request for the instance's current step.
func (s *ElicitationService) Create(inst *workflow.Instance, elic *generation.Elicitation) *ElicitationRequest {
	req := &ElicitationRequest{
		WorkflowID: inst.ID,
		MessageID:  "msg_" + uuid.NewString(),
		StepIndex:  inst.CurrentStep,
		Prompt:     elic.Prompt,
		Kind:       elic.Kind,
		Options:    elic.Options,
		Decision:   elic.Decision,
		CreatedAt:  time.Now(),
	}

	s.mu.Lock()
	if s.pending[inst.ID] == nil {
		s.pending[inst.ID] = make(map[string]*ElicitationRequest)
	}
	s.pending[inst.ID][req.MessageID] = req
	s.mu.Unlock()

	s.logger.Info("elicitation requested",
		zap.String("workflow_id", inst.ID),
		zap.String("message_id", req.MessageID),
		zap.Int("step_index", req.StepIndex),
	)
	return req
}

// Pending returns the outstanding requests for a workflow.
func (s *ElicitationService) Pending(workflowID string) []*ElicitationRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ElicitationRequest
	for _, req := range s.pending[workflowID] {
		out = append(out, req)
	}
	return out
}

// Resolve removes and returns the pending request addressed by message id.
// A request is resolved exactly once; a second resolution fails.
func (s *ElicitationService) Resolve(workflowID, messageID string) (*ElicitationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reqs := s.pending[workflowID]
	req, ok := reqs[messageID]
	if !ok {
		return nil, fmt.Errorf("no pending elicitation %s for workflow %s", messageID, workflowID)
	}
	delete(reqs, messageID)
	if len(reqs) == 0 {
		delete(s.pending, workflowID)
	}
	return req, nil
}

// Apply merges a resolved response into the instance: the answer feeds the
// named routing decision when the request declared one, and is always
// appended to the elicitation history so the re-entered step sees it.
func (s *ElicitationService) Apply(_ context.Context, inst *workflow.Instance, req *ElicitationRequest, response string) {
	if req.Decision != "" {
		inst.Context.Decisions[req.Decision] = response
	}
	inst.Context.ElicitationLog = append(inst.Context.ElicitationLog, workflow.ElicitationRecord{
		MessageID:  req.MessageID,
		StepIndex:  req.StepIndex,
		Prompt:     req.Prompt,
		Response:   response,
		AnsweredAt: time.Now(),
	})
	inst.UpdatedAt = time.Now()

	s.logger.Info("elicitation resolved",
		zap.String("workflow_id", inst.ID),
		zap.String("message_id", req.MessageID),
		zap.Int("step_index", req.StepIndex),
	)
}

// Drop discards all pending requests for a workflow, used on cancel and
// rollback so stale prompts cannot be answered later.
func (s *ElicitationService) Drop(workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, workflowID)
}
