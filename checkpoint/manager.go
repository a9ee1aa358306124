package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pipeworks-ai/conductor/workflow"
)

// DefaultSummaryLimit bounds the in-memory summary index per workflow.
const DefaultSummaryLimit = 10

// Manager creates and restores checkpoints.
type Manager struct {
	store        Store
	logger       *zap.Logger
	ttl          time.Duration
	summaryLimit int
	// summaries holds the most recent checkpoint summaries per workflow
	// for fast listing without hitting the durable store.
	summaries map[string][]Summary
	mu        sync.RWMutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL sets an expiry on created checkpoints.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithSummaryLimit overrides the per-workflow summary bound.
func WithSummaryLimit(limit int) Option {
	return func(m *Manager) {
		if limit > 0 {
			m.summaryLimit = limit
		}
	}
}

// NewManager creates a checkpoint manager over the given durable store.
func NewManager(store Store, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:        store,
		logger:       logger.With(zap.String("component", "checkpoint_manager")),
		summaryLimit: DefaultSummaryLimit,
		summaries:    make(map[string][]Summary),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create snapshots the instance and stores the checkpoint durably. The
// snapshot is a value copy: later mutations of the live instance do not
// leak into it.
func (m *Manager) Create(ctx context.Context, inst *workflow.Instance, cpType Type, description string) (*Checkpoint, error) {
	snapshot := inst.Clone()

	cp := &Checkpoint{
		ID:          newCheckpointID(),
		WorkflowID:  inst.ID,
		Type:        cpType,
		Description: description,
		StepIndex:   snapshot.CurrentStep,
		ActiveAgent: snapshot.ActiveAgent,
		Context:     snapshot.Context,
		Messages:    snapshot.Messages,
		Errors:      snapshot.Errors,
		Metadata:    snapshot.Metadata,
		CreatedAt:   time.Now(),
	}
	if m.ttl > 0 {
		expires := cp.CreatedAt.Add(m.ttl)
		cp.ExpiresAt = &expires
	}

	if err := m.store.Save(ctx, cp); err != nil {
		return nil, fmt.Errorf("save checkpoint: %w", err)
	}

	m.recordSummary(cp)

	m.logger.Info("checkpoint created",
		zap.String("checkpoint_id", cp.ID),
		zap.String("workflow_id", inst.ID),
		zap.String("type", string(cpType)),
		zap.Int("step_index", cp.StepIndex),
	)
	return cp, nil
}

// Rollback restores the instance from the named checkpoint. The instance
// passes through StatusRollingBack and lands in StatusRolledBack; resuming
// execution is a separate explicit action.
func (m *Manager) Rollback(ctx context.Context, inst *workflow.Instance, checkpointID string) error {
	cp, err := m.store.Load(ctx, checkpointID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &RollbackNotFoundError{WorkflowID: inst.ID, CheckpointID: checkpointID}
		}
		return fmt.Errorf("load checkpoint %s: %w", checkpointID, err)
	}
	if cp.WorkflowID != inst.ID {
		return &RollbackNotFoundError{WorkflowID: inst.ID, CheckpointID: checkpointID}
	}

	inst.Status = workflow.StatusRollingBack

	inst.CurrentStep = cp.StepIndex
	inst.Context = cp.Context.Clone()
	inst.Messages = append([]workflow.Message(nil), cp.Messages...)
	inst.Errors = append([]workflow.ErrorRecord(nil), cp.Errors...)
	if cp.Metadata != nil {
		inst.Metadata = make(map[string]string, len(cp.Metadata))
		for k, v := range cp.Metadata {
			inst.Metadata[k] = v
		}
	} else {
		inst.Metadata = nil
	}

	// The previously active agent is no longer mid-step after a restore.
	inst.ActiveAgent = ""
	inst.Status = workflow.StatusRolledBack
	inst.UpdatedAt = time.Now()

	m.logger.Info("rolled back to checkpoint",
		zap.String("checkpoint_id", checkpointID),
		zap.String("workflow_id", inst.ID),
		zap.Int("step_index", cp.StepIndex),
	)
	return nil
}

// List returns recent checkpoint summaries for a workflow, newest first.
// It serves from the in-memory index and falls back to the durable store
// after a restart.
func (m *Manager) List(ctx context.Context, workflowID string) ([]Summary, error) {
	m.mu.RLock()
	cached := m.summaries[workflowID]
	m.mu.RUnlock()
	if len(cached) > 0 {
		out := make([]Summary, len(cached))
		copy(out, cached)
		return out, nil
	}

	cps, err := m.store.List(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	summaries := make([]Summary, 0, len(cps))
	for _, cp := range cps {
		summaries = append(summaries, summaryOf(cp))
	}
	return summaries, nil
}

func (m *Manager) recordSummary(cp *Checkpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append([]Summary{summaryOf(cp)}, m.summaries[cp.WorkflowID]...)
	if len(list) > m.summaryLimit {
		list = list[:m.summaryLimit]
	}
	m.summaries[cp.WorkflowID] = list
}

func summaryOf(cp *Checkpoint) Summary {
	return Summary{
		ID:          cp.ID,
		Type:        cp.Type,
		Description: cp.Description,
		StepIndex:   cp.StepIndex,
		CreatedAt:   cp.CreatedAt,
	}
}
