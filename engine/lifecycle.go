package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pipeworks-ai/conductor/internal/metrics"
	"github.com/pipeworks-ai/conductor/notify"
	"github.com/pipeworks-ai/conductor/store"
	"github.com/pipeworks-ai/conductor/workflow"
)

// LifecycleManager owns the instance status state machine. Every accepted
// transition is persisted through the instance store and announced through
// the notifier; both are best-effort by design.
type LifecycleManager struct {
	store    store.InstanceStore
	notifier notify.Notifier
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// NewLifecycleManager creates a lifecycle manager.
func NewLifecycleManager(st store.InstanceStore, notifier notify.Notifier, logger *zap.Logger, collector *metrics.Collector) *LifecycleManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.NewNop()
	}
	return &LifecycleManager{
		store:    st,
		notifier: notifier,
		logger:   logger.With(zap.String("component", "lifecycle_manager")),
		metrics:  collector,
	}
}

// Transition moves the instance to the next status. Invalid transitions
// are rejected without mutating the instance.
func (m *LifecycleManager) Transition(ctx context.Context, inst *workflow.Instance, next workflow.Status) error {
	if inst.Status == next {
		return nil
	}
	if !inst.Status.CanTransitionTo(next) {
		return fmt.Errorf("workflow %s: invalid transition %s -> %s", inst.ID, inst.Status, next)
	}

	prev := inst.Status
	inst.Status = next
	inst.UpdatedAt = time.Now()

	m.logger.Info("status transition",
		zap.String("workflow_id", inst.ID),
		zap.String("from", string(prev)),
		zap.String("to", string(next)),
	)
	m.metrics.StatusTransition(string(next))

	m.Persist(ctx, inst)
	m.publish(ctx, inst, notify.EventStatusChanged, map[string]any{
		"from": string(prev),
		"to":   string(next),
	})
	return nil
}

// Persist writes the instance document. A failed save is logged and the
// in-memory mutation is kept; the next successful save is an idempotent
// whole-document write that repairs the store.
func (m *LifecycleManager) Persist(ctx context.Context, inst *workflow.Instance) {
	if err := m.store.Save(ctx, inst); err != nil {
		perr := &PersistenceError{WorkflowID: inst.ID, Op: "save", Cause: err}
		m.logger.Error("instance save failed", zap.Error(perr))
	}
}

// publish announces an event on the workflow's channel; failures are
// logged and never propagate to the caller.
func (m *LifecycleManager) publish(ctx context.Context, inst *workflow.Instance, event string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["workflow_id"] = inst.ID
	payload["status"] = string(inst.Status)
	if err := m.notifier.Publish(ctx, "workflows."+inst.ID, event, payload); err != nil {
		m.logger.Warn("event publish failed",
			zap.String("event", event),
			zap.Error(err),
		)
	}
}

// Announce exposes best-effort publishing to the orchestrator.
func (m *LifecycleManager) Announce(ctx context.Context, inst *workflow.Instance, event string, payload map[string]any) {
	m.publish(ctx, inst, event, payload)
}
