package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/pipeworks-ai/conductor/artifact"
	"github.com/pipeworks-ai/conductor/checkpoint"
	"github.com/pipeworks-ai/conductor/internal/metrics"
	"github.com/pipeworks-ai/conductor/notify"
	"github.com/pipeworks-ai/conductor/store"
	"github.com/pipeworks-ai/conductor/workflow"
)

// minGoalLength is the shortest accepted goal text.
const minGoalLength = 10

// Config tunes the orchestrator.
type Config struct {
	// MaxConcurrent bounds how many instance loops run at once.
	MaxConcurrent int64 `yaml:"max_concurrent"`
	// AutoCheckpoint takes an automatic checkpoint after every advanced
	// step when enabled.
	AutoCheckpoint bool `yaml:"auto_checkpoint"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{MaxConcurrent: 16, AutoCheckpoint: true}
}

// StartRequest asks the orchestrator to run a template against a goal.
type StartRequest struct {
	Goal     string
	Template string
	Metadata map[string]string
}

// StartResponse identifies the scheduled instance.
type StartResponse struct {
	WorkflowID string
	Status     workflow.Status
}

// Snapshot is the queryable status view of an instance.
type Snapshot struct {
	WorkflowID          string
	Template            string
	Status              workflow.Status
	CurrentStep         int
	TotalSteps          int
	ActiveAgent         string
	ArtifactNames       []string
	LastError           *workflow.ErrorRecord
	PendingElicitations []*ElicitationRequest
	UpdatedAt           time.Time
}

// handle is the in-process ownership record for one instance. All state
// mutation happens under its lock; control operations that arrive while a
// step is in flight block until the step resolves, which is what makes
// cancellation cooperative.
type handle struct {
	inst    *workflow.Instance
	looping bool
	mu      sync.Mutex
}

// Orchestrator wires the parser, executor, lifecycle, checkpoint,
// recovery, elicitation, and artifact components together and schedules
// the per-instance execution loops.
type Orchestrator struct {
	cfg          Config
	parser       *workflow.Parser
	executor     *Executor
	lifecycle    *LifecycleManager
	recovery     *RecoveryManager
	checkpoints  *checkpoint.Manager
	elicitations *ElicitationService
	artifacts    *artifact.Manager
	store        store.InstanceStore
	logger       *zap.Logger
	metrics      *metrics.Collector

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	// active holds handles for instances owned by this process, keyed by
	// workflow id. It is an id-indexed registry on the orchestrator, not
	// shared module state; the instance store remains the durable source.
	active map[string]*handle
	mu     sync.Mutex
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Parser       *workflow.Parser
	Executor     *Executor
	Lifecycle    *LifecycleManager
	Recovery     *RecoveryManager
	Checkpoints  *checkpoint.Manager
	Elicitations *ElicitationService
	Artifacts    *artifact.Manager
	Store        store.InstanceStore
	Logger       *zap.Logger
	Metrics      *metrics.Collector
}

// NewOrchestrator creates an orchestrator from its collaborators.
func NewOrchestrator(cfg Config, deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	return &Orchestrator{
		cfg:          cfg,
		parser:       deps.Parser,
		executor:     deps.Executor,
		lifecycle:    deps.Lifecycle,
		recovery:     deps.Recovery,
		checkpoints:  deps.Checkpoints,
		elicitations: deps.Elicitations,
		artifacts:    deps.Artifacts,
		store:        deps.Store,
		logger:       logger.With(zap.String("component", "orchestrator")),
		metrics:      deps.Metrics,
		sem:          semaphore.NewWeighted(cfg.MaxConcurrent),
		active:       make(map[string]*handle),
	}
}

// Start validates the request, creates a persisted instance, and schedules
// its execution loop. It returns as soon as the instance exists; step
// execution happens asynchronously.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*StartResponse, error) {
	goal := strings.TrimSpace(req.Goal)
	if len(goal) < minGoalLength {
		return nil, &ValidationError{
			Field:  "goal",
			Reason: fmt.Sprintf("must be at least %d characters", minGoalLength),
		}
	}
	if req.Template == "" {
		return nil, &ValidationError{Field: "template", Reason: "is required"}
	}

	def, err := o.parser.Parse(req.Template)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	inst := &workflow.Instance{
		ID:        "wf_" + uuid.NewString(),
		Template:  def.Name,
		Goal:      goal,
		Steps:     def.Steps,
		Status:    workflow.StatusInitializing,
		Context:   workflow.NewInstanceContext(),
		Metadata:  req.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := o.store.Save(ctx, inst); err != nil {
		return nil, &PersistenceError{WorkflowID: inst.ID, Op: "create", Cause: err}
	}

	if err := o.lifecycle.Transition(ctx, inst, workflow.StatusRunning); err != nil {
		return nil, err
	}
	o.metrics.WorkflowStarted()
	o.lifecycle.Announce(ctx, inst, notify.EventWorkflowStarted, map[string]any{
		"template": inst.Template,
	})

	h := &handle{inst: inst}
	o.mu.Lock()
	o.active[inst.ID] = h
	o.mu.Unlock()

	o.scheduleLoop(h)

	o.logger.Info("workflow started",
		zap.String("workflow_id", inst.ID),
		zap.String("template", inst.Template),
		zap.Int("steps", len(inst.Steps)),
	)
	return &StartResponse{WorkflowID: inst.ID, Status: inst.Status}, nil
}

// scheduleLoop starts the run loop for a handle unless one is already
// active. The loop runs detached from the caller's context: the caller of
// Start is not kept waiting on step execution.
func (o *Orchestrator) scheduleLoop(h *handle) {
	h.mu.Lock()
	if h.looping {
		h.mu.Unlock()
		return
	}
	h.looping = true
	h.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			h.mu.Lock()
			h.looping = false
			h.mu.Unlock()
		}()
		ctx := context.Background()
		if err := o.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer o.sem.Release(1)
		o.runLoop(ctx, h)
	}()
}

// runLoop drives one instance until it pauses, fails, or finishes. Exactly
// one step is in flight at a time; the next step is not dispatched until
// the previous one fully resolves.
func (o *Orchestrator) runLoop(ctx context.Context, h *handle) {
	for {
		h.mu.Lock()
		inst := h.inst

		if inst.Status != workflow.StatusRunning {
			h.mu.Unlock()
			return
		}

		if inst.CurrentStep >= len(inst.Steps) {
			o.complete(ctx, inst)
			h.mu.Unlock()
			return
		}

		stepIndex := inst.CurrentStep
		step, _ := inst.StepAt(stepIndex)
		started := time.Now()
		result, err := o.executor.Execute(ctx, inst)
		if err != nil {
			result, err = o.recovery.Recover(ctx, inst, err, func(ctx context.Context) (StepResult, error) {
				return o.executor.Execute(ctx, inst)
			})
		}
		o.metrics.StepExecuted(string(step.Kind), string(result.Outcome), time.Since(started))

		switch {
		case err != nil:
			inst.ActiveAgent = ""
			if terr := o.lifecycle.Transition(ctx, inst, workflow.StatusError); terr != nil {
				o.logger.Error("error transition failed", zap.Error(terr))
			}
			o.metrics.WorkflowFailed()
			o.lifecycle.Announce(ctx, inst, notify.EventWorkflowFailed, map[string]any{
				"step_index": stepIndex,
			})
			h.mu.Unlock()
			return

		case result.Outcome == OutcomePaused:
			if terr := o.lifecycle.Transition(ctx, inst, workflow.StatusPausedForElicitation); terr != nil {
				o.logger.Error("pause transition failed", zap.Error(terr))
			}
			o.metrics.ElicitationCreated()
			o.lifecycle.Announce(ctx, inst, notify.EventElicitation, map[string]any{
				"message_id": result.Request.MessageID,
				"prompt":     result.Request.Prompt,
				"kind":       result.Request.Kind,
			})
			h.mu.Unlock()
			return

		case result.Outcome == OutcomeTerminated:
			o.complete(ctx, inst)
			h.mu.Unlock()
			return

		default: // advanced
			o.lifecycle.Persist(ctx, inst)
			o.lifecycle.Announce(ctx, inst, notify.EventStepCompleted, map[string]any{
				"step_index": stepIndex,
			})
			if o.cfg.AutoCheckpoint {
				if _, cerr := o.checkpoints.Create(ctx, inst, checkpoint.TypeAutomatic, "post-step"); cerr != nil {
					o.logger.Warn("automatic checkpoint failed", zap.Error(cerr))
				} else {
					o.metrics.CheckpointCreated()
				}
			}
		}
		h.mu.Unlock()
	}
}

// complete is called with the handle lock held.
func (o *Orchestrator) complete(ctx context.Context, inst *workflow.Instance) {
	inst.ActiveAgent = ""
	if err := o.lifecycle.Transition(ctx, inst, workflow.StatusCompleted); err != nil {
		o.logger.Error("complete transition failed", zap.Error(err))
		return
	}
	o.metrics.WorkflowCompleted()
	o.lifecycle.Announce(ctx, inst, notify.EventWorkflowCompleted, map[string]any{
		"artifacts": len(inst.Context.Artifacts),
	})
}

// getHandle returns the in-process handle, loading the instance from the
// store when this process does not own it yet (e.g. after a restart).
func (o *Orchestrator) getHandle(ctx context.Context, workflowID string) (*handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if h, ok := o.active[workflowID]; ok {
		return h, nil
	}
	inst, err := o.store.Load(ctx, workflowID)
	if err == store.ErrNotFound {
		return nil, ErrWorkflowNotFound
	}
	if err != nil {
		return nil, &PersistenceError{WorkflowID: workflowID, Op: "load", Cause: err}
	}
	h := &handle{inst: inst}
	o.active[workflowID] = h
	return h, nil
}

// Status returns a point-in-time snapshot of the instance.
func (o *Orchestrator) Status(ctx context.Context, workflowID string) (*Snapshot, error) {
	h, err := o.getHandle(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	inst := h.inst
	snap := &Snapshot{
		WorkflowID:  inst.ID,
		Template:    inst.Template,
		Status:      inst.Status,
		CurrentStep: inst.CurrentStep,
		TotalSteps:  len(inst.Steps),
		ActiveAgent: inst.ActiveAgent,
		UpdatedAt:   inst.UpdatedAt,
	}
	for name := range inst.Context.Artifacts {
		snap.ArtifactNames = append(snap.ArtifactNames, name)
	}
	if len(inst.Errors) > 0 {
		last := inst.Errors[len(inst.Errors)-1]
		snap.LastError = &last
	}
	snap.PendingElicitations = o.elicitations.Pending(workflowID)
	return snap, nil
}

// Pause stops the loop before the next step. The step currently in flight
// resolves first.
func (o *Orchestrator) Pause(ctx context.Context, workflowID string) error {
	h, err := o.getHandle(ctx, workflowID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return o.lifecycle.Transition(ctx, h.inst, workflow.StatusPaused)
}

// Resume re-enters the execution loop at the recorded step index. Valid
// from paused, paused-for-elicitation, and rolled-back states.
func (o *Orchestrator) Resume(ctx context.Context, workflowID string) error {
	h, err := o.getHandle(ctx, workflowID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	if err := o.lifecycle.Transition(ctx, h.inst, workflow.StatusRunning); err != nil {
		h.mu.Unlock()
		return err
	}
	h.mu.Unlock()
	o.scheduleLoop(h)
	return nil
}

// Cancel marks the instance cancelled. Cooperative: an in-flight
// generation call is not aborted, the loop observes the status before
// dispatching the next step.
func (o *Orchestrator) Cancel(ctx context.Context, workflowID string) error {
	h, err := o.getHandle(ctx, workflowID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := o.lifecycle.Transition(ctx, h.inst, workflow.StatusCancelled); err != nil {
		return err
	}
	o.elicitations.Drop(workflowID)
	o.metrics.WorkflowCancelled()
	o.lifecycle.Announce(ctx, h.inst, notify.EventWorkflowCancelled, nil)
	return nil
}

// RespondToElicitation resolves a pending human-input request and resumes
// the loop at the owning step index. The step that requested input is
// re-entered with the response available, not re-run from scratch.
func (o *Orchestrator) RespondToElicitation(ctx context.Context, workflowID, messageID, response string) error {
	h, err := o.getHandle(ctx, workflowID)
	if err != nil {
		return err
	}

	req, err := o.elicitations.Resolve(workflowID, messageID)
	if err != nil {
		return err
	}

	h.mu.Lock()
	o.elicitations.Apply(ctx, h.inst, req, response)
	if err := o.lifecycle.Transition(ctx, h.inst, workflow.StatusRunning); err != nil {
		h.mu.Unlock()
		return err
	}
	h.mu.Unlock()

	o.scheduleLoop(h)
	return nil
}

// CreateCheckpoint takes an on-demand checkpoint of the instance.
func (o *Orchestrator) CreateCheckpoint(ctx context.Context, workflowID, description string) (*checkpoint.Checkpoint, error) {
	h, err := o.getHandle(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	cp, err := o.checkpoints.Create(ctx, h.inst, checkpoint.TypeManual, description)
	if err != nil {
		return nil, err
	}
	o.metrics.CheckpointCreated()
	return cp, nil
}

// ListCheckpoints returns recent checkpoint summaries for the workflow.
func (o *Orchestrator) ListCheckpoints(ctx context.Context, workflowID string) ([]checkpoint.Summary, error) {
	return o.checkpoints.List(ctx, workflowID)
}

// Rollback restores the instance from a checkpoint. The instance lands in
// StatusRolledBack; call Resume to continue execution from there.
func (o *Orchestrator) Rollback(ctx context.Context, workflowID, checkpointID string) error {
	h, err := o.getHandle(ctx, workflowID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := o.checkpoints.Rollback(ctx, h.inst, checkpointID); err != nil {
		return err
	}
	o.elicitations.Drop(workflowID)
	o.lifecycle.Persist(ctx, h.inst)
	o.metrics.RollbackPerformed()
	o.lifecycle.Announce(ctx, h.inst, notify.EventRolledBack, map[string]any{
		"checkpoint_id": checkpointID,
	})
	return nil
}

// CommitArtifacts externalizes the instance's artifacts through the
// version-control collaborator as a single commit.
func (o *Orchestrator) CommitArtifacts(ctx context.Context, workflowID string, ref artifact.RepoRef) (string, int, error) {
	h, err := o.getHandle(ctx, workflowID)
	if err != nil {
		return "", 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return o.artifacts.CommitAll(ctx, h.inst, ref)
}

// Wait blocks until all scheduled loops have stopped. Intended for tests
// and graceful shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
