package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pipeworks-ai/conductor/artifact"
	"github.com/pipeworks-ai/conductor/checkpoint"
	"github.com/pipeworks-ai/conductor/generation"
	"github.com/pipeworks-ai/conductor/notify"
	"github.com/pipeworks-ai/conductor/retry"
	"github.com/pipeworks-ai/conductor/store"
	"github.com/pipeworks-ai/conductor/workflow"
)

// providerFunc adapts a function to the generation.Provider interface.
type providerFunc func(ctx context.Context, persona *generation.Persona, req *generation.Request) (*generation.Result, error)

func (f providerFunc) Generate(ctx context.Context, persona *generation.Persona, req *generation.Request) (*generation.Result, error) {
	return f(ctx, persona, req)
}

type orchFixture struct {
	orch         *Orchestrator
	store        store.InstanceStore
	elicitations *ElicitationService
	checkpoints  *checkpoint.Manager
}

func newTestOrchestrator(t *testing.T, provider generation.Provider, cfg Config, templates map[string]string) *orchFixture {
	t.Helper()
	return newNotifyingOrchestrator(t, provider, cfg, templates, nil)
}

func newNotifyingOrchestrator(t *testing.T, provider generation.Provider, cfg Config, templates map[string]string, notifier notify.Notifier) *orchFixture {
	t.Helper()

	registry := workflow.NewRegistry()
	for name, raw := range templates {
		require.NoError(t, registry.Register(name, []byte(raw)))
	}

	logger := zap.NewNop()
	instances := store.NewMemoryInstanceStore()
	parser := workflow.NewParser(registry, logger)
	elicitations := NewElicitationService(logger)
	checkpoints := checkpoint.NewManager(checkpoint.NewMemoryStore(), logger)

	policy := &retry.Policy{
		MaxRetries:   1,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}

	orch := NewOrchestrator(cfg, Deps{
		Parser:       parser,
		Executor:     NewExecutor(provider, generation.NewPersonaRegistry(), elicitations, parser, logger),
		Lifecycle:    NewLifecycleManager(instances, notifier, logger, nil),
		Recovery:     NewRecoveryManager(policy, logger, nil),
		Checkpoints:  checkpoints,
		Elicitations: elicitations,
		Artifacts:    artifact.NewManager(nil, logger),
		Store:        instances,
		Logger:       logger,
	})
	return &orchFixture{
		orch:         orch,
		store:        instances,
		elicitations: elicitations,
		checkpoints:  checkpoints,
	}
}

const threeAgentTemplate = `
name: three-agents
steps:
  - type: agent
    agent: analyst
    action: create_project_brief
  - type: agent
    agent: pm
    action: create_requirements
    requires: [project-brief]
  - type: agent
    agent: architect
    action: create_architecture
    requires: [requirements]
`

// scriptedArtifacts returns a provider producing one named artifact per call.
func scriptedArtifacts(names ...string) *generation.Scripted {
	steps := make([]generation.ScriptedStep, len(names))
	for i, name := range names {
		steps[i] = generation.ScriptedStep{Result: &generation.Result{
			Content:   "produced " + name,
			Artifacts: []generation.GeneratedArtifact{{Name: name, Type: "document", Content: "content of " + name}},
		}}
	}
	return generation.NewScripted(steps...)
}

func TestOrchestrator_StartValidation(t *testing.T) {
	f := newTestOrchestrator(t, generation.NewScripted(), DefaultConfig(), nil)
	ctx := context.Background()

	var valErr *ValidationError

	_, err := f.orch.Start(ctx, StartRequest{Goal: "too short", Template: "quick-triage"})
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "goal", valErr.Field)

	_, err = f.orch.Start(ctx, StartRequest{Goal: "   padded but still short   ", Template: "quick-triage"})
	require.NoError(t, err, "whitespace is trimmed before the length check")

	_, err = f.orch.Start(ctx, StartRequest{Goal: "a perfectly valid goal"})
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "template", valErr.Field)

	_, err = f.orch.Start(ctx, StartRequest{Goal: "a perfectly valid goal", Template: "no-such-template"})
	var defErr *workflow.DefinitionError
	assert.ErrorAs(t, err, &defErr)
}

func TestOrchestrator_RunToCompletion(t *testing.T) {
	provider := scriptedArtifacts("project-brief", "requirements", "architecture")
	f := newTestOrchestrator(t, provider, Config{MaxConcurrent: 4}, map[string]string{"three-agents": threeAgentTemplate})
	ctx := context.Background()

	resp, err := f.orch.Start(ctx, StartRequest{Goal: "build a URL shortener", Template: "three-agents"})
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusRunning, resp.Status)

	f.orch.Wait()

	snap, err := f.orch.Status(ctx, resp.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, snap.Status)
	assert.Equal(t, 3, snap.CurrentStep)
	assert.ElementsMatch(t, []string{"project-brief", "requirements", "architecture"}, snap.ArtifactNames)
	assert.Equal(t, "", snap.ActiveAgent)
	assert.Equal(t, 3, provider.Calls())

	// The terminal instance is persisted and still queryable.
	persisted, err := f.store.Load(ctx, resp.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, persisted.Status)
	assert.Len(t, persisted.Context.Artifacts, 3)
}

func TestOrchestrator_RoutingDefaultContinues(t *testing.T) {
	provider := scriptedArtifacts("triage", "fix")
	f := newTestOrchestrator(t, provider, Config{MaxConcurrent: 4}, nil)
	ctx := context.Background()

	// quick-triage: analyst, routing (default quick-fix), dev. The default
	// is recorded and execution continues; only an explicit terminal
	// decision ends the workflow early.
	resp, err := f.orch.Start(ctx, StartRequest{Goal: "fix the login timeout", Template: "quick-triage"})
	require.NoError(t, err)
	f.orch.Wait()

	snap, err := f.orch.Status(ctx, resp.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, snap.Status)
	assert.Equal(t, 2, provider.Calls(), "both agent steps ran")

	persisted, err := f.store.Load(ctx, resp.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, "quick-fix", persisted.Context.Decisions["scope"])
}

const elicitingTemplate = `
name: eliciting
steps:
  - type: agent
    agent: analyst
    action: triage
  - type: routing
    decision: scope
    default: full
    terminal: [quick-fix]
  - type: agent
    agent: dev
    action: implement_fix
`

func TestOrchestrator_ElicitationPauseAndResume(t *testing.T) {
	provider := generation.NewScripted(
		generation.ScriptedStep{Result: &generation.Result{
			ElicitationRequired: true,
			Elicitation: &generation.Elicitation{
				Prompt:   "Full build or quick fix?",
				Kind:     "choice",
				Options:  []string{"full", "quick-fix"},
				Decision: "scope",
			},
		}},
		generation.ScriptedStep{Result: &generation.Result{
			Content:   "triage done",
			Artifacts: []generation.GeneratedArtifact{{Name: "triage", Type: "document", Content: "notes"}},
		}},
	)
	f := newTestOrchestrator(t, provider, Config{MaxConcurrent: 4}, map[string]string{"eliciting": elicitingTemplate})
	ctx := context.Background()

	resp, err := f.orch.Start(ctx, StartRequest{Goal: "fix the login timeout", Template: "eliciting"})
	require.NoError(t, err)
	f.orch.Wait()

	snap, err := f.orch.Status(ctx, resp.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPausedForElicitation, snap.Status)
	assert.Equal(t, 0, snap.CurrentStep, "the paused step keeps the index")
	require.Len(t, snap.PendingElicitations, 1)
	pending := snap.PendingElicitations[0]
	assert.Equal(t, 0, pending.StepIndex)

	// Answering resumes the owning step; the answer feeds the scope
	// decision, and the terminal routing value completes the run early.
	require.NoError(t, f.orch.RespondToElicitation(ctx, resp.WorkflowID, pending.MessageID, "quick-fix"))
	f.orch.Wait()

	snap, err = f.orch.Status(ctx, resp.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, snap.Status)
	assert.Empty(t, snap.PendingElicitations)
	assert.Equal(t, 2, provider.Calls(), "the dev step never ran")

	// The re-entered step saw the human answer in its history.
	require.Len(t, provider.Requests, 2)
	assert.Contains(t, provider.Requests[1].History, "user: quick-fix")

	persisted, err := f.store.Load(ctx, resp.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, "quick-fix", persisted.Context.Decisions["scope"])
	require.Len(t, persisted.Context.ElicitationLog, 1)
	assert.Equal(t, pending.MessageID, persisted.Context.ElicitationLog[0].MessageID)
}

func TestOrchestrator_RespondValidation(t *testing.T) {
	f := newTestOrchestrator(t, generation.NewScripted(), Config{MaxConcurrent: 4}, nil)
	ctx := context.Background()

	err := f.orch.RespondToElicitation(ctx, "wf_missing", "msg_1", "yes")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	resp, err := f.orch.Start(ctx, StartRequest{Goal: "fix the login timeout", Template: "quick-triage"})
	require.NoError(t, err)
	f.orch.Wait()

	err = f.orch.RespondToElicitation(ctx, resp.WorkflowID, "msg_unknown", "yes")
	assert.Error(t, err)
}

// gatedProvider blocks each call until released, so tests can interleave
// control operations with an in-flight step.
type gatedProvider struct {
	entered chan struct{}
	release chan struct{}
	result  *generation.Result
}

func newGatedProvider() *gatedProvider {
	return &gatedProvider{
		entered: make(chan struct{}, 16),
		release: make(chan struct{}),
		result:  &generation.Result{Content: "ok"},
	}
}

func (p *gatedProvider) Generate(ctx context.Context, _ *generation.Persona, _ *generation.Request) (*generation.Result, error) {
	p.entered <- struct{}{}
	select {
	case <-p.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return p.result, nil
}

func TestOrchestrator_PauseBlocksUntilStepResolves(t *testing.T) {
	provider := newGatedProvider()
	f := newTestOrchestrator(t, provider, Config{MaxConcurrent: 4}, nil)
	ctx := context.Background()

	resp, err := f.orch.Start(ctx, StartRequest{Goal: "fix the login timeout", Template: "quick-triage"})
	require.NoError(t, err)

	<-provider.entered // step 0 is in flight

	pauseDone := make(chan error, 1)
	go func() { pauseDone <- f.orch.Pause(ctx, resp.WorkflowID) }()

	select {
	case <-pauseDone:
		t.Fatal("pause must not complete while a step is in flight")
	case <-time.After(50 * time.Millisecond):
	}

	provider.release <- struct{}{} // let step 0 finish
	require.NoError(t, <-pauseDone)

	close(provider.release) // nothing should be blocked, but be safe
	f.orch.Wait()

	snap, err := f.orch.Status(ctx, resp.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusPaused, snap.Status)
	assert.GreaterOrEqual(t, snap.CurrentStep, 1)
	assert.Less(t, snap.CurrentStep, snap.TotalSteps)

	// Resume re-enters the loop at the recorded index and runs to the end.
	require.NoError(t, f.orch.Resume(ctx, resp.WorkflowID))
	f.orch.Wait()

	snap, err = f.orch.Status(ctx, resp.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, snap.Status)
}

func TestOrchestrator_CancelDropsElicitations(t *testing.T) {
	provider := generation.NewScripted(generation.ScriptedStep{Result: &generation.Result{
		ElicitationRequired: true,
		Elicitation:         &generation.Elicitation{Prompt: "Proceed?", Kind: "approval"},
	}})
	f := newTestOrchestrator(t, provider, Config{MaxConcurrent: 4}, map[string]string{"eliciting": elicitingTemplate})
	ctx := context.Background()

	resp, err := f.orch.Start(ctx, StartRequest{Goal: "fix the login timeout", Template: "eliciting"})
	require.NoError(t, err)
	f.orch.Wait()

	snap, err := f.orch.Status(ctx, resp.WorkflowID)
	require.NoError(t, err)
	require.Len(t, snap.PendingElicitations, 1)
	messageID := snap.PendingElicitations[0].MessageID

	require.NoError(t, f.orch.Cancel(ctx, resp.WorkflowID))

	snap, err = f.orch.Status(ctx, resp.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCancelled, snap.Status)
	assert.Empty(t, snap.PendingElicitations)

	// Stale prompts from before the cancel cannot be answered.
	assert.Error(t, f.orch.RespondToElicitation(ctx, resp.WorkflowID, messageID, "yes"))

	// Repeated cancels are no-ops; resuming a cancelled workflow is not.
	assert.NoError(t, f.orch.Cancel(ctx, resp.WorkflowID))
	assert.Error(t, f.orch.Resume(ctx, resp.WorkflowID))
}

const twoAgentTemplate = `
name: two-agents
steps:
  - type: agent
    agent: analyst
    action: create_project_brief
  - type: agent
    agent: pm
    action: create_requirements
`

// healingProvider fails the pm step until healed.
type healingProvider struct {
	healed bool
	mu     sync.Mutex
}

func (p *healingProvider) Generate(_ context.Context, persona *generation.Persona, req *generation.Request) (*generation.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if req.Action == "create_requirements" && !p.healed {
		return nil, &generation.ProviderError{Code: generation.ErrCodeUnavailable, Message: "upstream down", Retryable: true}
	}
	name := "project-brief"
	if req.Action == "create_requirements" {
		name = "requirements"
	}
	return &generation.Result{
		Content:   "done",
		Artifacts: []generation.GeneratedArtifact{{Name: name, Type: "document", Content: "content"}},
	}, nil
}

func (p *healingProvider) heal() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healed = true
}

func TestOrchestrator_FailureRollbackResume(t *testing.T) {
	provider := &healingProvider{}
	f := newTestOrchestrator(t, provider, Config{MaxConcurrent: 4, AutoCheckpoint: true}, map[string]string{"two-agents": twoAgentTemplate})
	ctx := context.Background()

	resp, err := f.orch.Start(ctx, StartRequest{Goal: "build a URL shortener", Template: "two-agents"})
	require.NoError(t, err)
	f.orch.Wait()

	// The pm step exhausted its retries and the workflow moved to error.
	snap, err := f.orch.Status(ctx, resp.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusError, snap.Status)
	assert.Equal(t, 1, snap.CurrentStep)
	require.NotNil(t, snap.LastError)
	assert.Equal(t, 1, snap.LastError.StepIndex)
	assert.True(t, snap.LastError.RecoveryAttempted)

	// An automatic checkpoint was taken after the successful first step.
	summaries, err := f.orch.ListCheckpoints(ctx, resp.WorkflowID)
	require.NoError(t, err)
	require.NotEmpty(t, summaries)
	assert.Equal(t, checkpoint.TypeAutomatic, summaries[0].Type)
	assert.Equal(t, 1, summaries[0].StepIndex)

	require.NoError(t, f.orch.Rollback(ctx, resp.WorkflowID, summaries[0].ID))

	snap, err = f.orch.Status(ctx, resp.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusRolledBack, snap.Status)
	assert.Equal(t, 1, snap.CurrentStep)
	assert.Nil(t, snap.LastError, "the error record is rolled back with the rest of the state")

	// After the upstream recovers, resume re-executes from the checkpoint.
	provider.heal()
	require.NoError(t, f.orch.Resume(ctx, resp.WorkflowID))
	f.orch.Wait()

	snap, err = f.orch.Status(ctx, resp.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, snap.Status)
	assert.ElementsMatch(t, []string{"project-brief", "requirements"}, snap.ArtifactNames)
}

func TestOrchestrator_RollbackUnknownCheckpoint(t *testing.T) {
	f := newTestOrchestrator(t, scriptedArtifacts("triage", "fix"), Config{MaxConcurrent: 4}, nil)
	ctx := context.Background()

	resp, err := f.orch.Start(ctx, StartRequest{Goal: "fix the login timeout", Template: "quick-triage"})
	require.NoError(t, err)
	f.orch.Wait()

	err = f.orch.Rollback(ctx, resp.WorkflowID, "ckpt_missing")
	var notFound *checkpoint.RollbackNotFoundError
	require.ErrorAs(t, err, &notFound)

	// The failed rollback left the instance untouched.
	snap, err := f.orch.Status(ctx, resp.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, snap.Status)
}

func TestOrchestrator_ConcurrentInstancesAreIsolated(t *testing.T) {
	provider := providerFunc(func(_ context.Context, _ *generation.Persona, req *generation.Request) (*generation.Result, error) {
		// Content derived from the workflow id proves per-instance state
		// never bleeds across instances.
		return &generation.Result{
			Content: "for " + req.WorkflowID,
			Artifacts: []generation.GeneratedArtifact{
				{Name: "triage", Type: "document", Content: req.Goal},
			},
		}, nil
	})
	f := newTestOrchestrator(t, provider, Config{MaxConcurrent: 8}, nil)
	ctx := context.Background()

	first, err := f.orch.Start(ctx, StartRequest{Goal: "goal number one here", Template: "quick-triage"})
	require.NoError(t, err)
	second, err := f.orch.Start(ctx, StartRequest{Goal: "goal number two here", Template: "quick-triage"})
	require.NoError(t, err)
	require.NotEqual(t, first.WorkflowID, second.WorkflowID)

	f.orch.Wait()

	a, err := f.store.Load(ctx, first.WorkflowID)
	require.NoError(t, err)
	b, err := f.store.Load(ctx, second.WorkflowID)
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusCompleted, a.Status)
	assert.Equal(t, workflow.StatusCompleted, b.Status)
	assert.Equal(t, "goal number one here", a.Context.Artifacts["triage"].Content)
	assert.Equal(t, "goal number two here", b.Context.Artifacts["triage"].Content)
}

func TestOrchestrator_StatusUnknownWorkflow(t *testing.T) {
	f := newTestOrchestrator(t, generation.NewScripted(), DefaultConfig(), nil)
	_, err := f.orch.Status(context.Background(), "wf_missing")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

// stepIndexRecorder captures the step_index of every step_completed event
// in publish order.
type stepIndexRecorder struct {
	indexes []int
	mu      sync.Mutex
}

func (r *stepIndexRecorder) Publish(_ context.Context, _ string, event string, payload any) error {
	if event != notify.EventStepCompleted {
		return nil
	}
	fields, ok := payload.(map[string]any)
	if !ok {
		return nil
	}
	idx, ok := fields["step_index"].(int)
	if !ok {
		return nil
	}
	r.mu.Lock()
	r.indexes = append(r.indexes, idx)
	r.mu.Unlock()
	return nil
}

func (r *stepIndexRecorder) Indexes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.indexes...)
}

func TestOrchestrator_StepCompletedCarriesExecutedIndex(t *testing.T) {
	recorder := &stepIndexRecorder{}
	provider := scriptedArtifacts("project-brief", "requirements", "architecture")
	f := newNotifyingOrchestrator(t, provider, Config{MaxConcurrent: 4}, map[string]string{"three-agents": threeAgentTemplate}, recorder)
	ctx := context.Background()

	resp, err := f.orch.Start(ctx, StartRequest{Goal: "build a URL shortener", Template: "three-agents"})
	require.NoError(t, err)
	f.orch.Wait()

	snap, err := f.orch.Status(ctx, resp.WorkflowID)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusCompleted, snap.Status)

	// Each event names the step that just ran, not the next one.
	assert.Equal(t, []int{0, 1, 2}, recorder.Indexes())
}

const stagedTemplate = `
name: staged
steps:
  - type: agent
    agent: analyst
    action: triage
  - type: agent
    agent: pm
    action: create_requirements
  - type: agent
    agent: dev
    action: implement_fix
`

// stagedProvider elicits once on triage, fails create_requirements once
// with a retryable error, and fails implement_fix until healed.
type stagedProvider struct {
	triageCalls int
	reqCalls    int
	healed      bool
	mu          sync.Mutex
}

func (p *stagedProvider) Generate(_ context.Context, _ *generation.Persona, req *generation.Request) (*generation.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	retryableErr := &generation.ProviderError{Code: generation.ErrCodeUnavailable, Message: "upstream down", Retryable: true}
	done := func(name string) (*generation.Result, error) {
		return &generation.Result{
			Content:   "done " + name,
			Artifacts: []generation.GeneratedArtifact{{Name: name, Type: "document", Content: "content"}},
		}, nil
	}

	switch req.Action {
	case "triage":
		p.triageCalls++
		if p.triageCalls == 1 {
			return &generation.Result{
				ElicitationRequired: true,
				Elicitation:         &generation.Elicitation{Prompt: "Scope?", Kind: "text", Decision: "scope"},
			}, nil
		}
		return done("triage")
	case "create_requirements":
		p.reqCalls++
		if p.reqCalls == 1 {
			return nil, retryableErr
		}
		return done("requirements")
	default:
		if !p.healed {
			return nil, retryableErr
		}
		return done("fix")
	}
}

func (p *stagedProvider) heal() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healed = true
}

func assertNonDecreasing(t *testing.T, indexes []int) {
	t.Helper()
	for i := 1; i < len(indexes); i++ {
		assert.GreaterOrEqual(t, indexes[i], indexes[i-1], "step indexes %v decreased at position %d", indexes, i)
	}
}

func TestOrchestrator_StepIndexNeverDecreasesExceptRollback(t *testing.T) {
	provider := &stagedProvider{}
	recorder := &stepIndexRecorder{}
	f := newNotifyingOrchestrator(t, provider, Config{MaxConcurrent: 4, AutoCheckpoint: true},
		map[string]string{"staged": stagedTemplate}, recorder)
	ctx := context.Background()

	resp, err := f.orch.Start(ctx, StartRequest{Goal: "build a URL shortener", Template: "staged"})
	require.NoError(t, err)
	f.orch.Wait()

	// The first step paused for input without advancing.
	snap, err := f.orch.Status(ctx, resp.WorkflowID)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusPausedForElicitation, snap.Status)
	assert.Equal(t, 0, snap.CurrentStep)
	require.Len(t, snap.PendingElicitations, 1)

	// After the answer: step 0 completes, step 1 is retried to success,
	// step 2 exhausts its retries and fails. The index holds at 2.
	require.NoError(t, f.orch.RespondToElicitation(ctx, resp.WorkflowID, snap.PendingElicitations[0].MessageID, "full"))
	f.orch.Wait()

	snap, err = f.orch.Status(ctx, resp.WorkflowID)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusError, snap.Status)
	assert.Equal(t, 2, snap.CurrentStep)
	assertNonDecreasing(t, recorder.Indexes())
	beforeRollback := len(recorder.Indexes())

	// Roll back to the checkpoint taken after the first step.
	summaries, err := f.orch.ListCheckpoints(ctx, resp.WorkflowID)
	require.NoError(t, err)
	var checkpointID string
	for _, s := range summaries {
		if s.StepIndex == 1 {
			checkpointID = s.ID
		}
	}
	require.NotEmpty(t, checkpointID)
	require.NoError(t, f.orch.Rollback(ctx, resp.WorkflowID, checkpointID))

	// Rollback is the one operation allowed to move the index backwards.
	snap, err = f.orch.Status(ctx, resp.WorkflowID)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusRolledBack, snap.Status)
	assert.Equal(t, 1, snap.CurrentStep)

	provider.heal()
	require.NoError(t, f.orch.Resume(ctx, resp.WorkflowID))
	f.orch.Wait()

	snap, err = f.orch.Status(ctx, resp.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, snap.Status)
	assert.Equal(t, 3, snap.CurrentStep)

	// Within each run segment the completed-step indexes only grow; the
	// resumed segment starts at the restored index.
	all := recorder.Indexes()
	assertNonDecreasing(t, all[:beforeRollback])
	assertNonDecreasing(t, all[beforeRollback:])
	assert.Equal(t, []int{1, 2}, all[beforeRollback:])
}

func TestOrchestrator_ManualCheckpoint(t *testing.T) {
	f := newTestOrchestrator(t, scriptedArtifacts("triage", "fix"), Config{MaxConcurrent: 4}, nil)
	ctx := context.Background()

	resp, err := f.orch.Start(ctx, StartRequest{Goal: "fix the login timeout", Template: "quick-triage"})
	require.NoError(t, err)
	f.orch.Wait()

	cp, err := f.orch.CreateCheckpoint(ctx, resp.WorkflowID, "after the run")
	require.NoError(t, err)
	assert.Equal(t, checkpoint.TypeManual, cp.Type)
	assert.Equal(t, "after the run", cp.Description)

	summaries, err := f.orch.ListCheckpoints(ctx, resp.WorkflowID)
	require.NoError(t, err)
	require.NotEmpty(t, summaries)
	assert.Equal(t, cp.ID, summaries[0].ID)
}
