package checkpoint

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pipeworks-ai/conductor/workflow"
)

func checkpointInstance() *workflow.Instance {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &workflow.Instance{
		ID:       "wf_ckpt",
		Template: "quick-triage",
		Goal:     "fix the login timeout",
		Steps: []workflow.Step{
			{Kind: workflow.StepKindAgent, Agent: &workflow.AgentStep{AgentID: "analyst", Action: "triage"}},
			{Kind: workflow.StepKindAgent, Agent: &workflow.AgentStep{AgentID: "dev", Action: "implement_fix"}},
		},
		Status:      workflow.StatusRunning,
		CurrentStep: 1,
		Context: workflow.InstanceContext{
			Artifacts: map[string]workflow.Artifact{
				"triage": {Name: "triage", Type: "document", Content: "notes", CreatedBy: "analyst", CreatedAt: now},
			},
			Decisions: map[string]string{"scope": "quick-fix"},
		},
		Messages:  []workflow.Message{{Agent: "analyst", Content: "done", Timestamp: now}},
		Metadata:  map[string]string{"cycle.stories": "1"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestManager_CreateSnapshotIsIsolated(t *testing.T) {
	mgr := NewManager(NewMemoryStore(), zap.NewNop())
	inst := checkpointInstance()

	cp, err := mgr.Create(context.Background(), inst, TypeManual, "before surgery")
	require.NoError(t, err)
	assert.Equal(t, inst.ID, cp.WorkflowID)
	assert.Equal(t, 1, cp.StepIndex)

	// Mutations after the checkpoint must not leak into the snapshot.
	inst.CurrentStep = 2
	inst.Context.Decisions["scope"] = "full"
	inst.Context.Artifacts["extra"] = workflow.Artifact{Name: "extra"}
	inst.Messages = append(inst.Messages, workflow.Message{Agent: "dev", Content: "more"})

	assert.Equal(t, 1, cp.StepIndex)
	assert.Equal(t, "quick-fix", cp.Context.Decisions["scope"])
	assert.Len(t, cp.Context.Artifacts, 1)
	assert.Len(t, cp.Messages, 1)
}

func TestManager_RollbackRestoresState(t *testing.T) {
	mgr := NewManager(NewMemoryStore(), zap.NewNop())
	inst := checkpointInstance()

	cp, err := mgr.Create(context.Background(), inst, TypeManual, "")
	require.NoError(t, err)

	// Advance past the checkpoint and fail.
	inst.CurrentStep = 2
	inst.Status = workflow.StatusError
	inst.ActiveAgent = "dev"
	inst.Context.Decisions["scope"] = "full"
	inst.Context.Artifacts["requirements"] = workflow.Artifact{Name: "requirements"}
	inst.Messages = append(inst.Messages, workflow.Message{Agent: "dev", Content: "oops"})
	inst.Errors = append(inst.Errors, workflow.ErrorRecord{StepIndex: 2, Message: "boom"})
	inst.Metadata["cycle.stories"] = "5"

	require.NoError(t, mgr.Rollback(context.Background(), inst, cp.ID))

	assert.Equal(t, workflow.StatusRolledBack, inst.Status)
	assert.Equal(t, 1, inst.CurrentStep)
	assert.Equal(t, "", inst.ActiveAgent)
	assert.Equal(t, "quick-fix", inst.Context.Decisions["scope"])
	assert.Len(t, inst.Context.Artifacts, 1)
	assert.Len(t, inst.Messages, 1)
	assert.Empty(t, inst.Errors)
	assert.Equal(t, "1", inst.Metadata["cycle.stories"])
}

func TestManager_RollbackDoesNotAliasCheckpoint(t *testing.T) {
	store := NewMemoryStore()
	mgr := NewManager(store, zap.NewNop())
	inst := checkpointInstance()

	cp, err := mgr.Create(context.Background(), inst, TypeManual, "")
	require.NoError(t, err)

	require.NoError(t, mgr.Rollback(context.Background(), inst, cp.ID))
	inst.Context.Decisions["scope"] = "mutated"

	// A second rollback to the same checkpoint restores the original value.
	require.NoError(t, mgr.Rollback(context.Background(), inst, cp.ID))
	assert.Equal(t, "quick-fix", inst.Context.Decisions["scope"])
}

func TestManager_RollbackUnknownCheckpoint(t *testing.T) {
	mgr := NewManager(NewMemoryStore(), zap.NewNop())
	inst := checkpointInstance()

	err := mgr.Rollback(context.Background(), inst, "ckpt_missing")
	require.Error(t, err)

	var notFound *RollbackNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "ckpt_missing", notFound.CheckpointID)
	assert.ErrorIs(t, err, ErrNotFound)

	// A failed rollback leaves the instance untouched.
	assert.Equal(t, workflow.StatusRunning, inst.Status)
	assert.Equal(t, 1, inst.CurrentStep)
}

func TestManager_RollbackWrongWorkflow(t *testing.T) {
	mgr := NewManager(NewMemoryStore(), zap.NewNop())
	inst := checkpointInstance()

	cp, err := mgr.Create(context.Background(), inst, TypeManual, "")
	require.NoError(t, err)

	other := checkpointInstance()
	other.ID = "wf_other"
	err = mgr.Rollback(context.Background(), other, cp.ID)

	var notFound *RollbackNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "wf_other", notFound.WorkflowID)
}

func TestManager_ListNewestFirstAndBounded(t *testing.T) {
	mgr := NewManager(NewMemoryStore(), zap.NewNop(), WithSummaryLimit(3))
	inst := checkpointInstance()

	var ids []string
	for i := 0; i < 5; i++ {
		inst.CurrentStep = i
		cp, err := mgr.Create(context.Background(), inst, TypeAutomatic, fmt.Sprintf("step %d", i))
		require.NoError(t, err)
		ids = append(ids, cp.ID)
	}

	summaries, err := mgr.List(context.Background(), inst.ID)
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	assert.Equal(t, ids[4], summaries[0].ID)
	assert.Equal(t, ids[2], summaries[2].ID)
}

func TestManager_ListFallsBackToStore(t *testing.T) {
	store := NewMemoryStore()
	first := NewManager(store, zap.NewNop())
	inst := checkpointInstance()

	cp, err := first.Create(context.Background(), inst, TypeManual, "survives restart")
	require.NoError(t, err)

	// A fresh manager over the same store has an empty summary index.
	second := NewManager(store, zap.NewNop())
	summaries, err := second.List(context.Background(), inst.ID)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, cp.ID, summaries[0].ID)
	assert.Equal(t, "survives restart", summaries[0].Description)
}

func TestManager_TTLSetsExpiry(t *testing.T) {
	mgr := NewManager(NewMemoryStore(), zap.NewNop(), WithTTL(time.Hour))
	inst := checkpointInstance()

	cp, err := mgr.Create(context.Background(), inst, TypeManual, "")
	require.NoError(t, err)
	require.NotNil(t, cp.ExpiresAt)
	assert.WithinDuration(t, cp.CreatedAt.Add(time.Hour), *cp.ExpiresAt, time.Second)
}
