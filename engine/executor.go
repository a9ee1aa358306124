package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/pipeworks-ai/conductor/generation"
	"github.com/pipeworks-ai/conductor/workflow"
)

// Outcome is the executor's report for one step.
type Outcome string

const (
	// OutcomeAdvanced means the step finished (or was skipped) and the
	// index moved forward.
	OutcomeAdvanced Outcome = "advanced"
	// OutcomePaused means the step requested human input; the index did
	// not move.
	OutcomePaused Outcome = "paused_for_elicitation"
	// OutcomeTerminated means a routing step completed the workflow early.
	OutcomeTerminated Outcome = "terminated_early"
	// OutcomeFailed means the step errored; recovery decides what happens.
	OutcomeFailed Outcome = "failed"
)

// StepResult pairs an outcome with the elicitation request that caused a
// pause, when there is one.
type StepResult struct {
	Outcome Outcome
	Request *ElicitationRequest
}

// historyLimit bounds how many recent messages are handed to the provider.
const historyLimit = 20

// Executor runs exactly one step of an instance and reports the outcome.
// It mutates only the instance it is given; persistence belongs to the
// lifecycle manager.
type Executor struct {
	provider     generation.Provider
	personas     *generation.PersonaRegistry
	elicitations *ElicitationService
	parser       *workflow.Parser
	logger       *zap.Logger
	tracer       trace.Tracer
}

// NewExecutor creates a step executor.
func NewExecutor(provider generation.Provider, personas *generation.PersonaRegistry, elicitations *ElicitationService, parser *workflow.Parser, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		provider:     provider,
		personas:     personas,
		elicitations: elicitations,
		parser:       parser,
		logger:       logger.With(zap.String("component", "step_executor")),
		tracer:       otel.Tracer("conductor/engine"),
	}
}

// Execute runs the step at the instance's current index.
func (e *Executor) Execute(ctx context.Context, inst *workflow.Instance) (StepResult, error) {
	step, ok := inst.StepAt(inst.CurrentStep)
	if !ok {
		return StepResult{Outcome: OutcomeFailed},
			fmt.Errorf("workflow %s: no step at index %d", inst.ID, inst.CurrentStep)
	}

	ctx, span := e.tracer.Start(ctx, "workflow.step",
		trace.WithAttributes(
			attribute.String("workflow.id", inst.ID),
			attribute.String("step.kind", string(step.Kind)),
			attribute.String("step.name", step.Name()),
			attribute.Int("step.index", inst.CurrentStep),
		),
	)
	defer span.End()

	var result StepResult
	var err error
	switch step.Kind {
	case workflow.StepKindAgent:
		result, err = e.executeAgent(ctx, inst, step.Agent)
	case workflow.StepKindRouting:
		result, err = e.executeRouting(inst, step.Routing)
	case workflow.StepKindCycle:
		result, err = e.executeCycle(inst, step.Cycle)
	default:
		err = fmt.Errorf("workflow %s: unknown step kind %q", inst.ID, step.Kind)
		result = StepResult{Outcome: OutcomeFailed}
	}

	span.SetAttributes(attribute.String("step.outcome", string(result.Outcome)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (e *Executor) executeAgent(ctx context.Context, inst *workflow.Instance, step *workflow.AgentStep) (StepResult, error) {
	if !step.Condition.Evaluate(inst.Context.Decisions) {
		e.logger.Debug("condition not met, skipping step",
			zap.String("workflow_id", inst.ID),
			zap.Int("step_index", inst.CurrentStep),
			zap.String("agent", step.AgentID),
		)
		e.advance(inst)
		return StepResult{Outcome: OutcomeAdvanced}, nil
	}

	for _, required := range step.Requires {
		if !inst.HasArtifact(required) {
			err := &StepExecutionError{
				WorkflowID: inst.ID,
				StepIndex:  inst.CurrentStep,
				StepName:   "agent:" + step.AgentID,
				Cause:      fmt.Errorf("required artifact %q not present", required),
			}
			return StepResult{Outcome: OutcomeFailed}, err
		}
	}

	persona, err := e.personas.Get(step.AgentID)
	if err != nil {
		return StepResult{Outcome: OutcomeFailed}, &StepExecutionError{
			WorkflowID: inst.ID,
			StepIndex:  inst.CurrentStep,
			StepName:   "agent:" + step.AgentID,
			Cause:      err,
		}
	}

	inst.ActiveAgent = step.AgentID
	req := e.buildRequest(inst, step)

	result, err := e.provider.Generate(ctx, persona, req)
	if err != nil {
		return StepResult{Outcome: OutcomeFailed}, &StepExecutionError{
			WorkflowID: inst.ID,
			StepIndex:  inst.CurrentStep,
			StepName:   "agent:" + step.AgentID,
			Cause:      err,
		}
	}

	if result.ElicitationRequired {
		elic := result.Elicitation
		if elic == nil {
			elic = &generation.Elicitation{Prompt: result.Content, Kind: "text"}
		}
		pending := e.elicitations.Create(inst, elic)
		return StepResult{Outcome: OutcomePaused, Request: pending}, nil
	}

	now := time.Now()
	for _, ga := range result.Artifacts {
		inst.Context.Artifacts[ga.Name] = workflow.Artifact{
			Name:      ga.Name,
			Type:      ga.Type,
			Content:   ga.Content,
			CreatedBy: step.AgentID,
			CreatedAt: now,
		}
	}
	if result.Content != "" {
		inst.Messages = append(inst.Messages, workflow.Message{
			Agent:     step.AgentID,
			Content:   result.Content,
			Timestamp: now,
		})
	}

	inst.ActiveAgent = ""
	e.advance(inst)
	return StepResult{Outcome: OutcomeAdvanced}, nil
}

// executeRouting reads the named decision. A missing decision falls back
// to the step's default value rather than failing; a terminal decision
// value completes the workflow without running the remaining steps.
func (e *Executor) executeRouting(inst *workflow.Instance, step *workflow.RoutingStep) (StepResult, error) {
	value, ok := inst.Context.Decisions[step.Decision]
	if !ok {
		value = step.Default
		inst.Context.Decisions[step.Decision] = value
		e.logger.Info("routing decision defaulted",
			zap.String("workflow_id", inst.ID),
			zap.String("decision", step.Decision),
			zap.String("value", value),
		)
		e.advance(inst)
		return StepResult{Outcome: OutcomeAdvanced}, nil
	}

	if step.IsTerminal(value) {
		e.logger.Info("routing decision terminal, completing workflow",
			zap.String("workflow_id", inst.ID),
			zap.String("decision", step.Decision),
			zap.String("value", value),
		)
		return StepResult{Outcome: OutcomeTerminated}, nil
	}

	e.advance(inst)
	return StepResult{Outcome: OutcomeAdvanced}, nil
}

// executeCycle records the visit and advances linearly. Loop semantics
// (iteration bound, exit condition) are intentionally not implemented;
// the marker keeps cycle sections observable in instance metadata.
func (e *Executor) executeCycle(inst *workflow.Instance, step *workflow.CycleStep) (StepResult, error) {
	if inst.Metadata == nil {
		inst.Metadata = make(map[string]string)
	}
	key := "cycle." + step.Label
	count, _ := strconv.Atoi(inst.Metadata[key])
	inst.Metadata[key] = strconv.Itoa(count + 1)

	e.advance(inst)
	return StepResult{Outcome: OutcomeAdvanced}, nil
}

func (e *Executor) advance(inst *workflow.Instance) {
	inst.CurrentStep++
	inst.UpdatedAt = time.Now()
}

// buildRequest assembles the generation request from goal, step metadata,
// recent history, current artifacts, and the persona handoff prompt.
func (e *Executor) buildRequest(inst *workflow.Instance, step *workflow.AgentStep) *generation.Request {
	req := &generation.Request{
		WorkflowID:  inst.ID,
		Goal:        inst.Goal,
		Action:      step.Action,
		Description: step.Description,
		Artifacts:   make(map[string]string, len(inst.Context.Artifacts)),
		Decisions:   make(map[string]string, len(inst.Context.Decisions)),
	}
	for name, a := range inst.Context.Artifacts {
		req.Artifacts[name] = a.Content
	}
	for name, v := range inst.Context.Decisions {
		req.Decisions[name] = v
	}

	start := len(inst.Messages) - historyLimit
	if start < 0 {
		start = 0
	}
	for _, msg := range inst.Messages[start:] {
		req.History = append(req.History, msg.Agent+": "+msg.Content)
	}
	// Answered elicitations for this step are part of its visible history,
	// so a re-entered step sees the human input.
	for _, rec := range inst.Context.ElicitationLog {
		if rec.StepIndex == inst.CurrentStep {
			req.History = append(req.History, "user: "+rec.Response)
		}
	}

	if def, err := e.parser.Parse(inst.Template); err == nil {
		req.HandoffPrompt = def.HandoffPrompts[step.AgentID]
	}
	return req
}
