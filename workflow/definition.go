// Package workflow defines workflow templates and parses them into
// executable step sequences. A definition is immutable once parsed; the
// engine executes a private copy of its steps.
package workflow

import (
	"fmt"
	"strings"
)

// StepKind discriminates the step variants of a definition.
type StepKind string

const (
	// StepKindAgent runs a named agent persona through the generation provider.
	StepKindAgent StepKind = "agent"
	// StepKindRouting branches on a named routing decision.
	StepKindRouting StepKind = "routing"
	// StepKindCycle marks a repeatable section. The executor currently
	// advances through it linearly; see CycleStep.
	StepKindCycle StepKind = "cycle"
)

// Condition gates a step on a previously recorded routing decision.
// It holds iff decisions[Decision] == Equals, compared case-sensitively.
type Condition struct {
	Decision string
	Equals   string
}

// Evaluate reports whether the condition holds against the decision map.
func (c *Condition) Evaluate(decisions map[string]string) bool {
	if c == nil {
		return true
	}
	return decisions[c.Decision] == c.Equals
}

// ParseCondition parses a "decision == value" expression.
func ParseCondition(expr string) (*Condition, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	parts := strings.SplitN(expr, "==", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid condition %q: expected \"decision == value\"", expr)
	}
	decision := strings.TrimSpace(parts[0])
	value := strings.TrimSpace(parts[1])
	if decision == "" || value == "" {
		return nil, fmt.Errorf("invalid condition %q: empty decision or value", expr)
	}
	return &Condition{Decision: decision, Equals: value}, nil
}

// AgentStep describes a single agent execution.
type AgentStep struct {
	AgentID     string
	Action      string
	Description string
	Condition   *Condition
	// Requires lists artifact names that must exist before the step runs.
	Requires []string
}

// RoutingStep reads a named decision and branches on it.
type RoutingStep struct {
	Decision string
	// Default is assigned when no decision has been recorded yet.
	Default string
	// Routes maps decision values to route labels. Informational for
	// non-terminal values; values listed in Terminal end the workflow.
	Routes map[string]string
	// Terminal lists decision values that complete the workflow immediately.
	Terminal []string
}

// IsTerminal reports whether the decision value ends the workflow.
func (s *RoutingStep) IsTerminal(value string) bool {
	for _, t := range s.Terminal {
		if t == value {
			return true
		}
	}
	return false
}

// CycleStep marks the start of a repeatable section. True repeat/until
// semantics are not implemented; the executor records the visit and
// advances. MaxIterations is retained for template compatibility.
type CycleStep struct {
	Label         string
	MaxIterations int
}

// Step is a tagged variant: exactly one of Agent, Routing, or Cycle is
// non-nil, matching Kind. The parser validates the shape once; the
// executor never re-checks it.
type Step struct {
	Kind    StepKind
	Agent   *AgentStep
	Routing *RoutingStep
	Cycle   *CycleStep
}

// Name returns a short human-readable identifier for logs and errors.
func (s Step) Name() string {
	switch s.Kind {
	case StepKindAgent:
		return fmt.Sprintf("agent:%s", s.Agent.AgentID)
	case StepKindRouting:
		return fmt.Sprintf("routing:%s", s.Routing.Decision)
	case StepKindCycle:
		return fmt.Sprintf("cycle:%s", s.Cycle.Label)
	default:
		return string(s.Kind)
	}
}

func (s Step) validate(index int) error {
	switch s.Kind {
	case StepKindAgent:
		if s.Agent == nil || s.Routing != nil || s.Cycle != nil {
			return fmt.Errorf("step %d: malformed agent step", index)
		}
		if s.Agent.AgentID == "" {
			return fmt.Errorf("step %d: agent step missing agent id", index)
		}
	case StepKindRouting:
		if s.Routing == nil || s.Agent != nil || s.Cycle != nil {
			return fmt.Errorf("step %d: malformed routing step", index)
		}
		if s.Routing.Decision == "" {
			return fmt.Errorf("step %d: routing step missing decision name", index)
		}
	case StepKindCycle:
		if s.Cycle == nil || s.Agent != nil || s.Routing != nil {
			return fmt.Errorf("step %d: malformed cycle step", index)
		}
	default:
		return fmt.Errorf("step %d: unknown step kind %q", index, s.Kind)
	}
	return nil
}

// Definition is an immutable, parsed workflow template.
type Definition struct {
	Name           string
	Description    string
	Steps          []Step
	HandoffPrompts map[string]string
}

// Validate checks structural invariants of the parsed definition.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("definition missing name")
	}
	if len(d.Steps) == 0 {
		return &DefinitionError{Template: d.Name, Reason: "no executable steps"}
	}
	for i, step := range d.Steps {
		if err := step.validate(i); err != nil {
			return err
		}
	}
	return nil
}
