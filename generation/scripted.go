package generation

import (
	"context"
	"sync"
)

// ScriptedStep is one pre-programmed response of a Scripted provider.
type ScriptedStep struct {
	Result *Result
	Err    error
}

// Scripted is a deterministic Provider for tests and dry runs. It returns
// its programmed steps in order; once exhausted it repeats the last one.
type Scripted struct {
	steps []ScriptedStep
	calls int
	// Requests records every request received, in order.
	Requests []*Request
	mu       sync.Mutex
}

// NewScripted creates a scripted provider from the given steps.
func NewScripted(steps ...ScriptedStep) *Scripted {
	return &Scripted{steps: steps}
}

// Generate returns the next programmed response.
func (p *Scripted) Generate(_ context.Context, _ *Persona, req *Request) (*Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Requests = append(p.Requests, req)

	if len(p.steps) == 0 {
		return &Result{Content: "ok"}, nil
	}

	idx := p.calls
	if idx >= len(p.steps) {
		idx = len(p.steps) - 1
	}
	p.calls++

	step := p.steps[idx]
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Result, nil
}

// Calls returns how many times Generate was invoked.
func (p *Scripted) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
