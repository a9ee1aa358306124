package generation

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// PersonaRegistry resolves agent ids to persona configurations.
type PersonaRegistry struct {
	personas map[string]*Persona
	mu       sync.RWMutex
}

// NewPersonaRegistry creates a registry with the built-in personas.
func NewPersonaRegistry() *PersonaRegistry {
	r := &PersonaRegistry{personas: make(map[string]*Persona)}
	for _, p := range builtinPersonas {
		r.personas[p.ID] = p
	}
	return r
}

// Register adds or replaces a persona.
func (r *PersonaRegistry) Register(p *Persona) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("persona missing id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.personas[p.ID] = p
	return nil
}

// LoadFile registers personas from a YAML file containing a persona list.
func (r *PersonaRegistry) LoadFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read personas file: %w", err)
	}
	var doc struct {
		Personas []*Persona `yaml:"personas"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return 0, fmt.Errorf("personas file %s: %w", path, err)
	}
	for _, p := range doc.Personas {
		if err := r.Register(p); err != nil {
			return 0, err
		}
	}
	return len(doc.Personas), nil
}

// Get resolves an agent id. The error is not retryable: an unknown persona
// is a definition problem, not a transient failure.
func (r *PersonaRegistry) Get(agentID string) (*Persona, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.personas[agentID]
	if !ok {
		return nil, &ProviderError{
			Code:    ErrCodeInvalidPersona,
			Message: fmt.Sprintf("unknown agent persona %q", agentID),
		}
	}
	return p, nil
}

var builtinPersonas = []*Persona{
	{ID: "analyst", Name: "Mary", Role: "Business Analyst",
		Prompt: "You research the problem space and produce concise project briefs."},
	{ID: "pm", Name: "John", Role: "Product Manager",
		Prompt: "You turn briefs into prioritized, testable requirements documents."},
	{ID: "architect", Name: "Winston", Role: "Software Architect",
		Prompt: "You design pragmatic architectures that match the stated requirements."},
	{ID: "sm", Name: "Bob", Role: "Scrum Master",
		Prompt: "You slice architecture and requirements into small implementable stories."},
	{ID: "dev", Name: "James", Role: "Developer",
		Prompt: "You implement exactly one story at a time and report what changed."},
	{ID: "qa", Name: "Quinn", Role: "QA Engineer",
		Prompt: "You review implementations against their stories and flag gaps."},
}
