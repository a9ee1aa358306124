package workflow

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// templateDoc is the YAML schema for a workflow template.
type templateDoc struct {
	Name           string            `yaml:"name"`
	Description    string            `yaml:"description"`
	HandoffPrompts map[string]string `yaml:"handoff_prompts,omitempty"`
	Steps          []stepDoc         `yaml:"steps"`
}

// stepDoc is the YAML schema for a single step. Type "uses" inlines the
// steps of another registered template at parse time.
type stepDoc struct {
	Type        string            `yaml:"type"`
	Agent       string            `yaml:"agent,omitempty"`
	Action      string            `yaml:"action,omitempty"`
	Description string            `yaml:"description,omitempty"`
	Condition   string            `yaml:"condition,omitempty"`
	Requires    []string          `yaml:"requires,omitempty"`
	Decision    string            `yaml:"decision,omitempty"`
	Default     string            `yaml:"default,omitempty"`
	Routes      map[string]string `yaml:"routes,omitempty"`
	Terminal    []string          `yaml:"terminal,omitempty"`
	Label       string            `yaml:"label,omitempty"`
	MaxIter     int               `yaml:"max_iterations,omitempty"`
	Template    string            `yaml:"template,omitempty"`
}

// Registry holds raw workflow templates keyed by name.
type Registry struct {
	templates map[string]*templateDoc
	mu        sync.RWMutex
}

// NewRegistry creates a registry pre-populated with the built-in templates.
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[string]*templateDoc)}
	for name, raw := range builtinTemplates {
		// Built-ins are compiled in; a parse failure is a programming error.
		if err := r.Register(name, []byte(raw)); err != nil {
			panic(fmt.Sprintf("builtin template %q: %v", name, err))
		}
	}
	return r
}

// Register parses raw YAML and stores it under the document's name field,
// falling back to name when the document has none. Keying by the document
// name keeps later lookups by Instance.Template consistent: the instance
// records the parsed Definition's name, not the caller's key.
func (r *Registry) Register(name string, raw []byte) error {
	var doc templateDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("template %q: %w", name, err)
	}
	if doc.Name == "" {
		doc.Name = name
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[doc.Name] = &doc
	return nil
}

// LoadFile registers a template from a YAML file, keyed by its name field.
func (r *Registry) LoadFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read template file: %w", err)
	}
	var doc templateDoc
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("template file %s: %w", path, err)
	}
	if doc.Name == "" {
		return "", fmt.Errorf("template file %s: missing name", path)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[doc.Name] = &doc
	return doc.Name, nil
}

func (r *Registry) get(name string) (*templateDoc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.templates[name]
	return doc, ok
}

// Names returns the registered template names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	return names
}

// Parser turns template names into validated definitions. Parsed
// definitions are cached by name; Parse is idempotent.
type Parser struct {
	registry *Registry
	logger   *zap.Logger
	cache    map[string]*Definition
	mu       sync.RWMutex
}

// NewParser creates a parser over the given registry.
func NewParser(registry *Registry, logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{
		registry: registry,
		logger:   logger.With(zap.String("component", "definition_parser")),
		cache:    make(map[string]*Definition),
	}
}

// Parse resolves a template name into a Definition. Nested "uses"
// references are expanded before the definition is validated and cached.
func (p *Parser) Parse(name string) (*Definition, error) {
	p.mu.RLock()
	if def, ok := p.cache[name]; ok {
		p.mu.RUnlock()
		return def, nil
	}
	p.mu.RUnlock()

	def, err := p.resolve(name, map[string]bool{})
	if err != nil {
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[name] = def
	p.mu.Unlock()

	p.logger.Debug("parsed workflow template",
		zap.String("template", name),
		zap.Int("steps", len(def.Steps)),
	)
	return def, nil
}

func (p *Parser) resolve(name string, seen map[string]bool) (*Definition, error) {
	if seen[name] {
		return nil, &DefinitionError{Template: name, Reason: "circular template reference"}
	}
	seen[name] = true

	doc, ok := p.registry.get(name)
	if !ok {
		return nil, &DefinitionError{Template: name, Reason: "template not found"}
	}

	def := &Definition{
		Name:           doc.Name,
		Description:    doc.Description,
		HandoffPrompts: doc.HandoffPrompts,
	}

	for i, sd := range doc.Steps {
		switch sd.Type {
		case "uses":
			if sd.Template == "" {
				return nil, fmt.Errorf("template %q step %d: uses without template name", name, i)
			}
			sub, err := p.resolve(sd.Template, seen)
			if err != nil {
				return nil, err
			}
			def.Steps = append(def.Steps, sub.Steps...)
		default:
			step, err := parseStep(sd, i)
			if err != nil {
				return nil, fmt.Errorf("template %q: %w", name, err)
			}
			def.Steps = append(def.Steps, step)
		}
	}

	delete(seen, name)
	return def, nil
}

func parseStep(sd stepDoc, index int) (Step, error) {
	switch StepKind(sd.Type) {
	case StepKindAgent:
		cond, err := ParseCondition(sd.Condition)
		if err != nil {
			return Step{}, fmt.Errorf("step %d: %w", index, err)
		}
		return Step{
			Kind: StepKindAgent,
			Agent: &AgentStep{
				AgentID:     sd.Agent,
				Action:      sd.Action,
				Description: sd.Description,
				Condition:   cond,
				Requires:    sd.Requires,
			},
		}, nil
	case StepKindRouting:
		return Step{
			Kind: StepKindRouting,
			Routing: &RoutingStep{
				Decision: sd.Decision,
				Default:  sd.Default,
				Routes:   sd.Routes,
				Terminal: sd.Terminal,
			},
		}, nil
	case StepKindCycle:
		return Step{
			Kind: StepKindCycle,
			Cycle: &CycleStep{
				Label:         sd.Label,
				MaxIterations: sd.MaxIter,
			},
		}, nil
	default:
		return Step{}, fmt.Errorf("step %d: unknown step type %q", index, sd.Type)
	}
}
