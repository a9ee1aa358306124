package workflow

import "fmt"

// DefinitionError indicates a template that does not exist or parses to
// zero executable steps. It is surfaced synchronously to Start callers.
type DefinitionError struct {
	Template string
	Reason   string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("workflow definition %q: %s", e.Template, e.Reason)
}
