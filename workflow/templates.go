package workflow

// builtinTemplates are the workflow templates compiled into the binary.
// Additional templates can be registered at runtime via Registry.Register
// or Registry.LoadFile.
var builtinTemplates = map[string]string{
	"greenfield-product": greenfieldProductTemplate,
	"quick-triage":       quickTriageTemplate,
	"story-delivery":     storyDeliveryTemplate,
}

const greenfieldProductTemplate = `
name: greenfield-product
description: Full product build-out from a single goal, from brief to QA.
handoff_prompts:
  pm: "The project brief is complete. Draft the product requirements next."
  architect: "Requirements are approved. Produce the architecture document."
  dev: "Architecture is in place. Implement the next story."
steps:
  - type: agent
    agent: analyst
    action: create_project_brief
    description: Research the goal and produce a project brief.
  - type: agent
    agent: pm
    action: create_requirements
    description: Turn the project brief into a requirements document.
    requires: [project-brief]
  - type: routing
    decision: scope
    default: full
    routes:
      full: continue
      quick-fix: done
    terminal: [quick-fix]
  - type: agent
    agent: architect
    action: create_architecture
    description: Design the system architecture from the requirements.
    requires: [requirements]
  - type: uses
    template: story-delivery
`

const quickTriageTemplate = `
name: quick-triage
description: Minimal triage flow for small fixes.
steps:
  - type: agent
    agent: analyst
    action: triage
    description: Classify the request and record a scope decision.
  - type: routing
    decision: scope
    default: quick-fix
    routes:
      quick-fix: done
      full: continue
    terminal: [quick-fix]
  - type: agent
    agent: dev
    action: implement_fix
    description: Implement the requested change directly.
`

const storyDeliveryTemplate = `
name: story-delivery
description: Story-by-story implementation and review cycle.
steps:
  - type: cycle
    label: stories
    max_iterations: 1
  - type: agent
    agent: sm
    action: draft_story
    description: Draft the next user story from the architecture.
    requires: [architecture]
  - type: agent
    agent: dev
    action: implement_story
    description: Implement the drafted story.
  - type: agent
    agent: qa
    action: review_story
    description: Review the implementation against the story.
`
