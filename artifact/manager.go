// Package artifact maps workflow artifacts to canonical repository paths
// and externalizes them through a version-control collaborator.
package artifact

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pipeworks-ai/conductor/workflow"
)

// Artifact type names with dedicated path conventions.
const (
	TypeBrief        = "project-brief"
	TypeRequirements = "requirements"
	TypeArchitecture = "architecture"
	TypeStory        = "story"
	TypeCode         = "code"
)

// CommitFile is one file of a version-control commit.
type CommitFile struct {
	Path    string
	Content string
}

// CommitRequest externalizes a set of files as a single commit.
type CommitRequest struct {
	Owner   string
	Repo    string
	Branch  string
	Message string
	Files   []CommitFile
}

// VersionControl is the narrow interface to the version-control
// collaborator. Implementations return the created commit reference.
type VersionControl interface {
	Commit(ctx context.Context, req CommitRequest) (string, error)
}

// RepoRef identifies the target repository for externalization.
type RepoRef struct {
	Owner  string `yaml:"owner"`
	Repo   string `yaml:"repo"`
	Branch string `yaml:"branch"`
}

// Manager resolves artifact storage paths and commits accumulated
// artifacts through the version-control collaborator.
type Manager struct {
	vcs    VersionControl
	logger *zap.Logger
}

// NewManager creates an artifact manager. vcs may be nil when
// externalization is disabled; CommitAll then fails explicitly.
func NewManager(vcs VersionControl, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		vcs:    vcs,
		logger: logger.With(zap.String("component", "artifact_manager")),
	}
}

// PathFor maps an artifact's logical name and type onto the canonical
// repository path convention.
func (m *Manager) PathFor(a workflow.Artifact) string {
	switch a.Type {
	case TypeBrief:
		return "docs/brief.md"
	case TypeRequirements:
		return "docs/prd.md"
	case TypeArchitecture:
		return path.Join("docs/architecture", slugify(a.Name)+".md")
	case TypeStory:
		return path.Join("docs/stories", slugify(a.Name)+".md")
	case TypeCode:
		return path.Join("src", a.Name)
	default:
		return path.Join("docs", slugify(a.Name)+".md")
	}
}

// CommitAll externalizes every artifact of the instance as one commit with
// a generated message. It returns the commit reference and the number of
// files committed.
func (m *Manager) CommitAll(ctx context.Context, inst *workflow.Instance, ref RepoRef) (string, int, error) {
	if m.vcs == nil {
		return "", 0, fmt.Errorf("no version-control collaborator configured")
	}
	if len(inst.Context.Artifacts) == 0 {
		return "", 0, fmt.Errorf("workflow %s has no artifacts to commit", inst.ID)
	}

	names := make([]string, 0, len(inst.Context.Artifacts))
	for name := range inst.Context.Artifacts {
		names = append(names, name)
	}
	sort.Strings(names)

	files := make([]CommitFile, 0, len(names))
	for _, name := range names {
		a := inst.Context.Artifacts[name]
		files = append(files, CommitFile{Path: m.PathFor(a), Content: a.Content})
	}

	req := CommitRequest{
		Owner:   ref.Owner,
		Repo:    ref.Repo,
		Branch:  ref.Branch,
		Message: commitMessage(inst, len(files)),
		Files:   files,
	}

	commitRef, err := m.vcs.Commit(ctx, req)
	if err != nil {
		return "", 0, fmt.Errorf("commit artifacts: %w", err)
	}

	m.logger.Info("artifacts committed",
		zap.String("workflow_id", inst.ID),
		zap.String("commit", commitRef),
		zap.Int("files", len(files)),
	)
	return commitRef, len(files), nil
}

func commitMessage(inst *workflow.Instance, count int) string {
	goal := inst.Goal
	if runes := []rune(goal); len(runes) > 60 {
		goal = string(runes[:57]) + "..."
	}
	return fmt.Sprintf("Add %d workflow artifact(s) for %q (%s, %s)",
		count, goal, inst.Template, time.Now().Format("2006-01-02"))
}

func slugify(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	lastDash := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
