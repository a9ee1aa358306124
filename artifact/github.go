package artifact

import (
	"context"
	"fmt"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// GitHubVCS commits artifact sets to a GitHub repository through the git
// data API: one blob per file, one tree, one commit, one ref update.
type GitHubVCS struct {
	client *github.Client
	logger *zap.Logger
}

// NewGitHubVCS creates an authenticated GitHub version-control collaborator.
func NewGitHubVCS(ctx context.Context, token string, logger *zap.Logger) (*GitHubVCS, error) {
	if token == "" {
		return nil, fmt.Errorf("github token not set")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)
	return &GitHubVCS{
		client: github.NewClient(tc),
		logger: logger.With(zap.String("component", "github_vcs")),
	}, nil
}

// NewGitHubVCSFromClient wraps an existing client; used by tests.
func NewGitHubVCSFromClient(client *github.Client, logger *zap.Logger) *GitHubVCS {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GitHubVCS{client: client, logger: logger}
}

// Commit writes all files as a single commit on the target branch and
// returns the new commit SHA.
func (g *GitHubVCS) Commit(ctx context.Context, req CommitRequest) (string, error) {
	branch := req.Branch
	if branch == "" {
		branch = "main"
	}
	refName := "refs/heads/" + branch

	ref, _, err := g.client.Git.GetRef(ctx, req.Owner, req.Repo, refName)
	if err != nil {
		return "", fmt.Errorf("get ref %s: %w", refName, err)
	}
	baseSHA := ref.GetObject().GetSHA()

	entries := make([]*github.TreeEntry, 0, len(req.Files))
	for _, f := range req.Files {
		entries = append(entries, &github.TreeEntry{
			Path:    github.String(f.Path),
			Mode:    github.String("100644"),
			Type:    github.String("blob"),
			Content: github.String(f.Content),
		})
	}

	tree, _, err := g.client.Git.CreateTree(ctx, req.Owner, req.Repo, baseSHA, entries)
	if err != nil {
		return "", fmt.Errorf("create tree: %w", err)
	}

	parent := &github.Commit{SHA: github.String(baseSHA)}
	commit := &github.Commit{
		Message: github.String(req.Message),
		Tree:    tree,
		Parents: []*github.Commit{parent},
	}
	created, _, err := g.client.Git.CreateCommit(ctx, req.Owner, req.Repo, commit, nil)
	if err != nil {
		return "", fmt.Errorf("create commit: %w", err)
	}

	ref.Object.SHA = created.SHA
	if _, _, err := g.client.Git.UpdateRef(ctx, req.Owner, req.Repo, ref, false); err != nil {
		return "", fmt.Errorf("update ref: %w", err)
	}

	g.logger.Info("commit created",
		zap.String("repo", req.Owner+"/"+req.Repo),
		zap.String("branch", branch),
		zap.String("sha", created.GetSHA()),
	)
	return created.GetSHA(), nil
}
