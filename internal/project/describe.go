package project

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alan/recombine/internal/change"
	"github.com/alan/recombine/internal/changeset"
	"github.com/alan/recombine/internal/gerrit"
	"github.com/alan/recombine/internal/github"
)

// Describer turns an upstream changeset entry into the main-source change of a record
type Describer interface {
	Describe(ctx context.Context, branch string, entry changeset.Entry) (*change.Change, error)
}

// LocalDescriber describes entries from the fetched history only
type LocalDescriber struct {
	project string
}

// NewLocalDescriber returns a describer for the upstream project name
func NewLocalDescriber(project string) *LocalDescriber {
	return &LocalDescriber{project: project}
}

// Describe builds the change from the carrier commit of the entry
func (d *LocalDescriber) Describe(_ context.Context, branch string, entry changeset.Entry) (*change.Change, error) {
	return &change.Change{
		UUID:          entry.ID,
		Revision:      entry.PickRevision(),
		Parents:       entry.Commit.Parents,
		Branch:        branch,
		Project:       d.project,
		RemoteStatus:  change.RemoteStatusMerged,
		CommitMessage: entry.Commit.Message,
	}, nil
}

// ChangeLookup finds a change on the upstream review system
type ChangeLookup interface {
	GetChange(ctx context.Context, s gerrit.Search) (*change.Change, error)
}

// GerritDescriber enriches entries with the upstream review system's change, falling back to
// the fetched history when the change cannot be found
type GerritDescriber struct {
	local  *LocalDescriber
	lookup ChangeLookup
}

// NewGerritDescriber returns a describer querying lookup
func NewGerritDescriber(project string, lookup ChangeLookup) *GerritDescriber {
	return &GerritDescriber{local: NewLocalDescriber(project), lookup: lookup}
}

// Describe looks the entry up by Change-Id on branch
func (d *GerritDescriber) Describe(ctx context.Context, branch string, entry changeset.Entry) (*change.Change, error) {
	main, err := d.local.Describe(ctx, branch, entry)
	if err != nil {
		return nil, err
	}

	upstream, err := d.lookup.GetChange(ctx, gerrit.Search{
		Field:         "change",
		Values:        []string{entry.ID},
		Branch:        branch,
		IncludeMerged: true,
	})
	switch {
	case errors.Is(err, gerrit.ErrNotFound):
		slog.Debug("Upstream change not found, using local history", "id", entry.ID, "branch", branch)
		return main, nil
	case err != nil:
		slog.Warn("Upstream change lookup failed, using local history", "id", entry.ID, "branch", branch, "error", err)
		return main, nil
	}

	main.Number = upstream.Number
	main.PatchsetNumber = upstream.PatchsetNumber
	main.URL = upstream.URL
	main.Topic = upstream.Topic
	return main, nil
}

// PRFinder finds the pull request that introduced a commit
type PRFinder interface {
	PullRequestForCommit(ctx context.Context, sha, branch string) (*github.PR, error)
}

// GitHubDescriber enriches entries with their merged pull request
type GitHubDescriber struct {
	local *LocalDescriber
	prs   PRFinder
}

// NewGitHubDescriber returns a describer asking prs for pull requests
func NewGitHubDescriber(project string, prs PRFinder) *GitHubDescriber {
	return &GitHubDescriber{local: NewLocalDescriber(project), prs: prs}
}

// Describe sets the URL and number of the pull request that merged the entry
func (d *GitHubDescriber) Describe(ctx context.Context, branch string, entry changeset.Entry) (*change.Change, error) {
	main, err := d.local.Describe(ctx, branch, entry)
	if err != nil {
		return nil, err
	}

	pr, err := d.prs.PullRequestForCommit(ctx, entry.Revision, branch)
	if err != nil {
		slog.Warn("Pull request lookup failed", "revision", entry.Revision, "branch", branch, "error", err)
		return main, nil
	}
	if pr == nil {
		return main, nil
	}
	main.Number = pr.Number
	main.URL = pr.URL
	return main, nil
}
