// Package project wires one configured project together: its workspace, review client and
// upstream description, the replication strategy selected for it and the poll cycle over all
// of its watched branches.
package project

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/alan/recombine/cmd"
	"github.com/alan/recombine/internal/chain"
	"github.com/alan/recombine/internal/change"
	"github.com/alan/recombine/internal/changeset"
	"github.com/alan/recombine/internal/gerrit"
	"github.com/alan/recombine/internal/git"
	"github.com/alan/recombine/internal/github"
	"github.com/alan/recombine/internal/recombination"
)

// Service branch patterns removed from the mirror remote at init
var mirrorServiceBranches = []string{"recomb-*", "recomb-*/**", "target-*", "target-*/**"}

// Workspace is everything a project drives in its working tree
type Workspace interface {
	chain.Workspace
	chain.History
	recombination.Patcher

	Init(ctx context.Context) error
	AddRemote(ctx context.Context, name, url string, withChanges bool) error
	GetCommit(ctx context.Context, rev string) (*git.Commit, error)
	DeleteBranch(ctx context.Context, name string) error
	ListRemoteBranches(ctx context.Context, remote string, patterns ...string) ([]string, error)
	DeleteRemoteBranch(ctx context.Context, remote, branch string) error
	IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error)
	TagAndPush(ctx context.Context, remote, tag, revision string) error
}

// Reviewer is the review client of the replica
type Reviewer interface {
	recombination.Reviewer
	GetChanges(ctx context.Context, s gerrit.Search) ([]*change.Change, error)
}

// Options configures how projects are opened
type Options struct {
	BaseDir     string
	SSHKey      string
	GitHubToken string
}

// Project is one configured project ready to be polled
type Project struct {
	Name   string
	Config cmd.Project

	repoType cmd.RepoType
	method   cmd.WatchMethod

	workspace  Workspace
	reviewer   Reviewer
	describer  Describer
	builder    *changeset.Builder
	executor   *recombination.Executor
	propagator *recombination.Propagator
	applier    *chain.Applier

	closers []io.Closer
}

// New assembles a project from its collaborators
func New(name string, config cmd.Project, workspace Workspace, reviewer Reviewer, describer Describer) *Project {
	repoType := cmd.ParseRepoType(config.Original.Type)
	return &Project{
		Name:       name,
		Config:     config,
		repoType:   repoType,
		method:     cmd.ParseWatchMethod(config.Original.WatchMethod),
		workspace:  workspace,
		reviewer:   reviewer,
		describer:  describer,
		builder:    changeset.NewBuilder(workspace, repoType),
		executor:   recombination.NewExecutor(workspace),
		propagator: recombination.NewPropagator(workspace, reviewer),
		applier:    chain.NewApplier(workspace, reviewer),
	}
}

// Open builds a project on a workspace under opts.BaseDir, talking to the replica review
// system over SSH and describing upstream commits according to the original's type.
func Open(ctx context.Context, name string, config cmd.Project, opts Options) (*Project, error) {
	workspace := git.NewWorkspace(filepath.Join(opts.BaseDir, name), git.WithBodyFilter(recombination.ContentBody))

	replicaRunner := gerrit.NewSSHRunner(config.Replica.Location, opts.SSHKey)
	reviewer := gerrit.NewClient(git.ReplicaRemote, config.Replica.Name, replicaRunner, workspace)
	closers := []io.Closer{replicaRunner}

	var describer Describer
	switch cmd.ParseRepoType(config.Original.Type) {
	case cmd.RepoTypeGerrit:
		originalRunner := gerrit.NewSSHRunner(config.Original.Location, opts.SSHKey)
		closers = append(closers, originalRunner)
		describer = NewGerritDescriber(config.Original.Name, gerrit.NewClient(git.OriginalRemote, config.Original.Name, originalRunner, workspace))
	case cmd.RepoTypeGitHub:
		org, repo, err := github.ParseRepository(config.Original.Location)
		if err != nil {
			return nil, err
		}
		describer = NewGitHubDescriber(config.Original.Name, github.NewClient(ctx, opts.GitHubToken).WithRepository(org, repo))
	case cmd.RepoTypeGit:
		describer = NewLocalDescriber(config.Original.Name)
	default:
		return nil, fmt.Errorf("project %s: unknown original type %q", name, config.Original.Type)
	}

	p := New(name, config, workspace, reviewer, describer)
	p.closers = closers
	return p, nil
}

// Close releases the project's connections
func (p *Project) Close() error {
	var errs []error
	for _, c := range p.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OriginalURL returns the git URL of the upstream repository
func OriginalURL(original cmd.Original) (string, error) {
	switch cmd.ParseRepoType(original.Type) {
	case cmd.RepoTypeGerrit:
		return gerrit.URL(original.Location, original.Name), nil
	case cmd.RepoTypeGitHub:
		return github.CloneURL(original.Location)
	case cmd.RepoTypeGit:
		return strings.TrimSuffix(original.Location, "/") + "/" + original.Name, nil
	default:
		return "", fmt.Errorf("unknown original type %q", original.Type)
	}
}

// Init prepares the workspace and, when fetch is set, registers and fetches the original,
// replica and mirror remotes. A remote that cannot be fetched fails with RemoteFetchError.
func (p *Project) Init(ctx context.Context, fetch bool) error {
	if err := p.workspace.Init(ctx); err != nil {
		return err
	}
	if !fetch {
		slog.Info("Skipping remote fetch", "project", p.Name)
		return nil
	}

	originalURL, err := OriginalURL(p.Config.Original)
	if err != nil {
		return err
	}
	if err := p.workspace.AddRemote(ctx, git.OriginalRemote, originalURL, false); err != nil {
		return &recombination.RemoteFetchError{Remote: git.OriginalRemote, Err: err}
	}

	replicaURL := gerrit.URL(p.Config.Replica.Location, p.Config.Replica.Name)
	if err := p.workspace.AddRemote(ctx, git.ReplicaRemote, replicaURL, true); err != nil {
		return &recombination.RemoteFetchError{Remote: git.ReplicaRemote, Err: err}
	}

	if p.Config.Replica.Mirror != "" {
		if err := p.workspace.AddRemote(ctx, git.MirrorRemote, p.Config.Replica.Mirror, false); err != nil {
			return &recombination.RemoteFetchError{Remote: git.MirrorRemote, Err: err}
		}
		p.cleanMirror(ctx)
	}
	return nil
}

// cleanMirror deletes leftover service branches from the mirror remote
func (p *Project) cleanMirror(ctx context.Context) {
	branches, err := p.workspace.ListRemoteBranches(ctx, git.MirrorRemote, mirrorServiceBranches...)
	if err != nil {
		slog.Warn("Failed to list mirror branches", "project", p.Name, "error", err)
		return
	}
	for _, branch := range branches {
		slog.Info("Deleting service branch from mirror", "project", p.Name, "branch", branch)
		if err := p.workspace.DeleteRemoteBranch(ctx, git.MirrorRemote, branch); err != nil {
			slog.Warn("Failed to delete mirror branch", "project", p.Name, "branch", branch, "error", err)
		}
	}
}
