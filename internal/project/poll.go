package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/alan/recombine/cmd"
	"github.com/alan/recombine/internal/config"
	"github.com/alan/recombine/internal/recombination"
)

// PollOptions controls one poll cycle
type PollOptions struct {
	// Branch limits the cycle to one original branch
	Branch string
	// Fetch updates the remotes before the branches are polled
	Fetch bool
	// ReadOnly inspects the branches without changing anything
	ReadOnly bool
}

// Opener opens a configured project
type Opener func(ctx context.Context, name string, project cmd.Project) (*Project, error)

// BranchResult is the outcome of one branch. Branch is empty when the whole project failed.
type BranchResult struct {
	Project string
	Branch  string
	Report  *BranchReport
	Err     error
}

// Summary collects the results of a cycle
type Summary struct {
	Results []BranchResult
}

// Failures returns the results that ended with an error
func (s *Summary) Failures() []BranchResult {
	var failed []BranchResult
	for _, r := range s.Results {
		if r.Err != nil {
			failed = append(failed, r)
		}
	}
	return failed
}

// Cycle polls every configured project in name order. A failing project or branch is logged
// and recorded, and the cycle moves on.
func Cycle(ctx context.Context, cfg *cmd.Config, open Opener, opts PollOptions) *Summary {
	summary := &Summary{}
	for _, name := range config.ProjectNames(cfg) {
		summary.Results = append(summary.Results, cycleProject(ctx, name, cfg.Projects[name], open, opts)...)
	}
	return summary
}

// cycleProject polls one project. A panic is logged and reported as the project's result.
func cycleProject(ctx context.Context, name string, project cmd.Project, open Opener, opts PollOptions) (results []BranchResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Project poll panicked", "project", name, "panic", r, "stack", string(debug.Stack()))
			results = append(results, BranchResult{Project: name, Err: fmt.Errorf("project %s: panic: %v", name, r)})
		}
	}()

	p, err := open(ctx, name, project)
	if err != nil {
		slog.Error("Failed to open project", "project", name, "error", err)
		return []BranchResult{{Project: name, Err: err}}
	}
	defer func() {
		if err := p.Close(); err != nil {
			slog.Warn("Failed to close project", "project", name, "error", err)
		}
	}()
	return p.Poll(ctx, opts)
}

// Poll initializes the project and runs its strategy on every watched branch
func (p *Project) Poll(ctx context.Context, opts PollOptions) []BranchResult {
	if err := p.Init(ctx, opts.Fetch); err != nil {
		var fetchErr *recombination.RemoteFetchError
		if errors.As(err, &fetchErr) {
			slog.Error("Remote unavailable, project skipped this cycle", "project", p.Name, "remote", fetchErr.Remote, "error", err)
		} else {
			slog.Error("Failed to initialize project", "project", p.Name, "error", err)
		}
		return []BranchResult{{Project: p.Name, Err: err}}
	}

	run := p.PollBranch
	if opts.ReadOnly {
		run = p.InspectBranch
	}

	var results []BranchResult
	for _, mapping := range p.Config.Original.WatchBranches {
		if opts.Branch != "" && mapping.Name != opts.Branch {
			continue
		}
		slog.Info("Polling branch", "project", p.Name, "branch", mapping.Name, "method", p.method)
		report, err := run(ctx, mapping)
		if err != nil {
			slog.Error("Branch poll failed", "project", p.Name, "branch", mapping.Name, "error", err)
		} else if report != nil {
			slog.Info("Branch polled", "project", p.Name, "branch", mapping.Name,
				"records", len(report.Records), "uploaded", report.Uploaded, "failed", report.Failed, "proposed", report.Proposed)
		}
		results = append(results, BranchResult{Project: p.Name, Branch: mapping.Name, Report: report, Err: err})
	}
	return results
}
