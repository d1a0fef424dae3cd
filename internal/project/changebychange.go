package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alan/recombine/cmd"
	"github.com/alan/recombine/internal/change"
	"github.com/alan/recombine/internal/gerrit"
	"github.com/alan/recombine/internal/git"
	"github.com/alan/recombine/internal/recombination"
)

// RecombBranch returns the review branch the recombination of revision onto target is
// uploaded to
func RecombBranch(project, target, revision string) string {
	if len(revision) > 12 {
		revision = revision[:12]
	}
	return recombBranchPrefix(project, target) + revision
}

func recombBranchPrefix(project, target string) string {
	return recombination.RecombBranchPrefix + project + "-" + strings.ReplaceAll(target, "/", "-") + "-"
}

// backports finds the current review item of every record: its recombination branch or its
// failed attempt
func (p *Project) backports(ctx context.Context, records []*recombination.Recombination, target string) (map[string]*change.Change, error) {
	prefix := recombBranchPrefix(p.Name, target)
	failed := recombination.FailedAttemptsBranch(target)
	search := gerrit.Search{Values: ids(records), IncludeMerged: true, IncludeAbandoned: true}
	return p.byTopic(ctx, search, func(branch string) bool {
		return strings.HasPrefix(branch, prefix) || branch == failed
	})
}

func (p *Project) pollChangeByChange(ctx context.Context, mapping cmd.BranchMapping) (*BranchReport, error) {
	records, patches, err := p.records(ctx, mapping)
	if err != nil {
		return nil, err
	}
	report := newReport(p, mapping, records)
	backports, err := p.backports(ctx, records, mapping.Target())
	if err != nil {
		return report, err
	}

	blocked := false
	for _, r := range records {
		suffix := ""
		if backport, ok := backports[r.ID]; ok {
			if err := r.Attach(backport); err != nil {
				report.fail(r, err)
				continue
			}
			outcome, err := r.Sync(ctx, p.reviewer)
			var canceled *recombination.CanceledError
			switch {
			case errors.As(err, &canceled):
				slog.Info("Recombination canceled, rebuilding", "project", p.Name, "branch", mapping.Name, "recombination", r.ID, "change", backport.Number)
				r.Reset()
				// The abandoned change keeps its branch
				suffix = fmt.Sprintf("-%d", backport.Number)
			case err != nil:
				report.fail(r, err)
				continue
			case outcome == recombination.Terminal:
				continue
			}
		} else {
			r.Refresh()
		}

		switch r.Status {
		case recombination.StatusMissing:
			if blocked {
				r.Status = recombination.StatusBlocked
				continue
			}
			err := p.attempt(ctx, mapping, r, patches, suffix)
			if r.Status == recombination.StatusFailed {
				report.Failed++
				blocked = true
			}
			if err != nil {
				report.fail(r, err)
				continue
			}
			if r.Status != recombination.StatusFailed {
				report.Uploaded++
			}
		case recombination.StatusFailed:
			blocked = true
		case recombination.StatusApproved:
			proposed := r.Metadata.BackportID != ""
			if err := p.propagator.Propose(ctx, r); err != nil {
				report.fail(r, err)
				continue
			}
			if !proposed {
				report.Proposed++
			}
			p.propagator.Follow(ctx, r)
		}
	}

	return report, p.advance(ctx, mapping, report)
}

// attempt cherry-picks r onto the patches branch and uploads it, or escalates the conflict
// as a failed attempt
func (p *Project) attempt(ctx context.Context, mapping cmd.BranchMapping, r *recombination.Recombination, patches *change.Change, suffix string) error {
	branch := RecombBranch(p.Name, r.Target, r.Main.Revision) + suffix
	searchRef := git.RemoteRef(git.ReplicaRemote, mapping.Patches())

	failure, err := p.executor.Attempt(ctx, r, branch, patches.Revision, searchRef)
	if err != nil {
		return err
	}
	if failure != nil {
		return p.executor.Escalate(ctx, p.reviewer, r, patches.Revision, failure)
	}

	uploaded, err := p.reviewer.Upload(ctx, gerrit.UploadRequest{
		LocalBranch:     branch,
		TargetBranch:    branch,
		Topic:           r.ID,
		RemoveOnFailure: true,
	})
	if err != nil {
		return &recombination.UploadError{Branch: branch, Topic: r.ID, Err: err}
	}
	r.Backport = uploaded
	r.Refresh()
	slog.Info("Recombination uploaded", "project", p.Name, "branch", mapping.Name, "recombination", r.ID, "change", uploaded.Number)

	if err := p.workspace.DeleteBranch(ctx, branch); err != nil {
		slog.Warn("Failed to delete local branch", "branch", branch, "error", err)
	}
	return nil
}

func (p *Project) inspectChangeByChange(ctx context.Context, mapping cmd.BranchMapping) (*BranchReport, error) {
	records, _, err := p.records(ctx, mapping)
	if err != nil {
		return nil, err
	}
	report := newReport(p, mapping, records)
	backports, err := p.backports(ctx, records, mapping.Target())
	if err != nil {
		return report, err
	}

	for _, r := range records {
		if backport, ok := backports[r.ID]; ok {
			if err := r.Attach(backport); err != nil {
				report.Errors[r.ID] = err
				continue
			}
		}
		r.Refresh()
	}
	recombination.BlockAfterFailure(records)
	return report, nil
}
