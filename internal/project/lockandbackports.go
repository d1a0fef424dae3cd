package project

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"

	"github.com/alan/recombine/cmd"
	"github.com/alan/recombine/internal/chain"
	"github.com/alan/recombine/internal/change"
	"github.com/alan/recombine/internal/gerrit"
	"github.com/alan/recombine/internal/git"
	"github.com/alan/recombine/internal/recombination"
)

// failedAttempts returns the failed attempt of every record that has one. With sync set the
// attempts serve their comment requests; otherwise they are only refreshed. Attempts abandoned
// while still FAILED are dropped so the record is picked again.
func (p *Project) failedAttempts(ctx context.Context, records []*recombination.Recombination, target string, sync bool) (map[string]*recombination.Recombination, error) {
	branch := recombination.FailedAttemptsBranch(target)
	found, err := p.byTopic(ctx, gerrit.Search{Values: ids(records), Branch: branch, IncludeAbandoned: true}, func(b string) bool {
		return b == branch
	})
	if err != nil {
		return nil, err
	}

	attempts := make(map[string]*recombination.Recombination, len(found))
	for _, r := range records {
		backport, ok := found[r.ID]
		if !ok {
			continue
		}
		attempt := recombination.New(r.Main, r.Patches, target)
		attempt.Mainline, attempt.Author, attempt.AuthorTime = r.Mainline, r.Author, r.AuthorTime
		if err := attempt.Attach(backport); err != nil {
			slog.Error("Failed attempt unreadable", "project", p.Name, "recombination", r.ID, "change", backport.Number, "error", err)
			continue
		}

		var syncErr error
		if sync {
			_, syncErr = attempt.Sync(ctx, p.reviewer)
		} else {
			attempt.Refresh()
		}
		var canceled *recombination.CanceledError
		switch {
		case errors.As(syncErr, &canceled), attempt.Status == recombination.StatusAbandoned:
			if !resolvedAttempt(attempt) {
				slog.Debug("Failed attempt abandoned, picking again", "project", p.Name, "recombination", r.ID)
				continue
			}
		case syncErr != nil:
			slog.Error("Failed attempt not synchronized", "project", p.Name, "recombination", r.ID, "error", syncErr)
		}
		attempts[r.ID] = attempt
	}
	return attempts, nil
}

// resolvedAttempt reports whether a human marked the failed attempt as resolved
func resolvedAttempt(attempt *recombination.Recombination) bool {
	return attempt.Metadata.Status == recombination.StatusSuccessful || attempt.Metadata.Status == recombination.StatusPresent
}

// candidates returns the records to plan in upstream order, applying failed attempt outcomes:
// discarded records are left out, resolved ones are picked from their resolution and an open
// failure ends the sequence. It also returns the open resolved attempts.
func candidates(records []*recombination.Recombination, attempts map[string]*recombination.Recombination) ([]*recombination.Recombination, []*recombination.Recombination) {
	var planned, resolved []*recombination.Recombination
	for _, r := range records {
		attempt, ok := attempts[r.ID]
		if !ok {
			planned = append(planned, r)
			continue
		}
		switch {
		case attempt.Status == recombination.StatusDiscarded:
			r.Status, r.Backport = recombination.StatusDiscarded, attempt.Backport
			continue
		case attempt.Status == recombination.StatusFailed:
			r.Status, r.Backport = recombination.StatusFailed, attempt.Backport
			return planned, resolved
		case resolvedAttempt(attempt):
			r.Resolution = attempt.Backport.Revision
			if attempt.Backport.RemoteStatus.IsOpen() {
				resolved = append(resolved, attempt)
			}
		}
		planned = append(planned, r)
	}
	return planned, resolved
}

// openChain returns the open chain changes on target, base-most first
func (p *Project) openChain(ctx context.Context, target string) ([]*change.Change, error) {
	changes, err := p.reviewer.GetChanges(ctx, gerrit.Search{Field: "status", Values: []string{"open"}, Branch: target})
	if err != nil {
		return nil, err
	}
	var open []*change.Change
	for _, ch := range changes {
		if strings.HasPrefix(ch.Topic, chain.TopicPrefix) {
			open = append(open, ch)
		}
	}
	return change.OrderChain(open)
}

// plan compares the planned records with the open chain on the branch target. It also
// returns the open chain changes.
func (p *Project) plan(ctx context.Context, mapping cmd.BranchMapping, planned []*recombination.Recombination) (*chain.Plan, []*change.Change, error) {
	open, err := p.openChain(ctx, mapping.Target())
	if err != nil {
		return nil, nil, err
	}
	var chainRef string
	if top := change.Top(open); top != nil {
		chainRef = ChangeRef(top)
	}
	baseRef := git.RemoteRef(git.ReplicaRemote, mapping.Target())
	plan, err := chain.NewPlanner(p.workspace, mapping.WedgePorts).Plan(ctx, baseRef, chainRef, planned)
	if err != nil {
		return nil, nil, err
	}

	for _, r := range plan.Merged {
		r.Status = recombination.StatusMerged
	}
	for j, m := range plan.Matches {
		if plan.NeedsRewrite() && j >= plan.RewriteAt {
			m.Record.Status = recombination.StatusMissing
			continue
		}
		m.Record.Status = recombination.StatusPresent
	}
	return plan, open, nil
}

// dropped returns the open chain changes whose commit the rewrite left out of the new chain
func dropped(plan *chain.Plan, open []*change.Change) []*change.Change {
	byRevision := make(map[string]*change.Change, len(open))
	for _, ch := range open {
		byRevision[ch.Revision] = ch
	}
	var out []*change.Change
	for _, c := range slices.Concat(plan.Stale, plan.Superseded) {
		if ch, ok := byRevision[c.Hash]; ok {
			out = append(out, ch)
		}
	}
	return out
}

// settle turns records never reached into MISSING and blocks those after a failure
func settle(records []*recombination.Recombination) {
	for _, r := range records {
		if r.Status == recombination.StatusUnattempted {
			r.Status = recombination.StatusMissing
		}
	}
	recombination.BlockAfterFailure(records)
}

func (p *Project) pollLockAndBackports(ctx context.Context, mapping cmd.BranchMapping) (*BranchReport, error) {
	records, _, err := p.records(ctx, mapping)
	if err != nil {
		return nil, err
	}
	report := newReport(p, mapping, records)
	target := mapping.Target()

	attempts, err := p.failedAttempts(ctx, records, target, true)
	if err != nil {
		return report, err
	}
	planned, resolved := candidates(records, attempts)
	plan, open, err := p.plan(ctx, mapping, planned)
	if err != nil {
		return report, err
	}

	result, err := p.applier.Apply(ctx, plan, target)
	if err != nil {
		return report, err
	}
	if result.Uploaded != nil {
		for _, r := range plan.Repick()[:result.Picked] {
			r.Status = recombination.StatusPresent
		}
		report.Uploaded = result.Picked
		for _, ch := range dropped(plan, open) {
			slog.Info("Dropped from the rewritten chain, abandoning", "project", p.Name, "change", ch.Number, "revision", ch.Revision)
			if err := recombination.AbandonChange(ctx, p.reviewer, ch); err != nil {
				slog.Warn("Failed to abandon dropped chain change", "change", ch.Number, "error", err)
			}
		}
	}
	if result.Failed != nil {
		report.Failed++
	}

	for _, attempt := range resolved {
		if r, ok := findRecord(records, attempt.ID); !ok || r.Status != recombination.StatusPresent {
			continue
		}
		slog.Info("Resolution carried by the chain, abandoning failed attempt", "project", p.Name, "recombination", attempt.ID, "change", attempt.Backport.Number)
		if err := attempt.Abandon(ctx, p.reviewer); err != nil {
			slog.Warn("Failed to abandon resolved attempt", "recombination", attempt.ID, "error", err)
		}
	}

	settle(records)
	return report, p.advance(ctx, mapping, report)
}

func (p *Project) inspectLockAndBackports(ctx context.Context, mapping cmd.BranchMapping) (*BranchReport, error) {
	records, _, err := p.records(ctx, mapping)
	if err != nil {
		return nil, err
	}
	report := newReport(p, mapping, records)

	attempts, err := p.failedAttempts(ctx, records, mapping.Target(), false)
	if err != nil {
		return report, err
	}
	planned, _ := candidates(records, attempts)
	if _, _, err := p.plan(ctx, mapping, planned); err != nil {
		return report, err
	}
	settle(records)
	return report, nil
}

func findRecord(records []*recombination.Recombination, id string) (*recombination.Recombination, bool) {
	for _, r := range records {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}
