package chain

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alan/recombine/internal/change"
	"github.com/alan/recombine/internal/gerrit"
	"github.com/alan/recombine/internal/git"
	"github.com/alan/recombine/internal/recombination"
)

// TopicPrefix starts the topic of every uploaded chain
const TopicPrefix = "chain-"

// Workspace is the part of the workspace a rewrite drives
type Workspace interface {
	recombination.Picker
	GetRevision(ctx context.Context, ref string) (string, error)
}

// Result describes an applied plan
type Result struct {
	// Picked counts the upstream records cherry-picked
	Picked int
	// Uploaded is the top change of the rewritten chain
	Uploaded *change.Change
	// Failed is the record whose cherry-pick conflicted, processing stopped there
	Failed  *recombination.Recombination
	Failure *recombination.Failure
}

// Applier executes chain plans
type Applier struct {
	workspace Workspace
	reviewer  recombination.Reviewer
	executor  *recombination.Executor
}

// NewApplier returns an applier working through workspace and reviewer
func NewApplier(workspace Workspace, reviewer recombination.Reviewer) *Applier {
	return &Applier{
		workspace: workspace,
		reviewer:  reviewer,
		executor:  recombination.NewExecutor(workspace),
	}
}

// BranchName returns the local branch chains for target are rebuilt on
func BranchName(target string) string {
	return recombination.RecombBranchPrefix + "chain-" + target
}

// Topic derives the review topic of a chain from its top revision
func Topic(revision string) string {
	if len(revision) > 12 {
		revision = revision[:12]
	}
	return TopicPrefix + revision
}

// Apply rebuilds the chain for target: upstream records from the rewrite point are picked onto
// the plan base, forward ports are re-appended and the result is uploaded as one review item.
// A conflict escalates the record as a failed attempt and stops the rewrite.
func (a *Applier) Apply(ctx context.Context, plan *Plan, target string) (*Result, error) {
	result := &Result{}
	if !plan.NeedsRewrite() {
		return result, nil
	}

	branch := BranchName(target)
	if err := a.workspace.CreateBranch(ctx, branch, plan.Base); err != nil {
		return nil, err
	}
	searchRef := git.RemoteRef(git.ReplicaRemote, target)

	for _, r := range plan.Repick() {
		failure, err := a.executor.Pick(ctx, r, branch, searchRef)
		if err != nil {
			return nil, err
		}
		if failure != nil {
			result.Failed, result.Failure = r, failure
			if err := a.executor.Escalate(ctx, a.reviewer, r, branch, failure); err != nil {
				return result, err
			}
			slog.Warn("Chain rewrite halted on conflict", "branch", target, "recombination", r.ID, "picked", result.Picked)
			return result, nil
		}
		result.Picked++
	}

	for _, port := range plan.ForwardPorts {
		pick, err := a.workspace.CherryPick(ctx, branch, port.Hash)
		if err != nil {
			return nil, err
		}
		if !pick.Clean {
			return nil, fmt.Errorf("forward port %s no longer applies on %s: %s", port.Hash, target, pick.ConflictSummary())
		}
	}

	tip, err := a.workspace.GetRevision(ctx, branch)
	if err != nil {
		return nil, err
	}
	topic := Topic(tip)
	uploaded, err := a.reviewer.Upload(ctx, gerrit.UploadRequest{LocalBranch: branch, TargetBranch: target, Topic: topic})
	if err != nil {
		return nil, &recombination.UploadError{Branch: target, Topic: topic, Err: err}
	}
	result.Uploaded = uploaded
	slog.Info("Chain uploaded", "branch", target, "topic", topic, "picked", result.Picked, "forward_ports", len(plan.ForwardPorts))
	return result, nil
}
