package recombination

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/alan/recombine/internal/change"
	"github.com/alan/recombine/internal/gerrit"
	"github.com/alan/recombine/internal/git"
)

// Patcher is the part of the workspace approval propagation drives
type Patcher interface {
	CreateBranch(ctx context.Context, name, base string) error
	FormatPatch(ctx context.Context, revision string) (string, error)
	ApplyPatch(ctx context.Context, branch, patch, message string) error
}

var upstreamChangeID = regexp.MustCompile(`(?m)^Change-Id: I[0-9a-f]+\s*$`)

// ProposalMessage returns the upstream message with an Upstream-<suffix> trailer inserted
// before its Change-Id and a cherry-pick note appended.
func ProposalMessage(r *Recombination) string {
	message := strings.TrimRight(r.Main.CommitMessage, "\n")
	branch := r.Main.Branch
	if i := strings.LastIndex(branch, "/"); i >= 0 {
		branch = branch[i+1:]
	}
	url := r.Main.URL
	if url == "" {
		url = r.Main.Revision
	}
	trailer := fmt.Sprintf("Upstream-%s: %s", branch, url)

	if loc := upstreamChangeID.FindAllStringIndex(message, -1); len(loc) > 0 {
		at := loc[len(loc)-1][0]
		message = message[:at] + trailer + "\n" + message[at:]
	} else {
		message += "\n\n" + trailer + "\nChange-Id: " + ChangeID(r.ID, r.Target)
	}
	return fmt.Sprintf("%s\n(cherry picked from commit %s)\n", message, r.Main.Revision)
}

// Propagator turns approved recombinations into proposals on their target branch and follows
// the proposals to completion.
type Propagator struct {
	patcher  Patcher
	reviewer Reviewer
}

// NewPropagator returns a propagator working through patcher and reviewer
func NewPropagator(patcher Patcher, reviewer Reviewer) *Propagator {
	return &Propagator{patcher: patcher, reviewer: reviewer}
}

// Propose formats the approved backport as a patch onto the target branch, uploads it as an
// automated proposal and links it back to the recombination.
func (p *Propagator) Propose(ctx context.Context, r *Recombination) error {
	if r.Status != StatusApproved {
		return fmt.Errorf("%s is not approved", r)
	}
	if r.Metadata.BackportID != "" {
		slog.Debug("Proposal already exists", "recombination", r.ID, "proposal", r.Metadata.BackportID)
		return nil
	}

	patch, err := p.patcher.FormatPatch(ctx, r.Backport.Revision)
	if err != nil {
		return err
	}
	branch := TargetBranchPrefix + r.Target
	if err := p.patcher.CreateBranch(ctx, branch, git.RemoteRef(git.ReplicaRemote, r.Target)); err != nil {
		return err
	}
	if err := p.patcher.ApplyPatch(ctx, branch, patch, ProposalMessage(r)); err != nil {
		return err
	}

	req := gerrit.UploadRequest{LocalBranch: branch, TargetBranch: r.Target, Topic: ProposalTopic}
	results := r.Metadata.BackportTestResults
	if results != nil {
		req.Reviewers = results.Reviewers
	}
	proposal, err := p.reviewer.Upload(ctx, req)
	if err != nil {
		return &UploadError{Branch: r.Target, Topic: ProposalTopic, Err: err}
	}
	r.Proposal = proposal
	slog.Info("Proposal uploaded", "recombination", r.ID, "proposal", proposal.Number, "branch", r.Target)

	if results != nil {
		scores := change.Scores{CodeReview: change.Score(results.CodeReview), Verified: change.Score(results.Verified)}
		if err := p.reviewer.Comment(ctx, proposal, results.Message, scores); err != nil {
			return err
		}
	}

	if err := p.reviewer.Comment(ctx, r.Backport, "backport-id: "+proposal.UUID, change.Scores{}); err != nil {
		return err
	}
	r.Metadata.BackportID = proposal.UUID
	return nil
}

// Follow mirrors the proposal outcome onto the recombination: a merged proposal submits it, an
// abandoned one abandons it. Failures are logged.
func (p *Propagator) Follow(ctx context.Context, r *Recombination) {
	if r.Metadata.BackportID == "" || !r.Backport.Uploaded() || !r.Backport.RemoteStatus.IsOpen() {
		return
	}

	proposal := r.Proposal
	if proposal == nil || proposal.UUID != r.Metadata.BackportID {
		var err error
		proposal, err = p.reviewer.GetChange(ctx, gerrit.Search{
			Field:            "change",
			Values:           []string{r.Metadata.BackportID},
			IncludeMerged:    true,
			IncludeAbandoned: true,
		})
		if err != nil {
			slog.Warn("Failed to look up proposal", "recombination", r.ID, "proposal", r.Metadata.BackportID, "error", err)
			return
		}
		r.Proposal = proposal
	}

	switch proposal.RemoteStatus {
	case change.RemoteStatusMerged:
		slog.Info("Proposal merged, submitting recombination", "recombination", r.ID, "proposal", proposal.Number)
		if err := p.reviewer.Submit(ctx, r.Backport); err != nil {
			slog.Error("Failed to submit recombination", "recombination", r.ID, "error", err)
		}
	case change.RemoteStatusAbandoned:
		slog.Info("Proposal abandoned, abandoning recombination", "recombination", r.ID, "proposal", proposal.Number)
		if err := AbandonChange(ctx, p.reviewer, r.Backport); err != nil {
			slog.Error("Failed to abandon recombination", "recombination", r.ID, "error", err)
		}
	}
}
