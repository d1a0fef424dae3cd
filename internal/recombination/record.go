// Package recombination holds the reconciliation record of one upstream commit: its metadata
// wire format, status table, comment commands, cherry-pick executor and approval propagation.
package recombination

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/alan/recombine/internal/change"
	"github.com/alan/recombine/internal/gerrit"
)

// Topics and branch prefixes shared by every strategy
const (
	ProposalTopic        = "automated_proposal"
	RecombBranchPrefix   = "recomb-"
	TargetBranchPrefix   = "target-"
	FailedAttemptsPrefix = "failed_attempts/"
)

// FailedAttemptsBranch returns the review branch failed attempts for target are uploaded to
func FailedAttemptsBranch(target string) string {
	return FailedAttemptsPrefix + target
}

// Reviewer is the part of the review client a recombination drives
type Reviewer interface {
	GetChange(ctx context.Context, s gerrit.Search) (*change.Change, error)
	Upload(ctx context.Context, req gerrit.UploadRequest) (*change.Change, error)
	Comment(ctx context.Context, ch *change.Change, message string, scores change.Scores) error
	Publish(ctx context.Context, ch *change.Change) error
	Abandon(ctx context.Context, ch *change.Change) error
	Submit(ctx context.Context, ch *change.Change) error
}

// Recombination pairs one upstream commit with the downstream point it is ported onto
type Recombination struct {
	// ID is the upstream identity: the Change-Id, or the hash for plain upstreams
	ID     string
	Status Status
	// Target is the replica branch the port is proposed to
	Target string

	// Main is the upstream change, read only
	Main *change.Change
	// Mainline is the upstream first-parent revision, the merge for merged changes
	Mainline string
	// Author and AuthorTime identify the upstream commit across cherry-picks
	Author     string
	AuthorTime int64
	// Resolution is a human-resolved failed attempt picked in place of the upstream commit
	Resolution string
	// Patches is the downstream integration point at creation time
	Patches *change.Change
	// Backport is the owned review item carrying the cherry-pick
	Backport *change.Change
	// Proposal is the automated proposal created on approval
	Proposal *change.Change

	Requests map[string]*Request
	Metadata *Metadata
}

// New returns a record for an upstream change that has no backport yet
func New(main, patches *change.Change, target string) *Recombination {
	r := &Recombination{
		ID:       main.UUID,
		Target:   target,
		Main:     main,
		Patches:  patches,
		Mainline: main.Revision,
	}
	r.Reset()
	r.Status = StatusUnattempted
	r.Metadata.Status = StatusUnattempted
	return r
}

// Reset drops every downstream artifact of the record and leaves it MISSING
func (r *Recombination) Reset() {
	r.Status = StatusMissing
	r.Resolution = ""
	r.Backport = nil
	r.Proposal = nil
	r.Requests = make(map[string]*Request)
	r.Metadata = &Metadata{
		Sources: Sources{
			Main: Source{
				Name:     r.Main.Project,
				Branch:   r.Main.Branch,
				Revision: r.Main.Revision,
				ID:       r.Main.UUID,
				Body:     r.Main.CommitMessage,
			},
			Patches: Source{
				Name:          r.Patches.Project,
				Branch:        r.Patches.Branch,
				Revision:      r.Patches.Revision,
				ID:            r.Patches.UUID,
				CommitMessage: r.Patches.CommitMessage,
			},
		},
		Status: StatusMissing,
	}
}

// PickRevision returns the commit to cherry-pick
func (r *Recombination) PickRevision() string {
	if r.Resolution != "" {
		return r.Resolution
	}
	return r.Main.Revision
}

func (r *Recombination) String() string {
	return fmt.Sprintf("recombination %s (%s)", r.ID, r.Status)
}

// ChangeID returns the review identity of the backport
func (r *Recombination) ChangeID() string {
	if r.Backport.Uploaded() {
		return r.Backport.UUID
	}
	return ChangeID(r.ID, r.Target)
}

// CommitMessage renders the metadata message for the backport commit
func (r *Recombination) CommitMessage() (string, error) {
	r.Metadata.Status = r.Status
	return r.Metadata.Encode(r.ChangeID())
}

// Attach binds an uploaded backport to the record: its embedded metadata replaces the
// local one and its comments are analyzed.
func (r *Recombination) Attach(backport *change.Change) error {
	m, err := Decode(backport.CommitMessage)
	if err != nil {
		return fmt.Errorf("backport %s of %s: %w", backport, r.ID, err)
	}
	if r.Main != nil && m.Sources.Main.Body == "" {
		m.Sources.Main.Body = r.Main.CommitMessage
	}
	r.Backport = backport
	r.Metadata = m
	r.Requests = make(map[string]*Request)
	r.AnalyzeComments()
	return nil
}

// Discarded reports whether a DISCARD request has been completed
func (r *Recombination) Discarded() bool {
	for _, req := range r.Requests {
		if req.Type == RequestDiscard && req.Outcome == OutcomeCompleted {
			return true
		}
	}
	return false
}

// Refresh recomputes the status from stored metadata, requests and remote state
func (r *Recombination) Refresh() Outcome {
	in := Inputs{Discarded: r.Discarded()}
	if r.Backport.Uploaded() {
		in.Stored = r.Metadata.Status
		in.Remote = r.Backport.RemoteStatus
		in.Approved = r.Backport.IsApproved()
	}
	status, outcome := Resolve(in)
	if status != r.Status {
		slog.Debug("Recombination status changed", "recombination", r.ID, "from", r.Status, "to", status, "outcome", outcome)
	}
	r.Status = status
	return outcome
}

// Sync brings the record up to date: served requests, refreshed status and pending abandons.
// A canceled record is reported with CanceledError.
func (r *Recombination) Sync(ctx context.Context, reviewer Reviewer) (Outcome, error) {
	if err := r.ServeRequests(ctx, reviewer); err != nil {
		return Continue, err
	}
	outcome := r.Refresh()
	switch {
	case outcome == Canceled:
		return outcome, &CanceledError{ID: r.ID}
	case r.Status == StatusDiscarded && outcome == Continue:
		if err := AbandonChange(ctx, reviewer, r.Backport); err != nil {
			return outcome, err
		}
		outcome = r.Refresh()
	}
	return outcome, nil
}

// Abandon abandons the record's backport if it is still open
func (r *Recombination) Abandon(ctx context.Context, reviewer Reviewer) error {
	return AbandonChange(ctx, reviewer, r.Backport)
}

// AbandonChange publishes drafts first, then abandons an open change
func AbandonChange(ctx context.Context, reviewer Reviewer, ch *change.Change) error {
	if !ch.Uploaded() || !ch.RemoteStatus.IsOpen() {
		return nil
	}
	if ch.RemoteStatus == change.RemoteStatusDraft {
		if err := reviewer.Publish(ctx, ch); err != nil {
			return err
		}
	}
	if err := reviewer.Abandon(ctx, ch); err != nil {
		return err
	}
	ch.RemoteStatus = change.RemoteStatusAbandoned
	return nil
}

// sortedRequestIDs orders request ids numerically, oldest first
func sortedRequestIDs(requests map[string]*Request) []string {
	ids := make([]string, 0, len(requests))
	for id := range requests {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if len(ids[i]) != len(ids[j]) {
			return len(ids[i]) < len(ids[j])
		}
		return ids[i] < ids[j]
	})
	return ids
}
