package recombination

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alan/recombine/internal/change"
	"github.com/alan/recombine/internal/gerrit"
	"github.com/alan/recombine/internal/git"
)

// Picker is the part of the workspace the executor drives
type Picker interface {
	CreateBranch(ctx context.Context, name, base string) error
	PushBranch(ctx context.Context, remote, ref, branch string) error
	CherryPick(ctx context.Context, branch, revision string) (*git.PickResult, error)
	AmendMessage(ctx context.Context, branch, message string) error
	CommitEmpty(ctx context.Context, branch, message, author string, authorTime int64) error
	FindEquivalentCommit(ctx context.Context, revision, searchRef string) (string, error)
}

// Failure is the structured report of a conflicted cherry-pick
type Failure struct {
	Revision string
	// Status lists the unmerged paths in porcelain form
	Status []git.StatusEntry
	// Blocks maps each conflicted path to its first conflict region
	Blocks map[string]string
	// Suggestion names a commit that already carries the same change, if any
	Suggestion string
}

// StatusText renders the unmerged paths one per line
func (f *Failure) StatusText() string {
	lines := make([]string, 0, len(f.Status))
	for _, e := range f.Status {
		lines = append(lines, e.String())
	}
	return strings.Join(lines, "\n")
}

func indent(text, prefix string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

// Report renders the review comment posted on a failed attempt
func (f *Failure) Report(number int, target string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cherry pick of %s failed with status:\n\n%s\n", f.Revision, indent(f.StatusText(), "    "))

	paths := make([]string, 0, len(f.Blocks))
	for p := range f.Blocks {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if f.Blocks[p] == "" {
			continue
		}
		fmt.Fprintf(&b, "\nConflict in %s:\n\n%s\n", p, indent(f.Blocks[p], "    "))
	}

	if f.Suggestion != "" {
		fmt.Fprintf(&b, "\nSuggested solution: %s\n", f.Suggestion)
	}

	fmt.Fprintf(&b, `
To resolve this attempt manually:

    git review -d %d
    git cherry-pick -n %s
    (resolve the conflicts and git add the files)
    git commit -a --amend

  In the commit message change recombine-status to SUCCESSFUL and, if needed,
  modify only sources.main.body. Then upload the new patch set with

    git review %s

To drop this change instead, reply with a comment whose only line is the word DISCARD.
`, number, f.Revision, FailedAttemptsBranch(target))
	return b.String()
}

// Executor applies recombinations in a workspace
type Executor struct {
	picker Picker
}

// NewExecutor returns an executor working through picker
func NewExecutor(picker Picker) *Executor {
	return &Executor{picker: picker}
}

// suggest looks for a commit on searchRef that already carries revision
func (e *Executor) suggest(ctx context.Context, revision, searchRef string) string {
	equivalent, err := e.picker.FindEquivalentCommit(ctx, revision, searchRef)
	if err != nil {
		slog.Debug("Equivalent commit search failed", "revision", revision, "ref", searchRef, "error", err)
		return ""
	}
	if equivalent == "" {
		return ""
	}
	return fmt.Sprintf("Commit %s from upstream was already cherry-picked as %s in %s patches branch", revision, equivalent, searchRef)
}

// Pick cherry-picks the record's upstream commit on top of branch. On success the new head
// carries the metadata message and the record is SUCCESSFUL. On conflict the branch is left
// untouched, the record is FAILED and the conflict report is returned.
func (e *Executor) Pick(ctx context.Context, r *Recombination, branch, searchRef string) (*Failure, error) {
	revision := r.Main.Revision
	result, err := e.picker.CherryPick(ctx, branch, r.PickRevision())
	if err != nil {
		return nil, fmt.Errorf("failed to cherry-pick %s for %s: %w", r.PickRevision(), r.ID, err)
	}

	if !result.Clean {
		r.Status = StatusFailed
		failure := &Failure{
			Revision:   revision,
			Status:     result.Status,
			Blocks:     result.Blocks,
			Suggestion: e.suggest(ctx, revision, searchRef),
		}
		r.Metadata.Conflicts = strings.Split(failure.StatusText(), "\n")
		slog.Warn("Cherry-pick conflicted", "recombination", r.ID, "revision", revision, "branch", branch, "conflicts", len(result.Status))
		return failure, nil
	}

	r.Status = StatusSuccessful
	r.Metadata.Conflicts = nil
	message, err := r.CommitMessage()
	if err != nil {
		return nil, err
	}
	if err := e.picker.AmendMessage(ctx, branch, message); err != nil {
		return nil, err
	}
	slog.Info("Cherry-pick succeeded", "recombination", r.ID, "revision", revision, "branch", branch)
	return nil, nil
}

// Attempt creates branch at base, publishes the base as a disposable remote branch and picks
// the record on top of it.
func (e *Executor) Attempt(ctx context.Context, r *Recombination, branch, base, searchRef string) (*Failure, error) {
	if err := e.picker.CreateBranch(ctx, branch, base); err != nil {
		return nil, err
	}
	if err := e.picker.PushBranch(ctx, git.ReplicaRemote, branch, branch); err != nil {
		return nil, fmt.Errorf("failed to publish recombination base %s: %w", branch, err)
	}
	return e.Pick(ctx, r, branch, searchRef)
}

// Escalate records a failed attempt for human resolution: an empty FAILED commit on top of
// base is uploaded to the failed attempts branch of the record's target and the conflict
// report is posted on it with Verified -1.
func (e *Executor) Escalate(ctx context.Context, reviewer Reviewer, r *Recombination, base string, failure *Failure) error {
	branch := FailedAttemptsBranch(r.Target)
	if err := e.picker.CreateBranch(ctx, branch, base); err != nil {
		return err
	}
	if err := e.picker.PushBranch(ctx, git.ReplicaRemote, branch, branch); err != nil {
		return fmt.Errorf("failed to publish %s: %w", branch, err)
	}

	r.Status = StatusFailed
	message, err := r.CommitMessage()
	if err != nil {
		return err
	}
	// The upstream identity survives the human amend, so the resolution stays matchable
	if err := e.picker.CommitEmpty(ctx, branch, message, r.Author, r.AuthorTime); err != nil {
		return err
	}

	uploaded, err := reviewer.Upload(ctx, gerrit.UploadRequest{LocalBranch: branch, TargetBranch: branch, Topic: r.ID})
	if err != nil {
		return &UploadError{Branch: branch, Topic: r.ID, Err: err}
	}
	r.Backport = uploaded

	if err := reviewer.Comment(ctx, uploaded, failure.Report(uploaded.Number, r.Target), change.Scores{Verified: change.Score(-1)}); err != nil {
		return err
	}
	slog.Warn("Failed attempt uploaded for manual resolution", "recombination", r.ID, "change", uploaded.Number, "branch", branch)
	return nil
}
