package project

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alan/recombine/cmd"
	"github.com/alan/recombine/internal/git"
	"github.com/alan/recombine/internal/recombination"
)

// advance moves the branch base tag to the last record of a leading MERGED segment. The move
// must be a fast-forward. An explicit lock revision pins the start and is never moved.
func (p *Project) advance(ctx context.Context, mapping cmd.BranchMapping, report *BranchReport) error {
	segments := report.Segments()
	if len(segments) == 0 || segments[0].Category != recombination.CategoryMerged {
		return nil
	}
	if mapping.Lock != "" {
		slog.Debug("Branch pinned by lock, base tag not advanced", "project", p.Name, "branch", mapping.Name, "lock", mapping.Lock)
		return nil
	}
	if mapping.BaseTag == "" {
		return nil
	}

	merged := segments[0].Records
	revision := merged[len(merged)-1].Mainline
	current, err := p.workspace.GetRevision(ctx, mapping.BaseTag)
	if err != nil {
		return fmt.Errorf("failed to resolve base tag %s: %w", mapping.BaseTag, err)
	}
	if current == revision {
		return nil
	}

	forward, err := p.workspace.IsAncestor(ctx, current, revision)
	if err != nil {
		return err
	}
	if !forward {
		return &recombination.MergeError{Ref: mapping.BaseTag, From: current, To: revision}
	}
	if err := p.workspace.TagAndPush(ctx, git.ReplicaRemote, mapping.BaseTag, revision); err != nil {
		return &recombination.PushError{Ref: mapping.BaseTag, Err: err}
	}

	report.LockMovedTo = revision
	slog.Info("Base tag advanced", "project", p.Name, "branch", mapping.Name, "tag", mapping.BaseTag, "from", current, "to", revision, "merged", len(merged))
	return nil
}
