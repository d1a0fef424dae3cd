package git

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// PickResult describes a cherry-pick attempt
type PickResult struct {
	Clean bool
	// Status holds the unmerged porcelain entries when the pick conflicted
	Status []StatusEntry
	// Blocks maps each conflicted path to its first conflict region
	Blocks map[string]string
}

// ConflictSummary renders the conflicted paths one per line
func (r *PickResult) ConflictSummary() string {
	lines := make([]string, 0, len(r.Status))
	for _, e := range r.Status {
		lines = append(lines, e.String())
	}
	return strings.Join(lines, "\n")
}

// AddRemote registers or updates a remote and fetches it. Review refs are fetched too
// when withChanges is set.
func (w *Workspace) AddRemote(ctx context.Context, name, url string, withChanges bool) error {
	if _, err := w.run(ctx, "remote", "get-url", name); err == nil {
		if _, err := w.run(ctx, "remote", "set-url", name, url); err != nil {
			return err
		}
	} else if _, err := w.run(ctx, "remote", "add", name, url); err != nil {
		return err
	}

	if withChanges {
		refspec := fmt.Sprintf("+refs/changes/*:refs/remotes/%s/changes/*", name)
		if _, err := w.run(ctx, "config", "--replace-all", "remote."+name+".fetch", refspec, "refs/changes"); err != nil {
			// --replace-all with value pattern fails when nothing matches yet
			if _, err := w.run(ctx, "config", "--add", "remote."+name+".fetch", refspec); err != nil {
				return err
			}
		}
	}

	return w.Fetch(ctx, name)
}

// Fetch updates all refs of a remote, tags included
func (w *Workspace) Fetch(ctx context.Context, remote string) error {
	slog.Info("Fetching remote", "remote", remote, "dir", w.Dir)
	if _, err := w.run(ctx, "fetch", "--prune", "--tags", remote); err != nil {
		return fmt.Errorf("failed to fetch %s: %w", remote, err)
	}
	return nil
}

// CreateBranch creates or resets a local branch at base without checking it out
func (w *Workspace) CreateBranch(ctx context.Context, name, base string) error {
	if err := w.Park(ctx); err != nil {
		return err
	}
	if _, err := w.run(ctx, "branch", "-f", name, base); err != nil {
		return fmt.Errorf("failed to create branch %s at %s: %w", name, base, err)
	}
	return nil
}

// DeleteBranch removes a local branch; a missing branch is not an error
func (w *Workspace) DeleteBranch(ctx context.Context, name string) error {
	if err := w.Park(ctx); err != nil {
		return err
	}
	if _, err := w.run(ctx, "rev-parse", "--verify", "--quiet", "refs/heads/"+name); err != nil {
		return nil
	}
	if _, err := w.run(ctx, "branch", "-D", name); err != nil {
		return fmt.Errorf("failed to delete branch %s: %w", name, err)
	}
	return nil
}

// CherryPick applies revision on top of branch. A conflict is not an error: the result
// carries the conflicted paths and their first conflict regions and the pick is aborted.
func (w *Workspace) CherryPick(ctx context.Context, branch, revision string) (*PickResult, error) {
	if err := w.checkout(ctx, branch); err != nil {
		return nil, err
	}
	defer w.park(ctx)

	slog.Debug("Cherry-picking", "branch", branch, "revision", revision)
	_, pickErr := w.run(ctx, "cherry-pick", "--allow-empty", "--keep-redundant-commits", revision)
	if pickErr == nil {
		return &PickResult{Clean: true}, nil
	}

	porcelain, err := w.run(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}
	result := &PickResult{Blocks: make(map[string]string)}
	for _, entry := range ParsePorcelain(porcelain) {
		if !entry.Unmerged() {
			continue
		}
		result.Status = append(result.Status, entry)
		content, err := os.ReadFile(filepath.Join(w.Dir, entry.Path))
		if err != nil {
			// Deleted on one side
			result.Blocks[entry.Path] = ""
			continue
		}
		result.Blocks[entry.Path] = ExtractConflictBlock(string(content))
	}

	if _, err := w.run(ctx, "cherry-pick", "--abort"); err != nil {
		slog.Warn("Failed to abort cherry-pick", "branch", branch, "error", err)
	}

	if len(result.Status) == 0 {
		return nil, fmt.Errorf("cherry-pick of %s failed without conflicts (exit %d): %w", revision, exitCode(pickErr), pickErr)
	}
	return result, nil
}

// AmendMessage replaces the message of branch's head, keeping author and tree
func (w *Workspace) AmendMessage(ctx context.Context, branch, message string) error {
	if err := w.checkout(ctx, branch); err != nil {
		return err
	}
	defer w.park(ctx)

	if _, err := w.runInput(ctx, message, "commit", "--amend", "--allow-empty", "-F", "-"); err != nil {
		return fmt.Errorf("failed to amend head of %s: %w", branch, err)
	}
	return nil
}

// CommitEmpty records an empty commit on branch. A non-empty author ("Name <email>") and its
// unix time replace the configured identity.
func (w *Workspace) CommitEmpty(ctx context.Context, branch, message, author string, authorTime int64) error {
	if err := w.checkout(ctx, branch); err != nil {
		return err
	}
	defer w.park(ctx)

	args := []string{"commit", "--allow-empty", "-F", "-"}
	if author != "" {
		args = append(args, "--author="+author, fmt.Sprintf("--date=@%d +0000", authorTime))
	}
	if _, err := w.runInput(ctx, message, args...); err != nil {
		return fmt.Errorf("failed to commit on %s: %w", branch, err)
	}
	return nil
}

// FormatPatch exports a single commit as a mailbox patch
func (w *Workspace) FormatPatch(ctx context.Context, revision string) (string, error) {
	patch, err := w.run(ctx, "format-patch", "-1", "--stdout", revision)
	if err != nil {
		return "", fmt.Errorf("failed to export %s: %w", revision, err)
	}
	return patch + "\n", nil
}

// ApplyPatch applies a mailbox patch on top of branch and optionally rewrites its message
func (w *Workspace) ApplyPatch(ctx context.Context, branch, patch, message string) error {
	if err := w.checkout(ctx, branch); err != nil {
		return err
	}
	defer w.park(ctx)

	if _, err := w.runInput(ctx, patch, "am", "--keep-cr", "--3way"); err != nil {
		if _, abortErr := w.run(ctx, "am", "--abort"); abortErr != nil {
			slog.Warn("Failed to abort patch application", "branch", branch, "error", abortErr)
		}
		return fmt.Errorf("failed to apply patch on %s: %w", branch, err)
	}
	if message == "" {
		return nil
	}
	if _, err := w.runInput(ctx, message, "commit", "--amend", "--allow-empty", "-F", "-"); err != nil {
		return fmt.Errorf("failed to set message on %s: %w", branch, err)
	}
	return nil
}

// Push pushes a refspec to a remote and returns the remote's output
func (w *Workspace) Push(ctx context.Context, remote, refspec string, force bool) (string, error) {
	args := []string{"push"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, remote, refspec)
	out, err := w.run(ctx, args...)
	if err != nil {
		return out, fmt.Errorf("failed to push %s to %s: %w", refspec, remote, err)
	}
	return out, nil
}

// PushBranch force-pushes a local ref to a branch on remote
func (w *Workspace) PushBranch(ctx context.Context, remote, ref, branch string) error {
	_, err := w.Push(ctx, remote, ref+":refs/heads/"+branch, true)
	return err
}

// DeleteRemoteBranch removes a branch from remote
func (w *Workspace) DeleteRemoteBranch(ctx context.Context, remote, branch string) error {
	_, err := w.Push(ctx, remote, ":refs/heads/"+branch, false)
	return err
}

// TagAndPush moves tag to revision locally and on remote
func (w *Workspace) TagAndPush(ctx context.Context, remote, tag, revision string) error {
	if _, err := w.run(ctx, "tag", "-f", tag, revision); err != nil {
		return fmt.Errorf("failed to tag %s as %s: %w", revision, tag, err)
	}
	_, err := w.Push(ctx, remote, "refs/tags/"+tag+":refs/tags/"+tag, true)
	return err
}
