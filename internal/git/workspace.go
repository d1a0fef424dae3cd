// Package git drives the on-disk working tree shared by one project. Mutating operations
// run the git binary inside the workspace directory; history reads go through go-git.
// Every operation that checks out a branch returns the tree to the parking branch before
// it completes, on every exit path.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	gogit "github.com/go-git/go-git/v5"
)

// ParkingBranch is the neutral branch the working tree rests on between operations
const ParkingBranch = "parking"

// Remote names used inside every workspace
const (
	OriginalRemote = "original"
	ReplicaRemote  = "replica"
	MirrorRemote   = "replica-mirror"
)

// RemoteRef returns the remote-tracking ref of branch on remote
func RemoteRef(remote, branch string) string {
	return "remotes/" + remote + "/" + branch
}

// Workspace is an explicit handle on one project's working tree
type Workspace struct {
	Dir string

	bodyFilter func(string) string
	index      *equivalenceIndex
}

// Option configures a Workspace
type Option func(*Workspace)

// WithBodyFilter sets a function applied to commit messages before content comparison
func WithBodyFilter(filter func(string) string) Option {
	return func(w *Workspace) {
		w.bodyFilter = filter
	}
}

// NewWorkspace returns a workspace handle rooted at dir
func NewWorkspace(dir string, opts ...Option) *Workspace {
	w := &Workspace{Dir: dir}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// run executes a git command inside the workspace and returns its trimmed stdout
func (w *Workspace) run(ctx context.Context, args ...string) (string, error) {
	return w.runInput(ctx, "", args...)
}

// runInput executes a git command feeding stdin
func (w *Workspace) runInput(ctx context.Context, stdin string, args ...string) (string, error) {
	slog.Debug("Executing git command", "dir", w.Dir, "args", args)

	cmd := exec.CommandContext(ctx, "git", args...) //nolint:gosec // Arguments are built from configuration and git output
	cmd.Dir = w.Dir
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		slog.Debug("Git command failed", "args", args, "stderr", stderr.String())
		return strings.TrimSpace(stdout.String()), fmt.Errorf("git %s failed: %s: %w", args[0], strings.TrimSpace(stderr.String()), err)
	}

	// Push and review output goes to stderr
	out := stdout.String()
	if stderr.Len() > 0 && stdout.Len() == 0 {
		out = stderr.String()
	}
	// Leading blanks are significant in porcelain output
	return strings.TrimRight(out, " \t\r\n"), nil
}

// exitCode returns the exit code wrapped in err, or -1
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// open returns a fresh go-git handle so objects written by the git binary are visible
func (w *Workspace) open() (*gogit.Repository, error) {
	repo, err := gogit.PlainOpen(w.Dir)
	if err != nil {
		return nil, fmt.Errorf("opening repository %s: %w", w.Dir, err)
	}
	return repo, nil
}

// Init prepares the workspace directory, repository settings and the parking branch
func (w *Workspace) Init(ctx context.Context) error {
	if err := os.MkdirAll(w.Dir, 0o750); err != nil {
		return fmt.Errorf("failed to create workspace %s: %w", w.Dir, err)
	}

	if _, err := os.Stat(w.Dir + "/.git"); os.IsNotExist(err) {
		if _, err := w.run(ctx, "init"); err != nil {
			return err
		}
	}

	settings := [][]string{
		{"diff.renames", "copy"},
		{"diff.renamelimit", "10000"},
		{"merge.conflictstyle", "diff3"},
	}
	for _, kv := range settings {
		if _, err := w.run(ctx, "config", kv[0], kv[1]); err != nil {
			return err
		}
	}
	if _, err := w.run(ctx, "config", "user.email"); err != nil {
		if _, err := w.run(ctx, "config", "user.email", "recombine@localhost"); err != nil {
			return err
		}
		if _, err := w.run(ctx, "config", "user.name", "recombine"); err != nil {
			return err
		}
	}

	if _, err := w.run(ctx, "checkout", "-f", ParkingBranch); err != nil {
		slog.Info("Creating parking branch", "dir", w.Dir)
		if _, err := w.run(ctx, "checkout", "--orphan", ParkingBranch); err != nil {
			return err
		}
		if _, err := w.run(ctx, "commit", "--allow-empty", "-m", ParkingBranch); err != nil {
			return err
		}
	}

	return nil
}

// Park returns the working tree to the parking branch and discards leftovers
func (w *Workspace) Park(ctx context.Context) error {
	if _, err := w.run(ctx, "checkout", "-f", ParkingBranch); err != nil {
		return fmt.Errorf("failed to return to %s: %w", ParkingBranch, err)
	}
	if _, err := w.run(ctx, "clean", "-fdq"); err != nil {
		return err
	}
	return nil
}

// park is the deferred form of Park used on every exit path; failures are logged
func (w *Workspace) park(ctx context.Context) {
	if err := w.Park(context.WithoutCancel(ctx)); err != nil {
		slog.Error("Failed to park working tree", "dir", w.Dir, "error", err)
	}
}

// checkout switches the working tree to branch
func (w *Workspace) checkout(ctx context.Context, branch string) error {
	if _, err := w.run(ctx, "checkout", "-f", branch); err != nil {
		return fmt.Errorf("failed to checkout branch %s: %w", branch, err)
	}
	return nil
}
