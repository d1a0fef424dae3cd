package git

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// Commit is a read-only view of one commit
type Commit struct {
	Hash       string
	Parents    []string
	Message    string
	Author     string // "Name <email>"
	AuthorTime int64
	// Subcommits holds, for merge commits, the second-parent lineage newest first.
	// Subcommits[0] is always the second parent itself.
	Subcommits []Commit
}

// IsMerge reports whether the commit has more than one parent
func (c Commit) IsMerge() bool {
	return len(c.Parents) > 1
}

// Body returns the message split in lines
func (c Commit) Body() []string {
	return strings.Split(strings.TrimRight(c.Message, "\n"), "\n")
}

// LogOptions controls GetCommits
type LogOptions struct {
	FirstParent bool
	NoMerges    bool
	Reverse     bool
}

func newCommit(c *object.Commit) Commit {
	parents := make([]string, 0, len(c.ParentHashes))
	for _, p := range c.ParentHashes {
		parents = append(parents, p.String())
	}
	return Commit{
		Hash:       c.Hash.String(),
		Parents:    parents,
		Message:    c.Message,
		Author:     fmt.Sprintf("%s <%s>", c.Author.Name, c.Author.Email),
		AuthorTime: c.Author.When.Unix(),
	}
}

func resolve(repo *gogit.Repository, rev string) (*object.Commit, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", rev, err)
	}
	c, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("failed to read commit %s: %w", rev, err)
	}
	return c, nil
}

// GetRevision resolves a ref, tag or hash to a full commit hash
func (w *Workspace) GetRevision(ctx context.Context, ref string) (string, error) {
	repo, err := w.open()
	if err != nil {
		return "", err
	}
	c, err := resolve(repo, ref)
	if err != nil {
		return "", err
	}
	return c.Hash.String(), nil
}

// GetCommit reads a single commit
func (w *Workspace) GetCommit(ctx context.Context, rev string) (*Commit, error) {
	repo, err := w.open()
	if err != nil {
		return nil, err
	}
	c, err := resolve(repo, rev)
	if err != nil {
		return nil, err
	}
	commit := newCommit(c)
	return &commit, nil
}

// CommitMessage returns the full message of rev
func (w *Workspace) CommitMessage(ctx context.Context, rev string) (string, error) {
	c, err := w.GetCommit(ctx, rev)
	if err != nil {
		return "", err
	}
	return c.Message, nil
}

// ancestors collects every commit reachable from start, start included
func ancestors(ctx context.Context, start *object.Commit) (map[plumbing.Hash]bool, error) {
	seen := make(map[plumbing.Hash]bool)
	iter := object.NewCommitPreorderIter(start, nil, nil)
	defer iter.Close()
	err := iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		seen[c.Hash] = true
		return nil
	})
	return seen, err
}

// GetCommits lists the commits reachable from end and not from start, newest first
// unless opts.Reverse is set.
func (w *Workspace) GetCommits(ctx context.Context, start, end string, opts LogOptions) ([]Commit, error) {
	repo, err := w.open()
	if err != nil {
		return nil, err
	}
	endCommit, err := resolve(repo, end)
	if err != nil {
		return nil, err
	}
	exclude := map[plumbing.Hash]bool{}
	if start != "" {
		startCommit, err := resolve(repo, start)
		if err != nil {
			return nil, err
		}
		if exclude, err = ancestors(ctx, startCommit); err != nil {
			return nil, err
		}
	}

	var walked []*object.Commit
	if opts.FirstParent {
		for c := endCommit; c != nil && !exclude[c.Hash]; {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			walked = append(walked, c)
			if c.NumParents() == 0 {
				break
			}
			if c, err = c.Parent(0); err != nil {
				return nil, fmt.Errorf("failed to read parent: %w", err)
			}
		}
	} else {
		iter := object.NewCommitPreorderIter(endCommit, exclude, nil)
		err := iter.ForEach(func(c *object.Commit) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			walked = append(walked, c)
			return nil
		})
		iter.Close()
		if err != nil {
			return nil, err
		}
	}

	// Commits on the walked line are known to be reachable from every later merge's
	// first parent, so they bound the second-parent walks together with exclude.
	mainline := make(map[plumbing.Hash]bool, len(exclude)+len(walked))
	for h := range exclude {
		mainline[h] = true
	}
	for _, c := range walked {
		mainline[c.Hash] = true
	}

	commits := make([]Commit, 0, len(walked))
	for _, c := range walked {
		if c.NumParents() > 1 {
			if opts.NoMerges {
				continue
			}
			commit := newCommit(c)
			if commit.Subcommits, err = subcommits(ctx, c, mainline); err != nil {
				return nil, err
			}
			commits = append(commits, commit)
			continue
		}
		commits = append(commits, newCommit(c))
	}

	if opts.Reverse {
		for i, j := 0, len(commits)-1; i < j; i, j = i+1, j-1 {
			commits[i], commits[j] = commits[j], commits[i]
		}
	}
	return commits, nil
}

func subcommits(ctx context.Context, merge *object.Commit, mainline map[plumbing.Hash]bool) ([]Commit, error) {
	second, err := merge.Parent(1)
	if err != nil {
		return nil, fmt.Errorf("failed to read second parent of %s: %w", merge.Hash, err)
	}
	var result []Commit
	iter := object.NewCommitPreorderIter(second, mainline, nil)
	defer iter.Close()
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		result = append(result, newCommit(c))
		return nil
	})
	if len(result) == 0 {
		// Second parent already on the main line
		result = append(result, newCommit(second))
	}
	return result, err
}

// IsAncestor reports whether ancestor is reachable from descendant
func (w *Workspace) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	repo, err := w.open()
	if err != nil {
		return false, err
	}
	a, err := resolve(repo, ancestor)
	if err != nil {
		return false, err
	}
	d, err := resolve(repo, descendant)
	if err != nil {
		return false, err
	}
	if a.Hash == d.Hash {
		return true, nil
	}
	return a.IsAncestor(d)
}

// ListRemoteBranches returns the branch names under refs/remotes/<remote>/ matching any of
// the doublestar patterns, or all of them when no pattern is given.
func (w *Workspace) ListRemoteBranches(ctx context.Context, remote string, patterns ...string) ([]string, error) {
	repo, err := w.open()
	if err != nil {
		return nil, err
	}
	refs, err := repo.References()
	if err != nil {
		return nil, fmt.Errorf("failed to list references: %w", err)
	}
	defer refs.Close()

	prefix := "refs/remotes/" + remote + "/"
	var branches []string
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().String()
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		branch := strings.TrimPrefix(name, prefix)
		if branch == "HEAD" || strings.HasPrefix(branch, "changes/") {
			return nil
		}
		if len(patterns) == 0 || matchAny(patterns, branch) {
			branches = append(branches, branch)
		}
		return nil
	})
	if err != nil && !errors.Is(err, storer.ErrStop) {
		return nil, err
	}
	return branches, nil
}
