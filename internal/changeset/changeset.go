// Package changeset enumerates the upstream commits a branch has to absorb and gives each
// one its stable identity.
package changeset

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/alan/recombine/cmd"
	"github.com/alan/recombine/internal/git"
)

var changeIDLine = regexp.MustCompile(`^\s*Change-Id:\s*(\S+)\s*$`)

// History is the part of the workspace the builder reads
type History interface {
	GetRevision(ctx context.Context, ref string) (string, error)
	GetCommits(ctx context.Context, start, end string, opts git.LogOptions) ([]git.Commit, error)
}

// Entry is one upstream commit to be reconciled
type Entry struct {
	ID string
	// Revision is the commit on the upstream first-parent line, a merge for merged changes
	Revision string
	// Commit carries the content to port: Revision itself, or the second parent of a merge
	Commit git.Commit
}

// PickRevision returns the commit to cherry-pick for this entry
func (e Entry) PickRevision() string {
	return e.Commit.Hash
}

// Changeset is the ordered, oldest first, list of upstream commits in (Start, End]
type Changeset struct {
	Branch  string
	Start   string
	End     string
	Entries []Entry
}

// Len returns the number of entries
func (c *Changeset) Len() int {
	return len(c.Entries)
}

// IDs returns the entry identities in order
func (c *Changeset) IDs() []string {
	ids := make([]string, 0, len(c.Entries))
	for _, e := range c.Entries {
		ids = append(ids, e.ID)
	}
	return ids
}

// Find returns the position of id
func (c *Changeset) Find(id string) (int, bool) {
	for i, e := range c.Entries {
		if e.ID == id {
			return i, true
		}
	}
	return -1, false
}

// ExtractID returns the stable identity of an upstream commit. Review-tracked upstreams use
// the last Change-Id trailer, read from the second parent for merges; plain repositories use
// the hash.
func ExtractID(repoType cmd.RepoType, commit git.Commit) (string, git.Commit, bool) {
	if repoType != cmd.RepoTypeGerrit {
		return commit.Hash, commit, true
	}

	carrier := commit
	if commit.IsMerge() {
		if len(commit.Subcommits) == 0 {
			return "", commit, false
		}
		carrier = commit.Subcommits[0]
	}

	var id string
	for _, line := range carrier.Body() {
		if m := changeIDLine.FindStringSubmatch(line); m != nil {
			id = m[1]
		}
	}
	return id, carrier, id != ""
}

// Builder computes changesets for the branches of one project
type Builder struct {
	history  History
	repoType cmd.RepoType
}

// NewBuilder returns a builder reading history for an upstream of repoType
func NewBuilder(history History, repoType cmd.RepoType) *Builder {
	return &Builder{history: history, repoType: repoType}
}

// StartRef returns the interval start for mapping: the lock revision, then the base tag,
// then the replica branch.
func StartRef(mapping cmd.BranchMapping) string {
	switch {
	case mapping.Lock != "":
		return mapping.Lock
	case mapping.BaseTag != "":
		return mapping.BaseTag
	default:
		return git.RemoteRef(git.ReplicaRemote, mapping.Replica())
	}
}

// EndRef returns the upstream tip for mapping
func EndRef(mapping cmd.BranchMapping) string {
	return git.RemoteRef(git.OriginalRemote, mapping.Name)
}

// Build lists the upstream commits mapping still has to absorb
func (b *Builder) Build(ctx context.Context, mapping cmd.BranchMapping) (*Changeset, error) {
	startRef, endRef := StartRef(mapping), EndRef(mapping)

	start, err := b.history.GetRevision(ctx, startRef)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve start of %s: %w", mapping.Name, err)
	}
	end, err := b.history.GetRevision(ctx, endRef)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve end of %s: %w", mapping.Name, err)
	}

	commits, err := b.history.GetCommits(ctx, start, end, git.LogOptions{FirstParent: true, Reverse: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list commits %s..%s: %w", startRef, endRef, err)
	}

	cs := &Changeset{Branch: mapping.Name, Start: start, End: end}
	seen := make(map[string]bool, len(commits))
	for _, commit := range commits {
		id, carrier, ok := ExtractID(b.repoType, commit)
		if !ok {
			slog.Warn("No Change-Id found in commit or its merge ancestry, skipping", "branch", mapping.Name, "revision", commit.Hash)
			continue
		}
		if seen[id] {
			slog.Warn("Duplicate change identity, keeping first occurrence", "branch", mapping.Name, "id", id, "revision", commit.Hash)
			continue
		}
		seen[id] = true
		cs.Entries = append(cs.Entries, Entry{ID: id, Revision: commit.Hash, Commit: carrier})
	}

	slog.Debug("Changeset built", "branch", mapping.Name, "start", start, "end", end, "entries", cs.Len())
	return cs, nil
}
