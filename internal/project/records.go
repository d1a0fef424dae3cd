package project

import (
	"context"
	"fmt"

	"github.com/alan/recombine/cmd"
	"github.com/alan/recombine/internal/change"
	"github.com/alan/recombine/internal/changeset"
	"github.com/alan/recombine/internal/gerrit"
	"github.com/alan/recombine/internal/git"
	"github.com/alan/recombine/internal/recombination"
)

// patches describes the tip of the replica patches branch
func (p *Project) patches(ctx context.Context, mapping cmd.BranchMapping) (*change.Change, error) {
	ref := git.RemoteRef(git.ReplicaRemote, mapping.Patches())
	commit, err := p.workspace.GetCommit(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to read patches branch %s: %w", mapping.Patches(), err)
	}
	id, _, ok := changeset.ExtractID(cmd.RepoTypeGerrit, *commit)
	if !ok {
		id = commit.Hash
	}
	return &change.Change{
		UUID:          id,
		Revision:      commit.Hash,
		Parents:       commit.Parents,
		Branch:        mapping.Patches(),
		Project:       p.Config.Replica.Name,
		RemoteStatus:  change.RemoteStatusMerged,
		CommitMessage: commit.Message,
	}, nil
}

// records builds one record per upstream commit the branch still has to absorb
func (p *Project) records(ctx context.Context, mapping cmd.BranchMapping) ([]*recombination.Recombination, *change.Change, error) {
	cs, err := p.builder.Build(ctx, mapping)
	if err != nil {
		return nil, nil, err
	}
	patches, err := p.patches(ctx, mapping)
	if err != nil {
		return nil, nil, err
	}

	records := make([]*recombination.Recombination, 0, cs.Len())
	for _, entry := range cs.Entries {
		main, err := p.describer.Describe(ctx, mapping.Name, entry)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to describe %s: %w", entry.ID, err)
		}
		r := recombination.New(main, patches, mapping.Target())
		r.Mainline = entry.Revision
		r.Author, r.AuthorTime = entry.Commit.Author, entry.Commit.AuthorTime
		records = append(records, r)
	}
	return records, patches, nil
}

func ids(records []*recombination.Recombination) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

// rank orders candidate backports: open first, then merged, then abandoned
func rank(ch *change.Change) int {
	switch {
	case ch.RemoteStatus.IsOpen():
		return 0
	case ch.RemoteStatus == change.RemoteStatusMerged:
		return 1
	default:
		return 2
	}
}

// byTopic returns, per record id, the preferred change among those on an accepted branch.
// Within one rank the most recent change wins.
func (p *Project) byTopic(ctx context.Context, s gerrit.Search, accept func(branch string) bool) (map[string]*change.Change, error) {
	if len(s.Values) == 0 {
		return nil, nil
	}
	s.Field = "topic"
	changes, err := p.reviewer.GetChanges(ctx, s)
	if err != nil {
		return nil, err
	}

	found := make(map[string]*change.Change)
	for _, ch := range changes {
		if !accept(ch.Branch) {
			continue
		}
		current, ok := found[ch.Topic]
		if !ok || rank(ch) < rank(current) || (rank(ch) == rank(current) && ch.Number > current.Number) {
			found[ch.Topic] = ch
		}
	}
	return found, nil
}

// ChangeRef returns the fetched ref of a change's current patch set
func ChangeRef(ch *change.Change) string {
	return git.RemoteRef(git.ReplicaRemote, fmt.Sprintf("changes/%02d/%d/%d", ch.Number%100, ch.Number, ch.PatchsetNumber))
}
