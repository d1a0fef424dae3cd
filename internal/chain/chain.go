// Package chain reconciles the ordered upstream sequence of a branch with the chain of open
// backport changes on its replica target, rewriting the chain from the first point where
// they disagree.
package chain

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alan/recombine/internal/git"
	"github.com/alan/recombine/internal/recombination"
)

// History is the part of the workspace planning reads
type History interface {
	GetRevision(ctx context.Context, ref string) (string, error)
	GetCommits(ctx context.Context, start, end string, opts git.LogOptions) ([]git.Commit, error)
	FindEquivalentCommit(ctx context.Context, revision, searchRef string) (string, error)
	CommitsDiffer(ctx context.Context, a, b string) (bool, error)
}

// Match places one upstream record in the downstream chain
type Match struct {
	Record *recombination.Recombination
	// Commit is the equivalent chain commit, empty when the record is missing
	Commit string
	// Position is the index of Commit in the movable chain, -1 when missing
	Position int
	// Differs is set when the chain commit no longer carries the upstream content
	Differs bool
}

// Missing reports whether the record has no port in the chain
func (m Match) Missing() bool {
	return m.Commit == ""
}

// Plan is the outcome of comparing an upstream sequence with a downstream chain
type Plan struct {
	// Base is the revision a rewrite starts from
	Base string
	// Chain holds the movable chain commits, base-most first, wedge ports excluded
	Chain []git.Commit
	// Merged are the records whose port is already part of the immovable base
	Merged []*recombination.Recombination
	// Matches are the remaining records in upstream order
	Matches []Match
	// ForwardPorts are chain commits with no upstream counterpart that a rewrite re-appends
	ForwardPorts []git.Commit
	// Superseded are forward ports dropped because an upstream commit now carries them
	Superseded []git.Commit
	// Stale are ports of upstream commits outside the planned sequence, dropped by a rewrite
	Stale []git.Commit
	// RewriteAt is the index in Matches of the first record to re-pick, -1 for no rewrite
	RewriteAt int
}

// NeedsRewrite reports whether the chain has to be rebuilt
func (p *Plan) NeedsRewrite() bool {
	return p.RewriteAt >= 0
}

// Repick returns the records a rewrite cherry-picks, in order
func (p *Plan) Repick() []*recombination.Recombination {
	if !p.NeedsRewrite() {
		return nil
	}
	out := make([]*recombination.Recombination, 0, len(p.Matches)-p.RewriteAt)
	for _, m := range p.Matches[p.RewriteAt:] {
		out = append(out, m.Record)
	}
	return out
}

// Planner compares upstream sequences with downstream chains
type Planner struct {
	history    History
	wedgePorts int
}

// NewPlanner returns a planner treating the bottom wedgePorts chain entries as immovable
func NewPlanner(history History, wedgePorts int) *Planner {
	if wedgePorts < 0 {
		wedgePorts = 0
	}
	return &Planner{history: history, wedgePorts: wedgePorts}
}

// Plan matches records, oldest first, against the chain between baseRef and chainRef. An
// empty chainRef means there is no open chain.
func (p *Planner) Plan(ctx context.Context, baseRef, chainRef string, records []*recombination.Recombination) (*Plan, error) {
	base, err := p.history.GetRevision(ctx, baseRef)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve chain base %s: %w", baseRef, err)
	}

	searchRef := baseRef
	var chain []git.Commit
	if chainRef != "" {
		searchRef = chainRef
		chain, err = p.history.GetCommits(ctx, base, chainRef, git.LogOptions{FirstParent: true, Reverse: true})
		if err != nil {
			return nil, fmt.Errorf("failed to list chain %s: %w", chainRef, err)
		}
	}

	wedge := min(p.wedgePorts, len(chain))
	if wedge > 0 {
		base = chain[wedge-1].Hash
	}
	plan := &Plan{Base: base, Chain: chain[wedge:], RewriteAt: -1}

	position := make(map[string]int, len(plan.Chain))
	byID := make(map[string]int, len(plan.Chain))
	for i, c := range plan.Chain {
		position[c.Hash] = i
		if recombination.IsRecombinationMessage(c.Message) {
			if m, err := recombination.Decode(c.Message); err == nil {
				byID[m.Sources.Main.ID] = i
			}
		}
	}

	matched := make(map[int]bool, len(plan.Chain))
	for _, r := range records {
		m := Match{Record: r, Position: -1}
		if pos, ok := byID[r.ID]; ok {
			m.Position, m.Commit = pos, plan.Chain[pos].Hash
		} else {
			equivalent, err := p.history.FindEquivalentCommit(ctx, r.Main.Revision, searchRef)
			if err != nil {
				return nil, fmt.Errorf("failed to search port of %s: %w", r.ID, err)
			}
			if equivalent != "" {
				pos, inChain := position[equivalent]
				if !inChain {
					slog.Debug("Upstream commit already in chain base", "recombination", r.ID, "equivalent", equivalent)
					plan.Merged = append(plan.Merged, r)
					continue
				}
				m.Position, m.Commit = pos, equivalent
			}
		}

		if !m.Missing() {
			if matched[m.Position] {
				// Two upstream commits claim one port, the later one is missing
				m.Position, m.Commit = -1, ""
			} else {
				matched[m.Position] = true
				differs, err := p.history.CommitsDiffer(ctx, r.Main.Revision, m.Commit)
				if err != nil {
					return nil, err
				}
				m.Differs = differs
			}
		}
		plan.Matches = append(plan.Matches, m)
	}

	// Regular ports in chain order; forward ports are excluded from position comparison
	var regular []int
	for i := range plan.Chain {
		if matched[i] {
			regular = append(regular, i)
		}
	}

	for j, m := range plan.Matches {
		switch {
		case m.Missing():
			slog.Debug("Rewrite point: missing port", "recombination", m.Record.ID, "index", j)
		case j >= len(regular) || regular[j] != m.Position:
			slog.Debug("Rewrite point: misplaced port", "recombination", m.Record.ID, "index", j, "position", m.Position)
		case m.Differs:
			slog.Debug("Rewrite point: content drift", "recombination", m.Record.ID, "index", j, "commit", m.Commit)
		default:
			continue
		}
		plan.RewriteAt = j
		break
	}
	if !plan.NeedsRewrite() {
		return plan, nil
	}

	// Everything above the last confirmed port is rebuilt
	keep := -1
	if plan.RewriteAt > 0 {
		keep = regular[plan.RewriteAt-1]
		plan.Base = plan.Chain[keep].Hash
	}
	for i := keep + 1; i < len(plan.Chain); i++ {
		if matched[i] {
			continue
		}
		if recombination.IsRecombinationMessage(plan.Chain[i].Message) {
			slog.Debug("Dropping stale port", "commit", plan.Chain[i].Hash)
			plan.Stale = append(plan.Stale, plan.Chain[i])
			continue
		}
		superseded, err := p.superseded(ctx, plan.Chain[i], plan.Repick())
		if err != nil {
			return nil, err
		}
		if superseded {
			plan.Superseded = append(plan.Superseded, plan.Chain[i])
			continue
		}
		plan.ForwardPorts = append(plan.ForwardPorts, plan.Chain[i])
	}
	return plan, nil
}

// superseded reports whether an upstream commit being re-picked carries the forward port's content
func (p *Planner) superseded(ctx context.Context, port git.Commit, repick []*recombination.Recombination) (bool, error) {
	for _, r := range repick {
		differs, err := p.history.CommitsDiffer(ctx, r.Main.Revision, port.Hash)
		if err != nil {
			return false, err
		}
		if !differs {
			slog.Info("Forward port superseded by upstream", "port", port.Hash, "recombination", r.ID)
			return true, nil
		}
	}
	return false, nil
}
