package project

import (
	"context"
	"fmt"

	"github.com/alan/recombine/cmd"
)

type branchFunc func(p *Project, ctx context.Context, mapping cmd.BranchMapping) (*BranchReport, error)

// strategy pairs the mutating poll of a watch method with its read-only inspection
type strategy struct {
	poll    branchFunc
	inspect branchFunc
}

var strategies = map[cmd.WatchMethod]strategy{
	cmd.WatchChangeByChange: {
		poll:    (*Project).pollChangeByChange,
		inspect: (*Project).inspectChangeByChange,
	},
	cmd.WatchLockAndBackports: {
		poll:    (*Project).pollLockAndBackports,
		inspect: (*Project).inspectLockAndBackports,
	},
}

func (p *Project) strategy() (strategy, error) {
	s, ok := strategies[p.method]
	if !ok {
		return strategy{}, fmt.Errorf("project %s: no strategy for watch method %q", p.Name, p.method)
	}
	return s, nil
}

// PollBranch reconciles one watched branch with the project's strategy
func (p *Project) PollBranch(ctx context.Context, mapping cmd.BranchMapping) (*BranchReport, error) {
	s, err := p.strategy()
	if err != nil {
		return nil, err
	}
	return s.poll(p, ctx, mapping)
}

// InspectBranch computes the statuses of one watched branch without changing anything
func (p *Project) InspectBranch(ctx context.Context, mapping cmd.BranchMapping) (*BranchReport, error) {
	s, err := p.strategy()
	if err != nil {
		return nil, err
	}
	return s.inspect(p, ctx, mapping)
}
