package change

import (
	"fmt"
	"sort"
)

// OrderChain orders open, dependency-linked changes from base-most to top. The walk starts
// at the change that depends on no other change in the set and follows needed-by links.
// Changes not reachable from that start are ignored.
func OrderChain(changes []*Change) ([]*Change, error) {
	if len(changes) == 0 {
		return nil, nil
	}

	byID := make(map[string]*Change, len(changes))
	byNumber := make(map[int]*Change, len(changes))
	for _, c := range changes {
		byID[c.UUID] = c
		byNumber[c.Number] = c
	}

	resolve := func(l Link) *Change {
		if c, ok := byNumber[l.Number]; ok && l.Number != 0 {
			return c
		}
		return byID[l.ID]
	}

	var bottoms []*Change
	for _, c := range changes {
		inSet := false
		for _, dep := range c.DependsOn {
			if resolve(dep) != nil {
				inSet = true
				break
			}
		}
		if !inSet {
			bottoms = append(bottoms, c)
		}
	}
	if len(bottoms) == 0 {
		return nil, fmt.Errorf("change chain has no base: dependency cycle among %d changes", len(changes))
	}
	if len(bottoms) > 1 {
		// Several independent stacks: the oldest one is the chain.
		sort.Slice(bottoms, func(i, j int) bool { return bottoms[i].Number < bottoms[j].Number })
	}

	var ordered []*Change
	visited := make(map[int]bool)
	current := bottoms[0]
	for current != nil && !visited[current.Number] {
		visited[current.Number] = true
		ordered = append(ordered, current)

		var next *Change
		for _, l := range current.NeededBy {
			if candidate := resolve(l); candidate != nil && !visited[candidate.Number] {
				if next == nil || candidate.Number < next.Number {
					next = candidate
				}
			}
		}
		current = next
	}

	return ordered, nil
}

// Top returns the last change of an ordered chain, or nil
func Top(chain []*Change) *Change {
	if len(chain) == 0 {
		return nil
	}
	return chain[len(chain)-1]
}
