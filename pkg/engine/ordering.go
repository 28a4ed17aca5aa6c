package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/racksync/racksync/pkg/catalog"
)

// TypeOrdering is the valid creation order for the resource types present
// in one batch, split into the two orchestrator passes.
type TypeOrdering struct {
	// Pass1 lists independent types in dependency order.
	Pass1 []catalog.ResourceType

	// Pass2 lists relationship types in dependency order.
	Pass2 []catalog.ResourceType
}

// All returns both passes concatenated, pass 1 first.
func (t *TypeOrdering) All() []catalog.ResourceType {
	out := make([]catalog.ResourceType, 0, len(t.Pass1)+len(t.Pass2))
	out = append(out, t.Pass1...)
	out = append(out, t.Pass2...)
	return out
}

// OrderTypes computes the creation order for a set of resource types using
// the catalog's dependency edges. Edges to types outside the set are
// ignored: those dependencies are expected to already exist server-side.
// The result is deterministic; ties break on catalog registration order.
func OrderTypes(present []catalog.ResourceType) (*TypeOrdering, error) {
	set := make(map[catalog.ResourceType]*catalog.Descriptor, len(present))
	for _, rt := range present {
		if _, dup := set[rt]; dup {
			continue
		}
		desc, err := catalog.Lookup(rt)
		if err != nil {
			return nil, NewValidationError("cannot order batch", err).
				WithCode(ErrCodeUnsupportedType).
				WithResourceType(string(rt))
		}
		set[rt] = desc
	}

	// Edges within the set only: dep -> dependent.
	adjacency := make(map[catalog.ResourceType][]catalog.ResourceType, len(set))
	inDegree := make(map[catalog.ResourceType]int, len(set))
	for rt := range set {
		inDegree[rt] = 0
	}
	for rt, desc := range set {
		for _, dep := range desc.DependsOn {
			if _, inSet := set[dep]; !inSet {
				continue
			}
			adjacency[dep] = append(adjacency[dep], rt)
			inDegree[rt]++
		}
	}

	if cycle := findCycle(set, adjacency); len(cycle) > 0 {
		return nil, NewInternalError(
			fmt.Sprintf("dependency cycle detected: %s", formatCycle(cycle)), nil)
	}

	// Kahn's algorithm with a ready queue kept in registration order.
	rank := registrationRank()
	ready := make([]catalog.ResourceType, 0, len(set))
	for rt, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, rt)
		}
	}
	sortByRank(ready, rank)

	ordered := make([]catalog.ResourceType, 0, len(set))
	for len(ready) > 0 {
		rt := ready[0]
		ready = ready[1:]
		ordered = append(ordered, rt)

		released := false
		for _, dependent := range adjacency[rt] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
				released = true
			}
		}
		if released {
			sortByRank(ready, rank)
		}
	}

	if len(ordered) != len(set) {
		return nil, NewInternalError("failed to order all types", nil)
	}

	out := &TypeOrdering{}
	for _, rt := range ordered {
		if set[rt].Pass == catalog.PassIndependent {
			out.Pass1 = append(out.Pass1, rt)
		} else {
			out.Pass2 = append(out.Pass2, rt)
		}
	}
	return out, nil
}

// findCycle runs a depth-first search over the induced dependency graph and
// returns one cycle when present.
func findCycle(set map[catalog.ResourceType]*catalog.Descriptor, adjacency map[catalog.ResourceType][]catalog.ResourceType) []catalog.ResourceType {
	visited := make(map[catalog.ResourceType]bool, len(set))
	onStack := make(map[catalog.ResourceType]bool, len(set))

	var walk func(rt catalog.ResourceType, path []catalog.ResourceType) []catalog.ResourceType
	walk = func(rt catalog.ResourceType, path []catalog.ResourceType) []catalog.ResourceType {
		visited[rt] = true
		onStack[rt] = true
		path = append(path, rt)

		for _, next := range adjacency[rt] {
			if !visited[next] {
				if cycle := walk(next, path); len(cycle) > 0 {
					return cycle
				}
			} else if onStack[next] {
				for i, p := range path {
					if p == next {
						return append(path[i:], next)
					}
				}
			}
		}
		onStack[rt] = false
		return nil
	}

	for rt := range set {
		if !visited[rt] {
			if cycle := walk(rt, nil); len(cycle) > 0 {
				return cycle
			}
		}
	}
	return nil
}

func formatCycle(cycle []catalog.ResourceType) string {
	parts := make([]string, len(cycle))
	for i, rt := range cycle {
		parts[i] = string(rt)
	}
	return strings.Join(parts, " -> ")
}

// registrationRank maps every catalog type to its registration index.
func registrationRank() map[catalog.ResourceType]int {
	rank := make(map[catalog.ResourceType]int)
	for i, rt := range catalog.Types() {
		rank[rt] = i
	}
	return rank
}

func sortByRank(types []catalog.ResourceType, rank map[catalog.ResourceType]int) {
	sort.Slice(types, func(i, j int) bool {
		return rank[types[i]] < rank[types[j]]
	})
}

// DOT renders the ordering as a Graphviz digraph for plan inspection.
func (t *TypeOrdering) DOT() string {
	var b strings.Builder
	b.WriteString("digraph creation_order {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box];\n")

	emit := func(types []catalog.ResourceType, pass int) {
		for _, rt := range types {
			fmt.Fprintf(&b, "  %q [label=%q, group=%d];\n", rt, rt, pass)
			desc, err := catalog.Lookup(rt)
			if err != nil {
				continue
			}
			for _, dep := range desc.DependsOn {
				fmt.Fprintf(&b, "  %q -> %q;\n", dep, rt)
			}
		}
	}
	emit(t.Pass1, 1)
	emit(t.Pass2, 2)

	b.WriteString("}\n")
	return b.String()
}
