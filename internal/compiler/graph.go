package compiler

import (
	"sort"

	"github.com/roach88/deduce/internal/ir"
)

// Edge is a dependency of one derived relation on another.
type Edge struct {
	To string

	// Negative is set when the dependency goes through a negated atom.
	Negative bool

	// Aggregate is set when the depending relation's head aggregates.
	Aggregate bool
}

// Graph maps each derived relation to the derived relations its rules
// read. Stored relations are not nodes: they are fixed for the whole query.
type Graph map[string][]Edge

// buildGraph constructs the dependency graph of a program. Every head is a
// node, including heads with no derived dependencies. Edges are
// deduplicated and sorted so analysis is deterministic.
func buildGraph(rules []ir.Rule) Graph {
	graph := make(Graph)
	type key struct {
		from string
		edge Edge
	}
	seen := make(map[key]bool)

	for _, r := range rules {
		from := r.Head.Name
		if graph[from] == nil {
			graph[from] = []Edge{}
		}
		agg := r.Head.Aggregated()
		for _, a := range r.Body {
			var (
				name string
				neg  bool
			)
			switch x := a.(type) {
			case ir.RuleAtom:
				name = x.Name
			case ir.NegatedAtom:
				if ra, ok := x.Atom.(ir.RuleAtom); ok {
					name = ra.Name
					neg = true
				}
			}
			if name == "" {
				continue
			}
			e := Edge{To: name, Negative: neg, Aggregate: agg}
			if seen[key{from, e}] {
				continue
			}
			seen[key{from, e}] = true
			graph[from] = append(graph[from], e)
		}
	}

	for from := range graph {
		edges := graph[from]
		sort.Slice(edges, func(i, j int) bool {
			if edges[i].To != edges[j].To {
				return edges[i].To < edges[j].To
			}
			if edges[i].Negative != edges[j].Negative {
				return !edges[i].Negative
			}
			return !edges[i].Aggregate && edges[j].Aggregate
		})
	}
	return graph
}

// nodes returns every node in sorted order.
func (g Graph) nodes() []string {
	out := make([]string, 0, len(g))
	for n := range g {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// hasSelfLoop checks if a node has an edge to itself.
func (g Graph) hasSelfLoop(node string) bool {
	for _, e := range g[node] {
		if e.To == node {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
//
// Components come out in reverse topological order: every component is
// emitted after all components it depends on. Nodes are visited in sorted
// order so the output is deterministic.
func tarjanSCC(graph Graph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		// Set the depth index for v
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		// Consider successors of v
		for _, e := range graph[v] {
			w := e.To
			if _, visited := indices[w]; !visited {
				// Successor w has not yet been visited; recurse on it
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				// Successor w is on stack and hence in the current SCC
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// If v is a root node, pop the stack and create an SCC
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sort.Strings(scc)
			sccs = append(sccs, scc)
		}
	}

	for _, node := range graph.nodes() {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}

	return sccs
}

// reconstructCyclePath builds a cycle path through an SCC that starts and
// ends at from and passes through the edge from -> to.
func reconstructCyclePath(scc []string, graph Graph, from, to string) []string {
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}

	// Breadth-first search from to back to from inside the SCC
	prev := map[string]string{to: ""}
	queue := []string{to}
	for len(queue) > 0 && from != to {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range graph[cur] {
			if !members[e.To] {
				continue
			}
			if _, seen := prev[e.To]; seen {
				continue
			}
			prev[e.To] = cur
			if e.To == from {
				queue = nil
				break
			}
			queue = append(queue, e.To)
		}
	}

	path := []string{from}
	if from == to {
		return append(path, from)
	}
	var back []string
	for n := from; n != ""; n = prev[n] {
		back = append(back, n)
	}
	// back runs from -> ... -> to; reverse it to get to -> ... -> from
	for i := len(back) - 1; i >= 0; i-- {
		path = append(path, back[i])
	}
	return path
}

// stratify assigns every node a stratum number.
//
// A node's stratum is the maximum over its edges of the target's stratum,
// plus one when the edge is negative, when the node aggregates, or when the
// target aggregates. Members of one SCC share a stratum; an SCC with any
// such edge between its members has no valid stratification.
func stratify(graph Graph, aggregated map[string]bool) (map[string]int, error) {
	strata := make(map[string]int, len(graph))
	for _, scc := range tarjanSCC(graph) {
		members := make(map[string]bool, len(scc))
		for _, n := range scc {
			members[n] = true
		}

		level := 0
		for _, n := range scc {
			for _, e := range graph[n] {
				barrier := e.Negative || e.Aggregate || aggregated[e.To]
				if members[e.To] {
					if barrier && (len(scc) > 1 || graph.hasSelfLoop(n)) {
						return nil, cycleError(scc, graph, n, e)
					}
					continue
				}
				dep := strata[e.To]
				if barrier {
					dep++
				}
				level = max(level, dep)
			}
		}
		for _, n := range scc {
			strata[n] = level
		}
	}
	return strata, nil
}

func cycleError(scc []string, graph Graph, from string, e Edge) error {
	path := reconstructCyclePath(scc, graph, from, e.To)
	reason := "aggregation"
	if e.Negative {
		reason = "negation"
	}
	return ir.NewStratificationError("recursive dependency through "+reason, path).WithRelation(from)
}
