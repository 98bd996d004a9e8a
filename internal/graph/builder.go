// Package graph models tables and foreign keys as a dependency graph and
// derives the order in which rows can be deleted without violating a
// constraint.
package graph

import (
	"slices"
	"strings"
)

// Graph is the result of Build.
type Graph struct {
	// ToDelete lists the acyclic tables, children before parents.
	ToDelete []Table
	// CyclicalTables are the tables that take part in a foreign-key cycle.
	// They never appear in ToDelete.
	CyclicalTables []Table
	// CyclicalTableRelationships are the relationships touching a cyclical
	// table, matched by table name.
	CyclicalTableRelationships []Relationship
	// SelfReferencingRelationships are relationships whose parent and child are
	// the same table. They add no edge to the graph.
	SelfReferencingRelationships []Relationship
}

// HasCycles reports whether any table had to be isolated.
func (g *Graph) HasCycles() bool {
	return len(g.CyclicalTables) > 0
}

// AllTables returns ToDelete followed by CyclicalTables.
func (g *Graph) AllTables() []Table {
	out := make([]Table, 0, len(g.ToDelete)+len(g.CyclicalTables))
	out = append(out, g.ToDelete...)
	return append(out, g.CyclicalTables...)
}

// Build links tables through relationships, isolates every table that sits on
// a cycle and orders the rest so that each table comes after all the tables
// referencing it.
//
// Build never fails. Relationships with unknown endpoints are dropped and a
// fully cyclic graph simply yields an empty ToDelete.
func Build(tables []Table, relationships []Relationship) *Graph {
	b := newBuilder(tables, relationships)
	b.link()
	cyclic := b.findCycles()

	g := &Graph{
		ToDelete:                     b.order(cyclic),
		SelfReferencingRelationships: b.selfRefs,
	}
	for i, isCyclic := range cyclic {
		if isCyclic {
			g.CyclicalTables = append(g.CyclicalTables, b.tables[i])
		}
	}
	g.CyclicalTableRelationships = b.cyclicRelationships(g.CyclicalTables)
	return g
}

// builder stores tables in an arena and edges as adjacency lists of arena
// indexes. edges[p] holds the tables referencing tables[p].
type builder struct {
	tables   []Table
	index    map[string]int
	rels     []Relationship
	edges    [][]int
	selfRefs []Relationship
}

func newBuilder(tables []Table, relationships []Relationship) *builder {
	b := &builder{index: make(map[string]int, len(tables))}

	sorted := slices.Clone(tables)
	slices.SortStableFunc(sorted, Compare)
	for _, t := range sorted {
		if _, ok := b.index[t.Key()]; ok {
			continue
		}
		b.index[t.Key()] = len(b.tables)
		b.tables = append(b.tables, t)
	}

	seen := make(map[string]struct{}, len(relationships))
	for _, r := range relationships {
		if _, ok := seen[r.Name]; ok {
			continue
		}
		seen[r.Name] = struct{}{}
		b.rels = append(b.rels, r)
	}
	slices.SortStableFunc(b.rels, func(x, y Relationship) int {
		return strings.Compare(x.Name, y.Name)
	})

	b.edges = make([][]int, len(b.tables))
	return b
}

func (b *builder) link() {
	type edge struct{ from, to int }
	seen := make(map[edge]struct{}, len(b.rels))
	for _, r := range b.rels {
		parent, ok := b.index[r.Parent.Key()]
		if !ok {
			continue
		}
		child, ok := b.index[r.Child.Key()]
		if !ok {
			continue
		}
		if parent == child {
			b.selfRefs = append(b.selfRefs, r)
			continue
		}
		e := edge{parent, child}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		b.edges[parent] = append(b.edges[parent], child)
	}
	for i := range b.edges {
		slices.Sort(b.edges[i])
	}
}

// frame is one entry of an explicit DFS path stack: the node and the position
// of the next edge to follow.
type frame struct {
	node int
	next int
}

const unvisited = -1

// findCycles marks every table that belongs to a strongly connected component
// of two or more tables. The walk is iterative so that very deep schemas do not
// grow the goroutine stack.
func (b *builder) findCycles() []bool {
	n := len(b.tables)
	order := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	cyclic := make([]bool, n)
	for i := range order {
		order[i] = unvisited
	}

	var (
		counter int
		stack   []int
		path    []frame
	)
	enter := func(v int) {
		order[v], low[v] = counter, counter
		counter++
		stack = append(stack, v)
		onStack[v] = true
		path = append(path, frame{node: v})
	}

	for root := 0; root < n; root++ {
		if order[root] != unvisited {
			continue
		}
		enter(root)
		for len(path) > 0 {
			top := &path[len(path)-1]
			v := top.node
			if top.next < len(b.edges[v]) {
				w := b.edges[v][top.next]
				top.next++
				switch {
				case order[w] == unvisited:
					enter(w)
				case onStack[w]:
					low[v] = min(low[v], order[w])
				}
				continue
			}

			path = path[:len(path)-1]
			if len(path) > 0 {
				parent := path[len(path)-1].node
				low[parent] = min(low[parent], low[v])
			}
			if low[v] != order[v] {
				continue
			}

			// v is the root of a component: unwind the stack down to it.
			start := len(stack) - 1
			for stack[start] != v {
				start--
			}
			members := stack[start:]
			for _, w := range members {
				onStack[w] = false
				if len(members) > 1 {
					cyclic[w] = true
				}
			}
			stack = stack[:start]
		}
	}
	return cyclic
}

// order emits the acyclic tables in post-order: a table is appended only after
// every table referencing it. Edges into cyclic tables are skipped.
func (b *builder) order(cyclic []bool) []Table {
	n := len(b.tables)
	entered := make([]bool, n)
	out := make([]Table, 0, n)

	var path []frame
	for root := 0; root < n; root++ {
		if cyclic[root] || entered[root] {
			continue
		}
		entered[root] = true
		path = append(path, frame{node: root})
		for len(path) > 0 {
			top := &path[len(path)-1]
			if top.next < len(b.edges[top.node]) {
				w := b.edges[top.node][top.next]
				top.next++
				if cyclic[w] || entered[w] {
					continue
				}
				entered[w] = true
				path = append(path, frame{node: w})
				continue
			}
			out = append(out, b.tables[top.node])
			path = path[:len(path)-1]
		}
	}
	return out
}

// cyclicRelationships selects the relationships with an endpoint whose table
// name matches a cyclical table. Schemas are not compared.
func (b *builder) cyclicRelationships(cyclic []Table) []Relationship {
	if len(cyclic) == 0 {
		return nil
	}
	names := make(map[string]struct{}, len(cyclic))
	for _, t := range cyclic {
		names[strings.ToLower(t.Name)] = struct{}{}
	}
	var out []Relationship
	for _, r := range b.rels {
		_, parent := names[strings.ToLower(r.Parent.Name)]
		_, child := names[strings.ToLower(r.Child.Name)]
		if parent || child {
			out = append(out, r)
		}
	}
	return out
}
