// Package vpoint implements the Virtual-Point Engine (§4.9): formula
// evaluation over a dependency DAG with cycle rejection, a TTL result
// cache, and an embedded script sandbox.
//
// The dependency graph is modelled as a node array with integer indices
// (arena + index) per §9's design note on circular structures, never raw
// cross-pointers between VirtualPoint values.
package vpoint

import (
	"fmt"

	"github.com/cuemby/telemetry-collector/internal/errs"
)

// nodeKind distinguishes a raw DataPoint leaf from a VirtualPoint node in
// the dependency arena.
type nodeKind int

const (
	kindDataPoint nodeKind = iota
	kindVirtual
)

// node is one arena entry. Virtual nodes reference their dependency inputs
// by arena index, not by pointer.
type node struct {
	kind nodeKind
	id   string
	deps []int // indices into the arena, valid only when kind == kindVirtual
}

// graph is the registered set of virtual points plus the data points they
// transitively reference, addressed purely by arena index.
type graph struct {
	nodes   []node
	indexOf map[string]int // id -> arena index
}

func newGraph() *graph {
	return &graph{indexOf: make(map[string]int)}
}

func (g *graph) indexFor(id string, kind nodeKind) int {
	if idx, ok := g.indexOf[id]; ok {
		return idx
	}
	idx := len(g.nodes)
	g.nodes = append(g.nodes, node{kind: kind, id: id})
	g.indexOf[id] = idx
	return idx
}

// addVirtual registers or replaces a virtual point's dependency edges and
// checks the whole graph remains acyclic. On a cycle the graph is left
// unchanged and errs.ErrDependencyCycle is returned, per invariant 3.
func (g *graph) addVirtual(vpID string, depIDs []string, depKinds []nodeKind) error {
	vIdx := g.indexFor(vpID, kindVirtual)

	deps := make([]int, 0, len(depIDs))
	for i, d := range depIDs {
		deps = append(deps, g.indexFor(d, depKinds[i]))
	}

	prevDeps := g.nodes[vIdx].deps
	g.nodes[vIdx].deps = deps

	if g.hasCycleFrom(vIdx) {
		g.nodes[vIdx].deps = prevDeps
		return fmt.Errorf("vpoint: registering %q: %w", vpID, errs.ErrDependencyCycle)
	}
	return nil
}

func (g *graph) hasCycleFrom(start int) bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, len(g.nodes))

	var visit func(i int) bool
	visit = func(i int) bool {
		color[i] = gray
		for _, d := range g.nodes[i].deps {
			if color[d] == gray {
				return true
			}
			if color[d] == white && visit(d) {
				return true
			}
		}
		color[i] = black
		return false
	}
	return visit(start)
}

// reverseTopological returns the subset of virtual-point arena indices
// reachable (transitively) from the given touched set, ordered so that a
// node's dependencies are evaluated before the node itself.
func (g *graph) reverseTopological(touchedVirtual map[int]bool) []int {
	visited := make(map[int]bool)
	var order []int

	var visit func(i int)
	visit = func(i int) {
		if visited[i] {
			return
		}
		visited[i] = true
		for _, d := range g.nodes[i].deps {
			if g.nodes[d].kind == kindVirtual {
				visit(d)
			}
		}
		order = append(order, i)
	}

	for idx := range touchedVirtual {
		visit(idx)
	}
	return order
}
