// Package cha computes call graphs by class hierarchy analysis. The result
// does not depend on points-to information and over-approximates the call
// graph of the points-to analysis, which makes it a useful baseline.
package cha

import (
	"github.com/BarrensZeppelin/pta/internal/queue"
	"github.com/BarrensZeppelin/pta/ir"
)

// Graph is a context-insensitive call graph.
type Graph struct {
	Entry *ir.Method

	reachable map[*ir.Method]bool
	methods   []*ir.Method
	callees   map[*ir.Invoke][]*ir.Method
	numEdges  int
}

// Reachable reports whether m is reachable from the entry.
func (g *Graph) Reachable(m *ir.Method) bool { return g.reachable[m] }

// Methods returns the reachable methods in discovery order.
func (g *Graph) Methods() []*ir.Method { return g.methods }

// Callees returns the resolved targets of site.
func (g *Graph) Callees(site *ir.Invoke) []*ir.Method { return g.callees[site] }

func (g *Graph) NumEdges() int { return g.numEdges }

// Build computes the CHA call graph of everything reachable from entry.
func Build(h *ir.Hierarchy, entry *ir.Method) *Graph {
	g := &Graph{
		Entry:     entry,
		reachable: map[*ir.Method]bool{entry: true},
		methods:   []*ir.Method{entry},
		callees:   make(map[*ir.Invoke][]*ir.Method),
	}

	var q queue.Queue[*ir.Method]
	q.Push(entry)
	for !q.Empty() {
		m := q.Pop()
		for _, site := range m.Invokes() {
			targets := Resolve(h, site)
			g.callees[site] = targets
			g.numEdges += len(targets)

			for _, t := range targets {
				if !g.reachable[t] {
					g.reachable[t] = true
					g.methods = append(g.methods, t)
					q.Push(t)
				}
			}
		}
	}

	return g
}

// Resolve returns the possible targets of a call site by CHA. Static and
// special calls have at most one target. Virtual and interface calls dispatch
// on the referenced class and every transitive subtype of it.
func Resolve(h *ir.Hierarchy, site *ir.Invoke) []*ir.Method {
	switch site.Kind() {
	case ir.Static, ir.Special:
		if m := h.ResolveRef(site.Ref); m != nil {
			return []*ir.Method{m}
		}
		return nil
	}

	var res []*ir.Method
	seen := make(map[*ir.Method]bool)
	for _, c := range h.SubtypesOf(site.Ref.Class) {
		if m := h.Dispatch(c, site.Ref.Subsig); m != nil && !seen[m] {
			seen[m] = true
			res = append(res, m)
		}
	}
	return res
}
