package pta

import (
	"fmt"

	"github.com/BarrensZeppelin/pta/ir"
	"github.com/yourbasic/graph"
	"golang.org/x/exp/slices"
)

// CSMethod is a method analyzed under a context.
type CSMethod struct {
	Ctx    Context
	Method *ir.Method
}

func (m CSMethod) String() string { return fmt.Sprintf("%s:%s", m.Ctx, m.Method) }

// CSCallSite is a call site in a method analyzed under Ctx.
type CSCallSite struct {
	Ctx    Context
	Invoke *ir.Invoke
}

func (s CSCallSite) String() string { return fmt.Sprintf("%s:%s", s.Ctx, s.Invoke.Site()) }

// Edge is a call edge labeled with the dispatch kind of the call site.
type Edge struct {
	Kind   ir.CallKind
	Site   CSCallSite
	Callee CSMethod
}

func (e Edge) String() string {
	return fmt.Sprintf("[%s] %s -> %s", e.Kind, e.Site, e.Callee)
}

// CallGraph is the context-sensitive call graph discovered by the analysis.
// It only grows: methods and edges are never removed.
type CallGraph struct {
	entries   []CSMethod
	reachable map[CSMethod]int
	methods   []CSMethod
	edges     map[Edge]struct{}
	numEdges  int
	out       map[CSCallSite][]Edge
	in        map[CSMethod][]Edge
	sites     map[CSMethod][]CSCallSite
}

func NewCallGraph() *CallGraph {
	return &CallGraph{
		reachable: make(map[CSMethod]int),
		edges:     make(map[Edge]struct{}),
		out:       make(map[CSCallSite][]Edge),
		in:        make(map[CSMethod][]Edge),
		sites:     make(map[CSMethod][]CSCallSite),
	}
}

// AddEntry marks m as an entry method. It does not make it reachable.
func (cg *CallGraph) AddEntry(m CSMethod) {
	cg.entries = append(cg.entries, m)
}

func (cg *CallGraph) Entries() []CSMethod { return cg.entries }

// AddReachable adds m to the set of reachable methods and reports whether it
// was not already reachable.
func (cg *CallGraph) AddReachable(m CSMethod) bool {
	if _, found := cg.reachable[m]; found {
		return false
	}

	cg.reachable[m] = len(cg.methods)
	cg.methods = append(cg.methods, m)
	return true
}

func (cg *CallGraph) Contains(m CSMethod) bool {
	_, found := cg.reachable[m]
	return found
}

// Methods returns the reachable methods in the order they were discovered.
func (cg *CallGraph) Methods() []CSMethod { return cg.methods }

// AddEdge adds e and reports whether it is new.
func (cg *CallGraph) AddEdge(e Edge) bool {
	if _, found := cg.edges[e]; found {
		return false
	}

	cg.edges[e] = struct{}{}
	cg.numEdges++
	if len(cg.out[e.Site]) == 0 {
		caller := CSMethod{Ctx: e.Site.Ctx, Method: e.Site.Invoke.Method()}
		cg.sites[caller] = append(cg.sites[caller], e.Site)
	}
	cg.out[e.Site] = append(cg.out[e.Site], e)
	cg.in[e.Callee] = append(cg.in[e.Callee], e)
	return true
}

func (cg *CallGraph) NumEdges() int { return cg.numEdges }

// EdgesOutOf returns the edges leaving the call site.
func (cg *CallGraph) EdgesOutOf(site CSCallSite) []Edge { return cg.out[site] }

// EdgesInto returns the edges targeting m.
func (cg *CallGraph) EdgesInto(m CSMethod) []Edge { return cg.in[m] }

// CallSitesIn returns the call sites of m that have at least one callee.
func (cg *CallGraph) CallSitesIn(m CSMethod) []CSCallSite { return cg.sites[m] }

// CallersOf returns the distinct call sites calling m.
func (cg *CallGraph) CallersOf(m CSMethod) []CSCallSite {
	var res []CSCallSite
	seen := make(map[CSCallSite]bool)
	for _, e := range cg.in[m] {
		if !seen[e.Site] {
			seen[e.Site] = true
			res = append(res, e.Site)
		}
	}
	return res
}

// CalleesOf returns the methods called from site.
func (cg *CallGraph) CalleesOf(site CSCallSite) []CSMethod {
	edges := cg.out[site]
	res := make([]CSMethod, len(edges))
	for i, e := range edges {
		res[i] = e.Callee
	}
	return res
}

// Project erases contexts, mapping every reachable method to the set of
// methods it may call.
func (cg *CallGraph) Project() map[*ir.Method]map[*ir.Method]bool {
	res := make(map[*ir.Method]map[*ir.Method]bool)
	for _, m := range cg.methods {
		if res[m.Method] == nil {
			res[m.Method] = make(map[*ir.Method]bool)
		}
	}

	for e := range cg.edges {
		caller := e.Site.Invoke.Method()
		if res[caller] == nil {
			res[caller] = make(map[*ir.Method]bool)
		}
		res[caller][e.Callee.Method] = true
	}
	return res
}

// RecursiveComponents returns the strongly connected components of the
// context-sensitive call graph that contain a cycle, i.e. groups of mutually
// recursive contextual methods. Components are ordered as returned by
// graph.StrongComponents; methods within a component follow discovery order.
func (cg *CallGraph) RecursiveComponents() [][]CSMethod {
	g := graph.New(len(cg.methods))
	selfLoop := make([]bool, len(cg.methods))
	for from, m := range cg.methods {
		for _, site := range cg.sites[m] {
			for _, e := range cg.out[site] {
				to, found := cg.reachable[e.Callee]
				if !found {
					continue
				}

				g.Add(from, to)
				if from == to {
					selfLoop[from] = true
				}
			}
		}
	}

	var res [][]CSMethod
	for _, comp := range graph.StrongComponents(g) {
		if len(comp) == 1 && !selfLoop[comp[0]] {
			continue
		}

		slices.Sort(comp)
		ms := make([]CSMethod, len(comp))
		for i, v := range comp {
			ms[i] = cg.methods[v]
		}
		res = append(res, ms)
	}
	return res
}
