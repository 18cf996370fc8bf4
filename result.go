package pta

import (
	"github.com/BarrensZeppelin/pta/ir"
)

// Result is the outcome of a converged analysis.
type Result struct {
	program *ir.Program
	cg      *CallGraph
	pfg     *PointerFlowGraph
	heap    HeapModel
	stats   Stats

	// Contextual variables of every ir variable, computed on demand.
	varPointers map[*ir.Var][]CSVar

	results map[string]any
}

func (r *Result) Program() *ir.Program { return r.program }

func (r *Result) CallGraph() *CallGraph { return r.cg }

func (r *Result) PointerFlowGraph() *PointerFlowGraph { return r.pfg }

func (r *Result) Heap() HeapModel { return r.heap }

func (r *Result) Stats() Stats { return r.stats }

// PointsTo returns the final points-to set of p. Pointers that were never
// reached by the analysis point to nothing.
func (r *Result) PointsTo(p Pointer) []CSObj {
	if pts, found := r.pfg.Lookup(p); found {
		return pts.Objects()
	}
	return nil
}

// VarPointsTo returns the points-to set of v analyzed under ctx.
func (r *Result) VarPointsTo(ctx Context, v *ir.Var) []CSObj {
	return r.PointsTo(CSVar{Ctx: ctx, Var: v})
}

// CSVarsOf returns every contextual version of v that the analysis created.
func (r *Result) CSVarsOf(v *ir.Var) []CSVar {
	if r.varPointers == nil {
		r.varPointers = make(map[*ir.Var][]CSVar)
		for _, p := range r.pfg.Pointers() {
			if cv, ok := p.(CSVar); ok {
				r.varPointers[cv.Var] = append(r.varPointers[cv.Var], cv)
			}
		}
	}
	return r.varPointers[v]
}

// ProjectedPointsTo returns the objects v may point to in any context, with
// heap contexts erased.
func (r *Result) ProjectedPointsTo(v *ir.Var) []*Obj {
	var res []*Obj
	seen := make(map[*Obj]bool)
	for _, cv := range r.CSVarsOf(v) {
		for _, o := range r.PointsTo(cv) {
			if !seen[o.Obj] {
				seen[o.Obj] = true
				res = append(res, o.Obj)
			}
		}
	}
	return res
}

// MayAlias reports whether a and b may point to a common abstract object in
// some contexts.
func (r *Result) MayAlias(a, b *ir.Var) bool {
	objs := make(map[*Obj]bool)
	for _, o := range r.ProjectedPointsTo(a) {
		objs[o] = true
	}

	for _, o := range r.ProjectedPointsTo(b) {
		if objs[o] {
			return true
		}
	}
	return false
}

// ReachableMethods returns the reachable methods with contexts erased, in
// discovery order.
func (r *Result) ReachableMethods() []*ir.Method {
	var res []*ir.Method
	seen := make(map[*ir.Method]bool)
	for _, m := range r.cg.Methods() {
		if !seen[m.Method] {
			seen[m.Method] = true
			res = append(res, m.Method)
		}
	}
	return res
}

// StoreResult records the output of a plugin under key.
func (r *Result) StoreResult(key string, v any) {
	r.results[key] = v
}

// GetResult returns the output stored under key, or nil.
func (r *Result) GetResult(key string) any {
	return r.results[key]
}
