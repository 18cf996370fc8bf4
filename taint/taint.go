// Package taint implements a taint analysis as a plugin of the points-to
// analysis. Taint objects are ordinary abstract objects, so they are
// propagated by the solver like any other object; the plugin only seeds them
// at source calls, adds extra flow edges for transfer rules, and inspects sink
// arguments once the analysis has converged.
package taint

import (
	"fmt"

	"github.com/BarrensZeppelin/pta"
	"github.com/BarrensZeppelin/pta/ir"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// ResultKey is the key under which the flows are stored in the pta.Result.
const ResultKey = "taint.flows"

// Flow records that a value produced by the Source call may reach argument
// Index of the Sink call.
type Flow struct {
	Source *ir.Invoke
	Sink   *ir.Invoke
	Index  int
}

func (f Flow) String() string {
	return fmt.Sprintf("TaintFlow{%s -> %s/%d}", f.Source.Site(), f.Sink.Site(), f.Index)
}

func (f Flow) less(o Flow) bool {
	if c := compareSites(f.Source, o.Source); c != 0 {
		return c < 0
	}
	if c := compareSites(f.Sink, o.Sink); c != 0 {
		return c < 0
	}
	return f.Index < o.Index
}

// compareSites orders call sites by enclosing method, then by position.
func compareSites(a, b *ir.Invoke) int {
	if ma, mb := a.Method().String(), b.Method().String(); ma != mb {
		if ma < mb {
			return -1
		}
		return 1
	}
	return a.Index() - b.Index()
}

// taintDesc identifies a taint object: one per source call and taint type.
type taintDesc struct {
	source *ir.Invoke
	typ    ir.Type
}

func (d taintDesc) String() string {
	return fmt.Sprintf("Taint[%s]@%s", d.typ, d.source.Site())
}

// IsTaint reports whether o is a taint object.
func IsTaint(o *pta.Obj) bool {
	_, ok := o.Desc().(taintDesc)
	return ok
}

// SourceCall returns the source call that created the taint object o, or nil
// if o is not a taint object.
func SourceCall(o *pta.Obj) *ir.Invoke {
	if d, ok := o.Desc().(taintDesc); ok {
		return d.source
	}
	return nil
}

// Analysis is the taint plugin.
type Analysis struct {
	pta.NopPlugin

	sources   map[*ir.Method][]Source
	sinks     map[*ir.Method][]Sink
	transfers map[*ir.Method][]Transfer

	solver pta.Solver
	empty  pta.Context
	log    *log.Entry

	flows []Flow
}

var _ pta.Plugin = (*Analysis)(nil)

func New(rules *Rules) *Analysis {
	a := &Analysis{
		sources:   make(map[*ir.Method][]Source),
		sinks:     make(map[*ir.Method][]Sink),
		transfers: make(map[*ir.Method][]Transfer),
		log:       log.WithField("plugin", "taint"),
	}

	for _, s := range rules.Sources {
		a.sources[s.Method] = append(a.sources[s.Method], s)
	}
	for _, s := range rules.Sinks {
		a.sinks[s.Method] = append(a.sinks[s.Method], s)
	}
	for _, t := range rules.Transfers {
		a.transfers[t.Method] = append(a.transfers[t.Method], t)
	}
	return a
}

// OnStart checks that the rules were resolved against the analyzed program.
func (a *Analysis) OnStart(s pta.Solver) error {
	a.log = s.Logger().WithField("plugin", "taint")
	prog := s.Program()
	check := func(m *ir.Method) error {
		if m.Class.Program() != prog {
			return fmt.Errorf("%w: %s does not belong to the analyzed program", ErrConfig, m)
		}
		return nil
	}

	for m := range a.sources {
		if err := check(m); err != nil {
			return err
		}
	}
	for m := range a.sinks {
		if err := check(m); err != nil {
			return err
		}
	}
	for m := range a.transfers {
		if err := check(m); err != nil {
			return err
		}
	}

	a.solver = s
	a.empty = s.EmptyContext()
	a.flows = nil
	return nil
}

func (a *Analysis) OnCallSite(site pta.CSCallSite, callee *ir.Method, base *pta.CSVar) {
	invoke := site.Invoke

	if result := invoke.Result; result != nil {
		for _, src := range a.sources[callee] {
			obj := a.solver.Heap().MockObj(taintDesc{invoke, src.Type}, src.Type)
			a.solver.AddPointsTo(pta.NewCSVar(site.Ctx, result), pta.CSObj{Ctx: a.empty, Obj: obj})
		}
	}

	for _, t := range a.transfers[callee] {
		from := a.slotPointer(site, base, t.From)
		to := a.slotPointer(site, base, t.To)
		if from != nil && to != nil {
			a.solver.AddPFGEdge(from, to)
		}
	}
}

// slotPointer returns the contextual variable holding slot at site, or nil if
// the call site has no such variable.
func (a *Analysis) slotPointer(site pta.CSCallSite, base *pta.CSVar, slot Slot) pta.Pointer {
	switch {
	case slot == BaseSlot:
		if base == nil {
			return nil
		}
		return *base
	case slot == ResultSlot:
		if site.Invoke.Result == nil {
			return nil
		}
		return pta.NewCSVar(site.Ctx, site.Invoke.Result)
	case int(slot) < len(site.Invoke.Args):
		return pta.NewCSVar(site.Ctx, site.Invoke.Args[slot])
	default:
		return nil
	}
}

func (a *Analysis) OnFinish(r *pta.Result) {
	a.flows = a.collectFlows(r)
	r.StoreResult(ResultKey, a.flows)
	a.log.WithField("flows", len(a.flows)).Info("taint analysis finished")
}

func (a *Analysis) collectFlows(r *pta.Result) []Flow {
	seen := make(map[Flow]bool)
	var flows []Flow

	cg := r.CallGraph()
	for _, m := range cg.Methods() {
		for _, sink := range a.sinks[m.Method] {
			for _, site := range cg.CallersOf(m) {
				arg := site.Invoke.Args[sink.Index]
				for _, o := range r.VarPointsTo(site.Ctx, arg) {
					src := SourceCall(o.Obj)
					if src == nil {
						continue
					}

					f := Flow{Source: src, Sink: site.Invoke, Index: sink.Index}
					if !seen[f] {
						seen[f] = true
						flows = append(flows, f)
					}
				}
			}
		}
	}

	slices.SortFunc(flows, func(a, b Flow) bool { return a.less(b) })
	return flows
}

// Flows returns the taint flows found by the last run, sorted.
func (a *Analysis) Flows() []Flow { return a.flows }

// FlowsOf returns the taint flows stored in a result.
func FlowsOf(r *pta.Result) []Flow {
	flows, _ := r.GetResult(ResultKey).([]Flow)
	return flows
}
