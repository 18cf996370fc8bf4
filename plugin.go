package pta

import (
	"github.com/BarrensZeppelin/pta/ir"
	log "github.com/sirupsen/logrus"
)

// Plugin extends the solver at well-defined points of the analysis. Plugins
// only interact with the solver through the Solver handle given to OnStart
// and the hook parameters.
type Plugin interface {
	// OnStart is called before the entry method becomes reachable. A non-nil
	// error aborts the analysis before any solving happens.
	OnStart(s Solver) error
	// OnNewMethod is called once for every new reachable contextual method.
	OnNewMethod(m CSMethod)
	// OnNewPointsTo is called when the points-to set of a variable grows,
	// with the objects that were added. Each plugin gets its own copy of
	// delta.
	OnNewPointsTo(v CSVar, delta *PointsToSet)
	// OnCallSite is called for every new call edge from site to callee. base
	// is the receiver variable, or nil for static calls.
	OnCallSite(site CSCallSite, callee *ir.Method, base *CSVar)
	// OnFinish is called after the fixed point has been reached.
	OnFinish(r *Result)
}

// Solver is the view of a running analysis offered to plugins.
type Solver interface {
	Program() *ir.Program
	Heap() HeapModel
	EmptyContext() Context
	// AddPFGEdge adds the edge source → target to the pointer flow graph.
	AddPFGEdge(source, target Pointer)
	// AddPointsTo schedules objs to be added to the points-to set of p.
	AddPointsTo(p Pointer, objs ...CSObj)
	// PointsTo returns a snapshot of the current points-to set of p.
	PointsTo(p Pointer) []CSObj
	// Logger is the logger of the analysis.
	Logger() *log.Entry
}

// NopPlugin implements every hook as a no-op. Embed it to implement only the
// hooks of interest.
type NopPlugin struct{}

func (NopPlugin) OnStart(Solver) error                      { return nil }
func (NopPlugin) OnNewMethod(CSMethod)                      {}
func (NopPlugin) OnNewPointsTo(CSVar, *PointsToSet)         {}
func (NopPlugin) OnCallSite(CSCallSite, *ir.Method, *CSVar) {}
func (NopPlugin) OnFinish(*Result)                          {}
