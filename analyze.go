package pta

import (
	"errors"
	"fmt"

	"github.com/BarrensZeppelin/pta/internal/queue"
	"github.com/BarrensZeppelin/pta/ir"
	log "github.com/sirupsen/logrus"
)

var (
	ErrNoEntry       = errors.New("no entry method")
	ErrAbstractEntry = errors.New("entry method is abstract")
)

// Order is the discipline used to drain the worklist. The fixed point does
// not depend on it.
type Order = queue.Discipline

const (
	FIFO = queue.FIFO
	LIFO = queue.LIFO
)

type AnalysisConfig struct {
	Program *ir.Program

	// Entry is the method analyzed under the empty context. Defaults to the
	// entry of Program.
	Entry *ir.Method

	// Selector is the context-sensitivity policy. Defaults to Insensitive().
	Selector ContextSelector

	// Heap is the heap abstraction. Defaults to NewAllocationSiteHeap().
	Heap HeapModel

	Plugins []Plugin

	Order Order

	// Logger defaults to logrus.StandardLogger().
	Logger *log.Logger
}

// Stats summarizes a run of the solver.
type Stats struct {
	// Number of worklist entries drained.
	Entries int
	// Number of reachable contextual methods.
	Methods   int
	CallEdges int
	Pointers  int
	PFGEdges  int
	// Number of abstract objects created by the heap model.
	Objects int
}

type entry struct {
	pointer Pointer
	pts     *PointsToSet
}

type solver struct {
	program   *ir.Program
	entry     *ir.Method
	hierarchy *ir.Hierarchy
	selector  ContextSelector
	heap      HeapModel
	plugins   []Plugin

	cg       *CallGraph
	pfg      *PointerFlowGraph
	worklist queue.Queue[entry]

	log     *log.Entry
	drained int
}

// Analyze computes a context-sensitive points-to relation and call graph for
// the program, starting from its entry method.
func Analyze(config AnalysisConfig) (*Result, error) {
	s, err := newSolver(config)
	if err != nil {
		return nil, err
	}

	if err := s.initialize(); err != nil {
		return nil, err
	}

	s.analyze()

	res := s.result()
	for _, p := range s.plugins {
		p.OnFinish(res)
	}

	s.log.WithFields(log.Fields{
		"entries":  res.stats.Entries,
		"methods":  res.stats.Methods,
		"edges":    res.stats.CallEdges,
		"pointers": res.stats.Pointers,
	}).Info("points-to analysis converged")

	return res, nil
}

func newSolver(config AnalysisConfig) (*solver, error) {
	entry := config.Entry
	if entry == nil && config.Program != nil {
		entry = config.Program.Entry()
	}

	switch {
	case config.Program == nil || entry == nil:
		return nil, ErrNoEntry
	case entry.Abstract:
		return nil, fmt.Errorf("%w: %s", ErrAbstractEntry, entry)
	}

	s := &solver{
		program:   config.Program,
		entry:     entry,
		hierarchy: config.Program.Hierarchy(),
		selector:  config.Selector,
		heap:      config.Heap,
		plugins:   config.Plugins,
		cg:        NewCallGraph(),
		pfg:       NewPointerFlowGraph(),
	}
	s.worklist.Discipline = config.Order

	if s.selector == nil {
		s.selector = Insensitive()
	}
	if s.heap == nil {
		s.heap = NewAllocationSiteHeap()
	}

	logger := config.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	s.log = logger.WithFields(log.Fields{
		"selector": selectorName(s.selector),
		"order":    config.Order,
	})

	return s, nil
}

func selectorName(sel ContextSelector) string {
	if str, ok := sel.(fmt.Stringer); ok {
		return str.String()
	}
	return fmt.Sprintf("%T", sel)
}

func (s *solver) initialize() error {
	for _, p := range s.plugins {
		if err := p.OnStart(s); err != nil {
			return fmt.Errorf("starting plugin %T: %w", p, err)
		}
	}

	main := CSMethod{Ctx: s.selector.EmptyContext(), Method: s.entry}
	s.cg.AddEntry(main)
	s.addReachable(main)
	return nil
}

// addReachable processes the statements of a new reachable method. Only
// statements whose effect does not depend on points-to information are
// handled here; the rest are handled when receiver objects flow in.
func (s *solver) addReachable(m CSMethod) {
	if !s.cg.AddReachable(m) {
		return
	}

	s.log.Debugf("reachable %s", m)
	for _, p := range s.plugins {
		p.OnNewMethod(m)
	}

	ctx := m.Ctx
	for _, stmt := range m.Method.Stmts() {
		switch stmt := stmt.(type) {
		case *ir.New:
			obj := s.heap.Obj(stmt)
			hctx := s.selector.SelectHeapContext(m, obj)
			s.AddPointsTo(NewCSVar(ctx, stmt.LHS), CSObj{Ctx: hctx, Obj: obj})

		case *ir.Copy:
			s.AddPFGEdge(NewCSVar(ctx, stmt.RHS), NewCSVar(ctx, stmt.LHS))

		case *ir.LoadField:
			if stmt.IsStatic() {
				s.AddPFGEdge(NewStaticField(stmt.Field), NewCSVar(ctx, stmt.LHS))
			}

		case *ir.StoreField:
			if stmt.IsStatic() {
				s.AddPFGEdge(NewCSVar(ctx, stmt.RHS), NewStaticField(stmt.Field))
			}

		case *ir.Invoke:
			if stmt.IsStatic() {
				s.processStaticCall(ctx, stmt)
			}

		case *ir.LoadArray, *ir.StoreArray, *ir.Return:

		default:
			log.Panicf("Unhandled statement: %T %v", stmt, stmt)
		}
	}
}

// analyze drains the worklist until the fixed point is reached.
func (s *solver) analyze() {
	for !s.worklist.Empty() {
		e := s.worklist.Pop()
		s.drained++

		delta := s.propagate(e.pointer, e.pts)
		v, isVar := e.pointer.(CSVar)
		if !isVar || delta.IsEmpty() {
			continue
		}

		for _, p := range s.plugins {
			p.OnNewPointsTo(v, delta.Copy())
		}

		ctx := v.Ctx
		delta.Iterate(func(o CSObj) {
			for _, load := range v.Var.LoadFields() {
				s.AddPFGEdge(NewInstanceField(o, load.Field), NewCSVar(ctx, load.LHS))
			}
			for _, store := range v.Var.StoreFields() {
				s.AddPFGEdge(NewCSVar(ctx, store.RHS), NewInstanceField(o, store.Field))
			}
			for _, load := range v.Var.LoadArrays() {
				s.AddPFGEdge(NewArrayIndex(o), NewCSVar(ctx, load.LHS))
			}
			for _, store := range v.Var.StoreArrays() {
				s.AddPFGEdge(NewCSVar(ctx, store.RHS), NewArrayIndex(o))
			}

			s.processCall(v, o)
		})
	}
}

// propagate merges pts into the points-to set of p and forwards the objects
// that were actually new to the successors of p. The new objects are returned.
func (s *solver) propagate(p Pointer, pts *PointsToSet) *PointsToSet {
	set := s.pfg.PointsTo(p)
	delta := &PointsToSet{}
	pts.Iterate(func(o CSObj) {
		if set.Add(o) {
			delta.Add(o)
		}
	})

	if !delta.IsEmpty() {
		for _, succ := range s.pfg.SuccessorsOf(p) {
			s.worklist.Push(entry{succ, delta})
		}
	}

	return delta
}

// processCall handles the instance calls on recv after recvObj has flowed
// into its points-to set.
func (s *solver) processCall(recv CSVar, recvObj CSObj) {
	for _, invoke := range recv.Var.Invokes() {
		callee := s.resolveCallee(recvObj, invoke)
		if callee == nil {
			s.log.WithField("site", invoke.Site()).Debugf("no callee for %s", recvObj.Obj.Type())
			continue
		}

		site := CSCallSite{Ctx: recv.Ctx, Invoke: invoke}
		calleeCtx := s.selector.SelectContext(site, recvObj, callee)
		if this := callee.This(); this != nil {
			s.AddPointsTo(NewCSVar(calleeCtx, this), recvObj)
		}

		s.processCallEdge(site, CSMethod{Ctx: calleeCtx, Method: callee}, &recv)
	}
}

func (s *solver) processStaticCall(ctx Context, invoke *ir.Invoke) {
	callee := s.resolveCallee(CSObj{}, invoke)
	if callee == nil {
		s.log.WithField("site", invoke.Site()).Debug("unresolved static call")
		return
	}

	site := CSCallSite{Ctx: ctx, Invoke: invoke}
	calleeCtx := s.selector.SelectStaticContext(site, callee)
	s.processCallEdge(site, CSMethod{Ctx: calleeCtx, Method: callee}, nil)
}

// processCallEdge makes callee reachable and, if the call edge is new, binds
// arguments to parameters and return variables to the call result.
func (s *solver) processCallEdge(site CSCallSite, callee CSMethod, base *CSVar) {
	s.addReachable(callee)

	invoke := site.Invoke
	if !s.cg.AddEdge(Edge{Kind: invoke.Kind(), Site: site, Callee: callee}) {
		return
	}

	params := callee.Method.Params()
	if len(params) != len(invoke.Args) {
		log.Panicf("%s: %d arguments passed to %s with %d parameters",
			invoke.Site(), len(invoke.Args), callee.Method, len(params))
	}

	for i, param := range params {
		s.AddPFGEdge(NewCSVar(site.Ctx, invoke.Args[i]), NewCSVar(callee.Ctx, param))
	}

	if invoke.Result != nil {
		result := NewCSVar(site.Ctx, invoke.Result)
		for _, ret := range callee.Method.ReturnVars() {
			s.AddPFGEdge(NewCSVar(callee.Ctx, ret), result)
		}
	}

	for _, p := range s.plugins {
		p.OnCallSite(site, callee.Method, base)
	}
}

// resolveCallee finds the target of invoke. recv is ignored for static and
// special calls. A nil result means that dispatch failed, which is not an
// error: the call simply contributes no edge.
func (s *solver) resolveCallee(recv CSObj, invoke *ir.Invoke) *ir.Method {
	switch invoke.Kind() {
	case ir.Static, ir.Special:
		return s.hierarchy.ResolveRef(invoke.Ref)
	default:
		return s.hierarchy.Dispatch(recv.Obj.Type(), invoke.Ref.Subsig)
	}
}

func (s *solver) Program() *ir.Program { return s.program }

func (s *solver) Heap() HeapModel { return s.heap }

func (s *solver) EmptyContext() Context { return s.selector.EmptyContext() }

func (s *solver) Logger() *log.Entry { return s.log }

func (s *solver) AddPFGEdge(source, target Pointer) {
	if !s.pfg.AddEdge(source, target) {
		return
	}

	if pts := s.pfg.PointsTo(source); !pts.IsEmpty() {
		s.worklist.Push(entry{target, pts.Copy()})
	}
}

func (s *solver) AddPointsTo(p Pointer, objs ...CSObj) {
	if len(objs) != 0 {
		s.worklist.Push(entry{p, NewPointsToSet(objs...)})
	}
}

func (s *solver) PointsTo(p Pointer) []CSObj {
	if pts, found := s.pfg.Lookup(p); found {
		return pts.Objects()
	}
	return nil
}

func (s *solver) result() *Result {
	return &Result{
		program: s.program,
		cg:      s.cg,
		pfg:     s.pfg,
		heap:    s.heap,
		stats: Stats{
			Entries:   s.drained,
			Methods:   len(s.cg.Methods()),
			CallEdges: s.cg.NumEdges(),
			Pointers:  s.pfg.NumPointers(),
			PFGEdges:  s.pfg.NumEdges(),
			Objects:   len(s.heap.Objects()),
		},
		results: make(map[string]any),
	}
}
