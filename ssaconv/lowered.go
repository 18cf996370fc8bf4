package ssaconv

import (
	"go/types"

	"github.com/BarrensZeppelin/pta"
	"github.com/BarrensZeppelin/pta/ir"
	"golang.org/x/tools/go/callgraph"
	"golang.org/x/tools/go/ssa"
)

// Lowered is the result of lowering a Go program. Besides the program it
// records how its methods, variables, allocation sites and call sites
// correspond to the SSA form they were created from.
type Lowered struct {
	Program *ir.Program
	// Root is the synthetic entry method calling the init and main functions.
	Root *ir.Method

	ssa     *ssa.Program
	funcs   map[*ssa.Function]*ir.Method
	methods map[*ir.Method]*ssa.Function
	values  map[ssa.Value]*ir.Var
	vars    map[*ir.Var]ssa.Value
	news    map[*ir.New]ssa.Value
	sites   map[*ir.Invoke]ssa.CallInstruction
	bridges map[*ir.Method]*ssa.Function
}

func newLowered(sprog *ssa.Program, prog *ir.Program) *Lowered {
	return &Lowered{
		Program: prog,
		ssa:     sprog,
		funcs:   make(map[*ssa.Function]*ir.Method),
		methods: make(map[*ir.Method]*ssa.Function),
		values:  make(map[ssa.Value]*ir.Var),
		vars:    make(map[*ir.Var]ssa.Value),
		news:    make(map[*ir.New]ssa.Value),
		sites:   make(map[*ir.Invoke]ssa.CallInstruction),
		bridges: make(map[*ir.Method]*ssa.Function),
	}
}

func (l *Lowered) addFunc(fn *ssa.Function, m *ir.Method) {
	l.funcs[fn] = m
	l.methods[m] = fn
}

func (l *Lowered) addVar(v ssa.Value, x *ir.Var) {
	l.values[v] = x
	l.vars[x] = v
}

func (l *Lowered) addNew(s *ir.New, v ssa.Value) {
	l.news[s] = v
}

// Method returns the method lowering fn, or nil if fn is unreachable from
// the entry points.
func (l *Lowered) Method(fn *ssa.Function) *ir.Method { return l.funcs[fn] }

// Func returns the function lowered into m. For bridges it returns the
// function they forward to.
func (l *Lowered) Func(m *ir.Method) *ssa.Function {
	if fn, found := l.methods[m]; found {
		return fn
	}
	return l.bridges[m]
}

// IsBridge reports whether m is a synthetic method forwarding an interface
// or dynamic call to a Go function.
func (l *Lowered) IsBridge(m *ir.Method) bool {
	_, found := l.bridges[m]
	return found
}

// Var returns the variable holding v, or nil if v cannot carry pointers or
// was never used.
func (l *Lowered) Var(v ssa.Value) *ir.Var { return l.values[v] }

func (l *Lowered) Value(v *ir.Var) ssa.Value { return l.vars[v] }

// Site returns the call instruction lowered into inv, or nil for synthetic
// call sites.
func (l *Lowered) Site(inv *ir.Invoke) ssa.CallInstruction { return l.sites[inv] }

// Allocation returns the SSA value allocated by the abstract object o.
// Objects of synthetic allocations, and mock objects, have none.
func (l *Lowered) Allocation(o *pta.Obj) ssa.Value {
	if alloc := o.Alloc(); alloc != nil {
		return l.news[alloc]
	}
	return nil
}

// PointsTo returns the allocations that v may point to, ignoring contexts.
func (l *Lowered) PointsTo(res *pta.Result, v ssa.Value) []ssa.Value {
	x := l.Var(v)
	if x == nil {
		return nil
	}

	var allocs []ssa.Value
	seen := make(map[ssa.Value]bool)
	for _, o := range res.ProjectedPointsTo(x) {
		if a := l.Allocation(o); a != nil && !seen[a] {
			seen[a] = true
			allocs = append(allocs, a)
		}
	}
	return allocs
}

// CallGraph projects the call graph discovered by res onto the SSA
// functions. Calls that go through bridges become edges to the functions
// the bridges forward to. The root node stands for the synthetic entry.
func (l *Lowered) CallGraph(res *pta.Result) *callgraph.Graph {
	root := l.ssa.NewFunction("<root>", new(types.Signature), "root of callgraph")
	cg := callgraph.New(root)

	type edge struct {
		site   ssa.CallInstruction
		callee *ssa.Function
	}
	seen := make(map[edge]bool)

	pcg := res.CallGraph()
	for _, m := range pcg.Methods() {
		if l.IsBridge(m.Method) {
			continue
		}

		var caller *callgraph.Node
		if m.Method == l.Root {
			caller = cg.Root
		} else if fn := l.methods[m.Method]; fn != nil {
			caller = cg.CreateNode(fn)
		} else {
			continue
		}

		for _, site := range pcg.CallSitesIn(m) {
			instr := l.sites[site.Invoke]
			for _, e := range pcg.EdgesOutOf(site) {
				callee := l.Func(e.Callee.Method)
				if callee == nil || seen[edge{instr, callee}] {
					continue
				}
				seen[edge{instr, callee}] = true
				callgraph.AddEdge(caller, instr, cg.CreateNode(callee))
			}
		}
	}
	return cg
}
