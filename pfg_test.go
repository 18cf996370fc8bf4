package pta

import (
	"testing"

	"github.com/BarrensZeppelin/pta/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	prog   *ir.Program
	m      *ir.Method
	a, b   *ir.Var
	allocs []*ir.New
	heap   HeapModel
	empty  Context
}

func newFixture() *fixture {
	prog := ir.NewProgram()
	c := prog.NewClass("C", nil)
	m := c.NewMethod("m", true)
	a := m.NewVar("a", c)
	b := m.NewVar("b", c)
	return &fixture{
		prog:   prog,
		m:      m,
		a:      a,
		b:      b,
		allocs: []*ir.New{m.New(a, c), m.New(b, c)},
		heap:   NewAllocationSiteHeap(),
		empty:  newContextTrie(),
	}
}

func (f *fixture) obj(i int) CSObj {
	return CSObj{Ctx: f.empty, Obj: f.heap.Obj(f.allocs[i])}
}

func TestPointsToSet(t *testing.T) {
	f := newFixture()
	o1, o2 := f.obj(0), f.obj(1)

	var nilSet *PointsToSet
	assert.True(t, nilSet.IsEmpty())
	assert.Nil(t, nilSet.Objects())

	s := NewPointsToSet(o1)
	assert.False(t, s.Add(o1))
	assert.True(t, s.Add(o2))
	assert.Equal(t, []CSObj{o1, o2}, s.Objects())
	assert.True(t, s.Contains(o2))

	cp := s.Copy()
	cp.Add(CSObj{Ctx: f.empty.Append("x", 1), Obj: o1.Obj})
	assert.Equal(t, 2, s.Len(), "copies are independent")
	assert.Equal(t, 3, cp.Len())
}

func TestPointerFlowGraph(t *testing.T) {
	f := newFixture()
	g := NewPointerFlowGraph()
	pa, pb := NewCSVar(f.empty, f.a), NewCSVar(f.empty, f.b)

	_, found := g.Lookup(pa)
	assert.False(t, found)

	assert.True(t, g.AddEdge(pa, pb))
	assert.False(t, g.AddEdge(pa, pb), "edges are added once")
	assert.False(t, g.AddEdge(NewCSVar(f.empty, f.a), NewCSVar(f.empty, f.b)),
		"pointers are compared by value")
	assert.Equal(t, 1, g.NumEdges())
	assert.Equal(t, 2, g.NumPointers())
	assert.Equal(t, []Pointer{pb}, g.SuccessorsOf(pa))
	assert.Empty(t, g.SuccessorsOf(pb))

	g.PointsTo(pa).Add(f.obj(0))
	pts, found := g.Lookup(pa)
	require.True(t, found)
	assert.Equal(t, 1, pts.Len())

	// Distinct pointer kinds never collide.
	field := f.m.Class.NewField("f", f.m.Class)
	fp := NewInstanceField(f.obj(0), field)
	ap := NewArrayIndex(f.obj(0))
	assert.True(t, g.AddEdge(fp, ap))
	assert.True(t, g.AddEdge(ap, fp))
	assert.Equal(t, []Pointer{pa, pb, fp, ap}, g.Pointers())
}

func TestCallGraph(t *testing.T) {
	f := newFixture()
	callee := f.m.Class.NewMethod("callee", true)
	site := f.m.InvokeStatic(nil, callee.Ref())

	cg := NewCallGraph()
	caller := CSMethod{Ctx: f.empty, Method: f.m}
	target := CSMethod{Ctx: f.empty, Method: callee}

	assert.True(t, cg.AddReachable(caller))
	assert.False(t, cg.AddReachable(caller))
	assert.True(t, cg.AddReachable(target))

	e := Edge{Kind: ir.Static, Site: CSCallSite{Ctx: f.empty, Invoke: site}, Callee: target}
	assert.True(t, cg.AddEdge(e))
	assert.False(t, cg.AddEdge(e))
	assert.Equal(t, 1, cg.NumEdges())
	assert.Equal(t, []CSCallSite{e.Site}, cg.CallSitesIn(caller))
	assert.Equal(t, []CSCallSite{e.Site}, cg.CallersOf(target))
	assert.Equal(t, []CSMethod{target}, cg.CalleesOf(e.Site))
	assert.Empty(t, cg.RecursiveComponents())

	proj := cg.Project()
	assert.Equal(t, map[*ir.Method]bool{callee: true}, proj[f.m])
	assert.Empty(t, proj[callee])

	// A call under a new context is a different edge.
	ctx := f.empty.Append(site, 1)
	assert.True(t, cg.AddEdge(Edge{
		Kind:   ir.Static,
		Site:   CSCallSite{Ctx: ctx, Invoke: site},
		Callee: target,
	}))
	assert.Len(t, cg.CallersOf(target), 2)
}

func TestInvalidPointers(t *testing.T) {
	f := newFixture()
	assert.Panics(t, func() { NewCSVar(Context{}, f.a) })

	static := f.m.Class.NewStaticField("s", f.m.Class)
	assert.Panics(t, func() { NewInstanceField(f.obj(0), static) })
	assert.NotPanics(t, func() { NewStaticField(static) })
}
