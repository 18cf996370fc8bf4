package ssaconv_test

import (
	"go/types"
	"io"
	"testing"

	"github.com/BarrensZeppelin/pta"
	"github.com/BarrensZeppelin/pta/cha"
	"github.com/BarrensZeppelin/pta/pkgutil"
	"github.com/BarrensZeppelin/pta/ssaconv"
	"github.com/BarrensZeppelin/pta/taint"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/callgraph"
	xcha "golang.org/x/tools/go/callgraph/cha"
	"golang.org/x/tools/go/expect"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
)

const source = `package main

type Animal interface{ Sound() *string }

type Dog struct{ name *string }

func (d *Dog) Sound() *string { return d.name }

type Cat struct{ name *string }

func (c Cat) Sound() *string { return c.name }

type Pair struct{ left, right *int }

var global *int

func pair() (*int, *int) {
	a, b := 1, 2
	return &a, &b
}

func apply(f func() *int) *int { return f() }

func id(x *int) *int { return x }

func first[T any](xs []T) T { return xs[0] }

func main() {
	rex, tom := "rex", "tom"
	var a Animal = &Dog{&rex}
	print(a.Sound()) //@ pointsto("rex")
	a = Cat{&tom}
	print(a.Sound()) //@ pointsto("tom")

	p, q := pair()
	global = q
	print(p)      //@ pointsto("a")
	print(global) //@ pointsto("b")

	x := 0
	f := func() *int { return &x }
	print(apply(f)) //@ pointsto("x")

	m := map[string]*int{"k": p}
	ch := make(chan *int, 1)
	ch <- m["k"]
	print(<-ch) //@ pointsto("a")

	pr := &Pair{left: p, right: q}
	print(id(pr.left)) //@ pointsto("a")

	s := []*int{p}
	s = append(s, q)
	for _, e := range s {
		print(e) //@ pointsto("a", "b")
	}
	print(first(s)) //@ pointsto("a", "b")

	var any interface{} = p
	if ip, ok := any.(*int); ok {
		print(ip) //@ pointsto("a")
	}
}
`

type lowered struct {
	prog *ssa.Program
	pkg  *packages.Package
	*ssaconv.Lowered
}

func lower(t *testing.T, src string) lowered {
	t.Helper()
	pkgs, err := pkgutil.LoadPackagesFromSource(src)
	require.NoError(t, err)
	require.Len(t, pkgs, 1)

	prog, mains := pkgutil.BuildSSA(pkgs)
	l, err := ssaconv.Convert(prog, mains)
	require.NoError(t, err)
	return lowered{prog, pkgs[0], l}
}

func (l lowered) analyze(t *testing.T, sel pta.ContextSelector) *pta.Result {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	res, err := pta.Analyze(pta.AnalysisConfig{
		Program:  l.Program,
		Selector: sel,
		Logger:   logger,
	})
	require.NoError(t, err)
	return res
}

// printArgs maps line numbers to the arguments of print calls on them.
func (l lowered) printArgs() map[int][]ssa.Value {
	res := map[int][]ssa.Value{}
	for fn := range l.reachable() {
		for _, block := range fn.Blocks {
			for _, insn := range block.Instrs {
				call, ok := insn.(ssa.CallInstruction)
				if !ok {
					continue
				}

				common := call.Common()
				if v, isBuiltin := common.Value.(*ssa.Builtin); isBuiltin &&
					v.Name() == "print" && len(common.Args) == 1 {
					line := l.prog.Fset.Position(insn.Pos()).Line
					res[line] = append(res[line], common.Args[0])
				}
			}
		}
	}
	return res
}

func (l lowered) reachable() map[*ssa.Function]bool {
	res := map[*ssa.Function]bool{}
	for _, m := range l.Program.Methods() {
		if fn := l.Func(m); fn != nil && !l.IsBridge(m) {
			res[fn] = true
		}
	}
	return res
}

func label(v ssa.Value) string {
	if alloc, ok := v.(*ssa.Alloc); ok {
		return alloc.Comment
	}
	return v.Name()
}

// checkNotes verifies the pointsto annotations of the lowered source under
// each selector.
func checkNotes(t *testing.T, l lowered, sels ...pta.ContextSelector) {
	t.Helper()
	notes, err := expect.ExtractGo(l.prog.Fset, l.pkg.Syntax[0])
	require.NoError(t, err)
	require.NotEmpty(t, notes)

	args := l.printArgs()

	for _, sel := range sels {
		res := l.analyze(t, sel)
		for _, note := range notes {
			if note.Name != "pointsto" {
				continue
			}

			var expected []string
			for _, arg := range note.Args {
				expected = append(expected, arg.(string))
			}

			pos := l.prog.Fset.Position(note.Pos)
			vals := args[pos.Line]
			require.Len(t, vals, 1, "%v: print call", pos)

			var labels []string
			for _, v := range l.PointsTo(res, vals[0]) {
				labels = append(labels, label(v))
			}
			assert.ElementsMatch(t, expected, labels, "%v with %v", pos, sel)
		}
	}
}

func TestPointsTo(t *testing.T) {
	checkNotes(t, lower(t, source),
		pta.Insensitive(),
		pta.KCallSite(1, 0),
		pta.KObject(1, 0),
		pta.KType(1, 0))
}

type chaEdge struct {
	site   ssa.CallInstruction
	callee *ssa.Function
}

func TestCallGraph(t *testing.T) {
	l := lower(t, source)
	res := l.analyze(t, pta.KCallSite(1, 0))
	cg := l.CallGraph(res)

	// x/tools' class hierarchy analysis is a sound over-approximation.
	expected := map[chaEdge]bool{}
	callgraph.GraphVisitEdges(xcha.CallGraph(l.prog), func(e *callgraph.Edge) error {
		expected[chaEdge{e.Site, e.Callee.Func}] = true
		return nil
	})

	var sounds []*ssa.Function
	callgraph.GraphVisitEdges(cg, func(e *callgraph.Edge) error {
		if e.Caller == cg.Root {
			assert.Nil(t, e.Site)
			assert.Contains(t, []string{"init", "main"}, e.Callee.Func.Name())
			return nil
		}

		assert.True(t, expected[chaEdge{e.Site, e.Callee.Func}], "%v", e)
		if e.Callee.Func.Name() == "Sound" {
			sounds = append(sounds, e.Callee.Func)
		}
		return nil
	})

	// Each Sound call resolves to exactly one method.
	require.Len(t, sounds, 2)
	assert.NotEqual(t, sounds[0], sounds[1])

	for _, m := range res.ReachableMethods() {
		if fn := l.Func(m); fn != nil {
			assert.Contains(t, cg.Nodes, fn, "%v", m)
		}
	}
	assert.Contains(t, cg.Nodes, l.prog.FuncValue(l.pkg.Types.Scope().Lookup("apply").(*types.Func)))
}

func TestReachableOverApproximation(t *testing.T) {
	l := lower(t, source)
	g := cha.Build(l.Program.Hierarchy(), l.Root)

	for _, sel := range []pta.ContextSelector{pta.Insensitive(), pta.KObject(2, 1)} {
		res := l.analyze(t, sel)
		for _, m := range res.ReachableMethods() {
			assert.True(t, g.Reachable(m), "%v", m)
		}
	}
}

func TestLowering(t *testing.T) {
	l := lower(t, source)
	main := l.pkg.Types.Scope().Lookup("main").(*types.Func)
	fn := l.prog.FuncValue(main)

	m := l.Method(fn)
	require.NotNil(t, m)
	assert.Same(t, fn, l.Func(m))
	assert.True(t, m.Static)

	var sites int
	for _, inv := range m.Invokes() {
		if site := l.Site(inv); site != nil {
			assert.Same(t, fn, site.Parent())
			sites++
		}
	}
	assert.NotZero(t, sites)

	root := l.Root.Invokes()
	require.Len(t, root, 2)
	for _, inv := range root {
		assert.Nil(t, l.Site(inv))
	}

	for _, v := range m.Vars() {
		if sv := l.Value(v); sv != nil {
			assert.Same(t, v, l.Var(sv))
		}
	}
}

func TestNoMain(t *testing.T) {
	pkgs, err := pkgutil.LoadPackagesFromSource("package lib\n\nfunc F() {}\n")
	require.NoError(t, err)

	prog, mains := pkgutil.BuildSSA(pkgs)
	require.Empty(t, mains)
	_, err = ssaconv.Convert(prog, mains)
	assert.ErrorIs(t, err, ssaconv.ErrNoMain)
}

func TestPanicRecover(t *testing.T) {
	l := lower(t, `package main

type E struct{ msg *string }

func fail(msg *string) { panic(&E{msg}) }

func main() {
	defer func() {
		if e, ok := recover().(*E); ok {
			print(e.msg) //@ pointsto("text")
		}
	}()
	text := "boom"
	fail(&text)
}
`)
	checkNotes(t, l, pta.Insensitive(), pta.KCallSite(2, 1))
}

func TestNestedAggregateCopy(t *testing.T) {
	l := lower(t, `package main

type Box struct{ v *int }

type Wrap struct{ b Box }

func main() {
	a, b := 1, 2
	w := Wrap{Box{&a}}
	w2 := w
	w2.b.v = &b
	print(w.b.v)  //@ pointsto("a")
	print(w2.b.v) //@ pointsto("a", "b")

	arr := [1]Box{{&a}}
	arr2 := arr
	arr2[0].v = &b
	print(arr[0].v)  //@ pointsto("a")
	print(arr2[0].v) //@ pointsto("a", "b")
}
`)
	checkNotes(t, l, pta.Insensitive(), pta.KCallSite(1, 0), pta.KObject(2, 1))
}

func TestTaint(t *testing.T) {
	l := lower(t, `package main

type Secret struct{ v *int }

func source() *Secret { return nil }

func sink(s *Secret) {}

func main() {
	s := source()
	sink(s)
	sink(&Secret{})
}
`)

	cfg, err := taint.ParseConfig([]byte(`
sources:
  - method: "<command-line-arguments: source()>"
    type: "*command-line-arguments.Secret"
sinks:
  - method: "<command-line-arguments: sink(*command-line-arguments.Secret)>"
    index: 0
`))
	require.NoError(t, err)
	rules, err := cfg.Resolve(l.Program)
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	plugin := taint.New(rules)
	_, err = pta.Analyze(pta.AnalysisConfig{
		Program: l.Program,
		Plugins: []pta.Plugin{plugin},
		Logger:  logger,
	})
	require.NoError(t, err)

	flows := plugin.Flows()
	require.Len(t, flows, 1)
	src, sink := l.Site(flows[0].Source), l.Site(flows[0].Sink)
	require.NotNil(t, src)
	require.NotNil(t, sink)
	assert.Equal(t, "source", src.Common().StaticCallee().Name())
	assert.Equal(t, src.Value(), sink.Common().Args[0])
}
