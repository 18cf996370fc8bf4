package ir_test

import (
	"testing"

	"github.com/BarrensZeppelin/pta/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHierarchy(t *testing.T) {
	prog := ir.NewProgram()
	object := prog.NewClass("Object", nil)
	itf := prog.NewInterface("I")
	sub := prog.NewInterface("J", itf)
	a := prog.NewAbstractClass("A", object, itf)
	b := prog.NewClass("B", a)
	c := prog.NewClass("C", object, sub)

	im := itf.NewAbstractMethod("m")
	am := a.NewAbstractMethod("m")
	bm := b.NewMethod("m", false)
	cm := c.NewMethod("m", false)
	tos := object.NewMethod("toString", false)

	h := prog.Hierarchy()
	assert.Equal(t, []*ir.Class{a, c}, h.DirectSubclassesOf(object))
	assert.Equal(t, []*ir.Class{a}, h.DirectImplementorsOf(itf))
	assert.Equal(t, []*ir.Class{sub}, h.DirectSubinterfacesOf(itf))

	assert.True(t, h.IsSubclass(object, b))
	assert.True(t, h.IsSubclass(itf, c))
	assert.True(t, h.IsSubclass(b, b))
	assert.False(t, h.IsSubclass(b, a))
	assert.False(t, h.IsSubclass(itf, object))

	assert.Same(t, bm, h.Dispatch(b, "m()"))
	assert.Same(t, cm, h.Dispatch(c, "m()"))
	assert.Nil(t, h.Dispatch(a, "m()"), "abstract declarations do not dispatch")
	assert.Nil(t, h.Dispatch(itf, "m()"))
	assert.Nil(t, h.Dispatch(&ir.ArrayType{Elem: b}, "m()"))
	assert.Same(t, tos, h.Dispatch(b, "toString()"))
	assert.Nil(t, h.Dispatch(b, "missing()"))

	assert.Same(t, tos, h.ResolveRef(ir.MethodRef{Class: b, Subsig: "toString()"}))
	assert.Nil(t, h.ResolveRef(im.Ref()))
	assert.Nil(t, h.ResolveRef(am.Ref()))

	assert.ElementsMatch(t, []*ir.Class{itf, a, sub, b, c}, h.SubtypesOf(itf))
	assert.Equal(t, []*ir.Class{b}, h.SubtypesOf(b))

	// New classes invalidate the cached hierarchy.
	d := prog.NewClass("D", b)
	assert.Contains(t, prog.Hierarchy().SubtypesOf(a), d)
}

func TestMethodBuilders(t *testing.T) {
	prog := ir.NewProgram()
	c := prog.NewClass("C", nil)
	itf := prog.NewInterface("I")
	f := c.NewField("f", c)
	g := c.NewStaticField("g", c)

	m := c.NewMethod("m", false, c, c)
	require.NotNil(t, m.This())
	assert.Equal(t, "m(C,C)", m.Subsig)
	assert.Equal(t, []*ir.Var{m.This(), m.Param(0), m.Param(1)}, m.Vars())

	x := m.NewVar("x", c)
	y := m.NewVar("y", c)
	arr := m.NewVar("arr", &ir.ArrayType{Elem: c})
	assert.Equal(t, 3, x.Index())
	assert.Same(t, m, x.Method())

	m.New(x, c)
	load := m.LoadField(y, x, f)
	store := m.StoreField(x, f, y)
	static := m.LoadStatic(y, g)
	m.StoreArray(arr, x)
	m.LoadArray(y, arr)
	call := m.InvokeVirtual(y, x, m.Ref(), x, y)
	ret := m.Return(y)

	assert.Len(t, m.Stmts(), 8)
	assert.Equal(t, 7, ret.Index())
	assert.Same(t, m, call.Method())
	assert.Equal(t, []*ir.LoadField{load}, x.LoadFields())
	assert.Equal(t, []*ir.StoreField{store}, x.StoreFields())
	assert.Empty(t, y.LoadFields())
	assert.True(t, static.IsStatic())
	assert.Len(t, arr.StoreArrays(), 1)
	assert.Len(t, arr.LoadArrays(), 1)
	assert.Equal(t, []*ir.Invoke{call}, x.Invokes())
	assert.Equal(t, []*ir.Invoke{call}, m.Invokes())
	assert.Equal(t, []*ir.Var{y}, m.ReturnVars())
	assert.Same(t, y, call.Arg(1))

	assert.Equal(t, "<C: C f>", f.String())
	assert.Equal(t, "y = invokevirtual x.<C: m(C,C)>(x, y)", call.String())
	assert.Equal(t, "<C: m(C,C)>[6@m(C,C)]", call.Site())

	other := c.NewMethod("other", true)
	assert.Nil(t, other.This())
	assert.Panics(t, func() { other.Copy(x, y) }, "foreign variables")
	assert.Panics(t, func() { c.NewMethod("m", true, c, c) }, "duplicate method")
	assert.Panics(t, func() { m.StoreStatic(f, y) }, "instance field used statically")
	assert.Panics(t, func() { m.LoadField(y, x, g) }, "static field used on instance")
	assert.Panics(t, func() { m.InvokeInterface(nil, x, m.Ref()) })
	assert.Panics(t, func() { itf.NewAbstractMethod("n").Return(nil) })
}

func TestCallKinds(t *testing.T) {
	prog := ir.NewProgram()
	c := prog.NewClass("C", nil)
	itf := prog.NewInterface("I")
	ctor := c.NewConstructor()
	sm := c.NewMethod("s", true)
	vm := c.NewMethod("v", false)
	im := itf.NewAbstractMethod("i")

	m := c.NewMethod("main", true)
	x := m.NewVar("x", c)
	m.New(x, c)

	tests := []struct {
		invoke *ir.Invoke
		kind   ir.CallKind
	}{
		{m.InvokeStatic(nil, sm.Ref()), ir.Static},
		{m.InvokeVirtual(nil, x, ctor.Ref()), ir.Special},
		{m.InvokeSpecial(nil, x, vm.Ref()), ir.Special},
		{m.InvokeVirtual(nil, x, vm.Ref()), ir.Virtual},
		{m.InvokeInterface(nil, x, im.Ref()), ir.Interface},
		{m.InvokeVirtual(nil, x, im.Ref()), ir.Interface},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.kind, tt.invoke.Kind(), tt.invoke.String())
	}

	assert.True(t, ctor.IsConstructor())
	assert.True(t, ctor.Ref().IsConstructor())
	assert.Equal(t, "<init>()", ctor.Subsig)
	assert.Equal(t, "interface", ir.Interface.String())
}

func TestLookup(t *testing.T) {
	prog := ir.NewProgram()
	str := prog.NewClass("String", nil)
	sink := prog.NewClass("Sink", nil)
	m := sink.NewMethod("sink", true, str, &ir.ArrayType{Elem: str})

	found, err := prog.LookupMethod("<Sink: sink(String,String[])>")
	require.NoError(t, err)
	assert.Same(t, m, found)

	found, err = prog.LookupMethod("  < Sink : sink(String,String[]) > ")
	require.NoError(t, err)
	assert.Same(t, m, found)

	for _, sig := range []string{
		"Sink: sink(String)",
		"<Sink sink(String)>",
		"<Source: sink(String,String[])>",
		"<Sink: sink(String)>",
	} {
		_, err := prog.LookupMethod(sig)
		assert.Error(t, err, sig)
	}

	typ, err := prog.LookupType("String[][]")
	require.NoError(t, err)
	assert.Equal(t, "String[][]", typ.String())

	_, err = prog.LookupType("Missing[]")
	assert.Error(t, err)

	assert.Equal(t, []*ir.Method{m}, prog.Methods())
}
