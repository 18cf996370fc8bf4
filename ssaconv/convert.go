// Package ssaconv lowers Go programs in SSA form into the intermediate
// representation analyzed by package pta.
//
// Go types become classes. Interface types, and unnamed function types,
// become interface classes. Every lowered function is a static method of a
// class named after its package. Calls through interfaces and function values
// are interface invokes, which dispatch on the boxed dynamic type or on the
// closure, respectively, and reach a synthetic bridge method that forwards to
// the Go function.
//
// The heap is modelled as follows. Pointers point to storage objects, and the
// memory they address is the field "*" of those objects, except for field and
// element addresses that are only used locally, whose loads and stores are
// resolved to the field or the elements of their base. Struct and array values
// are represented by the storage they were loaded from, and struct fields of
// aggregate type hold references to nested storage. Slices, maps and channels
// keep their contents in the elements of their object. Globals are static
// fields holding their storage object.
package ssaconv

import (
	"errors"
	"fmt"
	"go/types"

	"github.com/BarrensZeppelin/pta/internal/queue"
	"github.com/BarrensZeppelin/pta/ir"
	log "github.com/sirupsen/logrus"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/types/typeutil"
)

var ErrNoMain = errors.New("no main function")

// Names of the synthetic classes and members introduced by the lowering.
const (
	RuntimeClass = "<runtime>"
	RootMethod   = "<root>"
	CallMethod   = "call"
)

type converter struct {
	ssa  *ssa.Program
	prog *ir.Program
	out  *Lowered
	log  *log.Entry

	queue queue.Queue[*ssa.Function]

	runtime *ir.Class
	// Fields of the runtime class: pointer contents, boxed values, map keys
	// and the value of the current panic.
	star, value, keys, panicking *ir.Field

	types      typeutil.Map
	interfaces []types.Type
	concrete   []types.Type
	bridged    map[*ir.Class]bool

	packages map[*ssa.Package]*ir.Class
	closures map[*ssa.Function]*ir.Class
	globals  map[*ssa.Global]*ir.Field
}

// Convert lowers every function reachable from the main and init functions of
// the given packages. The returned program's entry is a synthetic method
// calling all of them.
func Convert(prog *ssa.Program, mains []*ssa.Package) (*Lowered, error) {
	c := &converter{
		ssa:      prog,
		prog:     ir.NewProgram(),
		log:      log.WithField("phase", "lowering"),
		bridged:  make(map[*ir.Class]bool),
		packages: make(map[*ssa.Package]*ir.Class),
		closures: make(map[*ssa.Function]*ir.Class),
		globals:  make(map[*ssa.Global]*ir.Field),
	}
	c.types.SetHasher(typeutil.MakeHasher())
	c.out = newLowered(prog, c.prog)

	c.runtime = c.prog.NewClass(RuntimeClass, nil)
	c.star = c.runtime.NewField("*", c.runtime)
	c.value = c.runtime.NewField("value", c.runtime)
	c.keys = c.runtime.NewField("keys", c.runtime)
	c.panicking = c.runtime.NewStaticField("panic", c.runtime)

	root := c.runtime.NewMethod(RootMethod, true)
	c.prog.SetEntry(root)
	c.out.Root = root

	var entries []*ssa.Function
	for _, pkg := range mains {
		for _, name := range [...]string{"init", "main"} {
			if fn := pkg.Func(name); fn != nil {
				entries = append(entries, fn)
			}
		}
	}
	if len(entries) == 0 {
		return nil, ErrNoMain
	}

	for _, fn := range entries {
		root.InvokeStatic(nil, c.method(fn).Ref())
	}

	for !c.queue.Empty() {
		c.lower(c.queue.Pop())
	}

	c.linkInterfaces()

	c.log.WithFields(log.Fields{
		"functions": len(c.out.funcs),
		"classes":   len(c.prog.Classes()),
	}).Debug("lowered program")

	return c.out, nil
}

func (c *converter) uniqueClassName(name string) string {
	res := name
	for i := 1; c.prog.Class(res) != nil; i++ {
		res = fmt.Sprintf("%s#%d", name, i)
	}
	return res
}

// classOf returns the class representing the Go type t.
func (c *converter) classOf(t types.Type) *ir.Class {
	if cls, found := c.types.At(t).(*ir.Class); found {
		return cls
	}

	name := c.uniqueClassName(types.TypeString(t, nil))
	switch ut := t.Underlying().(type) {
	case *types.Interface:
		cls := c.prog.NewInterface(name)
		c.types.Set(t, cls)
		c.interfaces = append(c.interfaces, t)
		for i := 0; i < ut.NumMethods(); i++ {
			m := ut.Method(i)
			c.declare(cls, m.Name(), m.Type().(*types.Signature), true)
		}
		return cls

	case *types.Signature:
		if _, named := t.(*types.Named); !named {
			cls := c.prog.NewInterface(name)
			c.types.Set(t, cls)
			c.declare(cls, CallMethod, ut, true)
			return cls
		}
	}

	cls := c.prog.NewClass(name, nil)
	c.types.Set(t, cls)
	if _, isTuple := t.(*types.Tuple); !isTuple {
		c.concrete = append(c.concrete, t)
	}
	return cls
}

func (c *converter) paramTypes(sig *types.Signature) []ir.Type {
	params := make([]ir.Type, sig.Params().Len())
	for i := range params {
		params[i] = c.classOf(sig.Params().At(i).Type())
	}
	return params
}

// subsig returns the subsignature of a method called name with the
// parameters of sig. Receivers and results do not take part.
func (c *converter) subsig(name string, sig *types.Signature) string {
	return ir.Subsignature(name, c.paramTypes(sig)...)
}

// declare adds a method with the parameters of sig to cls. It returns nil if
// a method with the same subsignature exists.
func (c *converter) declare(cls *ir.Class, name string, sig *types.Signature, abstract bool) *ir.Method {
	params := c.paramTypes(sig)
	if m := cls.DeclaredMethod(ir.Subsignature(name, params...)); m != nil {
		return nil
	}
	if abstract {
		return cls.NewAbstractMethod(name, params...)
	}
	return cls.NewMethod(name, false, params...)
}

// field returns the field representing field i of the struct type t.
func (c *converter) field(t types.Type, i int) *ir.Field {
	st := t.Underlying().(*types.Struct)
	cls := c.classOf(t)
	name := fieldName(st, i)
	if f := cls.DeclaredField(name); f != nil {
		return f
	}
	return cls.NewField(name, c.classOf(st.Field(i).Type()))
}

// result returns the field holding component i of a result tuple.
func (c *converter) result(t *types.Tuple, i int) *ir.Field {
	cls := c.classOf(t)
	name := fmt.Sprintf("r%d", i)
	if f := cls.DeclaredField(name); f != nil {
		return f
	}
	return cls.NewField(name, c.classOf(t.At(i).Type()))
}

func (c *converter) global(g *ssa.Global) *ir.Field {
	if f, found := c.globals[g]; found {
		return f
	}

	cls := c.packageClass(g.Pkg)
	name := g.Name()
	if cls.DeclaredField(name) != nil {
		name = g.String()
	}
	f := cls.NewStaticField(name, c.classOf(g.Type()))
	c.globals[g] = f

	// The storage of the global is allocated once, by the root.
	root := c.out.Root
	storage := root.NewVar(g.Name(), c.classOf(g.Type()))
	c.out.addNew(root.New(storage, c.classOf(g.Type())), g)
	root.StoreStatic(f, storage)
	return f
}

func (c *converter) packageClass(pkg *ssa.Package) *ir.Class {
	if cls, found := c.packages[pkg]; found {
		return cls
	}

	name := "<synthetic>"
	if pkg != nil {
		name = pkg.Pkg.Path()
	}
	cls := c.prog.NewClass(c.uniqueClassName(name), nil)
	c.packages[pkg] = cls
	return cls
}

// method returns the static method lowering fn, declaring it and scheduling
// its body on first use.
func (c *converter) method(fn *ssa.Function) *ir.Method {
	if m := c.out.funcs[fn]; m != nil {
		return m
	}

	cls := c.packageClass(fn.Pkg)
	name := fn.Name()
	if fn.Pkg != nil {
		name = fn.RelString(fn.Pkg.Pkg)
	} else if fn.Signature.Recv() != nil {
		name = fn.String()
	}

	var params []ir.Type
	for _, fv := range fn.FreeVars {
		params = append(params, c.classOf(fv.Type()))
	}
	if recv := fn.Signature.Recv(); recv != nil {
		params = append(params, c.classOf(recv.Type()))
	}
	for i := 0; i < fn.Signature.Params().Len(); i++ {
		params = append(params, c.classOf(fn.Signature.Params().At(i).Type()))
	}

	unique := name
	for i := 1; cls.DeclaredMethod(ir.Subsignature(unique, params...)) != nil; i++ {
		unique = fmt.Sprintf("%s#%d", name, i)
	}

	m := cls.NewMethod(unique, true, params...)
	c.out.addFunc(fn, m)

	vals := make([]ssa.Value, 0, len(params))
	for _, fv := range fn.FreeVars {
		vals = append(vals, fv)
	}
	for _, p := range fn.Params {
		vals = append(vals, p)
	}
	if len(vals) == len(params) {
		for i, v := range vals {
			c.out.addVar(v, m.Param(i))
		}
	}

	c.queue.Push(fn)
	return m
}

// closure returns the class of function values of fn. Its call method loads
// the captured variables and forwards to fn.
func (c *converter) closure(fn *ssa.Function) *ir.Class {
	if cls, found := c.closures[fn]; found {
		return cls
	}

	sig := c.classOf(fn.Signature)
	cls := c.prog.NewClass(c.uniqueClassName("func "+fn.String()), nil, sig)
	c.closures[fn] = cls

	bridge := c.declare(cls, CallMethod, fn.Signature, false)
	var args []*ir.Var
	for i, fv := range fn.FreeVars {
		f := cls.NewField(freeVarField(i), c.classOf(fv.Type()))
		v := bridge.NewVar(fv.Name(), f.Type)
		bridge.LoadField(v, bridge.This(), f)
		args = append(args, v)
	}
	if recv := fn.Signature.Recv(); recv != nil {
		args = append(args, bridge.NewVar("recv", c.classOf(recv.Type())))
	}
	c.forward(bridge, fn, append(args, bridge.Params()...))
	return cls
}

// box returns the class of interface values holding a t, declaring bridges
// for its method set.
func (c *converter) box(t types.Type) *ir.Class {
	cls := c.classOf(t)
	if cls.Interface || c.bridged[cls] {
		return cls
	}
	c.bridged[cls] = true

	if named, ok := t.(*types.Named); ok && named.TypeParams().Len() != named.TypeArgs().Len() {
		return cls
	}

	mset := c.ssa.MethodSets.MethodSet(t)
	for i := 0; i < mset.Len(); i++ {
		sel := mset.At(i)
		fn := c.ssa.MethodValue(sel)
		if fn == nil {
			continue
		}

		bridge := c.declare(cls, sel.Obj().Name(), fn.Signature, false)
		if bridge == nil {
			continue
		}

		recvType := t
		if recv := fn.Signature.Recv(); recv != nil {
			recvType = recv.Type()
		}
		recv := bridge.NewVar("recv", c.classOf(recvType))
		bridge.LoadField(recv, bridge.This(), c.value)
		c.forward(bridge, fn, append([]*ir.Var{recv}, bridge.Params()...))
	}
	return cls
}

// forward makes bridge call fn statically with args and return its result.
func (c *converter) forward(bridge *ir.Method, fn *ssa.Function, args []*ir.Var) {
	var res *ir.Var
	if results := fn.Signature.Results(); results.Len() == 1 && tracked(results.At(0).Type()) {
		res = bridge.NewVar("res", c.classOf(results.At(0).Type()))
	} else if results.Len() > 1 {
		res = bridge.NewVar("res", c.classOf(results))
	}

	bridge.InvokeStatic(res, c.method(fn).Ref(), args...)
	if res != nil {
		bridge.Return(res)
	}
	c.out.bridges[bridge] = fn
}

func freeVarField(i int) string { return fmt.Sprintf("fv%d", i) }

// linkInterfaces records which concrete types implement which interfaces.
func (c *converter) linkInterfaces() {
	for _, t := range c.concrete {
		cls := c.classOf(t)
		for _, it := range c.interfaces {
			iface := it.Underlying().(*types.Interface)
			if iface.NumMethods() != 0 && types.Implements(t, iface) {
				cls.AddInterface(c.classOf(it))
			}
		}
	}
}
