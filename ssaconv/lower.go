package ssaconv

import (
	"go/token"
	"go/types"

	"github.com/BarrensZeppelin/pta/ir"
	"golang.org/x/tools/go/ssa"
)

// frame holds the state of lowering one function body.
type frame struct {
	c  *converter
	fn *ssa.Function
	m  *ir.Method

	zero    *ir.Var
	funcs   map[*ssa.Function]*ir.Var
	globals map[*ssa.Global]*ir.Var
	// Components of tuples that never leave the function, such as the results
	// of comma-ok operations, Next and Select.
	tuples map[ssa.Value][]*ir.Var
}

func (c *converter) lower(fn *ssa.Function) {
	if len(fn.Blocks) == 0 || (fn.TypeParams().Len() > 0 && len(fn.TypeArgs()) == 0) {
		c.log.Debugf("no body for %s", fn)
		return
	}

	f := &frame{
		c:       c,
		fn:      fn,
		m:       c.out.funcs[fn],
		funcs:   make(map[*ssa.Function]*ir.Var),
		globals: make(map[*ssa.Global]*ir.Var),
		tuples:  make(map[ssa.Value][]*ir.Var),
	}
	for _, b := range fn.Blocks {
		for _, instr := range b.Instrs {
			f.instr(instr)
		}
	}
}

// def returns the variable defined by v.
func (f *frame) def(v ssa.Value) *ir.Var {
	if res := f.c.out.values[v]; res != nil {
		return res
	}

	var typ ir.Type = f.c.runtime
	if _, isRange := v.(*ssa.Range); !isRange {
		typ = f.c.classOf(v.Type())
	}
	res := f.m.NewVar(v.Name(), typ)
	f.c.out.addVar(v, res)
	return res
}

// use returns a variable holding the value of the operand v.
func (f *frame) use(v ssa.Value) *ir.Var {
	switch v := v.(type) {
	case *ssa.Function:
		if res := f.funcs[v]; res != nil {
			return res
		}
		res := f.m.NewVar(v.Name(), f.c.classOf(v.Type()))
		f.c.out.addNew(f.m.New(res, f.c.closure(v)), v)
		f.funcs[v] = res
		return res

	case *ssa.Global:
		if res := f.globals[v]; res != nil {
			return res
		}
		res := f.m.NewVar(v.Name(), f.c.classOf(v.Type()))
		f.m.LoadStatic(res, f.c.global(v))
		f.globals[v] = res
		return res

	case *ssa.Const, *ssa.Builtin:
		return f.zeroVar()
	}

	if !tracked(v.Type()) {
		return f.zeroVar()
	}
	return f.def(v)
}

func (f *frame) uses(vs []ssa.Value) []*ir.Var {
	res := make([]*ir.Var, len(vs))
	for i, v := range vs {
		res[i] = f.use(v)
	}
	return res
}

// zeroVar is a variable that never points anywhere. It stands in for
// constants and for operands whose type cannot carry pointers.
func (f *frame) zeroVar() *ir.Var {
	if f.zero == nil {
		f.zero = f.m.NewVar("zero", f.c.runtime)
	}
	return f.zero
}

func (f *frame) temp(name string, t types.Type) *ir.Var {
	return f.m.NewVar(name, f.c.classOf(t))
}

func (f *frame) alloc(v ssa.Value, cls *ir.Class) *ir.Var {
	res := f.def(v)
	f.c.out.addNew(f.m.New(res, cls), v)
	return res
}

func (f *frame) copy(v, x ssa.Value) {
	if tracked(v.Type()) {
		f.m.Copy(f.def(v), f.use(x))
	}
}

func (f *frame) instr(instr ssa.Instruction) {
	m := f.m
	switch instr := instr.(type) {
	case ssa.CallInstruction:
		f.call(instr)

	case *ssa.Store:
		f.store(instr.Addr, instr.Val)

	case *ssa.Send:
		if tracked(instr.X.Type()) {
			m.StoreArray(f.use(instr.Chan), f.use(instr.X))
		}

	case *ssa.MapUpdate:
		mv := f.use(instr.Map)
		if tracked(instr.Value.Type()) {
			m.StoreArray(mv, f.use(instr.Value))
		}
		if tracked(instr.Key.Type()) {
			m.StoreField(mv, f.c.keys, f.use(instr.Key))
		}

	case *ssa.Panic:
		if tracked(instr.X.Type()) {
			m.StoreStatic(f.c.panicking, f.use(instr.X))
		}

	case *ssa.Return:
		f.ret(instr.Results)

	case ssa.Value:
		f.value(instr)
	}
}

func (f *frame) value(v ssa.Value) {
	m := f.m
	switch v := v.(type) {
	case *ssa.Alloc, *ssa.MakeSlice, *ssa.MakeMap, *ssa.MakeChan:
		f.alloc(v, f.c.classOf(v.Type()))

	case *ssa.MakeClosure:
		fn := v.Fn.(*ssa.Function)
		cls := f.c.closure(fn)
		obj := f.alloc(v, cls)
		for i, b := range v.Bindings {
			if tracked(b.Type()) {
				m.StoreField(obj, cls.DeclaredField(freeVarField(i)), f.use(b))
			}
		}

	case *ssa.MakeInterface:
		box := f.alloc(v, f.c.box(v.X.Type()))
		if tracked(v.X.Type()) {
			m.StoreField(box, f.c.value, f.use(v.X))
		}

	case *ssa.UnOp:
		switch v.Op {
		case token.MUL:
			if tracked(v.Type()) {
				f.load(f.def(v), v.X)
			}
		case token.ARROW:
			f.commaOk(v, v.CommaOk, func(lhs *ir.Var) {
				m.LoadArray(lhs, f.use(v.X))
			})
		}

	case *ssa.FieldAddr:
		f.fieldAddr(v)

	case *ssa.IndexAddr:
		f.indexAddr(v)

	case *ssa.Field:
		if tracked(v.Type()) {
			m.LoadField(f.def(v), f.use(v.X), f.c.field(v.X.Type(), v.Field))
		}

	case *ssa.Index:
		if _, isArray := v.X.Type().Underlying().(*types.Array); isArray && tracked(v.Type()) {
			m.LoadArray(f.def(v), f.use(v.X))
		}

	case *ssa.Lookup:
		if _, isMap := v.X.Type().Underlying().(*types.Map); isMap {
			f.commaOk(v, v.CommaOk, func(lhs *ir.Var) {
				m.LoadArray(lhs, f.use(v.X))
			})
		}

	case *ssa.TypeAssert:
		f.commaOk(v, v.CommaOk, func(lhs *ir.Var) {
			if types.IsInterface(v.AssertedType) {
				m.Copy(lhs, f.use(v.X))
			} else {
				m.LoadField(lhs, f.use(v.X), f.c.value)
			}
		})

	case *ssa.Phi:
		if tracked(v.Type()) {
			lhs := f.def(v)
			for _, e := range v.Edges {
				m.Copy(lhs, f.use(e))
			}
		}

	case *ssa.ChangeType:
		f.copy(v, v.X)
	case *ssa.ChangeInterface:
		f.copy(v, v.X)
	case *ssa.Slice:
		f.copy(v, v.X)
	case *ssa.SliceToArrayPointer:
		f.copy(v, v.X)

	case *ssa.Convert:
		// Conversions that create pointers, like string to []byte, allocate.
		if tracked(v.Type()) {
			if tracked(v.X.Type()) {
				f.copy(v, v.X)
			} else {
				f.alloc(v, f.c.classOf(v.Type()))
			}
		}

	case *ssa.Range:
		if _, isMap := v.X.Type().Underlying().(*types.Map); isMap {
			m.Copy(f.def(v), f.use(v.X))
		}

	case *ssa.Next:
		tup := v.Type().(*types.Tuple)
		comps := make([]*ir.Var, tup.Len())
		f.tuples[v] = comps
		if v.IsString {
			return
		}

		iter := f.def(v.Iter)
		if t := tup.At(1).Type(); tracked(t) {
			comps[1] = f.temp("key", t)
			m.LoadField(comps[1], iter, f.c.keys)
		}
		if t := tup.At(2).Type(); tracked(t) {
			comps[2] = f.temp("value", t)
			m.LoadArray(comps[2], iter)
		}

	case *ssa.Select:
		tup := v.Type().(*types.Tuple)
		comps := make([]*ir.Var, tup.Len())
		f.tuples[v] = comps

		// Received values follow the index and the recvOk flag.
		recv := 2
		for _, st := range v.States {
			ch := f.use(st.Chan)
			if st.Dir == types.RecvOnly {
				if t := tup.At(recv).Type(); tracked(t) {
					comps[recv] = f.temp("recv", t)
					m.LoadArray(comps[recv], ch)
				}
				recv++
			} else if tracked(st.Send.Type()) {
				m.StoreArray(ch, f.use(st.Send))
			}
		}

	case *ssa.Extract:
		if !tracked(v.Type()) {
			return
		}
		if comps, found := f.tuples[v.Tuple]; found {
			if v.Index < len(comps) && comps[v.Index] != nil {
				m.Copy(f.def(v), comps[v.Index])
			}
			return
		}
		m.LoadField(f.def(v), f.use(v.Tuple), f.c.result(v.Tuple.Type().(*types.Tuple), v.Index))
	}
}

// commaOk lowers an operation producing either a value or, with commaOk, a
// (value, ok) tuple. load populates the variable for the value.
func (f *frame) commaOk(v ssa.Value, commaOk bool, load func(lhs *ir.Var)) {
	t := v.Type()
	if commaOk {
		t = t.(*types.Tuple).At(0).Type()
		f.tuples[v] = make([]*ir.Var, 2)
	}
	if !tracked(t) {
		return
	}

	var lhs *ir.Var
	if commaOk {
		lhs = f.temp(v.Name()+"#0", t)
		f.tuples[v][0] = lhs
	} else {
		lhs = f.def(v)
	}
	load(lhs)
}

func deref(t types.Type) types.Type {
	return t.Underlying().(*types.Pointer).Elem()
}

// load lowers lhs = *addr.
func (f *frame) load(lhs *ir.Var, addr ssa.Value) {
	m := f.m
	elem := deref(addr.Type())
	if !aggregate(elem) {
		switch a := addr.(type) {
		case *ssa.FieldAddr:
			m.LoadField(lhs, f.use(a.X), f.c.field(deref(a.X.Type()), a.Field))
			return
		case *ssa.IndexAddr:
			m.LoadArray(lhs, f.use(a.X))
			return
		}
		m.LoadField(lhs, f.use(addr), f.c.star)
		return
	}

	// Aggregates are represented by their storage.
	m.Copy(lhs, f.use(addr))
}

// store lowers *addr = val.
func (f *frame) store(addr, val ssa.Value) {
	if !tracked(val.Type()) {
		return
	}

	m := f.m
	if aggregate(val.Type()) {
		f.copyContents(f.use(addr), f.use(val), val.Type())
		return
	}

	switch a := addr.(type) {
	case *ssa.FieldAddr:
		m.StoreField(f.use(a.X), f.c.field(deref(a.X.Type()), a.Field), f.use(val))
	case *ssa.IndexAddr:
		m.StoreArray(f.use(a.X), f.use(val))
	default:
		m.StoreField(f.use(addr), f.c.star, f.use(val))
	}
}

// copyContents copies the pointer-carrying fields or elements of the
// aggregate src into dst. Nested aggregates get fresh storage in dst, which
// receives a copy of their contents.
func (f *frame) copyContents(dst, src *ir.Var, t types.Type) {
	m := f.m
	switch ut := t.Underlying().(type) {
	case *types.Struct:
		for i := 0; i < ut.NumFields(); i++ {
			ft := ut.Field(i).Type()
			if !tracked(ft) {
				continue
			}
			fld := f.c.field(t, i)
			tmp := m.NewVar(src.Name+"."+fld.Name, fld.Type)
			m.LoadField(tmp, src, fld)
			if !aggregate(ft) {
				m.StoreField(dst, fld, tmp)
				continue
			}

			nested := m.NewVar(dst.Name+"."+fld.Name+"#copy", fld.Type)
			m.New(nested, fld.Type)
			m.StoreField(dst, fld, nested)
			f.copyContents(nested, tmp, ft)
		}

	case *types.Array:
		elem := ut.Elem()
		if !tracked(elem) {
			return
		}
		tmp := f.temp(src.Name+"[*]", elem)
		m.LoadArray(tmp, src)
		if !aggregate(elem) {
			m.StoreArray(dst, tmp)
			return
		}

		nested := f.temp(dst.Name+"[*]#copy", elem)
		m.New(nested, nested.Type)
		m.StoreArray(dst, nested)
		f.copyContents(nested, tmp, elem)
	}
}

func (f *frame) fieldAddr(v *ssa.FieldAddr) {
	m := f.m
	switch {
	case aggregate(deref(v.Type())):
		// The field holds a reference to nested storage, allocated here.
		base := f.use(v.X)
		fld := f.c.field(deref(v.X.Type()), v.Field)
		nested := m.NewVar(v.Name()+"#storage", fld.Type)
		f.c.out.addNew(m.New(nested, fld.Type), v)
		m.StoreField(base, fld, nested)
		m.LoadField(f.def(v), base, fld)

	case escapes(v):
		m.Copy(f.def(v), f.use(v.X))
	}
}

func (f *frame) indexAddr(v *ssa.IndexAddr) {
	m := f.m
	switch {
	case aggregate(deref(v.Type())):
		base := f.use(v.X)
		nested := f.temp(v.Name()+"#storage", deref(v.Type()))
		f.c.out.addNew(m.New(nested, nested.Type), v)
		m.StoreArray(base, nested)
		m.LoadArray(f.def(v), base)

	case escapes(v):
		m.Copy(f.def(v), f.use(v.X))
	}
}

func (f *frame) ret(results []ssa.Value) {
	m := f.m
	switch len(results) {
	case 0:
	case 1:
		if tracked(results[0].Type()) {
			m.Return(f.use(results[0]))
		}
	default:
		tup := f.fn.Signature.Results()
		cls := f.c.classOf(tup)
		res := m.NewVar("results", cls)
		m.New(res, cls)
		for i, r := range results {
			if tracked(r.Type()) {
				m.StoreField(res, f.c.result(tup, i), f.use(r))
			}
		}
		m.Return(res)
	}
}

func (f *frame) call(call ssa.CallInstruction) {
	m := f.m
	common := call.Common()

	var res *ir.Var
	if v := call.Value(); v != nil && tracked(v.Type()) {
		res = f.def(v)
	}

	if _, isBuiltin := common.Value.(*ssa.Builtin); isBuiltin {
		f.builtin(call, res)
		return
	}

	var invoke *ir.Invoke
	switch callee := common.StaticCallee(); {
	case common.IsInvoke():
		itf := f.c.classOf(common.Value.Type())
		ref := ir.MethodRef{
			Class:  itf,
			Subsig: f.c.subsig(common.Method.Name(), common.Method.Type().(*types.Signature)),
		}
		invoke = m.InvokeInterface(res, f.use(common.Value), ref, f.uses(common.Args)...)

	case callee != nil:
		// Bound variables of an immediately applied closure are passed
		// ahead of the arguments.
		args := common.Args
		if mc, ok := common.Value.(*ssa.MakeClosure); ok {
			args = append(append([]ssa.Value(nil), mc.Bindings...), args...)
		}
		invoke = m.InvokeStatic(res, f.c.method(callee).Ref(), f.uses(args)...)

	default:
		sig := common.Signature()
		ref := ir.MethodRef{Class: f.c.classOf(sig), Subsig: f.c.subsig(CallMethod, sig)}
		invoke = m.InvokeInterface(res, f.use(common.Value), ref, f.uses(common.Args)...)
	}
	f.c.out.sites[invoke] = call
}

func elemOf(t types.Type) types.Type {
	switch ut := t.Underlying().(type) {
	case *types.Slice:
		return ut.Elem()
	case *types.Array:
		return ut.Elem()
	case *types.Pointer:
		return elemOf(ut.Elem())
	}
	return types.Typ[types.Invalid]
}

func (f *frame) builtin(call ssa.CallInstruction, res *ir.Var) {
	m := f.m
	common := call.Common()
	switch common.Value.Name() {
	case "append":
		if res == nil {
			return
		}
		s, elems := common.Args[0], common.Args[1]
		f.c.out.addNew(m.New(res, res.Type), call.Value())
		m.Copy(res, f.use(s))
		if elem := elemOf(s.Type()); tracked(elem) {
			f.copyElems(res, f.use(s), elem)
			if _, isSlice := elems.Type().Underlying().(*types.Slice); isSlice {
				f.copyElems(res, f.use(elems), elem)
			}
		}

	case "copy":
		if elem := elemOf(common.Args[0].Type()); tracked(elem) {
			f.copyElems(f.use(common.Args[0]), f.use(common.Args[1]), elem)
		}

	case "recover":
		if res != nil {
			m.LoadStatic(res, f.c.panicking)
		}

	case "ssa:wrapnilchk":
		if res != nil {
			m.Copy(res, f.use(common.Args[0]))
		}
	}
}

func (f *frame) copyElems(dst, src *ir.Var, elem types.Type) {
	tmp := f.temp(src.Name+"[*]", elem)
	f.m.LoadArray(tmp, src)
	f.m.StoreArray(dst, tmp)
}
