package ir

import (
	"fmt"
	"strings"
)

// Method is a method declared in a class. The body is built incrementally
// through the statement builders, which also maintain the backward indices of
// every variable involved.
type Method struct {
	Class    *Class
	Name     string
	Subsig   string
	Static   bool
	Abstract bool

	this    *Var
	params  []*Var
	returns []*Var
	vars    []*Var
	stmts   []Stmt
	invokes []*Invoke
}

func (m *Method) String() string {
	return fmt.Sprintf("<%s: %s>", m.Class.Name, m.Subsig)
}

// This returns the receiver variable, or nil for static methods.
func (m *Method) This() *Var { return m.this }

func (m *Method) Params() []*Var { return m.params }

// Param returns the i'th parameter (not counting the receiver).
func (m *Method) Param(i int) *Var { return m.params[i] }

// ReturnVars returns the variables that flow to the method's result.
func (m *Method) ReturnVars() []*Var { return m.returns }

func (m *Method) Vars() []*Var { return m.vars }

func (m *Method) Stmts() []Stmt { return m.stmts }

// Invokes returns the call sites in the method body.
func (m *Method) Invokes() []*Invoke { return m.invokes }

func (m *Method) Ref() MethodRef { return MethodRef{Class: m.Class, Subsig: m.Subsig} }

func (m *Method) IsConstructor() bool { return m.Name == ConstructorName }

// NewVar declares a fresh local variable in m.
func (m *Method) NewVar(name string, typ Type) *Var {
	v := &Var{Name: name, Type: typ, method: m, index: len(m.vars)}
	m.vars = append(m.vars, v)
	return v
}

func (m *Method) checkVar(vs ...*Var) {
	for _, v := range vs {
		if v != nil && v.method != m {
			panic(fmt.Errorf("variable %s does not belong to %s", v, m))
		}
	}
}

func (m *Method) add(s Stmt, b *stmtBase) {
	if m.Abstract {
		panic(fmt.Errorf("abstract method %s cannot have a body", m))
	}

	b.method = m
	b.index = len(m.stmts)
	m.stmts = append(m.stmts, s)
}

// New appends "lhs = new typ".
func (m *Method) New(lhs *Var, typ Type) *New {
	m.checkVar(lhs)
	s := &New{LHS: lhs, Type: typ}
	m.add(s, &s.stmtBase)
	return s
}

// Copy appends "lhs = rhs".
func (m *Method) Copy(lhs, rhs *Var) *Copy {
	m.checkVar(lhs, rhs)
	s := &Copy{LHS: lhs, RHS: rhs}
	m.add(s, &s.stmtBase)
	return s
}

// LoadField appends "lhs = base.field".
func (m *Method) LoadField(lhs, base *Var, field *Field) *LoadField {
	if field.Static {
		panic(fmt.Errorf("instance load of static field %s", field))
	}

	m.checkVar(lhs, base)
	s := &LoadField{LHS: lhs, Base: base, Field: field}
	m.add(s, &s.stmtBase)
	base.loadFields = append(base.loadFields, s)
	return s
}

// LoadStatic appends "lhs = C.field".
func (m *Method) LoadStatic(lhs *Var, field *Field) *LoadField {
	if !field.Static {
		panic(fmt.Errorf("static load of instance field %s", field))
	}

	m.checkVar(lhs)
	s := &LoadField{LHS: lhs, Field: field}
	m.add(s, &s.stmtBase)
	return s
}

// StoreField appends "base.field = rhs".
func (m *Method) StoreField(base *Var, field *Field, rhs *Var) *StoreField {
	if field.Static {
		panic(fmt.Errorf("instance store to static field %s", field))
	}

	m.checkVar(base, rhs)
	s := &StoreField{Base: base, Field: field, RHS: rhs}
	m.add(s, &s.stmtBase)
	base.storeFields = append(base.storeFields, s)
	return s
}

// StoreStatic appends "C.field = rhs".
func (m *Method) StoreStatic(field *Field, rhs *Var) *StoreField {
	if !field.Static {
		panic(fmt.Errorf("static store to instance field %s", field))
	}

	m.checkVar(rhs)
	s := &StoreField{Field: field, RHS: rhs}
	m.add(s, &s.stmtBase)
	return s
}

// LoadArray appends "lhs = base[*]".
func (m *Method) LoadArray(lhs, base *Var) *LoadArray {
	m.checkVar(lhs, base)
	s := &LoadArray{LHS: lhs, Base: base}
	m.add(s, &s.stmtBase)
	base.loadArrays = append(base.loadArrays, s)
	return s
}

// StoreArray appends "base[*] = rhs".
func (m *Method) StoreArray(base, rhs *Var) *StoreArray {
	m.checkVar(base, rhs)
	s := &StoreArray{Base: base, RHS: rhs}
	m.add(s, &s.stmtBase)
	base.storeArrays = append(base.storeArrays, s)
	return s
}

func (m *Method) invoke(result *Var, ref MethodRef, base *Var, special bool, args []*Var) *Invoke {
	m.checkVar(result, base)
	m.checkVar(args...)

	s := &Invoke{
		Result:  result,
		Ref:     ref,
		Base:    base,
		Args:    args,
		special: special,
	}
	m.add(s, &s.stmtBase)
	m.invokes = append(m.invokes, s)
	if base != nil {
		base.invokes = append(base.invokes, s)
	}
	return s
}

// InvokeStatic appends "result = C.m(args)". result may be nil.
func (m *Method) InvokeStatic(result *Var, ref MethodRef, args ...*Var) *Invoke {
	return m.invoke(result, ref, nil, false, args)
}

// InvokeSpecial appends a non-dispatched instance call, as used for
// constructors, super calls and private methods.
func (m *Method) InvokeSpecial(result *Var, base *Var, ref MethodRef, args ...*Var) *Invoke {
	return m.invoke(result, ref, base, true, args)
}

// InvokeVirtual appends "result = base.m(args)". The call is an interface
// call if the referenced class is an interface.
func (m *Method) InvokeVirtual(result *Var, base *Var, ref MethodRef, args ...*Var) *Invoke {
	return m.invoke(result, ref, base, false, args)
}

// InvokeInterface is InvokeVirtual with an interface reference.
func (m *Method) InvokeInterface(result *Var, base *Var, ref MethodRef, args ...*Var) *Invoke {
	if !ref.Class.Interface {
		panic(fmt.Errorf("interface invocation of non-interface method %s", ref))
	}
	return m.invoke(result, ref, base, false, args)
}

// Return appends "return v" and registers v as a return variable.
func (m *Method) Return(v *Var) *Return {
	m.checkVar(v)
	s := &Return{Value: v}
	m.add(s, &s.stmtBase)
	if v != nil {
		m.returns = append(m.returns, v)
	}
	return s
}

// Dump renders the method body, one statement per line.
func (m *Method) Dump() string {
	var sb strings.Builder
	fmt.Fprintln(&sb, m)
	for _, s := range m.stmts {
		fmt.Fprintf(&sb, "  %d: %v\n", s.Index(), s)
	}
	return sb.String()
}

// Var is a local variable of a method.
type Var struct {
	Name string
	Type Type

	method *Method
	index  int

	loadFields  []*LoadField
	storeFields []*StoreField
	loadArrays  []*LoadArray
	storeArrays []*StoreArray
	invokes     []*Invoke
}

func (v *Var) String() string { return v.Name }

func (v *Var) Method() *Method { return v.method }

// Index is the position of v among the variables of its method.
func (v *Var) Index() int { return v.index }

// LoadFields returns the instance field loads with v as base.
func (v *Var) LoadFields() []*LoadField { return v.loadFields }

// StoreFields returns the instance field stores with v as base.
func (v *Var) StoreFields() []*StoreField { return v.storeFields }

func (v *Var) LoadArrays() []*LoadArray { return v.loadArrays }

func (v *Var) StoreArrays() []*StoreArray { return v.storeArrays }

// Invokes returns the instance calls with v as receiver.
func (v *Var) Invokes() []*Invoke { return v.invokes }
