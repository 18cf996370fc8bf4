package ir

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

// Type is the static type of a variable or abstract object.
// A type is either a [*Class] or an [*ArrayType].
type Type interface {
	fmt.Stringer
	irType()
}

type ArrayType struct {
	Elem Type
}

func (*ArrayType) irType() {}

func (a *ArrayType) String() string { return a.Elem.String() + "[]" }

// Class is a class or interface declared in a Program.
type Class struct {
	prog *Program

	Name       string
	Super      *Class
	Interfaces []*Class
	Interface  bool
	Abstract   bool

	methods     map[string]*Method
	methodOrder []*Method
	fields      map[string]*Field
	fieldOrder  []*Field
}

func (*Class) irType() {}

func (c *Class) String() string { return c.Name }

func (c *Class) Program() *Program { return c.prog }

// AddInterface records that c implements (or, if c is an interface, extends)
// itf. Frontends use it when subtyping is only known after all classes exist.
func (c *Class) AddInterface(itf *Class) {
	if !itf.Interface {
		panic(fmt.Errorf("%s is not an interface", itf.Name))
	}
	c.Interfaces = append(c.Interfaces, itf)
	c.prog.hierarchy = nil
}

// Field is an instance or static field declared in a class.
type Field struct {
	Class  *Class
	Name   string
	Type   Type
	Static bool
}

func (f *Field) String() string {
	return fmt.Sprintf("<%s: %s %s>", f.Class.Name, f.Type, f.Name)
}

func (c *Class) newField(name string, typ Type, static bool) *Field {
	if _, found := c.fields[name]; found {
		panic(fmt.Errorf("duplicate field %s in %s", name, c.Name))
	}

	f := &Field{Class: c, Name: name, Type: typ, Static: static}
	c.fields[name] = f
	c.fieldOrder = append(c.fieldOrder, f)
	return f
}

func (c *Class) NewField(name string, typ Type) *Field {
	return c.newField(name, typ, false)
}

func (c *Class) NewStaticField(name string, typ Type) *Field {
	return c.newField(name, typ, true)
}

// DeclaredField returns the field with the given name declared directly in c,
// or nil.
func (c *Class) DeclaredField(name string) *Field { return c.fields[name] }

func (c *Class) Fields() []*Field { return c.fieldOrder }

// Subsignature returns the subsignature of a method with the given name and
// parameter types, e.g. "m(A,B)".
func Subsignature(name string, params ...Type) string {
	ps := make([]string, len(params))
	for i, p := range params {
		ps[i] = p.String()
	}
	return name + "(" + strings.Join(ps, ",") + ")"
}

func (c *Class) newMethod(name string, static, abstract bool, params []Type) *Method {
	subsig := Subsignature(name, params...)
	if _, found := c.methods[subsig]; found {
		panic(fmt.Errorf("duplicate method %s in %s", subsig, c.Name))
	}

	m := &Method{
		Class:    c,
		Name:     name,
		Subsig:   subsig,
		Static:   static,
		Abstract: abstract,
	}

	if !static {
		m.this = m.NewVar("this", c)
	}
	for i, p := range params {
		m.params = append(m.params, m.NewVar(fmt.Sprintf("p%d", i), p))
	}

	c.methods[subsig] = m
	c.methodOrder = append(c.methodOrder, m)
	return m
}

// NewMethod declares a concrete method with a body that is populated through
// the statement builders on the returned method.
func (c *Class) NewMethod(name string, static bool, params ...Type) *Method {
	return c.newMethod(name, static, false, params)
}

func (c *Class) NewAbstractMethod(name string, params ...Type) *Method {
	return c.newMethod(name, false, true, params)
}

// NewConstructor declares an instance initializer. Calls to it are always
// special invocations.
func (c *Class) NewConstructor(params ...Type) *Method {
	return c.newMethod(ConstructorName, false, false, params)
}

const ConstructorName = "<init>"

// DeclaredMethod returns the method with the given subsignature declared
// directly in c, or nil.
func (c *Class) DeclaredMethod(subsig string) *Method { return c.methods[subsig] }

// Methods returns the methods declared in c in declaration order.
func (c *Class) Methods() []*Method { return c.methodOrder }

// Program is a closed world of classes together with an entry method.
type Program struct {
	classes map[string]*Class
	order   []*Class
	entry   *Method

	hierarchy *Hierarchy
}

func NewProgram() *Program {
	return &Program{classes: make(map[string]*Class)}
}

func (p *Program) newClass(name string, super *Class, ifaces []*Class, itf, abstract bool) *Class {
	if _, found := p.classes[name]; found {
		panic(fmt.Errorf("duplicate class %s", name))
	}

	c := &Class{
		prog:       p,
		Name:       name,
		Super:      super,
		Interfaces: ifaces,
		Interface:  itf,
		Abstract:   abstract || itf,
		methods:    make(map[string]*Method),
		fields:     make(map[string]*Field),
	}

	p.classes[name] = c
	p.order = append(p.order, c)
	p.hierarchy = nil
	return c
}

// NewClass declares a concrete class with an optional superclass and a list of
// implemented interfaces.
func (p *Program) NewClass(name string, super *Class, ifaces ...*Class) *Class {
	return p.newClass(name, super, ifaces, false, false)
}

func (p *Program) NewAbstractClass(name string, super *Class, ifaces ...*Class) *Class {
	return p.newClass(name, super, ifaces, false, true)
}

// NewInterface declares an interface extending the given super interfaces.
func (p *Program) NewInterface(name string, supers ...*Class) *Class {
	return p.newClass(name, nil, supers, true, true)
}

func (p *Program) Class(name string) *Class { return p.classes[name] }

// Classes returns all classes in declaration order.
func (p *Program) Classes() []*Class { return p.order }

func (p *Program) SetEntry(m *Method) { p.entry = m }

func (p *Program) Entry() *Method { return p.entry }

// LookupMethod finds a method from a signature of the form
// "<Class: name(T1,T2)>".
func (p *Program) LookupMethod(signature string) (*Method, error) {
	sig := strings.TrimSpace(signature)
	if !strings.HasPrefix(sig, "<") || !strings.HasSuffix(sig, ">") {
		return nil, fmt.Errorf("malformed method signature %q", signature)
	}

	className, subsig, found := strings.Cut(sig[1:len(sig)-1], ":")
	if !found {
		return nil, fmt.Errorf("malformed method signature %q", signature)
	}

	c := p.Class(strings.TrimSpace(className))
	if c == nil {
		return nil, fmt.Errorf("unknown class in %q", signature)
	}

	m := c.DeclaredMethod(strings.TrimSpace(subsig))
	if m == nil {
		return nil, fmt.Errorf("unknown method in %q", signature)
	}
	return m, nil
}

// LookupType resolves a type name. Array types are written with a trailing
// "[]".
func (p *Program) LookupType(name string) (Type, error) {
	name = strings.TrimSpace(name)
	if elem, isArray := strings.CutSuffix(name, "[]"); isArray {
		et, err := p.LookupType(elem)
		if err != nil {
			return nil, err
		}
		return &ArrayType{Elem: et}, nil
	}

	if c := p.Class(name); c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("unknown type %q", name)
}

// Methods returns every declared method of the program, ordered by signature.
func (p *Program) Methods() []*Method {
	var res []*Method
	for _, c := range p.order {
		res = append(res, c.methodOrder...)
	}
	slices.SortStableFunc(res, func(a, b *Method) bool {
		return a.String() < b.String()
	})
	return res
}
