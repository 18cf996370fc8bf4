package ir

import (
	"fmt"
	"strings"
)

// Stmt is a statement in a method body. The concrete statement types are
// [*New], [*Copy], [*LoadField], [*StoreField], [*LoadArray], [*StoreArray],
// [*Invoke] and [*Return].
type Stmt interface {
	fmt.Stringer
	// Method containing the statement.
	Method() *Method
	// Position of the statement in the method body.
	Index() int
	stmt()
}

type stmtBase struct {
	method *Method
	index  int
}

func (b *stmtBase) Method() *Method { return b.method }
func (b *stmtBase) Index() int      { return b.index }
func (*stmtBase) stmt()             {}

// New is an allocation site.
type New struct {
	stmtBase
	LHS  *Var
	Type Type
}

func (s *New) String() string {
	return fmt.Sprintf("%s = new %s", s.LHS, s.Type)
}

type Copy struct {
	stmtBase
	LHS, RHS *Var
}

func (s *Copy) String() string { return fmt.Sprintf("%s = %s", s.LHS, s.RHS) }

// LoadField reads an instance field (Base != nil) or a static field.
type LoadField struct {
	stmtBase
	LHS   *Var
	Base  *Var
	Field *Field
}

func (s *LoadField) IsStatic() bool { return s.Base == nil }

func (s *LoadField) String() string {
	if s.IsStatic() {
		return fmt.Sprintf("%s = %s.%s", s.LHS, s.Field.Class, s.Field.Name)
	}
	return fmt.Sprintf("%s = %s.%s", s.LHS, s.Base, s.Field.Name)
}

// StoreField writes an instance field (Base != nil) or a static field.
type StoreField struct {
	stmtBase
	Base  *Var
	Field *Field
	RHS   *Var
}

func (s *StoreField) IsStatic() bool { return s.Base == nil }

func (s *StoreField) String() string {
	if s.IsStatic() {
		return fmt.Sprintf("%s.%s = %s", s.Field.Class, s.Field.Name, s.RHS)
	}
	return fmt.Sprintf("%s.%s = %s", s.Base, s.Field.Name, s.RHS)
}

// LoadArray reads an element of an array. Indices are not distinguished.
type LoadArray struct {
	stmtBase
	LHS, Base *Var
}

func (s *LoadArray) String() string { return fmt.Sprintf("%s = %s[*]", s.LHS, s.Base) }

type StoreArray struct {
	stmtBase
	Base, RHS *Var
}

func (s *StoreArray) String() string { return fmt.Sprintf("%s[*] = %s", s.Base, s.RHS) }

type Return struct {
	stmtBase
	Value *Var
}

func (s *Return) String() string {
	if s.Value == nil {
		return "return"
	}
	return "return " + s.Value.String()
}

// MethodRef is a symbolic reference to a method as it appears at a call
// site. It is resolved through the Hierarchy.
type MethodRef struct {
	Class  *Class
	Subsig string
}

func (r MethodRef) String() string {
	return fmt.Sprintf("<%s: %s>", r.Class.Name, r.Subsig)
}

func (r MethodRef) IsConstructor() bool {
	return strings.HasPrefix(r.Subsig, ConstructorName+"(")
}

// CallKind classifies how the target of a call is resolved.
type CallKind int

const (
	Static CallKind = iota
	Special
	Virtual
	Interface
)

func (k CallKind) String() string {
	switch k {
	case Static:
		return "static"
	case Special:
		return "special"
	case Virtual:
		return "virtual"
	case Interface:
		return "interface"
	default:
		return fmt.Sprintf("CallKind(%d)", int(k))
	}
}

// Invoke is a call site.
type Invoke struct {
	stmtBase
	// Variable receiving the result, or nil.
	Result *Var
	Ref    MethodRef
	// Receiver variable, nil for static calls.
	Base *Var
	Args []*Var

	special bool
}

// Kind classifies the call from its static shape.
func (s *Invoke) Kind() CallKind {
	switch {
	case s.Base == nil:
		return Static
	case s.special || s.Ref.IsConstructor():
		return Special
	case s.Ref.Class.Interface:
		return Interface
	default:
		return Virtual
	}
}

func (s *Invoke) IsStatic() bool { return s.Base == nil }

// Arg returns the i'th argument (not counting the receiver).
func (s *Invoke) Arg(i int) *Var { return s.Args[i] }

func (s *Invoke) String() string {
	args := make([]string, len(s.Args))
	for i, a := range s.Args {
		args[i] = a.String()
	}

	var sb strings.Builder
	if s.Result != nil {
		fmt.Fprintf(&sb, "%s = ", s.Result)
	}
	fmt.Fprintf(&sb, "invoke%s ", s.Kind())
	if s.Base != nil {
		fmt.Fprintf(&sb, "%s.", s.Base)
	}
	fmt.Fprintf(&sb, "%s(%s)", s.Ref, strings.Join(args, ", "))
	return sb.String()
}

// Site renders the call site with its enclosing method and position, which
// identifies it uniquely within a program.
func (s *Invoke) Site() string {
	return fmt.Sprintf("%s[%d@%s]", s.method, s.index, s.Ref.Subsig)
}
