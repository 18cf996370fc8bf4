package pta

import (
	"fmt"

	"github.com/BarrensZeppelin/pta/ir"
	log "github.com/sirupsen/logrus"
)

// Pointer is a node of the pointer flow graph. It is one of [CSVar],
// [InstanceField], [ArrayIndex] or [StaticField]. All variants are comparable
// values, so two pointers with the same key are the same node.
type Pointer interface {
	// method used to tag pointer variants
	pointerTag()
	fmt.Stringer
}

type ptag struct{}

func (ptag) pointerTag() {}

// CSVar is a local variable qualified by the context of its method.
type CSVar struct {
	ptag
	Ctx Context
	Var *ir.Var
}

func (p CSVar) String() string {
	return fmt.Sprintf("%s:%s/%s", p.Ctx, p.Var.Method(), p.Var)
}

// InstanceField is a field of a context-sensitive object.
type InstanceField struct {
	ptag
	Base  CSObj
	Field *ir.Field
}

func (p InstanceField) String() string {
	return fmt.Sprintf("%s.%s", p.Base, p.Field.Name)
}

// ArrayIndex summarizes all elements of an array object.
type ArrayIndex struct {
	ptag
	Array CSObj
}

func (p ArrayIndex) String() string { return fmt.Sprintf("%s[*]", p.Array) }

// StaticField is a static field. It is not qualified by any context.
type StaticField struct {
	ptag
	Field *ir.Field
}

func (p StaticField) String() string { return p.Field.String() }

func NewCSVar(ctx Context, v *ir.Var) CSVar {
	if ctx.node == nil {
		log.Panicf("variable %s qualified with invalid context", v)
	}
	return CSVar{Ctx: ctx, Var: v}
}

func NewInstanceField(base CSObj, field *ir.Field) InstanceField {
	if field.Static {
		log.Panicf("static field %s used as instance field of %s", field, base)
	}
	return InstanceField{Base: base, Field: field}
}

func NewArrayIndex(array CSObj) ArrayIndex {
	return ArrayIndex{Array: array}
}

func NewStaticField(field *ir.Field) StaticField {
	if !field.Static {
		log.Panicf("instance field %s used as static field", field)
	}
	return StaticField{Field: field}
}
