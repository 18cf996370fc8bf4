package pta

import (
	"fmt"

	"github.com/BarrensZeppelin/pta/ir"
)

// This file contains definitions of types whose instances represent abstract
// objects that are targets of pointers in the analysed program.

// Obj is an abstract heap object. An Obj is either an allocation site,
// representing all objects allocated by a given New statement, or a mock
// object created on behalf of a plugin (e.g. a taint object).
//
// Objects are compared by identity; the heap model creates exactly one Obj per
// allocation site or mock descriptor.
type Obj struct {
	id    int
	alloc *ir.New
	desc  any
	typ   ir.Type
}

// Alloc returns the allocation site of the object, or nil for mock objects.
func (o *Obj) Alloc() *ir.New { return o.alloc }

// Desc returns the descriptor of a mock object, or nil for allocation sites.
func (o *Obj) Desc() any { return o.desc }

func (o *Obj) Type() ir.Type { return o.typ }

// ID is a dense index, unique within the heap model that created o.
func (o *Obj) ID() int { return o.id }

// Container returns the method containing the allocation site, or nil.
func (o *Obj) Container() *ir.Method {
	if o.alloc == nil {
		return nil
	}
	return o.alloc.Method()
}

func (o *Obj) String() string {
	if o.alloc != nil {
		return fmt.Sprintf("NewObj{%s[%d@%s]}", o.alloc.Method(), o.alloc.Index(), o.alloc)
	}
	return fmt.Sprintf("MockObj{%v: %s}", o.desc, o.typ)
}

// HeapModel maps allocation sites to abstract objects.
type HeapModel interface {
	// Obj returns the abstract object for the given allocation site.
	Obj(alloc *ir.New) *Obj
	// MockObj returns the abstract object identified by desc, which must be
	// comparable. Repeated calls with equal descriptors return the same object.
	MockObj(desc any, typ ir.Type) *Obj
	// Objects returns every object created so far, ordered by ID.
	Objects() []*Obj
}

type allocationSiteHeap struct {
	allocs  map[*ir.New]*Obj
	mocks   map[any]*Obj
	objects []*Obj
}

// NewAllocationSiteHeap returns the standard allocation-site abstraction: one
// abstract object per New statement.
func NewAllocationSiteHeap() HeapModel {
	return &allocationSiteHeap{
		allocs: make(map[*ir.New]*Obj),
		mocks:  make(map[any]*Obj),
	}
}

func (h *allocationSiteHeap) add(o *Obj) *Obj {
	o.id = len(h.objects)
	h.objects = append(h.objects, o)
	return o
}

func (h *allocationSiteHeap) Obj(alloc *ir.New) *Obj {
	if o, found := h.allocs[alloc]; found {
		return o
	}

	o := h.add(&Obj{alloc: alloc, typ: alloc.Type})
	h.allocs[alloc] = o
	return o
}

func (h *allocationSiteHeap) MockObj(desc any, typ ir.Type) *Obj {
	if o, found := h.mocks[desc]; found {
		return o
	}

	o := h.add(&Obj{desc: desc, typ: typ})
	h.mocks[desc] = o
	return o
}

func (h *allocationSiteHeap) Objects() []*Obj { return h.objects }

// CSObj is an abstract object qualified by the heap context it was allocated
// under.
type CSObj struct {
	Ctx Context
	Obj *Obj
}

func (o CSObj) String() string {
	return fmt.Sprintf("%s:%s", o.Ctx, o.Obj)
}
