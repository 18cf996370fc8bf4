package ir

// Hierarchy answers subtyping and dispatch queries over the classes of a
// program. It is computed from the declared super types and becomes stale if
// classes are added afterwards; Program.Hierarchy recomputes it on demand.
type Hierarchy struct {
	subclasses    map[*Class][]*Class
	implementors  map[*Class][]*Class
	subinterfaces map[*Class][]*Class
}

// Hierarchy returns the class hierarchy of p.
func (p *Program) Hierarchy() *Hierarchy {
	if p.hierarchy != nil {
		return p.hierarchy
	}

	h := &Hierarchy{
		subclasses:    make(map[*Class][]*Class),
		implementors:  make(map[*Class][]*Class),
		subinterfaces: make(map[*Class][]*Class),
	}

	for _, c := range p.order {
		if c.Interface {
			for _, sup := range c.Interfaces {
				h.subinterfaces[sup] = append(h.subinterfaces[sup], c)
			}
			continue
		}

		if c.Super != nil {
			h.subclasses[c.Super] = append(h.subclasses[c.Super], c)
		}
		for _, itf := range c.Interfaces {
			h.implementors[itf] = append(h.implementors[itf], c)
		}
	}

	p.hierarchy = h
	return h
}

func (h *Hierarchy) DirectSubclassesOf(c *Class) []*Class { return h.subclasses[c] }

// DirectImplementorsOf returns the classes declaring that they implement itf.
func (h *Hierarchy) DirectImplementorsOf(itf *Class) []*Class { return h.implementors[itf] }

func (h *Hierarchy) DirectSubinterfacesOf(itf *Class) []*Class { return h.subinterfaces[itf] }

// IsSubclass reports whether sub is super or a (transitive) subtype of it.
func (h *Hierarchy) IsSubclass(super, sub *Class) bool {
	if sub == super {
		return true
	}
	if sub.Super != nil && h.IsSubclass(super, sub.Super) {
		return true
	}
	for _, itf := range sub.Interfaces {
		if h.IsSubclass(super, itf) {
			return true
		}
	}
	return false
}

// Dispatch finds the method invoked on an object of the given type for the
// given subsignature by walking the superclass chain. Abstract declarations
// are skipped. Interfaces and array types never dispatch, and nil is returned
// if no concrete method is found.
func (h *Hierarchy) Dispatch(typ Type, subsig string) *Method {
	c, ok := typ.(*Class)
	if !ok || c.Interface {
		return nil
	}

	for ; c != nil; c = c.Super {
		if m := c.DeclaredMethod(subsig); m != nil && !m.Abstract {
			return m
		}
	}
	return nil
}

// ResolveRef resolves a method reference without dynamic dispatch, as done for
// static and special calls: the referenced class and then its superclasses are
// searched for a concrete declaration.
func (h *Hierarchy) ResolveRef(ref MethodRef) *Method {
	for c := ref.Class; c != nil; c = c.Super {
		if m := c.DeclaredMethod(ref.Subsig); m != nil && !m.Abstract {
			return m
		}
	}
	return nil
}

// SubtypesOf returns c followed by all its transitive subclasses,
// implementors and subinterfaces, each exactly once.
func (h *Hierarchy) SubtypesOf(c *Class) []*Class {
	seen := map[*Class]bool{c: true}
	res := []*Class{c}
	for i := 0; i < len(res); i++ {
		cur := res[i]
		var next []*Class
		if cur.Interface {
			next = append(next, h.implementors[cur]...)
			next = append(next, h.subinterfaces[cur]...)
		} else {
			next = h.subclasses[cur]
		}

		for _, n := range next {
			if !seen[n] {
				seen[n] = true
				res = append(res, n)
			}
		}
	}
	return res
}
