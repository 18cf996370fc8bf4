package pta

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/BarrensZeppelin/pta/ir"
)

// ContextSelector is the context-sensitivity policy of the analysis.
//
// Implementations must be deterministic and produce contexts from a finite
// range, which together with the finite program guarantees termination.
type ContextSelector interface {
	// EmptyContext returns the context of the entry method.
	EmptyContext() Context
	// SelectStaticContext returns the callee context for a call without a
	// receiver object.
	SelectStaticContext(site CSCallSite, callee *ir.Method) Context
	// SelectContext returns the callee context for an instance call on recv.
	SelectContext(site CSCallSite, recv CSObj, callee *ir.Method) Context
	// SelectHeapContext returns the context under which an object allocated in
	// method is abstracted.
	SelectHeapContext(method CSMethod, obj *Obj) Context
}

type insensitive struct{ empty Context }

// Insensitive returns the context-insensitive selector: every method and
// object is analyzed under the empty context.
func Insensitive() ContextSelector {
	return insensitive{newContextTrie()}
}

func (s insensitive) EmptyContext() Context { return s.empty }

func (s insensitive) SelectStaticContext(CSCallSite, *ir.Method) Context { return s.empty }

func (s insensitive) SelectContext(CSCallSite, CSObj, *ir.Method) Context { return s.empty }

func (s insensitive) SelectHeapContext(CSMethod, *Obj) Context { return s.empty }

func (insensitive) String() string { return "ci" }

// limits holds the method context depth k and the heap context depth hk.
type limits struct {
	empty Context
	k, hk int
}

func newLimits(k, hk int) limits {
	if k < 0 || hk < 0 {
		panic(fmt.Errorf("context limits must be non-negative, got k=%d hk=%d", k, hk))
	}
	return limits{newContextTrie(), k, hk}
}

func (l limits) EmptyContext() Context { return l.empty }

func (l limits) SelectHeapContext(method CSMethod, _ *Obj) Context {
	return method.Ctx.Suffix(l.hk)
}

type kCallSite struct{ limits }

// KCallSite returns a call-string selector keeping the k most recent call
// sites for methods and hk for heap objects.
func KCallSite(k, hk int) ContextSelector {
	return kCallSite{newLimits(k, hk)}
}

func (s kCallSite) SelectStaticContext(site CSCallSite, _ *ir.Method) Context {
	return site.Ctx.Append(site.Invoke, s.k)
}

func (s kCallSite) SelectContext(site CSCallSite, _ CSObj, _ *ir.Method) Context {
	return site.Ctx.Append(site.Invoke, s.k)
}

func (s kCallSite) String() string { return fmt.Sprintf("%d-call", s.k) }

type kObject struct{ limits }

// KObject returns an object-sensitive selector: instance methods are analyzed
// under the receiver object and its heap context, limited to k elements.
// Static calls inherit the caller's context.
func KObject(k, hk int) ContextSelector {
	return kObject{newLimits(k, hk)}
}

func (s kObject) SelectStaticContext(site CSCallSite, _ *ir.Method) Context {
	return site.Ctx
}

func (s kObject) SelectContext(_ CSCallSite, recv CSObj, _ *ir.Method) Context {
	return recv.Ctx.Append(recv.Obj, s.k)
}

func (s kObject) String() string { return fmt.Sprintf("%d-obj", s.k) }

type kType struct{ limits }

// KType returns a type-sensitive selector. It is KObject with each receiver
// object replaced by the class declaring the method that allocated it.
func KType(k, hk int) ContextSelector {
	return kType{newLimits(k, hk)}
}

func (s kType) SelectStaticContext(site CSCallSite, _ *ir.Method) Context {
	return site.Ctx
}

func (s kType) SelectContext(_ CSCallSite, recv CSObj, _ *ir.Method) Context {
	var elem ir.Type = recv.Obj.Type()
	if m := recv.Obj.Container(); m != nil {
		elem = m.Class
	}
	return recv.Ctx.Append(elem, s.k)
}

func (s kType) String() string { return fmt.Sprintf("%d-type", s.k) }

var selectorRE = regexp.MustCompile(`^(\d+)-(call|obj|type)$`)

// ParseSelector builds a selector from its name: "ci" or "<k>-call",
// "<k>-obj", "<k>-type". The heap context depth is k-1.
func ParseSelector(name string) (ContextSelector, error) {
	if name == "ci" || name == "" {
		return Insensitive(), nil
	}

	m := selectorRE.FindStringSubmatch(name)
	if m == nil {
		return nil, fmt.Errorf("unknown context selector %q", name)
	}

	k, err := strconv.Atoi(m[1])
	if err != nil || k == 0 {
		return nil, fmt.Errorf("invalid context depth in %q", name)
	}

	switch m[2] {
	case "call":
		return KCallSite(k, k-1), nil
	case "obj":
		return KObject(k, k-1), nil
	default:
		return KType(k, k-1), nil
	}
}
