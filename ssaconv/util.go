package ssaconv

import (
	"fmt"
	"go/types"

	"golang.org/x/tools/go/ssa"
)

func PointerLike(t types.Type) bool {
	switch t := t.(type) {
	case *types.Pointer,
		*types.Map,
		*types.Chan,
		*types.Slice,
		*types.Interface,
		*types.Signature:
		return true
	case *types.Named:
		return PointerLike(t.Underlying())
	default:
		return false
	}
}

// aggregate reports whether values of type t are structs or arrays. Such
// values are represented by the storage objects they were loaded from.
func aggregate(t types.Type) bool {
	switch t.Underlying().(type) {
	case *types.Struct, *types.Array:
		return true
	default:
		return false
	}
}

// tracked reports whether values of type t may carry pointers and are
// therefore given a variable.
func tracked(t types.Type) bool {
	if _, isTuple := t.(*types.Tuple); isTuple {
		return true
	}
	return PointerLike(t) || aggregate(t)
}

func fieldName(st *types.Struct, i int) string {
	if name := st.Field(i).Name(); name != "_" {
		return name
	}
	return fmt.Sprintf("_%d", i)
}

// escapes reports whether the address v is used other than directly as the
// operand of a load or as the address of a store.
func escapes(v ssa.Value) bool {
	refs := v.Referrers()
	if refs == nil {
		return false
	}

	for _, ref := range *refs {
		switch ref := ref.(type) {
		case *ssa.UnOp:
			if ref.X == v {
				continue
			}
		case *ssa.Store:
			if ref.Addr == v && ref.Val != v {
				continue
			}
		case *ssa.DebugRef:
			continue
		}
		return true
	}
	return false
}
