package pta

import (
	"fmt"
	"strings"
)

// Context is a calling (or allocation) context: a bounded sequence of context
// elements such as call sites, abstract objects or types.
//
// Contexts are interned in a trie owned by the selector that created them, so
// two contexts are equal (==) exactly when they contain the same elements.
// The zero Context is not valid; use ContextSelector.EmptyContext.
type Context struct {
	node *contextNode
}

type contextNode struct {
	root     *contextNode
	parent   *contextNode
	elem     any
	depth    int
	children map[any]*contextNode
}

func newContextTrie() Context {
	root := &contextNode{}
	root.root = root
	return Context{root}
}

func (n *contextNode) child(elem any) *contextNode {
	if c, found := n.children[elem]; found {
		return c
	}

	if n.children == nil {
		n.children = make(map[any]*contextNode)
	}
	c := &contextNode{root: n.root, parent: n, elem: elem, depth: n.depth + 1}
	n.children[elem] = c
	return c
}

// Len returns the number of elements in the context.
func (c Context) Len() int { return c.node.depth }

func (c Context) IsEmpty() bool { return c.node.depth == 0 }

// Elems returns the elements of the context, oldest first.
func (c Context) Elems() []any {
	res := make([]any, c.node.depth)
	for n := c.node; n.parent != nil; n = n.parent {
		res[n.depth-1] = n.elem
	}
	return res
}

// Elem returns the i'th element, oldest first.
func (c Context) Elem(i int) any {
	if i < 0 || i >= c.node.depth {
		panic(fmt.Errorf("context element %d out of range [0, %d)", i, c.node.depth))
	}

	n := c.node
	for n.depth > i+1 {
		n = n.parent
	}
	return n.elem
}

// Suffix returns the context made of the (at most) k newest elements of c.
func (c Context) Suffix(k int) Context {
	if k >= c.node.depth {
		return c
	}

	elems := c.Elems()
	n := c.node.root
	for _, e := range elems[len(elems)-k:] {
		n = n.child(e)
	}
	return Context{n}
}

// Append returns the context of c extended with elem, limited to the k newest
// elements.
func (c Context) Append(elem any, k int) Context {
	if k <= 0 {
		return Context{c.node.root}
	}

	if c.node.depth < k {
		return Context{c.node.child(elem)}
	}
	return Context{c.Suffix(k - 1).node.child(elem)}
}

func (c Context) String() string {
	if c.node == nil {
		return "<invalid>"
	}

	elems := c.Elems()
	parts := make([]string, len(elems))
	for i, e := range elems {
		switch e := e.(type) {
		case interface{ Site() string }:
			parts[i] = e.Site()
		case fmt.Stringer:
			parts[i] = e.String()
		default:
			parts[i] = fmt.Sprint(e)
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
