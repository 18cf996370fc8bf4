package pta

// PointsToSet is a growing set of context-sensitive objects. Membership is by
// identity of the (context, object) pair; iteration follows insertion order.
type PointsToSet struct {
	elems []CSObj
	index map[CSObj]struct{}
}

func NewPointsToSet(objs ...CSObj) *PointsToSet {
	s := &PointsToSet{}
	for _, o := range objs {
		s.Add(o)
	}
	return s
}

// Add inserts o and reports whether it was not already present.
func (s *PointsToSet) Add(o CSObj) bool {
	if _, found := s.index[o]; found {
		return false
	}

	if s.index == nil {
		s.index = make(map[CSObj]struct{})
	}
	s.index[o] = struct{}{}
	s.elems = append(s.elems, o)
	return true
}

func (s *PointsToSet) Contains(o CSObj) bool {
	_, found := s.index[o]
	return found
}

func (s *PointsToSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.elems)
}

func (s *PointsToSet) IsEmpty() bool { return s.Len() == 0 }

// Objects returns a copy of the members in insertion order.
func (s *PointsToSet) Objects() []CSObj {
	if s == nil {
		return nil
	}
	return append([]CSObj(nil), s.elems...)
}

// Iterate calls f on each member in insertion order. f must not add to s.
func (s *PointsToSet) Iterate(f func(CSObj)) {
	if s == nil {
		return
	}
	for _, o := range s.elems {
		f(o)
	}
}

// Copy returns an independent copy of s.
func (s *PointsToSet) Copy() *PointsToSet {
	return NewPointsToSet(s.Objects()...)
}

type pointerID int

type pfgNode struct {
	pointer Pointer
	pts     *PointsToSet
	succs   []pointerID
	succSet map[pointerID]struct{}
}

// PointerFlowGraph is the graph of subset constraints between pointers. An
// edge s → t means that every object pointed to by s is also pointed to by t.
//
// Nodes live in an arena and are addressed by dense ids. A node, and its
// points-to set, is created the first time its pointer is mentioned. Edges
// are never removed.
type PointerFlowGraph struct {
	ids   map[Pointer]pointerID
	nodes []*pfgNode
	edges int
}

func NewPointerFlowGraph() *PointerFlowGraph {
	return &PointerFlowGraph{ids: make(map[Pointer]pointerID)}
}

func (g *PointerFlowGraph) id(p Pointer) pointerID {
	if id, found := g.ids[p]; found {
		return id
	}

	id := pointerID(len(g.nodes))
	g.ids[p] = id
	g.nodes = append(g.nodes, &pfgNode{pointer: p, pts: &PointsToSet{}})
	return id
}

func (g *PointerFlowGraph) node(p Pointer) *pfgNode {
	return g.nodes[g.id(p)]
}

// AddEdge adds the edge source → target and reports whether it is new.
func (g *PointerFlowGraph) AddEdge(source, target Pointer) bool {
	src := g.node(source)
	tgt := g.id(target)

	if _, found := src.succSet[tgt]; found {
		return false
	}

	if src.succSet == nil {
		src.succSet = make(map[pointerID]struct{})
	}
	src.succSet[tgt] = struct{}{}
	src.succs = append(src.succs, tgt)
	g.edges++
	return true
}

// SuccessorsOf returns the pointers that receive every future addition to the
// points-to set of p.
func (g *PointerFlowGraph) SuccessorsOf(p Pointer) []Pointer {
	id, found := g.ids[p]
	if !found {
		return nil
	}

	succs := g.nodes[id].succs
	res := make([]Pointer, len(succs))
	for i, s := range succs {
		res[i] = g.nodes[s].pointer
	}
	return res
}

// PointsTo returns the points-to set of p, creating the node if needed. The
// returned set is owned by the graph.
func (g *PointerFlowGraph) PointsTo(p Pointer) *PointsToSet {
	return g.node(p).pts
}

// Lookup returns the points-to set of p without creating a node.
func (g *PointerFlowGraph) Lookup(p Pointer) (*PointsToSet, bool) {
	id, found := g.ids[p]
	if !found {
		return nil, false
	}
	return g.nodes[id].pts, true
}

// Pointers returns all nodes in creation order.
func (g *PointerFlowGraph) Pointers() []Pointer {
	res := make([]Pointer, len(g.nodes))
	for i, n := range g.nodes {
		res[i] = n.pointer
	}
	return res
}

func (g *PointerFlowGraph) NumPointers() int { return len(g.nodes) }

func (g *PointerFlowGraph) NumEdges() int { return g.edges }
