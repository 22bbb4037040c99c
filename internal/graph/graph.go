// Package graph holds the append-only provenance graph: operation and
// value nodes joined by data, output, mutates, and control edges.
// Nodes are never removed once added; the session-scoped object
// registry shrinks independently of the graph.
package graph

import (
	"fmt"

	"github.com/ppiankov/flowtrace/internal/event"
	"github.com/ppiankov/flowtrace/internal/object"
)

// NodeKind discriminates graph nodes.
type NodeKind string

const (
	NodeOperation NodeKind = "operation"
	NodeValue     NodeKind = "value"
)

// EdgeKind discriminates graph edges.
type EdgeKind string

const (
	// EdgeData connects a value version to an operation consuming it.
	EdgeData EdgeKind = "data"
	// EdgeOutput connects an operation to a value version it produced.
	EdgeOutput EdgeKind = "output"
	// EdgeMutates chains an old value version to its successor,
	// annotated with the mutating operation.
	EdgeMutates EdgeKind = "mutates"
	// EdgeControl connects a caller operation to a nested callee.
	EdgeControl EdgeKind = "control"
)

// Node is one graph node. Operation fields and value fields are
// mutually exclusive by Kind.
type Node struct {
	ID    string    `json:"id"`
	Kind  NodeKind  `json:"kind"`
	Label string    `json:"label"`
	Loc   event.Loc `json:"loc,omitempty"`
	Seq   uint64    `json:"seq"` // creation sequence number

	// Operation fields.
	Qual     string `json:"qual,omitempty"`
	StartSeq uint64 `json:"start_seq,omitempty"`
	EndSeq   uint64 `json:"end_seq,omitempty"`

	// Value fields.
	Type     string          `json:"type,omitempty"`
	Summary  string          `json:"summary,omitempty"`
	Owner    object.Identity `json:"owner,omitempty"`
	External bool            `json:"external,omitempty"` // produced by the external-source sentinel
	Producer string          `json:"producer,omitempty"` // producing operation id; "" means external
}

// Edge is one directed graph edge.
type Edge struct {
	Kind EdgeKind `json:"kind"`
	From string   `json:"from"`
	To   string   `json:"to"`
	Seq  uint64   `json:"seq"`            // sequence number of the event that added the edge
	Op   string   `json:"op,omitempty"`   // mutates: the mutating operation id
	Name string   `json:"name,omitempty"` // data/output: argument or binding name
}

// Graph is the provenance graph for one trace session.
type Graph struct {
	Script string // source path of the traced script
	Root   string // id of the root operation

	nodes map[string]*Node
	order []string // node ids in insertion order
	edges []Edge
}

// New creates an empty graph for script.
func New(script string) *Graph {
	return &Graph{
		Script: script,
		nodes:  make(map[string]*Node),
	}
}

// AddNode appends a node. Node ids are unique for the graph's
// lifetime; a duplicate id is a caller bug.
func (g *Graph) AddNode(n *Node) error {
	if n.ID == "" {
		return fmt.Errorf("graph: node without id")
	}
	if _, exists := g.nodes[n.ID]; exists {
		return fmt.Errorf("graph: duplicate node id %q", n.ID)
	}
	g.nodes[n.ID] = n
	g.order = append(g.order, n.ID)
	return nil
}

// AddEdge appends an edge. Both endpoints must already exist.
func (g *Graph) AddEdge(e Edge) error {
	if _, ok := g.nodes[e.From]; !ok {
		return fmt.Errorf("graph: edge from unknown node %q", e.From)
	}
	if _, ok := g.nodes[e.To]; !ok {
		return fmt.Errorf("graph: edge to unknown node %q", e.To)
	}
	g.edges = append(g.edges, e)
	return nil
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Edges returns all edges in insertion order.
func (g *Graph) Edges() []Edge {
	return g.edges
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	return len(g.edges)
}

// EdgeHistogram counts edges per kind.
func (g *Graph) EdgeHistogram() map[EdgeKind]int {
	hist := make(map[EdgeKind]int)
	for _, e := range g.edges {
		hist[e.Kind]++
	}
	return hist
}
