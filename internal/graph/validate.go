package graph

import "fmt"

// CheckAcyclic verifies the sequence-order acyclicity invariant.
// Output, mutates, and control edges must run from an earlier-created
// node to a later-or-equal one. Data edges are different: operations
// are spans, and a read is attributed to an operation that may have
// opened long before the value existed, so there the rule is that the
// value predates the read event itself.
func (g *Graph) CheckAcyclic() error {
	for i, e := range g.edges {
		from := g.nodes[e.From]
		to := g.nodes[e.To]
		if e.Kind == EdgeData {
			if from.Seq > e.Seq {
				return fmt.Errorf("graph: edge %d (%s %s->%s) consumes a value from the future: seq %d read at %d",
					i, e.Kind, e.From, e.To, from.Seq, e.Seq)
			}
			continue
		}
		if from.Seq > to.Seq {
			return fmt.Errorf("graph: edge %d (%s %s->%s) runs backwards in event time: seq %d -> %d",
				i, e.Kind, e.From, e.To, from.Seq, to.Seq)
		}
	}
	return nil
}

// Validate checks structural consistency: known kinds, well-formed
// endpoints for each edge kind, and exactly one producer per value
// version (an output edge, or the external-source sentinel).
func (g *Graph) Validate() error {
	producers := make(map[string]int)

	for _, e := range g.edges {
		from, to := g.nodes[e.From], g.nodes[e.To]
		switch e.Kind {
		case EdgeData:
			if from.Kind != NodeValue || to.Kind != NodeOperation {
				return fmt.Errorf("graph: data edge %s->%s must run value->operation", e.From, e.To)
			}
		case EdgeOutput:
			if from.Kind != NodeOperation || to.Kind != NodeValue {
				return fmt.Errorf("graph: output edge %s->%s must run operation->value", e.From, e.To)
			}
			producers[e.To]++
		case EdgeMutates:
			if from.Kind != NodeValue || to.Kind != NodeValue {
				return fmt.Errorf("graph: mutates edge %s->%s must run value->value", e.From, e.To)
			}
			if e.Op == "" {
				return fmt.Errorf("graph: mutates edge %s->%s without mutating operation", e.From, e.To)
			}
			if _, ok := g.nodes[e.Op]; !ok {
				return fmt.Errorf("graph: mutates edge %s->%s references unknown operation %q", e.From, e.To, e.Op)
			}
		case EdgeControl:
			if from.Kind != NodeOperation || to.Kind != NodeOperation {
				return fmt.Errorf("graph: control edge %s->%s must run operation->operation", e.From, e.To)
			}
		default:
			return fmt.Errorf("graph: unknown edge kind %q", e.Kind)
		}
	}

	for _, n := range g.Nodes() {
		switch n.Kind {
		case NodeOperation, NodeValue:
		default:
			return fmt.Errorf("graph: node %q has unknown kind %q", n.ID, n.Kind)
		}
		if n.Kind != NodeValue {
			continue
		}
		count := producers[n.ID]
		if n.External && count > 0 {
			return fmt.Errorf("graph: external value %q also has %d producing edges", n.ID, count)
		}
		if !n.External && count != 1 {
			return fmt.Errorf("graph: value %q has %d producers, expected 1", n.ID, count)
		}
	}
	return g.CheckAcyclic()
}
