package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Fingerprint returns a structural hash of the graph with assigned ids
// erased: nodes are relabeled by insertion index, edges are canonically
// sorted. Two runs of the same deterministic script produce graphs
// with equal fingerprints, as does an export/import round trip.
func (g *Graph) Fingerprint() string {
	index := make(map[string]int, len(g.order))
	for i, id := range g.order {
		index[id] = i
	}

	var b strings.Builder
	for _, id := range g.order {
		n := g.nodes[id]
		fmt.Fprintf(&b, "n|%s|%s|%s|%t\n", n.Kind, n.Label, n.Type, n.External)
	}

	lines := make([]string, 0, len(g.edges))
	for _, e := range g.edges {
		op := -1
		if e.Op != "" {
			op = index[e.Op]
		}
		lines = append(lines, fmt.Sprintf("e|%s|%d|%d|%d|%s", e.Kind, index[e.From], index[e.To], op, e.Name))
	}
	sort.Strings(lines)
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
