package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/ppiankov/flowtrace/internal/graph"
)

// jsonGraph is the JSON file schema.
type jsonGraph struct {
	Script string        `json:"script"`
	Root   string        `json:"root,omitempty"`
	Nodes  []*graph.Node `json:"nodes"`
	Edges  []graph.Edge  `json:"edges"`
}

// WriteJSON serializes g as indented JSON.
func WriteJSON(w io.Writer, g *graph.Graph) error {
	doc := jsonGraph{
		Script: g.Script,
		Root:   g.Root,
		Nodes:  g.Nodes(),
		Edges:  g.Edges(),
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("export: encode json: %w", err)
	}
	return nil
}

// ReadJSON parses a JSON graph file. The decode is strict: unknown
// fields and trailing data are rejected to avoid silent divergence
// between writer and reader.
func ReadJSON(r io.Reader) (*graph.Graph, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("export: read json: %w", err)
	}
	var doc jsonGraph
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("export: parse json: %w", err)
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("export: parse json: trailing data")
		}
		return nil, fmt.Errorf("export: parse json: %w", err)
	}

	g := graph.New(doc.Script)
	g.Root = doc.Root
	for _, n := range doc.Nodes {
		if err := g.AddNode(n); err != nil {
			return nil, fmt.Errorf("export: import: %w", err)
		}
	}
	for _, e := range doc.Edges {
		if err := g.AddEdge(e); err != nil {
			return nil, fmt.Errorf("export: import: %w", err)
		}
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("export: import: %w", err)
	}
	return g, nil
}
