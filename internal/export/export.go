// Package export serializes finished provenance graphs to portable
// attributed formats (GraphML, JSON) and reads them back. Export then
// import reconstructs a graph isomorphic to the original in node
// count, edge count, and edge-kind distribution; exact bytes and
// attribute ordering are not preserved.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ppiankov/flowtrace/internal/graph"
	"github.com/ppiankov/flowtrace/internal/inspect"
)

// Format names an output format.
type Format string

const (
	FormatJSON    Format = "json"
	FormatGraphML Format = "graphml"
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatGraphML:
		return FormatGraphML, nil
	default:
		return "", fmt.Errorf("export: unknown format %q (want graphml or json)", s)
	}
}

// DetectFormat picks the format implied by a file extension,
// defaulting to JSON.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".graphml", ".xml":
		return FormatGraphML
	default:
		return FormatJSON
	}
}

// Write serializes g in the given format.
func Write(w io.Writer, g *graph.Graph, f Format) error {
	switch f {
	case FormatGraphML:
		return WriteGraphML(w, g)
	case FormatJSON:
		return WriteJSON(w, g)
	default:
		return fmt.Errorf("export: unknown format %q", f)
	}
}

// WriteFile serializes g to path in the given format.
func WriteFile(path string, g *graph.Graph, f Format) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("export: create %s: %w", path, err)
	}
	if err := Write(file, g, f); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("export: close %s: %w", path, err)
	}
	return nil
}

// ReadFile loads a graph, picking the format from the file extension
// (.graphml or .xml for GraphML, anything else JSON).
func ReadFile(path string) (*graph.Graph, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("export: open %s: %w", path, err)
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".graphml", ".xml":
		return ReadGraphML(file)
	default:
		return ReadJSON(file)
	}
}

// Sanitize makes every attribute representable in the output schema.
// A label or summary that survives intact stays untouched; one that
// cannot be represented is replaced by a truncated placeholder and a
// warning is returned instead of failing the export.
func Sanitize(g *graph.Graph) []string {
	var warnings []string
	for _, n := range g.Nodes() {
		if clean := inspect.Truncate(n.Summary); clean != n.Summary {
			warnings = append(warnings, fmt.Sprintf("node %s: summary truncated", n.ID))
			n.Summary = clean
		}
		if clean := inspect.Truncate(n.Label); clean != n.Label {
			warnings = append(warnings, fmt.Sprintf("node %s: label truncated", n.ID))
			n.Label = clean
		}
	}
	return warnings
}
