package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/ppiankov/flowtrace/internal/builder"
	"github.com/ppiankov/flowtrace/internal/event"
	"github.com/ppiankov/flowtrace/internal/graph"
	"github.com/ppiankov/flowtrace/internal/inspect"
	"github.com/ppiankov/flowtrace/internal/object"
)

// buildGraph runs a small synthetic trace through the builder:
// x = list(); x.append(1); y = f(x).
func buildGraph(t *testing.T) *graph.Graph {
	t.Helper()
	x := event.Value{ID: object.Identity{Slot: 0}, Type: "list"}
	one := event.Value{ID: object.Identity{Slot: 1}, Type: "int", Summary: "1"}
	y := event.Value{ID: object.Identity{Slot: 2}, Type: "int", Summary: "4"}

	b := builder.New("sample.go", object.NewRegistry(), builder.Options{})
	tr := event.NewTracer(b)
	events := []event.Event{
		{Kind: event.KindCall, Qual: "builtin.list", Atomic: true, Loc: event.Loc{File: "sample.go", Line: 3, Col: 7}},
		{Kind: event.KindReturn, Qual: "builtin.list", Value: &x},
		{Kind: event.KindWrite, Name: "x", Value: &x},
		{Kind: event.KindCall, Qual: "builtin.append", Atomic: true,
			Args: []event.Arg{{Name: "self", Value: x}, {Name: "value", Value: one}}},
		{Kind: event.KindMutate, Op: "append", Value: &x},
		{Kind: event.KindReturn, Qual: "builtin.append"},
		{Kind: event.KindCall, Qual: "main.f", Args: []event.Arg{{Name: "a", Value: x}}},
		{Kind: event.KindRead, Name: "a", Value: &x},
		{Kind: event.KindReturn, Qual: "main.f", Value: &y},
		{Kind: event.KindWrite, Name: "y", Value: &y},
	}
	for _, e := range events {
		if err := tr.Emit(e); err != nil {
			t.Fatalf("emit: %v", err)
		}
	}
	g := b.Finish()
	if err := g.Validate(); err != nil {
		t.Fatalf("fixture graph invalid: %v", err)
	}
	return g
}

func histEqual(a, b map[graph.EdgeKind]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func checkRoundTrip(t *testing.T, orig, got *graph.Graph) {
	t.Helper()
	if got.NodeCount() != orig.NodeCount() {
		t.Errorf("node count: expected %d, got %d", orig.NodeCount(), got.NodeCount())
	}
	if got.EdgeCount() != orig.EdgeCount() {
		t.Errorf("edge count: expected %d, got %d", orig.EdgeCount(), got.EdgeCount())
	}
	if !histEqual(orig.EdgeHistogram(), got.EdgeHistogram()) {
		t.Errorf("edge histogram: expected %v, got %v", orig.EdgeHistogram(), got.EdgeHistogram())
	}
	if got.Fingerprint() != orig.Fingerprint() {
		t.Error("expected round trip to preserve graph structure")
	}
	if got.Script != orig.Script || got.Root != orig.Root {
		t.Errorf("expected script %q root %q, got %q %q", orig.Script, orig.Root, got.Script, got.Root)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	g := buildGraph(t)
	var buf bytes.Buffer
	if err := WriteJSON(&buf, g); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadJSON(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	checkRoundTrip(t, g, got)
}

func TestGraphMLRoundTrip(t *testing.T) {
	g := buildGraph(t)
	var buf bytes.Buffer
	if err := WriteGraphML(&buf, g); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadGraphML(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	checkRoundTrip(t, g, got)
}

func TestGraphMLPreservesLocation(t *testing.T) {
	g := buildGraph(t)
	var buf bytes.Buffer
	if err := WriteGraphML(&buf, g); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadGraphML(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	n, ok := got.Node("builtin.list:1")
	if !ok {
		t.Fatal("expected builtin.list:1")
	}
	want := event.Loc{File: "sample.go", Line: 3, Col: 7}
	if n.Loc != want {
		t.Errorf("expected loc %v, got %v", want, n.Loc)
	}
}

func TestJSONRejectsUnknownFields(t *testing.T) {
	in := `{"script":"s","nodes":[],"edges":[],"bogus":1}`
	if _, err := ReadJSON(strings.NewReader(in)); err == nil {
		t.Error("expected unknown field to be rejected")
	}
}

func TestJSONRejectsTrailingData(t *testing.T) {
	in := `{"script":"s","nodes":[],"edges":[]}{"again":true}`
	if _, err := ReadJSON(strings.NewReader(in)); err == nil {
		t.Error("expected trailing data to be rejected")
	}
}

func TestImportValidates(t *testing.T) {
	// An edge referencing a missing node must not import.
	in := `{"script":"s","nodes":[],"edges":[{"kind":"data","from":"a","to":"b","seq":1}]}`
	if _, err := ReadJSON(strings.NewReader(in)); err == nil {
		t.Error("expected dangling edge to be rejected")
	}
}

func TestSanitizeTruncatesOversizedAttributes(t *testing.T) {
	g := graph.New("s")
	long := strings.Repeat("x", 10*inspect.MaxSummary)
	g.AddNode(&graph.Node{ID: "v1", Kind: graph.NodeValue, Label: "string", Type: "string",
		Summary: long, External: true, Owner: object.Identity{Slot: 0}})

	warnings := Sanitize(g)
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d: %v", len(warnings), warnings)
	}
	n, _ := g.Node("v1")
	if len(n.Summary) > 4*inspect.MaxSummary {
		t.Errorf("expected summary truncated, still %d bytes", len(n.Summary))
	}

	// A sanitized graph exports cleanly in both formats.
	var buf bytes.Buffer
	if err := WriteJSON(&buf, g); err != nil {
		t.Errorf("json after sanitize: %v", err)
	}
	buf.Reset()
	if err := WriteGraphML(&buf, g); err != nil {
		t.Errorf("graphml after sanitize: %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	cases := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"json", FormatJSON, false},
		{"GraphML", FormatGraphML, false},
		{"dot", "", true},
	}
	for _, c := range cases {
		got, err := ParseFormat(c.in)
		if c.wantErr != (err != nil) {
			t.Errorf("ParseFormat(%q): unexpected error state %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("ParseFormat(%q): expected %q, got %q", c.in, c.want, got)
		}
	}
}
