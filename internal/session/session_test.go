package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ppiankov/flowtrace/internal/export"
)

const scriptOK = `package main

func double(a any) any {
	return a + a
}

func main() {
	x := list()
	x.append(1)
	x.append(double(2))
	print(x)
}
`

const scriptFail = `package main

func main() {
	x := 10
	y := x / 0
	print(y)
}
`

func writeScript(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.go")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestRecordWritesValidGraph(t *testing.T) {
	script := writeScript(t, scriptOK)
	out := filepath.Join(t.TempDir(), "graph.json")

	res, err := Record(script, out, Options{})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if res.ExitCode != ExitOK {
		t.Errorf("expected exit %d, got %d", ExitOK, res.ExitCode)
	}
	if res.ID == "" {
		t.Error("expected a session id")
	}
	if res.Events == 0 {
		t.Error("expected events to be counted")
	}

	g, err := export.ReadFile(out)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if g.NodeCount() != res.Nodes || g.EdgeCount() != res.Edges {
		t.Errorf("expected %d nodes / %d edges, got %d / %d",
			res.Nodes, res.Edges, g.NodeCount(), g.EdgeCount())
	}
	if err := g.Validate(); err != nil {
		t.Errorf("recorded graph invalid: %v", err)
	}
}

func TestScriptFailureWritesPartialGraph(t *testing.T) {
	script := writeScript(t, scriptFail)
	out := filepath.Join(t.TempDir(), "graph.json")

	res, err := Record(script, out, Options{})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if res.ExitCode != ExitScript {
		t.Fatalf("expected exit %d, got %d", ExitScript, res.ExitCode)
	}
	if res.ScriptErr == nil {
		t.Fatal("expected the traced failure to be reported")
	}

	g, err := export.ReadFile(out)
	if err != nil {
		t.Fatalf("read back partial graph: %v", err)
	}
	if err := g.Validate(); err != nil {
		t.Errorf("partial graph invalid: %v", err)
	}

	// Everything up to the failing division is kept, nothing after.
	quals := make(map[string]bool)
	sawTen := false
	for _, n := range g.Nodes() {
		if n.Qual != "" {
			quals[n.Qual] = true
		}
		if n.Type == "int" && n.Summary == "10" {
			sawTen = true
		}
	}
	if !sawTen {
		t.Error("expected the value written before the failure to be kept")
	}
	if !quals["builtin.div"] {
		t.Error("expected the failing operation to be kept")
	}
	if quals["builtin.print"] {
		t.Error("expected operations after the failure point to be absent")
	}
}

func TestUnsupportedScriptWritesNothing(t *testing.T) {
	script := writeScript(t, "package main\n\nfunc main() {\n\tgo f()\n}\n\nfunc f() {\n}\n")
	out := filepath.Join(t.TempDir(), "graph.json")

	if _, err := Record(script, out, Options{}); err == nil {
		t.Fatal("expected an error for an unsupported script")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("expected no graph file to be written")
	}
}

func TestJournalReplayIsIsomorphic(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, scriptOK)
	out := filepath.Join(dir, "graph.json")
	journal := filepath.Join(dir, "events.jsonl")

	res, err := Record(script, out, Options{JournalPath: journal})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	replayed, err := Rebuild(journal, Options{})
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if replayed.Events != int(res.Events) {
		t.Errorf("expected %d replayed events, got %d", res.Events, replayed.Events)
	}

	live, err := export.ReadFile(out)
	if err != nil {
		t.Fatalf("read live graph: %v", err)
	}
	if live.Fingerprint() != replayed.Graph.Fingerprint() {
		t.Error("expected replayed graph to match the live recording")
	}
}

func TestRecordingIsDeterministic(t *testing.T) {
	script := writeScript(t, scriptOK)
	dir := t.TempDir()
	first := filepath.Join(dir, "a.json")
	second := filepath.Join(dir, "b.graphml")

	if _, err := Record(script, first, Options{}); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if _, err := Record(script, second, Options{}); err != nil {
		t.Fatalf("second record: %v", err)
	}

	a, err := export.ReadFile(first)
	if err != nil {
		t.Fatalf("read first: %v", err)
	}
	b, err := export.ReadFile(second)
	if err != nil {
		t.Fatalf("read second: %v", err)
	}
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("expected identical runs to fingerprint identically")
	}
}

func TestExcludeCollapsesCallee(t *testing.T) {
	script := writeScript(t, scriptOK)
	dir := t.TempDir()
	full := filepath.Join(dir, "full.json")
	collapsed := filepath.Join(dir, "collapsed.json")

	if _, err := Record(script, full, Options{}); err != nil {
		t.Fatalf("record full: %v", err)
	}
	if _, err := Record(script, collapsed, Options{Exclude: []string{"main.double"}}); err != nil {
		t.Fatalf("record collapsed: %v", err)
	}

	a, err := export.ReadFile(full)
	if err != nil {
		t.Fatalf("read full: %v", err)
	}
	b, err := export.ReadFile(collapsed)
	if err != nil {
		t.Fatalf("read collapsed: %v", err)
	}
	if b.NodeCount() >= a.NodeCount() {
		t.Errorf("expected fewer nodes when main.double is collapsed: %d vs %d",
			b.NodeCount(), a.NodeCount())
	}
	for _, n := range b.Nodes() {
		if n.Qual == "main.double" {
			t.Error("expected no operation node for the excluded callee")
		}
	}
}
