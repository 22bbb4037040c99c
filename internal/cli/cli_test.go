package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ppiankov/flowtrace/internal/export"
)

const testScript = `package main

func main() {
	x := list()
	x.append(1)
	x.append(2)
	print(len(x))
}
`

func writeScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.go")
	if err := os.WriteFile(path, []byte(testScript), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

// resetFlags restores flag-backed package state between in-process
// executions; cobra re-parses arguments but keeps old values for
// flags the next invocation omits.
func resetFlags() {
	recordOutput = "graph.json"
	recordFormat = ""
	recordInclude = nil
	recordExclude = nil
	recordMaxDepth = 0
	recordJournal = ""
	recordWatch = false
	recordConfig = ""
	recordNoHistory = false
	rebuildOutput = "graph.json"
	rebuildFormat = ""
	verifyJournal = ""
	verifyGraph = ""
	historyLimit = 20
	historyDB = ""
	historyConfig = ""
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestRecordStatsVerify(t *testing.T) {
	resetFlags()
	script := writeScript(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "graph.json")
	cfg := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfg, []byte("format: json\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if err := execute(t, "record", script, "-o", out, "--no-history", "--config", cfg); err != nil {
		t.Fatalf("record: %v", err)
	}
	g, err := export.ReadFile(out)
	if err != nil {
		t.Fatalf("read graph: %v", err)
	}
	if g.NodeCount() == 0 {
		t.Fatal("expected a non-empty graph")
	}

	if err := execute(t, "stats", out); err != nil {
		t.Errorf("stats: %v", err)
	}
	if err := execute(t, "verify", "--graph", out); err != nil {
		t.Errorf("verify: %v", err)
	}
}

func TestRecordWithJournalThenRebuild(t *testing.T) {
	resetFlags()
	script := writeScript(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "graph.json")
	journal := filepath.Join(dir, "events.jsonl")
	rebuilt := filepath.Join(dir, "rebuilt.json")
	cfg := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfg, []byte("format: json\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if err := execute(t, "record", script, "-o", out, "--journal", journal,
		"--no-history", "--config", cfg); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := execute(t, "verify", "--journal", journal); err != nil {
		t.Fatalf("verify journal: %v", err)
	}

	if err := execute(t, "rebuild", journal, "-o", rebuilt); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	live, err := export.ReadFile(out)
	if err != nil {
		t.Fatalf("read live: %v", err)
	}
	replayed, err := export.ReadFile(rebuilt)
	if err != nil {
		t.Fatalf("read rebuilt: %v", err)
	}
	if live.Fingerprint() != replayed.Fingerprint() {
		t.Error("expected the rebuilt graph to match the live recording")
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	resetFlags()
	script := writeScript(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "graph.json")
	db := filepath.Join(dir, "history.db")
	cfg := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfg, []byte("history_path: "+db+"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if err := execute(t, "record", script, "-o", out, "--config", cfg); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := os.Stat(db); err != nil {
		t.Fatalf("expected the history database to exist: %v", err)
	}
	if err := execute(t, "history", "--db", db); err != nil {
		t.Errorf("history: %v", err)
	}
}

func TestVerifyWithoutTargetsFails(t *testing.T) {
	resetFlags()
	if err := execute(t, "verify"); err == nil {
		t.Error("expected an error when verify is given nothing to check")
	}
}
