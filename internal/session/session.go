// Package session orchestrates one recording: it wires the
// interpreter, tracer, builder and optional journal together, runs
// the script, and writes the resulting graph. The exit-code contract
// lives here so every caller reports failures the same way.
package session

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/flowtrace/internal/builder"
	"github.com/ppiankov/flowtrace/internal/event"
	"github.com/ppiankov/flowtrace/internal/export"
	"github.com/ppiankov/flowtrace/internal/graph"
	"github.com/ppiankov/flowtrace/internal/inspect"
	"github.com/ppiankov/flowtrace/internal/interp"
	"github.com/ppiankov/flowtrace/internal/object"
)

// Exit codes of a recording.
const (
	ExitOK     = 0 // graph recorded
	ExitScript = 1 // traced program failed, partial graph written
	ExitUsage  = 2 // bad input or I/O failure, no graph written
)

// Options configures one recording.
type Options struct {
	// Format of the output graph. Empty means inferred from the
	// output path extension.
	Format export.Format
	// Include and Exclude filter which qualified names are expanded
	// into their own operation nodes.
	Include []string
	Exclude []string
	// MaxDepth bounds tracked call nesting. <= 0 means the builder
	// default.
	MaxDepth int
	// JournalPath, when set, additionally appends every event to a
	// hash-chained journal.
	JournalPath string
	// Warnings receives sanitizer diagnostics. Nil discards them.
	Warnings io.Writer
}

// Result summarizes one finished recording.
type Result struct {
	ID       string
	Script   string
	Output   string
	ExitCode int
	Nodes    int
	Edges    int
	Events   uint64
	Duration time.Duration
	// ScriptErr is the traced program's failure when ExitCode is
	// ExitScript.
	ScriptErr error
}

// Record traces the script at scriptPath and writes its provenance
// graph to outputPath. A traced-program failure is not an error here:
// the partial graph is still written and the result carries
// ExitScript. A returned error means the recording itself failed
// (ExitUsage) and no graph was written.
func Record(scriptPath, outputPath string, opts Options) (*Result, error) {
	start := time.Now()
	format := opts.Format
	if format == "" {
		format = export.DetectFormat(outputPath)
	}

	reg := object.NewRegistry()
	b := builder.New(scriptPath, reg, builder.Options{
		MaxDepth: opts.MaxDepth,
		Include:  opts.Include,
		Exclude:  opts.Exclude,
	})

	sinks := []event.Sink{b}
	var journal *event.Journal
	if opts.JournalPath != "" {
		j, err := event.OpenJournal(opts.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
		journal = j
		sinks = append(sinks, j)
	}
	tr := event.NewTracer(sinks...)

	it := interp.New(reg, tr, inspect.New())
	if err := it.Load(scriptPath); err != nil {
		closeJournal(journal)
		return nil, fmt.Errorf("session: load %s: %w", scriptPath, err)
	}

	runErr := it.Run()
	if runErr != nil {
		var re *interp.RuntimeError
		if !errors.As(runErr, &re) {
			// Not the traced program's fault: a sink or the
			// instrumentation itself failed.
			closeJournal(journal)
			return nil, fmt.Errorf("session: run %s: %w", scriptPath, runErr)
		}
	}
	if err := closeJournal(journal); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	g := b.Finish()
	for _, w := range export.Sanitize(g) {
		if opts.Warnings != nil {
			fmt.Fprintf(opts.Warnings, "warning: %s\n", w)
		}
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("session: built graph is invalid: %w", err)
	}
	if err := export.WriteFile(outputPath, g, format); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}

	res := &Result{
		ID:       uuid.NewString(),
		Script:   scriptPath,
		Output:   outputPath,
		Nodes:    g.NodeCount(),
		Edges:    g.EdgeCount(),
		Events:   tr.Seq(),
		Duration: time.Since(start),
	}
	if runErr != nil {
		res.ExitCode = ExitScript
		res.ScriptErr = runErr
	}
	return res, nil
}

// Rebuild reconstructs a graph from a journal without re-executing
// the script. The chain is verified during the read; a tampered or
// truncated journal is refused.
func Rebuild(journalPath string, opts Options) (*RebuildResult, error) {
	events, err := event.ReadJournal(journalPath)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("session: journal %s holds no events", journalPath)
	}

	script := events[0].Loc.File
	reg := object.NewRegistry()
	b := builder.New(script, reg, builder.Options{
		MaxDepth: opts.MaxDepth,
		Include:  opts.Include,
		Exclude:  opts.Exclude,
	})
	for _, e := range events {
		if err := b.Push(e); err != nil {
			return nil, fmt.Errorf("session: replay: %w", err)
		}
	}
	g := b.Finish()
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("session: replayed graph is invalid: %w", err)
	}
	return &RebuildResult{Graph: g, Events: len(events)}, nil
}

// RebuildResult is a graph reconstructed from a journal.
type RebuildResult struct {
	Graph  *graph.Graph
	Events int
}

func closeJournal(j *event.Journal) error {
	if j == nil {
		return nil
	}
	return j.Close()
}
