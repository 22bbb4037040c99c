package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/flowtrace/internal/config"
	"github.com/ppiankov/flowtrace/internal/export"
	"github.com/ppiankov/flowtrace/internal/session"
	"github.com/ppiankov/flowtrace/internal/store"
	"github.com/ppiankov/flowtrace/internal/watch"
)

var (
	recordOutput    string
	recordFormat    string
	recordInclude   []string
	recordExclude   []string
	recordMaxDepth  int
	recordJournal   string
	recordWatch     bool
	recordConfig    string
	recordNoHistory bool
)

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.Flags().StringVarP(&recordOutput, "output", "o", "graph.json", "Output graph path")
	recordCmd.Flags().StringVarP(&recordFormat, "format", "f", "", "Output format: json or graphml (default from extension)")
	recordCmd.Flags().StringSliceVar(&recordInclude, "include", nil, "Qualified names to expand (exact or prefix.*)")
	recordCmd.Flags().StringSliceVar(&recordExclude, "exclude", nil, "Qualified names never expanded")
	recordCmd.Flags().IntVar(&recordMaxDepth, "max-depth", 0, "Maximum tracked call depth (0 = default)")
	recordCmd.Flags().StringVar(&recordJournal, "journal", "", "Also append every event to a hash-chained journal")
	recordCmd.Flags().BoolVar(&recordWatch, "watch", false, "Re-record whenever the script changes")
	recordCmd.Flags().StringVar(&recordConfig, "config", "", "Config file (default ~/.flowtrace/config.yaml)")
	recordCmd.Flags().BoolVar(&recordNoHistory, "no-history", false, "Skip the run-history database")
}

var recordCmd = &cobra.Command{
	Use:   "record <script>",
	Short: "Trace a script and write its provenance graph",
	Long: "Executes the script under instrumentation and writes the resulting graph.\n" +
		"Exit code 0 on success, 1 when the traced program itself fails (a partial\n" +
		"graph is still written), 2 on bad input or I/O failure.",
	Args: cobra.ExactArgs(1),
	RunE: runRecord,
}

func runRecord(cmd *cobra.Command, args []string) error {
	script := args[0]

	cfg, err := config.Load(recordConfig)
	if err != nil {
		return err
	}
	opts, err := recordOptions(cmd, cfg)
	if err != nil {
		return err
	}

	if !recordWatch {
		res, err := session.Record(script, recordOutput, opts)
		if err != nil {
			return err
		}
		reportRun(res, cfg)
		if res.ExitCode != session.ExitOK {
			os.Exit(res.ExitCode)
		}
		return nil
	}

	// Watch mode: record now, then again after every save. Individual
	// failures are reported but do not stop the watch.
	once := func() {
		res, err := session.Record(script, recordOutput, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "record failed: %v\n", err)
			return
		}
		reportRun(res, cfg)
	}
	once()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	fmt.Printf("watching %s (Ctrl-C to stop)\n", script)
	return watch.New(script, once).Run(ctx)
}

func recordOptions(cmd *cobra.Command, cfg *config.Config) (session.Options, error) {
	opts := session.Options{
		Include:     cfg.IncludeModules,
		Exclude:     cfg.ExcludeModules,
		MaxDepth:    cfg.MaxDepth,
		JournalPath: recordJournal,
		Warnings:    os.Stderr,
	}

	// Explicit -f wins, then a recognized output extension, then the
	// configured default.
	name := recordFormat
	if name == "" {
		if export.DetectFormat(recordOutput) == export.FormatGraphML {
			name = string(export.FormatGraphML)
		} else {
			name = cfg.Format
		}
	}
	f, err := export.ParseFormat(name)
	if err != nil {
		return opts, err
	}
	opts.Format = f
	if cmd.Flags().Changed("include") {
		opts.Include = recordInclude
	}
	if cmd.Flags().Changed("exclude") {
		opts.Exclude = recordExclude
	}
	if cmd.Flags().Changed("max-depth") {
		opts.MaxDepth = recordMaxDepth
	}
	return opts, nil
}

func reportRun(res *session.Result, cfg *config.Config) {
	if res.ScriptErr != nil {
		fmt.Fprintf(os.Stderr, "script failed: %v\n", res.ScriptErr)
	}
	fmt.Printf("recorded %s: %d events, %d nodes, %d edges -> %s (%s)\n",
		res.Script, res.Events, res.Nodes, res.Edges, res.Output,
		res.Duration.Round(time.Millisecond))

	if recordNoHistory {
		return
	}
	// History is advisory: a failure here never changes the outcome
	// of the recording.
	s, err := store.Open(cfg.HistoryPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: history unavailable: %v\n", err)
		return
	}
	defer s.Close()
	err = s.Append(store.Run{
		ID:         res.ID,
		Script:     res.Script,
		Output:     res.Output,
		ExitCode:   res.ExitCode,
		Nodes:      res.Nodes,
		Edges:      res.Edges,
		Events:     res.Events,
		Duration:   res.Duration,
		RecordedAt: time.Now(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: history append failed: %v\n", err)
	}
}
