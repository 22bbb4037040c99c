package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/flowtrace/internal/config"
	"github.com/ppiankov/flowtrace/internal/store"
)

var (
	historyLimit  int
	historyDB     string
	historyConfig string
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of recent runs to show")
	historyCmd.Flags().StringVar(&historyDB, "db", "", "History database path (default from config)")
	historyCmd.Flags().StringVar(&historyConfig, "config", "", "Config file (default ~/.flowtrace/config.yaml)")
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent recordings",
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	path := historyDB
	if path == "" {
		cfg, err := config.Load(historyConfig)
		if err != nil {
			return err
		}
		path = cfg.HistoryPath
	}

	s, err := store.Open(path)
	if err != nil {
		return err
	}
	defer s.Close()

	runs, err := s.Recent(historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no recordings yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RECORDED\tSCRIPT\tOUTPUT\tEXIT\tNODES\tEDGES\tEVENTS\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			r.RecordedAt.Local().Format(time.DateTime),
			r.Script, r.Output, r.ExitCode, r.Nodes, r.Edges, r.Events,
			r.Duration.Round(time.Millisecond))
	}
	return w.Flush()
}
