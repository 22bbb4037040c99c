package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ppiankov/flowtrace/internal/export"
	"github.com/ppiankov/flowtrace/internal/graph"
)

func init() {
	rootCmd.AddCommand(statsCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats <graph>",
	Short: "Print node and edge statistics for a recorded graph",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	g, err := export.ReadFile(args[0])
	if err != nil {
		return err
	}

	var ops, values, external int
	for _, n := range g.Nodes() {
		switch n.Kind {
		case graph.NodeOperation:
			ops++
		case graph.NodeValue:
			values++
			if n.External {
				external++
			}
		}
	}

	fmt.Printf("script:     %s\n", g.Script)
	fmt.Printf("nodes:      %d (%d operations, %d values, %d external)\n",
		g.NodeCount(), ops, values, external)
	fmt.Printf("edges:      %d\n", g.EdgeCount())

	hist := g.EdgeHistogram()
	kinds := make([]string, 0, len(hist))
	for k := range hist {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Printf("  %-8s  %d\n", k, hist[graph.EdgeKind(k)])
	}
	return nil
}
