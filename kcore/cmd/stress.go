package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/sarchlab/kcore/kernel"
)

var stressCmd = &cobra.Command{
	Use:   "stress",
	Short: "Run concurrent allocation and buffer cache traffic.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		rounds, _ := cmd.Flags().GetInt("rounds")

		b, done, err := newBuilder()
		if err != nil {
			return err
		}
		defer done()

		k := b.Build("Kernel")
		ctx := k.Context(0, 0)
		before := k.Allocator().FreeMem()

		counts := kernel.Stress(k, rounds, nil)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d cpus x %d rounds\n", k.NumCPU(), rounds)
		printCounts(out, counts)

		if after := k.Allocator().FreeMem(); after != before {
			return fmt.Errorf("free memory went from %d to %d bytes",
				before, after)
		}

		return k.Shutdown(ctx)
	},
}

func printCounts(w io.Writer, counts map[string]uint64) {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(w, "  %-6s %d\n", name, counts[name])
	}
}

func init() {
	stressCmd.Flags().Int("rounds", 1000, "rounds per cpu")
	rootCmd.AddCommand(stressCmd)
}
