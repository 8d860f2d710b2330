package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sarchlab/kcore/kernel"
)

var scenarioCmd = &cobra.Command{
	Use:   "scenario <1..6|all>",
	Short: "Run end-to-end scenarios.",
	Long: "`scenario all` runs every scenario in order; `scenario N` runs " +
		"one. The command fails on the first scenario that does not end " +
		"as expected.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, done, err := newBuilder()
		if err != nil {
			return err
		}
		defer done()

		scenarios := kernel.Scenarios()

		if args[0] != "all" {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid scenario %q", args[0])
			}

			scenarios = nil
			for _, s := range kernel.Scenarios() {
				if s.Number == n {
					scenarios = append(scenarios, s)
				}
			}

			if len(scenarios) == 0 {
				return fmt.Errorf("%w: %d", kernel.ErrNoScenario, n)
			}
		}

		out := cmd.OutOrStdout()

		for _, s := range scenarios {
			result, err := s.Run(b)
			if err != nil {
				fmt.Fprintf(out, "scenario %d: %s: FAIL\n", s.Number, s.Title)
				return err
			}

			fmt.Fprintf(out, "scenario %d: %s: ok\n    %s\n",
				s.Number, s.Title, result)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(scenarioCmd)
}
