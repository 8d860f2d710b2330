package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sarchlab/kcore/datarecording"
	"github.com/sarchlab/kcore/tracing"
)

var traceCmd = &cobra.Command{
	Use:   "trace <file.sqlite3>",
	Short: "List the tasks recorded in a trace database.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(args[0]); err != nil {
			return err
		}

		flags := cmd.Flags()
		query := tracing.TaskQuery{}
		query.Kind, _ = flags.GetString("kind")
		query.What, _ = flags.GetString("what")
		query.Where, _ = flags.GetString("where")
		query.Limit, _ = flags.GetInt("limit")

		reader := datarecording.NewReader(args[0])
		defer reader.Close()

		tasks, total, err := tracing.NewTraceReader(reader).
			ListTasks(cmd.Context(), query)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tWHAT\tWHERE\tPARENT\tTIME\tDETAIL")

		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
				t.ID, t.Kind, t.What, t.Where, t.ParentID, t.StartTime, t.Detail)
		}

		if err := w.Flush(); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%d of %d tasks\n", len(tasks), total)

		return nil
	},
}

func init() {
	traceCmd.Flags().String("kind", "", "only tasks of this subsystem")
	traceCmd.Flags().String("what", "", "only this event, such as Alloc or Miss")
	traceCmd.Flags().String("where", "", "only events on this cpu, such as cpu0")
	traceCmd.Flags().Int("limit", 50, "maximum number of tasks, 0 for all")
	rootCmd.AddCommand(traceCmd)
}
