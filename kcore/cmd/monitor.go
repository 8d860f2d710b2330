package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/sarchlab/kcore/kernel"
	"github.com/sarchlab/kcore/monitoring"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Serve a live monitor while the kernel runs stress traffic.",
	Long: "`monitor` boots a kernel, serves its state over HTTP and runs " +
		"stress batches until interrupted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		flags := cmd.Flags()
		port, _ := flags.GetInt("port")
		open, _ := flags.GetBool("open")
		batch, _ := flags.GetInt("batch")

		if !flags.Changed("port") {
			port = cfg.MonitorPort
		}

		b, done, err := newBuilder()
		if err != nil {
			return err
		}
		defer done()

		k := b.Build("Kernel")

		m := monitoring.NewMonitor().WithPortNumber(port)
		k.Register(m)
		url := m.StartServer()

		if open {
			if err := browser.OpenURL(url); err != nil {
				fmt.Fprintf(os.Stderr, "cannot open browser: %v\n", err)
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		for ctx.Err() == nil {
			bar := m.CreateProgressBar("stress", uint64(batch*k.NumCPU()))
			kernel.Stress(k, batch, func(n int) {
				bar.IncrementFinished(uint64(n))
			})
			m.CompleteProgressBar(bar)

			select {
			case <-ctx.Done():
			case <-time.After(100 * time.Millisecond):
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		if err := m.StopServer(shutdownCtx); err != nil {
			return err
		}

		printCounts(cmd.OutOrStdout(), k.Counter().Snapshot())

		return k.Shutdown(k.Context(0, 0))
	},
}

func init() {
	monitorCmd.Flags().Int("port", 0, "port of the monitor, random if 0")
	monitorCmd.Flags().Bool("open", false, "open the monitor in a browser")
	monitorCmd.Flags().Int("batch", 200, "stress rounds per cpu between pauses")
	rootCmd.AddCommand(monitorCmd)
}
