// Package cmd provides the command-line interface of kcore.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/kcore/datarecording"
	"github.com/sarchlab/kcore/kernel"
	"github.com/sarchlab/kcore/mem/bcache"
	"github.com/sarchlab/kcore/tracing"
)

var (
	envFile string
	cfg     kernel.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kcore",
	Short: "kcore boots simulated kernels and exercises their memory subsystems.",
	Long: `kcore boots a simulated multi-core kernel with a per-CPU page ` +
		`allocator, a sharded buffer cache and Sv39 virtual memory. It runs ` +
		`end-to-end scenarios and stress loops, and can serve a live monitor.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return loadConfig(cmd)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&envFile, "env", "", "env file with KCORE_* settings (default ./.env)")
	flags.String("trace-db", "", "record allocator and buffer cache events into this SQLite file")
	flags.String("disk", kernel.DiskMemory, "disk backend, memory or sqlite")
	flags.String("disk-path", "kcore.img", "path of the sqlite disk image")
	flags.Int("cpus", 0, "number of cores (default from config)")
	flags.Bool("cow", false, "fork shares pages copy-on-write")
}

func loadConfig(cmd *cobra.Command) error {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}

	c, err := kernel.LoadConfig(files...)
	if err != nil {
		return err
	}

	flags := cmd.Flags()

	if flags.Changed("trace-db") {
		c.TraceDB, _ = flags.GetString("trace-db")
	}

	if flags.Changed("disk") {
		c.Disk, _ = flags.GetString("disk")
	}

	if flags.Changed("disk-path") {
		c.DiskPath, _ = flags.GetString("disk-path")
	}

	if flags.Changed("cpus") {
		c.NumCPU, _ = flags.GetInt("cpus")
	}

	if flags.Changed("cow") {
		c.CopyOnWrite, _ = flags.GetBool("cow")
	}

	cfg = c

	return cfg.Validate()
}

// newBuilder returns a kernel builder for the loaded configuration. When a
// trace database is configured, the returned function closes it.
func newBuilder() (kernel.Builder, func(), error) {
	b := kernel.MakeBuilder().WithConfig(cfg)

	if cfg.TraceDB == "" {
		return b, func() {}, nil
	}

	path := cfg.TraceDB
	if !strings.HasSuffix(path, ".sqlite3") {
		path += ".sqlite3"
	}

	if _, err := os.Stat(path); err == nil {
		return b, nil, fmt.Errorf("trace database %s already exists", path)
	}

	recorder := datarecording.New(cfg.TraceDB)
	tracer := tracing.NewDBTracer(&bcache.LogicalClock{}, recorder)

	done := func() {
		if err := recorder.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "closing trace: %v\n", err)
		}
	}

	return b.WithTracer(tracer), done, nil
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
