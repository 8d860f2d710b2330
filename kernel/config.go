package kernel

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Disk backends.
const (
	DiskMemory = "memory"
	DiskSQLite = "sqlite"
)

// Config holds the tunable parameters of a kernel.
type Config struct {
	NumCPU       int
	NumFrames    int
	NumStealPage int

	NumBuf     int
	NumBucket  int
	BlockSize  int
	DiskBlocks uint32
	Disk       string
	DiskPath   string

	NumVMA      int
	NumFile     int
	CopyOnWrite bool

	TraceDB     string
	MonitorPort int
}

// DefaultConfig returns the parameters of a small 4-core machine.
func DefaultConfig() Config {
	return Config{
		NumCPU:       4,
		NumFrames:    2048,
		NumStealPage: 8,
		NumBuf:       30,
		NumBucket:    13,
		BlockSize:    1024,
		DiskBlocks:   1000,
		Disk:         DiskMemory,
		DiskPath:     "kcore.img",
		NumVMA:       16,
		NumFile:      16,
	}
}

// LoadConfig returns the default configuration overridden by KCORE_*
// environment variables. The given .env files are loaded first; with no
// files, ./.env is loaded if it exists. Variables already set in the
// environment win over the files.
func LoadConfig(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		if _, err := os.Stat(".env"); err == nil {
			envFiles = []string{".env"}
		}
	}

	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return Config{}, err
		}
	}

	cfg := DefaultConfig()
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	ints := []struct {
		name string
		dst  *int
	}{
		{"KCORE_NCPU", &c.NumCPU},
		{"KCORE_NFRAMES", &c.NumFrames},
		{"KCORE_NSTEALPAGE", &c.NumStealPage},
		{"KCORE_NBUF", &c.NumBuf},
		{"KCORE_NBUCKET", &c.NumBucket},
		{"KCORE_BSIZE", &c.BlockSize},
		{"KCORE_NVMA", &c.NumVMA},
		{"KCORE_NOFILE", &c.NumFile},
		{"KCORE_MONITOR_PORT", &c.MonitorPort},
	}

	for _, v := range ints {
		s, ok := os.LookupEnv(v.name)
		if !ok {
			continue
		}

		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("kernel: %s: %w", v.name, err)
		}

		*v.dst = n
	}

	if s, ok := os.LookupEnv("KCORE_FSSIZE"); ok {
		n, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return fmt.Errorf("kernel: KCORE_FSSIZE: %w", err)
		}

		c.DiskBlocks = uint32(n)
	}

	if s, ok := os.LookupEnv("KCORE_COW"); ok {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return fmt.Errorf("kernel: KCORE_COW: %w", err)
		}

		c.CopyOnWrite = b
	}

	if s, ok := os.LookupEnv("KCORE_DISK"); ok {
		c.Disk = strings.ToLower(s)
	}

	if s, ok := os.LookupEnv("KCORE_DISK_PATH"); ok {
		c.DiskPath = s
	}

	if s, ok := os.LookupEnv("KCORE_TRACE_DB"); ok {
		c.TraceDB = s
	}

	return nil
}

// Validate reports the first parameter that cannot boot a kernel.
func (c Config) Validate() error {
	var errs []error

	positive := []struct {
		name string
		v    int
	}{
		{"NumCPU", c.NumCPU},
		{"NumFrames", c.NumFrames},
		{"NumStealPage", c.NumStealPage},
		{"NumBuf", c.NumBuf},
		{"NumBucket", c.NumBucket},
		{"BlockSize", c.BlockSize},
		{"NumVMA", c.NumVMA},
		{"NumFile", c.NumFile},
	}

	for _, p := range positive {
		if p.v <= 0 {
			errs = append(errs, fmt.Errorf("kernel: %s must be positive, got %d",
				p.name, p.v))
		}
	}

	if c.DiskBlocks < 2 {
		errs = append(errs, fmt.Errorf(
			"kernel: DiskBlocks must be at least 2, got %d", c.DiskBlocks))
	}

	if c.Disk != DiskMemory && c.Disk != DiskSQLite {
		errs = append(errs, fmt.Errorf("kernel: unknown disk %q", c.Disk))
	}

	return errors.Join(errs...)
}
