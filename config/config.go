// Package config resolves the settings of a creato invocation from
// defaults, an optional YAML profile and the command line.
package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/weiihann/creato/workload"
)

// Output formats.
const (
	FormatText  = "text"
	FormatTable = "table"
	FormatJSON  = "json"
)

// Worker modes.
const (
	ModeProc   = "proc"
	ModeThread = "thread"
)

// Config is one fully resolved invocation.
type Config struct {
	Duration   time.Duration `yaml:"duration"`
	NProcs     int           `yaml:"nprocs"`
	Prefix     string        `yaml:"prefix"`
	CloseFD    bool          `yaml:"close_fd"`
	Operations []string      `yaml:"operations"`
	Counters   []string      `yaml:"counters"`
	Format     string        `yaml:"format"`
	TraceFile  string        `yaml:"trace_file"`
	Pin        bool          `yaml:"pin"`
	Mode       string        `yaml:"mode"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Duration:   time.Second,
		NProcs:     1,
		Prefix:     "/tmp/creato",
		Operations: []string{workload.Default},
		Format:     FormatText,
		Pin:        true,
		Mode:       ModeProc,
	}
}

// Load reads a YAML profile from path over the defaults. Keys missing
// from the profile keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyArgs overrides cfg with the positional arguments
// <duration_seconds> <nprocs> <path_prefix> [close_fd]. Numbers are read
// like atoi: leading digits, anything unparsable is 0.
func (c *Config) ApplyArgs(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("need <duration> <nprocs> <prefix>, got %d arguments", len(args))
	}

	c.Duration = time.Duration(Atoi(args[0])) * time.Second
	c.NProcs = Atoi(args[1])
	c.Prefix = args[2]

	if len(args) > 3 {
		c.CloseFD = Atoi(args[3]) != 0
	}

	return nil
}

// Validate checks the settings a run cannot start without.
func (c *Config) Validate() error {
	if c.NProcs < 1 {
		return fmt.Errorf("nprocs must be at least 1, got %d", c.NProcs)
	}
	if c.Prefix == "" {
		return fmt.Errorf("empty path prefix")
	}
	if len(c.Operations) == 0 {
		return fmt.Errorf("no operations to run")
	}

	known := workload.Names()
	for _, op := range c.Operations {
		if !slices.Contains(known, op) {
			return fmt.Errorf("unknown operation %q (known: %v)", op, known)
		}
	}

	switch c.Format {
	case FormatText, FormatTable, FormatJSON:
	default:
		return fmt.Errorf("unknown format %q", c.Format)
	}

	switch c.Mode {
	case ModeProc, ModeThread:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}

	return nil
}

// Atoi parses an optional sign and leading decimal digits of s, ignoring
// leading whitespace and anything after the digits. It returns 0 when no
// digits are present.
func Atoi(s string) int {
	i := 0
	for i < len(s) && (s[i] == ' ' || (s[i] >= '\t' && s[i] <= '\r')) {
		i++
	}

	neg := false
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		neg = s[i] == '-'
		i++
	}

	n := 0
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		n = n*10 + int(s[i]-'0')
	}

	if neg {
		return -n
	}
	return n
}
