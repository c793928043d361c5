//go:build !linux

package pmc

import (
	"fmt"
	"runtime"
)

// Events lists nothing; perf events are Linux-only.
func Events() []string { return nil }

// Perf is unavailable on this platform.
type Perf struct{ Nop }

// Open always fails outside Linux.
func Open(names []string, cores []int) (*Perf, error) {
	return nil, fmt.Errorf("performance counters are not supported on %s", runtime.GOOS)
}
