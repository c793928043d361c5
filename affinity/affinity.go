// Package affinity binds workers to processor cores.
package affinity

import (
	"runtime"

	"github.com/shirou/gopsutil/cpu"
)

// NCores returns the number of configured logical CPUs, which is what the
// worker-to-core mapping is taken modulo.
func NCores() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		return runtime.NumCPU()
	}
	return n
}

// CoreFor returns the core assigned to worker index.
func CoreFor(index, ncores int) int {
	if ncores < 1 {
		return 0
	}
	return index % ncores
}
