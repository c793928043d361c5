//go:build linux

package affinity

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Pin locks the calling goroutine to its OS thread and restricts that
// thread to core. The goroutine stays locked for the rest of its life.
func Pin(core int) error {
	runtime.LockOSThread()

	var set unix.CPUSet
	set.Zero()
	set.Set(core)

	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity core %d: %w", core, err)
	}

	return nil
}

// Allowed returns the cores the calling thread may run on.
func Allowed() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, fmt.Errorf("sched_getaffinity: %w", err)
	}

	var cores []int
	for i := 0; i < int(unsafe.Sizeof(set))*8; i++ {
		if set.IsSet(i) {
			cores = append(cores, i)
		}
	}

	return cores, nil
}
