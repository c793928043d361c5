//go:build !linux

package affinity

import "runtime"

// Pin only locks the goroutine to its thread; core binding is Linux-only.
func Pin(core int) error {
	runtime.LockOSThread()
	return nil
}

// Allowed reports every core.
func Allowed() ([]int, error) {
	cores := make([]int, NCores())
	for i := range cores {
		cores[i] = i
	}
	return cores, nil
}
