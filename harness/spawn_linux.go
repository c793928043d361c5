//go:build linux

package harness

import "syscall"

// Workers die with the leader. Pdeathsig follows the thread that started
// the child, so Run spawns from a thread that outlives the workers.
func workerSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL}
}
