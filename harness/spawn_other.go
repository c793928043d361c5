//go:build !linux

package harness

import "syscall"

func workerSysProcAttr() *syscall.SysProcAttr {
	return nil
}
