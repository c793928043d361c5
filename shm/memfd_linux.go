//go:build linux

package shm

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func createFile(size int) (*os.File, error) {
	fd, err := unix.MemfdCreate("creato-shm", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}

	f := os.NewFile(uintptr(fd), "creato-shm")
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("size shared block: %w", err)
	}

	return f, nil
}
