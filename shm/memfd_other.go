//go:build unix && !linux

package shm

import (
	"fmt"
	"os"
)

// createFile falls back to an unlinked temp file where memfd is missing.
func createFile(size int) (*os.File, error) {
	f, err := os.CreateTemp("", "creato-shm-*")
	if err != nil {
		return nil, fmt.Errorf("create shared block file: %w", err)
	}

	if err := os.Remove(f.Name()); err != nil {
		f.Close()
		return nil, fmt.Errorf("unlink shared block file: %w", err)
	}

	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("size shared block: %w", err)
	}

	return f, nil
}
