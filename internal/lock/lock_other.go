//go:build !unix

package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Acquire falls back to exclusive file creation where flock is unavailable.
// A stale file left by a crash must be removed by hand.
func Acquire(path string) (*PIDLock, error) {
	if path == "" {
		return nil, fmt.Errorf("lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			pid, _ := ReadPID(path)
			return nil, &HeldError{Path: path, PID: pid}
		}
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("write pid: %w", err)
	}
	return &PIDLock{path: path, f: f}, nil
}

func unlock(f *os.File) {
	_ = os.Remove(f.Name())
}
