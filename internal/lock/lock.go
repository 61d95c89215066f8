// Package lock keeps a single `launchpad serve` per state directory.
package lock

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ErrHeld is wrapped by HeldError.
var ErrHeld = errors.New("lock is held by another process")

// HeldError reports who holds the lock, when the PID file could be read.
type HeldError struct {
	Path string
	PID  int
}

func (e *HeldError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("%s: %v (pid %d)", e.Path, ErrHeld, e.PID)
	}
	return fmt.Sprintf("%s: %v", e.Path, ErrHeld)
}

func (e *HeldError) Unwrap() error { return ErrHeld }

// PIDLock is a PID file guarded by an advisory lock that lives as long as
// the file descriptor stays open.
type PIDLock struct {
	path string
	f    *os.File
}

func (l *PIDLock) Path() string { return l.path }

// Release drops the lock. Safe on nil and on repeated calls.
func (l *PIDLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	unlock(l.f)
	err := l.f.Close()
	l.f = nil
	return err
}

// ReadPID returns the PID recorded in a lock file.
func ReadPID(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("parse pid in %s: %w", path, err)
	}
	return pid, nil
}
