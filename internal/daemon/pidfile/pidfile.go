// Package pidfile provides single-instance locking for the taskagent daemon.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/gofrs/flock"
)

// File is a held PID file. The lock is released by Release or when the
// process exits.
type File struct {
	path string
	lock *flock.Flock
}

// Acquire takes an exclusive lock on path+".lock" and writes the current PID
// to path. It fails if another live daemon holds the lock.
func Acquire(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create pid directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock pid file: %w", err)
	}
	if !locked {
		if pid, err := Read(path); err == nil && IsProcessAlive(pid) {
			return nil, fmt.Errorf("daemon already running with PID %d", pid)
		}
		return nil, fmt.Errorf("daemon already running (lock held on %s)", lock.Path())
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("failed to write pid file: %w", err)
	}
	return &File{path: path, lock: lock}, nil
}

// Release removes the PID file and drops the lock.
func (f *File) Release() error {
	err := os.Remove(f.path)
	if unlockErr := f.lock.Unlock(); err == nil {
		err = unlockErr
	}
	return err
}

// Read returns the PID stored in path.
func Read(path string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(content)))
}

// IsRunning checks if the daemon described by the pidfile is active.
func IsRunning(path string) (bool, int, error) {
	pid, err := Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	return IsProcessAlive(pid), pid, nil
}

// IsProcessAlive sends signal 0 to pid. EPERM still means the process exists.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil || os.IsPermission(err)
}
