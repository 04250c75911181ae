// Package pidfile keeps a single autotask process per pid file, so only one
// writer rotates a given snapshot directory.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

var (
	ErrAlreadyRunning = errors.New("pidfile: another process is running")
	ErrNotOwner       = errors.New("pidfile: file belongs to another process")
)

// File is a held pid file.
type File struct {
	path string
	pid  int
}

// Acquire writes the current pid to path. It fails with ErrAlreadyRunning if
// path names a live process other than this one; stale or unreadable files
// are replaced.
func Acquire(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create pid file directory: %w", err)
	}

	self := os.Getpid()
	if pid, err := ReadPID(path); err == nil && pid != self && IsRunning(pid) {
		return nil, fmt.Errorf("%w: pid %d holds %s", ErrAlreadyRunning, pid, path)
	}

	if err := WritePID(path, self); err != nil {
		return nil, err
	}
	return &File{path: path, pid: self}, nil
}

func (f *File) Path() string {
	return f.path
}

// Release removes the pid file if it still names this process.
func (f *File) Release() error {
	pid, err := ReadPID(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if pid != f.pid {
		return fmt.Errorf("%w: %s names pid %d", ErrNotOwner, f.path, pid)
	}

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pid file: %w", err)
	}
	return nil
}

// WritePID записывает PID в файл
func WritePID(path string, pid int) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// ReadPID читает PID из файла
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file %s: %w", path, err)
	}
	return pid, nil
}

// IsRunning проверяет что процесс запущен
func IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 only checks that the process exists. EPERM means it exists
	// but belongs to another user.
	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
