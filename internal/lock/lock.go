package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// HeldError is returned when another daemon holds the profile lock.
type HeldError struct {
	PID   int
	Since time.Time
	Path  string
}

func (e *HeldError) Error() string {
	if e.Since.IsZero() {
		return fmt.Sprintf("profile lock held by PID %d (%s)", e.PID, e.Path)
	}
	return fmt.Sprintf("profile lock held by PID %d since %s (%s)", e.PID, e.Since.Format(time.RFC3339), e.Path)
}

// Lock represents an acquired profile lock file.
type Lock struct {
	file *os.File
	path string
}

// Acquire attempts to acquire an exclusive lock on the profile directory.
// Returns *HeldError if another process already holds it.
func Acquire(profileDir string) (*Lock, error) {
	lockPath := filepath.Join(profileDir, "LOCK")

	if err := os.MkdirAll(profileDir, 0700); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, heldError(lockPath)
	}

	// Write PID + timestamp.
	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		_ = f.Close()
		return nil, err
	}
	content := fmt.Sprintf("pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Lock{file: f, path: lockPath}, nil
}

// Holder reports the daemon currently holding the profile lock, if any. It
// never takes the lock for longer than the probe.
func Holder(profileDir string) (*HeldError, bool) {
	lockPath := filepath.Join(profileDir, "LOCK")
	f, err := os.OpenFile(lockPath, os.O_RDWR, 0600)
	if err != nil {
		return nil, false
	}
	defer func() { _ = f.Close() }()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		return heldError(lockPath), true
	}
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	return nil, false
}

func heldError(lockPath string) *HeldError {
	data, _ := os.ReadFile(lockPath)
	pid, since := parse(string(data))
	return &HeldError{PID: pid, Since: since, Path: lockPath}
}

// Release releases the lock. Safe to call on nil receiver.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove lock file before closing to avoid stale files.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

func parse(content string) (pid int, since time.Time) {
	for _, line := range strings.Split(content, "\n") {
		if after, ok := strings.CutPrefix(line, "pid="); ok {
			pid, _ = strconv.Atoi(after)
		}
		if after, ok := strings.CutPrefix(line, "time="); ok {
			since, _ = time.Parse(time.RFC3339, after)
		}
	}
	return pid, since
}
