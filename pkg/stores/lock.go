package stores

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("locked by another process")

// DefaultLockStaleAfter is the age after which a lock file whose owner
// cannot be identified is considered abandoned.
const DefaultLockStaleAfter = 10 * time.Minute

// FileLock is a lock file guarding a resource across processes. The file
// records the owner's PID and host; a lock is only taken over once its
// owner is gone.
type FileLock struct {
	path       string
	staleAfter time.Duration
}

// lockOwner is the content of a lock file.
type lockOwner struct {
	PID  int
	Host string
}

// NewFileLock creates a lock at path. A zero staleAfter uses
// DefaultLockStaleAfter.
func NewFileLock(path string, staleAfter time.Duration) *FileLock {
	if staleAfter == 0 {
		staleAfter = DefaultLockStaleAfter
	}
	return &FileLock{path: path, staleAfter: staleAfter}
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}

// Lock acquires the lock.
func (l *FileLock) Lock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	if l.stale() {
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale lock: %w", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			if owner, readErr := readLockOwner(l.path); readErr == nil && owner.PID > 0 {
				return fmt.Errorf("%w: PID %d on %s (lock file: %s)", ErrLocked, owner.PID, owner.Host, l.path)
			}
			return fmt.Errorf("%w (lock file: %s). If this is an error, remove the lock file manually", ErrLocked, l.path)
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	content := fmt.Sprintf("pid=%d\nhost=%s\ntime=%s\n", os.Getpid(), hostname(), time.Now().UTC().Format(time.RFC3339))
	if _, err := f.WriteString(content); err != nil {
		os.Remove(l.path)
		return fmt.Errorf("failed to write lock file: %w", err)
	}

	return nil
}

// Unlock releases the lock. A lock file owned by another process is left
// alone.
func (l *FileLock) Unlock() error {
	if owner, err := readLockOwner(l.path); err == nil && owner.PID > 0 &&
		(owner.PID != os.Getpid() || owner.Host != hostname()) {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// stale reports whether an existing lock file may be taken over. A lock
// written on this host is stale once its process has exited; any other lock
// only after staleAfter.
func (l *FileLock) stale() bool {
	info, err := os.Stat(l.path)
	if err != nil {
		return false
	}
	owner, err := readLockOwner(l.path)
	if err == nil && owner.PID > 0 && owner.Host == hostname() {
		return !isProcessAlive(owner.PID)
	}
	return time.Since(info.ModTime()) > l.staleAfter
}

func readLockOwner(path string) (lockOwner, error) {
	var owner lockOwner
	data, err := os.ReadFile(path)
	if err != nil {
		return owner, err
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			owner.PID, _ = strconv.Atoi(value)
		case "host":
			owner.Host = value
		}
	}
	return owner, sc.Err()
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}

// isProcessAlive checks if a process with the given PID is still running.
func isProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
