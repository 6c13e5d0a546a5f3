package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"omx/internal/errors"
)

// LockInfo is the persisted content of an advisory lock file.
type LockInfo struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock is a held advisory lock backed by a file created with O_EXCL.
type Lock struct {
	path     string
	info     LockInfo
	released bool
	mu       sync.Mutex
}

// ReadLock reads a lock file. Returns ErrNotFound when the file is missing
// and ErrMalformed when it cannot be parsed.
func ReadLock(path string) (*LockInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read lock file: %w", err)
	}

	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformed, err)
	}
	return &info, nil
}

// Acquire takes the lock at path, treating any holder older than staleAfter
// as stale. A stale (or unreadable) lock is stolen; the returned bool reports
// whether a steal happened so callers can log the warning. A live holder
// yields ErrAlreadyLocked.
func Acquire(path string, staleAfter time.Duration) (*Lock, bool, error) {
	lock, err := tryCreate(path)
	if err == nil {
		return lock, false, nil
	}
	if !errors.Is(err, errors.ErrAlreadyExists) {
		return nil, false, err
	}

	info, readErr := ReadLock(path)
	stale := readErr != nil // unreadable lock files are stale by definition
	if readErr == nil && staleAfter > 0 && time.Since(info.AcquiredAt) > staleAfter {
		stale = true
	}
	if !stale {
		return nil, false, fmt.Errorf("%w: held by PID %d since %s",
			errors.ErrAlreadyLocked, info.PID, info.AcquiredAt.Format(time.RFC3339))
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("failed to remove stale lock: %w", err)
	}
	lock, err = tryCreate(path)
	if err != nil {
		if errors.Is(err, errors.ErrAlreadyExists) {
			// Another process won the steal race.
			return nil, false, errors.ErrAlreadyLocked
		}
		return nil, false, err
	}
	return lock, true, nil
}

// AcquireExclusive takes the lock at path, treating the holder as stale only
// when its recorded pid is no longer alive. Used for the per-team runtime
// lock, where holders are long-lived processes.
func AcquireExclusive(path string) (*Lock, error) {
	lock, err := tryCreate(path)
	if err == nil {
		return lock, nil
	}
	if !errors.Is(err, errors.ErrAlreadyExists) {
		return nil, err
	}

	info, readErr := ReadLock(path)
	if readErr == nil && ProcessAlive(info.PID) {
		return nil, fmt.Errorf("%w: held by PID %d since %s",
			errors.ErrAlreadyLocked, info.PID, info.AcquiredAt.Format(time.RFC3339))
	}

	// Holder is dead or the file is unreadable: steal.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove stale lock: %w", err)
	}
	lock, err = tryCreate(path)
	if err != nil {
		if errors.Is(err, errors.ErrAlreadyExists) {
			return nil, errors.ErrAlreadyLocked
		}
		return nil, err
	}
	return lock, nil
}

// tryCreate writes a fresh lock file with O_EXCL.
func tryCreate(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	info := LockInfo{PID: os.Getpid(), AcquiredAt: time.Now().UTC()}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock info: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, errors.ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}

	return &Lock{path: path, info: info}, nil
}

// Release removes the lock file if this process still owns it. Releasing an
// already-released or stolen lock is not an error.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return nil
	}

	existing, err := ReadLock(l.path)
	if err != nil {
		// Lock file gone or unreadable: nothing left to release.
		l.released = true
		return nil
	}
	if existing.PID != l.info.PID {
		// Someone stole the lock; it is theirs to remove.
		l.released = true
		return nil
	}

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	l.released = true
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Info returns the persisted lock content.
func (l *Lock) Info() LockInfo { return l.info }

// ProcessAlive reports whether a process with the given pid exists.
func ProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// On Unix, kill with signal 0 checks process existence without sending a signal.
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to another user.
	return err == syscall.EPERM
}
