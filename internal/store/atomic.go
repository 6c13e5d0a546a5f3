// Package store provides the filesystem primitives every other team package
// builds on: atomic JSON writes, tolerant reads, append-only NDJSON logs, the
// per-team path layout, and pid-stamped advisory lock files.
//
// All mutating writes go through a write-temp-then-rename primitive so a
// reader never observes a partially written file. Reads tolerate missing,
// empty, and malformed files by reporting "not found" instead of failing;
// malformed files are logged at most once per file type per minute.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"omx/internal/logging"
)

var (
	logMu    sync.Mutex
	logger   = logging.NopLogger()
	lastWarn = map[string]time.Time{}
)

// SetLogger routes store warnings (malformed files, steal notices) to the
// given logger. The default is a no-op logger.
func SetLogger(l *logging.Logger) {
	logMu.Lock()
	defer logMu.Unlock()
	if l != nil {
		logger = l
	}
}

// WriteFileAtomic writes data to a file atomically by writing to a temporary
// file first, then renaming. This ensures the target file is never in a
// partially-written state. The parent directory is created if needed.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Create temp file in same directory to ensure atomic rename
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on any error
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	// Write data
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	// Sync to disk
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// Set permissions
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// WriteJSON marshals v with indentation and writes it atomically.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, data, 0644)
}

// ReadJSON unmarshals the file at path into v. It returns false (and leaves v
// untouched) when the file is missing, empty, or malformed; malformed files
// are logged with a per-type throttle. Only unexpected I/O failures return an
// error.
func ReadJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if len(data) == 0 {
		// Zero-byte files act as placeholders (e.g. the signal file written
		// at worker bootstrap) and read as absent.
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		warnMalformed(path, err)
		return false, nil
	}
	return true, nil
}

// AppendLine appends one line to an NDJSON-style log, creating the file if
// needed. The trailing newline is added here.
func AppendLine(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer f.Close()

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("failed to append to log: %w", err)
	}
	return nil
}

// EnsureDir creates a directory (and parents) if it does not exist.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

// Exists reports whether a path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// digitRuns collapses numeric path segments so tasks/42.json and
// tasks/43.json throttle as one type.
var digitRuns = regexp.MustCompile(`[0-9]+`)

func throttleKey(path string) string {
	dir := filepath.Base(filepath.Dir(path))
	base := filepath.Base(path)
	return digitRuns.ReplaceAllString(dir, "N") + "/" + digitRuns.ReplaceAllString(base, "N")
}

func warnMalformed(path string, err error) {
	key := throttleKey(path)

	logMu.Lock()
	last, seen := lastWarn[key]
	now := time.Now()
	if seen && now.Sub(last) < time.Minute {
		logMu.Unlock()
		return
	}
	lastWarn[key] = now
	l := logger
	logMu.Unlock()

	l.Warn("malformed state file, treating as missing", "path", path, "error", err.Error())
}
