package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"omx/internal/errors"
)

func TestAcquire_Fresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scaling.lock")

	lock, stolen, err := Acquire(path, 5*time.Minute)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if stolen {
		t.Error("fresh acquire reported stolen")
	}
	if lock.Info().PID != os.Getpid() {
		t.Errorf("lock pid = %d, want %d", lock.Info().PID, os.Getpid())
	}
	if !Exists(path) {
		t.Error("lock file not created")
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if Exists(path) {
		t.Error("lock file remains after release")
	}
}

func TestAcquire_HeldNotStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scaling.lock")

	first, _, err := Acquire(path, 5*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer first.Release()

	_, _, err = Acquire(path, 5*time.Minute)
	if !errors.Is(err, errors.ErrAlreadyLocked) {
		t.Errorf("second Acquire() error = %v, want ErrAlreadyLocked", err)
	}
}

func TestAcquire_StaleSteal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scaling.lock")

	old := LockInfo{PID: os.Getpid(), AcquiredAt: time.Now().Add(-10 * time.Minute)}
	if err := WriteJSON(path, old); err != nil {
		t.Fatal(err)
	}

	lock, stolen, err := Acquire(path, 5*time.Minute)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer lock.Release()

	if !stolen {
		t.Error("stale lock not reported as stolen")
	}
	if time.Since(lock.Info().AcquiredAt) > time.Minute {
		t.Error("stolen lock did not refresh acquired_at")
	}
}

func TestAcquire_MalformedSteal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scaling.lock")
	if err := os.WriteFile(path, []byte("not json"), 0644); err != nil {
		t.Fatal(err)
	}

	lock, stolen, err := Acquire(path, 5*time.Minute)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer lock.Release()

	if !stolen {
		t.Error("malformed lock not reported as stolen")
	}
}

func TestAcquireExclusive_LiveHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "team.lock")

	// Current process stands in for a live holder.
	held := LockInfo{PID: os.Getpid(), AcquiredAt: time.Now()}
	if err := WriteJSON(path, held); err != nil {
		t.Fatal(err)
	}

	_, err := AcquireExclusive(path)
	if !errors.Is(err, errors.ErrAlreadyLocked) {
		t.Errorf("AcquireExclusive() error = %v, want ErrAlreadyLocked", err)
	}
}

func TestAcquireExclusive_DeadHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "team.lock")

	// PIDs near the int32 max are vanishingly unlikely to be live.
	dead := LockInfo{PID: 2147480000, AcquiredAt: time.Now()}
	if err := WriteJSON(path, dead); err != nil {
		t.Fatal(err)
	}

	lock, err := AcquireExclusive(path)
	if err != nil {
		t.Fatalf("AcquireExclusive() error = %v", err)
	}
	defer lock.Release()

	if lock.Info().PID != os.Getpid() {
		t.Errorf("lock pid = %d, want current process", lock.Info().PID)
	}
}

func TestRelease_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scaling.lock")

	lock, _, err := Acquire(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("first Release() error = %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("second Release() error = %v", err)
	}
}

func TestRelease_StolenLockLeftAlone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scaling.lock")

	lock, _, err := Acquire(path, 0)
	if err != nil {
		t.Fatal(err)
	}

	// Another process stole the lock and rewrote it.
	thief := LockInfo{PID: lock.Info().PID + 1, AcquiredAt: time.Now()}
	if err := WriteJSON(path, thief); err != nil {
		t.Fatal(err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if !Exists(path) {
		t.Error("release removed a lock it no longer owned")
	}
}

func TestReadLock(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadLock(filepath.Join(dir, "absent.lock"))
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("ReadLock(missing) error = %v, want ErrNotFound", err)
	}

	bad := filepath.Join(dir, "bad.lock")
	if err := os.WriteFile(bad, []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err = ReadLock(bad)
	if !errors.Is(err, errors.ErrMalformed) {
		t.Errorf("ReadLock(malformed) error = %v, want ErrMalformed", err)
	}
}

func TestProcessAlive(t *testing.T) {
	if !ProcessAlive(os.Getpid()) {
		t.Error("ProcessAlive(self) = false")
	}
	if ProcessAlive(0) {
		t.Error("ProcessAlive(0) = true")
	}
	if ProcessAlive(-1) {
		t.Error("ProcessAlive(-1) = true")
	}
	if ProcessAlive(2147480000) {
		t.Error("ProcessAlive(huge pid) = true")
	}
}
