// Package errors provides centralized error definitions and error handling
// utilities for the omx team runtime. It defines the error taxonomy used by
// every subsystem, sentinel errors for each kind, a structured TeamError
// wrapper with context, and classification helpers.
//
// # Error Kinds
//
// Every failure surfaced by the runtime maps to one Kind. The store, task
// store, mailbox, and heartbeat primitives return structured results where a
// failure is a normal outcome (a claim conflict is data, not a crash); errors
// proper are reserved for I/O and invariant violations.
//
// # Usage
//
// Creating errors:
//
//	err := errors.E(errors.KindClaimConflict, "taskstore.claim", errors.ErrClaimConflict).
//		WithTask("7").WithWorker("worker-2")
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrClaimConflict) { ... }
//	if errors.KindOf(err) == errors.KindClaimConflict { ... }
//	if errors.IsExpected(err) { /* exit code 1, not 2 */ }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Kind classifies a failure. Kinds are stable strings: they appear in events,
// monitor snapshots, and command output, so renaming one is a wire change.
type Kind string

const (
	// KindNotFound indicates an entity is absent. Reads return null rather
	// than erroring; this kind appears only when an operation required the
	// entity to exist.
	KindNotFound Kind = "not_found"
	// KindMalformed indicates persisted JSON was unparseable. Readers treat
	// the file as missing and log once per path per minute.
	KindMalformed Kind = "malformed"
	// KindClaimConflict indicates an optimistic-concurrency loss on a task
	// claim after the single retry.
	KindClaimConflict Kind = "claim_conflict"
	// KindVersionConflict indicates a cross-write race on the manifest after
	// the single retry.
	KindVersionConflict Kind = "version_conflict"
	// KindBlockedDependency indicates a task's dependencies are not complete.
	KindBlockedDependency Kind = "blocked_dependency"
	// KindDrainingWorker indicates a claim attempt by a draining worker.
	KindDrainingWorker Kind = "draining_worker"
	// KindReadyTimeout indicates a worker never reached readiness.
	KindReadyTimeout Kind = "ready_timeout"
	// KindShutdownGateBlocked indicates graceful shutdown was refused because
	// non-terminal workers remain.
	KindShutdownGateBlocked Kind = "shutdown_gate_blocked"
	// KindShutdownRejected indicates a worker explicitly rejected shutdown.
	KindShutdownRejected Kind = "shutdown_rejected"
	// KindResourceDenied indicates scale-up was blocked by CPU or memory.
	KindResourceDenied Kind = "resource_denied"
	// KindLockStaleRecovered indicates a scaling lock older than its TTL was
	// stolen. Warn and proceed.
	KindLockStaleRecovered Kind = "lock_stale_recovered"
	// KindTransportUnavailable indicates the terminal multiplexer binary is
	// missing; the runtime downgrades to the process transport.
	KindTransportUnavailable Kind = "transport_unavailable"
	// KindIOError indicates a filesystem error. Never retried silently.
	KindIOError Kind = "io_error"
)

// Sentinel errors, one per kind that callers match on.
var (
	// ErrNotFound indicates that an entity could not be found.
	ErrNotFound = New("not found")
	// ErrMalformed indicates that a persisted file could not be parsed.
	ErrMalformed = New("malformed state file")
	// ErrClaimConflict indicates that a task is already claimed.
	ErrClaimConflict = New("task already claimed")
	// ErrVersionConflict indicates a concurrent write won the race.
	ErrVersionConflict = New("version conflict")
	// ErrBlockedDependency indicates unmet task dependencies.
	ErrBlockedDependency = New("dependencies not complete")
	// ErrDrainingWorker indicates the worker is draining and may not claim.
	ErrDrainingWorker = New("worker is draining")
	// ErrReadyTimeout indicates a worker did not become ready in time.
	ErrReadyTimeout = New("worker readiness timeout")
	// ErrShutdownGateBlocked indicates the termination gate is not satisfied.
	ErrShutdownGateBlocked = New("shutdown gate blocked")
	// ErrShutdownRejected indicates a worker rejected the shutdown request.
	ErrShutdownRejected = New("shutdown rejected by worker")
	// ErrResourceDenied indicates insufficient CPU or memory headroom.
	ErrResourceDenied = New("insufficient resources")
	// ErrLockStale indicates a lock file outlived its TTL.
	ErrLockStale = New("stale lock")
	// ErrTransportUnavailable indicates the multiplexer binary is missing.
	ErrTransportUnavailable = New("terminal multiplexer unavailable")
	// ErrAlreadyExists indicates that an entity already exists.
	ErrAlreadyExists = New("already exists")
	// ErrAlreadyLocked indicates a live process holds the lock.
	ErrAlreadyLocked = New("already locked")
	// ErrWrongStatus indicates a task transition from an invalid status.
	ErrWrongStatus = New("wrong task status")
	// ErrTokenMismatch indicates a claim token did not match.
	ErrTokenMismatch = New("claim token mismatch")
)

// sentinels maps each kind to the sentinel that errors.Is should match.
var sentinels = map[Kind]error{
	KindNotFound:             ErrNotFound,
	KindMalformed:            ErrMalformed,
	KindClaimConflict:        ErrClaimConflict,
	KindVersionConflict:      ErrVersionConflict,
	KindBlockedDependency:    ErrBlockedDependency,
	KindDrainingWorker:       ErrDrainingWorker,
	KindReadyTimeout:         ErrReadyTimeout,
	KindShutdownGateBlocked:  ErrShutdownGateBlocked,
	KindShutdownRejected:     ErrShutdownRejected,
	KindResourceDenied:       ErrResourceDenied,
	KindLockStaleRecovered:   ErrLockStale,
	KindTransportUnavailable: ErrTransportUnavailable,
}

// expectedKinds are failures a healthy deployment produces in normal
// operation. Commands report them with exit code 1; everything else is 2.
var expectedKinds = map[Kind]bool{
	KindNotFound:            true,
	KindClaimConflict:       true,
	KindVersionConflict:     true,
	KindBlockedDependency:   true,
	KindDrainingWorker:      true,
	KindReadyTimeout:        true,
	KindShutdownGateBlocked: true,
	KindShutdownRejected:    true,
	KindResourceDenied:      true,
}

// TeamError is a structured error carrying the failure kind and the identity
// of the team, worker, and task involved.
//
// Example:
//
//	err := errors.E(errors.KindClaimConflict, "taskstore.claim", cause).
//		WithTeam("t1").WithWorker("worker-2").WithTask("7")
//	fmt.Println(err) // "taskstore.claim [team=t1, worker=worker-2, task=7]: claim_conflict: ..."
type TeamError struct {
	Kind   Kind
	Op     string
	Team   string
	Worker string
	Task   string
	Err    error
}

// E creates a new TeamError. op names the failing operation
// ("taskstore.claim", "transport.kill_slot"); err may be nil.
func E(kind Kind, op string, err error) *TeamError {
	return &TeamError{Kind: kind, Op: op, Err: err}
}

// Ef creates a new TeamError wrapping a formatted message.
func Ef(kind Kind, op string, format string, args ...any) *TeamError {
	return &TeamError{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WithTeam adds the team name to the error context.
func (e *TeamError) WithTeam(team string) *TeamError {
	e.Team = team
	return e
}

// WithWorker adds the worker name to the error context.
func (e *TeamError) WithWorker(worker string) *TeamError {
	e.Worker = worker
	return e
}

// WithTask adds the task id to the error context.
func (e *TeamError) WithTask(task string) *TeamError {
	e.Task = task
	return e
}

// Error returns the formatted error message.
func (e *TeamError) Error() string {
	var parts []string
	if e.Team != "" {
		parts = append(parts, fmt.Sprintf("team=%s", e.Team))
	}
	if e.Worker != "" {
		parts = append(parts, fmt.Sprintf("worker=%s", e.Worker))
	}
	if e.Task != "" {
		parts = append(parts, fmt.Sprintf("task=%s", e.Task))
	}

	prefix := e.Op
	if prefix == "" {
		prefix = "team error"
	}
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", prefix, strings.Join(parts, ", "))
	}

	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Kind)
}

// Unwrap returns the underlying error.
func (e *TeamError) Unwrap() error {
	return e.Err
}

// Is reports whether this error matches the target. A TeamError matches its
// kind's sentinel even when the cause chain does not contain it.
func (e *TeamError) Is(target error) bool {
	if s, ok := sentinels[e.Kind]; ok && target == s {
		return true
	}
	if e.Err != nil {
		return errors.Is(e.Err, target)
	}
	return false
}

// KindOf returns the Kind of err. It prefers an explicit TeamError kind, then
// falls back to sentinel matching. Unknown errors report KindIOError: at the
// boundaries of this codebase everything that is not classified is I/O.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var te *TeamError
	if As(err, &te) {
		return te.Kind
	}
	for kind, sentinel := range sentinels {
		if Is(err, sentinel) {
			return kind
		}
	}
	return KindIOError
}

// IsExpected reports whether err is an expected operational failure (gate
// blocked, not found, conflicts) as opposed to an internal or I/O error.
func IsExpected(err error) bool {
	if err == nil {
		return false
	}
	return expectedKinds[KindOf(err)]
}

// Wrap wraps an error with additional context message.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to persist heartbeat")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
