// Package logging provides structured logging for omx teams.
//
// This package wraps Go's log/slog to provide JSON-formatted logs with
// context propagation for debugging and post-hoc analysis. Every team keeps
// a debug.log inside its state root; child loggers carry the team, worker,
// phase, and component attributes so a single file can be filtered per
// actor after the fact.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. The [Logger] type
// uses Go's slog internally; the [RotatingWriter] type uses a mutex to
// protect file operations during rotation. Child loggers created via With*
// methods share the underlying writer safely.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(teamDir, "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	workerLogger := logger.WithTeam("t1").WithWorker("worker-2")
//	workerLogger.Info("claim acquired", "task", "7")
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"claim acquired","team":"t1","worker":"worker-2","task":"7"}
//
// For long-running teams, use [NewLoggerWithRotation] to bound file growth.
// For testing, use [NopLogger] to discard all output.
package logging
