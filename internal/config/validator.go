package config

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "scaling.up_threshold")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// socketNameRegex validates multiplexer socket name characters
// Socket names should start with alphanumeric and can contain alphanumeric, hyphen, underscore
var socketNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidTransportForce returns the valid values for transport.force
func ValidTransportForce() []string {
	return []string{"", "0", "1"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate Transport config
	errors = append(errors, c.validateTransport()...)

	// Validate Worker config
	errors = append(errors, c.validateWorker()...)

	// Validate Tasks config
	errors = append(errors, c.validateTasks()...)

	// Validate Monitor config
	errors = append(errors, c.validateMonitor()...)

	// Validate Shutdown config
	errors = append(errors, c.validateShutdown()...)

	// Validate Scaling config
	errors = append(errors, c.validateScaling()...)

	// Validate Logging config
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateTransport validates the TransportConfig
func (c *Config) validateTransport() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidTransportForce(), c.Transport.Force) {
		errors = append(errors, ValidationError{
			Field:   "transport.force",
			Value:   c.Transport.Force,
			Message: "must be '1' (force multiplexer), '0' (force processes), or empty (probe)",
		})
	}

	if c.Transport.SocketName == "" {
		errors = append(errors, ValidationError{
			Field:   "transport.socket_name",
			Value:   c.Transport.SocketName,
			Message: "cannot be empty",
		})
	} else if !socketNameRegex.MatchString(c.Transport.SocketName) {
		errors = append(errors, ValidationError{
			Field:   "transport.socket_name",
			Value:   c.Transport.SocketName,
			Message: "must start with a letter and contain only alphanumeric characters, hyphens, or underscores",
		})
	}

	// Slot dimension validation
	const minSlotWidth = 80
	const maxSlotWidth = 500
	const minSlotHeight = 24
	const maxSlotHeight = 200

	if c.Transport.SlotWidth < minSlotWidth {
		errors = append(errors, ValidationError{
			Field:   "transport.slot_width",
			Value:   c.Transport.SlotWidth,
			Message: fmt.Sprintf("must be at least %d columns", minSlotWidth),
		})
	}
	if c.Transport.SlotWidth > maxSlotWidth {
		errors = append(errors, ValidationError{
			Field:   "transport.slot_width",
			Value:   c.Transport.SlotWidth,
			Message: fmt.Sprintf("exceeds maximum of %d columns", maxSlotWidth),
		})
	}
	if c.Transport.SlotHeight < minSlotHeight {
		errors = append(errors, ValidationError{
			Field:   "transport.slot_height",
			Value:   c.Transport.SlotHeight,
			Message: fmt.Sprintf("must be at least %d rows", minSlotHeight),
		})
	}
	if c.Transport.SlotHeight > maxSlotHeight {
		errors = append(errors, ValidationError{
			Field:   "transport.slot_height",
			Value:   c.Transport.SlotHeight,
			Message: fmt.Sprintf("exceeds maximum of %d rows", maxSlotHeight),
		})
	}

	if c.Transport.HistoryLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "transport.history_limit",
			Value:   c.Transport.HistoryLimit,
			Message: "must be non-negative",
		})
	}

	// Ring buffer bounds
	const minCaptureBytes = 1024        // 1KB minimum
	const maxCaptureBytes = 100_000_000 // 100MB maximum

	if c.Transport.CaptureBytes < minCaptureBytes {
		errors = append(errors, ValidationError{
			Field:   "transport.capture_bytes",
			Value:   c.Transport.CaptureBytes,
			Message: fmt.Sprintf("must be at least %d bytes (1KB)", minCaptureBytes),
		})
	}
	if c.Transport.CaptureBytes > maxCaptureBytes {
		errors = append(errors, ValidationError{
			Field:   "transport.capture_bytes",
			Value:   c.Transport.CaptureBytes,
			Message: fmt.Sprintf("exceeds maximum of %d bytes (100MB)", maxCaptureBytes),
		})
	}

	return errors
}

// validateWorker validates the WorkerConfig
func (c *Config) validateWorker() []ValidationError {
	var errors []ValidationError

	const maxReadyTimeout = 600_000 // 10 minutes
	if c.Worker.ReadyTimeoutMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "worker.ready_timeout_ms",
			Value:   c.Worker.ReadyTimeoutMs,
			Message: "must be positive",
		})
	}
	if c.Worker.ReadyTimeoutMs > maxReadyTimeout {
		errors = append(errors, ValidationError{
			Field:   "worker.ready_timeout_ms",
			Value:   c.Worker.ReadyTimeoutMs,
			Message: fmt.Sprintf("exceeds maximum of %dms", maxReadyTimeout),
		})
	}

	// Capture interval validation
	const minCaptureInterval = 10   // 10ms minimum
	const maxCaptureInterval = 5000 // 5 seconds maximum

	if c.Worker.CaptureIntervalMs < minCaptureInterval {
		errors = append(errors, ValidationError{
			Field:   "worker.capture_interval_ms",
			Value:   c.Worker.CaptureIntervalMs,
			Message: fmt.Sprintf("must be at least %dms", minCaptureInterval),
		})
	}
	if c.Worker.CaptureIntervalMs > maxCaptureInterval {
		errors = append(errors, ValidationError{
			Field:   "worker.capture_interval_ms",
			Value:   c.Worker.CaptureIntervalMs,
			Message: fmt.Sprintf("exceeds maximum of %dms", maxCaptureInterval),
		})
	}

	if c.Worker.InactivityCeilingMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "worker.inactivity_ceiling_ms",
			Value:   c.Worker.InactivityCeilingMs,
			Message: "must be non-negative (0 disables the ceiling)",
		})
	}

	// Validate rc file if specified
	if c.Worker.ShellRC != "" {
		if _, err := os.Stat(c.Worker.ShellRC); err != nil {
			errors = append(errors, ValidationError{
				Field:   "worker.shell_rc",
				Value:   c.Worker.ShellRC,
				Message: "file does not exist",
			})
		}
	}

	return errors
}

// validateTasks validates the TasksConfig
func (c *Config) validateTasks() []ValidationError {
	var errors []ValidationError

	const maxClaimLease = 86_400_000 // 24 hours
	if c.Tasks.ClaimLeaseMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "tasks.claim_lease_ms",
			Value:   c.Tasks.ClaimLeaseMs,
			Message: "must be positive",
		})
	}
	if c.Tasks.ClaimLeaseMs > maxClaimLease {
		errors = append(errors, ValidationError{
			Field:   "tasks.claim_lease_ms",
			Value:   c.Tasks.ClaimLeaseMs,
			Message: fmt.Sprintf("exceeds maximum of %dms (24h)", maxClaimLease),
		})
	}

	return errors
}

// validateMonitor validates the MonitorConfig
func (c *Config) validateMonitor() []ValidationError {
	var errors []ValidationError

	const minPollInterval = 100    // 100ms minimum
	const maxPollInterval = 60_000 // 1 minute maximum

	if c.Monitor.PollIntervalMs < minPollInterval {
		errors = append(errors, ValidationError{
			Field:   "monitor.poll_interval_ms",
			Value:   c.Monitor.PollIntervalMs,
			Message: fmt.Sprintf("must be at least %dms", minPollInterval),
		})
	}
	if c.Monitor.PollIntervalMs > maxPollInterval {
		errors = append(errors, ValidationError{
			Field:   "monitor.poll_interval_ms",
			Value:   c.Monitor.PollIntervalMs,
			Message: fmt.Sprintf("exceeds maximum of %dms", maxPollInterval),
		})
	}

	if c.Monitor.LeaderNudgeMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "monitor.leader_nudge_ms",
			Value:   c.Monitor.LeaderNudgeMs,
			Message: "must be positive",
		})
	}

	if c.Monitor.TickBudgetMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "monitor.tick_budget_ms",
			Value:   c.Monitor.TickBudgetMs,
			Message: "must be non-negative (0 disables the budget warning)",
		})
	}

	return errors
}

// validateShutdown validates the ShutdownConfig
func (c *Config) validateShutdown() []ValidationError {
	var errors []ValidationError

	const maxGrace = 300_000 // 5 minutes
	if c.Shutdown.GraceMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "shutdown.grace_ms",
			Value:   c.Shutdown.GraceMs,
			Message: "must be positive",
		})
	}
	if c.Shutdown.GraceMs > maxGrace {
		errors = append(errors, ValidationError{
			Field:   "shutdown.grace_ms",
			Value:   c.Shutdown.GraceMs,
			Message: fmt.Sprintf("exceeds maximum of %dms", maxGrace),
		})
	}

	return errors
}

// validateScaling validates the ScalingConfig
func (c *Config) validateScaling() []ValidationError {
	var errors []ValidationError

	if c.Scaling.MaxCPUPercent <= 0 || c.Scaling.MaxCPUPercent > 100 {
		errors = append(errors, ValidationError{
			Field:   "scaling.max_cpu_percent",
			Value:   c.Scaling.MaxCPUPercent,
			Message: "must be in the range (0, 100]",
		})
	}

	if c.Scaling.MinFreeMemMB < 0 {
		errors = append(errors, ValidationError{
			Field:   "scaling.min_free_mem_mb",
			Value:   c.Scaling.MinFreeMemMB,
			Message: "must be non-negative",
		})
	}

	if c.Scaling.CooldownMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "scaling.cooldown_ms",
			Value:   c.Scaling.CooldownMs,
			Message: "must be non-negative (0 disables the cooldown)",
		})
	}

	if c.Scaling.UpThreshold <= 0 {
		errors = append(errors, ValidationError{
			Field:   "scaling.up_threshold",
			Value:   c.Scaling.UpThreshold,
			Message: "must be positive",
		})
	}

	if c.Scaling.DownThreshold <= 0 || c.Scaling.DownThreshold >= 1 {
		errors = append(errors, ValidationError{
			Field:   "scaling.down_threshold",
			Value:   c.Scaling.DownThreshold,
			Message: "must be in the range (0, 1)",
		})
	}

	if c.Scaling.IdleTimeoutMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "scaling.idle_timeout_ms",
			Value:   c.Scaling.IdleTimeoutMs,
			Message: "must be positive",
		})
	}

	if c.Scaling.MinWorkers < 1 {
		errors = append(errors, ValidationError{
			Field:   "scaling.min_workers",
			Value:   c.Scaling.MinWorkers,
			Message: "must be at least 1",
		})
	}

	if c.Scaling.MaxWorkers < c.Scaling.MinWorkers {
		errors = append(errors, ValidationError{
			Field:   "scaling.max_workers",
			Value:   c.Scaling.MaxWorkers,
			Message: fmt.Sprintf("must be at least min_workers (%d)", c.Scaling.MinWorkers),
		})
	}
	if c.Scaling.MaxWorkers > AbsoluteMaxWorkers {
		errors = append(errors, ValidationError{
			Field:   "scaling.max_workers",
			Value:   c.Scaling.MaxWorkers,
			Message: fmt.Sprintf("exceeds hard ceiling of %d", AbsoluteMaxWorkers),
		})
	}

	if c.Scaling.PerWorkerMemMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "scaling.per_worker_mem_mb",
			Value:   c.Scaling.PerWorkerMemMB,
			Message: "must be positive",
		})
	}

	if c.Scaling.DrainTimeoutMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "scaling.drain_timeout_ms",
			Value:   c.Scaling.DrainTimeoutMs,
			Message: "must be positive",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	// Validate log level
	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	// Max size must be positive
	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	// Reasonable upper bound for log file size
	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	// Max backups must be non-negative
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
