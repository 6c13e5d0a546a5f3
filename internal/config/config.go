// Package config resolves the omx runtime configuration from defaults, an
// optional YAML config file, and environment variables. The raw environment
// names used by the team runtime (READY_TIMEOUT_MS, CLAIM_LEASE_MS, the
// SCALE_* family) are bound explicitly so they work without the OMX_ prefix.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// AbsoluteMaxWorkers is the hard ceiling on workers per team. The scaling
// maximum is configurable but always clamps to this constant.
const AbsoluteMaxWorkers = 20

// Config represents the complete omx configuration
type Config struct {
	Transport TransportConfig `mapstructure:"transport"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Tasks     TasksConfig     `mapstructure:"tasks"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Shutdown  ShutdownConfig  `mapstructure:"shutdown"`
	Scaling   ScalingConfig   `mapstructure:"scaling"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// TransportConfig controls how worker slots are hosted
type TransportConfig struct {
	// Force overrides transport selection: "1" forces the terminal
	// multiplexer, "0" forces child processes, "" probes at startup.
	Force string `mapstructure:"force"`
	// SocketName is the multiplexer socket namespace so team sessions never
	// collide with the user's own sessions.
	SocketName string `mapstructure:"socket_name"`
	// SlotWidth and SlotHeight size newly created slots.
	SlotWidth  int `mapstructure:"slot_width"`
	SlotHeight int `mapstructure:"slot_height"`
	// HistoryLimit is the scrollback kept per slot.
	HistoryLimit int `mapstructure:"history_limit"`
	// CaptureBytes bounds the process-transport output ring buffer.
	CaptureBytes int `mapstructure:"capture_bytes"`
}

// WorkerConfig controls worker bootstrap and liveness observation
type WorkerConfig struct {
	// ReadyTimeoutMs is how long bootstrap waits for the CLI prompt (READY_TIMEOUT_MS).
	ReadyTimeoutMs int `mapstructure:"ready_timeout_ms"`
	// CaptureIntervalMs is the readiness/heartbeat capture poll interval.
	CaptureIntervalMs int `mapstructure:"capture_interval_ms"`
	// InactivityCeilingMs is how stale last_turn_at may grow before the
	// liveness check consults only the pid probe.
	InactivityCeilingMs int `mapstructure:"inactivity_ceiling_ms"`
	// Shell is the login shell worker slots run under. Empty means $SHELL,
	// falling back to /bin/sh.
	Shell string `mapstructure:"shell"`
	// ShellRC is an optional rc file sourced before the CLI is exec'd.
	ShellRC string `mapstructure:"shell_rc"`
}

// TasksConfig controls the task store
type TasksConfig struct {
	// ClaimLeaseMs is the claim lease duration (CLAIM_LEASE_MS).
	ClaimLeaseMs int `mapstructure:"claim_lease_ms"`
}

// MonitorConfig controls the monitor loop
type MonitorConfig struct {
	// PollIntervalMs is the minimum interval between ticks.
	PollIntervalMs int `mapstructure:"poll_interval_ms"`
	// LeaderNudgeMs is how long workers may be silent before a
	// team_leader_nudge event is appended (LEADER_NUDGE_MS).
	LeaderNudgeMs int `mapstructure:"leader_nudge_ms"`
	// TickBudgetMs is the soft tick runtime budget; slower ticks log a warning.
	TickBudgetMs int `mapstructure:"tick_budget_ms"`
}

// ShutdownConfig controls the shutdown rendezvous
type ShutdownConfig struct {
	// GraceMs is the ack-wait and kill grace budget (SHUTDOWN_GRACE_MS).
	GraceMs int `mapstructure:"grace_ms"`
}

// ScalingConfig controls the scaling engine
type ScalingConfig struct {
	// Auto enables auto-apply of high-confidence recommendations (AUTO_SCALE).
	Auto bool `mapstructure:"auto"`
	// MaxCPUPercent blocks scale-up when 1-minute load exceeds it (SCALE_MAX_CPU_PERCENT).
	MaxCPUPercent float64 `mapstructure:"max_cpu_percent"`
	// MinFreeMemMB is memory headroom that must remain after scale-up (SCALE_MIN_FREE_MEM_MB).
	MinFreeMemMB int `mapstructure:"min_free_mem_mb"`
	// CooldownMs is the minimum spacing between scaling actions (SCALE_COOLDOWN_MS).
	CooldownMs int `mapstructure:"cooldown_ms"`
	// UpThreshold is the pending/active ratio that triggers scale-up (SCALE_UP_THRESHOLD).
	UpThreshold float64 `mapstructure:"up_threshold"`
	// DownThreshold is the idle/active ratio that triggers scale-down (SCALE_DOWN_THRESHOLD).
	DownThreshold float64 `mapstructure:"down_threshold"`
	// IdleTimeoutMs is how long a worker must be idle before it counts
	// toward scale-down (SCALE_IDLE_TIMEOUT_MS).
	IdleTimeoutMs int `mapstructure:"idle_timeout_ms"`
	// MinWorkers is the scale-down floor (SCALE_MIN_WORKERS).
	MinWorkers int `mapstructure:"min_workers"`
	// MaxWorkers is the scale-up ceiling; clamped to AbsoluteMaxWorkers.
	MaxWorkers int `mapstructure:"max_workers"`
	// PerWorkerMemMB is the memory budget per additional worker (SCALE_PER_WORKER_MEM_MB).
	PerWorkerMemMB int `mapstructure:"per_worker_mem_mb"`
	// DrainTimeoutMs is how long a drain may run before a warning (DRAIN_TIMEOUT_MS).
	DrainTimeoutMs int `mapstructure:"drain_timeout_ms"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// Default returns a Config with the documented default values
func Default() *Config {
	return &Config{
		Transport: TransportConfig{
			Force:        "",
			SocketName:   "omx",
			SlotWidth:    200,
			SlotHeight:   50,
			HistoryLimit: 50000,
			CaptureBytes: 100000, // 100KB ring per slot
		},
		Worker: WorkerConfig{
			ReadyTimeoutMs:      45000,
			CaptureIntervalMs:   250,
			InactivityCeilingMs: 120000,
			Shell:               "",
			ShellRC:             "",
		},
		Tasks: TasksConfig{
			ClaimLeaseMs: 900000, // 15 minutes
		},
		Monitor: MonitorConfig{
			PollIntervalMs: 1000,
			LeaderNudgeMs:  120000,
			TickBudgetMs:   2000,
		},
		Shutdown: ShutdownConfig{
			GraceMs: 15000,
		},
		Scaling: ScalingConfig{
			Auto:           false,
			MaxCPUPercent:  80,
			MinFreeMemMB:   512,
			CooldownMs:     60000,
			UpThreshold:    3.0,
			DownThreshold:  0.5,
			IdleTimeoutMs:  120000,
			MinWorkers:     1,
			MaxWorkers:     AbsoluteMaxWorkers,
			PerWorkerMemMB: 200,
			DrainTimeoutMs: 300000, // 5 minutes
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("transport.force", defaults.Transport.Force)
	viper.SetDefault("transport.socket_name", defaults.Transport.SocketName)
	viper.SetDefault("transport.slot_width", defaults.Transport.SlotWidth)
	viper.SetDefault("transport.slot_height", defaults.Transport.SlotHeight)
	viper.SetDefault("transport.history_limit", defaults.Transport.HistoryLimit)
	viper.SetDefault("transport.capture_bytes", defaults.Transport.CaptureBytes)

	viper.SetDefault("worker.ready_timeout_ms", defaults.Worker.ReadyTimeoutMs)
	viper.SetDefault("worker.capture_interval_ms", defaults.Worker.CaptureIntervalMs)
	viper.SetDefault("worker.inactivity_ceiling_ms", defaults.Worker.InactivityCeilingMs)
	viper.SetDefault("worker.shell", defaults.Worker.Shell)
	viper.SetDefault("worker.shell_rc", defaults.Worker.ShellRC)

	viper.SetDefault("tasks.claim_lease_ms", defaults.Tasks.ClaimLeaseMs)

	viper.SetDefault("monitor.poll_interval_ms", defaults.Monitor.PollIntervalMs)
	viper.SetDefault("monitor.leader_nudge_ms", defaults.Monitor.LeaderNudgeMs)
	viper.SetDefault("monitor.tick_budget_ms", defaults.Monitor.TickBudgetMs)

	viper.SetDefault("shutdown.grace_ms", defaults.Shutdown.GraceMs)

	viper.SetDefault("scaling.auto", defaults.Scaling.Auto)
	viper.SetDefault("scaling.max_cpu_percent", defaults.Scaling.MaxCPUPercent)
	viper.SetDefault("scaling.min_free_mem_mb", defaults.Scaling.MinFreeMemMB)
	viper.SetDefault("scaling.cooldown_ms", defaults.Scaling.CooldownMs)
	viper.SetDefault("scaling.up_threshold", defaults.Scaling.UpThreshold)
	viper.SetDefault("scaling.down_threshold", defaults.Scaling.DownThreshold)
	viper.SetDefault("scaling.idle_timeout_ms", defaults.Scaling.IdleTimeoutMs)
	viper.SetDefault("scaling.min_workers", defaults.Scaling.MinWorkers)
	viper.SetDefault("scaling.max_workers", defaults.Scaling.MaxWorkers)
	viper.SetDefault("scaling.per_worker_mem_mb", defaults.Scaling.PerWorkerMemMB)
	viper.SetDefault("scaling.drain_timeout_ms", defaults.Scaling.DrainTimeoutMs)

	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
}

// BindRuntimeEnv binds the documented unprefixed environment variables to
// their config keys. AutomaticEnv only covers OMX_-prefixed names; the team
// runtime contract uses bare names.
func BindRuntimeEnv() {
	bindings := map[string]string{
		"transport.force":           "FORCE_TRANSPORT",
		"worker.ready_timeout_ms":   "READY_TIMEOUT_MS",
		"monitor.leader_nudge_ms":   "LEADER_NUDGE_MS",
		"tasks.claim_lease_ms":      "CLAIM_LEASE_MS",
		"shutdown.grace_ms":         "SHUTDOWN_GRACE_MS",
		"scaling.auto":              "AUTO_SCALE",
		"scaling.max_cpu_percent":   "SCALE_MAX_CPU_PERCENT",
		"scaling.min_free_mem_mb":   "SCALE_MIN_FREE_MEM_MB",
		"scaling.cooldown_ms":       "SCALE_COOLDOWN_MS",
		"scaling.up_threshold":      "SCALE_UP_THRESHOLD",
		"scaling.down_threshold":    "SCALE_DOWN_THRESHOLD",
		"scaling.idle_timeout_ms":   "SCALE_IDLE_TIMEOUT_MS",
		"scaling.min_workers":       "SCALE_MIN_WORKERS",
		"scaling.max_workers":       "SCALE_MAX_WORKERS",
		"scaling.per_worker_mem_mb": "SCALE_PER_WORKER_MEM_MB",
		"scaling.drain_timeout_ms":  "DRAIN_TIMEOUT_MS",
	}
	for key, env := range bindings {
		_ = viper.BindEnv(key, env)
	}
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.Scaling.MaxWorkers > AbsoluteMaxWorkers {
		cfg.Scaling.MaxWorkers = AbsoluteMaxWorkers
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "omx")
	}
	// Fall back to ~/.config/omx
	home, err := os.UserHomeDir()
	if err != nil {
		return ".omx"
	}
	return filepath.Join(home, ".config", "omx")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ReadyTimeout returns the worker readiness timeout as a time.Duration
func (c *WorkerConfig) ReadyTimeout() time.Duration {
	return time.Duration(c.ReadyTimeoutMs) * time.Millisecond
}

// CaptureInterval returns the capture poll interval as a time.Duration
func (c *WorkerConfig) CaptureInterval() time.Duration {
	return time.Duration(c.CaptureIntervalMs) * time.Millisecond
}

// InactivityCeiling returns the heartbeat staleness ceiling as a time.Duration
func (c *WorkerConfig) InactivityCeiling() time.Duration {
	return time.Duration(c.InactivityCeilingMs) * time.Millisecond
}

// ClaimLease returns the claim lease duration
func (c *TasksConfig) ClaimLease() time.Duration {
	return time.Duration(c.ClaimLeaseMs) * time.Millisecond
}

// PollInterval returns the monitor tick interval as a time.Duration
func (c *MonitorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// LeaderNudge returns the leader nudge threshold as a time.Duration
func (c *MonitorConfig) LeaderNudge() time.Duration {
	return time.Duration(c.LeaderNudgeMs) * time.Millisecond
}

// TickBudget returns the soft tick budget as a time.Duration
func (c *MonitorConfig) TickBudget() time.Duration {
	return time.Duration(c.TickBudgetMs) * time.Millisecond
}

// Grace returns the shutdown grace budget as a time.Duration
func (c *ShutdownConfig) Grace() time.Duration {
	return time.Duration(c.GraceMs) * time.Millisecond
}

// Cooldown returns the scaling cooldown as a time.Duration
func (c *ScalingConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMs) * time.Millisecond
}

// IdleTimeout returns the scale-down idle requirement as a time.Duration
func (c *ScalingConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutMs) * time.Millisecond
}

// DrainTimeout returns the drain warning threshold as a time.Duration
func (c *ScalingConfig) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutMs) * time.Millisecond
}
