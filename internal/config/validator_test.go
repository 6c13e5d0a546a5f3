package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// validConfig returns a config that passes validation, for tests to mutate.
func validConfig() *Config {
	return Default()
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	errs := cfg.Validate()
	if len(errs) != 0 {
		t.Errorf("expected no validation errors, got %d: %v", len(errs), ValidationErrors(errs))
	}
}

func TestValidate_Transport(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		field   string
		wantErr bool
	}{
		{
			name:    "force multiplexer is valid",
			mutate:  func(c *Config) { c.Transport.Force = "1" },
			wantErr: false,
		},
		{
			name:    "force processes is valid",
			mutate:  func(c *Config) { c.Transport.Force = "0" },
			wantErr: false,
		},
		{
			name:    "force with arbitrary value",
			mutate:  func(c *Config) { c.Transport.Force = "yes" },
			field:   "transport.force",
			wantErr: true,
		},
		{
			name:    "empty socket name",
			mutate:  func(c *Config) { c.Transport.SocketName = "" },
			field:   "transport.socket_name",
			wantErr: true,
		},
		{
			name:    "socket name starting with digit",
			mutate:  func(c *Config) { c.Transport.SocketName = "1omx" },
			field:   "transport.socket_name",
			wantErr: true,
		},
		{
			name:    "socket name with slash",
			mutate:  func(c *Config) { c.Transport.SocketName = "omx/team" },
			field:   "transport.socket_name",
			wantErr: true,
		},
		{
			name:    "slot width too small",
			mutate:  func(c *Config) { c.Transport.SlotWidth = 40 },
			field:   "transport.slot_width",
			wantErr: true,
		},
		{
			name:    "slot height too large",
			mutate:  func(c *Config) { c.Transport.SlotHeight = 500 },
			field:   "transport.slot_height",
			wantErr: true,
		},
		{
			name:    "capture bytes below 1KB",
			mutate:  func(c *Config) { c.Transport.CaptureBytes = 100 },
			field:   "transport.capture_bytes",
			wantErr: true,
		},
		{
			name:    "negative history limit",
			mutate:  func(c *Config) { c.Transport.HistoryLimit = -1 },
			field:   "transport.history_limit",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			errs := cfg.Validate()
			checkValidation(t, errs, tt.field, tt.wantErr)
		})
	}
}

func TestValidate_Worker(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		field   string
		wantErr bool
	}{
		{
			name:    "zero ready timeout",
			mutate:  func(c *Config) { c.Worker.ReadyTimeoutMs = 0 },
			field:   "worker.ready_timeout_ms",
			wantErr: true,
		},
		{
			name:    "ready timeout above ceiling",
			mutate:  func(c *Config) { c.Worker.ReadyTimeoutMs = 900_000 },
			field:   "worker.ready_timeout_ms",
			wantErr: true,
		},
		{
			name:    "capture interval too fast",
			mutate:  func(c *Config) { c.Worker.CaptureIntervalMs = 1 },
			field:   "worker.capture_interval_ms",
			wantErr: true,
		},
		{
			name:    "capture interval too slow",
			mutate:  func(c *Config) { c.Worker.CaptureIntervalMs = 10_000 },
			field:   "worker.capture_interval_ms",
			wantErr: true,
		},
		{
			name:    "missing rc file",
			mutate:  func(c *Config) { c.Worker.ShellRC = "/nonexistent/rc" },
			field:   "worker.shell_rc",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			errs := cfg.Validate()
			checkValidation(t, errs, tt.field, tt.wantErr)
		})
	}
}

func TestValidate_WorkerShellRCExists(t *testing.T) {
	dir := t.TempDir()
	rc := filepath.Join(dir, "rc.sh")
	if err := os.WriteFile(rc, []byte("export PATH=$PATH"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := validConfig()
	cfg.Worker.ShellRC = rc
	errs := cfg.Validate()
	if len(errs) != 0 {
		t.Errorf("existing rc file should validate, got: %v", ValidationErrors(errs))
	}
}

func TestValidate_Scaling(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		field   string
		wantErr bool
	}{
		{
			name:    "cpu percent zero",
			mutate:  func(c *Config) { c.Scaling.MaxCPUPercent = 0 },
			field:   "scaling.max_cpu_percent",
			wantErr: true,
		},
		{
			name:    "cpu percent above 100",
			mutate:  func(c *Config) { c.Scaling.MaxCPUPercent = 150 },
			field:   "scaling.max_cpu_percent",
			wantErr: true,
		},
		{
			name:    "up threshold zero",
			mutate:  func(c *Config) { c.Scaling.UpThreshold = 0 },
			field:   "scaling.up_threshold",
			wantErr: true,
		},
		{
			name:    "down threshold at one",
			mutate:  func(c *Config) { c.Scaling.DownThreshold = 1.0 },
			field:   "scaling.down_threshold",
			wantErr: true,
		},
		{
			name:    "down threshold negative",
			mutate:  func(c *Config) { c.Scaling.DownThreshold = -0.1 },
			field:   "scaling.down_threshold",
			wantErr: true,
		},
		{
			name:    "min workers zero",
			mutate:  func(c *Config) { c.Scaling.MinWorkers = 0 },
			field:   "scaling.min_workers",
			wantErr: true,
		},
		{
			name: "max workers below min",
			mutate: func(c *Config) {
				c.Scaling.MinWorkers = 5
				c.Scaling.MaxWorkers = 3
			},
			field:   "scaling.max_workers",
			wantErr: true,
		},
		{
			name:    "max workers above hard ceiling",
			mutate:  func(c *Config) { c.Scaling.MaxWorkers = AbsoluteMaxWorkers + 1 },
			field:   "scaling.max_workers",
			wantErr: true,
		},
		{
			name:    "per worker memory zero",
			mutate:  func(c *Config) { c.Scaling.PerWorkerMemMB = 0 },
			field:   "scaling.per_worker_mem_mb",
			wantErr: true,
		},
		{
			name:    "drain timeout zero",
			mutate:  func(c *Config) { c.Scaling.DrainTimeoutMs = 0 },
			field:   "scaling.drain_timeout_ms",
			wantErr: true,
		},
		{
			name:    "negative cooldown",
			mutate:  func(c *Config) { c.Scaling.CooldownMs = -1 },
			field:   "scaling.cooldown_ms",
			wantErr: true,
		},
		{
			name:    "zero cooldown is valid",
			mutate:  func(c *Config) { c.Scaling.CooldownMs = 0 },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			errs := cfg.Validate()
			checkValidation(t, errs, tt.field, tt.wantErr)
		})
	}
}

func TestValidate_Monitor(t *testing.T) {
	cfg := validConfig()
	cfg.Monitor.PollIntervalMs = 10
	errs := cfg.Validate()
	checkValidation(t, errs, "monitor.poll_interval_ms", true)

	cfg = validConfig()
	cfg.Monitor.LeaderNudgeMs = 0
	errs = cfg.Validate()
	checkValidation(t, errs, "monitor.leader_nudge_ms", true)
}

func TestValidate_Shutdown(t *testing.T) {
	cfg := validConfig()
	cfg.Shutdown.GraceMs = 0
	errs := cfg.Validate()
	checkValidation(t, errs, "shutdown.grace_ms", true)

	cfg = validConfig()
	cfg.Shutdown.GraceMs = 600_000
	errs = cfg.Validate()
	checkValidation(t, errs, "shutdown.grace_ms", true)
}

func TestValidate_Logging(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		field   string
		wantErr bool
	}{
		{
			name:    "unknown level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			field:   "logging.level",
			wantErr: true,
		},
		{
			name:    "empty level is valid",
			mutate:  func(c *Config) { c.Logging.Level = "" },
			wantErr: false,
		},
		{
			name:    "zero max size",
			mutate:  func(c *Config) { c.Logging.MaxSizeMB = 0 },
			field:   "logging.max_size_mb",
			wantErr: true,
		},
		{
			name:    "max size above 1GB",
			mutate:  func(c *Config) { c.Logging.MaxSizeMB = 2000 },
			field:   "logging.max_size_mb",
			wantErr: true,
		},
		{
			name:    "negative backups",
			mutate:  func(c *Config) { c.Logging.MaxBackups = -1 },
			field:   "logging.max_backups",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			errs := cfg.Validate()
			checkValidation(t, errs, tt.field, tt.wantErr)
		})
	}
}

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "scaling.min_workers",
		Value:   0,
		Message: "must be at least 1",
	}
	want := "scaling.min_workers: must be at least 1 (got: 0)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	var empty ValidationErrors
	if empty.Error() != "" {
		t.Errorf("empty ValidationErrors.Error() = %q, want empty", empty.Error())
	}

	single := ValidationErrors{
		{Field: "a", Value: 1, Message: "bad"},
	}
	if single.Error() != "a: bad (got: 1)" {
		t.Errorf("single error = %q", single.Error())
	}

	multi := ValidationErrors{
		{Field: "a", Value: 1, Message: "bad"},
		{Field: "b", Value: 2, Message: "worse"},
	}
	msg := multi.Error()
	if !strings.HasPrefix(msg, "2 validation errors:") {
		t.Errorf("multi error missing count header: %q", msg)
	}
	if !strings.Contains(msg, "1. a: bad (got: 1)") || !strings.Contains(msg, "2. b: worse (got: 2)") {
		t.Errorf("multi error missing numbered entries: %q", msg)
	}
}

// checkValidation asserts presence or absence of a validation error for field.
func checkValidation(t *testing.T, errs []ValidationError, field string, wantErr bool) {
	t.Helper()

	found := false
	for _, e := range errs {
		if e.Field == field {
			found = true
			break
		}
	}

	if wantErr && !found {
		t.Errorf("expected validation error for %q, got errors: %v", field, ValidationErrors(errs))
	}
	if !wantErr && len(errs) > 0 {
		t.Errorf("expected no validation errors, got: %v", ValidationErrors(errs))
	}
}
