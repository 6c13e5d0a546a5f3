// Package manifest defines the authoritative per-team state record and its
// store. The manifest carries identities, policy, counters, and the scaling
// policy; every counter allocation happens inside a single atomic rewrite.
package manifest

import (
	"fmt"
	"strconv"
	"time"
)

// CurrentSchemaVersion is the manifest schema this build reads and writes.
const CurrentSchemaVersion = 2

// Display modes for the leader's terminal layout.
const (
	DisplayModeSplitPane = "split_pane"
	DisplayModeAuto      = "auto"
)

// Manifest is the authoritative per-team record.
type Manifest struct {
	SchemaVersion int    `json:"schema_version"`
	Team          string `json:"team"`
	Description   string `json:"description"`

	Leader      Leader      `json:"leader"`
	Policy      Policy      `json:"policy"`
	Permissions Permissions `json:"permissions"`

	// SessionHandle identifies the transport session hosting the team: the
	// multiplexer session name or the process-group tag.
	SessionHandle string `json:"session_handle"`

	// LeaderPane and HUDPane are slot addresses that must never be killed.
	LeaderPane string `json:"leader_pane,omitempty"`
	HUDPane    string `json:"hud_pane,omitempty"`

	WorkerCount        int      `json:"worker_count"`
	Workers            []Worker `json:"workers"`
	InitialWorkerCount int      `json:"initial_worker_count"`
	ActiveWorkerCount  int      `json:"active_worker_count"`
	DrainingWorkers    []string `json:"draining_workers,omitempty"`

	Scaling        ScalingPolicy  `json:"scaling"`
	ResourceLimits ResourceLimits `json:"resource_limits"`

	// NextTaskID and NextWorkerIndex are monotone; they are read,
	// incremented, and written in one atomic manifest rewrite.
	NextTaskID      int `json:"next_task_id"`
	NextWorkerIndex int `json:"next_worker_index"`

	CreatedAt time.Time `json:"created_at"`
}

// Leader identifies the session and worker acting as team leader.
type Leader struct {
	SessionID string `json:"session_id"`
	WorkerID  string `json:"worker_id"`
	Role      string `json:"role"`
}

// Policy captures the per-team behavior toggles.
type Policy struct {
	DelegationOnly                    bool   `json:"delegation_only"`
	PlanApprovalRequired              bool   `json:"plan_approval_required"`
	CleanupRequiresAllWorkersInactive bool   `json:"cleanup_requires_all_workers_inactive"`
	DisplayMode                       string `json:"display_mode"`
	NestedTeamsAllowed                bool   `json:"nested_teams_allowed"`
	OneTeamPerLeaderSession           bool   `json:"one_team_per_leader_session"`
}

// Permissions is the leader's permission snapshot inherited by workers.
type Permissions struct {
	ApprovalMode  string `json:"approval_mode"`
	SandboxMode   string `json:"sandbox_mode"`
	NetworkAccess bool   `json:"network_access"`
}

// Worker is a manifest entry for one worker.
type Worker struct {
	Name    string `json:"name"`
	Index   int    `json:"index"`
	Role    string `json:"role"`
	Address string `json:"address,omitempty"`
}

// ScalingPolicy is the per-team scaling knobs, frozen at team start from the
// resolved configuration.
type ScalingPolicy struct {
	Auto           bool    `json:"auto"`
	MinWorkers     int     `json:"min_workers"`
	MaxWorkers     int     `json:"max_workers"`
	UpThreshold    float64 `json:"up_threshold"`
	DownThreshold  float64 `json:"down_threshold"`
	IdleTimeoutMs  int     `json:"idle_timeout_ms"`
	CooldownMs     int     `json:"cooldown_ms"`
	PerWorkerMemMB int     `json:"per_worker_mem_mb"`
}

// ResourceLimits bounds scale-up by host load.
type ResourceLimits struct {
	MaxCPUPercent float64 `json:"max_cpu_percent"`
	MinFreeMemMB  int     `json:"min_free_mem_mb"`
}

// New returns a manifest with counters initialized and the schema stamped.
// The default policy keeps the graceful-shutdown gate on: teardown waits for
// every worker to go inactive unless the leader opts out.
func New(team, description string) *Manifest {
	return &Manifest{
		SchemaVersion: CurrentSchemaVersion,
		Team:          team,
		Description:   description,
		Policy: Policy{
			CleanupRequiresAllWorkersInactive: true,
			DisplayMode:                       DisplayModeAuto,
		},
		NextTaskID:      1,
		NextWorkerIndex: 1,
		CreatedAt:       time.Now().UTC(),
	}
}

// Validate checks structural invariants.
func (m *Manifest) Validate() error {
	if m.SchemaVersion != CurrentSchemaVersion {
		return fmt.Errorf("unsupported manifest schema %d (want %d)", m.SchemaVersion, CurrentSchemaVersion)
	}
	if m.Team == "" {
		return fmt.Errorf("manifest has no team name")
	}
	if m.NextTaskID < 1 || m.NextWorkerIndex < 1 {
		return fmt.Errorf("manifest counters must start at 1")
	}
	seen := make(map[string]bool, len(m.Workers))
	for _, w := range m.Workers {
		if seen[w.Name] {
			return fmt.Errorf("duplicate worker name %q", w.Name)
		}
		seen[w.Name] = true
	}
	return nil
}

// AllocTaskID consumes the next task id. Callers must persist the manifest in
// the same write window.
func (m *Manifest) AllocTaskID() string {
	id := m.NextTaskID
	m.NextTaskID++
	return strconv.Itoa(id)
}

// AllocWorkerIndex consumes the next worker index. Indexes are never reused.
func (m *Manifest) AllocWorkerIndex() int {
	idx := m.NextWorkerIndex
	m.NextWorkerIndex++
	return idx
}

// WorkerName builds the canonical worker name for an index.
func WorkerName(index int) string {
	return fmt.Sprintf("worker-%d", index)
}

// Worker returns the manifest entry for a worker name.
func (m *Manifest) Worker(name string) (Worker, bool) {
	for _, w := range m.Workers {
		if w.Name == name {
			return w, true
		}
	}
	return Worker{}, false
}

// HasWorker reports whether a worker is listed in the manifest.
func (m *Manifest) HasWorker(name string) bool {
	_, ok := m.Worker(name)
	return ok
}

// WorkerNames returns the manifest worker names in listed order.
func (m *Manifest) WorkerNames() []string {
	names := make([]string, 0, len(m.Workers))
	for _, w := range m.Workers {
		names = append(names, w.Name)
	}
	return names
}

// AddWorker appends a worker entry and bumps the active counters.
func (m *Manifest) AddWorker(w Worker) {
	m.Workers = append(m.Workers, w)
	m.WorkerCount = len(m.Workers)
	m.ActiveWorkerCount++
}

// RemoveWorker drops a worker entry and its draining mark. Counters shrink;
// the index is never reissued.
func (m *Manifest) RemoveWorker(name string) bool {
	for i, w := range m.Workers {
		if w.Name == name {
			m.Workers = append(m.Workers[:i], m.Workers[i+1:]...)
			m.WorkerCount = len(m.Workers)
			if m.ActiveWorkerCount > 0 {
				m.ActiveWorkerCount--
			}
			m.ClearDraining(name)
			return true
		}
	}
	return false
}

// SetAddress records the transport slot address for a worker.
func (m *Manifest) SetAddress(name, address string) bool {
	for i := range m.Workers {
		if m.Workers[i].Name == name {
			m.Workers[i].Address = address
			return true
		}
	}
	return false
}

// IsDraining reports whether a worker is marked draining.
func (m *Manifest) IsDraining(name string) bool {
	for _, d := range m.DrainingWorkers {
		if d == name {
			return true
		}
	}
	return false
}

// MarkDraining adds a worker to the draining set. Idempotent.
func (m *Manifest) MarkDraining(name string) {
	if m.IsDraining(name) {
		return
	}
	m.DrainingWorkers = append(m.DrainingWorkers, name)
}

// ClearDraining removes a worker from the draining set.
func (m *Manifest) ClearDraining(name string) {
	for i, d := range m.DrainingWorkers {
		if d == name {
			m.DrainingWorkers = append(m.DrainingWorkers[:i], m.DrainingWorkers[i+1:]...)
			return
		}
	}
}

// KnownAddresses returns every slot address recorded on the manifest workers.
// The leader and HUD addresses are deliberately not included; kill paths must
// never target them.
func (m *Manifest) KnownAddresses() []string {
	var addrs []string
	for _, w := range m.Workers {
		if w.Address != "" {
			addrs = append(addrs, w.Address)
		}
	}
	return addrs
}

// ProtectedAddresses returns the addresses a kill path must always exclude.
func (m *Manifest) ProtectedAddresses() []string {
	var addrs []string
	if m.LeaderPane != "" {
		addrs = append(addrs, m.LeaderPane)
	}
	if m.HUDPane != "" {
		addrs = append(addrs, m.HUDPane)
	}
	return addrs
}
