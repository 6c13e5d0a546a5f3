package team

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"omx/internal/config"
	"omx/internal/errors"
	"omx/internal/events"
	"omx/internal/heartbeat"
	"omx/internal/logging"
	"omx/internal/mailbox"
	"omx/internal/manifest"
	"omx/internal/scaling"
	"omx/internal/signals"
	"omx/internal/store"
	"omx/internal/taskstore"
	"omx/internal/transport"
	"omx/internal/worker"
)

// Deps wires a Manager. Layout and Transport are required; the rest default
// to the real implementations.
type Deps struct {
	Layout    store.Layout
	Transport transport.Transport

	// Spawners is nil for the real CLI spawners.
	Spawners worker.SpawnerFactory

	// Sample is nil for the real host resource sampler.
	Sample scaling.Sampler

	Config config.Config

	// WorkDir is the working directory worker slots start in. Empty means
	// the current directory.
	WorkDir string

	// OnTick, when set, observes every snapshot Run writes.
	OnTick func(*Snapshot)

	Log *logging.Logger
}

// Manager owns the lifecycle of one team: start, monitor ticks, scaling, and
// shutdown. All cross-process state lives in the team's state root; the
// Manager itself holds only caches and the runtime lock, so several Managers
// in different processes may observe the same team (the lock serializes the
// coordinating ones).
type Manager struct {
	layout    store.Layout
	manifests *manifest.Store
	tasks     *taskstore.Store
	mail      *mailbox.Store
	hearts    *heartbeat.Store
	sigs      *signals.Store
	elog      *events.Log
	tr        transport.Transport
	spawners  worker.SpawnerFactory
	boot      *worker.Bootstrapper
	engine    *scaling.Engine
	tracker   *scaling.Tracker
	observer  *heartbeat.Observer
	cfg       config.Config
	workDir   string
	onTick    func(*Snapshot)
	log       *logging.Logger

	mu        sync.Mutex
	lock      *store.Lock
	tick      int
	lastNudge time.Time
	nudgeInit bool
	watchers  map[string]*heartbeat.Watcher
}

// NewManager builds a Manager and its store stack over one team layout.
func NewManager(d Deps) (*Manager, error) {
	if d.Layout.Root() == "" {
		return nil, errors.New("team: Layout is required")
	}
	if d.Transport == nil {
		return nil, errors.New("team: Transport is required")
	}
	if d.Spawners == nil {
		d.Spawners = worker.DefaultSpawnerFactory
	}
	if d.WorkDir == "" {
		d.WorkDir = "."
	}
	if d.Log == nil {
		d.Log = logging.NopLogger()
	}
	log := d.Log.WithComponent("team").WithTeam(d.Layout.Team())

	ms := manifest.NewStore(d.Layout)
	elog := events.NewLog(d.Layout)
	tasks := taskstore.NewStore(d.Layout, ms, elog, d.Config.Tasks.ClaimLease())
	boot := worker.NewBootstrapper(worker.Deps{
		Layout:    d.Layout,
		Manifests: ms,
		Events:    elog,
		Transport: d.Transport,
		Spawners:  d.Spawners,
		Config:    d.Config,
		Log:       d.Log,
	})
	sigs := signals.NewStore(d.Layout)
	engine := scaling.NewEngine(scaling.Deps{
		Layout:       d.Layout,
		Manifests:    ms,
		Tasks:        tasks,
		Signals:      sigs,
		Events:       elog,
		Transport:    d.Transport,
		Bootstrapper: boot,
		WorkDir:      d.WorkDir,
		Sample:       d.Sample,
		Config:       d.Config,
		Log:          d.Log,
	})

	return &Manager{
		layout:    d.Layout,
		manifests: ms,
		tasks:     tasks,
		mail:      mailbox.NewStore(d.Layout, elog),
		hearts:    heartbeat.NewStore(d.Layout),
		sigs:      sigs,
		elog:      elog,
		tr:        d.Transport,
		spawners:  d.Spawners,
		boot:      boot,
		engine:    engine,
		tracker:   &scaling.Tracker{},
		observer:  heartbeat.NewObserver(d.Config.Worker.InactivityCeiling()),
		cfg:       d.Config,
		workDir:   d.WorkDir,
		onTick:    d.OnTick,
		log:       log,
		watchers:  make(map[string]*heartbeat.Watcher),
	}, nil
}

// Layout returns the team's state layout.
func (mgr *Manager) Layout() store.Layout { return mgr.layout }

// Tasks returns the team's task store.
func (mgr *Manager) Tasks() *taskstore.Store { return mgr.tasks }

// Mailboxes returns the team's mailbox store.
func (mgr *Manager) Mailboxes() *mailbox.Store { return mgr.mail }

// Events returns the team's event log.
func (mgr *Manager) Events() *events.Log { return mgr.elog }

// Manifests returns the team's manifest store.
func (mgr *Manager) Manifests() *manifest.Store { return mgr.manifests }

// Engine returns the team's scaling engine.
func (mgr *Manager) Engine() *scaling.Engine { return mgr.engine }

// Attach claims the team runtime lock for this process, enforcing one live
// coordinator per team. A lock left behind by a dead coordinator is recovered
// with a warning. Idempotent while held.
func (mgr *Manager) Attach() error {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if mgr.lock != nil {
		return nil
	}

	path := mgr.layout.TeamLockPath()
	if info, err := store.ReadLock(path); err == nil && !store.ProcessAlive(info.PID) {
		mgr.log.Warn("recovering team lock from dead coordinator", "pid", info.PID)
	}
	lock, err := store.AcquireExclusive(path)
	if err != nil {
		return errors.Wrapf(err, "team %q already has a coordinator", mgr.layout.Team())
	}
	mgr.lock = lock
	return nil
}

// Close releases the runtime lock and stops the watcher pool. Safe to call
// without a prior Attach.
func (mgr *Manager) Close() error {
	mgr.stopWatchers()

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	if mgr.lock == nil {
		return nil
	}
	err := mgr.lock.Release()
	mgr.lock = nil
	return err
}

// StartSpec describes the team to materialize.
type StartSpec struct {
	Team        string
	Description string

	// Roles holds one agent-type slug per requested worker.
	Roles []string

	// Tasks is the initial task set, distributed round-robin across the
	// workers' inboxes.
	Tasks []taskstore.CreateInput

	Leader      manifest.Leader
	Policy      *manifest.Policy
	Permissions manifest.Permissions

	// LeaderPane and HUDPane are slot addresses that must never be killed.
	// Set when the coordinator itself runs inside the transport session.
	LeaderPane string
	HUDPane    string

	// Command overrides the worker CLI binary.
	Command string

	// LeaderArgs are argument tokens workers inherit from the leader
	// invocation.
	LeaderArgs []string
}

func (s StartSpec) validate() error {
	if !store.ValidName(s.Team) {
		return errors.Ef(errors.KindMalformed, "team.start", "invalid team name %q", s.Team)
	}
	if len(s.Roles) == 0 {
		return errors.Ef(errors.KindMalformed, "team.start", "at least one worker is required")
	}
	if len(s.Roles) > config.AbsoluteMaxWorkers {
		return errors.Ef(errors.KindMalformed, "team.start", "%d workers exceeds the ceiling of %d",
			len(s.Roles), config.AbsoluteMaxWorkers)
	}
	if len(s.Tasks) == 0 {
		return errors.Ef(errors.KindMalformed, "team.start", "at least one task is required")
	}
	for _, in := range s.Tasks {
		if in.Subject == "" {
			return errors.Ef(errors.KindMalformed, "team.start", "every task needs a subject")
		}
	}
	return nil
}

// StartResult reports a materialized team.
type StartResult struct {
	Manifest *manifest.Manifest
	Workers  []worker.Result
	TaskIDs  []string
}

// Start materializes the team: manifest, transport session, initial tasks,
// and one sequential bootstrap per requested worker. Worker readiness
// timeouts are tolerated (the worker is recorded failed and the team goes on
// without it); any pipeline failure after the session exists tears the whole
// team down again, session included.
func (mgr *Manager) Start(ctx context.Context, spec StartSpec) (*StartResult, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}
	// Resolve every spawner before touching disk so a typo'd agent type
	// fails without leaving state behind.
	for _, role := range spec.Roles {
		if _, err := mgr.spawners(role); err != nil {
			return nil, errors.E(errors.KindMalformed, "team.start", err).WithTeam(spec.Team)
		}
	}
	if mgr.manifests.Exists() {
		return nil, errors.Wrapf(errors.ErrAlreadyExists, "team %q", spec.Team)
	}

	if err := mgr.layout.Init(); err != nil {
		return nil, errors.E(errors.KindIOError, "team.start", err).WithTeam(spec.Team)
	}
	if err := mgr.Attach(); err != nil {
		return nil, err
	}

	m := manifest.New(spec.Team, spec.Description)
	m.Leader = spec.Leader
	if spec.Policy != nil {
		m.Policy = *spec.Policy
	}
	if m.Policy.DisplayMode == "" {
		m.Policy.DisplayMode = manifest.DisplayModeAuto
	}
	m.Permissions = spec.Permissions
	m.InitialWorkerCount = len(spec.Roles)
	m.Scaling = mgr.frozenScalingPolicy(len(spec.Roles))
	m.ResourceLimits = manifest.ResourceLimits{
		MaxCPUPercent: mgr.cfg.Scaling.MaxCPUPercent,
		MinFreeMemMB:  mgr.cfg.Scaling.MinFreeMemMB,
	}
	if err := mgr.manifests.Save(m); err != nil {
		// Manifest write failure at start is fatal for the team.
		mgr.abortStart(ctx, "")
		return nil, err
	}

	session, err := mgr.tr.CreateSession(ctx, "omx-"+spec.Team)
	if err != nil {
		mgr.abortStart(ctx, "")
		return nil, errors.E(errors.KindIOError, "team.start", err).WithTeam(spec.Team)
	}
	mgr.log.Info("session created", "session", session, "transport", mgr.tr.Kind())

	// From here every failure tears the session down again.
	_, err = mgr.manifests.Mutate(func(m *manifest.Manifest) error {
		m.SessionHandle = session
		m.LeaderPane = spec.LeaderPane
		m.HUDPane = spec.HUDPane
		return nil
	})
	if err != nil {
		mgr.abortStart(ctx, session)
		return nil, err
	}
	if spec.LeaderPane != "" || spec.HUDPane != "" {
		if err := transport.RecordProtected(mgr.layout, session, spec.LeaderPane, spec.HUDPane); err != nil {
			mgr.abortStart(ctx, session)
			return nil, err
		}
	}

	created := make([]*taskstore.Task, 0, len(spec.Tasks))
	ids := make([]string, 0, len(spec.Tasks))
	for _, in := range spec.Tasks {
		t, err := mgr.tasks.Create(in)
		if err != nil {
			mgr.abortStart(ctx, session)
			return nil, err
		}
		created = append(created, t)
		ids = append(ids, t.ID)
	}

	// Tasks are dealt round-robin so every initial inbox names real ids.
	assigned := make([][]*taskstore.Task, len(spec.Roles))
	for i, t := range created {
		slot := i % len(spec.Roles)
		assigned[slot] = append(assigned[slot], t)
	}

	results := make([]worker.Result, 0, len(spec.Roles))
	for i, role := range spec.Roles {
		res, err := mgr.boot.Bootstrap(ctx, worker.Spec{
			Role:       role,
			Session:    session,
			WorkDir:    mgr.workDir,
			Command:    spec.Command,
			LeaderArgs: spec.LeaderArgs,
			InboxTasks: assigned[i],
		})
		if err != nil {
			mgr.abortStart(ctx, session)
			return nil, err
		}
		results = append(results, *res)
	}

	final, err := mgr.manifests.Load()
	if err != nil {
		mgr.abortStart(ctx, session)
		return nil, err
	}

	snap := &Snapshot{
		Team:      spec.Team,
		Phase:     PhaseStart,
		Workers:   make(map[string]WorkerView, len(final.Workers)),
		UpdatedAt: time.Now().UTC(),
	}
	for _, w := range final.Workers {
		st, _ := mgr.hearts.ReadStatus(w.Name)
		snap.Workers[w.Name] = WorkerView{
			State:   st.State,
			Role:    w.Role,
			Address: w.Address,
			Alive:   true,
		}
	}
	snap.Tasks.Pending = len(created)
	if err := WriteSnapshot(mgr.layout, snap); err != nil {
		mgr.log.Warn("initial snapshot write failed", "error", err)
	}

	mgr.log.Info("team started",
		"workers", len(final.Workers), "tasks", len(created), "session", session)
	return &StartResult{Manifest: final, Workers: results, TaskIDs: ids}, nil
}

// frozenScalingPolicy snapshots the resolved scaling config onto the
// manifest. The ceiling absorbs an initial worker count above the configured
// max so the policy stays coherent with what the operator asked for.
func (mgr *Manager) frozenScalingPolicy(initial int) manifest.ScalingPolicy {
	sc := mgr.cfg.Scaling
	maxWorkers := sc.MaxWorkers
	if maxWorkers > config.AbsoluteMaxWorkers || maxWorkers <= 0 {
		maxWorkers = config.AbsoluteMaxWorkers
	}
	if initial > maxWorkers {
		maxWorkers = initial
	}
	return manifest.ScalingPolicy{
		Auto:           sc.Auto,
		MinWorkers:     sc.MinWorkers,
		MaxWorkers:     maxWorkers,
		UpThreshold:    sc.UpThreshold,
		DownThreshold:  sc.DownThreshold,
		IdleTimeoutMs:  sc.IdleTimeoutMs,
		CooldownMs:     sc.CooldownMs,
		PerWorkerMemMB: sc.PerWorkerMemMB,
	}
}

// abortStart tears down a partially started team: the session when one was
// created, then the whole state root. Best effort; the errors worth keeping
// are the ones that got us here.
func (mgr *Manager) abortStart(ctx context.Context, session string) {
	if session != "" {
		if err := mgr.tr.DestroySession(ctx, session); err != nil {
			mgr.log.Error("failed to destroy session during start abort",
				"session", session, "error", err)
		}
	}
	if err := os.RemoveAll(mgr.layout.Root()); err != nil {
		mgr.log.Error("failed to remove state root during start abort", "error", err)
	}
	mgr.mu.Lock()
	if mgr.lock != nil {
		_ = mgr.lock.Release() // file went with the root
		mgr.lock = nil
	}
	mgr.mu.Unlock()
}

// AdvancePhase moves the team to a later phase on the chain. The leader uses
// it to enter verification; complete is reserved for the monitor's own
// derivation.
func (mgr *Manager) AdvancePhase(target Phase) (*Snapshot, error) {
	const op = "team.phase"
	if !target.Valid() {
		return nil, errors.Ef(errors.KindMalformed, op, "unknown phase %q", target)
	}
	if target == PhaseComplete {
		return nil, errors.Ef(errors.KindMalformed, op, "complete is derived, not set")
	}
	if !mgr.manifests.Exists() {
		return nil, errors.E(errors.KindNotFound, op, errors.ErrNotFound).WithTeam(mgr.layout.Team())
	}

	snap, err := ReadSnapshot(mgr.layout)
	if err != nil {
		return nil, errors.E(errors.KindIOError, op, err).WithTeam(mgr.layout.Team())
	}
	if snap == nil {
		snap = &Snapshot{Team: mgr.layout.Team(), Phase: PhaseStart}
	}
	current := snap.Phase
	if target.ordinal() <= current.ordinal() {
		return nil, errors.Ef(errors.KindMalformed, op,
			"phase only moves forward: %s does not follow %s", target, current)
	}

	now := time.Now().UTC()
	snap.Phase = target
	snap.Transitions = append(snap.Transitions, PhaseTransition{From: current, To: target, At: now})
	snap.UpdatedAt = now
	if err := WriteSnapshot(mgr.layout, snap); err != nil {
		return nil, errors.E(errors.KindIOError, op, err).WithTeam(mgr.layout.Team())
	}
	mgr.log.Info("phase advanced", "from", current, "to", target)
	return snap, nil
}

// Status is the read-only team summary behind the status command.
type Status struct {
	Team            string                  `json:"team"`
	Phase           Phase                   `json:"phase"`
	Tasks           taskstore.Counts        `json:"tasks"`
	Workers         []WorkerStatus          `json:"workers"`
	DeadWorkers     []string                `json:"dead_workers,omitempty"`
	DrainingWorkers []string                `json:"draining_workers,omitempty"`
	Recommendations []TrackedRecommendation `json:"recommendations,omitempty"`
	Scaling         manifest.ScalingPolicy  `json:"scaling"`
	SessionHandle   string                  `json:"session_handle,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
}

// WorkerStatus is one worker's line in the status output.
type WorkerStatus struct {
	Name          string          `json:"name"`
	State         heartbeat.State `json:"state"`
	CurrentTaskID string          `json:"current_task_id,omitempty"`
	Role          string          `json:"role,omitempty"`
	Address       string          `json:"address,omitempty"`
	Draining      bool            `json:"draining,omitempty"`
}

// Status assembles the current team summary from fresh reads plus the last
// monitor snapshot (phase, recommendations, dead workers).
func (mgr *Manager) Status() (*Status, error) {
	m, err := mgr.manifests.Load()
	if err != nil {
		return nil, err
	}
	counts, err := mgr.tasks.Counts()
	if err != nil {
		return nil, err
	}

	st := &Status{
		Team:          m.Team,
		Phase:         PhaseStart,
		Tasks:         counts,
		Scaling:       m.Scaling,
		SessionHandle: m.SessionHandle,
		CreatedAt:     m.CreatedAt,
	}
	if snap, err := ReadSnapshot(mgr.layout); err == nil && snap != nil {
		st.Phase = snap.Phase
		st.Recommendations = snap.Recommendations
		st.DeadWorkers = snap.DeadWorkers
	}
	// The snapshot phase can lag the stores between ticks; fold the live
	// counts in so status never reports a finished team as running.
	st.Phase = DerivePhase(st.Phase, counts)

	workers := make([]manifest.Worker, len(m.Workers))
	copy(workers, m.Workers)
	sort.Slice(workers, func(i, j int) bool { return workers[i].Index < workers[j].Index })
	for _, w := range workers {
		hs, err := mgr.hearts.ReadStatus(w.Name)
		if err != nil {
			return nil, err
		}
		st.Workers = append(st.Workers, WorkerStatus{
			Name:          w.Name,
			State:         hs.State,
			CurrentTaskID: hs.CurrentTaskID,
			Role:          w.Role,
			Address:       w.Address,
			Draining:      m.IsDraining(w.Name),
		})
	}
	st.DrainingWorkers = append(st.DrainingWorkers, m.DrainingWorkers...)
	return st, nil
}

// Summary renders the one-line human outcome for the status command.
func (st *Status) Summary() string {
	return fmt.Sprintf("team %s phase=%s workers=%d %s",
		st.Team, st.Phase, len(st.Workers), st.Tasks.String())
}
