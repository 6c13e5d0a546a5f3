package scaling

import (
	"context"
	"fmt"
	"sort"
	"time"

	"omx/internal/config"
	"omx/internal/errors"
	"omx/internal/events"
	"omx/internal/heartbeat"
	"omx/internal/logging"
	"omx/internal/manifest"
	"omx/internal/signals"
	"omx/internal/store"
	"omx/internal/taskstore"
	"omx/internal/transport"
	"omx/internal/worker"
)

// LockTTL is how old scaling.lock may grow before it is treated as abandoned
// and stolen.
const LockTTL = 5 * time.Minute

// drainReason tags the status writes and stop events produced by scale-down.
const drainReason = "scale_down"

// Deps wires an Engine. Sample may be nil for the real host sampler; Log may
// be nil for a no-op logger.
type Deps struct {
	Layout       store.Layout
	Manifests    *manifest.Store
	Tasks        *taskstore.Store
	Signals      *signals.Store
	Events       *events.Log
	Transport    transport.Transport
	Bootstrapper *worker.Bootstrapper

	// WorkDir is the working directory new worker slots start in.
	WorkDir string

	Sample Sampler
	Config config.Config
	Log    *logging.Logger
}

// Engine applies scaling actions to a live team: adding workers, marking
// scale-down candidates draining, walking drains to completion, and keeping
// the history file. Concurrent engines (different processes included) are
// serialized by scaling.lock.
type Engine struct {
	layout    store.Layout
	manifests *manifest.Store
	tasks     *taskstore.Store
	hearts    *heartbeat.Store
	sigs      *signals.Store
	events    *events.Log
	tr        transport.Transport
	boot      *worker.Bootstrapper
	history   *History
	workDir   string
	sample    Sampler
	cfg       config.Config
	log       *logging.Logger

	// warned tracks drains already past the timeout so the warning fires
	// once per drain, not once per tick.
	warned map[string]bool
}

// NewEngine returns an engine over the given dependencies.
func NewEngine(d Deps) *Engine {
	if d.Sample == nil {
		d.Sample = SampleHost
	}
	if d.Log == nil {
		d.Log = logging.NopLogger()
	}
	return &Engine{
		layout:    d.Layout,
		manifests: d.Manifests,
		tasks:     d.Tasks,
		hearts:    heartbeat.NewStore(d.Layout),
		sigs:      d.Signals,
		events:    d.Events,
		tr:        d.Transport,
		boot:      d.Bootstrapper,
		history:   NewHistory(d.Layout),
		workDir:   d.WorkDir,
		sample:    d.Sample,
		cfg:       d.Config,
		log:       d.Log.WithComponent("scaling"),
		warned:    make(map[string]bool),
	}
}

// History exposes the team's scaling record for status commands.
func (e *Engine) History() *History { return e.history }

// ScaleUp adds count workers to a running team. Preconditions checked under
// the scaling lock: the team has a live session, the ceiling and cooldown
// allow it, and the host has headroom. Returns the names of workers actually
// added; on a mid-batch bootstrap failure the successful additions are kept
// and recorded alongside the error.
func (e *Engine) ScaleUp(ctx context.Context, count int, role string, trigger Trigger) ([]string, error) {
	const op = "scaling.scale_up"
	if count < 1 {
		return nil, errors.Ef(errors.KindMalformed, op, "count must be positive, got %d", count)
	}

	lock, err := e.acquireLock(op)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	m, err := e.manifests.Load()
	if err != nil {
		return nil, err
	}
	if m.SessionHandle == "" {
		return nil, errors.Ef(errors.KindNotFound, op, "team has no live session").WithTeam(m.Team)
	}

	ceiling := m.Scaling.MaxWorkers
	if ceiling <= 0 || ceiling > config.AbsoluteMaxWorkers {
		ceiling = config.AbsoluteMaxWorkers
	}
	if m.ActiveWorkerCount+count > ceiling {
		return nil, errors.Ef(errors.KindResourceDenied, op,
			"adding %d to %d active workers would exceed the ceiling of %d",
			count, m.ActiveWorkerCount, ceiling).WithTeam(m.Team)
	}

	if err := e.checkCooldown(op, m); err != nil {
		return nil, err
	}

	res := e.sample()
	if !res.Sampled {
		e.log.Debug("host resources unreadable, using permissive sample")
	}
	if err := checkResources(op, m, res, count); err != nil {
		return nil, err
	}

	if role == "" {
		role = defaultRole(m)
	}

	reason := fmt.Sprintf("%s scale-up of %d %s worker(s)", trigger, count, role)
	added := make([]string, 0, count)
	var bootErr error
	for i := 0; i < count; i++ {
		r, err := e.boot.Bootstrap(ctx, worker.Spec{
			Role:    role,
			Session: m.SessionHandle,
			WorkDir: e.workDir,
		})
		if err != nil {
			bootErr = err
			break
		}
		added = append(added, r.Identity.Name)
		if !r.Ready {
			e.log.Warn("scaled-up worker missed readiness", "worker", r.Identity.Name, "reason", r.Reason)
		}
	}

	if len(added) > 0 {
		e.appendHistory(Record{
			Action:       ActionScaleUp,
			Trigger:      trigger,
			WorkersAdded: added,
			Reason:       reason,
			Resources:    e.snapshot(res),
		})
		e.log.Info("scaled up", "added", added, "trigger", trigger)
	}
	return added, bootErr
}

// ScaleDown marks count workers draining, preferring idle workers without an
// in-progress claim and the newest indexes. Workers leave the team later,
// once AdvanceDrains sees their claim settled and their shutdown acked. The
// requested count is clamped to the min_workers floor.
func (e *Engine) ScaleDown(ctx context.Context, count int, trigger Trigger) ([]string, error) {
	const op = "scaling.scale_down"
	if count < 1 {
		return nil, errors.Ef(errors.KindMalformed, op, "count must be positive, got %d", count)
	}

	lock, err := e.acquireLock(op)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	m, err := e.manifests.Load()
	if err != nil {
		return nil, err
	}

	floor := m.Scaling.MinWorkers
	if floor < 0 {
		floor = 0
	}
	headroom := m.ActiveWorkerCount - len(m.DrainingWorkers) - floor
	if headroom < 1 {
		return nil, errors.Ef(errors.KindResourceDenied, op,
			"%d workers active with %d draining is already at the min_workers floor of %d",
			m.ActiveWorkerCount, len(m.DrainingWorkers), floor).WithTeam(m.Team)
	}
	if count > headroom {
		e.log.Info("clamping scale-down to the min_workers floor", "requested", count, "allowed", headroom)
		count = headroom
	}

	if err := e.checkCooldown(op, m); err != nil {
		return nil, err
	}

	candidates, err := e.candidates(m)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, errors.Ef(errors.KindResourceDenied, op, "no drainable workers").WithTeam(m.Team)
	}
	if count > len(candidates) {
		count = len(candidates)
	}
	picked := candidates[:count]

	if _, err := e.manifests.Mutate(func(m *manifest.Manifest) error {
		for _, name := range picked {
			m.MarkDraining(name)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	for _, name := range picked {
		st, err := e.hearts.ReadStatus(name)
		if err != nil {
			return picked, err
		}
		if _, err := e.hearts.WriteStatus(name, heartbeat.StateDraining, st.CurrentTaskID, drainReason); err != nil {
			return picked, err
		}
	}

	e.appendHistory(Record{
		Action:         ActionScaleDown,
		Trigger:        trigger,
		WorkersRemoved: picked,
		Reason:         fmt.Sprintf("%s scale-down draining %d worker(s)", trigger, len(picked)),
		Resources:      e.snapshot(e.sample()),
	})
	e.log.Info("scale-down started", "draining", picked, "trigger", trigger)
	return picked, nil
}

// ScaleDownWorker marks one named worker draining. The floor and cooldown
// rules of ScaleDown apply; the candidate ordering does not, since the caller
// already picked. Draining a worker twice is an error so a repeated command
// surfaces instead of silently passing.
func (e *Engine) ScaleDownWorker(ctx context.Context, name string, trigger Trigger) error {
	const op = "scaling.scale_down"

	lock, err := e.acquireLock(op)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	m, err := e.manifests.Load()
	if err != nil {
		return err
	}
	if !m.HasWorker(name) {
		return errors.Ef(errors.KindNotFound, op, "no worker named %q", name).WithTeam(m.Team).WithWorker(name)
	}
	if m.IsDraining(name) {
		return errors.Ef(errors.KindDrainingWorker, op, "worker %s is already draining", name).WithTeam(m.Team).WithWorker(name)
	}

	floor := m.Scaling.MinWorkers
	if floor < 0 {
		floor = 0
	}
	if m.ActiveWorkerCount-len(m.DrainingWorkers)-1 < floor {
		return errors.Ef(errors.KindResourceDenied, op,
			"%d workers active with %d draining is already at the min_workers floor of %d",
			m.ActiveWorkerCount, len(m.DrainingWorkers), floor).WithTeam(m.Team)
	}
	if err := e.checkCooldown(op, m); err != nil {
		return err
	}

	st, err := e.hearts.ReadStatus(name)
	if err != nil {
		return err
	}
	if st.State == heartbeat.StateDone || st.State == heartbeat.StateFailed {
		return errors.Ef(errors.KindResourceDenied, op,
			"worker %s has already stopped", name).WithTeam(m.Team).WithWorker(name)
	}

	if _, err := e.manifests.Mutate(func(m *manifest.Manifest) error {
		m.MarkDraining(name)
		return nil
	}); err != nil {
		return err
	}
	if _, err := e.hearts.WriteStatus(name, heartbeat.StateDraining, st.CurrentTaskID, drainReason); err != nil {
		return err
	}

	e.appendHistory(Record{
		Action:         ActionScaleDown,
		Trigger:        trigger,
		WorkersRemoved: []string{name},
		Reason:         fmt.Sprintf("%s scale-down draining %s", trigger, name),
		Resources:      e.snapshot(e.sample()),
	})
	e.log.Info("scale-down started", "draining", []string{name}, "trigger", trigger)
	return nil
}

// DrainReport summarizes one AdvanceDrains pass.
type DrainReport struct {
	// Draining lists workers still mid-drain after the pass.
	Draining []string

	// Removed lists workers whose drain completed this pass.
	Removed []string

	// Warnings carries one line per drain newly past the drain timeout.
	Warnings []string
}

// AdvanceDrains moves every draining worker one step toward removal: wait for
// its claim to settle, request shutdown, and once the worker acks (or is
// observed dead) kill its slot and drop it from the manifest. Drains are
// never force-killed; a drain that outlives the timeout surfaces a warning
// exactly once. Called from the monitor tick and after manual scale-down.
func (e *Engine) AdvanceDrains(ctx context.Context) (*DrainReport, error) {
	m, err := e.manifests.Load()
	if err != nil {
		return nil, err
	}
	report := &DrainReport{}
	if len(m.DrainingWorkers) == 0 {
		return report, nil
	}

	claims := make(map[string]string)
	tasks, err := e.tasks.List()
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.Status == taskstore.StatusInProgress && t.Claim != nil {
			claims[t.Claim.Worker] = t.ID
		}
	}

	live := make(map[string]bool)
	if m.SessionHandle != "" {
		addrs, err := e.tr.ListSlots(ctx, m.SessionHandle)
		if err != nil {
			e.log.Warn("listing live slots failed, skipping kills this pass", "error", err)
		}
		for _, a := range addrs {
			live[a] = true
		}
	}

	names := append([]string(nil), m.DrainingWorkers...)
	for _, name := range names {
		removed, warning, err := e.advanceOne(ctx, m, name, claims, live)
		if err != nil {
			return report, err
		}
		if warning != "" {
			report.Warnings = append(report.Warnings, warning)
		}
		if removed {
			report.Removed = append(report.Removed, name)
		} else {
			report.Draining = append(report.Draining, name)
		}
	}
	return report, nil
}

// advanceOne walks one draining worker's state machine. Returns whether the
// worker was removed and a warning line when its drain newly exceeded the
// timeout.
func (e *Engine) advanceOne(ctx context.Context, m *manifest.Manifest, name string, claims map[string]string, live map[string]bool) (bool, string, error) {
	st, err := e.hearts.ReadStatus(name)
	if err != nil {
		return false, "", err
	}

	// The claim must settle before the worker may be asked to exit.
	if taskID, busy := claims[name]; busy {
		return false, e.drainTimeoutWarning(name, st,
			fmt.Sprintf("drain of %s still waiting on task %s", name, taskID)), nil
	}

	req, err := e.sigs.ReadRequest(name)
	if err != nil {
		return false, "", err
	}
	if req == nil {
		if _, err := e.sigs.RequestShutdown(name, "scaling"); err != nil {
			return false, "", err
		}
		return false, "", nil
	}

	ack, err := e.sigs.ReadAckSince(name, req.RequestedAt)
	if err != nil {
		return false, "", err
	}
	dead := e.observedDead(ctx, m, name, live)
	if ack == nil && !dead {
		return false, e.drainTimeoutWarning(name, st,
			fmt.Sprintf("drain of %s still waiting on shutdown ack", name)), nil
	}
	if ack != nil && !ack.Accepted() {
		return false, e.drainTimeoutWarning(name, st,
			fmt.Sprintf("drain of %s rejected by worker: %s", name, ack.Reason)), nil
	}

	if w, ok := m.Worker(name); ok && w.Address != "" && live[w.Address] && !isProtected(m, w.Address) {
		if err := e.tr.KillSlot(ctx, w.Address, e.cfg.Shutdown.Grace()); err != nil {
			e.log.Warn("kill during drain failed", "worker", name, "address", w.Address, "error", err)
		}
	}

	if err := e.hearts.MarkDead(name); err != nil {
		return false, "", err
	}
	if _, err := e.hearts.WriteStatus(name, heartbeat.StateDone, "", drainReason); err != nil {
		return false, "", err
	}
	if err := e.sigs.Clear(name); err != nil {
		return false, "", err
	}
	if _, err := e.manifests.Mutate(func(m *manifest.Manifest) error {
		m.RemoveWorker(name)
		return nil
	}); err != nil {
		return false, "", err
	}
	if _, err := e.events.Append(events.Event{Type: events.TypeWorkerStopped, Worker: name, Reason: drainReason}); err != nil {
		return false, "", err
	}
	delete(e.warned, name)
	e.log.Info("drain complete", "worker", name)
	return true, "", nil
}

// drainTimeoutWarning returns the warning line the first time a drain is seen
// past the timeout, and "" otherwise. detail describes what the drain is
// stuck on.
func (e *Engine) drainTimeoutWarning(name string, st heartbeat.Status, detail string) string {
	timeout := e.cfg.Scaling.DrainTimeout()
	if timeout <= 0 || st.State != heartbeat.StateDraining {
		return ""
	}
	waited := time.Since(st.UpdatedAt)
	if waited <= timeout || e.warned[name] {
		return ""
	}
	e.warned[name] = true
	warning := fmt.Sprintf("%s after %s (timeout %s)", detail, waited.Round(time.Second), timeout)
	e.log.Warn("drain past timeout", "worker", name, "detail", detail, "waited", waited.Round(time.Second))
	return warning
}

// observedDead reports whether the drain may finish without an ack because
// the worker is gone.
func (e *Engine) observedDead(ctx context.Context, m *manifest.Manifest, name string, live map[string]bool) bool {
	hb, err := e.hearts.Read(name)
	if err != nil {
		return false
	}
	w, ok := m.Worker(name)
	inSlots := ok && w.Address != "" && live[w.Address]
	obs := heartbeat.NewObserver(e.cfg.Worker.InactivityCeiling())
	dead, _ := obs.Dead(hb, inSlots, time.Now().UTC())
	return dead
}

// RecordRecommendation appends a history entry for a high-confidence
// recommendation the monitor observed but did not apply.
func (e *Engine) RecordRecommendation(rec Recommendation) error {
	return e.history.Append(Record{
		Action:    ActionRecommendation,
		Trigger:   TriggerAuto,
		Reason:    fmt.Sprintf("%s delta %d: %s", rec.Action, rec.Delta, rec.Reason),
		Resources: e.snapshot(e.sample()),
	})
}

// acquireLock takes scaling.lock, stealing it past LockTTL.
func (e *Engine) acquireLock(op string) (*store.Lock, error) {
	lock, stolen, err := store.Acquire(e.layout.ScalingLockPath(), LockTTL)
	if err != nil {
		if errors.Is(err, errors.ErrAlreadyLocked) {
			return nil, errors.E(errors.KindResourceDenied, op, err).WithTeam(e.layout.Team())
		}
		return nil, errors.E(errors.KindIOError, op, err).WithTeam(e.layout.Team())
	}
	if stolen {
		e.log.Warn("stale scaling lock recovered", "path", e.layout.ScalingLockPath())
	}
	return lock, nil
}

// checkCooldown rejects actions spaced closer than the policy cooldown.
// Recommendation records do not count.
func (e *Engine) checkCooldown(op string, m *manifest.Manifest) error {
	cooldown := time.Duration(m.Scaling.CooldownMs) * time.Millisecond
	if cooldown <= 0 {
		return nil
	}
	last, err := e.history.LastAction()
	if err != nil {
		return err
	}
	if last == nil {
		return nil
	}
	if since := time.Since(last.Timestamp); since < cooldown {
		return errors.Ef(errors.KindResourceDenied, op,
			"cooldown active for another %s after %s at %s",
			(cooldown - since).Round(time.Second), last.Action, last.Timestamp.Format(time.RFC3339)).WithTeam(m.Team)
	}
	return nil
}

// candidates orders the non-draining workers for scale-down: idle first, then
// claimless, then largest index first so the newest workers go first. Workers
// already stopped (done or failed status) are not drain candidates; the
// monitor's dead-worker handling owns those.
func (e *Engine) candidates(m *manifest.Manifest) ([]string, error) {
	claimed := make(map[string]bool)
	tasks, err := e.tasks.List()
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.Status == taskstore.StatusInProgress && t.Claim != nil {
			claimed[t.Claim.Worker] = true
		}
	}

	type candidate struct {
		name  string
		index int
		idle  bool
		busy  bool
	}
	cands := make([]candidate, 0, len(m.Workers))
	for _, w := range m.Workers {
		if m.IsDraining(w.Name) {
			continue
		}
		st, err := e.hearts.ReadStatus(w.Name)
		if err != nil {
			return nil, err
		}
		if st.State == heartbeat.StateDone || st.State == heartbeat.StateFailed {
			continue
		}
		cands = append(cands, candidate{
			name:  w.Name,
			index: w.Index,
			idle:  st.State == heartbeat.StateIdle,
			busy:  claimed[w.Name],
		})
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].idle != cands[j].idle {
			return cands[i].idle
		}
		if cands[i].busy != cands[j].busy {
			return cands[j].busy
		}
		return cands[i].index > cands[j].index
	})

	names := make([]string, len(cands))
	for i, c := range cands {
		names[i] = c.name
	}
	return names, nil
}

// snapshot assembles the history resource snapshot from a host sample and the
// current team state. Best effort: unreadable pieces read as zero.
func (e *Engine) snapshot(res Resources) ResourceSnapshot {
	snap := ResourceSnapshot{
		CPULoad1m: res.Load1,
		FreeMemMB: res.FreeMemMB,
	}
	m, err := e.manifests.Load()
	if err != nil {
		return snap
	}
	for _, w := range m.Workers {
		if m.IsDraining(w.Name) {
			continue
		}
		snap.ActiveWorkers++
		if st, err := e.hearts.ReadStatus(w.Name); err == nil && st.State == heartbeat.StateIdle {
			snap.IdleWorkers++
		}
	}
	if counts, err := e.tasks.Counts(); err == nil {
		snap.PendingTasks = counts.Pending
	}
	return snap
}

// appendHistory logs rather than fails: a full disk must not strand a
// half-applied action.
func (e *Engine) appendHistory(rec Record) {
	if err := e.history.Append(rec); err != nil {
		e.log.Warn("appending scaling history failed", "error", err)
	}
}

// checkResources gates scale-up on the manifest resource limits. A zero limit
// disables its check.
func checkResources(op string, m *manifest.Manifest, res Resources, count int) error {
	if maxCPU := m.ResourceLimits.MaxCPUPercent; maxCPU > 0 && res.LoadPercent > maxCPU {
		return errors.Ef(errors.KindResourceDenied, op,
			"cpu load %.0f%% exceeds the %.0f%% limit", res.LoadPercent, maxCPU).WithTeam(m.Team)
	}
	if perWorker := m.Scaling.PerWorkerMemMB; perWorker > 0 {
		allowed := (res.FreeMemMB - m.ResourceLimits.MinFreeMemMB) / perWorker
		if allowed < 0 {
			allowed = 0
		}
		if allowed < count {
			return errors.Ef(errors.KindResourceDenied, op,
				"free memory admits %d more worker(s), %d requested (%d MB free, %d MB reserved, %d MB per worker)",
				allowed, count, res.FreeMemMB, m.ResourceLimits.MinFreeMemMB, perWorker).WithTeam(m.Team)
		}
	}
	return nil
}

// defaultRole picks the role for a scale-up that did not name one: the first
// listed worker's role, or claude on an empty team.
func defaultRole(m *manifest.Manifest) string {
	if len(m.Workers) > 0 && m.Workers[0].Role != "" {
		return m.Workers[0].Role
	}
	return "claude"
}

func isProtected(m *manifest.Manifest, address string) bool {
	for _, p := range m.ProtectedAddresses() {
		if p == address {
			return true
		}
	}
	return false
}
