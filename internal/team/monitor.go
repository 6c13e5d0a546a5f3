package team

import (
	"context"
	"fmt"
	"sort"
	"time"

	"omx/internal/errors"
	"omx/internal/events"
	"omx/internal/heartbeat"
	"omx/internal/manifest"
	"omx/internal/scaling"
	"omx/internal/taskstore"
	"omx/internal/transport"
)

// MonitorTick reconciles the team once: it reads every store, expires dead
// workers' leases, folds task counts into the phase, nudges recipients with
// unread mail, evaluates scaling, and writes the snapshot. Callable
// repeatedly; every step is idempotent across ticks.
func (mgr *Manager) MonitorTick(ctx context.Context) (*Snapshot, error) {
	tickStart := time.Now()
	now := tickStart.UTC()
	steps := make(map[string]int64)
	var warnings []string

	// Read the whole world first; later steps work off this view.
	stepStart := time.Now()
	m, err := mgr.manifests.Load()
	if err != nil {
		return nil, err
	}
	taskList, err := mgr.tasks.List()
	if err != nil {
		return nil, err
	}
	counts := countTasks(taskList)

	statuses := make(map[string]heartbeat.Status, len(m.Workers))
	beats := make(map[string]*heartbeat.Heartbeat, len(m.Workers))
	for _, w := range m.Workers {
		st, err := mgr.hearts.ReadStatus(w.Name)
		if err != nil {
			return nil, err
		}
		statuses[w.Name] = st
		hb, err := mgr.hearts.Read(w.Name)
		if err != nil {
			return nil, err
		}
		beats[w.Name] = hb
	}

	live, slotsKnown := mgr.liveSlots(ctx, m)
	if !slotsKnown {
		warnings = append(warnings, "live slot listing unavailable this tick")
	}

	prev, err := ReadSnapshot(mgr.layout)
	if err != nil {
		mgr.log.Warn("previous snapshot unreadable", "error", err)
	}
	steps["read_state"] = time.Since(stepStart).Milliseconds()

	// Liveness: classify dead workers, then let expired leases of the dead
	// flow back to pending.
	stepStart = time.Now()
	dead := make(map[string]bool)
	deadReasons := make(map[string]string)
	for _, w := range m.Workers {
		inSlots := true
		if slotsKnown && w.Address != "" {
			inSlots = live[w.Address]
		}
		isDead, reason := mgr.observer.Dead(beats[w.Name], inSlots, now)
		if isDead {
			dead[w.Name] = true
			deadReasons[w.Name] = reason
		}
	}

	expired, err := mgr.tasks.ExpireLeases(dead, now)
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("lease sweep failed: %v", err))
	}
	for _, t := range expired {
		counts.InProgress--
		counts.Pending++
		mgr.log.Info("expired lease returned task to pending", "task", t.ID)
	}

	for name, reason := range deadReasons {
		if m.IsDraining(name) {
			// The drain walk owns draining workers end to end.
			continue
		}
		st := statuses[name]
		if st.State == heartbeat.StateFailed || st.State == heartbeat.StateDone {
			continue
		}
		updated, err := mgr.hearts.WriteStatus(name, heartbeat.StateFailed, st.CurrentTaskID, reason)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("marking %s failed: %v", name, err))
			continue
		}
		statuses[name] = updated
		if _, err := mgr.elog.Append(events.Event{
			Type:   events.TypeWorkerStopped,
			Worker: name,
			Reason: reason,
		}); err != nil {
			warnings = append(warnings, fmt.Sprintf("recording %s stop: %v", name, err))
		}
		mgr.log.Warn("worker observed dead", "worker", name, "reason", reason)
	}
	steps["liveness"] = time.Since(stepStart).Milliseconds()

	// Phase.
	stepStart = time.Now()
	prevPhase := PhaseStart
	var transitions []PhaseTransition
	var recHist []TrackedRecommendation
	tick := mgr.tick + 1
	if prev != nil {
		prevPhase = prev.Phase
		transitions = prev.Transitions
		recHist = prev.Recommendations
		if prev.Tick >= tick {
			tick = prev.Tick + 1
		}
	}
	phase := DerivePhase(prevPhase, counts)
	if phase != prevPhase {
		transitions = append(transitions, PhaseTransition{From: prevPhase, To: phase, At: now})
		mgr.log.Info("phase changed", "from", prevPhase, "to", phase)
	}
	steps["phase"] = time.Since(stepStart).Milliseconds()

	// Notification sweep: one trigger per unread message, then mark it, so
	// a recipient is poked at most once per message.
	stepStart = time.Now()
	for _, w := range m.Workers {
		if w.Address == "" || dead[w.Name] {
			continue
		}
		if slotsKnown && !live[w.Address] {
			continue
		}
		pending, err := mgr.mail.PendingNotify(w.Name)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("mailbox read for %s: %v", w.Name, err))
			continue
		}
		for _, msg := range pending {
			if err := mgr.tr.Trigger(ctx, w.Address); err != nil {
				warnings = append(warnings, fmt.Sprintf("trigger for %s: %v", w.Name, err))
				break
			}
			if _, err := mgr.mail.MarkNotified(w.Name, msg.ID); err != nil {
				warnings = append(warnings, fmt.Sprintf("marking message %s notified: %v", msg.ID, err))
			}
		}
	}
	steps["notify"] = time.Since(stepStart).Milliseconds()

	// Leader nudge, on its own cooldown so a slow tick cannot double-fire.
	stepStart = time.Now()
	if nudged := mgr.maybeNudge(m, beats, now); nudged {
		mgr.log.Info("leader nudged, no recent worker activity")
	}
	steps["nudge"] = time.Since(stepStart).Milliseconds()

	// Scaling: recommend every tick, act only on settled confidence.
	stepStart = time.Now()
	in := scaling.BuildInputs(m, counts, statuses, mgr.cfg.Scaling.IdleTimeout(), now)
	rec := scaling.Recommend(in)
	streak, high := mgr.tracker.Observe(rec)
	tracked := TrackedRecommendation{Recommendation: rec, Streak: streak, HighConfidence: high, At: now}
	recHist = appendRecommendation(recHist, tracked)
	if high && streak == scaling.HighConfidenceStreak {
		if err := mgr.engine.RecordRecommendation(rec); err != nil {
			warnings = append(warnings, fmt.Sprintf("recording recommendation: %v", err))
		}
	}
	if m.Scaling.Auto && high && rec.Action != scaling.ActionNone {
		applied, err := mgr.autoApply(ctx, rec)
		if err != nil && !errors.IsExpected(err) {
			warnings = append(warnings, fmt.Sprintf("auto-scale: %v", err))
		} else if err != nil {
			mgr.log.Debug("auto-scale deferred", "reason", err)
		}
		if applied {
			mgr.tracker.Reset()
		}
	}
	if report, err := mgr.engine.AdvanceDrains(ctx); err != nil {
		warnings = append(warnings, fmt.Sprintf("drain pass: %v", err))
	} else {
		warnings = append(warnings, report.Warnings...)
		if len(report.Removed) > 0 {
			mgr.log.Info("drains completed", "workers", report.Removed)
		}
	}
	steps["scaling"] = time.Since(stepStart).Milliseconds()

	// Reload so the snapshot reflects workers added or removed this tick.
	if fresh, err := mgr.manifests.Load(); err == nil {
		m = fresh
	}

	snap := &Snapshot{
		Team:            m.Team,
		Tick:            tick,
		Phase:           phase,
		Tasks:           counts,
		Workers:         workerViews(m, statuses, beats),
		DeadWorkers:     sortedKeys(dead),
		Transitions:     transitions,
		Recommendations: recHist,
		Warnings:        warnings,
		UpdatedAt:       now,
	}
	snap.Perf.TickMs = time.Since(tickStart).Milliseconds()
	snap.Perf.StepsMs = steps
	if budget := mgr.cfg.Monitor.TickBudget(); budget > 0 && time.Since(tickStart) > budget {
		over := fmt.Sprintf("tick %d ran %v, over the %v budget", tick, time.Since(tickStart).Round(time.Millisecond), budget)
		snap.Warnings = append(snap.Warnings, over)
		mgr.log.Warn("slow monitor tick", "took", time.Since(tickStart), "budget", budget)
	}

	if err := WriteSnapshot(mgr.layout, snap); err != nil {
		return nil, errors.E(errors.KindIOError, "team.monitor", err).WithTeam(m.Team)
	}
	mgr.mu.Lock()
	mgr.tick = tick
	mgr.mu.Unlock()
	return snap, nil
}

// Run ticks the monitor at the configured interval until every task settles
// (phase complete or fix) or the context ends. It owns the per-worker
// heartbeat watchers for the life of the loop and holds the team lock.
func (mgr *Manager) Run(ctx context.Context) (*Snapshot, error) {
	if err := mgr.Attach(); err != nil {
		return nil, err
	}
	defer mgr.stopWatchers()

	interval := mgr.cfg.Monitor.PollInterval()
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *Snapshot
	for {
		snap, err := mgr.MonitorTick(ctx)
		if err != nil {
			// A single unreadable tick degrades locally; the team is
			// only lost when its state root is.
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			if errors.Is(err, errors.ErrNotFound) {
				return last, err
			}
			mgr.log.Error("monitor tick failed", "error", err)
		} else {
			last = snap
			mgr.syncWatchers(snap)
			if mgr.onTick != nil {
				mgr.onTick(snap)
			}
			if snap.Phase == PhaseComplete || snap.Phase == PhaseFix {
				return snap, nil
			}
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

// liveSlots lists the transport session's live addresses. The second return
// is false when the listing failed or no session exists; callers must not
// treat that as "everything is dead".
func (mgr *Manager) liveSlots(ctx context.Context, m *manifest.Manifest) (map[string]bool, bool) {
	if m.SessionHandle == "" {
		return nil, false
	}
	addrs, err := mgr.tr.ListSlots(ctx, m.SessionHandle)
	if err != nil {
		mgr.log.Warn("listing live slots failed", "error", err)
		return nil, false
	}
	live := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		live[a] = true
	}
	return live, true
}

// maybeNudge appends a team_leader_nudge event when no worker has produced
// output for the nudge interval. The nudge keeps its own cooldown, seeded
// from the event log so a restarted monitor does not re-fire immediately.
func (mgr *Manager) maybeNudge(m *manifest.Manifest, beats map[string]*heartbeat.Heartbeat, now time.Time) bool {
	every := mgr.cfg.Monitor.LeaderNudge()
	if every <= 0 || len(m.Workers) == 0 {
		return false
	}

	mgr.mu.Lock()
	if !mgr.nudgeInit {
		mgr.nudgeInit = true
		if evts, err := mgr.elog.Tail(256); err == nil {
			for i := len(evts) - 1; i >= 0; i-- {
				if evts[i].Type == events.TypeTeamLeaderNudge {
					mgr.lastNudge = evts[i].CreatedAt
					break
				}
			}
		}
	}
	lastNudge := mgr.lastNudge
	mgr.mu.Unlock()

	lastActivity := m.CreatedAt
	for _, hb := range beats {
		if hb != nil && hb.LastTurnAt.After(lastActivity) {
			lastActivity = hb.LastTurnAt
		}
	}
	if now.Sub(lastActivity) < every || now.Sub(lastNudge) < every {
		return false
	}

	_, err := mgr.elog.Append(events.Event{
		Type:   events.TypeTeamLeaderNudge,
		Reason: fmt.Sprintf("no worker activity for %s", now.Sub(lastActivity).Round(time.Second)),
	})
	if err != nil {
		mgr.log.Warn("nudge append failed", "error", err)
		return false
	}
	mgr.mu.Lock()
	mgr.lastNudge = now
	mgr.mu.Unlock()
	return true
}

// autoApply turns a high-confidence recommendation into an engine action.
// The engine re-checks cooldown, ceiling, and resources under the scaling
// lock; an expected refusal just means "not this tick".
func (mgr *Manager) autoApply(ctx context.Context, rec scaling.Recommendation) (bool, error) {
	switch rec.Action {
	case scaling.ActionScaleUp:
		added, err := mgr.engine.ScaleUp(ctx, rec.Delta, "", scaling.TriggerAuto)
		if len(added) > 0 {
			mgr.log.Info("auto scale-up applied", "added", added)
			return true, err
		}
		return false, err
	case scaling.ActionScaleDown:
		picked, err := mgr.engine.ScaleDown(ctx, -rec.Delta, scaling.TriggerAuto)
		if len(picked) > 0 {
			mgr.log.Info("auto scale-down applied", "draining", picked)
			return true, err
		}
		return false, err
	default:
		return false, nil
	}
}

// syncWatchers reconciles the per-worker heartbeat watcher pool against the
// snapshot's worker set: new workers get a watcher, removed workers lose
// theirs.
func (mgr *Manager) syncWatchers(snap *Snapshot) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	for name, view := range snap.Workers {
		if _, ok := mgr.watchers[name]; ok || view.Address == "" {
			continue
		}
		w := mgr.newWatcher(name, view.Address)
		mgr.watchers[name] = w
		w.Start()
	}
	for name, w := range mgr.watchers {
		if _, ok := snap.Workers[name]; ok {
			continue
		}
		w.Stop()
		delete(mgr.watchers, name)
	}
}

// newWatcher picks the watcher variant for the transport: process slots
// stream lines, everything else polls captures.
func (mgr *Manager) newWatcher(name, address string) *heartbeat.Watcher {
	if pt, ok := mgr.tr.(*transport.ProcessTransport); ok {
		if lines, ok := pt.Lines(address); ok {
			return heartbeat.NewLineWatcher(mgr.hearts, name, lines, mgr.log)
		}
	}
	capture := func() (string, error) {
		return mgr.tr.Capture(context.Background(), address, 0)
	}
	return heartbeat.NewCaptureWatcher(mgr.hearts, name, capture, mgr.cfg.Worker.CaptureInterval(), mgr.log)
}

func (mgr *Manager) stopWatchers() {
	mgr.mu.Lock()
	watchers := mgr.watchers
	mgr.watchers = make(map[string]*heartbeat.Watcher)
	mgr.mu.Unlock()

	for _, w := range watchers {
		w.Stop()
	}
}

// countTasks folds a task list into counts without a second directory read.
func countTasks(tasks []*taskstore.Task) taskstore.Counts {
	var c taskstore.Counts
	for _, t := range tasks {
		switch t.Status {
		case taskstore.StatusPending:
			c.Pending++
		case taskstore.StatusBlocked:
			c.Blocked++
		case taskstore.StatusInProgress:
			c.InProgress++
		case taskstore.StatusCompleted:
			c.Completed++
		case taskstore.StatusFailed:
			c.Failed++
		}
	}
	return c
}

// workerViews builds the snapshot's worker map from the reconciled reads.
func workerViews(m *manifest.Manifest, statuses map[string]heartbeat.Status, beats map[string]*heartbeat.Heartbeat) map[string]WorkerView {
	views := make(map[string]WorkerView, len(m.Workers))
	for _, w := range m.Workers {
		view := WorkerView{
			State:    heartbeat.StateUnknown,
			Role:     w.Role,
			Address:  w.Address,
			Draining: m.IsDraining(w.Name),
		}
		if st, ok := statuses[w.Name]; ok {
			view.State = st.State
			view.CurrentTaskID = st.CurrentTaskID
		}
		if hb := beats[w.Name]; hb != nil {
			view.Alive = hb.Alive
			view.TurnCount = hb.TurnCount
			view.LastTurnAt = hb.LastTurnAt
		}
		views[w.Name] = view
	}
	return views
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
