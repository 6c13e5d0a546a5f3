package team

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/sourcegraph/conc"
	"golang.org/x/sync/errgroup"

	"omx/internal/errors"
	"omx/internal/events"
	"omx/internal/heartbeat"
	"omx/internal/manifest"
	"omx/internal/signals"
	"omx/internal/transport"
)

// ShutdownOptions selects the teardown mode.
type ShutdownOptions struct {
	// Force skips the termination gate and kills rejecting workers.
	Force bool

	// Preserve keeps the state root on disk after the workers are gone.
	Preserve bool
}

// CleanupSummary is the structured record of one teardown: what was targeted,
// what was spared, and how the workers answered.
type CleanupSummary struct {
	Team             string       `json:"team"`
	Forced           bool         `json:"forced"`
	Targets          KillTargets  `json:"targets"`
	Excluded         KillExcluded `json:"excluded"`
	Acks             AckTally     `json:"acks"`
	SessionDestroyed bool         `json:"session_destroyed"`
	StateRemoved     bool         `json:"state_removed"`
	Warnings         []string     `json:"warnings,omitempty"`
}

// KillTargets lists the addresses the kill routine actually targeted, after
// dedup, liveness intersection, and exclusions.
type KillTargets struct {
	DedupedTotal int      `json:"deduped_total"`
	Addresses    []string `json:"addresses,omitempty"`
}

// KillExcluded counts the addresses the kill routine refused to target.
type KillExcluded struct {
	Leader  int `json:"leader"`
	HUD     int `json:"hud"`
	Foreign int `json:"foreign"`
}

// AckTally groups workers by how they answered the shutdown request.
type AckTally struct {
	Accepted []string `json:"accepted,omitempty"`
	Rejected []string `json:"rejected,omitempty"`
	Missing  []string `json:"missing,omitempty"`
}

// Shutdown tears the team down. The graceful mode (default) requires the
// termination gate, writes a shutdown request to every still-live worker,
// waits out the grace budget for acks, and spares workers that rejected;
// forced mode skips the gate and kills rejecting workers too. Kills are
// restricted to addresses the team provably owns: the union of manifest
// workers and the panes side-file, intersected with the transport's live
// slots, with the leader and HUD always excluded.
func (mgr *Manager) Shutdown(ctx context.Context, opts ShutdownOptions) (*CleanupSummary, error) {
	const op = "team.shutdown"
	m, err := mgr.manifests.Load()
	if err != nil {
		return nil, err
	}
	if err := mgr.Attach(); err != nil {
		return nil, err
	}
	sum := &CleanupSummary{Team: m.Team, Forced: opts.Force}

	statuses := make(map[string]heartbeat.Status, len(m.Workers))
	for _, w := range m.Workers {
		st, err := mgr.hearts.ReadStatus(w.Name)
		if err != nil {
			return nil, err
		}
		statuses[w.Name] = st
	}

	if !opts.Force && m.Policy.CleanupRequiresAllWorkersInactive {
		var busy []string
		for _, w := range m.Workers {
			switch statuses[w.Name].State {
			case heartbeat.StateIdle, heartbeat.StateDone, heartbeat.StateFailed, heartbeat.StateDraining:
			default:
				busy = append(busy, fmt.Sprintf("%s=%s", w.Name, statuses[w.Name].State))
			}
		}
		if len(busy) > 0 {
			sort.Strings(busy)
			return nil, errors.Ef(errors.KindShutdownGateBlocked, op,
				"workers still active: %s", strings.Join(busy, ", ")).WithTeam(m.Team)
		}
	}

	live, slotsKnown := mgr.liveSlots(ctx, m)

	requestedBy := m.Leader.WorkerID
	if requestedBy == "" {
		requestedBy = "coordinator"
	}
	requests := make(map[string]signals.Request)
	for _, w := range m.Workers {
		if !stillLive(w, statuses[w.Name], live, slotsKnown) {
			continue
		}
		req, err := mgr.sigs.RequestShutdown(w.Name, requestedBy)
		if err != nil {
			sum.Warnings = append(sum.Warnings, fmt.Sprintf("shutdown request for %s: %v", w.Name, err))
			continue
		}
		requests[w.Name] = req
	}

	acks := mgr.collectAcks(ctx, requests, sum)
	for name := range requests {
		ack := acks[name]
		switch {
		case ack == nil:
			sum.Acks.Missing = append(sum.Acks.Missing, name)
		case ack.Accepted():
			sum.Acks.Accepted = append(sum.Acks.Accepted, name)
		default:
			sum.Acks.Rejected = append(sum.Acks.Rejected, name)
		}
		if ack != nil {
			if _, err := mgr.elog.Append(events.Event{
				Type:   events.TypeShutdownAck,
				Worker: name,
				Reason: ack.Reason,
			}); err != nil {
				sum.Warnings = append(sum.Warnings, fmt.Sprintf("recording ack for %s: %v", name, err))
			}
		}
	}
	sort.Strings(sum.Acks.Accepted)
	sort.Strings(sum.Acks.Rejected)
	sort.Strings(sum.Acks.Missing)

	// A graceful shutdown never kills a worker that said no.
	skip := make(map[string]bool)
	spared := make(map[string]bool)
	if !opts.Force {
		for _, name := range sum.Acks.Rejected {
			spared[name] = true
			if w, ok := m.Worker(name); ok && w.Address != "" {
				skip[w.Address] = true
			}
		}
	}

	mgr.killTargets(ctx, m, skip, sum)
	mgr.markWorkersDead(m, spared)

	if !opts.Force && len(sum.Acks.Rejected) > 0 {
		// Rejecting workers are still up, so the session and state stay.
		return sum, errors.Ef(errors.KindShutdownRejected, op,
			"rejected by %s", strings.Join(sum.Acks.Rejected, ", ")).WithTeam(m.Team)
	}

	if m.SessionHandle != "" {
		if err := mgr.tr.DestroySession(ctx, m.SessionHandle); err != nil {
			sum.Warnings = append(sum.Warnings, fmt.Sprintf("destroying session: %v", err))
		} else {
			sum.SessionDestroyed = true
		}
	}

	if !opts.Preserve {
		if err := mgr.Close(); err != nil {
			mgr.log.Debug("lock release before removal failed", "error", err)
		}
		if err := os.RemoveAll(mgr.layout.Root()); err != nil {
			return sum, errors.E(errors.KindIOError, op, err).WithTeam(m.Team)
		}
		sum.StateRemoved = true
	}

	mgr.log.Info("team shut down",
		"forced", opts.Force, "killed", sum.Targets.DedupedTotal, "preserved", opts.Preserve)
	return sum, nil
}

// Cleanup is the crash-safe teardown: no gate, no rendezvous, driven by
// whatever state survives. A team whose manifest never landed is still torn
// down from the panes side-file alone.
func (mgr *Manager) Cleanup(ctx context.Context, preserve bool) (*CleanupSummary, error) {
	const op = "team.cleanup"
	if _, err := os.Stat(mgr.layout.Root()); os.IsNotExist(err) {
		return nil, errors.E(errors.KindNotFound, op, errors.ErrNotFound).WithTeam(mgr.layout.Team())
	}
	if err := mgr.Attach(); err != nil {
		return nil, err
	}

	m, err := mgr.manifests.Load()
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
		m = nil
	}

	sum := &CleanupSummary{Team: mgr.layout.Team(), Forced: true}
	mgr.killTargets(ctx, m, nil, sum)
	if m != nil {
		mgr.markWorkersDead(m, nil)
	}

	session := ""
	if m != nil {
		session = m.SessionHandle
	}
	if session == "" {
		if panes, err := transport.ReadPanes(mgr.layout); err == nil {
			session = panes.Session
		}
	}
	if session != "" {
		if err := mgr.tr.DestroySession(ctx, session); err != nil {
			sum.Warnings = append(sum.Warnings, fmt.Sprintf("destroying session: %v", err))
		} else {
			sum.SessionDestroyed = true
		}
	}

	if !preserve {
		if err := mgr.Close(); err != nil {
			mgr.log.Debug("lock release before removal failed", "error", err)
		}
		if err := os.RemoveAll(mgr.layout.Root()); err != nil {
			return sum, errors.E(errors.KindIOError, op, err).WithTeam(sum.Team)
		}
		sum.StateRemoved = true
	}

	mgr.log.Info("team cleaned up", "killed", sum.Targets.DedupedTotal, "preserved", preserve)
	return sum, nil
}

// collectAcks waits for every requested worker's ack in parallel, bounded by
// the shutdown grace budget. A timed-out or unreadable ack reads as missing.
func (mgr *Manager) collectAcks(ctx context.Context, requests map[string]signals.Request, sum *CleanupSummary) map[string]*signals.Ack {
	acks := make(map[string]*signals.Ack, len(requests))
	if len(requests) == 0 {
		return acks
	}

	waitCtx, cancel := context.WithTimeout(ctx, mgr.cfg.Shutdown.Grace())
	defer cancel()

	var mu sync.Mutex
	var g errgroup.Group
	for name, req := range requests {
		name, req := name, req
		g.Go(func() error {
			ack, err := mgr.sigs.WaitForAck(waitCtx, name, req.RequestedAt)
			if err != nil {
				if waitCtx.Err() != nil {
					return nil
				}
				return err
			}
			mu.Lock()
			acks[name] = ack
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		sum.Warnings = append(sum.Warnings, fmt.Sprintf("ack wait: %v", err))
	}
	return acks
}

// killTargets runs the restricted kill routine and fills in the summary's
// target and exclusion counts. The target set is
// (manifest workers ∪ panes side-file) ∩ live slots, minus the leader, the
// HUD, and the skip set; a live address outside the union counts as foreign
// and is never touched. When the live listing fails nothing is killed.
func (mgr *Manager) killTargets(ctx context.Context, m *manifest.Manifest, skip map[string]bool, sum *CleanupSummary) {
	panes, err := transport.ReadPanes(mgr.layout)
	if err != nil {
		sum.Warnings = append(sum.Warnings, fmt.Sprintf("reading panes side-file: %v", err))
	}

	session, leader, hud := panes.Session, panes.Leader, panes.HUD
	if m != nil {
		if m.SessionHandle != "" {
			session = m.SessionHandle
		}
		if m.LeaderPane != "" {
			leader = m.LeaderPane
		}
		if m.HUDPane != "" {
			hud = m.HUDPane
		}
	}

	protected := make(map[string]bool)
	if leader != "" {
		protected[leader] = true
		sum.Excluded.Leader = 1
	}
	if hud != "" {
		protected[hud] = true
		sum.Excluded.HUD = 1
	}

	known := make(map[string]bool)
	var union []string
	add := func(addr string) {
		if addr == "" || known[addr] {
			return
		}
		known[addr] = true
		union = append(union, addr)
	}
	if m != nil {
		for _, addr := range m.KnownAddresses() {
			add(addr)
		}
	}
	for _, addr := range panes.Addresses {
		add(addr)
	}

	live := make(map[string]bool)
	if session != "" {
		addrs, err := mgr.tr.ListSlots(ctx, session)
		if err != nil {
			sum.Warnings = append(sum.Warnings, fmt.Sprintf("listing live slots: %v", err))
		} else {
			for _, a := range addrs {
				live[a] = true
			}
		}
	}

	var targets []string
	for _, addr := range union {
		if protected[addr] || skip[addr] || !live[addr] {
			continue
		}
		targets = append(targets, addr)
	}
	for addr := range live {
		if !known[addr] && !protected[addr] {
			sum.Excluded.Foreign++
		}
	}
	sum.Targets.DedupedTotal = len(targets)
	sum.Targets.Addresses = targets

	if len(targets) == 0 {
		return
	}
	grace := mgr.cfg.Shutdown.Grace()
	var mu sync.Mutex
	var wg conc.WaitGroup
	for _, addr := range targets {
		addr := addr
		wg.Go(func() {
			if err := mgr.tr.KillSlot(ctx, addr, grace); err != nil {
				mu.Lock()
				sum.Warnings = append(sum.Warnings, fmt.Sprintf("kill %s: %v", addr, err))
				mu.Unlock()
			}
		})
	}
	wg.Wait()
}

// markWorkersDead flips worker heartbeats to alive=false after the kill pass,
// skipping workers a rejection spared. Only visible under preserve; a removed
// state root takes the files with it.
func (mgr *Manager) markWorkersDead(m *manifest.Manifest, spared map[string]bool) {
	for _, w := range m.Workers {
		if spared[w.Name] {
			continue
		}
		if err := mgr.hearts.MarkDead(w.Name); err != nil {
			mgr.log.Debug("heartbeat mark-dead failed", "worker", w.Name, "error", err)
		}
	}
}

// stillLive decides whether a worker gets a shutdown request. With a live
// slot listing the slot decides; without one the worker's own terminal states
// are trusted.
func stillLive(w manifest.Worker, st heartbeat.Status, live map[string]bool, slotsKnown bool) bool {
	if w.Address == "" {
		return false
	}
	if slotsKnown {
		return live[w.Address]
	}
	return st.State != heartbeat.StateDone && st.State != heartbeat.StateFailed
}
