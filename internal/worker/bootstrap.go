// Package worker materializes team workers: identity records, inbox
// rendering, and the bootstrap pipeline that takes a worker from a manifest
// allocation to a ready CLI inside a transport slot.
package worker

import (
	"context"
	"os"
	"time"

	"omx/internal/config"
	"omx/internal/errors"
	"omx/internal/events"
	"omx/internal/heartbeat"
	"omx/internal/logging"
	"omx/internal/manifest"
	"omx/internal/spawner"
	"omx/internal/store"
	"omx/internal/taskstore"
	"omx/internal/transport"
)

// ReasonReadyTimeout is the worker_stopped reason for a CLI that never
// reached its prompt inside the readiness budget.
const ReasonReadyTimeout = "ready_timeout"

// SpawnerFactory resolves an agent role slug to its spawner. Tests inject
// scripted spawners through this hook.
type SpawnerFactory func(role string) (spawner.Spawner, error)

// DefaultSpawnerFactory returns the real CLI spawners.
func DefaultSpawnerFactory(role string) (spawner.Spawner, error) {
	return spawner.New(spawner.AgentType(role))
}

// Deps wires the stores and transport the bootstrap pipeline drives.
type Deps struct {
	Layout    store.Layout
	Manifests *manifest.Store
	Events    *events.Log
	Transport transport.Transport
	// Spawners is nil for the real CLI spawners.
	Spawners SpawnerFactory
	Config   config.Config
	Log      *logging.Logger
}

// Bootstrapper runs the worker bootstrap pipeline for one team.
type Bootstrapper struct {
	layout    store.Layout
	manifests *manifest.Store
	events    *events.Log
	tr        transport.Transport
	spawners  SpawnerFactory
	hearts    *heartbeat.Store
	cfg       config.Config
	log       *logging.Logger
}

// NewBootstrapper returns a bootstrapper over the given dependencies.
func NewBootstrapper(d Deps) *Bootstrapper {
	if d.Spawners == nil {
		d.Spawners = DefaultSpawnerFactory
	}
	if d.Log == nil {
		d.Log = logging.NopLogger()
	}
	return &Bootstrapper{
		layout:    d.Layout,
		manifests: d.Manifests,
		events:    d.Events,
		tr:        d.Transport,
		spawners:  d.Spawners,
		hearts:    heartbeat.NewStore(d.Layout),
		cfg:       d.Config,
		log:       d.Log.WithComponent("bootstrap"),
	}
}

// Spec describes one worker to materialize.
type Spec struct {
	// Role is the agent type slug recorded on the identity and used to
	// pick the spawner.
	Role string
	// Session is the transport session handle the slot joins.
	Session string
	// WorkDir is the slot's working directory, normally the project root.
	WorkDir string
	// Command overrides the CLI binary.
	Command string
	// LeaderArgs are argument tokens inherited from the leader invocation.
	LeaderArgs []string
	// InboxTasks seed the worker's initial inbox task list.
	InboxTasks []*taskstore.Task
}

// Result reports a materialized worker.
type Result struct {
	Identity Identity
	Slot     transport.Slot
	// Ready is false when the CLI never reached its prompt; the worker is
	// recorded failed and the team continues without it.
	Ready  bool
	Reason string
}

// Bootstrap materializes one worker:
//
//  1. allocate name/index and register it on the manifest, atomically
//  2. create the worker directory, identity, and empty signal file
//  3. add a transport slot and record its address
//  4. write the initial heartbeat and idle status
//  5. write inbox.md
//  6. launch the CLI and wait for its prompt
//  7. trigger the CLI to consume its inbox
//
// A CLI that misses the readiness budget is not an error: the worker is
// marked failed, a worker_stopped event is appended, and the result reports
// Ready=false. Errors mean the pipeline itself broke and the caller should
// treat team start as failed.
func (b *Bootstrapper) Bootstrap(ctx context.Context, spec Spec) (*Result, error) {
	sp, err := b.spawners(spec.Role)
	if err != nil {
		return nil, err
	}
	team := b.layout.Team()

	// Step 1: the name/index allocation and the workers[] append land in
	// one manifest write, so a crash can waste an index but never reuse one.
	var (
		name  string
		index int
	)
	_, err = b.manifests.Mutate(func(m *manifest.Manifest) error {
		index = m.AllocWorkerIndex()
		name = manifest.WorkerName(index)
		m.AddWorker(manifest.Worker{Name: name, Index: index, Role: spec.Role})
		return nil
	})
	if err != nil {
		return nil, err
	}
	log := b.log.WithWorker(name)

	// Step 2: state directory, identity, empty signal file.
	if err := store.EnsureDir(b.layout.WorkerDir(name)); err != nil {
		return nil, err
	}
	id := Identity{
		Team:      team,
		Name:      name,
		Index:     index,
		Role:      spec.Role,
		CreatedAt: time.Now().UTC(),
	}
	if err := WriteIdentity(b.layout, id); err != nil {
		return nil, err
	}
	if err := store.WriteFileAtomic(b.layout.ShutdownRequestPath(name), nil, 0o644); err != nil {
		return nil, err
	}

	// Step 3: transport slot.
	params := spawner.Params{
		Team:       team,
		Worker:     name,
		Command:    spec.Command,
		LeaderArgs: spec.LeaderArgs,
		EnvArgs:    os.Getenv(spawner.EnvArgsVar(sp.Agent())),
		ShellRC:    b.cfg.Worker.ShellRC,
	}
	slot, err := b.tr.AddSlot(ctx, spec.Session, transport.SlotSpec{
		Title:   name,
		WorkDir: spec.WorkDir,
		Env:     sp.BuildEnv(params),
	})
	if err != nil {
		return nil, err
	}
	id.Address = slot.Address
	if err := WriteIdentity(b.layout, id); err != nil {
		return nil, err
	}
	_, err = b.manifests.Mutate(func(m *manifest.Manifest) error {
		m.SetAddress(name, slot.Address)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := transport.RecordPanes(b.layout, spec.Session, slot.Address); err != nil {
		return nil, err
	}

	// Step 4: heartbeat and status.
	pid := 0
	if pr, ok := b.tr.(transport.PidReporter); ok {
		if p, err := pr.SlotPID(ctx, slot.Address); err == nil {
			pid = p
		}
	}
	if _, err := b.hearts.WriteInitial(name, pid); err != nil {
		return nil, err
	}
	if _, err := b.hearts.WriteStatus(name, heartbeat.StateIdle, "", ""); err != nil {
		return nil, err
	}

	// Step 5: inbox overlay.
	inbox := BuildInbox(team, name, spec.InboxTasks)
	if err := store.WriteFileAtomic(b.layout.InboxPath(name), []byte(inbox), 0o644); err != nil {
		return nil, err
	}

	// Step 6: launch and wait for the prompt.
	command, err := sp.BuildCommand(params)
	if err != nil {
		return nil, err
	}
	if err := b.tr.SendText(ctx, slot.Address, command); err != nil {
		return nil, err
	}
	if err := b.tr.Trigger(ctx, slot.Address); err != nil {
		return nil, err
	}
	log.Info("worker launched", "address", slot.Address, "role", spec.Role)

	if ok, err := b.waitReady(ctx, sp, slot.Address); err != nil {
		return nil, err
	} else if !ok {
		if _, err := b.hearts.WriteStatus(name, heartbeat.StateFailed, "", ReasonReadyTimeout); err != nil {
			return nil, err
		}
		if _, err := b.events.Append(events.Event{
			Type:   events.TypeWorkerStopped,
			Worker: name,
			Reason: ReasonReadyTimeout,
		}); err != nil {
			return nil, err
		}
		log.Warn("worker never reached its prompt", "timeout", b.cfg.Worker.ReadyTimeout())
		return &Result{Identity: id, Slot: slot, Ready: false, Reason: ReasonReadyTimeout}, nil
	}

	// Step 7: stage the kickoff line and nudge the CLI to read its inbox.
	kickoff := "Read " + b.layout.InboxPath(name) + " and follow its protocol."
	if err := b.tr.SendText(ctx, slot.Address, kickoff); err != nil {
		return nil, err
	}
	if err := b.tr.Trigger(ctx, slot.Address); err != nil {
		return nil, err
	}

	log.Info("worker ready", "address", slot.Address)
	return &Result{Identity: id, Slot: slot, Ready: true}, nil
}

// waitReady polls the slot's capture until the spawner reports the prompt or
// the readiness budget runs out.
func (b *Bootstrapper) waitReady(ctx context.Context, sp spawner.Spawner, address string) (bool, error) {
	deadline := time.Now().Add(b.cfg.Worker.ReadyTimeout())
	interval := b.cfg.Worker.CaptureInterval()
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	for {
		capture, err := b.tr.Capture(ctx, address, 0)
		if err != nil {
			return false, err
		}
		if sp.IsReady(capture) {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, errors.Wrap(ctx.Err(), "readiness wait interrupted")
		case <-time.After(interval):
		}
	}
}
