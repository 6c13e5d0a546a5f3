// Package team is the runtime that owns a team end to end: start, the
// monitor loop, operator phase advances, scaling application, and teardown.
//
// [Manager] is the entry point. [Manager.Start] materializes a team (manifest,
// transport session, initial tasks, sequential worker bootstraps) and tears
// everything down again on any mid-start failure. [Manager.MonitorTick]
// reconciles observed state once: lease expiry for observed-dead workers,
// phase derivation from task counts, mailbox notification triggers, the
// leader nudge, and a scaling recommendation, all folded into
// monitor.snapshot.json. [Manager.Run] loops ticks until the phase settles at
// complete or fix. [Manager.Shutdown] and [Manager.Cleanup] end the team; the
// kill routine only ever targets addresses the team provably owns and never
// the leader or HUD.
//
// The phase chain is start → team-prd → team-exec → team-verify → complete,
// with team-fix as the failure branch. Derivation moves the phase forward
// only; team-verify is entered by an explicit [Manager.AdvancePhase] from the
// leader, and complete is never set directly.
//
// # Thread Safety
//
// One Manager serves one process. Cross-process coordination happens through
// the state files and team.lock; [Manager.Attach] enforces a single live
// coordinator per team.
package team
