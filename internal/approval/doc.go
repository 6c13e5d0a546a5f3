// Package approval gates task claims behind leader plan decisions.
//
// When a team runs with the plan_approval_required policy, a task flagged as
// requiring a code change cannot be claimed until an accepting decision is on
// record. Decisions live as one JSON file per task under the team's
// approvals/ directory, so the gate works across processes without shared
// memory: the CLI that records a decision and the worker shell that claims
// the task only ever meet on disk.
//
// The core type is [Gate], which wraps a [taskstore.Store] using the same
// decorator shape the store uses over the filesystem. The gate is transparent
// for tasks that do not require approval and for teams whose policy leaves
// the gate off.
//
// # Usage
//
//	approvals := approval.NewStore(layout, elog)
//	gate := approval.NewGate(tasks, approvals, manifests)
//
//	// The leader records a decision.
//	rec, err := approvals.Decide("3", approval.DecisionAccept, "leader", "")
//
//	// Workers claim through the gate instead of the store.
//	res, err := gate.Claim("3", "worker-1")
//
// # Thread Safety
//
// The gate holds no state of its own. Records are written atomically and a
// later decision overwrites an earlier one; racing claimers are serialized by
// the task store's optimistic versioning, not by the gate.
package approval
