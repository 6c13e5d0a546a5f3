// Package scaling grows and shrinks a team's worker pool based on queue
// pressure and host headroom.
//
// Evaluation is split from application. [Recommend] is a pure function over
// the reconciled team state; [Tracker] turns the per-tick recommendation
// stream into high-confidence signals the monitor may auto-apply. [Engine]
// applies actions: scale-up bootstraps workers after checking the ceiling,
// the cooldown, and host resources; scale-down marks candidates draining and
// [Engine.AdvanceDrains] walks each drain through claim settlement, the
// shutdown rendezvous, and slot teardown. Every applied action lands in
// scaling-history.json, bounded at [HistoryLimit] records.
//
// The core types are:
//
//   - [Inputs]: The reconciled counts a recommendation is computed from
//   - [Recommendation]: Scale up, scale down, or hold, with a delta and reason
//   - [Tracker]: Consecutive-observation confidence over recommendations
//   - [Engine]: Applies actions under scaling.lock and records history
//
// # Thread Safety
//
// Tracker is safe for concurrent use. Engine instances serialize against
// each other, across processes included, through scaling.lock.
package scaling
