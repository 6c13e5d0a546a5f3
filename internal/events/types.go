// Package events provides the append-only team event log and an in-process
// pub-sub bus layered over it. The NDJSON file is the durable record;
// consumers read it forward and no reader ever blocks a writer.
package events

import "time"

// Type enumerates the events the runtime appends. The set is closed: anything
// else is a programming error and is rejected by Append.
type Type string

const (
	TypeTaskCompleted    Type = "task_completed"
	TypeWorkerIdle       Type = "worker_idle"
	TypeWorkerStopped    Type = "worker_stopped"
	TypeMessageReceived  Type = "message_received"
	TypeShutdownAck      Type = "shutdown_ack"
	TypeApprovalDecision Type = "approval_decision"
	TypeTeamLeaderNudge  Type = "team_leader_nudge"
)

var validTypes = map[Type]bool{
	TypeTaskCompleted:    true,
	TypeWorkerIdle:       true,
	TypeWorkerStopped:    true,
	TypeMessageReceived:  true,
	TypeShutdownAck:      true,
	TypeApprovalDecision: true,
	TypeTeamLeaderNudge:  true,
}

// ValidType reports whether t is one of the known event types.
func ValidType(t Type) bool {
	return validTypes[t]
}

// Event is one record in the team event log.
type Event struct {
	EventID   string    `json:"event_id"`
	Team      string    `json:"team"`
	Type      Type      `json:"type"`
	Worker    string    `json:"worker,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
