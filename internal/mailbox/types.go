package mailbox

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

// BroadcastRecipient is the special "to" value for messages fanned out to
// every worker in the team.
const BroadcastRecipient = "broadcast"

// LeaderRecipient is the mailbox name the leader reads from.
const LeaderRecipient = "leader"

// Message is one routed message. It lives in the recipient's mailbox array.
// delivered_at and notified_at are distinct marks: delivered means the
// recipient read the message, notified means the runtime poked the
// recipient's slot to go look at it.
type Message struct {
	ID          string     `json:"message_id"`
	From        string     `json:"from_worker"`
	To          string     `json:"to_worker"`
	Body        string     `json:"body"`
	CreatedAt   time.Time  `json:"created_at"`
	NotifiedAt  *time.Time `json:"notified_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// IsBroadcast returns true if the message was addressed to all workers.
func (m Message) IsBroadcast() bool {
	return m.To == BroadcastRecipient
}

// Delivered returns true once the recipient has read the message.
func (m Message) Delivered() bool {
	return m.DeliveredAt != nil
}

// Notified returns true once the recipient was triggered to read the message.
func (m Message) Notified() bool {
	return m.NotifiedAt != nil
}

// idCounter provides per-process uniqueness for message IDs.
var idCounter atomic.Uint64

// generateID produces a unique message ID using timestamp, PID, and atomic counter.
func generateID() string {
	return fmt.Sprintf("msg-%d-%d-%d", time.Now().UnixNano(), os.Getpid(), idCounter.Add(1))
}
