// Package mailbox routes messages between the leader and workers of one team.
//
// Each recipient owns a single JSON array at mailbox/<name>.json. Every
// mutation is append-with-compaction: read the array, change it in memory,
// rewrite the file atomically. Broadcasts fan out into per-recipient copies
// with distinct message ids, so a recipient's mailbox file is the complete
// record of everything addressed to it.
//
// A successful send also appends a message_received event to the team event
// log; the mailbox write always lands before the event so that a recipient
// triggered off the event finds the message in place.
package mailbox

import (
	"sync"
	"time"

	"omx/internal/errors"
	"omx/internal/events"
	"omx/internal/store"
)

// Store reads and writes per-recipient mailbox arrays for one team.
// Safe for concurrent use within a single process.
type Store struct {
	layout store.Layout
	log    *events.Log
	mu     sync.Mutex
}

// NewStore returns the mailbox store for a team. log may be nil when send
// events are not wanted (read-only tooling, tests).
func NewStore(layout store.Layout, log *events.Log) *Store {
	return &Store{layout: layout, log: log}
}

// Send appends a direct message to the recipient's mailbox and records a
// message_received event. The message id and timestamp are allocated here.
func (s *Store) Send(from, to, body string) (Message, error) {
	if to == BroadcastRecipient {
		return Message{}, errors.Ef(errors.KindMalformed, "mailbox.send", "broadcast messages go through Broadcast")
	}
	return s.deliver(from, to, to, body)
}

// Broadcast fans a message out to every named recipient except the sender.
// Each recipient's copy keeps the broadcast sentinel in to_worker and gets
// its own message id. Stops at the first write failure, returning the copies
// already sent.
func (s *Store) Broadcast(from, body string, recipients []string) ([]Message, error) {
	var sent []Message
	for _, r := range recipients {
		if r == from {
			continue
		}
		msg, err := s.deliver(from, r, BroadcastRecipient, body)
		if err != nil {
			return sent, err
		}
		sent = append(sent, msg)
	}
	return sent, nil
}

// List returns the full mailbox array for a recipient, oldest first.
// A recipient with no mailbox file has an empty mailbox.
func (s *Store) List(recipient string) ([]Message, error) {
	return s.read(recipient)
}

// Undelivered returns messages the recipient has not read yet.
func (s *Store) Undelivered(recipient string) ([]Message, error) {
	msgs, err := s.read(recipient)
	if err != nil {
		return nil, err
	}
	var out []Message
	for _, m := range msgs {
		if !m.Delivered() {
			out = append(out, m)
		}
	}
	return out, nil
}

// PendingNotify returns undelivered messages the recipient has not been
// triggered for. The monitor sends one transport trigger per returned
// message and marks it notified, so a message nudges its recipient once.
func (s *Store) PendingNotify(recipient string) ([]Message, error) {
	msgs, err := s.read(recipient)
	if err != nil {
		return nil, err
	}
	var out []Message
	for _, m := range msgs {
		if !m.Delivered() && !m.Notified() {
			out = append(out, m)
		}
	}
	return out, nil
}

// MarkDelivered stamps delivered_at on one message. Idempotent; reports
// whether anything changed.
func (s *Store) MarkDelivered(recipient, messageID string) (bool, error) {
	return s.mark(recipient, messageID, "mailbox.mark_delivered", func(m *Message) bool {
		if m.DeliveredAt != nil {
			return false
		}
		now := time.Now().UTC()
		m.DeliveredAt = &now
		return true
	})
}

// MarkNotified stamps notified_at on one message. Idempotent; reports
// whether anything changed.
func (s *Store) MarkNotified(recipient, messageID string) (bool, error) {
	return s.mark(recipient, messageID, "mailbox.mark_notified", func(m *Message) bool {
		if m.NotifiedAt != nil {
			return false
		}
		now := time.Now().UTC()
		m.NotifiedAt = &now
		return true
	})
}

// MarkAllDelivered stamps delivered_at on every unread message for the
// recipient in a single rewrite. Returns the messages that changed.
func (s *Store) MarkAllDelivered(recipient string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, err := s.read(recipient)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var changed []Message
	for i := range msgs {
		if msgs[i].DeliveredAt != nil {
			continue
		}
		msgs[i].DeliveredAt = &now
		changed = append(changed, msgs[i])
	}
	if len(changed) == 0 {
		return nil, nil
	}

	if err := store.WriteJSON(s.layout.MailboxPath(recipient), msgs); err != nil {
		return nil, errors.E(errors.KindIOError, "mailbox.mark_delivered", err).WithWorker(recipient)
	}
	return changed, nil
}

func (s *Store) deliver(from, recipient, to, body string) (Message, error) {
	if from == "" {
		return Message{}, errors.Ef(errors.KindMalformed, "mailbox.send", "sender is required")
	}
	if recipient == "" {
		return Message{}, errors.Ef(errors.KindMalformed, "mailbox.send", "recipient is required")
	}
	if !store.ValidName(recipient) {
		return Message{}, errors.Ef(errors.KindMalformed, "mailbox.send", "invalid recipient %q", recipient)
	}

	msg := Message{
		ID:        generateID(),
		From:      from,
		To:        to,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, err := s.read(recipient)
	if err != nil {
		return Message{}, err
	}
	msgs = append(msgs, msg)
	if err := store.WriteJSON(s.layout.MailboxPath(recipient), msgs); err != nil {
		return Message{}, errors.E(errors.KindIOError, "mailbox.send", err).WithWorker(recipient)
	}

	if s.log != nil {
		_, _ = s.log.Append(events.Event{
			Type:      events.TypeMessageReceived,
			Worker:    recipient,
			MessageID: msg.ID,
		})
	}
	return msg, nil
}

// read returns the mailbox array for a recipient. Missing, empty, and
// unparseable files all read as an empty mailbox.
func (s *Store) read(recipient string) ([]Message, error) {
	var msgs []Message
	if _, err := store.ReadJSON(s.layout.MailboxPath(recipient), &msgs); err != nil {
		return nil, errors.E(errors.KindIOError, "mailbox.read", err).WithWorker(recipient)
	}
	return msgs, nil
}

func (s *Store) mark(recipient, messageID, op string, set func(*Message) bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, err := s.read(recipient)
	if err != nil {
		return false, err
	}
	for i := range msgs {
		if msgs[i].ID != messageID {
			continue
		}
		if !set(&msgs[i]) {
			return false, nil
		}
		if err := store.WriteJSON(s.layout.MailboxPath(recipient), msgs); err != nil {
			return false, errors.E(errors.KindIOError, op, err).WithWorker(recipient)
		}
		return true, nil
	}
	return false, errors.E(errors.KindNotFound, op, errors.ErrNotFound).WithWorker(recipient)
}
