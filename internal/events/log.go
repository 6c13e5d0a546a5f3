package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"omx/internal/errors"
	"omx/internal/store"
)

// Log is the append-only NDJSON event log for one team.
type Log struct {
	layout store.Layout
	bus    *Bus
	mu     sync.Mutex
}

// NewLog returns the event log for a team layout.
func NewLog(layout store.Layout) *Log {
	return &Log{layout: layout}
}

// AttachBus republishes every appended event to an in-process bus. Optional.
func (l *Log) AttachBus(b *Bus) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bus = b
}

// Append writes one event to the log, filling event_id, team, and created_at.
// The completed event is returned.
func (l *Log) Append(e Event) (Event, error) {
	if !ValidType(e.Type) {
		return Event{}, errors.Ef(errors.KindMalformed, "events.append", "unknown event type %q", e.Type)
	}

	e.EventID = uuid.NewString()
	e.Team = l.layout.Team()
	e.CreatedAt = time.Now().UTC()

	line, err := json.Marshal(e)
	if err != nil {
		return Event{}, errors.E(errors.KindIOError, "events.append", err).WithTeam(e.Team)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := store.AppendLine(l.layout.EventLog(), line); err != nil {
		return Event{}, errors.E(errors.KindIOError, "events.append", err).WithTeam(e.Team)
	}
	if l.bus != nil {
		l.bus.Publish(e)
	}
	return e, nil
}

// All reads the log forward and returns every parseable event. Malformed
// lines (torn writes from a crash) are skipped.
func (l *Log) All() ([]Event, error) {
	f, err := os.Open(l.layout.EventLog())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	var out []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("failed to scan event log: %w", err)
	}
	return out, nil
}

// Tail returns the most recent n events.
func (l *Log) Tail(n int) ([]Event, error) {
	all, err := l.All()
	if err != nil {
		return nil, err
	}
	if n <= 0 || len(all) <= n {
		return all, nil
	}
	return all[len(all)-n:], nil
}
