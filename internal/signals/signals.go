// Package signals implements the shutdown rendezvous between the runtime
// and a worker.
//
// The runtime writes workers/<name>/shutdown-request.json and then waits for
// workers/<name>/shutdown-ack.json to carry a timestamp at least as new as
// the request. Acks overwrite in place, so an ack left behind by an earlier
// run is filtered out by the freshness check rather than by deleting files.
package signals

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"omx/internal/errors"
	"omx/internal/store"
)

// Request asks a worker to shut down gracefully.
type Request struct {
	RequestedBy string    `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`
}

// AckStatus is a worker's answer to a shutdown request.
type AckStatus string

const (
	// AckAccept means the worker will exit.
	AckAccept AckStatus = "accept"

	// AckReject means the worker refuses to exit and says why.
	AckReject AckStatus = "reject"
)

// Ack is the worker's reply to a shutdown request. Freshness is judged by
// updated_at against the request time the coordinator supplied.
type Ack struct {
	Status    AckStatus `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Accepted returns true for a fresh accept.
func (a Ack) Accepted() bool {
	return a.Status == AckAccept
}

const (
	// requestPollInterval paces the poll-only fallback when no fsnotify
	// watcher can be established.
	requestPollInterval = 250 * time.Millisecond

	// watchBackstopInterval paces the safety poll that runs alongside the
	// fsnotify watch. Atomic writes land by rename and can race the watch
	// registration.
	watchBackstopInterval = time.Second

	// ackPollInterval paces the coordinator's wait for a fresh ack.
	ackPollInterval = 100 * time.Millisecond
)

// Store reads and writes shutdown rendezvous files for one team.
type Store struct {
	layout store.Layout
}

// NewStore returns the signal store for a team.
func NewStore(layout store.Layout) *Store {
	return &Store{layout: layout}
}

// RequestShutdown writes the request file and returns the request. The
// returned RequestedAt is the freshness floor for the matching ack.
func (s *Store) RequestShutdown(worker, requestedBy string) (Request, error) {
	req := Request{RequestedBy: requestedBy, RequestedAt: time.Now().UTC()}
	if err := store.WriteJSON(s.layout.ShutdownRequestPath(worker), req); err != nil {
		return Request{}, errors.E(errors.KindIOError, "signals.request", err).WithWorker(worker)
	}
	return req, nil
}

// ReadRequest returns the pending request, or nil when none is readable.
func (s *Store) ReadRequest(worker string) (*Request, error) {
	var req Request
	found, err := store.ReadJSON(s.layout.ShutdownRequestPath(worker), &req)
	if err != nil {
		return nil, errors.E(errors.KindIOError, "signals.read_request", err).WithWorker(worker)
	}
	if !found {
		return nil, nil
	}
	return &req, nil
}

// Acknowledge writes the worker's answer with a fresh timestamp,
// overwriting any previous ack.
func (s *Store) Acknowledge(worker string, status AckStatus, reason string) (Ack, error) {
	ack := Ack{Status: status, Reason: reason, UpdatedAt: time.Now().UTC()}
	if err := store.WriteJSON(s.layout.ShutdownAckPath(worker), ack); err != nil {
		return Ack{}, errors.E(errors.KindIOError, "signals.acknowledge", err).WithWorker(worker)
	}
	return ack, nil
}

// ReadAckSince returns the ack once it is at least as new as min. Stale acks
// from earlier runs read as absent.
func (s *Store) ReadAckSince(worker string, min time.Time) (*Ack, error) {
	var ack Ack
	found, err := store.ReadJSON(s.layout.ShutdownAckPath(worker), &ack)
	if err != nil {
		return nil, errors.E(errors.KindIOError, "signals.read_ack", err).WithWorker(worker)
	}
	if !found || ack.UpdatedAt.Before(min) {
		return nil, nil
	}
	return &ack, nil
}

// Clear removes both rendezvous files once a shutdown has been handled.
func (s *Store) Clear(worker string) error {
	for _, path := range []string{s.layout.ShutdownRequestPath(worker), s.layout.ShutdownAckPath(worker)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.E(errors.KindIOError, "signals.clear", err).WithWorker(worker)
		}
	}
	return nil
}

// WaitForRequest blocks until a shutdown request exists for the worker or
// the context ends. It watches the worker directory with fsnotify and keeps
// a slow poll running as a backstop; when no watcher can be established it
// degrades to polling.
func (s *Store) WaitForRequest(ctx context.Context, worker string) (*Request, error) {
	// The request may predate the wait.
	if req, err := s.ReadRequest(worker); err != nil || req != nil {
		return req, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return s.pollForRequest(ctx, worker)
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory; watching the file itself misses the rename that
	// lands it.
	if err := watcher.Add(s.layout.WorkerDir(worker)); err != nil {
		return s.pollForRequest(ctx, worker)
	}

	target := filepath.Base(s.layout.ShutdownRequestPath(worker))
	backstop := time.NewTicker(watchBackstopInterval)
	defer backstop.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return s.pollForRequest(ctx, worker)
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if req, err := s.ReadRequest(worker); err != nil || req != nil {
				return req, err
			}

		case <-backstop.C:
			if req, err := s.ReadRequest(worker); err != nil || req != nil {
				return req, err
			}

		case _, ok := <-watcher.Errors:
			if !ok {
				return s.pollForRequest(ctx, worker)
			}
		}
	}
}

// WaitForAck polls until an ack at least as new as min appears or the
// context ends.
func (s *Store) WaitForAck(ctx context.Context, worker string, min time.Time) (*Ack, error) {
	ticker := time.NewTicker(ackPollInterval)
	defer ticker.Stop()

	for {
		ack, err := s.ReadAckSince(worker, min)
		if err != nil {
			return nil, err
		}
		if ack != nil {
			return ack, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Store) pollForRequest(ctx context.Context, worker string) (*Request, error) {
	ticker := time.NewTicker(requestPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if req, err := s.ReadRequest(worker); err != nil || req != nil {
				return req, err
			}
		}
	}
}
