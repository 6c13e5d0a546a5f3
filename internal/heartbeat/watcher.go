package heartbeat

import (
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"omx/internal/logging"
	"omx/internal/store"
)

// CaptureFunc returns the current terminal contents of a worker's slot.
type CaptureFunc func() (string, error)

// Watcher keeps one worker's heartbeat current. The capture variant polls
// the transport and counts a turn whenever the captured output changes; the
// line variant counts a turn per output line from a headless process. Both
// mark the heartbeat dead when the worker's process goes away.
type Watcher struct {
	store    *Store
	worker   string
	capture  CaptureFunc
	lines    <-chan string
	interval time.Duration
	alive    func(pid int) bool
	log      *logging.Logger

	done     chan struct{}
	stopOnce sync.Once
	wg       conc.WaitGroup
}

// NewCaptureWatcher returns a watcher that polls capture at the given
// interval. Used with multiplexed transports.
func NewCaptureWatcher(s *Store, worker string, capture CaptureFunc, interval time.Duration, log *logging.Logger) *Watcher {
	return &Watcher{
		store:    s,
		worker:   worker,
		capture:  capture,
		interval: interval,
		alive:    store.ProcessAlive,
		log:      orNop(log),
		done:     make(chan struct{}),
	}
}

// NewLineWatcher returns a watcher fed by a channel of output lines. Used
// with the process transport, where stdout is read directly. A closed
// channel means the process exited.
func NewLineWatcher(s *Store, worker string, lines <-chan string, log *logging.Logger) *Watcher {
	return &Watcher{
		store:  s,
		worker: worker,
		lines:  lines,
		alive:  store.ProcessAlive,
		log:    orNop(log),
		done:   make(chan struct{}),
	}
}

// Start launches the watch goroutine. Call Stop to end it.
func (w *Watcher) Start() {
	if w.lines != nil {
		w.wg.Go(w.lineLoop)
		return
	}
	w.wg.Go(w.captureLoop)
}

// Stop ends the watch goroutine and waits for it to exit. Safe to call more
// than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
	w.wg.Wait()
}

// captureLoop polls the transport capture and counts a turn on any change.
func (w *Watcher) captureLoop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var lastOutput string
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			output, err := w.capture()
			if err != nil {
				continue
			}
			if output != lastOutput {
				lastOutput = output
				w.beat()
			}
			if w.processGone() {
				w.markDead()
				return
			}
		}
	}
}

// lineLoop counts a turn per line. Channel closure means the process exited.
func (w *Watcher) lineLoop() {
	for {
		select {
		case <-w.done:
			return
		case _, ok := <-w.lines:
			if !ok {
				w.markDead()
				return
			}
			w.beat()
		}
	}
}

func (w *Watcher) beat() {
	if _, err := w.store.Beat(w.worker); err != nil {
		w.log.Debug("heartbeat update failed", "worker", w.worker, "error", err)
	}
}

func (w *Watcher) markDead() {
	if err := w.store.MarkDead(w.worker); err != nil {
		w.log.Warn("failed to mark heartbeat dead", "worker", w.worker, "error", err)
		return
	}
	w.log.Info("worker process gone", "worker", w.worker)
}

func (w *Watcher) processGone() bool {
	hb, err := w.store.Read(w.worker)
	if err != nil || hb == nil {
		return false
	}
	return !w.alive(hb.PID)
}

func orNop(log *logging.Logger) *logging.Logger {
	if log == nil {
		return logging.NopLogger()
	}
	return log
}
