package transport

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"omx/internal/config"
	"omx/internal/errors"
	"omx/internal/logging"
	"omx/internal/store"
)

// DefaultKillGrace is the interrupt-to-force window used when no grace is
// supplied (session teardown).
const DefaultKillGrace = 500 * time.Millisecond

// maxPendingLine caps the line-assembly buffer for slots that emit no
// newline for a long stretch (progress spinners redrawing one row).
const maxPendingLine = 64 * 1024

// ProcessTransport hosts each slot as a child process on its own pty. It is
// the fallback when no terminal multiplexer is installed, and the variant
// used headless. Addresses are "proc:<pid>".
type ProcessTransport struct {
	shell        string
	width        int
	height       int
	captureBytes int
	log          *logging.Logger

	mu       sync.Mutex
	sessions map[string][]string
	slots    map[string]*procSlot
}

type procSlot struct {
	cmd    *exec.Cmd
	ptmx   *os.File
	pid    int
	pgid   int
	buf    *RingBuffer
	lines  chan string
	exited chan struct{}
}

// NewProcess returns a process transport.
func NewProcess(cfg config.Config, log *logging.Logger) *ProcessTransport {
	if log == nil {
		log = logging.NopLogger()
	}
	return &ProcessTransport{
		shell:        cfg.Worker.Shell,
		width:        cfg.Transport.SlotWidth,
		height:       cfg.Transport.SlotHeight,
		captureBytes: cfg.Transport.CaptureBytes,
		log:          log.WithComponent("transport.process"),
		sessions:     make(map[string][]string),
		slots:        make(map[string]*procSlot),
	}
}

// Kind reports KindProcess.
func (t *ProcessTransport) Kind() Kind { return KindProcess }

// CreateSession registers a named slot group. There is no underlying server;
// the group exists to scope ListSlots and DestroySession.
func (t *ProcessTransport) CreateSession(ctx context.Context, name string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[name]; ok {
		return "", errors.Ef(errors.KindMalformed, "transport.create_session",
			"session %q already exists", name)
	}
	t.sessions[name] = nil
	t.log.Info("process session created", "session", name)
	return name, nil
}

// AddSlot starts a login shell on a fresh pty and returns its address. The
// worker command is sent separately, exactly as with the tmux variant.
func (t *ProcessTransport) AddSlot(ctx context.Context, handle string, spec SlotSpec) (Slot, error) {
	t.mu.Lock()
	if _, ok := t.sessions[handle]; !ok {
		t.mu.Unlock()
		return Slot{}, errors.Ef(errors.KindNotFound, "transport.add_slot",
			"unknown session %q", handle)
	}
	t.mu.Unlock()

	shell := t.shell
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.Command(shell, "-l")
	cmd.Dir = spec.WorkDir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	cmd.Env = append(cmd.Env, spec.Env...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(t.height),
		Cols: uint16(t.width),
	})
	if err != nil {
		return Slot{}, errors.E(errors.KindTransportUnavailable, "transport.add_slot",
			fmt.Errorf("start %s on pty: %w", shell, err))
	}

	pid := cmd.Process.Pid
	pgid, pgErr := syscall.Getpgid(pid)
	if pgErr != nil {
		pgid = 0
	}

	slot := &procSlot{
		cmd:    cmd,
		ptmx:   ptmx,
		pid:    pid,
		pgid:   pgid,
		buf:    NewRingBuffer(t.captureBytes),
		lines:  make(chan string, 256),
		exited: make(chan struct{}),
	}
	addr := "proc:" + strconv.Itoa(pid)

	t.mu.Lock()
	t.sessions[handle] = append(t.sessions[handle], addr)
	t.slots[addr] = slot
	t.mu.Unlock()

	go t.drain(slot)
	go func() {
		_ = cmd.Wait()
		close(slot.exited)
	}()

	t.log.Debug("slot added", "session", handle, "address", addr, "title", spec.Title, "shell", shell)
	return Slot{Address: addr, Title: spec.Title}, nil
}

// drain copies pty output into the slot's ring buffer and feeds complete
// lines to the liveness channel. Dropping a line when the channel is full is
// fine; the channel signals activity, it is not a transcript.
func (t *ProcessTransport) drain(s *procSlot) {
	defer close(s.lines)

	buf := make([]byte, 4096)
	var pending []byte
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			_, _ = s.buf.Write(buf[:n])
			pending = append(pending, buf[:n]...)
			for {
				i := bytes.IndexByte(pending, '\n')
				if i < 0 {
					break
				}
				line := strings.TrimRight(string(pending[:i]), "\r")
				pending = pending[i+1:]
				select {
				case s.lines <- line:
				default:
				}
			}
			if len(pending) > maxPendingLine {
				pending = pending[len(pending)-4096:]
			}
		}
		if err != nil {
			// EOF or EIO: the child side of the pty is gone.
			return
		}
	}
}

// SlotPID resolves the slot's shell pid.
func (t *ProcessTransport) SlotPID(ctx context.Context, address string) (int, error) {
	s, err := t.slot("transport.slot_pid", address)
	if err != nil {
		return 0, err
	}
	return s.pid, nil
}

// SendText writes text to the slot's pty verbatim.
func (t *ProcessTransport) SendText(ctx context.Context, address, text string) error {
	s, err := t.slot("transport.send_text", address)
	if err != nil {
		return err
	}
	if _, err := s.ptmx.WriteString(text); err != nil {
		return errors.E(errors.KindIOError, "transport.send_text",
			fmt.Errorf("write to %s: %w", address, err))
	}
	return nil
}

// Trigger submits staged input: a carriage return, then a newline.
func (t *ProcessTransport) Trigger(ctx context.Context, address string) error {
	s, err := t.slot("transport.trigger", address)
	if err != nil {
		return err
	}
	if _, err := s.ptmx.WriteString("\r"); err != nil {
		return errors.E(errors.KindIOError, "transport.trigger",
			fmt.Errorf("write CR to %s: %w", address, err))
	}
	if _, err := s.ptmx.WriteString("\n"); err != nil {
		return errors.E(errors.KindIOError, "transport.trigger",
			fmt.Errorf("write LF to %s: %w", address, err))
	}
	return nil
}

// Capture returns the tail of the slot's ring buffer, at most maxLines lines.
func (t *ProcessTransport) Capture(ctx context.Context, address string, maxLines int) (string, error) {
	s, err := t.slot("transport.capture", address)
	if err != nil {
		return "", err
	}
	if maxLines <= 0 {
		maxLines = DefaultCaptureLines
	}
	return tailLines(string(s.buf.Bytes()), maxLines), nil
}

// Lines exposes the slot's output line channel. The channel closes when the
// slot's process exits. Callers use it for activity-driven heartbeats
// instead of capture polling.
func (t *ProcessTransport) Lines(address string) (<-chan string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.slots[address]
	if !ok {
		return nil, false
	}
	return s.lines, true
}

// KillSlot closes the pty, interrupts the process group, waits up to grace,
// then force-kills. The slot is forgotten either way.
func (t *ProcessTransport) KillSlot(ctx context.Context, address string, grace time.Duration) error {
	t.mu.Lock()
	s, ok := t.slots[address]
	if ok {
		delete(t.slots, address)
		for name, addrs := range t.sessions {
			t.sessions[name] = removeString(addrs, address)
		}
	}
	t.mu.Unlock()
	if !ok {
		return nil
	}
	if grace <= 0 {
		grace = DefaultKillGrace
	}

	_ = s.ptmx.Close()
	signalGroup(s.pid, s.pgid, syscall.SIGTERM)

	select {
	case <-s.exited:
		t.log.Debug("slot exited", "address", address)
		return nil
	case <-time.After(grace):
	}

	signalGroup(s.pid, s.pgid, syscall.SIGKILL)
	select {
	case <-s.exited:
	case <-time.After(grace):
		t.log.Warn("slot did not exit after SIGKILL", "address", address)
	}
	return nil
}

// ListSlots returns the session's addresses whose processes are still alive.
func (t *ProcessTransport) ListSlots(ctx context.Context, handle string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var live []string
	for _, addr := range t.sessions[handle] {
		s, ok := t.slots[addr]
		if !ok {
			continue
		}
		if store.ProcessAlive(s.pid) {
			live = append(live, addr)
		}
	}
	return live, nil
}

// DestroySession kills every slot in the group and forgets it.
func (t *ProcessTransport) DestroySession(ctx context.Context, handle string) error {
	t.mu.Lock()
	addrs := append([]string(nil), t.sessions[handle]...)
	delete(t.sessions, handle)
	t.mu.Unlock()

	for _, addr := range addrs {
		_ = t.KillSlot(ctx, addr, DefaultKillGrace)
	}
	t.log.Info("process session destroyed", "session", handle, "slots", len(addrs))
	return nil
}

func (t *ProcessTransport) slot(op, address string) (*procSlot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.slots[address]
	if !ok {
		return nil, errors.Ef(errors.KindNotFound, op, "unknown slot %q", address)
	}
	return s, nil
}

// signalGroup prefers the process group so shell descendants die with the
// shell; it falls back to the pid when no group is known.
func signalGroup(pid, pgid int, sig syscall.Signal) {
	if pgid > 0 {
		if err := syscall.Kill(-pgid, sig); err == nil || errors.Is(err, syscall.ESRCH) {
			return
		}
	}
	if pid > 0 {
		_ = syscall.Kill(pid, sig)
	}
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
