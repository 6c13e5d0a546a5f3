package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"omx/internal/config"
	"omx/internal/errors"
	"omx/internal/logging"
	"omx/internal/tmux"
)

// TmuxTransport hosts slots as panes of one detached tmux session. The
// session lives on a team-scoped socket so team panes never mix with the
// user's own tmux server. Slot addresses are tmux pane ids ("%3"), which
// stay stable across layout changes.
type TmuxTransport struct {
	socket  string
	width   int
	height  int
	history int
	log     *logging.Logger
}

// NewTmux returns a tmux transport for the team. The socket name derives
// from the configured socket prefix and the team name.
func NewTmux(cfg config.Config, team string, log *logging.Logger) *TmuxTransport {
	if log == nil {
		log = logging.NopLogger()
	}
	return &TmuxTransport{
		socket:  tmux.TeamSocketName(team),
		width:   cfg.Transport.SlotWidth,
		height:  cfg.Transport.SlotHeight,
		history: cfg.Transport.HistoryLimit,
		log:     log.WithComponent("transport.tmux"),
	}
}

// Kind reports KindTmux.
func (t *TmuxTransport) Kind() Kind { return KindTmux }

// Socket returns the team socket name, for callers that tear down the server
// directly.
func (t *TmuxTransport) Socket() string { return t.socket }

// CreateSession creates the detached session. Any leftover session with the
// same name on this socket is killed first. The new session's first pane is
// reported by ListSlots like any other; the runtime claims it for the leader.
func (t *TmuxTransport) CreateSession(ctx context.Context, name string) (string, error) {
	// Leftover from a previous run on the same team name.
	_ = tmux.CommandContextWithSocket(ctx, t.socket, "kill-session", "-t", name).Run()

	args := []string{
		"new-session",
		"-d",
		"-s", name,
		"-x", strconv.Itoa(t.width),
		"-y", strconv.Itoa(t.height),
	}
	cmd := tmux.CommandContextWithSocket(ctx, t.socket, args...)
	cmd.Env = append(cmd.Environ(), "TERM=xterm-256color")
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", errors.E(errors.KindTransportUnavailable, "transport.create_session",
			fmt.Errorf("new-session: %w: %s", err, strings.TrimSpace(string(out))))
	}

	// Large scrollback and a color-capable terminal for capture fidelity.
	_ = tmux.CommandContextWithSocket(ctx, t.socket, "set-option", "-t", name,
		"history-limit", strconv.Itoa(t.history)).Run()
	_ = tmux.CommandContextWithSocket(ctx, t.socket, "set-option", "-t", name,
		"default-terminal", "xterm-256color").Run()

	t.log.Info("tmux session created", "session", name, "socket", t.socket)
	return name, nil
}

// AddSlot splits a new pane off the session and returns its pane id. The
// pane runs the default shell; the worker command is sent separately.
func (t *TmuxTransport) AddSlot(ctx context.Context, handle string, spec SlotSpec) (Slot, error) {
	args := []string{
		"split-window",
		"-d",
		"-P", "-F", "#{pane_id}",
		"-t", handle + ":",
	}
	if spec.WorkDir != "" {
		args = append(args, "-c", spec.WorkDir)
	}
	out, err := tmux.CommandContextWithSocket(ctx, t.socket, args...).Output()
	if err != nil {
		return Slot{}, errors.E(errors.KindTransportUnavailable, "transport.add_slot",
			fmt.Errorf("split-window: %w", err))
	}

	addr := strings.TrimSpace(string(out))
	if !ValidAddress(addr) {
		return Slot{}, errors.Ef(errors.KindTransportUnavailable, "transport.add_slot",
			"split-window returned %q, want a %%-prefixed pane id", addr)
	}

	if spec.Title != "" {
		_ = tmux.CommandContextWithSocket(ctx, t.socket, "select-pane", "-t", addr, "-T", spec.Title).Run()
	}
	// Keep panes evenly sized as the team grows.
	_ = tmux.CommandContextWithSocket(ctx, t.socket, "select-layout", "-t", handle+":", "tiled").Run()

	t.log.Debug("slot added", "session", handle, "address", addr, "title", spec.Title)
	return Slot{Address: addr, Title: spec.Title}, nil
}

// SlotPID resolves the pane's shell pid.
func (t *TmuxTransport) SlotPID(ctx context.Context, address string) (int, error) {
	if !ValidAddress(address) {
		return 0, badAddress("transport.slot_pid", address)
	}
	pid := tmux.GetPanePID(t.socket, address)
	if pid <= 0 {
		return 0, errors.Ef(errors.KindNotFound, "transport.slot_pid",
			"no pid for pane %s", address)
	}
	return pid, nil
}

// SendText types text into the pane literally, without submitting it.
func (t *TmuxTransport) SendText(ctx context.Context, address, text string) error {
	if !ValidAddress(address) {
		return badAddress("transport.send_text", address)
	}
	cmd := tmux.CommandContextWithSocket(ctx, t.socket, "send-keys", "-t", address, "-l", "--", text)
	if err := cmd.Run(); err != nil {
		return errors.E(errors.KindIOError, "transport.send_text",
			fmt.Errorf("send-keys to %s: %w", address, err))
	}
	return nil
}

// Trigger submits staged input with a literal carriage return followed by an
// Enter keypress. CLIs differ in which binding submits.
func (t *TmuxTransport) Trigger(ctx context.Context, address string) error {
	if !ValidAddress(address) {
		return badAddress("transport.trigger", address)
	}
	if err := tmux.CommandContextWithSocket(ctx, t.socket, "send-keys", "-t", address, "-l", "\r").Run(); err != nil {
		return errors.E(errors.KindIOError, "transport.trigger",
			fmt.Errorf("send-keys CR to %s: %w", address, err))
	}
	if err := tmux.CommandContextWithSocket(ctx, t.socket, "send-keys", "-t", address, "Enter").Run(); err != nil {
		return errors.E(errors.KindIOError, "transport.trigger",
			fmt.Errorf("send-keys Enter to %s: %w", address, err))
	}
	return nil
}

// Capture returns the pane tail: the visible pane plus up to maxLines of
// scrollback above it, with escape sequences preserved.
func (t *TmuxTransport) Capture(ctx context.Context, address string, maxLines int) (string, error) {
	if !ValidAddress(address) {
		return "", badAddress("transport.capture", address)
	}
	if maxLines <= 0 {
		maxLines = DefaultCaptureLines
	}
	out, err := tmux.CommandContextWithSocket(ctx, t.socket,
		"capture-pane",
		"-t", address,
		"-p",
		"-e",
		"-S", "-"+strconv.Itoa(maxLines),
	).Output()
	if err != nil {
		return "", errors.E(errors.KindIOError, "transport.capture",
			fmt.Errorf("capture-pane %s: %w", address, err))
	}
	return string(out), nil
}

// KillSlot interrupts the pane process tree, waits up to grace, then forces
// the pane closed and sweeps survivors. The session and server stay up.
func (t *TmuxTransport) KillSlot(ctx context.Context, address string, grace time.Duration) error {
	if !ValidAddress(address) {
		return badAddress("transport.kill_slot", address)
	}
	tmux.KillSlot(t.socket, address, grace)
	t.log.Debug("slot killed", "address", address)
	return nil
}

// ListSlots returns the pane ids of the session, or nil when the session is
// gone.
func (t *TmuxTransport) ListSlots(ctx context.Context, handle string) ([]string, error) {
	out, err := tmux.CommandContextWithSocket(ctx, t.socket,
		"list-panes", "-s", "-t", handle, "-F", "#{pane_id}").Output()
	if err != nil {
		// No session means no slots, not a failure: the caller is often
		// asking exactly this question during teardown.
		return nil, nil
	}
	var addrs []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if ValidAddress(line) {
			addrs = append(addrs, line)
		}
	}
	return addrs, nil
}

// DestroySession collects every pane's process tree, kills the session and
// its server, and force-kills anything that survived the grace window.
func (t *TmuxTransport) DestroySession(ctx context.Context, handle string) error {
	panes, _ := t.ListSlots(ctx, handle)
	tmux.DestroySession(t.socket, handle, panes, tmux.DefaultGraceTimeout)
	t.log.Info("tmux session destroyed", "session", handle, "panes", len(panes))
	return nil
}

func badAddress(op, addr string) error {
	return errors.Ef(errors.KindMalformed, op, "address %q is not a %%-prefixed pane id", addr)
}
