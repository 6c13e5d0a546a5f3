// Package transport hosts worker slots. Two variants ship: a tmux-backed
// transport where every worker is a pane in one detached team session, and a
// process transport where every worker is a child process on a pty. A probe
// at startup picks tmux when the binary answers a version query; FORCE_TRANSPORT
// overrides the probe in either direction. Addresses are opaque strings owned
// by the variant that minted them.
package transport

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"omx/internal/config"
	"omx/internal/errors"
	"omx/internal/logging"
)

// Kind identifies a transport variant.
type Kind string

const (
	// KindTmux hosts slots as panes of a detached tmux session on a
	// team-scoped socket.
	KindTmux Kind = "tmux"
	// KindProcess hosts slots as child processes on ptys.
	KindProcess Kind = "process"
)

// DefaultCaptureLines bounds Capture when the caller passes no limit.
const DefaultCaptureLines = 200

// SlotSpec describes the slot to create. The slot starts a login shell; the
// worker command arrives later over SendText so bootstrap can stage state
// files before the CLI boots.
type SlotSpec struct {
	// Title labels the slot (pane title / process label).
	Title string
	// WorkDir is the slot's working directory.
	WorkDir string
	// Env is appended to the slot environment. The tmux variant ignores it;
	// worker commands carry their own environment inline.
	Env []string
}

// Slot is a created slot.
type Slot struct {
	// Address targets the slot in every later call.
	Address string
	// Title echoes the requested title.
	Title string
}

// Transport is the slot-hosting surface the team runtime drives.
type Transport interface {
	// Kind reports which variant this is.
	Kind() Kind

	// CreateSession creates the named session and returns its handle.
	CreateSession(ctx context.Context, name string) (string, error)

	// AddSlot adds a slot to the session and returns its address.
	AddSlot(ctx context.Context, handle string, spec SlotSpec) (Slot, error)

	// SendText types text into the slot verbatim, without submitting it.
	SendText(ctx context.Context, address, text string) error

	// Trigger submits whatever is staged in the slot. It sends both a
	// carriage return and an Enter keypress to cover dual submit bindings.
	Trigger(ctx context.Context, address string) error

	// Capture returns a bounded tail of the slot's visible output, at most
	// maxLines lines (DefaultCaptureLines when maxLines <= 0).
	Capture(ctx context.Context, address string, maxLines int) (string, error)

	// KillSlot terminates the slot: interrupt, wait up to grace, then force.
	KillSlot(ctx context.Context, address string, grace time.Duration) error

	// ListSlots returns the addresses of the session's live slots.
	ListSlots(ctx context.Context, handle string) ([]string, error)

	// DestroySession tears down the session and every slot in it.
	DestroySession(ctx context.Context, handle string) error
}

// PidReporter is implemented by transports that can resolve the host pid of
// a slot. Worker bootstrap uses it to seed heartbeats; a transport without
// it leaves the pid unknown and liveness rests on slot presence alone.
type PidReporter interface {
	SlotPID(ctx context.Context, address string) (int, error)
}

// Available probes for the multiplexer by running a version query.
func Available(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, "tmux", "-V")
	return cmd.Run() == nil
}

// Select picks the transport variant for a team. Force "1" demands tmux and
// errors when the probe fails; "0" skips the probe and returns the process
// variant; empty probes and falls back to the process variant when tmux is
// unavailable.
func Select(ctx context.Context, cfg config.Config, team string, log *logging.Logger) (Transport, error) {
	if log == nil {
		log = logging.NopLogger()
	}
	log = log.WithComponent("transport")

	switch strings.TrimSpace(cfg.Transport.Force) {
	case "0":
		log.Info("transport forced", "kind", KindProcess)
		return NewProcess(cfg, log), nil
	case "1":
		if !Available(ctx) {
			return nil, errors.E(errors.KindTransportUnavailable, "transport.select",
				errors.ErrTransportUnavailable).WithTeam(team)
		}
		log.Info("transport forced", "kind", KindTmux)
		return NewTmux(cfg, team, log), nil
	}

	if Available(ctx) {
		return NewTmux(cfg, team, log), nil
	}
	log.Warn("terminal multiplexer unavailable, using process transport")
	return NewProcess(cfg, log), nil
}

// ValidAddress reports whether addr is a normalized tmux pane address. Every
// tmux code path that accepts an address checks this prefix.
func ValidAddress(addr string) bool {
	return len(addr) > 1 && strings.HasPrefix(addr, "%")
}
