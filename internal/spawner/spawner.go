// Package spawner builds the launch commands for worker CLI processes and
// detects when a freshly started CLI has reached its interactive prompt.
//
// Two agent CLIs are supported, claude and codex. Each variant knows how to
// assemble its own argument list (model flag normalization, reasoning-effort
// overlay) and how to recognize its own prompt in captured slot output. The
// runtime treats both through the Spawner interface and never inspects CLI
// output itself.
package spawner

import (
	"fmt"
	"strings"

	"omx/internal/errors"
)

// AgentType identifies a supported agent CLI.
type AgentType string

const (
	AgentClaude AgentType = "claude"
	AgentCodex  AgentType = "codex"
)

// Valid reports whether the agent type names a supported CLI.
func (a AgentType) Valid() bool {
	return a == AgentClaude || a == AgentCodex
}

// Params carries everything a spawner needs to materialize one worker.
type Params struct {
	// Team and Worker form the TEAM_WORKER identity exported to the CLI.
	Team   string
	Worker string

	// Command overrides the CLI binary. Empty means the agent default.
	Command string

	// LeaderArgs are the argument tokens inherited from the leader
	// invocation. They lose to an explicit environment override and win
	// over the per-agent fallback.
	LeaderArgs []string

	// EnvArgs is the raw value of the per-agent args override variable
	// (OMX_CLAUDE_ARGS / OMX_CODEX_ARGS), already read from the
	// environment. Whitespace-split; highest precedence when non-empty.
	EnvArgs string

	// ShellRC is an optional rc file sourced before the CLI is exec'd.
	ShellRC string
}

// Identity returns the TEAM_WORKER value for these params.
func (p Params) Identity() string {
	return p.Team + "/" + p.Worker
}

// Spawner is the CLI-specific capability set the worker bootstrap drives.
type Spawner interface {
	// Agent reports which CLI this spawner launches.
	Agent() AgentType

	// BuildCommand returns the full shell command executed inside a fresh
	// slot: an optional `source <rc>;` prefix, the TEAM_WORKER assignment,
	// and `exec <cli> <args...>`, every token shell-quoted.
	BuildCommand(p Params) (string, error)

	// BuildEnv returns the KEY=value environment overlay for the slot.
	BuildEnv(p Params) []string

	// IsReady reports whether the captured slot output shows the CLI
	// sitting at its interactive prompt.
	IsReady(capture string) bool
}

// New returns the spawner for the given agent type.
func New(agent AgentType) (Spawner, error) {
	switch AgentType(strings.ToLower(string(agent))) {
	case AgentClaude, "":
		return NewClaude(), nil
	case AgentCodex:
		return NewCodex(), nil
	default:
		return nil, errors.Ef(errors.KindMalformed, "spawner.new", "unknown agent type %q", agent)
	}
}

// EnvArgsVar returns the name of the args override variable for an agent.
func EnvArgsVar(agent AgentType) string {
	return "OMX_" + strings.ToUpper(string(agent)) + "_ARGS"
}

// buildCommand assembles the slot command shared by both variants.
func buildCommand(cli string, p Params, args []string) (string, error) {
	if p.Team == "" || p.Worker == "" {
		return "", errors.Ef(errors.KindMalformed, "spawner.command", "missing worker identity (team=%q worker=%q)", p.Team, p.Worker)
	}

	var b strings.Builder
	if p.ShellRC != "" {
		fmt.Fprintf(&b, "source %s; ", shellQuote(p.ShellRC))
	}
	fmt.Fprintf(&b, "TEAM_WORKER=%s exec %s", shellQuote(p.Identity()), shellQuote(cli))
	for _, arg := range args {
		b.WriteByte(' ')
		b.WriteString(shellQuote(arg))
	}
	return b.String(), nil
}

// shellQuote quotes a token for POSIX sh. Tokens made entirely of safe
// characters pass through unchanged; everything else is single-quoted with
// embedded single quotes escaped.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if isShellSafe(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isShellSafe(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case strings.ContainsRune("-_./=:,@%+", r):
		default:
			return false
		}
	}
	return true
}
