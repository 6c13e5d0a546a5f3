package spawner

import (
	"regexp"
	"strings"
)

// Codex launches the codex CLI.
type Codex struct{}

// NewCodex returns the codex spawner.
func NewCodex() *Codex { return &Codex{} }

var codexProfile = argProfile{
	defaultModel: "gpt-5-codex",
	fallback:     []string{"--full-auto"},
	reasoning: func(e Effort) []string {
		return []string{"-c", "model_reasoning_effort=" + string(e)}
	},
	hasReasoning: func(args []string) bool {
		for _, a := range args {
			if strings.Contains(a, "model_reasoning_effort") {
				return true
			}
		}
		return false
	},
}

// Codex idle signatures: a bare composer glyph on the last line (optionally
// trailed by the block cursor), or the footer send hint.
var (
	codexPromptRe = regexp.MustCompile(`^(?:>|›)\s*(?:▌\s*)?$`)
	codexStatusRe = regexp.MustCompile(`⏎\s*send|send\s*⏎|⌃T transcript|Ctrl\+T transcript`)
)

func (c *Codex) Agent() AgentType { return AgentCodex }

func (c *Codex) BuildCommand(p Params) (string, error) {
	cli := p.Command
	if cli == "" {
		cli = "codex"
	}
	return buildCommand(cli, p, resolveArgs(codexProfile, p.EnvArgs, p.LeaderArgs))
}

func (c *Codex) BuildEnv(p Params) []string {
	return []string{"TEAM_WORKER=" + p.Identity()}
}

func (c *Codex) IsReady(capture string) bool {
	return promptIdle(capture, codexPromptRe, codexStatusRe)
}
