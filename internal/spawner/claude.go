package spawner

import "regexp"

// Claude launches the claude CLI.
type Claude struct{}

// NewClaude returns the claude spawner.
func NewClaude() *Claude { return &Claude{} }

// claudeProfile has no reasoning overlay: the claude CLI exposes no effort
// flag, so effort rides on the model choice itself.
var claudeProfile = argProfile{
	defaultModel: "sonnet",
	fallback:     []string{"--dangerously-skip-permissions"},
}

// Claude idle signatures: the input prompt glyph on the last line, or the
// status-bar hints the CLI shows while waiting for input.
var (
	claudePromptRe = regexp.MustCompile(`^(?:>|❯)(?:\s|$)`)
	claudeStatusRe = regexp.MustCompile(`⏵⏵\s*bypass permissions|↵\s*send|\(shift\+tab to cycle\)|\?\s*for shortcuts`)
)

func (c *Claude) Agent() AgentType { return AgentClaude }

func (c *Claude) BuildCommand(p Params) (string, error) {
	cli := p.Command
	if cli == "" {
		cli = "claude"
	}
	return buildCommand(cli, p, resolveArgs(claudeProfile, p.EnvArgs, p.LeaderArgs))
}

func (c *Claude) BuildEnv(p Params) []string {
	return []string{"TEAM_WORKER=" + p.Identity()}
}

func (c *Claude) IsReady(capture string) bool {
	return promptIdle(capture, claudePromptRe, claudeStatusRe)
}
