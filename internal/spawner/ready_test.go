package spawner

import "testing"

func TestClaudeIsReady(t *testing.T) {
	s := NewClaude()

	tests := []struct {
		name    string
		capture string
		want    bool
	}{
		{
			name: "status bar signature",
			capture: "╭──────────────────────────────╮\n" +
				"│ > Try \"edit <filepath>\"      │\n" +
				"╰──────────────────────────────╯\n" +
				"  ⏵⏵ bypass permissions on (shift+tab to cycle)\n",
			want: true,
		},
		{
			name:    "bare prompt on last line",
			capture: "Welcome to Claude Code!\n\n> \n",
			want:    true,
		},
		{
			name:    "send hint",
			capture: "> fix the parser   ↵ send\n",
			want:    true,
		},
		{
			name:    "prompt under ansi color",
			capture: "\x1b[2mWelcome\x1b[0m\n\x1b[1m> \x1b[0m\n",
			want:    true,
		},
		{
			name:    "still loading",
			capture: "Loading Claude Code...\n> \n",
			want:    false,
		},
		{
			name:    "spinner active",
			capture: "⏵⏵ bypass permissions on\n⠹ Thinking\n",
			want:    false,
		},
		{
			name:    "mid-answer output",
			capture: "Reading the repository layout now.\n",
			want:    false,
		},
		{
			name:    "empty capture",
			capture: "",
			want:    false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.IsReady(tt.capture); got != tt.want {
				t.Errorf("IsReady(%q) = %v, want %v", tt.capture, got, tt.want)
			}
		})
	}
}

func TestCodexIsReady(t *testing.T) {
	s := NewCodex()

	tests := []struct {
		name    string
		capture string
		want    bool
	}{
		{
			name:    "bare composer glyph",
			capture: "OpenAI Codex v0.42\n\n›\n",
			want:    true,
		},
		{
			name:    "glyph with block cursor",
			capture: "› ▌\n",
			want:    true,
		},
		{
			name:    "footer send hint",
			capture: "some scrollback\n⏎ send   ⌃T transcript   ⌃C quit\n",
			want:    true,
		},
		{
			name:    "connecting",
			capture: "Connecting to model provider...\n›\n",
			want:    false,
		},
		{
			name:    "typed text is not idle",
			capture: "› run the tests\n",
			want:    false,
		},
		{
			name:    "spinner active",
			capture: "⠼ working\n",
			want:    false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.IsReady(tt.capture); got != tt.want {
				t.Errorf("IsReady(%q) = %v, want %v", tt.capture, got, tt.want)
			}
		})
	}
}
