package spawner

import (
	"regexp"
	"strings"
)

// readyTailLines bounds how much of a capture the readiness check inspects.
const readyTailLines = 10

var (
	// ansiRe matches CSI sequences (ESC[...letter) and OSC sequences
	// (ESC]...BEL) so pattern matching sees plain text.
	ansiRe = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]|\x1b\][^\x07]*\x07`)

	// loadingRe matches transitional output that means the CLI is still
	// coming up even when a prompt-shaped line is already visible.
	loadingRe = regexp.MustCompile(`(?i)\b(?:loading|starting|initializing|connecting)\b`)

	// spinnerRe matches the braille spinner frames both CLIs animate
	// while busy.
	spinnerRe = regexp.MustCompile(`[⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏]`)
)

// stripANSI removes terminal escape sequences from captured output.
func stripANSI(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}

// tailNonEmpty returns the last n non-empty lines of s, trimmed.
func tailNonEmpty(s string, n int) []string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, n)
	for i := len(lines) - 1; i >= 0 && len(out) < n; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" {
			out = append([]string{line}, out...)
		}
	}
	return out
}

// promptIdle is the shared readiness shape: the prompt glyph sits on the
// last non-empty line, or the status bar shows its idle signature, and
// nothing in the recent tail looks like startup activity.
func promptIdle(capture string, prompt, status *regexp.Regexp) bool {
	tail := tailNonEmpty(stripANSI(capture), readyTailLines)
	if len(tail) == 0 {
		return false
	}
	recent := strings.Join(tail, "\n")
	if loadingRe.MatchString(recent) || spinnerRe.MatchString(recent) {
		return false
	}
	if prompt.MatchString(tail[len(tail)-1]) {
		return true
	}
	return status != nil && status.MatchString(recent)
}
