package spawner

import (
	"strings"

	"github.com/gobwas/glob"
)

// Effort is a reasoning-effort level inferred from a model name.
type Effort string

const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

// Model-name classes for effort inference. Small/fast names run at low
// effort, deep-thinking names at high, everything else at medium. Low wins
// when a name matches both (o1-mini is a small model).
var (
	lowEffortModels = []glob.Glob{
		glob.MustCompile("*mini*"),
		glob.MustCompile("*nano*"),
		glob.MustCompile("*haiku*"),
		glob.MustCompile("*flash*"),
	}
	highEffortModels = []glob.Glob{
		glob.MustCompile("*opus*"),
		glob.MustCompile("*o1*"),
		glob.MustCompile("*pro*"),
		glob.MustCompile("*thinking*"),
	}
)

// EffortForModel infers the reasoning-effort level for a model name token.
func EffortForModel(model string) Effort {
	name := strings.ToLower(strings.TrimSpace(model))
	for _, g := range lowEffortModels {
		if g.Match(name) {
			return EffortLow
		}
	}
	for _, g := range highEffortModels {
		if g.Match(name) {
			return EffortHigh
		}
	}
	return EffortMedium
}

// argProfile is the per-agent argument contract.
type argProfile struct {
	// defaultModel is the model emitted when no source in the precedence
	// chain provides one.
	defaultModel string
	// fallback is the argument list used when neither the environment
	// override nor the leader args are present.
	fallback []string
	// reasoning returns the effort overlay tokens for a level. Nil when
	// the CLI has no effort knob.
	reasoning func(Effort) []string
	// hasReasoning reports whether the args already set an effort level.
	hasReasoning func([]string) bool
}

// resolveArgs produces the final argument list for a worker CLI.
//
// The token list comes from the highest-precedence non-empty source:
// environment override, then inherited leader args, then the per-agent
// fallback. Model flags in the chosen list are normalized so that exactly
// one canonical `--model <value>` pair is emitted: orphan flags and empty
// `--model=` forms are dropped, duplicates collapse to the last usable
// value. A list with no usable model borrows the value from the next source
// down the chain, ending at the agent default. The reasoning-effort overlay
// is appended only when the list does not already set one.
func resolveArgs(p argProfile, envArgs string, leaderArgs []string) []string {
	source := strings.Fields(envArgs)
	if len(source) == 0 {
		source = leaderArgs
	}
	if len(source) == 0 {
		source = p.fallback
	}

	args, model := splitModel(source)
	if model == "" {
		_, model = splitModel(leaderArgs)
	}
	if model == "" {
		_, model = splitModel(p.fallback)
	}
	if model == "" {
		model = p.defaultModel
	}

	out := make([]string, 0, len(args)+4)
	out = append(out, args...)
	out = append(out, "--model", model)

	if p.reasoning != nil && !p.hasReasoning(out) {
		out = append(out, p.reasoning(EffortForModel(model))...)
	}
	return out
}

// splitModel removes every model flag form from args and returns the
// remaining tokens plus the last usable model value. Orphan flags (no value
// token, or the next token is another flag) and empty `--model=` forms
// contribute no value and are dropped.
func splitModel(args []string) (rest []string, model string) {
	rest = make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		tok := args[i]
		switch {
		case tok == "--model" || tok == "-m":
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				model = args[i+1]
				i++
			}
		case strings.HasPrefix(tok, "--model="), strings.HasPrefix(tok, "-m="):
			if v := tok[strings.Index(tok, "=")+1:]; v != "" {
				model = v
			}
		default:
			rest = append(rest, tok)
		}
	}
	return rest, model
}
