package agent

import "fmt"

// Style biases the loop toward or away from tool use.
type Style string

// Supported styles.
const (
	StyleToolFirst Style = "tool_first"
	StyleBalanced  Style = "balanced"
	StyleDirect    Style = "direct"
)

// MinConfidenceToSkip is the reasoning confidence at or above which
// the loop answers immediately instead of running the requested tools.
// Unknown styles behave like balanced.
func (s Style) MinConfidenceToSkip() float64 {
	switch s {
	case StyleToolFirst:
		return 0.95
	case StyleDirect:
		return 0.7
	}
	return 0.85
}

// guidance is the instruction added to the system prompt.
func (s Style) guidance() string {
	switch s {
	case StyleToolFirst:
		return "Prefer gathering current facts with tools before answering."
	case StyleDirect:
		return "Answer from your own knowledge unless a tool is clearly required."
	}
	return "Use tools when they would materially improve the answer."
}

// ParseStyle validates a style name. Empty means balanced.
func ParseStyle(s string) (Style, error) {
	switch Style(s) {
	case "":
		return StyleBalanced, nil
	case StyleToolFirst, StyleBalanced, StyleDirect:
		return Style(s), nil
	}
	return "", fmt.Errorf("unknown agent style %q (want tool_first, balanced or direct)", s)
}
