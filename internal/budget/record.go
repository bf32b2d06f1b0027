package budget

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nugget/whim-agent/internal/tools"
)

// CompressedResult is a tool result reduced to what the model needs to
// keep reasoning. FullDataRef, when set, is a ResultStore id holding
// the complete payload.
type CompressedResult struct {
	ToolName    string   `json:"tool_name"`
	Success     bool     `json:"success"`
	Summary     string   `json:"summary"`
	KeyPoints   []string `json:"key_points,omitempty"`
	Tokens      int      `json:"tokens"`
	FullDataRef string   `json:"full_data_ref,omitempty"`
}

// IterationRecord is one iteration's entry in the scratchpad.
type IterationRecord struct {
	Iteration   int                `json:"iteration"`
	Reasoning   string             `json:"reasoning,omitempty"`
	ToolCalls   []tools.Call       `json:"tool_calls,omitempty"`
	Results     []CompressedResult `json:"results,omitempty"`
	Observation string             `json:"observation"`
	Tokens      int                `json:"tokens"`

	// Summarized is set once the record has been condensed to make
	// room for newer iterations.
	Summarized bool `json:"summarized,omitempty"`
}

// clone copies the record's slices so edits never reach the original.
func (r IterationRecord) clone() IterationRecord {
	r.ToolCalls = append([]tools.Call(nil), r.ToolCalls...)
	if r.Results == nil {
		return r
	}
	results := make([]CompressedResult, len(r.Results))
	for i, cr := range r.Results {
		cr.KeyPoints = append([]string(nil), cr.KeyPoints...)
		results[i] = cr
	}
	r.Results = results
	return r
}

// Render formats the record the way it appears in the prompt.
func (r IterationRecord) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Iteration %d]\n", r.Iteration)
	if r.Reasoning != "" {
		fmt.Fprintf(&b, "Thought: %s\n", r.Reasoning)
	}
	for _, c := range r.ToolCalls {
		args, _ := json.Marshal(c.Params)
		fmt.Fprintf(&b, "Action: %s %s\n", c.Name, args)
	}
	for _, cr := range r.Results {
		status := "ok"
		if !cr.Success {
			status = "failed"
		}
		fmt.Fprintf(&b, "Result (%s, %s): %s\n", cr.ToolName, status, cr.Summary)
		for _, kp := range cr.KeyPoints {
			fmt.Fprintf(&b, "  - %s\n", kp)
		}
		if cr.FullDataRef != "" {
			fmt.Fprintf(&b, "  (full output: %s id=%s)\n", tools.RecallResultToolName, cr.FullDataRef)
		}
	}
	if r.Observation != "" {
		fmt.Fprintf(&b, "Observation: %s\n", r.Observation)
	}
	return b.String()
}

func (r *IterationRecord) recount() {
	r.Tokens = EstimateTokens(r.Render())
}

// RenderScratchpad joins records into the scratchpad section.
func RenderScratchpad(records []IterationRecord) string {
	var b strings.Builder
	for i, r := range records {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(r.Render())
	}
	return b.String()
}

// resultText serializes a tool result for sizing and summarizing.
func resultText(res *tools.Result) string {
	if res == nil {
		return ""
	}
	if !res.Success {
		return "error: " + res.Error
	}
	switch d := res.Data.(type) {
	case nil:
		return "ok"
	case string:
		return d
	case fmt.Stringer:
		return d.String()
	}
	b, err := json.Marshal(res.Data)
	if err != nil {
		return fmt.Sprintf("%v", res.Data)
	}
	return string(b)
}

// clip cuts s to at most n tokens' worth of bytes on a rune boundary,
// marking the cut.
func clip(s string, tokens int) string {
	limit := tokens * BytesPerToken
	if len(s) <= limit {
		return s
	}
	if limit <= 3 {
		return ""
	}
	cut := limit - 3
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
