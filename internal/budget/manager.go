package budget

import (
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/nugget/whim-agent/internal/history"
	"github.com/nugget/whim-agent/internal/tools"
)

// Compression tuning.
const (
	// resultShareDivisor: one result may take at most this fraction
	// of the scratchpad before it is compressed.
	resultShareDivisor = 4
	minResultShare     = 64
	maxKeyPoints       = 5
	keyPointChars      = 200
	summarizedChars    = 240
)

// Input is the assembled reasoning-step prompt, every section already
// inside its cap.
type Input struct {
	System     string
	History    []history.Message
	Current    string
	Scratchpad []IterationRecord
	Tokens     int
}

// ScratchpadText renders the scratchpad section.
func (in Input) ScratchpadText() string { return RenderScratchpad(in.Scratchpad) }

// Manager applies a ContextBudget to prompt assembly.
type Manager struct {
	budget       ContextBudget
	store        *tools.ResultStore
	splitter     textsplitter.TextSplitter
	historyLimit int
	logger       *slog.Logger
}

// NewManager creates a manager for b. Oversized results are parked in
// store; a nil store means they are only truncated.
func NewManager(b ContextBudget, store *tools.ResultStore, logger *slog.Logger) (*Manager, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		budget: b,
		store:  store,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(600),
			textsplitter.WithChunkOverlap(0),
		),
		logger: logger.With("component", "budget"),
	}, nil
}

// SetHistoryLimit caps history by message count before token caps are
// applied. Zero means no count limit.
func (m *Manager) SetHistoryLimit(n int) { m.historyLimit = n }

// Budget returns the allocation in use.
func (m *Manager) Budget() ContextBudget { return m.budget }

func (m *Manager) resultShare() int {
	return max(m.budget.AgentScratchpad/resultShareDivisor, minResultShare)
}

// Compress reduces res to fit one result's share of the scratchpad.
// Results that already fit are kept verbatim. Larger ones are replaced
// by a lead summary plus key points, and the full payload goes to the
// result store for later recall.
func (m *Manager) Compress(toolName string, res *tools.Result) CompressedResult {
	text := resultText(res)
	share := m.resultShare()
	cr := CompressedResult{ToolName: toolName, Success: res != nil && res.Success}

	if EstimateTokens(text) <= share {
		cr.Summary = text
		cr.Tokens = EstimateTokens(text)
		return cr
	}

	if m.store != nil && cr.Success {
		cr.FullDataRef = m.store.Put(res.Data)
	}

	chunks, err := m.splitter.SplitText(text)
	if err != nil || len(chunks) == 0 {
		m.logger.Debug("splitter failed, truncating result", "tool", toolName, "error", err)
		chunks = []string{text}
	}

	cr.Summary = clip(strings.TrimSpace(chunks[0]), share/2)
	for _, c := range chunks[1:] {
		if len(cr.KeyPoints) == maxKeyPoints {
			break
		}
		if kp := keyPoint(c); kp != "" {
			cr.KeyPoints = append(cr.KeyPoints, kp)
		}
	}

	for cr.tokens() > share && len(cr.KeyPoints) > 0 {
		cr.KeyPoints = cr.KeyPoints[:len(cr.KeyPoints)-1]
	}
	cr.Tokens = cr.tokens()

	m.logger.Debug("tool result compressed",
		"tool", toolName,
		"original_tokens", EstimateTokens(text),
		"compressed_tokens", cr.Tokens,
		"ref", cr.FullDataRef,
	)
	return cr
}

func (cr CompressedResult) tokens() int {
	n := EstimateTokens(cr.Summary)
	for _, kp := range cr.KeyPoints {
		n += EstimateTokens(kp)
	}
	return n
}

// keyPoint takes the first sentence of a chunk.
func keyPoint(chunk string) string {
	chunk = strings.Join(strings.Fields(chunk), " ")
	if i := strings.IndexAny(chunk, ".!?"); i > 0 {
		chunk = chunk[:i+1]
	}
	if len(chunk) > keyPointChars {
		chunk = clip(chunk, keyPointChars/BytesPerToken)
	}
	return chunk
}

// Record builds the scratchpad entry for one iteration, compressing
// each result.
func (m *Manager) Record(iteration int, reasoning string, calls []tools.Call, results []*tools.Result, observation string) IterationRecord {
	rec := IterationRecord{
		Iteration:   iteration,
		Reasoning:   reasoning,
		ToolCalls:   append([]tools.Call(nil), calls...),
		Observation: observation,
	}
	for i, res := range results {
		name := ""
		if i < len(calls) {
			name = calls[i].Name
		}
		rec.Results = append(rec.Results, m.Compress(name, res))
	}
	rec.recount()
	return rec
}

// FitScratchpad returns records trimmed to the scratchpad cap. Oldest
// records are condensed first, then dropped; the newest record always
// survives, condensed and clipped if it alone is too large. The input
// slice is not modified.
func (m *Manager) FitScratchpad(records []IterationRecord) []IterationRecord {
	out := make([]IterationRecord, len(records))
	for i, r := range records {
		out[i] = r.clone()
	}

	limit := m.budget.AgentScratchpad
	if total(out) <= limit || len(out) == 0 {
		return out
	}

	for i := 0; i < len(out)-1 && total(out) > limit; i++ {
		out[i] = summarize(out[i])
	}

	dropped := 0
	for len(out) > 1 && total(out) > limit {
		out = out[1:]
		dropped++
	}

	if total(out) > limit {
		last := summarize(out[0])
		for share := limit / 2; last.Tokens > limit && share > 0; share /= 2 {
			last.Observation = clip(last.Observation, share)
			for i := range last.Results {
				last.Results[i].Summary = clip(last.Results[i].Summary, max(share/len(last.Results), 1))
			}
			last.recount()
		}
		out[0] = last
	}

	m.logger.Debug("scratchpad trimmed",
		"records", len(records),
		"kept", len(out),
		"dropped", dropped,
		"tokens", total(out),
		"limit", limit,
	)
	return out
}

// summarize condenses a record to its outcome.
func summarize(r IterationRecord) IterationRecord {
	if r.Summarized {
		return r
	}
	r.Reasoning = ""
	r.Observation = clipChars(r.Observation, summarizedChars)
	for i := range r.Results {
		r.Results[i].Summary = clipChars(r.Results[i].Summary, summarizedChars)
		r.Results[i].KeyPoints = nil
		r.Results[i].Tokens = r.Results[i].tokens()
	}
	r.Summarized = true
	r.recount()
	return r
}

func clipChars(s string, n int) string {
	return clip(s, n/BytesPerToken)
}

func total(records []IterationRecord) int {
	n := 0
	for _, r := range records {
		n += r.Tokens
	}
	return n
}

// Assemble builds a reasoning input with every section inside its cap.
// History is cut oldest first and then re-aligned so it begins with a
// user turn.
func (m *Manager) Assemble(system string, hist []history.Message, current string, records []IterationRecord) Input {
	in := Input{
		System:  clip(system, m.budget.SystemPrompt),
		Current: clip(current, m.budget.CurrentMessage),
	}
	if in.System != system {
		m.logger.Warn("system prompt exceeds its budget and was truncated",
			"tokens", EstimateTokens(system),
			"limit", m.budget.SystemPrompt,
		)
	}

	if m.historyLimit > 0 {
		hist = history.Trim(hist, m.historyLimit)
	}
	budgetBytes := m.budget.ConversationHistory * BytesPerToken
	start := len(hist)
	used := 0
	for start > 0 {
		n := history.Bytes(hist[start-1 : start])
		if used+n > budgetBytes {
			break
		}
		used += n
		start--
	}
	in.History = history.Trim(hist[start:], len(hist)-start)

	in.Scratchpad = m.FitScratchpad(records)

	in.Tokens = EstimateTokens(in.System) +
		(history.Bytes(in.History)+BytesPerToken-1)/BytesPerToken +
		EstimateTokens(in.Current) +
		total(in.Scratchpad)
	return in
}
