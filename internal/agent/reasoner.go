package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/whim-agent/internal/budget"
	"github.com/nugget/whim-agent/internal/history"
	"github.com/nugget/whim-agent/internal/llm"
	"github.com/nugget/whim-agent/internal/tools"
)

// ReasonRequest is everything a reasoning step sees.
type ReasonRequest struct {
	Config    Config
	Iteration int
	Prompt    budget.Input
	Tools     []tools.Definition
	Language  string
}

// Reasoner decides the next step of a run.
type Reasoner interface {
	// Reason returns the next action. Errors are terminal for the run.
	Reason(ctx context.Context, req ReasonRequest) (*Reasoning, error)

	// Respond produces a final answer without tools from what the run
	// has gathered so far.
	Respond(ctx context.Context, req ReasonRequest) (*Reasoning, error)
}

// ModelSelector maps a model tier to a model name.
type ModelSelector interface {
	ModelFor(tier string) string
}

// LLMReasoner is a Reasoner backed by a chat model with native tool
// calling. A model may also answer with a JSON reasoning object; any
// other text is taken as the final answer.
type LLMReasoner struct {
	client llm.Client
	models ModelSelector
	prices llm.PriceTable
	logger *slog.Logger
}

// NewLLMReasoner creates a reasoner. models may be nil when every run
// sets Config.Model.
func NewLLMReasoner(client llm.Client, models ModelSelector, logger *slog.Logger) *LLMReasoner {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMReasoner{
		client: client,
		models: models,
		prices: llm.DefaultPrices,
		logger: logger.With("component", "reasoner"),
	}
}

// SetPrices replaces the pricing table used to cost reasoning calls.
func (r *LLMReasoner) SetPrices(p llm.PriceTable) { r.prices = p }

func (r *LLMReasoner) model(cfg Config) (string, error) {
	if cfg.Model != "" {
		return cfg.Model, nil
	}
	if r.models != nil {
		if m := r.models.ModelFor(cfg.ModelTier); m != "" {
			return m, nil
		}
	}
	return "", fmt.Errorf("no model configured for tier %q", cfg.ModelTier)
}

// Reason implements Reasoner.
func (r *LLMReasoner) Reason(ctx context.Context, req ReasonRequest) (*Reasoning, error) {
	model, err := r.model(req.Config)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Chat(ctx, model, buildMessages(req, false), llmTools(req.Tools))
	if err != nil {
		return nil, fmt.Errorf("reasoning call failed (iter %d): %w", req.Iteration, err)
	}

	out := parseReasoning(resp.Message)
	out.Cost = r.prices.Cost(model, resp.InputTokens, resp.OutputTokens)
	out.Tokens = resp.InputTokens + resp.OutputTokens

	r.logger.Debug("reasoning step",
		"iter", req.Iteration,
		"model", model,
		"action", out.Action,
		"tool_calls", len(out.ToolCalls),
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"cost", out.Cost,
	)
	return out, nil
}

// Respond implements Reasoner. Tools are withheld so the model has to
// answer in text.
func (r *LLMReasoner) Respond(ctx context.Context, req ReasonRequest) (*Reasoning, error) {
	model, err := r.model(req.Config)
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Chat(ctx, model, buildMessages(req, true), nil)
	if err != nil {
		return nil, fmt.Errorf("final response call failed: %w", err)
	}

	out := parseReasoning(llm.Message{Role: resp.Message.Role, Content: resp.Message.Content})
	out.Action = ActionRespond
	out.ToolCalls = nil
	out.Cost = r.prices.Cost(model, resp.InputTokens, resp.OutputTokens)
	out.Tokens = resp.InputTokens + resp.OutputTokens
	return out, nil
}

// buildMessages renders a prompt for the model. The scratchpad rides in
// the system message so history keeps its user-first shape.
func buildMessages(req ReasonRequest, final bool) []llm.Message {
	var sb strings.Builder
	sb.WriteString(req.Prompt.System)
	sb.WriteString("\n\n")
	sb.WriteString(req.Config.Style.guidance())
	if req.Language != "" {
		fmt.Fprintf(&sb, "\nReply in %s.", req.Language)
	}
	if pad := req.Prompt.ScratchpadText(); pad != "" {
		sb.WriteString("\n\n## Work so far\n\n")
		sb.WriteString(pad)
	}
	if final {
		sb.WriteString("\n\nNo more tools are available. Answer now using what has been gathered, and say plainly if something could not be found.")
	}

	msgs := make([]llm.Message, 0, len(req.Prompt.History)+2)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: sb.String()})
	for _, m := range req.Prompt.History {
		role := llm.RoleUser
		if m.Role == history.RoleAssistant {
			role = llm.RoleAssistant
		} else if m.Role != history.RoleUser {
			continue
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Content})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: req.Prompt.Current})
	return msgs
}

func llmTools(defs []tools.Definition) []llm.Tool {
	if len(defs) == 0 {
		return nil
	}
	out := make([]llm.Tool, len(defs))
	for i, d := range defs {
		out[i] = llm.Tool{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
	}
	return out
}

// reasoningJSON is the structured form a model may answer with.
type reasoningJSON struct {
	Thinking   string   `json:"thinking"`
	Action     string   `json:"action"`
	Response   string   `json:"response"`
	Confidence *float64 `json:"confidence"`
	ToolCalls  []struct {
		Name      string         `json:"name"`
		Params    map[string]any `json:"params"`
		Reasoning string         `json:"reasoning"`
	} `json:"tool_calls"`
}

func parseReasoning(msg llm.Message) *Reasoning {
	if len(msg.ToolCalls) > 0 {
		out := &Reasoning{Thinking: strings.TrimSpace(msg.Content), Action: ActionTool}
		for _, tc := range msg.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, tools.Call{ID: tc.ID, Name: tc.Name, Params: tc.Arguments})
		}
		return out
	}

	content := strings.TrimSpace(msg.Content)
	if rj, ok := decodeReasoningJSON(content); ok {
		out := &Reasoning{
			Thinking:   rj.Thinking,
			Action:     ActionRespond,
			Response:   rj.Response,
			Confidence: rj.Confidence,
		}
		for _, tc := range rj.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, tools.Call{Name: tc.Name, Params: tc.Params, Reasoning: tc.Reasoning})
		}
		if Action(rj.Action) == ActionTool && len(out.ToolCalls) > 0 {
			out.Action = ActionTool
		}
		return out
	}

	return &Reasoning{Action: ActionRespond, Response: content}
}

// decodeReasoningJSON accepts a bare object or one wrapped in a code
// fence. Objects without an action are treated as plain answers.
func decodeReasoningJSON(s string) (reasoningJSON, bool) {
	var rj reasoningJSON
	if body, ok := strings.CutPrefix(s, "```json"); ok {
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(body), "```"))
	}
	if !strings.HasPrefix(s, "{") {
		return rj, false
	}
	if err := json.Unmarshal([]byte(s), &rj); err != nil || rj.Action == "" {
		return rj, false
	}
	return rj, true
}
