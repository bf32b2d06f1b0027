package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nugget/whim-agent/internal/budget"
	"github.com/nugget/whim-agent/internal/history"
	"github.com/nugget/whim-agent/internal/llm"
	"github.com/nugget/whim-agent/internal/tools"
)

type mockCall struct {
	Model    string
	Messages []llm.Message
	Tools    []llm.Tool
}

type mockLLM struct {
	responses []*llm.ChatResponse
	err       error
	calls     []mockCall
}

func (m *mockLLM) Chat(_ context.Context, model string, msgs []llm.Message, tools []llm.Tool) (*llm.ChatResponse, error) {
	m.calls = append(m.calls, mockCall{Model: model, Messages: msgs, Tools: tools})
	if m.err != nil {
		return nil, m.err
	}
	idx := len(m.calls) - 1
	if idx >= len(m.responses) {
		return &llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant, Content: "(no more responses)"}}, nil
	}
	return m.responses[idx], nil
}

func (m *mockLLM) Ping(context.Context) error { return nil }

type tierMap map[string]string

func (t tierMap) ModelFor(tier string) string { return t[tier] }

func reasonRequest() ReasonRequest {
	return ReasonRequest{
		Config:    Config{ModelTier: "main", Style: StyleBalanced},
		Iteration: 1,
		Prompt: budget.Input{
			System: "sys",
			History: []history.Message{
				{Role: history.RoleUser, Content: "earlier"},
				{Role: history.RoleAssistant, Content: "reply"},
				{Role: history.RoleSystem, Content: "ignored"},
			},
			Current: "now",
		},
		Tools: []tools.Definition{{Name: "web_fetch", Parameters: map[string]any{"type": "object"}}},
	}
}

func TestLLMReasoner_NativeToolCalls(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{{
		Model: "claude-sonnet-4-20250514",
		Message: llm.Message{
			Role:      llm.RoleAssistant,
			Content:   "Let me read it.",
			ToolCalls: []llm.ToolCall{{ID: "toolu_1", Name: "web_fetch", Arguments: map[string]any{"url": "go.dev"}}},
		},
		InputTokens:  1000,
		OutputTokens: 500,
	}}}
	r := NewLLMReasoner(mock, tierMap{"main": "claude-sonnet-4-20250514"}, nil)

	got, err := r.Reason(context.Background(), reasonRequest())
	if err != nil {
		t.Fatal(err)
	}

	if got.Action != ActionTool || got.Thinking != "Let me read it." {
		t.Errorf("Reasoning = %+v", got)
	}
	if len(got.ToolCalls) != 1 || got.ToolCalls[0].ID != "toolu_1" || got.ToolCalls[0].Params["url"] != "go.dev" {
		t.Errorf("ToolCalls = %+v", got.ToolCalls)
	}
	if got.Tokens != 1500 || !almostEqual(got.Cost, 0.0105) {
		t.Errorf("usage = %d tokens, $%f", got.Tokens, got.Cost)
	}

	c := mock.calls[0]
	if c.Model != "claude-sonnet-4-20250514" || len(c.Tools) != 1 || c.Tools[0].Name != "web_fetch" {
		t.Errorf("call = %+v", c)
	}
	// system, earlier, reply, now; the stray system history entry is dropped.
	if len(c.Messages) != 4 || c.Messages[0].Role != llm.RoleSystem || c.Messages[3].Content != "now" {
		t.Errorf("messages = %+v", c.Messages)
	}
}

func TestParseReasoning(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		wantAction Action
		wantResp   string
		wantCalls  int
		wantConf   float64
	}{
		{"plain text", "The answer is 4.", ActionRespond, "The answer is 4.", 0, -1},
		{"json respond", `{"thinking":"easy","action":"respond","response":"4","confidence":0.9}`, ActionRespond, "4", 0, 0.9},
		{"fenced json tool", "```json\n{\"action\":\"tool\",\"tool_calls\":[{\"name\":\"web_search\",\"params\":{\"query\":\"go\"}}]}\n```", ActionTool, "", 1, -1},
		{"tool action without calls", `{"action":"tool","response":"fine"}`, ActionRespond, "fine", 0, -1},
		{"json without action", `{"answer":"4"}`, ActionRespond, `{"answer":"4"}`, 0, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseReasoning(llm.Message{Role: llm.RoleAssistant, Content: tt.content})
			if got.Action != tt.wantAction || got.Response != tt.wantResp || len(got.ToolCalls) != tt.wantCalls {
				t.Errorf("parseReasoning() = %+v", got)
			}
			switch {
			case tt.wantConf < 0 && got.Confidence != nil:
				t.Errorf("Confidence = %v, want nil", *got.Confidence)
			case tt.wantConf >= 0 && (got.Confidence == nil || *got.Confidence != tt.wantConf):
				t.Errorf("Confidence = %v, want %v", got.Confidence, tt.wantConf)
			}
		})
	}
}

func TestLLMReasoner_ModelSelection(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		models  ModelSelector
		want    string
		wantErr bool
	}{
		{"tier", Config{ModelTier: "pro"}, tierMap{"main": "m", "pro": "p"}, "p", false},
		{"explicit model wins", Config{Model: "x", ModelTier: "pro"}, tierMap{"pro": "p"}, "x", false},
		{"no selector", Config{ModelTier: "main"}, nil, "", true},
		{"unknown tier", Config{ModelTier: "gold"}, tierMap{"main": "m"}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockLLM{}
			r := NewLLMReasoner(mock, tt.models, nil)
			req := reasonRequest()
			req.Config = tt.cfg
			_, err := r.Reason(context.Background(), req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && mock.calls[0].Model != tt.want {
				t.Errorf("model = %q, want %q", mock.calls[0].Model, tt.want)
			}
		})
	}
}

func TestLLMReasoner_UpstreamErrorWrapped(t *testing.T) {
	upstream := &llm.UpstreamError{Provider: "openai", StatusCode: 500}
	r := NewLLMReasoner(&mockLLM{err: upstream}, tierMap{"main": "m"}, nil)

	_, err := r.Reason(context.Background(), reasonRequest())
	if !errors.Is(err, upstream) {
		t.Fatalf("err = %v, want wrapped upstream error", err)
	}
	if !strings.Contains(err.Error(), "iter 1") {
		t.Errorf("err = %q", err)
	}
}

func TestLLMReasoner_RespondWithholdsTools(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{{
		Message: llm.Message{
			Role:      llm.RoleAssistant,
			Content:   "Final answer.",
			ToolCalls: []llm.ToolCall{{Name: "web_fetch"}},
		},
	}}}
	r := NewLLMReasoner(mock, tierMap{"main": "m"}, nil)
	req := reasonRequest()
	req.Language = "German"
	req.Prompt.Scratchpad = []budget.IterationRecord{{Iteration: 1, Observation: "found it"}}

	got, err := r.Respond(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if got.Action != ActionRespond || got.Response != "Final answer." || len(got.ToolCalls) != 0 {
		t.Errorf("Respond() = %+v", got)
	}

	c := mock.calls[0]
	if c.Tools != nil {
		t.Errorf("tools sent on final call: %v", c.Tools)
	}
	sys := c.Messages[0].Content
	for _, want := range []string{"No more tools", "Reply in German.", "## Work so far", "Observation: found it"} {
		if !strings.Contains(sys, want) {
			t.Errorf("system message missing %q:\n%s", want, sys)
		}
	}
}
