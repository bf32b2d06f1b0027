package agent

import (
	"errors"
	"time"

	"github.com/nugget/whim-agent/internal/budget"
	"github.com/nugget/whim-agent/internal/history"
	"github.com/nugget/whim-agent/internal/tools"
)

// ErrBudgetExceeded marks tool calls skipped because they would not fit
// the run's remaining cost budget. It never ends a run by itself.
var ErrBudgetExceeded = errors.New("cost budget exceeded")

// Exhaustion reasons reported on Output.
const (
	ExhaustMaxIterations = "max_iterations"
	ExhaustCostBudget    = "cost_budget"
)

// Config controls one run. It is passed by value and never modified.
type Config struct {
	MaxIterations int      `yaml:"max_iterations" json:"max_iterations"`
	Model         string   `yaml:"model" json:"model,omitempty"` // overrides ModelTier when set
	Tools         []string `yaml:"tools" json:"tools,omitempty"` // empty means every registered tool
	Style         Style    `yaml:"style" json:"style"`
	CostBudget    float64  `yaml:"cost_budget" json:"cost_budget"` // USD; zero means unlimited
	ModelTier     string   `yaml:"model_tier" json:"model_tier,omitempty"`
}

// DefaultConfig returns the configuration used when a caller supplies
// none.
func DefaultConfig() Config {
	return Config{
		MaxIterations: 5,
		Style:         StyleBalanced,
		CostBudget:    0.10,
		ModelTier:     "main",
	}
}

// UserSettings carries per-user preferences that shape a run.
type UserSettings struct {
	WebSearchEnabled   bool   `json:"web_search_enabled"`
	LanguagePreference string `json:"language_preference,omitempty"`
}

// Input is one request to the agent.
type Input struct {
	Message             string               `json:"message"`
	ConversationHistory []history.Message    `json:"conversation_history,omitempty"`
	Files               []history.Attachment `json:"files,omitempty"`
	UserSettings        *UserSettings        `json:"user_settings,omitempty"`

	UserID         string `json:"user_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Output is the result of a completed run.
type Output struct {
	Response         string              `json:"response"`
	ToolsUsed        []string            `json:"tools_used"`
	Iterations       int                 `json:"iterations"`
	TotalCost        float64             `json:"total_cost"`
	TotalTokens      int                 `json:"total_tokens"`
	MemoriesSaved    []tools.SavedMemory `json:"memories_saved,omitempty"`
	WebSearchResults []tools.SearchHit   `json:"web_search_results,omitempty"`

	// ExhaustReason is set when the run was cut short and the response
	// is a best effort.
	ExhaustReason string `json:"exhaust_reason,omitempty"`
}

// Action is what a reasoning step decided to do next.
type Action string

// Reasoning actions.
const (
	ActionTool    Action = "tool"
	ActionRespond Action = "respond"
)

// Reasoning is the outcome of one reasoning step.
type Reasoning struct {
	Thinking   string       `json:"thinking,omitempty"`
	Action     Action       `json:"action"`
	ToolCalls  []tools.Call `json:"tool_calls,omitempty"`
	Response   string       `json:"response,omitempty"`
	Confidence *float64     `json:"confidence,omitempty"`

	// Usage of the step itself, added to the run totals.
	Cost   float64 `json:"-"`
	Tokens int     `json:"-"`
}

// Observation summarizes one iteration's tool results.
type Observation struct {
	Summary   string          `json:"summary"`
	Results   []*tools.Result `json:"results"`
	Timestamp time.Time       `json:"timestamp"`
	Error     bool            `json:"error"`
}

// State is the mutable state of one run. Only the loop writes to it.
type State struct {
	Iteration      int
	ToolCalls      []tools.Call
	Observations   []Observation
	Trace          []string
	FinalAnswer    *string
	ShouldContinue bool
	TotalCost      float64
	TotalTokens    int
	Records        []budget.IterationRecord
}

// EventType identifies a streamed event.
type EventType string

// Event types, in the order a tool-using iteration emits them.
const (
	EventReasoning   EventType = "reasoning"
	EventToolCall    EventType = "tool_call"
	EventToolResults EventType = "tool_results"
	EventObservation EventType = "observation"
	EventResponse    EventType = "response"
	EventError       EventType = "error"
)

// Event is one step of a run as seen by a streaming consumer. A
// response or error event is always last.
type Event struct {
	Type      EventType       `json:"type"`
	Content   string          `json:"content,omitempty"`
	Iteration int             `json:"iteration,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	Results   []*tools.Result `json:"results,omitempty"`
	Output    *Output         `json:"output,omitempty"` // set on the response event
}

// Terminal reports whether e ends a stream.
func (e Event) Terminal() bool {
	return e.Type == EventResponse || e.Type == EventError
}
