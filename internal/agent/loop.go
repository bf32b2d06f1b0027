// Package agent implements the Reason-Act-Observe loop that answers a
// request, calling tools until it has an answer or runs out of budget.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/whim-agent/internal/budget"
	"github.com/nugget/whim-agent/internal/metrics"
	"github.com/nugget/whim-agent/internal/tools"
)

// WebSearchToolName is withheld from runs whose user disabled web
// search.
const WebSearchToolName = "web_search"

// DefaultSystemPrompt is used when the loop is given none.
const DefaultSystemPrompt = "You are Whim, a concise assistant. Use the available tools to look things up when needed, cite the pages you read, and say when you could not find something."

// Loop drives reasoning and tool execution for a run. One Loop serves
// many concurrent runs; all per-run state lives in State.
type Loop struct {
	reasoner     Reasoner
	executor     *tools.Executor
	budget       *budget.Manager
	systemPrompt string
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// NewLoop creates a loop.
func NewLoop(reasoner Reasoner, executor *tools.Executor, mgr *budget.Manager, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		reasoner:     reasoner,
		executor:     executor,
		budget:       mgr,
		systemPrompt: DefaultSystemPrompt,
		logger:       logger.With("component", "agent"),
	}
}

// SetSystemPrompt replaces the system prompt.
func (l *Loop) SetSystemPrompt(s string) { l.systemPrompt = s }

// SetMetrics attaches instrumentation.
func (l *Loop) SetMetrics(m *metrics.Metrics) { l.metrics = m }

// Run executes a run to completion. Only reasoning failures and
// cancellation are returned as errors; exhausted budgets produce a
// best-effort Output.
func (l *Loop) Run(ctx context.Context, cfg Config, in Input) (*Output, error) {
	return l.run(ctx, cfg, in, func(Event) {})
}

// Stream executes a run and delivers its events in order. The channel
// is closed after the terminal response or error event. Once ctx is
// cancelled, events the consumer is not ready for are dropped.
func (l *Loop) Stream(ctx context.Context, cfg Config, in Input) <-chan Event {
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		emit := func(e Event) {
			select {
			case ch <- e:
				return
			default:
			}
			select {
			case ch <- e:
			case <-ctx.Done():
			}
		}
		_, _ = l.run(ctx, cfg, in, emit)
	}()
	return ch
}

// run is the state machine behind Run and Stream.
func (l *Loop) run(ctx context.Context, cfg Config, in Input, emit func(Event)) (*Output, error) {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultConfig().MaxIterations
	}

	requestID := newRequestID()
	log := l.logger.With("request_id", requestID)
	start := time.Now()

	reg := l.toolView(cfg, in)
	exec := l.executor.WithRegistry(reg)
	defs := reg.Definitions()
	tc := tools.Context{
		UserID:         in.UserID,
		ConversationID: in.ConversationID,
		RequestID:      requestID,
		ModelTier:      cfg.ModelTier,
		Language:       language(in),
	}

	state := &State{ShouldContinue: true}
	out := &Output{ToolsUsed: []string{}}
	current := currentMessage(in)

	request := func() ReasonRequest {
		return ReasonRequest{
			Config:    cfg,
			Iteration: state.Iteration,
			Prompt:    l.budget.Assemble(l.systemPrompt, in.ConversationHistory, current, state.Records),
			Tools:     defs,
			Language:  language(in),
		}
	}

	fail := func(err error) (*Output, error) {
		emit(Event{Type: EventError, Content: err.Error(), Iteration: state.Iteration})
		l.metrics.ObserveRun("error", state.TotalCost)
		log.Error("agent run failed",
			"iter", state.Iteration,
			"cost", state.TotalCost,
			"elapsed", time.Since(start).Round(time.Millisecond),
			"error", err,
		)
		return nil, err
	}

	log.Info("agent run started",
		"style", cfg.Style,
		"max_iter", cfg.MaxIterations,
		"cost_budget", cfg.CostBudget,
		"tools", len(defs),
		"history", len(in.ConversationHistory),
	)

	var exhaust string
	for state.ShouldContinue {
		if err := ctx.Err(); err != nil {
			return fail(fmt.Errorf("agent run cancelled: %w", err))
		}
		if state.Iteration >= cfg.MaxIterations {
			exhaust = ExhaustMaxIterations
			break
		}
		if cfg.CostBudget > 0 && state.TotalCost >= cfg.CostBudget {
			exhaust = ExhaustCostBudget
			break
		}

		state.Iteration++
		iterStart := time.Now()
		l.metrics.ObserveIteration()

		r, err := l.reasoner.Reason(ctx, request())
		if err != nil {
			return fail(err)
		}
		state.TotalCost += r.Cost
		state.TotalTokens += r.Tokens
		if r.Thinking != "" {
			state.Trace = append(state.Trace, r.Thinking)
			emit(Event{Type: EventReasoning, Content: r.Thinking, Iteration: state.Iteration})
		}

		if l.shouldRespond(cfg, r) {
			if r.Response != "" {
				state.FinalAnswer = &r.Response
			}
			state.ShouldContinue = false
			break
		}

		l.act(ctx, exec, reg, cfg, tc, state, out, r, emit)

		log.Info("agent iteration",
			"iter", state.Iteration,
			"tool_calls", len(r.ToolCalls),
			"cost", state.TotalCost,
			"tokens", state.TotalTokens,
			"elapsed", time.Since(iterStart).Round(time.Millisecond),
		)
	}

	state.ShouldContinue = false
	if state.FinalAnswer == nil {
		answer := l.forceResponse(ctx, request(), state, log)
		state.FinalAnswer = &answer
	}

	out.Response = *state.FinalAnswer
	out.Iterations = state.Iteration
	out.TotalCost = state.TotalCost
	out.TotalTokens = state.TotalTokens
	out.ExhaustReason = exhaust

	termination := "answered"
	if exhaust != "" {
		termination = exhaust
	}
	l.metrics.ObserveRun(termination, out.TotalCost)

	log.Info("agent run completed",
		"iter", out.Iterations,
		"tools_used", out.ToolsUsed,
		"cost", out.TotalCost,
		"tokens", out.TotalTokens,
		"exhausted", exhaust != "",
		"exhaust_reason", exhaust,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)

	emit(Event{Type: EventResponse, Content: out.Response, Iteration: state.Iteration, Output: out})
	return out, nil
}

// shouldRespond reports whether a reasoning step ends the tool phase.
func (l *Loop) shouldRespond(cfg Config, r *Reasoning) bool {
	if r.Action != ActionTool || len(r.ToolCalls) == 0 {
		return true
	}
	return r.Confidence != nil && *r.Confidence >= cfg.Style.MinConfidenceToSkip()
}

// act runs one iteration's tool calls and records what came back.
// Calls that would overrun the budget are skipped. Dispatched calls
// run to completion even if ctx is cancelled meanwhile.
func (l *Loop) act(ctx context.Context, exec *tools.Executor, reg *tools.Registry, cfg Config, tc tools.Context, state *State, out *Output, r *Reasoning, emit func(Event)) {
	calls := r.ToolCalls
	results := make([]*tools.Result, len(calls))

	var run []tools.Call
	var runIdx []int
	reserved := state.TotalCost
	for i, call := range calls {
		estimate := 0.0
		if t, err := reg.Get(call.Name); err == nil {
			estimate = t.EstimatedCost
		}
		if cfg.CostBudget > 0 && reserved+estimate > cfg.CostBudget {
			results[i] = tools.BudgetExceeded(call, estimate, max(cfg.CostBudget-reserved, 0), ErrBudgetExceeded)
			l.logger.Warn("tool call skipped",
				"request_id", tc.RequestID,
				"iter", state.Iteration,
				"tool", call.Name,
				"estimate", estimate,
				"remaining", cfg.CostBudget-reserved,
			)
			continue
		}
		reserved += estimate
		run = append(run, call)
		runIdx = append(runIdx, i)
	}

	for _, call := range calls {
		args, _ := json.Marshal(call.Params)
		emit(Event{Type: EventToolCall, ToolName: call.Name, Content: string(args), Iteration: state.Iteration})
	}

	for j, res := range exec.ExecuteAll(context.WithoutCancel(ctx), run, tc) {
		results[runIdx[j]] = res
		name := run[j].Name
		if _, err := reg.Get(name); err == nil && !slices.Contains(out.ToolsUsed, name) {
			out.ToolsUsed = append(out.ToolsUsed, name)
		}
	}

	for _, res := range results {
		state.TotalCost += res.Metadata.Cost
		state.TotalTokens += res.Metadata.TokensUsed
		collect(out, res)
	}
	state.ToolCalls = append(state.ToolCalls, calls...)
	emit(Event{Type: EventToolResults, Results: results, Iteration: state.Iteration})

	rec := l.budget.Record(state.Iteration, r.Thinking, calls, results, outcomeLine(calls, results))
	obs := observe(rec, results)
	state.Records = append(state.Records, rec)
	state.Observations = append(state.Observations, obs)
	emit(Event{Type: EventObservation, Content: obs.Summary, Iteration: state.Iteration})
}

// forceResponse asks for a tool-free answer, falling back to the
// gathered observations when the model cannot give one.
func (l *Loop) forceResponse(ctx context.Context, req ReasonRequest, state *State, log *slog.Logger) string {
	if ctx.Err() == nil {
		r, err := l.reasoner.Respond(ctx, req)
		if err == nil {
			state.TotalCost += r.Cost
			state.TotalTokens += r.Tokens
			if strings.TrimSpace(r.Response) != "" {
				return r.Response
			}
		} else {
			log.Warn("final response failed, answering from observations", "error", err)
		}
	}
	return fallbackResponse(state.Observations)
}

// toolView narrows the registry to what this run may use.
func (l *Loop) toolView(cfg Config, in Input) *tools.Registry {
	reg := l.executor.Registry()
	if len(cfg.Tools) > 0 {
		reg = reg.FilteredCopy(cfg.Tools)
	}
	if in.UserSettings != nil && !in.UserSettings.WebSearchEnabled {
		reg = reg.FilteredCopyExcluding([]string{WebSearchToolName})
	}
	return reg
}

// collect lifts well-known result shapes onto the output.
func collect(out *Output, res *tools.Result) {
	if !res.Success {
		return
	}
	switch d := res.Data.(type) {
	case tools.SavedMemory:
		out.MemoriesSaved = append(out.MemoriesSaved, d)
	case *tools.SavedMemory:
		out.MemoriesSaved = append(out.MemoriesSaved, *d)
	case []tools.SearchHit:
		out.WebSearchResults = append(out.WebSearchResults, d...)
	}
}

// outcomeLine is the record's observation text; the results themselves
// are rendered from the record.
func outcomeLine(calls []tools.Call, results []*tools.Result) string {
	ok := 0
	var failed []string
	for _, res := range results {
		if res.Success {
			ok++
		} else {
			failed = append(failed, calls[i].Name)
		}
	}
	line := fmt.Sprintf("%d of %d tool calls succeeded", ok, len(results))
	if len(failed) > 0 {
		line += "; failed: " + strings.Join(failed, ", ")
	}
	return line
}

func observe(rec budget.IterationRecord, results []*tools.Result) Observation {
	var sb strings.Builder
	sb.WriteString(rec.Observation)
	failed := false
	for _, cr := range rec.Results {
		status := "ok"
		if !cr.Success {
			status = "failed"
			failed = true
		}
		fmt.Fprintf(&sb, "\n- %s (%s): %s", cr.ToolName, status, cr.Summary)
	}
	return Observation{
		Summary:   sb.String(),
		Results:   results,
		Timestamp: time.Now(),
		Error:     failed,
	}
}

// fallbackResponse assembles an answer locally from the latest
// observations.
func fallbackResponse(obs []Observation) string {
	if len(obs) == 0 {
		return "I wasn't able to complete this request."
	}
	recent := obs[max(len(obs)-3, 0):]
	var sb strings.Builder
	sb.WriteString("I ran out of time before finishing. Here is what I found so far:")
	for _, o := range recent {
		sb.WriteString("\n\n")
		sb.WriteString(o.Summary)
	}
	return sb.String()
}

// currentMessage appends attachment references to the user's message.
func currentMessage(in Input) string {
	if len(in.Files) == 0 {
		return in.Message
	}
	var sb strings.Builder
	sb.WriteString(in.Message)
	sb.WriteString("\n\nAttached files:")
	for _, f := range in.Files {
		fmt.Fprintf(&sb, "\n- %s (%s) %s", f.Name, f.MimeType, f.URL)
	}
	return sb.String()
}

func language(in Input) string {
	if in.UserSettings == nil {
		return ""
	}
	return in.UserSettings.LanguagePreference
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
