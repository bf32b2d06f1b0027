package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/whim-agent/internal/metrics"
)

// Executor validates and runs tool calls against a registry. Nothing a
// tool does, including panicking, escapes Execute: every outcome is a
// *Result.
type Executor struct {
	registry    *Registry
	logger      *slog.Logger
	metrics     *metrics.Metrics
	maxParallel int
}

// NewExecutor creates an executor over reg.
func NewExecutor(reg *Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: reg,
		logger:   logger.With("component", "tools"),
	}
}

// SetMetrics attaches instrumentation.
func (e *Executor) SetMetrics(m *metrics.Metrics) { e.metrics = m }

// SetMaxParallel bounds how many calls ExecuteAll runs at once. Zero or
// less means unbounded.
func (e *Executor) SetMaxParallel(n int) { e.maxParallel = n }

// Registry returns the registry calls are resolved against.
func (e *Executor) Registry() *Registry { return e.registry }

// WithRegistry returns a copy of the executor bound to reg, used to run
// a request against a filtered tool set.
func (e *Executor) WithRegistry(reg *Registry) *Executor {
	cp := *e
	cp.registry = reg
	return &cp
}

// Execute runs a single call. Unknown tools and invalid parameters fail
// without invoking any handler.
func (e *Executor) Execute(ctx context.Context, call Call, tc Context) *Result {
	start := time.Now()

	tool, err := e.registry.Get(call.Name)
	if err != nil {
		return e.finish(call, Fail("%s", err.Error()), start, 0)
	}

	params, err := Validate(tool.Parameters, call.Params)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			ve.Tool = tool.Name
		}
		return e.finish(call, Fail("%s", err.Error()), start, 0)
	}

	res := e.invoke(ctx, tool, params, tc)
	return e.finish(call, res, start, tool.EstimatedCost)
}

// ExecuteAll runs calls concurrently and returns one result per call in
// the same order. A failing call never cancels its siblings, so the
// group deliberately has no shared context.
func (e *Executor) ExecuteAll(ctx context.Context, calls []Call, tc Context) []*Result {
	results := make([]*Result, len(calls))

	var g errgroup.Group
	if e.maxParallel > 0 {
		g.SetLimit(e.maxParallel)
	}
	for i, call := range calls {
		g.Go(func() error {
			results[i] = e.Execute(ctx, call, tc)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (e *Executor) invoke(ctx context.Context, tool *Tool, params map[string]any, tc Context) (res *Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tool panicked",
				"tool", tool.Name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			res = Fail("tool %s panicked: %v", tool.Name, r)
		}
	}()

	if tool.Handler == nil {
		return Fail("tool %s has no handler", tool.Name)
	}

	res, err := tool.Handler(ctx, params, tc)
	if err != nil {
		return &Result{Error: err.Error()}
	}
	if res == nil {
		return &Result{Success: true}
	}
	return res
}

// finish stamps metadata and records the outcome. defaultCost is
// charged only when the handler ran and did not price the call itself.
func (e *Executor) finish(call Call, res *Result, start time.Time, defaultCost float64) *Result {
	res.Metadata.ExecutionTime = time.Since(start)
	if res.Metadata.Cost == 0 {
		res.Metadata.Cost = defaultCost
	}

	e.metrics.ObserveTool(call.Name, res.Success, res.Metadata.ExecutionTime)

	level := slog.LevelDebug
	if !res.Success {
		level = slog.LevelWarn
	}
	e.logger.Log(context.Background(), level, "tool executed",
		"tool", call.Name,
		"success", res.Success,
		"elapsed", res.Metadata.ExecutionTime.Round(time.Millisecond),
		"cost", res.Metadata.Cost,
		"error", res.Error,
	)
	return res
}

// BudgetExceeded builds the result substituted for a call that was
// skipped because it would not fit the remaining budget.
func BudgetExceeded(call Call, estimate, remaining float64, cause error) *Result {
	return &Result{
		Error: fmt.Sprintf("%v: %s needs ~$%.4f, $%.4f remaining", cause, call.Name, estimate, remaining),
	}
}
