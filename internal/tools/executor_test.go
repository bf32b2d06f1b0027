package tools

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestExecutor(tools ...*Tool) *Executor {
	r := NewRegistry()
	for _, t := range tools {
		r.Register(t)
	}
	return NewExecutor(r, nil)
}

func TestExecute(t *testing.T) {
	var invoked atomic.Int32

	exec := newTestExecutor(
		&Tool{
			Name:          "ok",
			EstimatedCost: 0.002,
			Parameters:    []Parameter{{Name: "q", Type: "string", Required: true}},
			Handler: func(_ context.Context, p map[string]any, tc Context) (*Result, error) {
				invoked.Add(1)
				return OK(p["q"].(string) + "/" + tc.ModelTier), nil
			},
		},
		&Tool{
			Name:          "priced",
			EstimatedCost: 0.002,
			Handler: func(context.Context, map[string]any, Context) (*Result, error) {
				return &Result{Success: true, Metadata: Metadata{Cost: 0.5, TokensUsed: 40}}, nil
			},
		},
		&Tool{
			Name:          "fails",
			EstimatedCost: 0.001,
			Handler: func(context.Context, map[string]any, Context) (*Result, error) {
				return nil, errors.New("upstream said no")
			},
		},
		&Tool{
			Name: "panics",
			Handler: func(context.Context, map[string]any, Context) (*Result, error) {
				panic("kaboom")
			},
		},
		&Tool{
			Name: "silent",
			Handler: func(context.Context, map[string]any, Context) (*Result, error) {
				return nil, nil
			},
		},
	)

	tests := []struct {
		name        string
		call        Call
		wantSuccess bool
		wantErr     string
		wantData    any
		wantCost    float64
		wantTokens  int
	}{
		{"success", Call{Name: "ok", Params: map[string]any{"q": "hi"}}, true, "", "hi/pro", 0.002, 0},
		{"handler priced", Call{Name: "priced"}, true, "", nil, 0.5, 40},
		{"unknown tool", Call{Name: "missing"}, false, "unknown tool: missing", nil, 0, 0},
		{"validation", Call{Name: "ok", Params: map[string]any{}}, false, `ok: invalid parameter "q"`, nil, 0, 0},
		{"handler error", Call{Name: "fails"}, false, "upstream said no", nil, 0.001, 0},
		{"panic", Call{Name: "panics"}, false, "panicked: kaboom", nil, 0, 0},
		{"nil result", Call{Name: "silent"}, true, "", nil, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := exec.Execute(context.Background(), tt.call, Context{ModelTier: "pro"})
			if res.Success != tt.wantSuccess {
				t.Fatalf("Success = %v, want %v (error %q)", res.Success, tt.wantSuccess, res.Error)
			}
			if tt.wantErr != "" && !strings.Contains(res.Error, tt.wantErr) {
				t.Errorf("Error = %q, want substring %q", res.Error, tt.wantErr)
			}
			if tt.wantData != nil && res.Data != tt.wantData {
				t.Errorf("Data = %v, want %v", res.Data, tt.wantData)
			}
			if res.Metadata.Cost != tt.wantCost {
				t.Errorf("Cost = %v, want %v", res.Metadata.Cost, tt.wantCost)
			}
			if res.Metadata.TokensUsed != tt.wantTokens {
				t.Errorf("TokensUsed = %d, want %d", res.Metadata.TokensUsed, tt.wantTokens)
			}
			if res.Metadata.ExecutionTime < 0 {
				t.Errorf("ExecutionTime = %v", res.Metadata.ExecutionTime)
			}
		})
	}

	if n := invoked.Load(); n != 1 {
		t.Errorf("ok handler invoked %d times, want 1 (validation must not invoke)", n)
	}
}

func TestExecuteAll_ConcurrentOrderedPartialFailure(t *testing.T) {
	// Both sleepers must be running at the same time for the barrier
	// to release; a sequential executor would deadlock into the timeout.
	var barrier sync.WaitGroup
	barrier.Add(2)
	sleeper := func(name string) *Tool {
		return &Tool{
			Name: name,
			Handler: func(context.Context, map[string]any, Context) (*Result, error) {
				barrier.Done()
				done := make(chan struct{})
				go func() { barrier.Wait(); close(done) }()
				select {
				case <-done:
				case <-time.After(2 * time.Second):
					return nil, errors.New("siblings did not run concurrently")
				}
				return OK(name), nil
			},
		}
	}

	exec := newTestExecutor(sleeper("one"), sleeper("two"), &Tool{
		Name: "boom",
		Handler: func(context.Context, map[string]any, Context) (*Result, error) {
			return nil, errors.New("boom")
		},
	})

	calls := []Call{{Name: "one"}, {Name: "boom"}, {Name: "nope"}, {Name: "two"}}
	results := exec.ExecuteAll(context.Background(), calls, Context{})

	if len(results) != len(calls) {
		t.Fatalf("got %d results, want %d", len(results), len(calls))
	}
	if !results[0].Success || results[0].Data != "one" {
		t.Errorf("results[0] = %+v", results[0])
	}
	if results[1].Success || results[1].Error != "boom" {
		t.Errorf("results[1] = %+v", results[1])
	}
	if results[2].Success || results[2].Error != "unknown tool: nope" {
		t.Errorf("results[2] = %+v", results[2])
	}
	if !results[3].Success || results[3].Data != "two" {
		t.Errorf("results[3] = %+v", results[3])
	}
}

func TestExecuteAll_RespectsLimit(t *testing.T) {
	var running, peak atomic.Int32
	tool := &Tool{
		Name: "slow",
		Handler: func(context.Context, map[string]any, Context) (*Result, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
			return OK(nil), nil
		},
	}

	exec := newTestExecutor(tool)
	exec.SetMaxParallel(2)
	calls := make([]Call, 6)
	for i := range calls {
		calls[i] = Call{Name: "slow"}
	}
	exec.ExecuteAll(context.Background(), calls, Context{})

	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", p)
	}
}

func TestWithRegistry(t *testing.T) {
	exec := newTestExecutor(echoTool("alpha"), echoTool("beta"))
	narrowed := exec.WithRegistry(exec.Registry().FilteredCopy([]string{"alpha"}))

	if res := narrowed.Execute(context.Background(), Call{Name: "beta"}, Context{}); res.Success {
		t.Error("filtered executor ran excluded tool")
	}
	if res := exec.Execute(context.Background(), Call{Name: "beta"}, Context{}); !res.Success {
		t.Errorf("original executor lost tool: %s", res.Error)
	}
}

func TestBudgetExceeded(t *testing.T) {
	cause := errors.New("cost budget exceeded")
	res := BudgetExceeded(Call{Name: "web_fetch"}, 0.05, 0.01, cause)
	if res.Success {
		t.Fatal("budget-exceeded result reported success")
	}
	if !strings.HasPrefix(res.Error, "cost budget exceeded: web_fetch") {
		t.Errorf("Error = %q", res.Error)
	}
}
