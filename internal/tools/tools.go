// Package tools defines the tool contract, the registry the agent
// resolves tool names against, and the executor that runs calls.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Handler implements a tool. params have already been validated and
// defaulted. A returned error becomes a failed Result; a nil Result
// with a nil error counts as success without data.
type Handler func(ctx context.Context, params map[string]any, tc Context) (*Result, error)

// Parameter declares one named input of a tool.
type Parameter struct {
	Name        string
	Type        string // string, number, integer, boolean, array, object
	Description string
	Required    bool
	Enum        []string
	Default     any
}

// Tool is a named capability the agent may invoke.
type Tool struct {
	Name        string
	Description string
	Parameters  []Parameter

	// EstimatedCost is the expected USD cost of one call. The loop uses
	// it to decide whether a call fits the remaining budget, and the
	// executor reports it when the handler does not price itself.
	EstimatedCost float64

	Handler Handler
}

// Call is one tool invocation requested by the model.
type Call struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Params    map[string]any `json:"params"`
	Reasoning string         `json:"reasoning,omitempty"`
}

// Metadata is recorded for every call, successful or not.
type Metadata struct {
	ExecutionTime time.Duration
	Cost          float64
	TokensUsed    int
}

// MarshalJSON renders the execution time in milliseconds.
func (m Metadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ExecutionTimeMS int64   `json:"execution_time_ms"`
		Cost            float64 `json:"cost"`
		TokensUsed      int     `json:"tokens_used"`
	}{m.ExecutionTime.Milliseconds(), m.Cost, m.TokensUsed})
}

// Result is the outcome of a call.
type Result struct {
	Success  bool     `json:"success"`
	Data     any      `json:"data,omitempty"`
	Error    string   `json:"error,omitempty"`
	Metadata Metadata `json:"metadata"`
}

// OK returns a successful result carrying data.
func OK(data any) *Result {
	return &Result{Success: true, Data: data}
}

// Fail returns a failed result with a formatted message.
func Fail(format string, args ...any) *Result {
	return &Result{Error: fmt.Sprintf(format, args...)}
}

// SavedMemory is the Data shape returned by tools that persist a
// memory. The agent reports the keys back to the caller.
type SavedMemory struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// SearchHit is one entry of the Data slice returned by web search.
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Definition is the function declaration presented to the model.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Schema renders the tool's parameters as a JSON schema object.
func (t *Tool) Schema() map[string]any {
	props := make(map[string]any, len(t.Parameters))
	required := []string{}
	for _, p := range t.Parameters {
		prop := map[string]any{"type": p.Type}
		if p.Type == "" {
			prop["type"] = "string"
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Registry holds the available tools. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Get returns the named tool or *ErrToolUnavailable.
func (r *Registry) Get(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, &ErrToolUnavailable{ToolName: name}
	}
	return t, nil
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns function declarations for every tool, sorted by
// name so prompts are stable across calls.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, Definition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Schema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// FilteredCopy returns a registry holding only the named tools. Names
// that are not registered are skipped.
func (r *Registry) FilteredCopy(include []string) *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := NewRegistry()
	for _, name := range include {
		if t, ok := r.tools[name]; ok {
			out.tools[name] = t
		}
	}
	return out
}

// FilteredCopyExcluding returns a registry holding every tool except
// the named ones.
func (r *Registry) FilteredCopyExcluding(exclude []string) *Registry {
	skip := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		skip[name] = true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := NewRegistry()
	for name, t := range r.tools {
		if !skip[name] {
			out.tools[name] = t
		}
	}
	return out
}
