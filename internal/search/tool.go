package search

import (
	"context"

	"github.com/nugget/whim-agent/internal/tools"
)

// ToolName is the name the agent calls web search by.
const ToolName = "web_search"

const maxCount = 10

// NewTool exposes mgr as the web_search tool. Its Data is a
// []tools.SearchHit.
func NewTool(mgr *Manager) *tools.Tool {
	return &tools.Tool{
		Name:        ToolName,
		Description: "Search the web. Returns titles, URLs and snippets; use web_fetch to read a result in full.",
		Parameters: []tools.Parameter{
			{Name: "query", Type: "string", Description: "The search query.", Required: true},
			{Name: "count", Type: "integer", Description: "Maximum number of results (1-10).", Default: DefaultCount},
			{Name: "language", Type: "string", Description: "ISO 639-1 language code for results (e.g., 'en', 'de')."},
		},
		Handler: func(ctx context.Context, params map[string]any, tc tools.Context) (*tools.Result, error) {
			query := tools.StringParam(params, "query")
			if query == "" {
				return tools.Fail("query must not be empty"), nil
			}

			opts := Options{
				Count:    min(max(tools.IntParam(params, "count", DefaultCount), 1), maxCount),
				Language: tools.StringParam(params, "language"),
			}
			if opts.Language == "" && len(tc.Language) == 2 {
				opts.Language = tc.Language
			}

			hits, err := mgr.Search(ctx, query, opts)
			if err != nil {
				return nil, err
			}
			return tools.OK(hits), nil
		},
	}
}
