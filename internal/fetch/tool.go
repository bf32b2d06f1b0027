package fetch

import (
	"context"
	"time"

	"github.com/nugget/whim-agent/internal/tools"
)

// ToolName is the name the fetch tool is registered under.
const ToolName = "web_fetch"

// DefaultMaxChars caps the text returned to the model per page.
const DefaultMaxChars = 50000

// toolCost is the estimated price of one call, dominated by keyed
// reader-service usage when the direct tier fails.
const toolCost = 0.0005

// ToolOutput is the Data of a successful web_fetch result.
type ToolOutput struct {
	URL              string     `json:"url"`
	Title            string     `json:"title,omitempty"`
	Content          string     `json:"content"`
	Source           Source     `json:"source"`
	Truncated        bool       `json:"truncated,omitempty"`
	Length           int        `json:"length"`
	ArchiveDate      *time.Time `json:"archive_date,omitempty"`
	ArchiveAgeInDays *int       `json:"archive_age_in_days,omitempty"`
}

// NewTool exposes the chain to the agent as web_fetch.
func NewTool(chain *Chain) *tools.Tool {
	return &tools.Tool{
		Name: ToolName,
		Description: "Fetch a web page and return its readable text. Falls back to a rendering service " +
			"and then to the Internet Archive when the site blocks or fails; archived results " +
			"report how old the snapshot is.",
		Parameters: []tools.Parameter{
			{Name: "url", Type: "string", Description: "URL to fetch", Required: true},
			{Name: "max_chars", Type: "integer", Description: "Maximum characters of text to return", Default: DefaultMaxChars},
		},
		EstimatedCost: toolCost,
		Handler: func(ctx context.Context, params map[string]any, _ tools.Context) (*tools.Result, error) {
			page, err := chain.FetchPageContent(ctx, tools.StringParam(params, "url"))
			if err != nil {
				return nil, err
			}

			maxChars := tools.IntParam(params, "max_chars", DefaultMaxChars)
			if maxChars <= 0 {
				maxChars = DefaultMaxChars
			}
			content, truncated := truncateRunes(page.CleanedText, maxChars)

			return tools.OK(&ToolOutput{
				URL:              page.URL,
				Title:            page.Title,
				Content:          content,
				Source:           page.Metadata.Source,
				Truncated:        truncated,
				Length:           len(content),
				ArchiveDate:      page.Metadata.ArchiveDate,
				ArchiveAgeInDays: page.Metadata.ArchiveAgeInDays,
			}), nil
		},
	}
}
