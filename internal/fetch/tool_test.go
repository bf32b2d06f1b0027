package fetch

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nugget/whim-agent/internal/tools"
)

func TestTool(t *testing.T) {
	archive := &stubProvider{src: SourceArchive, text: strings.Repeat("abc ", 100)}
	chain := NewChain(nil, nil, failStub(SourceDirect, KindBlocked), failStub(SourceReader, KindTimeout), archive)

	reg := tools.NewRegistry()
	reg.Register(NewTool(chain))
	exec := tools.NewExecutor(reg, nil)

	res := exec.Execute(context.Background(), tools.Call{
		Name:   ToolName,
		Params: map[string]any{"url": "example.com", "max_chars": float64(10)},
	}, tools.Context{})
	if !res.Success {
		t.Fatalf("web_fetch failed: %s", res.Error)
	}

	out := res.Data.(*ToolOutput)
	if out.Source != SourceArchive || !out.Truncated || out.Content != "abc abc ab" {
		t.Errorf("output = %+v", out)
	}
	if res.Metadata.Cost != toolCost {
		t.Errorf("Cost = %v, want %v", res.Metadata.Cost, toolCost)
	}
}

func TestTool_ChainFailureBecomesFailedResult(t *testing.T) {
	chain := NewChain(nil, nil, &stubProvider{src: SourceDirect, err: &FetchError{Kind: KindBlocked, StatusCode: 402, Paywall: true}})

	reg := tools.NewRegistry()
	reg.Register(NewTool(chain))
	res := tools.NewExecutor(reg, nil).Execute(context.Background(), tools.Call{
		Name:   ToolName,
		Params: map[string]any{"url": "https://paywalled.example"},
	}, tools.Context{})

	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Error, "paywall") {
		t.Errorf("Error = %q, want paywall message", res.Error)
	}
}

func TestTool_ArchiveFieldsPassThrough(t *testing.T) {
	date := time.Date(2023, 6, 15, 12, 0, 0, 0, time.UTC)
	age := 3
	chain := NewChain(nil, nil)
	chain.Cache().Set("https://cached.example", &PageContent{
		URL:         "https://cached.example",
		CleanedText: "cached",
		Metadata:    Metadata{Source: SourceArchive, ArchiveDate: &date, ArchiveAgeInDays: &age},
	}, 0)

	res, err := NewTool(chain).Handler(context.Background(), map[string]any{"url": "https://cached.example"}, tools.Context{})
	if err != nil {
		t.Fatal(err)
	}
	out := res.Data.(*ToolOutput)
	if out.ArchiveAgeInDays == nil || *out.ArchiveAgeInDays != 3 || !out.ArchiveDate.Equal(date) {
		t.Errorf("archive fields lost: %+v", out)
	}
	if out.Truncated || out.Content != "cached" {
		t.Errorf("output = %+v", out)
	}
}
