package tools

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func echoTool(name string) *Tool {
	return &Tool{
		Name:        name,
		Description: "Tool " + name,
		Handler: func(context.Context, map[string]any, Context) (*Result, error) {
			return OK(name + "-result"), nil
		},
	}
}

func newTestRegistry() *Registry {
	r := NewRegistry()
	r.Register(echoTool("alpha"))
	r.Register(echoTool("beta"))
	r.Register(echoTool("gamma"))
	return r
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := newTestRegistry()

	if _, err := r.Get("alpha"); err != nil {
		t.Fatalf("Get(alpha) error: %v", err)
	}

	_, err := r.Get("delta")
	var unavail *ErrToolUnavailable
	if !errors.As(err, &unavail) || unavail.ToolName != "delta" {
		t.Fatalf("Get(delta) error = %v, want *ErrToolUnavailable", err)
	}
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := newTestRegistry()
	r.Register(&Tool{Name: "alpha", Description: "replacement"})

	tool, _ := r.Get("alpha")
	if tool.Description != "replacement" {
		t.Errorf("Description = %q, want replacement", tool.Description)
	}
	if got := len(r.Names()); got != 3 {
		t.Errorf("len(Names()) = %d, want 3", got)
	}
}

func TestRegistry_Filtering(t *testing.T) {
	r := newTestRegistry()

	tests := []struct {
		name string
		reg  *Registry
		want []string
	}{
		{"include subset", r.FilteredCopy([]string{"gamma", "alpha"}), []string{"alpha", "gamma"}},
		{"include skips unknown", r.FilteredCopy([]string{"alpha", "nope"}), []string{"alpha"}},
		{"include empty", r.FilteredCopy(nil), []string{}},
		{"exclude one", r.FilteredCopyExcluding([]string{"beta"}), []string{"alpha", "gamma"}},
		{"exclude unknown", r.FilteredCopyExcluding([]string{"nope"}), []string{"alpha", "beta", "gamma"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.reg.Names(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Names() = %v, want %v", got, tt.want)
			}
		})
	}

	// The source registry is untouched by filtering.
	if got := len(r.Names()); got != 3 {
		t.Errorf("source registry changed: %d tools", got)
	}
}

func TestDefinitions_Schema(t *testing.T) {
	r := NewRegistry()
	r.Register(&Tool{
		Name:        "web_fetch",
		Description: "Fetch a page",
		Parameters: []Parameter{
			{Name: "url", Type: "string", Description: "Page URL", Required: true},
			{Name: "mode", Type: "string", Enum: []string{"text", "html"}, Default: "text"},
		},
	})
	r.Register(echoTool("aaa"))

	defs := r.Definitions()
	if len(defs) != 2 || defs[0].Name != "aaa" || defs[1].Name != "web_fetch" {
		t.Fatalf("Definitions() order = %+v", defs)
	}

	raw, err := json.Marshal(defs[1].Parameters)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`"type":"object"`,
		`"required":["url"]`,
		`"enum":["text","html"]`,
		`"default":"text"`,
		`"description":"Page URL"`,
	} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("schema missing %s: %s", want, raw)
		}
	}

	// Tools without parameters still advertise an empty required list,
	// which some providers insist on.
	raw, _ = json.Marshal(defs[0].Parameters)
	if !strings.Contains(string(raw), `"required":[]`) {
		t.Errorf("empty schema = %s", raw)
	}
}

func TestResult_JSON(t *testing.T) {
	res := OK("data")
	res.Metadata = Metadata{ExecutionTime: 1500 * time.Millisecond, Cost: 0.01, TokensUsed: 12}

	raw, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"success":true,"data":"data","metadata":{"execution_time_ms":1500,"cost":0.01,"tokens_used":12}}`
	if string(raw) != want {
		t.Errorf("json = %s, want %s", raw, want)
	}
}

func TestFail(t *testing.T) {
	res := Fail("bad %s", "thing")
	if res.Success || res.Error != "bad thing" {
		t.Errorf("Fail() = %+v", res)
	}
}
