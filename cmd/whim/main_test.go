package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nugget/whim-agent/internal/agent"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRun_Dispatch(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantOut string
		wantErr string
	}{
		{"no args prints usage", nil, "Usage: whim", ""},
		{"help flag", []string{"--help"}, "Commands:", ""},
		{"version text", []string{"version"}, "git_commit:", ""},
		{"version json", []string{"-o", "json", "version"}, `"go_version"`, ""},
		{"unknown command", []string{"launch"}, "", "unknown command"},
		{"unknown flag", []string{"-v"}, "", "unknown flag"},
		{"bad output format", []string{"-o=yaml", "version"}, "", "unknown output format"},
		{"ask needs text", []string{"ask"}, "", "usage: whim ask"},
		{"fetch needs url", []string{"fetch"}, "", "usage: whim fetch"},
		{"missing config", []string{"-config", "/nonexistent/whim.yaml", "ask", "hi"}, "", "config file not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			err := run(context.Background(), &stdout, &stderr, tt.args)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(stdout.String(), tt.wantOut) {
				t.Errorf("stdout = %q, want containing %q", stdout.String(), tt.wantOut)
			}
		})
	}
}

func TestRunInit(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer

	if err := run(context.Background(), &out, &out, []string{"init", dir}); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "config.yaml")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("permissions = %o, want 0600", info.Mode().Perm())
	}

	os.WriteFile(path, []byte("# mine\n"), 0o600)
	out.Reset()
	if err := runInit(&out, dir); err != nil {
		t.Fatal(err)
	}
	if got, _ := os.ReadFile(path); string(got) != "# mine\n" {
		t.Error("init overwrote an existing config")
	}
}

func TestRunFetch(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><title>Field Notes</title></head><body><p>Herons nest in colonies.</p></body></html>`))
	}))
	defer site.Close()

	cfgPath := writeConfig(t, `
log_level: error
fetch:
  reader:
    disabled: true
  archive:
    disabled: true
`)

	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), &stdout, &stderr, []string{"-config", cfgPath, "fetch", site.URL}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout.String(), "# Field Notes") || !strings.Contains(stdout.String(), "Herons nest") {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestRunAsk_OpenAICompatible(t *testing.T) {
	var requests int
	llmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "local-model",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Hello there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`)
	}))
	defer llmServer.Close()

	cfgPath := writeConfig(t, fmt.Sprintf(`
log_level: error
data_dir: %s
models:
  main: local-model
  pro: ""
  available:
    - name: local-model
      provider: openai
openai:
  base_url: %s/v1
`, t.TempDir(), llmServer.URL))

	var stdout, stderr bytes.Buffer
	if err := run(context.Background(), &stdout, &stderr, []string{"-config", cfgPath, "-o", "json", "ask", "say", "hello"}); err != nil {
		t.Fatalf("ask: %v (stderr: %s)", err, stderr.String())
	}

	var out agent.Output
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode output %q: %v", stdout.String(), err)
	}
	if out.Response != "Hello there" || out.Iterations != 1 || out.TotalTokens != 15 {
		t.Errorf("output = %+v", out)
	}
	if out.TotalCost != 0 {
		t.Errorf("unpriced local model cost = %v, want 0", out.TotalCost)
	}
	if requests != 1 {
		t.Errorf("requests = %d, want 1", requests)
	}
}

func TestNewRouter_RequiresAnthropicKey(t *testing.T) {
	cfgPath := writeConfig(t, "log_level: error\n")
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), &stdout, &stderr, []string{"-config", cfgPath, "ask", "hi"})
	if err == nil || !strings.Contains(err.Error(), "anthropic.api_key") {
		t.Errorf("err = %v", err)
	}
}
