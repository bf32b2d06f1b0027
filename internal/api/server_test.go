package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/whim-agent/internal/agent"
	"github.com/nugget/whim-agent/internal/fetch"
	"github.com/nugget/whim-agent/internal/llm"
	"github.com/nugget/whim-agent/internal/metrics"
)

type fakeRunner struct {
	mu     sync.Mutex
	out    *agent.Output
	err    error
	events []agent.Event
	delay  time.Duration
	cfgs   []agent.Config
	inputs []agent.Input
}

func (f *fakeRunner) record(cfg agent.Config, in agent.Input) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfgs = append(f.cfgs, cfg)
	f.inputs = append(f.inputs, in)
}

func (f *fakeRunner) Run(_ context.Context, cfg agent.Config, in agent.Input) (*agent.Output, error) {
	f.record(cfg, in)
	time.Sleep(f.delay)
	return f.out, f.err
}

func (f *fakeRunner) Stream(_ context.Context, cfg agent.Config, in agent.Input) <-chan agent.Event {
	f.record(cfg, in)
	ch := make(chan agent.Event, len(f.events))
	go func() {
		defer close(ch)
		time.Sleep(f.delay)
		for _, ev := range f.events {
			ch <- ev
		}
	}()
	return ch
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newTestServer(t *testing.T, s *Server) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHandleRun(t *testing.T) {
	runner := &fakeRunner{out: &agent.Output{Response: "It is sunny.", ToolsUsed: []string{"web_search"}, Iterations: 2}}
	srv := newTestServer(t, NewServer("", 0, runner, nil))

	resp := post(t, srv.URL+"/v1/agent/run",
		`{"message":"weather?","user_id":"u1","config":{"max_iterations":3,"style":"direct"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var out agent.Output
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Response != "It is sunny." || out.Iterations != 2 {
		t.Errorf("output = %+v", out)
	}

	cfg := runner.cfgs[0]
	if cfg.MaxIterations != 3 || cfg.Style != agent.StyleDirect || cfg.CostBudget != agent.DefaultConfig().CostBudget {
		t.Errorf("config = %+v", cfg)
	}
	if runner.inputs[0].UserID != "u1" {
		t.Errorf("input = %+v", runner.inputs[0])
	}
}

func TestHandleRun_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"bad json", `{`, nil, http.StatusBadRequest},
		{"no message", `{"message":""}`, nil, http.StatusBadRequest},
		{"bad style", `{"message":"hi","config":{"style":"eager"}}`, nil, http.StatusBadRequest},
		{"upstream", `{"message":"hi"}`, &llm.UpstreamError{Provider: "anthropic", StatusCode: 529, Message: "Overloaded"}, http.StatusBadGateway},
		{"wrapped upstream", `{"message":"hi"}`, errors.Join(errors.New("reasoning call failed"), &llm.UpstreamError{Provider: "openai"}), http.StatusBadGateway},
		{"deadline", `{"message":"hi"}`, context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", `{"message":"hi"}`, errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, NewServer("", 0, &fakeRunner{err: tt.err}, nil))
			resp := post(t, srv.URL+"/v1/agent/run", tt.body)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
}

func TestRunConfig(t *testing.T) {
	defaults := agent.DefaultConfig()

	tests := []struct {
		name     string
		override *agent.Config
		want     agent.Config
	}{
		{"nil keeps defaults", nil, defaults},
		{"zero fields keep defaults", &agent.Config{}, defaults},
		{
			"non-zero fields override",
			&agent.Config{MaxIterations: 2, CostBudget: 0.5, ModelTier: "pro", Tools: []string{"web_fetch"}},
			agent.Config{MaxIterations: 2, Style: defaults.Style, CostBudget: 0.5, ModelTier: "pro", Tools: []string{"web_fetch"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := runConfig(defaults, tt.override)
			if err != nil {
				t.Fatal(err)
			}
			if got.MaxIterations != tt.want.MaxIterations || got.CostBudget != tt.want.CostBudget ||
				got.ModelTier != tt.want.ModelTier || got.Style != tt.want.Style || len(got.Tools) != len(tt.want.Tools) {
				t.Errorf("runConfig() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestHandleStream(t *testing.T) {
	runner := &fakeRunner{events: []agent.Event{
		{Type: agent.EventReasoning, Content: "need to search", Iteration: 1},
		{Type: agent.EventToolCall, ToolName: "web_search", Iteration: 1},
		{Type: agent.EventResponse, Content: "done", Output: &agent.Output{Response: "done"}},
	}}
	srv := newTestServer(t, NewServer("", 0, runner, nil))

	resp := post(t, srv.URL+"/v1/agent/stream", `{"message":"hi"}`)
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	var names []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
			names = append(names, name)
		}
	}
	want := []string{"reasoning", "tool_call", "response"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", names, want)
	}
}

func TestHandleWebSocket(t *testing.T) {
	runner := &fakeRunner{events: []agent.Event{
		{Type: agent.EventReasoning, Content: "thinking"},
		{Type: agent.EventResponse, Content: "hello back"},
	}}
	srv := newTestServer(t, NewServer("", 0, runner, nil))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/agent/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"message": ""}); err != nil {
		t.Fatal(err)
	}
	var rejected agent.Event
	if err := conn.ReadJSON(&rejected); err != nil {
		t.Fatal(err)
	}
	if rejected.Type != agent.EventError || !strings.Contains(rejected.Content, "message is required") {
		t.Errorf("rejection = %+v", rejected)
	}

	if err := conn.WriteJSON(map[string]any{"message": "hello"}); err != nil {
		t.Fatal(err)
	}
	var got []agent.Event
	for {
		var ev agent.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatal(err)
		}
		got = append(got, ev)
		if ev.Terminal() {
			break
		}
	}
	if len(got) != 2 || got[1].Content != "hello back" {
		t.Errorf("events = %+v", got)
	}
}

func TestHandleWebSocket_RunOutlastsPongWait(t *testing.T) {
	runner := &fakeRunner{
		delay:  time.Second,
		events: []agent.Event{{Type: agent.EventResponse, Content: "slow answer"}},
	}
	s := NewServer("", 0, runner, nil)
	s.pongWait = 400 * time.Millisecond
	s.pingPeriod = 100 * time.Millisecond
	srv := newTestServer(t, s)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/agent/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	for run := 1; run <= 2; run++ {
		if err := conn.WriteJSON(map[string]any{"message": "take your time"}); err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		var ev agent.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if ev.Type != agent.EventResponse || ev.Content != "slow answer" {
			t.Errorf("run %d: event = %+v", run, ev)
		}
	}
}

func TestHandleWebSocket_ClientGoneEndsHandler(t *testing.T) {
	runner := &fakeRunner{
		delay:  200 * time.Millisecond,
		events: []agent.Event{{Type: agent.EventResponse, Content: "nobody listening"}},
	}
	s := NewServer("", 0, runner, nil)
	done := make(chan struct{})
	handler := s.Handler()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
		if strings.HasSuffix(r.URL.Path, "/ws") {
			close(done)
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/agent/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(map[string]any{"message": "hello"}); err != nil {
		t.Fatal(err)
	}
	conn.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("websocket handler did not return after the client went away")
	}
}

func TestHandleRun_OutlastsWriteTimeout(t *testing.T) {
	runner := &fakeRunner{
		delay: 300 * time.Millisecond,
		out:   &agent.Output{Response: "worth the wait", Iterations: 1},
	}
	srv := httptest.NewUnstartedServer(NewServer("", 0, runner, nil).Handler())
	srv.Config.WriteTimeout = 100 * time.Millisecond
	srv.Start()
	defer srv.Close()

	resp := post(t, srv.URL+"/v1/agent/run", `{"message":"hi"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out agent.Output
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Response != "worth the wait" {
		t.Errorf("response = %q", out.Response)
	}
}

type stubProvider struct {
	src fetch.Source
	err error
}

func (s stubProvider) Source() fetch.Source { return s.src }

func (s stubProvider) Fetch(context.Context, string) (*fetch.PageContent, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &fetch.PageContent{Title: "Example", CleanedText: "Example body", RawHTML: "<p>Example body</p>"}, nil
}

func TestHandleFetch(t *testing.T) {
	chain := fetch.NewChain(fetch.NewCache(10, 0), nil, stubProvider{src: fetch.SourceDirect})
	s := NewServer("", 0, &fakeRunner{}, nil)
	s.SetFetchChain(chain)
	srv := newTestServer(t, s)

	resp := post(t, srv.URL+"/v1/fetch", `{"url":"example.com"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var page fetch.PageContent
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatal(err)
	}
	if page.URL != "https://example.com" || page.Metadata.Source != fetch.SourceDirect || page.RawHTML != "" {
		t.Errorf("page = %+v", page)
	}

	stats, err := http.Get(srv.URL + "/v1/cache")
	if err != nil {
		t.Fatal(err)
	}
	defer stats.Body.Close()
	var cs fetch.CacheStats
	json.NewDecoder(stats.Body).Decode(&cs)
	if cs.Size != 1 || cs.MaxSize != 10 {
		t.Errorf("stats = %+v", cs)
	}

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/cache", nil)
	cleared, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	cleared.Body.Close()
	if cleared.StatusCode != http.StatusNoContent || chain.Cache().Stats().Size != 0 {
		t.Errorf("clear status = %d, size = %d", cleared.StatusCode, chain.Cache().Stats().Size)
	}
}

func TestHandleFetch_ChainExhausted(t *testing.T) {
	chain := fetch.NewChain(fetch.NewCache(10, 0), nil,
		stubProvider{src: fetch.SourceDirect, err: &fetch.FetchError{Source: fetch.SourceDirect, Kind: fetch.KindBlocked, StatusCode: 403, Err: errors.New("forbidden")}},
		stubProvider{src: fetch.SourceArchive, err: &fetch.FetchError{Source: fetch.SourceArchive, Kind: fetch.KindHTTPError, StatusCode: 404, Err: errors.New("no snapshot")}},
	)
	s := NewServer("", 0, &fakeRunner{}, nil)
	s.SetFetchChain(chain)
	srv := newTestServer(t, s)

	resp := post(t, srv.URL+"/v1/fetch", `{"url":"https://blocked.example"}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body FetchErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Kind != fetch.KindBlocked || len(body.Attempts) != 2 {
		t.Errorf("body = %+v", body)
	}

	bad := post(t, srv.URL+"/v1/fetch", `{"url":""}`)
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("empty url status = %d", bad.StatusCode)
	}
}

func TestFetchDisabled(t *testing.T) {
	srv := newTestServer(t, NewServer("", 0, &fakeRunner{}, nil))
	resp, err := http.Get(srv.URL + "/v1/cache")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name   string
		pinger Pinger
		status int
	}{
		{"no check", nil, http.StatusOK},
		{"healthy", fakePinger{}, http.StatusOK},
		{"provider down", fakePinger{err: errors.New("connection refused")}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer("", 0, &fakeRunner{}, nil)
			if tt.pinger != nil {
				s.SetHealthCheck(tt.pinger)
			}
			srv := newTestServer(t, s)
			resp, err := http.Get(srv.URL + "/health")
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := NewServer("", 0, &fakeRunner{}, nil)
	m := metrics.New(nil)
	m.ObserveIteration()
	s.SetMetrics(m)
	srv := newTestServer(t, s)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	scanner := bufio.NewScanner(resp.Body)
	found := false
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "whim_agent_iterations_total") {
			found = true
		}
	}
	if !found {
		t.Error("iteration counter not exposed")
	}
}
