package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveFetch("direct", "success", time.Second)
	m.ObserveCache("hit", 1)
	m.ObserveTool("web_fetch", true, time.Second)
	m.ObserveIteration()
	m.ObserveRun("response", 0.1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("nil handler status = %d, want 404", rec.Code)
	}
}

func TestObserve(t *testing.T) {
	m := New(nil)

	m.ObserveFetch("direct", "blocked", 10*time.Millisecond)
	m.ObserveFetch("direct", "blocked", 10*time.Millisecond)
	m.ObserveFetch("reader-service", "success", 10*time.Millisecond)
	m.ObserveCache("miss", 3)
	m.ObserveTool("web_fetch", false, time.Millisecond)
	m.ObserveIteration()
	m.ObserveRun("max_iterations", 0.02)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"direct blocked", testutil.ToFloat64(m.FetchAttempts.WithLabelValues("direct", "blocked")), 2},
		{"reader success", testutil.ToFloat64(m.FetchAttempts.WithLabelValues("reader-service", "success")), 1},
		{"cache miss", testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")), 1},
		{"cache size", testutil.ToFloat64(m.CacheSize), 3},
		{"tool error", testutil.ToFloat64(m.ToolCalls.WithLabelValues("web_fetch", "error")), 1},
		{"iterations", testutil.ToFloat64(m.Iterations), 1},
		{"runs", testutil.ToFloat64(m.Runs.WithLabelValues("max_iterations")), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestHandler(t *testing.T) {
	m := New(nil)
	m.ObserveIteration()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "whim_agent_iterations_total 1") {
		t.Errorf("exposition missing iterations counter:\n%s", body)
	}
}
