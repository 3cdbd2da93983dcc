package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func gatherValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) (float64, bool) {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			switch {
			case m.Counter != nil:
				return m.GetCounter().GetValue(), true
			case m.Gauge != nil:
				return m.GetGauge().GetValue(), true
			case m.Histogram != nil:
				return float64(m.GetHistogram().GetSampleCount()), true
			}
		}
	}
	return 0, false
}

func TestObserve(t *testing.T) {
	m := New()
	m.ObserveTool("cortex_query", 3*time.Millisecond, false)
	m.ObserveTool("cortex_query", time.Millisecond, true)
	m.ObserveRPC("http", "tools/call")
	m.ConnOpened("sse")
	m.ConnOpened("sse")
	m.ConnClosed("sse")
	m.AuthFailed("ws")
	m.CacheLookup(true)

	tests := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"cortex_tool_calls_total", map[string]string{"tool": "cortex_query", "outcome": "ok"}, 1},
		{"cortex_tool_calls_total", map[string]string{"tool": "cortex_query", "outcome": "error"}, 1},
		{"cortex_tool_duration_seconds", map[string]string{"tool": "cortex_query"}, 2},
		{"cortex_rpc_requests_total", map[string]string{"transport": "http"}, 1},
		{"cortex_connections", map[string]string{"transport": "sse"}, 1},
		{"cortex_auth_failures_total", map[string]string{"transport": "ws"}, 1},
		{"cortex_schema_cache_lookups_total", map[string]string{"result": "hit"}, 1},
	}
	for _, tt := range tests {
		got, ok := gatherValue(t, m.Registry(), tt.name, tt.labels)
		if !ok || got != tt.want {
			t.Errorf("%s%v = %v (found %v), want %v", tt.name, tt.labels, got, ok, tt.want)
		}
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveTool("x", 0, false)
	m.ObserveRPC("stdio", "ping")
	m.ConnOpened("ws")
	m.ConnClosed("ws")
	m.AuthFailed("http")
	m.CacheLookup(false)
}

func TestDatabaseCollector(t *testing.T) {
	m := New()
	err := m.Register(NewDatabaseCollector("app.ctx", func(context.Context) (DBStats, error) {
		return DBStats{PageCount: 10, PageSize: 4096, FreePages: 2, Tables: 3}, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := gatherValue(t, m.Registry(), "cortex_db_size_bytes", map[string]string{"path": "app.ctx"}); !ok || v != 40960 {
		t.Errorf("size_bytes = %v, %v", v, ok)
	}
	if v, _ := gatherValue(t, m.Registry(), "cortex_db_tables", nil); v != 3 {
		t.Errorf("tables = %v", v)
	}
}

func TestDatabaseCollectorError(t *testing.T) {
	m := New()
	m.Register(NewDatabaseCollector("bad.ctx", func(context.Context) (DBStats, error) {
		return DBStats{}, errors.New("closed")
	}))
	if _, ok := gatherValue(t, m.Registry(), "cortex_db_pages", nil); ok {
		t.Error("failed stats still produced samples")
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveRPC("stdio", "initialize")
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `cortex_rpc_requests_total{method="initialize",transport="stdio"} 1`) {
		t.Errorf("exposition missing rpc counter:\n%s", body)
	}
}
