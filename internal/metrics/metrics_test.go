package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_RegistersOnCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.PricingsTotal.Add(3)
	m.SpotFetchTotal.WithLabelValues("live").Inc()
	m.ObserveTotals(1000, 1.5, 0.0001, 40, -120)

	if got := testutil.ToFloat64(m.PricingsTotal); got != 3 {
		t.Errorf("pricings: got %v", got)
	}
	if got := testutil.ToFloat64(m.PortfolioGreek.WithLabelValues("theta")); got != -120 {
		t.Errorf("theta gauge: got %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{"riskd_pricings_total", "riskd_spot_fetch_total", "riskd_portfolio"} {
		if !names[want] {
			t.Errorf("missing metric %s", want)
		}
	}
}

func TestFanoutMetrics_PerSubscriber(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.FanoutDropsTotal.WithLabelValues("engine").Inc()
	m.FanoutBacklog.WithLabelValues("engine").Set(0.75)
	m.FanoutBacklog.WithLabelValues("hub").Set(0)

	if got := testutil.ToFloat64(m.FanoutDropsTotal.WithLabelValues("engine")); got != 1 {
		t.Errorf("drops: got %v", got)
	}
	if got := testutil.ToFloat64(m.FanoutBacklog.WithLabelValues("engine")); got != 0.75 {
		t.Errorf("backlog: got %v", got)
	}
	if n := testutil.CollectAndCount(m.FanoutBacklog); n != 2 {
		t.Errorf("expected 2 backlog series, got %d", n)
	}
}

func TestHealthStatus_States(t *testing.T) {
	cases := []struct {
		name       string
		setup      func(h *HealthStatus)
		wantStatus string
		wantCode   int
	}{
		{"starting", func(h *HealthStatus) {
			h.RedisConnected, h.SQLiteOK = true, true
		}, "starting", http.StatusServiceUnavailable},
		{"healthy", func(h *HealthStatus) {
			h.RedisConnected, h.SQLiteOK = true, true
			h.SetSpot("live", time.Now())
			h.SetLastReportTime(time.Now())
		}, "healthy", http.StatusOK},
		{"fallback spot", func(h *HealthStatus) {
			h.RedisConnected, h.SQLiteOK = true, true
			h.SetSpot("fallback", time.Now())
			h.SetLastReportTime(time.Now())
		}, "degraded", http.StatusOK},
		{"redis down", func(h *HealthStatus) {
			h.SQLiteOK = true
			h.SetLastReportTime(time.Now())
		}, "degraded", http.StatusServiceUnavailable},
		{"both down", func(h *HealthStatus) {}, "unhealthy", http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealthStatus(true, true)
			tc.setup(h)
			snap, code := h.Snapshot()
			if snap.Status != tc.wantStatus || code != tc.wantCode {
				t.Errorf("got %s/%d, want %s/%d", snap.Status, code, tc.wantStatus, tc.wantCode)
			}
		})
	}
}

func TestHealthStatus_OptionalStoresIgnored(t *testing.T) {
	h := NewHealthStatus(false, false)
	h.SetSpot("live", time.Now())
	h.SetLastReportTime(time.Now())
	if snap, code := h.Snapshot(); snap.Status != "healthy" || code != http.StatusOK {
		t.Errorf("got %s/%d", snap.Status, code)
	}
}

func TestHealthStatus_ServeHTTP(t *testing.T) {
	h := NewHealthStatus(false, false)
	h.SetSpot("cache", time.Now())
	h.SetLastReportTime(time.Now())
	h.SetBreakerState("open")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var body Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.SpotSource != "cache" || body.BreakerState != "open" || body.Status != "degraded" {
		t.Errorf("unexpected body %+v", body)
	}
}
