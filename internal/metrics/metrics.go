package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the risk service.
type Metrics struct {
	PricingsTotal    prometheus.Counter
	AggregateDur     prometheus.Histogram
	StressDur        prometheus.Histogram
	ReportsTotal     prometheus.Counter
	ReportErrors     prometheus.Counter
	LimitBreaches    *prometheus.CounterVec // labels: limit
	PortfolioGreek   *prometheus.GaugeVec   // labels: greek (value, delta, gamma, vega, theta)
	ExplainResidual  prometheus.Gauge
	JournalCommitDur prometheus.Histogram

	// Spot resolution
	SpotFetchTotal *prometheus.CounterVec // labels: source
	SpotFallback   prometheus.Gauge       // 1 while the last quote was not live
	BreakerState   prometheus.Gauge       // 0=closed, 1=open, 2=half-open
	BreakerTrips   prometheus.Counter

	// Dashboard push
	WSClients        prometheus.Gauge
	FanoutDropsTotal *prometheus.CounterVec // labels: subscriber
	FanoutBacklog    *prometheus.GaugeVec   // labels: subscriber; queued/capacity
}

// Greek label values for PortfolioGreek.
var greekLabels = []string{"value", "delta", "gamma", "vega", "theta"}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// uses the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		PricingsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskd_pricings_total",
			Help: "Total single-contract Black-Scholes evaluations",
		}),
		AggregateDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "riskd_aggregate_duration_seconds",
			Help:    "Portfolio aggregation latency",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}),
		StressDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "riskd_stress_duration_seconds",
			Help:    "Stress sweep latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		ReportsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskd_reports_total",
			Help: "Total risk reports computed",
		}),
		ReportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskd_report_errors_total",
			Help: "Risk report computations that failed",
		}),
		LimitBreaches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskd_limit_breaches_total",
			Help: "Risk limit breaches detected (by limit)",
		}, []string{"limit"}),
		PortfolioGreek: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "riskd_portfolio",
			Help: "Latest portfolio value and Greeks",
		}, []string{"greek"}),
		ExplainResidual: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "riskd_explain_residual",
			Help: "Full-reprice PnL minus Taylor-explained PnL for the configured move",
		}),
		JournalCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "riskd_journal_commit_duration_seconds",
			Help:    "SQLite report journal write latency",
			Buckets: prometheus.DefBuckets,
		}),

		SpotFetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskd_spot_fetch_total",
			Help: "Spot resolutions (by source: live, cache, fallback)",
		}, []string{"source"}),
		SpotFallback: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "riskd_spot_fallback",
			Help: "1 when the current spot did not come from the live provider",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "riskd_breaker_state",
			Help: "Spot provider circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		BreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "riskd_breaker_trips_total",
			Help: "Times the spot provider circuit breaker opened",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "riskd_ws_clients",
			Help: "Connected dashboard WebSocket clients",
		}),
		FanoutDropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "riskd_fanout_drops_total",
			Help: "Spot quotes dropped by the fan-out bus per subscriber",
		}, []string{"subscriber"}),
		FanoutBacklog: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "riskd_fanout_backlog_ratio",
			Help: "Queued spot quotes over queue capacity per fan-out subscriber",
		}, []string{"subscriber"}),
	}

	reg.MustRegister(
		m.PricingsTotal,
		m.AggregateDur,
		m.StressDur,
		m.ReportsTotal,
		m.ReportErrors,
		m.LimitBreaches,
		m.PortfolioGreek,
		m.ExplainResidual,
		m.JournalCommitDur,
		m.SpotFetchTotal,
		m.SpotFallback,
		m.BreakerState,
		m.BreakerTrips,
		m.WSClients,
		m.FanoutDropsTotal,
		m.FanoutBacklog,
	)

	return m
}

// ObserveTotals sets the portfolio gauges.
func (m *Metrics) ObserveTotals(value, delta, gamma, vega, theta float64) {
	for i, v := range []float64{value, delta, gamma, vega, theta} {
		m.PortfolioGreek.WithLabelValues(greekLabels[i]).Set(v)
	}
}

// HealthStatus represents the service health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisRequired  bool `json:"-"`
	SQLiteRequired bool `json:"-"`

	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	SpotSource     string    `json:"spot_source"`
	LastSpotTime   time.Time `json:"last_spot_time"`
	LastReportTime time.Time `json:"last_report_time"`
	BreakerState   string    `json:"breaker_state"`

	// Liveness check results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status. Only required
// dependencies count against overall health.
func NewHealthStatus(redisRequired, sqliteRequired bool) *HealthStatus {
	return &HealthStatus{
		RedisRequired:  redisRequired,
		SQLiteRequired: sqliteRequired,
		BreakerState:   "closed",
		StartedAt:      time.Now(),
	}
}

func (h *HealthStatus) SetSpot(source string, at time.Time) {
	h.mu.Lock()
	h.SpotSource = source
	h.LastSpotTime = at
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastReportTime(t time.Time) {
	h.mu.Lock()
	h.LastReportTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetBreakerState(s string) {
	h.mu.Lock()
	h.BreakerState = s
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the journal database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Nil handles are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(checkCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(checkCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// Snapshot is the JSON body served by ServeHTTP.
type Snapshot struct {
	Status          string  `json:"status"`
	Uptime          string  `json:"uptime"`
	SpotSource      string  `json:"spot_source"`
	SpotAge         string  `json:"spot_age"`
	LastReportTime  string  `json:"last_report_time"`
	BreakerState    string  `json:"breaker_state"`
	RedisConnected  bool    `json:"redis_connected"`
	RedisLatencyMs  float64 `json:"redis_latency_ms"`
	SQLiteOK        bool    `json:"sqlite_ok"`
	SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
	LastCheckAt     string  `json:"last_check_at"`
}

// Snapshot evaluates overall status. A non-live spot or a failed required
// store is "degraded"; no report computed yet is "starting"; both required
// stores down is "unhealthy".
func (h *HealthStatus) Snapshot() (Snapshot, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status := "healthy"
	code := http.StatusOK

	redisDown := h.RedisRequired && !h.RedisConnected
	sqliteDown := h.SQLiteRequired && !h.SQLiteOK

	switch {
	case redisDown && sqliteDown:
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	case redisDown || sqliteDown:
		status = "degraded"
		code = http.StatusServiceUnavailable
	case h.LastReportTime.IsZero():
		status = "starting"
		code = http.StatusServiceUnavailable
	case h.SpotSource != "live":
		// Pricing still works off cache/fallback spot.
		status = "degraded"
	}

	spotAge := ""
	if !h.LastSpotTime.IsZero() {
		spotAge = time.Since(h.LastSpotTime).Round(time.Millisecond).String()
	}
	lastReport := ""
	if !h.LastReportTime.IsZero() {
		lastReport = h.LastReportTime.Format(time.RFC3339)
	}

	return Snapshot{
		Status:          status,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		SpotSource:      h.SpotSource,
		SpotAge:         spotAge,
		LastReportTime:  lastReport,
		BreakerState:    h.BreakerState,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}, code
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snap, code := h.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(snap)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
