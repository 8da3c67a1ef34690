package singleton

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics manages Prometheus metrics for a group. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	group    string
	nodeID   string
	logger   *slog.Logger
	registry *prometheus.Registry
	server   *http.Server

	Owner             *prometheus.GaugeVec
	ClaimsTotal       *prometheus.CounterVec
	ClaimDuration     *prometheus.HistogramVec
	ConflictsTotal    *prometheus.CounterVec
	FailoversTotal    *prometheus.CounterVec
	ChildRestarts     *prometheus.CounterVec
	TerminationsTotal *prometheus.CounterVec
}

// NewMetrics creates a metrics manager for the group. A nil logger
// falls back to slog.Default().
func NewMetrics(group, nodeID string, logger *slog.Logger) *Metrics {
	if logger == nil {
		logger = slog.Default()
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		group:    group,
		nodeID:   nodeID,
		logger:   logger.With("component", "metrics", "group", group, "node", nodeID),
		registry: registry,

		Owner: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gs_owner",
			Help: "1 if this node owns the singleton key",
		}, []string{"group", "node", "key"}),

		ClaimsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gs_claims_total",
			Help: "Claim attempts by result",
		}, []string{"group", "node", "key", "result"}),

		ClaimDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gs_claim_duration_seconds",
			Help:    "Claim attempt latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}, []string{"group", "key"}),

		ConflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gs_conflicts_total",
			Help: "Name conflicts lost by this node",
		}, []string{"group", "node", "key"}),

		FailoversTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gs_failovers_total",
			Help: "Re-claim races entered after abnormal owner loss",
		}, []string{"group", "node", "key"}),

		ChildRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gs_child_restarts_total",
			Help: "Coordinator restarts performed by the supervisor",
		}, []string{"group", "node", "key"}),

		TerminationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gs_terminations_total",
			Help: "Coordinator terminations by reason",
		}, []string{"group", "node", "key", "reason"}),
	}

	registry.MustRegister(
		m.Owner,
		m.ClaimsTotal,
		m.ClaimDuration,
		m.ConflictsTotal,
		m.FailoversTotal,
		m.ChildRestarts,
		m.TerminationsTotal,
	)

	return m
}

// Start serves the metrics endpoint on addr. Empty addr disables the
// server.
func (m *Metrics) Start(ctx context.Context, addr string) error {
	if m == nil || addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	m.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()

	return nil
}

// Stop shuts down the metrics server if one was started.
func (m *Metrics) Stop(ctx context.Context) {
	if m == nil || m.server == nil {
		return
	}
	_ = m.server.Shutdown(ctx)
}

// SetOwner records whether this node owns key.
func (m *Metrics) SetOwner(key string, owner bool) {
	if m == nil {
		return
	}
	v := 0.0
	if owner {
		v = 1.0
	}
	m.Owner.WithLabelValues(m.group, m.nodeID, key).Set(v)
}

// ObserveClaim records one claim attempt.
func (m *Metrics) ObserveClaim(key, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.ClaimsTotal.WithLabelValues(m.group, m.nodeID, key, result).Inc()
	m.ClaimDuration.WithLabelValues(m.group, key).Observe(d.Seconds())
}

// IncConflict records a lost name conflict.
func (m *Metrics) IncConflict(key string) {
	if m == nil {
		return
	}
	m.ConflictsTotal.WithLabelValues(m.group, m.nodeID, key).Inc()
}

// IncFailover records entry into a failover re-claim race.
func (m *Metrics) IncFailover(key string) {
	if m == nil {
		return
	}
	m.FailoversTotal.WithLabelValues(m.group, m.nodeID, key).Inc()
}

// IncChildRestart records a supervisor restart.
func (m *Metrics) IncChildRestart(key string) {
	if m == nil {
		return
	}
	m.ChildRestarts.WithLabelValues(m.group, m.nodeID, key).Inc()
}

// IncTermination records a coordinator termination by reason.
func (m *Metrics) IncTermination(key string, reason Reason) {
	if m == nil {
		return
	}
	m.TerminationsTotal.WithLabelValues(m.group, m.nodeID, key, reason.String()).Inc()
}

// Registry exposes the underlying registry for embedding into an
// existing metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
