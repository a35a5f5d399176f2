// Package metrics exposes Prometheus collectors for the decision pipeline
// and serves them with a health endpoint.
package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics holds every collector the pipeline reports to.
type Metrics struct {
	SignalsTotal  *prometheus.CounterVec
	OrdersTotal   *prometheus.CounterVec
	ExitsTotal    *prometheus.CounterVec
	HaltsTotal    *prometheus.CounterVec
	RegimeChanges prometheus.Counter
	OpenPositions prometheus.Gauge
	DailyPnLPct   prometheus.Gauge
	EvalDuration  *prometheus.HistogramVec
	registry      *prometheus.Registry
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coinrich_signals_total",
			Help: "Entry signals produced, by strategy and reason.",
		}, []string{"strategy", "reason"}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coinrich_orders_total",
			Help: "Order submissions by side and outcome.",
		}, []string{"side", "outcome"}),
		ExitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coinrich_exits_total",
			Help: "Position exits by reason.",
		}, []string{"reason"}),
		HaltsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "coinrich_halts_total",
			Help: "Trading halts by reason.",
		}, []string{"reason"}),
		RegimeChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "coinrich_regime_changes_total",
			Help: "Committed regime transitions.",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coinrich_open_positions",
			Help: "Currently open positions.",
		}),
		DailyPnLPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "coinrich_daily_pnl_pct",
			Help: "Realized daily PnL in percent.",
		}),
		EvalDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coinrich_eval_duration_seconds",
			Help:    "Evaluation latency by kind (entry, exit).",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		registry: reg,
	}
	reg.MustRegister(
		m.SignalsTotal, m.OrdersTotal, m.ExitsTotal, m.HaltsTotal,
		m.RegimeChanges, m.OpenPositions, m.DailyPnLPct, m.EvalDuration,
	)
	return m
}

// ObserveEval times one evaluation.
func (m *Metrics) ObserveEval(kind string, start time.Time) {
	m.EvalDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

// Server serves /metrics and /health.
type Server struct {
	srv *http.Server
	log zerolog.Logger
}

// NewServer builds the HTTP server for the collectors.
func NewServer(addr string, m *Metrics, log zerolog.Logger) *Server {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("metrics server listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
