// Package telemetry exposes run-level Prometheus counters on an optional
// HTTP listener (--metrics-addr). Nothing in this package blocks a run: a
// listener that fails to bind is logged and otherwise ignored.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Recorder tracks the counters for one running process across however
// many basket runs it executes.
type Recorder struct {
	symbolsTotal   *prometheus.CounterVec
	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
	validationWarn prometheus.Counter
}

// NewRecorder registers the run counters against a fresh registry.
func NewRecorder() (*Recorder, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		symbolsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_symbols_total",
			Help: "Per-symbol engine runs, labeled by outcome.",
		}, []string{"outcome"}),
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_runs_total",
			Help: "Completed orchestrator runs, labeled by outcome.",
		}, []string{"outcome"}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "backtest_run_duration_seconds",
			Help:    "Wall-clock duration of a full basket run.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		validationWarn: factory.NewCounter(prometheus.CounterOpts{
			Name: "backtest_validation_warnings_total",
			Help: "Data-quality warnings raised across all symbols.",
		}),
	}, reg
}

// RecordSymbol tags one per-symbol engine result.
func (r *Recorder) RecordSymbol(succeeded bool) {
	if succeeded {
		r.symbolsTotal.WithLabelValues("success").Inc()
		return
	}
	r.symbolsTotal.WithLabelValues("failure").Inc()
}

// RecordRun tags one completed basket run and its duration.
func (r *Recorder) RecordRun(succeeded bool, duration time.Duration) {
	if succeeded {
		r.runsTotal.WithLabelValues("success").Inc()
	} else {
		r.runsTotal.WithLabelValues("failure").Inc()
	}
	r.runDuration.Observe(duration.Seconds())
}

// AddValidationWarnings increments the warning counter by n.
func (r *Recorder) AddValidationWarnings(n int) {
	if n <= 0 {
		return
	}
	r.validationWarn.Add(float64(n))
}

// Serve starts an HTTP server exposing /metrics on addr and blocks until ctx
// is cancelled. Intended to run in its own goroutine; a bind failure is
// logged, never fatal to the run it is instrumenting.
func Serve(ctx context.Context, logger *zap.Logger, addr string, reg *prometheus.Registry) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if logger != nil {
		logger.Info("serving metrics", zap.String("addr", addr))
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		if logger != nil {
			logger.Warn("metrics listener stopped", zap.Error(err))
		}
	}
}
