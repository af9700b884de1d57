package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "evolve"

var (
	registry = prometheus.NewRegistry()

	evaluations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evaluations_total",
		Help:      "Evolution evaluation attempts by outcome.",
	}, []string{"outcome"})

	transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transitions_total",
		Help:      "Level changes applied to assets by direction.",
	}, []string{"direction"})

	oracleLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "oracle_request_duration_seconds",
		Help:      "Latency of price oracle reads.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"feed"})

	oracleFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "oracle_failures_total",
		Help:      "Failed price oracle reads.",
	}, []string{"feed"})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests processed.",
	}, []string{"handler", "method", "code"})

	httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"handler", "method"})

	keeperSweeps = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "keeper_sweeps_total",
		Help:      "Completed keeper sweeps.",
	})

	keeperDue = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "keeper_due_assets",
		Help:      "Assets whose cooldown had elapsed at the last sweep.",
	})

	notifyFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notify_failures_total",
		Help:      "Evolution notifications that a sink failed to deliver.",
	}, []string{"sink"})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		evaluations, transitions, oracleLatency, oracleFailures,
		httpRequests, httpLatency, keeperSweeps, keeperDue, notifyFailures,
	)
}

// Registry exposes the collector registry, mainly for tests.
func Registry() *prometheus.Registry { return registry }

// ObserveEvaluation counts one evaluation attempt.
func ObserveEvaluation(outcome string) {
	evaluations.WithLabelValues(outcome).Inc()
}

// ObserveTransition counts one applied level change.
func ObserveTransition(direction string) {
	transitions.WithLabelValues(direction).Inc()
}

// ObserveOracleRead records the latency and outcome of an oracle read.
func ObserveOracleRead(feed string, duration time.Duration, err error) {
	oracleLatency.WithLabelValues(feed).Observe(duration.Seconds())
	if err != nil {
		oracleFailures.WithLabelValues(feed).Inc()
	}
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveSweep records one keeper pass.
func ObserveSweep(due int) {
	keeperSweeps.Inc()
	keeperDue.Set(float64(due))
}

// ObserveNotifyFailure counts a failed notification delivery.
func ObserveNotifyFailure(sink string) {
	notifyFailures.WithLabelValues(sink).Inc()
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
