// Package metrics exposes Prometheus instrumentation for the request loop.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "slant"

// Request outcomes used as the "outcome" label.
const (
	OutcomeOK            = "ok"
	OutcomeProtocolError = "protocol_error"
	OutcomeClassifyError = "classify_error"
)

// Metrics holds the worker's collectors on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	shutdownTimeout time.Duration

	requests         *prometheus.CounterVec
	items            prometheus.Counter
	blankLines       prometheus.Counter
	duration         prometheus.Histogram
	batchSize        prometheus.Histogram
	classifierPanics prometheus.Counter
}

// New creates and registers all collectors, including Go runtime and process
// collectors.
func New() (*Metrics, error) {
	m := &Metrics{
		registry:        prometheus.NewRegistry(),
		shutdownTimeout: 2 * time.Second,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Request lines processed, by outcome",
		}, []string{"outcome"}),
		items: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_total",
			Help:      "Items classified across all successful requests",
		}),
		blankLines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blank_lines_total",
			Help:      "Blank input lines skipped without a response",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from decoding a line to emitting its response",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "classify_batch_size",
			Help:      "Number of texts per classifier call",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
		}),
		classifierPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_panics_total",
			Help:      "Classifier calls that panicked and were recovered",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.requests, m.items, m.blankLines, m.duration, m.batchSize, m.classifierPanics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: register: %w", err)
		}
	}
	// Pre-create outcome series so dashboards see zeros.
	for _, o := range []string{OutcomeOK, OutcomeProtocolError, OutcomeClassifyError} {
		m.requests.WithLabelValues(o)
	}
	return m, nil
}

// Registry returns the underlying registry (for tests and custom handlers).
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveRequest records one processed line. Safe on a nil receiver.
func (m *Metrics) ObserveRequest(outcome string, items int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(outcome).Inc()
	if outcome == OutcomeOK {
		m.items.Add(float64(items))
	}
	m.duration.Observe(elapsed.Seconds())
}

// ObserveBatch records the size of one classifier call.
func (m *Metrics) ObserveBatch(size int) {
	if m == nil {
		return
	}
	m.batchSize.Observe(float64(size))
}

// BlankLine records a skipped blank line.
func (m *Metrics) BlankLine() {
	if m == nil {
		return
	}
	m.blankLines.Inc()
}

// ClassifierPanic records a recovered classifier panic.
func (m *Metrics) ClassifierPanic() {
	if m == nil {
		return
	}
	m.classifierPanics.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics: listen %s: %w", addr, err)
	}
	return m.serve(ctx, ln)
}

func (m *Metrics) serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	shutdownErr := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
		defer cancel()
		shutdownErr <- srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics listener started", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics: serve: %w", err)
	}
	if err := <-shutdownErr; err != nil {
		slog.Warn("metrics listener shutdown incomplete", "error", err)
	}
	return nil
}
