// Package observability exports Prometheus metrics for upstream calls and
// stream traffic.
package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/IncredibleDevHQ/agent-panel/internal/llmclient"
	"github.com/IncredibleDevHQ/agent-panel/internal/streaming"
)

const namespace = "agentpanel"

// Metrics holds the collectors. Each instance owns its registry so several
// can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight *prometheus.GaugeVec
	signals  *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors, plus the Go runtime and
// process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream chat and model listing requests by outcome",
		}, []string{"provider", "model", "stream", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Time until the upstream response (headers, for streams) arrived",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"provider", "model", "stream"}),
		inFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_requests_in_flight",
			Help:      "Upstream requests awaiting a response",
		}, []string{"provider"}),
		signals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_signals_total",
			Help:      "Classified stream frames by kind",
		}, []string{"provider", "kind"}),
	}
}

// Hooks returns transport hooks feeding the request metrics.
func (m *Metrics) Hooks() llmclient.Hooks {
	return llmclient.Hooks{
		OnRequestStart: func(ctx context.Context, info llmclient.RequestInfo) context.Context {
			m.inFlight.WithLabelValues(info.Provider).Inc()
			return ctx
		},
		OnRequestEnd: func(_ context.Context, info llmclient.ResponseInfo) {
			m.inFlight.WithLabelValues(info.Provider).Dec()
			stream := strconv.FormatBool(info.Stream)
			m.requests.WithLabelValues(info.Provider, info.Model, stream, statusLabel(info)).Inc()
			m.duration.WithLabelValues(info.Provider, info.Model, stream).Observe(info.Duration.Seconds())
		},
	}
}

// OnSignal counts one classified stream signal.
func (m *Metrics) OnSignal(provider string, sig streaming.Signal) {
	m.signals.WithLabelValues(provider, sig.Kind.String()).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes Handler at endpoint on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr, endpoint string) error {
	mux := http.NewServeMux()
	mux.Handle(endpoint, m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

// statusLabel is the HTTP status, or "error" when no response arrived.
func statusLabel(info llmclient.ResponseInfo) string {
	if info.StatusCode == 0 {
		return "error"
	}
	return strconv.Itoa(info.StatusCode)
}
