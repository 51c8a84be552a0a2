// Registers:
//
//	#tickstream_events_total{component,metric}
//	#tickstream_gauge{component,metric}
//	#go_* and process_* system metrics
//
// and serves them with the Prometheus HTTP handler.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tickstream/logger"
)

// PrometheusExporter mirrors emitted metrics into Prometheus collectors.
type PrometheusExporter struct {
	registry *prometheus.Registry
	counters *prometheus.CounterVec
	gauges   *prometheus.GaugeVec
	id       MetricHandlerID
}

// NewPrometheusExporter creates an exporter with its own registry.
func NewPrometheusExporter() *PrometheusExporter {
	reg := prometheus.NewRegistry()
	e := &PrometheusExporter{
		registry: reg,
		counters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickstream_events_total",
			Help: "Counter metrics emitted by the stream client",
		}, []string{"component", "metric"}),
		gauges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tickstream_gauge",
			Help: "Gauge metrics emitted by the stream client",
		}, []string{"component", "metric"}),
	}
	reg.MustRegister(e.counters, e.gauges)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return e
}

func (e *PrometheusExporter) record(m Metric) {
	if m.Type == "gauge" {
		e.gauges.WithLabelValues(m.Component, m.Name).Set(m.Value)
		return
	}
	if m.Value < 0 {
		return
	}
	e.counters.WithLabelValues(m.Component, m.Name).Add(m.Value)
}

// Handler returns the scrape handler for the exporter's registry.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Register subscribes the exporter to emitted metrics.
func (e *PrometheusExporter) Register() {
	if e.id == 0 {
		e.id = RegisterMetricHandler(e.record)
	}
}

// Serve registers the exporter and serves /metrics on addr until ctx ends.
func (e *PrometheusExporter) Serve(ctx context.Context, addr string) error {
	e.Register()
	defer func() {
		UnregisterMetricHandler(e.id)
		e.id = 0
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.GetLogger().WithComponent("metrics").WithField("address", addr).Info("serving Prometheus metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
