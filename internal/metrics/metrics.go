// Package metrics exposes relay counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "tvrelay"

// Metrics holds the relay's collectors on a private registry
type Metrics struct {
	Registry *prometheus.Registry

	alerts           *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	dispatchDuration prometheus.Histogram
	recorderFailures prometheus.Counter
	counterSwept     prometheus.Counter
}

// New creates and registers the relay collectors
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Processed alerts by recorded status.",
		}, []string{"status"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_deliveries_total",
			Help:      "Channel delivery attempts by channel and result.",
		}, []string{"channel", "result"}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time from receiving an alert to returning its delivery summary.",
			Buckets:   prometheus.DefBuckets,
		}),
		recorderFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recorder_failures_total",
			Help:      "Alerts that could not be persisted.",
		}),
		counterSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_entries_swept_total",
			Help:      "Stale daily counter entries removed by the sweep job.",
		}),
	}

	m.Registry.MustRegister(
		m.alerts,
		m.deliveries,
		m.dispatchDuration,
		m.recorderFailures,
		m.counterSwept,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// AlertProcessed counts an alert by its recorded status
func (m *Metrics) AlertProcessed(status string) {
	m.alerts.WithLabelValues(status).Inc()
}

// ChannelDelivery counts one delivery attempt
func (m *Metrics) ChannelDelivery(channel string, delivered bool) {
	result := "failed"
	if delivered {
		result = "delivered"
	}
	m.deliveries.WithLabelValues(channel, result).Inc()
}

// ObserveDispatch records how long one dispatch took
func (m *Metrics) ObserveDispatch(d time.Duration) {
	m.dispatchDuration.Observe(d.Seconds())
}

// RecorderFailed counts an alert that could not be stored
func (m *Metrics) RecorderFailed() {
	m.recorderFailures.Inc()
}

// CounterSwept adds the number of stale counter entries removed
func (m *Metrics) CounterSwept(n int64) {
	if n > 0 {
		m.counterSwept.Add(float64(n))
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler(logger zerolog.Logger) http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{
		ErrorLog:      promLogger{logger: logger.With().Str("component", "metrics").Logger()},
		ErrorHandling: promhttp.ContinueOnError,
	})
}

type promLogger struct {
	logger zerolog.Logger
}

// Println implements promhttp.Logger
func (l promLogger) Println(v ...interface{}) {
	l.logger.Error().Msgf("%v", v)
}
