// Package metrics exposes device counters for node-exporter and the status server.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles prometheus collectors used by the pipeline. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	CyclesTotal      *prometheus.CounterVec
	CycleDurationSec prometheus.Histogram
	UploadAttempts   *prometheus.CounterVec
	BacklogDropped   *prometheus.CounterVec
	BacklogSize      prometheus.Gauge
	TelemetryReports *prometheus.CounterVec
	RelayPhotos      *prometheus.CounterVec
	LastCycle        prometheus.Gauge
}

func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterrelay_cycles_total",
			Help: "Total number of capture cycles by final status.",
		}, []string{"status"}),
		CycleDurationSec: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "meterrelay_cycle_duration_seconds",
			Help:    "Capture cycle duration in seconds.",
			Buckets: []float64{5, 10, 15, 20, 30, 45, 60, 90, 120, 180, 300},
		}),
		UploadAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterrelay_upload_attempts_total",
			Help: "Total number of upload attempts by result.",
		}, []string{"result"}),
		BacklogDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterrelay_backlog_dropped_total",
			Help: "Total number of backlog entries dropped without delivery.",
		}, []string{"reason"}),
		BacklogSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meterrelay_backlog_size",
			Help: "Number of deliveries waiting in the backlog.",
		}),
		TelemetryReports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterrelay_telemetry_reports_total",
			Help: "Total number of status reports by result.",
		}, []string{"result"}),
		RelayPhotos: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meterrelay_relay_photos_total",
			Help: "Total number of images relayed to the chat by result.",
		}, []string{"result"}),
		LastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meterrelay_last_cycle_timestamp_seconds",
			Help: "Unix time the last cycle finished.",
		}),
	}

	registry.MustRegister(
		m.CyclesTotal,
		m.CycleDurationSec,
		m.UploadAttempts,
		m.BacklogDropped,
		m.BacklogSize,
		m.TelemetryReports,
		m.RelayPhotos,
		m.LastCycle,
	)

	return m
}

// Registry returns the registry the collectors were registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveCycle(status string, d time.Duration, finished time.Time) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(status).Inc()
	m.CycleDurationSec.Observe(d.Seconds())
	m.LastCycle.Set(float64(finished.Unix()))
}

func (m *Metrics) UploadAttempt(ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.UploadAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.BacklogDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetBacklog(n int) {
	if m == nil {
		return
	}
	m.BacklogSize.Set(float64(n))
}

func (m *Metrics) Report(ok bool) {
	if m == nil {
		return
	}
	result := "rejected"
	if ok {
		result = "accepted"
	}
	m.TelemetryReports.WithLabelValues(result).Inc()
}

func (m *Metrics) Relay(ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.RelayPhotos.WithLabelValues(result).Inc()
}

// WriteTextfile dumps the registry in the node-exporter textfile format.
// An empty filename is a no-op.
func (m *Metrics) WriteTextfile(filename string) error {
	if m == nil || filename == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(filename, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
