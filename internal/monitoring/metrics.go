package monitoring

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DropReason labels why a frame produced no detection attempt or result.
type DropReason string

const (
	DropRateLimited     DropReason = "rate_limited"
	DropQueueFull       DropReason = "queue_full"
	DropClassifierError DropReason = "classifier_error"
	DropInvalidOutput   DropReason = "invalid_output"
	// DropAbandoned marks a frame whose caller went away before the
	// classifier was reached. It never charges the rate governor.
	DropAbandoned DropReason = "abandoned"
)

// Metrics holds engine-wide counters. Fields are atomics so the hot path
// never takes a lock; Prometheus reads them through func collectors.
type Metrics struct {
	FramesReceived  atomic.Uint64
	FramesProcessed atomic.Uint64

	DroppedRateLimited     atomic.Uint64
	DroppedQueueFull       atomic.Uint64
	DroppedClassifierError atomic.Uint64
	DroppedInvalidOutput   atomic.Uint64
	DroppedAbandoned       atomic.Uint64

	DetectionsAccepted   atomic.Uint64
	DetectionsDuplicate  atomic.Uint64
	LabelsUnresolved     atomic.Uint64
	BoxesSuppressed      atomic.Uint64
	AlertsRaised         atomic.Uint64
	ClassifierCalls      atomic.Uint64
	ClassifierRetries    atomic.Uint64
	NotificationFailures atomic.Uint64
	PersistFailures      atomic.Uint64

	ActiveSessions   atomic.Int64
	GovernorInWindow atomic.Int64

	registry *prometheus.Registry
}

// NewMetrics creates a Metrics instance with its own Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.register()
	return m
}

// RecordDrop increments the counter for reason.
func (m *Metrics) RecordDrop(reason DropReason) {
	if m == nil {
		return
	}
	switch reason {
	case DropRateLimited:
		m.DroppedRateLimited.Add(1)
	case DropQueueFull:
		m.DroppedQueueFull.Add(1)
	case DropClassifierError:
		m.DroppedClassifierError.Add(1)
	case DropInvalidOutput:
		m.DroppedInvalidOutput.Add(1)
	case DropAbandoned:
		m.DroppedAbandoned.Add(1)
	}
}

// Dropped returns the total of all drop counters.
func (m *Metrics) Dropped() uint64 {
	return m.DroppedRateLimited.Load() + m.DroppedQueueFull.Load() +
		m.DroppedClassifierError.Load() + m.DroppedInvalidOutput.Load() +
		m.DroppedAbandoned.Load()
}

func counter(name, help string, v *atomic.Uint64) prometheus.Collector {
	return prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	)
}

func gauge(name, help string, v *atomic.Int64) prometheus.Collector {
	return prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	)
}

func (m *Metrics) register() {
	m.registry.MustRegister(
		counter("cartvision_frames_received_total", "Frames submitted to the engine", &m.FramesReceived),
		counter("cartvision_frames_processed_total", "Frames that reached the tracker", &m.FramesProcessed),
		counter("cartvision_detections_accepted_total", "Detections registered in a session ledger", &m.DetectionsAccepted),
		counter("cartvision_detections_duplicate_total", "Detections rejected by the session ledger", &m.DetectionsDuplicate),
		counter("cartvision_labels_unresolved_total", "Classifier labels that matched no catalog entry", &m.LabelsUnresolved),
		counter("cartvision_boxes_suppressed_total", "Boxes removed by non-maximum suppression", &m.BoxesSuppressed),
		counter("cartvision_alerts_raised_total", "Alerts generated at session end", &m.AlertsRaised),
		counter("cartvision_classifier_calls_total", "Calls made to the upstream classifier", &m.ClassifierCalls),
		counter("cartvision_classifier_retries_total", "Batch classifier retries", &m.ClassifierRetries),
		counter("cartvision_notification_failures_total", "Events the notifier failed to deliver", &m.NotificationFailures),
		counter("cartvision_persist_failures_total", "Records the persistence layer rejected", &m.PersistFailures),
		gauge("cartvision_active_sessions", "Sessions currently open", &m.ActiveSessions),
		gauge("cartvision_governor_window_calls", "Classifier calls inside the current rate window", &m.GovernorInWindow),
	)

	dropped := prometheus.NewDesc("cartvision_frames_dropped_total", "Frames dropped before producing detections", []string{"reason"}, nil)
	m.registry.MustRegister(&dropCollector{m: m, desc: dropped})
}

type dropCollector struct {
	m    *Metrics
	desc *prometheus.Desc
}

func (c *dropCollector) Describe(ch chan<- *prometheus.Desc) { ch <- c.desc }

func (c *dropCollector) Collect(ch chan<- prometheus.Metric) {
	for reason, v := range map[DropReason]*atomic.Uint64{
		DropRateLimited:     &c.m.DroppedRateLimited,
		DropQueueFull:       &c.m.DroppedQueueFull,
		DropClassifierError: &c.m.DroppedClassifierError,
		DropInvalidOutput:   &c.m.DroppedInvalidOutput,
		DropAbandoned:       &c.m.DroppedAbandoned,
	} {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(v.Load()), string(reason))
	}
}

// Handler returns the Prometheus HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
