// Package metrics defines the hub's Prometheus instrumentation. One Set
// is created per hub instance and handed to the components that record
// into it; the app exposes the registry on the health server's /metrics
// endpoint when HTTP is enabled.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Set bundles every collector the hub records.
type Set struct {
	// Mutations counts public store mutations by operation and result.
	Mutations *prometheus.CounterVec
	// Events counts dispatched notification events by event name.
	Events *prometheus.CounterVec
	// MaintenancePasses counts executed maintenance passes by pass name.
	MaintenancePasses *prometheus.CounterVec
	// PluginFailures counts recovered plugin handler failures by host and
	// plugin id.
	PluginFailures *prometheus.CounterVec
	// NotifyQueueDepth tracks the notify host's pending dispatch batches.
	NotifyQueueDepth prometheus.Gauge

	// StorageWrites / StorageErrors / StorageWriteSeconds instrument the
	// snapshot writer.
	StorageWrites       prometheus.Counter
	StorageErrors       prometheus.Counter
	StorageWriteSeconds prometheus.Histogram

	// ArchiveAppends / ArchiveFlushErrors instrument the archive log.
	ArchiveAppends     prometheus.Counter
	ArchiveFlushErrors prometheus.Counter
}

// New builds a Set and registers it on reg. A nil reg registers on a
// private throwaway registry, which keeps tests and library embedders
// free of global registry collisions.
func New(reg prometheus.Registerer) *Set {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	s := &Set{
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dengon_store_mutations_total",
			Help: "Public store mutations by operation and result.",
		}, []string{"op", "result"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dengon_events_dispatched_total",
			Help: "Notification events dispatched to the notify host.",
		}, []string{"event"}),
		MaintenancePasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dengon_maintenance_passes_total",
			Help: "Executed store maintenance passes.",
		}, []string{"pass"}),
		PluginFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dengon_plugin_failures_total",
			Help: "Recovered plugin handler failures.",
		}, []string{"host", "plugin"}),
		NotifyQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dengon_notify_queue_depth",
			Help: "Dispatch batches waiting in the notify host queue.",
		}),
		StorageWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dengon_storage_writes_total",
			Help: "Completed snapshot writes.",
		}),
		StorageErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dengon_storage_errors_total",
			Help: "Snapshot writes that failed after retries.",
		}),
		StorageWriteSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dengon_storage_write_seconds",
			Help:    "Snapshot write latency.",
			Buckets: prometheus.DefBuckets,
		}),
		ArchiveAppends: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dengon_archive_appends_total",
			Help: "Records appended to the archive log.",
		}),
		ArchiveFlushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dengon_archive_flush_errors_total",
			Help: "Archive buffer flushes that failed.",
		}),
	}
	reg.MustRegister(
		s.Mutations, s.Events, s.MaintenancePasses, s.PluginFailures,
		s.NotifyQueueDepth,
		s.StorageWrites, s.StorageErrors, s.StorageWriteSeconds,
		s.ArchiveAppends, s.ArchiveFlushErrors,
	)
	return s
}
