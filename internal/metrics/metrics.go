package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "binwatch_"

var (
	// Demotions counts online->offline transitions made by the monitor sweep.
	Demotions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: metricPrefix + "liveness_demotions_total",
		Help: "Devices demoted to offline by the monitor sweep",
	})

	// Evictions counts records dropped by the cleanup sweep.
	Evictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: metricPrefix + "liveness_evictions_total",
		Help: "Stale device records evicted from memory",
	})

	// StatusWriteFailures counts failed status mirror writes by target status.
	StatusWriteFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: metricPrefix + "status_write_failures_total",
		Help: "Failed status mirror writes to the document store",
	}, []string{"status"})

	// AlertsDropped counts offline alerts discarded because the queue was full.
	AlertsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: metricPrefix + "offline_alerts_dropped_total",
		Help: "Offline alerts dropped because the worker queue was full",
	})
)

// TrackerStats is the read side of the liveness tracker exposed as gauges.
type TrackerStats interface {
	Len() int
	OnlineCount() int
	Running() bool
}

// Register adds every collector to reg. stats may be nil, in which case only
// the counters are registered.
func Register(reg prometheus.Registerer, stats TrackerStats) {
	reg.MustRegister(Demotions, Evictions, StatusWriteFailures, AlertsDropped)
	if stats == nil {
		return
	}

	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "liveness_tracked_devices",
			Help: "Device records currently held in memory",
		},
		func() float64 { return float64(stats.Len()) },
	))

	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "liveness_online_devices",
			Help: "Devices currently considered online",
		},
		func() float64 { return float64(stats.OnlineCount()) },
	))

	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "liveness_monitor_running",
			Help: "1 while the monitor loop is running",
		},
		func() float64 {
			if stats.Running() {
				return 1
			}
			return 0
		},
	))
}
