// Package metrics wraps prometheus/client_golang behind a package-level
// enable gate; every Record* function is a no-op while collection is
// off, so call sites need not branch on it.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mu       sync.RWMutex
	enabled  bool
	registry *prometheus.Registry

	fidTableOccupancy *prometheus.GaugeVec
	mftSize           prometheus.Gauge
	activeSessions    prometheus.Gauge
	activeTrees       prometheus.Gauge
	commandsTotal     *prometheus.CounterVec
	andxChainDepth    prometheus.Histogram
	dirEnumPages      *prometheus.CounterVec
	lockConflicts     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
)

// Enable turns on metrics collection against a fresh Prometheus registry
// and returns it for the admin HTTP server to expose. Calling Enable more
// than once is a no-op beyond the first call.
func Enable() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()

	if enabled {
		return registry
	}

	registry = prometheus.NewRegistry()
	reg := promauto.With(registry)

	fidTableOccupancy = reg.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cifsd_fidtable_occupancy",
		Help: "Number of allocated FID table slots by connection.",
	}, []string{"conn_id"})

	mftSize = reg.NewGauge(prometheus.GaugeOpts{
		Name: "cifsd_mft_entries",
		Help: "Number of entries currently tracked by the master file table.",
	})

	activeSessions = reg.NewGauge(prometheus.GaugeOpts{
		Name: "cifsd_active_sessions",
		Help: "Number of authenticated SMB1 sessions currently open.",
	})

	activeTrees = reg.NewGauge(prometheus.GaugeOpts{
		Name: "cifsd_active_tree_connections",
		Help: "Number of tree connections currently open across all sessions.",
	})

	commandsTotal = reg.NewCounterVec(prometheus.CounterOpts{
		Name: "cifsd_commands_total",
		Help: "Total SMB1 commands processed by command name and status.",
	}, []string{"command", "status"})

	andxChainDepth = reg.NewHistogram(prometheus.HistogramOpts{
		Name:    "cifsd_andx_chain_depth",
		Help:    "Number of chained AndX commands per request.",
		Buckets: []float64{1, 2, 3, 4, 5, 8, 16},
	})

	dirEnumPages = reg.NewCounterVec(prometheus.CounterOpts{
		Name: "cifsd_directory_enum_pages_total",
		Help: "Total FIND_FIRST2/FIND_NEXT2 pages served, by info level.",
	}, []string{"info_level"})

	lockConflicts = reg.NewCounterVec(prometheus.CounterOpts{
		Name: "cifsd_lock_conflicts_total",
		Help: "Total byte-range lock requests that conflicted with an existing lock.",
	}, []string{"lock_type"})

	requestDuration = reg.NewHistogramVec(prometheus.HistogramOpts{
		Name: "cifsd_command_duration_milliseconds",
		Help: "SMB1 command handling latency in milliseconds.",
		Buckets: []float64{
			0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000,
		},
	}, []string{"command"})

	enabled = true
	return registry
}

// IsEnabled reports whether metrics collection is active.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// Registry returns the active Prometheus registry, or nil if metrics are
// disabled.
func Registry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// RecordFIDTableOccupancy records the current FID table occupancy for a connection.
func RecordFIDTableOccupancy(connID string, count int) {
	if !IsEnabled() {
		return
	}
	fidTableOccupancy.WithLabelValues(connID).Set(float64(count))
}

// RecordMFTSize records the current number of master-file-table entries.
func RecordMFTSize(count int) {
	if !IsEnabled() {
		return
	}
	mftSize.Set(float64(count))
}

// RecordSessionOpened increments the active-session gauge.
func RecordSessionOpened() {
	if !IsEnabled() {
		return
	}
	activeSessions.Inc()
}

// RecordSessionClosed decrements the active-session gauge.
func RecordSessionClosed() {
	if !IsEnabled() {
		return
	}
	activeSessions.Dec()
}

// RecordTreeConnected increments the active-tree-connection gauge.
func RecordTreeConnected() {
	if !IsEnabled() {
		return
	}
	activeTrees.Inc()
}

// RecordTreeDisconnected decrements the active-tree-connection gauge.
func RecordTreeDisconnected() {
	if !IsEnabled() {
		return
	}
	activeTrees.Dec()
}

// RecordCommand records one dispatched SMB1 command and its handling duration.
func RecordCommand(command, status string, duration time.Duration) {
	if !IsEnabled() {
		return
	}
	commandsTotal.WithLabelValues(command, status).Inc()
	requestDuration.WithLabelValues(command).Observe(float64(duration.Microseconds()) / 1000.0)
}

// RecordAndXChainDepth records the number of chained commands in one request.
func RecordAndXChainDepth(depth int) {
	if !IsEnabled() {
		return
	}
	andxChainDepth.Observe(float64(depth))
}

// RecordDirEnumPage records one directory-enumeration page served at infoLevel.
func RecordDirEnumPage(infoLevel string) {
	if !IsEnabled() {
		return
	}
	dirEnumPages.WithLabelValues(infoLevel).Inc()
}

// RecordLockConflict records a byte-range lock request that conflicted with
// an existing lock.
func RecordLockConflict(lockType string) {
	if !IsEnabled() {
		return
	}
	lockConflicts.WithLabelValues(lockType).Inc()
}
