// Package metrics exposes the engine's operational health as Prometheus
// collectors: bus backpressure drops and queue depth, pool occupancy,
// and order-tracker occupancy. None of these are on the allocation-free
// hot path's critical section beyond a single counter/gauge update per
// publish, acquire, or release.
//
// The core never starts its own scrape HTTP server; wiring a collector
// registry to an endpoint belongs to the demo harness (cmd/engine), an
// external collaborator.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// BusMetrics tracks one event bus instance's operational health.
type BusMetrics struct {
	Dropped    prometheus.Counter
	QueueDepth *prometheus.GaugeVec
}

// NewBusMetrics registers (if reg is non-nil) and returns a BusMetrics
// for the named bus. Passing a nil Registerer yields metrics usable in
// isolation (e.g. in tests) without touching the default registry.
func NewBusMetrics(reg prometheus.Registerer, busName string) *BusMetrics {
	m := &BusMetrics{
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "floxcore",
			Subsystem: "bus",
			Name:      "dropped_total",
			Help:      "Events dropped due to a full subscriber queue (drop-newest backpressure).",
			ConstLabels: prometheus.Labels{
				"bus": busName,
			},
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "floxcore",
			Subsystem: "bus",
			Name:      "queue_depth",
			Help:      "Current number of queued items per subscriber.",
			ConstLabels: prometheus.Labels{
				"bus": busName,
			},
		}, []string{"subscriber"}),
	}
	if reg != nil {
		reg.MustRegister(m.Dropped, m.QueueDepth)
	}
	return m
}

// PoolMetrics tracks one object pool's occupancy.
type PoolMetrics struct {
	InUse prometheus.Gauge
}

// NewPoolMetrics registers (if reg is non-nil) and returns a PoolMetrics
// for the named pool.
func NewPoolMetrics(reg prometheus.Registerer, poolName string) *PoolMetrics {
	m := &PoolMetrics{
		InUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "floxcore",
			Subsystem: "pool",
			Name:      "in_use",
			Help:      "Slots currently checked out of the pool.",
			ConstLabels: prometheus.Labels{
				"pool": poolName,
			},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.InUse)
	}
	return m
}

// TrackerMetrics tracks the order tracker's table occupancy.
type TrackerMetrics struct {
	Occupied prometheus.Gauge
}

// NewTrackerMetrics registers (if reg is non-nil) and returns a
// TrackerMetrics instance.
func NewTrackerMetrics(reg prometheus.Registerer) *TrackerMetrics {
	m := &TrackerMetrics{
		Occupied: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "floxcore",
			Subsystem: "tracker",
			Name:      "occupied_slots",
			Help:      "Order tracker slots currently in use.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Occupied)
	}
	return m
}
