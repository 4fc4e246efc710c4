package database

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/redbco/redb-desk/pkg/adapter"
)

// Metrics holds the router's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	operations      *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	sessions        prometheus.Gauge
	droppedMessages *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "redb_desk",
				Subsystem: "router",
				Name:      "operations_total",
				Help:      "Total number of routed operations",
			},
			[]string{"kind", "operation", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "redb_desk",
				Subsystem: "router",
				Name:      "operation_duration_seconds",
				Help:      "Routed operation latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind", "operation"},
		),
		sessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "redb_desk",
				Subsystem: "sessions",
				Name:      "active",
				Help:      "Number of live sessions",
			},
		),
		droppedMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "redb_desk",
				Subsystem: "streaming",
				Name:      "dropped_messages_total",
				Help:      "Pub/sub messages dropped because a listener queue was full",
			},
			[]string{"connection"},
		),
	}

	if reg != nil {
		reg.MustRegister(m.operations, m.duration, m.sessions, m.droppedMessages)
	}
	return m
}

// observe records one operation. result is "ok" or the error kind.
func (m *Metrics) observe(kind, operation string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(adapter.KindOf(err))
	}
	m.operations.WithLabelValues(kind, operation, result).Inc()
	m.duration.WithLabelValues(kind, operation).Observe(elapsed.Seconds())
}

func (m *Metrics) setSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

// MessageDropped counts a dropped pub/sub message. It matches
// streaming.DropFunc.
func (m *Metrics) MessageDropped(connectionID string) {
	if m == nil {
		return
	}
	m.droppedMessages.WithLabelValues(connectionID).Inc()
}
