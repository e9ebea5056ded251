// Package metrics 同步与供应商调用的 Prometheus 指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 供应商请求
	VendorRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetgazer_vendor_requests_total",
			Help: "Vendor API requests by provider, operation and outcome",
		},
		[]string{"provider", "op", "outcome"},
	)

	VendorRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetgazer_vendor_request_duration_seconds",
			Help:    "Vendor API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "op"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetgazer_circuit_breaker_state",
			Help: "Vendor circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// 同步周期
	SyncCycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetgazer_sync_cycles_total",
			Help: "Sync cycles by type and result",
		},
		[]string{"sync_type", "status"},
	)

	SyncCycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetgazer_sync_cycle_duration_seconds",
			Help:    "Duration of one fleet sync cycle",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"sync_type"},
	)

	StatusesDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetgazer_statuses_discarded_total",
			Help: "Statuses dropped because they were not newer than the stored one",
		},
	)

	// 事件与行程
	VehicleEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetgazer_vehicle_events_total",
			Help: "Derived vehicle events by type",
		},
		[]string{"event_type"},
	)

	Trips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetgazer_trips_total",
			Help: "Trips opened and closed",
		},
		[]string{"action"},
	)

	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetgazer_websocket_clients",
			Help: "Connected WebSocket clients",
		},
	)
)
