// Package telemetry holds the process-wide protocol metrics. Counters are
// registered on a private registry and exposed through MetricsHandler on
// the node's HTTP service.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	// Transmissions are labelled by protocol ("trickle" or "rmh").
	TransmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tpwsn",
			Name:      "transmissions_total",
			Help:      "Datagrams put on the air.",
		},
		[]string{"protocol"},
	)

	SuppressedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tpwsn",
			Name:      "trickle_suppressed_total",
			Help:      "Trickle transmission points suppressed by the redundancy constant.",
		},
	)

	InconsistenciesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tpwsn",
			Name:      "trickle_inconsistencies_total",
			Help:      "Inconsistent token observations.",
		},
	)

	DroppedNoRouteTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tpwsn",
			Name:      "rmh_dropped_no_route_total",
			Help:      "Data packets dropped because the neighbour table was empty.",
		},
	)

	DeliveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tpwsn",
			Name:      "rmh_delivered_total",
			Help:      "Data packets delivered at their final destination.",
		},
	)

	MalformedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tpwsn",
			Name:      "malformed_packets_total",
			Help:      "Inbound packets discarded as malformed.",
		},
	)

	Neighbours = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tpwsn",
			Name:      "neighbours",
			Help:      "Live entries in the neighbour table.",
		},
	)

	RestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tpwsn",
			Name:      "restarts_total",
			Help:      "Completed power-loss restart cycles.",
		},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tpwsn",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version).",
		},
		[]string{"version"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "tpwsn",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		TransmissionsTotal,
		SuppressedTotal,
		InconsistenciesTotal,
		DroppedNoRouteTotal,
		DeliveredTotal,
		MalformedTotal,
		Neighbours,
		RestartsTotal,
		buildInfo,
		uptime,
	)
}

// MetricsHandler exposes the registry for /metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup.
func SetBuildInfo(version string) {
	buildInfo.WithLabelValues(version).Set(1)
}
