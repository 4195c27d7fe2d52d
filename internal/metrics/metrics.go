// Package metrics exposes the gateway's ambient Prometheus surface: read
// counts, publisher buffer/drop counts, and connection pool activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ReadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "poll",
		Name:      "reads_total",
		Help:      "Register reads attempted, by outcome.",
	}, []string{"outcome"})

	ReadDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gateway",
		Subsystem: "poll",
		Name:      "read_duration_seconds",
		Help:      "Time to read and decode one register.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"device_id"})

	DeviceHealthState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "gateway",
		Subsystem: "poll",
		Name:      "device_health_state",
		Help:      "1 for the device's current health state, 0 otherwise; one series per (device_id, state).",
	}, []string{"device_id", "state"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gateway",
		Subsystem: "telemetry",
		Name:      "queue_depth",
		Help:      "Pending records in the telemetry queue.",
	})

	MQTTBufferDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gateway",
		Subsystem: "publish",
		Name:      "mqtt_offline_buffer_depth",
		Help:      "Records currently held in the MQTT offline buffer.",
	})

	MQTTBufferDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "publish",
		Name:      "mqtt_offline_buffer_drops_total",
		Help:      "Records dropped from the MQTT offline buffer because it was full.",
	})

	HTTPPublishDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "publish",
		Name:      "http_publish_drops_total",
		Help:      "Records dropped by the HTTP publisher after exhausting retries.",
	})

	TCPPoolAcquiresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "transport",
		Name:      "tcp_pool_acquires_total",
		Help:      "TCP pool connection acquisitions, by whether a connection was reused.",
	}, []string{"result"})

	TCPPoolEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway",
		Subsystem: "transport",
		Name:      "tcp_pool_evictions_total",
		Help:      "TCP pool connections evicted for being idle, aged out, or capacity-pressured.",
	})
)

// Handler returns the /metrics HTTP handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
