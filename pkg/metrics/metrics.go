package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Engine metrics
	EngineRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_engine_running",
			Help: "Whether the multiplexing engine is running (1 = running, 0 = not running)",
		},
	)

	MuxersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_muxers_total",
			Help: "Number of muxers registered with the engine, hooks included",
		},
	)

	EventsPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_events_published_total",
			Help: "Total number of events accepted by the engine for fan-out",
		},
	)

	EventsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_events_rejected_total",
			Help: "Total number of events published while the engine was not running",
		},
	)

	// Muxer metrics
	EventsDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_delivered_total",
			Help: "Total number of events enqueued into a muxer",
		},
		[]string{"muxer"},
	)

	MuxerQueueEvents = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_muxer_queue_events",
			Help: "Events held by a muxer by tier (memory, disk, unacked)",
		},
		[]string{"muxer", "tier"},
	)

	MuxerFiltered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_muxer_filtered_total",
			Help: "Total number of events dropped by a muxer's write filter",
		},
		[]string{"muxer"},
	)

	MuxerSpilled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_muxer_spilled_total",
			Help: "Total number of events moved from memory to the disk cache",
		},
		[]string{"muxer"},
	)

	MuxerFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_muxer_failures_total",
			Help: "Total number of muxers removed from the engine after a fatal error",
		},
	)

	// BBDO metrics
	BBDOFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_bbdo_frames_total",
			Help: "Total number of BBDO frames by direction (in, out)",
		},
		[]string{"direction"},
	)

	BBDOCorruptFrames = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_bbdo_corrupt_frames_total",
			Help: "Total number of BBDO frames rejected by checksum or length validation",
		},
	)

	BBDOUnknownEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_bbdo_unknown_events_total",
			Help: "Total number of decoded events skipped because their type is not registered",
		},
	)

	BBDOEncodeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_bbdo_encode_duration_seconds",
			Help:    "Time taken to serialize and write one event",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		},
	)

	// Endpoint metrics
	EndpointConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_endpoint_connections",
			Help: "Open connections per endpoint",
		},
		[]string{"endpoint"},
	)

	EndpointEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_endpoint_events_total",
			Help: "Total number of events moved by an endpoint",
		},
		[]string{"endpoint", "direction"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(EngineRunning)
	prometheus.MustRegister(MuxersTotal)
	prometheus.MustRegister(EventsPublished)
	prometheus.MustRegister(EventsRejected)
	prometheus.MustRegister(EventsDelivered)
	prometheus.MustRegister(MuxerQueueEvents)
	prometheus.MustRegister(MuxerFiltered)
	prometheus.MustRegister(MuxerSpilled)
	prometheus.MustRegister(MuxerFailures)
	prometheus.MustRegister(BBDOFrames)
	prometheus.MustRegister(BBDOCorruptFrames)
	prometheus.MustRegister(BBDOUnknownEvents)
	prometheus.MustRegister(BBDOEncodeDuration)
	prometheus.MustRegister(EndpointConnections)
	prometheus.MustRegister(EndpointEvents)
}

// ForgetMuxer drops the per-muxer series of a muxer that went away
func ForgetMuxer(name string) {
	EventsDelivered.DeleteLabelValues(name)
	MuxerFiltered.DeleteLabelValues(name)
	MuxerSpilled.DeleteLabelValues(name)
	for _, tier := range []string{"memory", "disk", "unacked"} {
		MuxerQueueEvents.DeleteLabelValues(name, tier)
	}
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
