/*
Package metrics provides Prometheus metrics and health reporting for relay.

All collectors are package-level variables registered with the default
Prometheus registry at init, so any package can record into them without
plumbing a registry through constructors. The HTTP API exposes them on
/metrics through Handler.

# Architecture

	┌──────────────────── METRICS ─────────────────────────────┐
	│                                                           │
	│  engine / muxers ──► EventsPublished, EventsDelivered,    │
	│                      MuxerFiltered, MuxerSpilled, ...     │
	│                                                           │
	│  bbdo codec ───────► BBDOFrames, BBDOCorruptFrames,       │
	│                      BBDOEncodeDuration                   │
	│                                                           │
	│  endpoints ────────► EndpointConnections, EndpointEvents  │
	│                                                           │
	│  Collector ──(interval)──► Source.QueueSamples()          │
	│                  └──► MuxerQueueEvents{muxer,tier}        │
	│                                                           │
	│  HealthChecker ──► /health /ready /live                   │
	└───────────────────────────────────────────────────────────┘

# Metrics

Engine:
  - relay_engine_running: 1 while the engine is processing events
  - relay_muxers_total: registered muxers
  - relay_events_published_total: events accepted by Publish
  - relay_events_rejected_total: events published while stopped
  - relay_muxer_failures_total: muxers isolated after an I/O failure

Muxers (labelled by muxer name):
  - relay_events_delivered_total
  - relay_muxer_filtered_total
  - relay_muxer_spilled_total
  - relay_muxer_queue_events{tier="memory|disk|unacked"}

BBDO:
  - relay_bbdo_frames_total{direction="in|out"}
  - relay_bbdo_corrupt_frames_total
  - relay_bbdo_unknown_events_total
  - relay_bbdo_encode_duration_seconds

Endpoints:
  - relay_endpoint_connections{endpoint}
  - relay_endpoint_events_total{endpoint,direction}

Queue depth gauges are sampled rather than updated inline. The Collector
polls a Source, normally the multiplexing engine, and calls ForgetMuxer for
queues that disappeared so stale series do not linger.

# Timing

	timer := metrics.NewTimer()
	enc.Encode(e)
	timer.ObserveDuration(metrics.BBDOEncodeDuration)

# Health

Components register themselves by name and update their status as they
connect and disconnect:

	metrics.SetCriticalComponents("engine", "api")
	metrics.RegisterComponent("endpoint/central", false, "not connected")
	metrics.UpdateComponent("endpoint/central", true, "connected")

GetHealth reports "healthy" when every component is healthy, "degraded" when
only non-critical components fail, and "unhealthy" when a critical one does.
HealthHandler answers 503 only for "unhealthy". GetReadiness requires every
critical component to be registered and healthy.
*/
package metrics
