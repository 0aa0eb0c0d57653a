/*
Package log provides structured logging for relay using zerolog.

The log package wraps the zerolog library with a process-wide logger,
configurable levels and output format, and child loggers that tag every
record with the component that produced it. The multiplexing engine, the
muxers, the BBDO streams and the endpoints all log through child loggers so
that a single connection or queue can be followed in the output.

# Architecture

	┌──────────────────── LOGGING ────────────────────────────┐
	│                                                          │
	│  log.Init(Config) ──► Logger (zerolog.Logger)            │
	│                          │                               │
	│        ┌─────────────────┼──────────────────┐            │
	│        ▼                 ▼                  ▼            │
	│  WithComponent("engine") WithMuxer("sql")  WithEndpoint  │
	│                                             │            │
	│                                    WithConnection(uuid)  │
	└──────────────────────────────────────────────────────────┘

Until Init is called the global logger discards everything, which keeps
package tests quiet.

# Usage

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	engineLog := log.WithComponent("engine")
	engineLog.Info().Int("muxers", 3).Msg("multiplexing engine started")

	muxLog := log.WithMuxer("storage-out")
	muxLog.Warn().Int("spilled", 5000).Msg("memory queue spilled to disk")

Console output:

	2025-01-10T10:30:00Z INF multiplexing engine started component=engine muxers=3

JSON output:

	{"level":"info","component":"engine","muxers":3,"time":"2025-01-10T10:30:00Z","message":"multiplexing engine started"}

# Levels

  - debug: per-frame and per-event tracing
  - info: lifecycle (engine start/stop, connections, negotiation)
  - warn: recoverable anomalies (corrupt frame, unknown event type)
  - error: muxer failures, endpoint failures
*/
package log
