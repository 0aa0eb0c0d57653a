/*
Package multiplexing fans events out from producers to consumers.

An Engine holds a set of Muxers. Publish hands an event to every muxer
whose read filter accepts its type, synchronously and in registration
order, so two events published by the same goroutine reach every muxer in
the order they were published.

# Architecture

	 producers                 Engine                    consumers
	┌──────────┐  Publish  ┌─────────────┐  push   ┌──────────────────┐
	│ endpoint │──────────▶│ read filter │────────▶│ Muxer "sql"      │──▶ Read/Ack
	│ input    │           │  fan-out    │         │  memory ▸ disk   │
	└──────────┘           │             │────────▶│ Muxer "central"  │──▶ Read/Ack
	┌──────────┐           │  RWMutex    │         └──────────────────┘
	│ Publisher│──────────▶│             │────────▶ hook (all events)
	└──────────┘           └─────────────┘

Publish holds the engine read lock for the whole fan-out. Register,
Unregister, Start and Stop take the write lock, which makes Stop wait for
in-flight publications before switching every muxer off.

# Muxer queues

A muxer keeps events in memory up to its high-watermark. Past it, the
oldest half is moved to a BoltDB file from pkg/storage in a single
transaction. Disk content is always older than memory content and Read
drains it first, so the queue stays FIFO across the boundary.

Events returned by Read remain unacknowledged until Ack. Acknowledging
events that came from disk releases their records; unacknowledged ones
are replayed after a restart when the cache file is kept.

A muxer that cannot spill (for example ErrDiskExhausted) is dead: the
engine drops it from the fan-out, logs the failure and keeps delivering
to everyone else. Its readers get ErrShutdown.

# Usage

	engine := multiplexing.NewEngine()
	sub, err := multiplexing.NewSubscriber(engine, "sql", multiplexing.MuxerConfig{
		ReadFilter:    multiplexing.CategoryFilter(events.CategoryStorage),
		HighWatermark: 10000,
		CacheDir:      "/var/lib/relay",
		Catalog:       catalog,
	})
	engine.Start()

	for {
		ev, err := sub.Muxer().Read(multiplexing.Forever)
		if errors.Is(err, multiplexing.ErrShutdown) {
			break
		}
		handle(ev)
		sub.Muxer().Ack(1)
	}
*/
package multiplexing
