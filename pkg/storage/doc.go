/*
Package storage provides the persistent cache behind muxer overflow.

When a muxer holds more events than its memory high-watermark allows, it
moves the oldest ones into a Cache. The only implementation, BoltCache,
keeps them in a BoltDB file owned by exactly one muxer, so no locking is
shared between queues.

# Layout

	┌──────────── <cache_dir>/<muxer>.queue.db ─────────────┐
	│ bucket "queue"                                         │
	│   key   = 8-byte big-endian sequence (NextSequence)    │
	│   value = type(4) source(4) destination(4) flags(1)    │
	│           body (catalog encoding, zstd if flags&1)     │
	└────────────────────────────────────────────────────────┘

Keys grow monotonically, so a cursor walk returns events in insertion
order. Get advances an in-memory read cursor without deleting anything;
Release deletes the oldest consumed records once the consumer has
acknowledged them. Unreleased records survive a restart and are replayed.

# Transactions

Spilling a burst of events costs one fsync:

	txn, err := cache.Transaction()
	for _, e := range batch {
		if err := txn.Put(e); err != nil {
			txn.Rollback()
			return err
		}
	}
	return txn.Commit()

# Exhaustion

Options.MaxBytes caps the space held by queued records: key, value and
bolt's per-record leaf overhead, counted across every Put of a batch. Space
freed by Release is available again; the file itself never shrinks. A
write past the cap, or an out-of-space error from the filesystem, fails
with ErrDiskExhausted. The muxer treats that as fatal for itself only.
*/
package storage
