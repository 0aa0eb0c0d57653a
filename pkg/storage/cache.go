package storage

import (
	"errors"

	"github.com/cuemby/relay/pkg/events"
)

// ErrDiskExhausted is returned when a cache cannot grow any further
var ErrDiskExhausted = errors.New("disk cache exhausted")

// Cache is a persistent FIFO of events backing a muxer's overflow.
// Events come back from Get in the order they were committed. Events
// handed out by Get stay on disk until Release drops them, so a crash
// between Get and Release replays them on the next Open.
type Cache interface {
	// Transaction starts a batch of writes committed atomically
	Transaction() (Txn, error)

	// Put appends a single event
	Put(e events.Event) error

	// Get returns the oldest unread event, or nil when none is left.
	// Records that cannot be decoded are deleted and never returned.
	Get() (events.Event, error)

	// Release drops the n oldest events already returned by Get
	Release(n int) error

	// Len returns the number of unread events
	Len() int

	// Close releases the underlying file
	Close() error

	// Remove closes the cache and deletes its file
	Remove() error
}

// Txn is a batch of cache writes
type Txn interface {
	Put(e events.Event) error
	Commit() error
	Rollback() error
}
