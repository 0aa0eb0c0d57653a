package multiplexing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/relay/pkg/events"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/storage"
	"github.com/rs/zerolog"
)

var (
	// ErrShutdown means the muxer no longer accepts or delivers events
	ErrShutdown = errors.New("muxer is shut down")
)

// Forever makes Read block until an event arrives or the muxer shuts down
const Forever time.Duration = -1

// MuxerConfig configures a muxer
type MuxerConfig struct {
	// ReadFilter selects the events the engine pushes into the muxer
	ReadFilter *Filter

	// WriteFilter selects the events Write accepts
	WriteFilter *Filter

	// HighWatermark bounds the events kept in memory; zero means unbounded.
	// Only enforced when CacheDir is set.
	HighWatermark int

	// CacheDir holds the overflow file; empty disables overflow
	CacheDir string

	// MaxDiskBytes caps the overflow file; zero means no cap
	MaxDiskBytes int64

	// Compress stores overflowed events zstd-compressed
	Compress bool

	// PersistOnClose flushes undelivered events to disk on Close
	// instead of discarding them
	PersistOnClose bool

	// Catalog (de)serializes overflowed events; required with CacheDir
	Catalog *events.Catalog
}

// MuxerStats is a snapshot of a muxer's queue
type MuxerStats struct {
	Name       string `json:"name"`
	Memory     int    `json:"memory"`
	Disk       int    `json:"disk"`
	Unacked    int    `json:"unacked"`
	Filtered   uint64 `json:"filtered"`
	ProcessIn  bool   `json:"process_in"`
	ProcessOut bool   `json:"process_out"`
	Hook       bool   `json:"hook"`
	Dead       bool   `json:"dead"`
	ReadFilter string `json:"read_filter"`
}

// ackRun is a run of consecutive delivered events sharing an origin.
// Memory runs of a persisting muxer keep their events until acknowledged
// so Close can write them back to disk.
type ackRun struct {
	fromDisk bool
	count    int
	held     []events.Event
}

// Muxer is a per-consumer FIFO of events fed by the engine. Memory is
// bounded by the high-watermark; older events overflow to a disk cache
// and are always delivered before the ones still in memory.
type Muxer struct {
	name   string
	cfg    MuxerConfig
	hook   bool
	logger zerolog.Logger

	mu         sync.Mutex
	cond       *sync.Cond
	queue      []events.Event
	head       int
	cache      storage.Cache
	unacked    []ackRun
	processIn  bool
	processOut bool
	dead       error
	closed     bool
	filtered   uint64
}

// NewMuxer creates a muxer. When cfg.CacheDir is set the overflow file
// is opened right away and events left in it by a previous run are
// delivered first.
func NewMuxer(name string, cfg MuxerConfig) (*Muxer, error) {
	if name == "" {
		return nil, fmt.Errorf("muxer name is required")
	}

	m := &Muxer{
		name:       name,
		cfg:        cfg,
		logger:     log.WithMuxer(name),
		processIn:  true,
		processOut: true,
	}
	m.cond = sync.NewCond(&m.mu)

	if cfg.CacheDir != "" {
		if cfg.Catalog == nil {
			return nil, fmt.Errorf("muxer %s: catalog is required for disk overflow", name)
		}
		cache, err := storage.OpenBoltCache(storage.QueuePath(cfg.CacheDir, name), storage.Options{
			Catalog:  cfg.Catalog,
			MaxBytes: cfg.MaxDiskBytes,
			Compress: cfg.Compress,
		})
		if err != nil {
			return nil, fmt.Errorf("muxer %s: %w", name, err)
		}
		m.cache = cache
	}

	return m, nil
}

// Name returns the muxer name
func (m *Muxer) Name() string {
	return m.name
}

// ReadFilter returns the filter the engine applies before pushing
func (m *Muxer) ReadFilter() *Filter {
	return m.cfg.ReadFilter
}

// Write enqueues e if the write filter accepts it. It returns 1 when the
// event was queued and 0 when the filter dropped it.
func (m *Muxer) Write(e events.Event) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dead != nil || m.closed || !m.processOut {
		return 0, ErrShutdown
	}

	if !m.cfg.WriteFilter.Accepts(e.Type()) {
		m.filtered++
		metrics.MuxerFiltered.WithLabelValues(m.name).Inc()
		m.logger.Debug().Stringer("type", e.Type()).Msg("event rejected by write filter")
		return 0, nil
	}

	if err := m.pushLocked(e); err != nil {
		return 0, err
	}
	return 1, nil
}

// push is the engine-side entry point; the read filter was already applied
func (m *Muxer) push(e events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dead != nil {
		return m.dead
	}
	if m.closed || !m.processIn {
		return nil
	}
	return m.pushLocked(e)
}

func (m *Muxer) pushLocked(e events.Event) error {
	m.queue = append(m.queue, e)
	metrics.EventsDelivered.WithLabelValues(m.name).Inc()

	if m.cache != nil && m.cfg.HighWatermark > 0 && m.resident() > m.cfg.HighWatermark {
		if err := m.spillLocked(m.resident() - m.cfg.HighWatermark/2); err != nil {
			m.dead = err
			m.cond.Broadcast()
			m.logger.Error().Err(err).Msg("failed to spill events to disk, muxer is dead")
			return err
		}
	}

	m.cond.Broadcast()
	return nil
}

func (m *Muxer) resident() int {
	return len(m.queue) - m.head
}

// spillLocked moves the n oldest in-memory events to the disk cache in
// one transaction. Disk content is always older than memory content, so
// appending there keeps the overall order.
func (m *Muxer) spillLocked(n int) error {
	if n <= 0 {
		return nil
	}

	if err := m.writeDiskLocked(m.queue[m.head : m.head+n]); err != nil {
		return err
	}

	for i := 0; i < n; i++ {
		m.queue[m.head+i] = nil
	}
	m.head += n
	m.compact()

	metrics.MuxerSpilled.WithLabelValues(m.name).Add(float64(n))
	m.logger.Debug().Int("events", n).Msg("memory queue spilled to disk")
	return nil
}

// writeDiskLocked appends evs to the disk cache in one transaction
func (m *Muxer) writeDiskLocked(evs []events.Event) error {
	if len(evs) == 0 {
		return nil
	}

	txn, err := m.cache.Transaction()
	if err != nil {
		return err
	}
	for _, e := range evs {
		if err := txn.Put(e); err != nil {
			_ = txn.Rollback()
			return err
		}
	}
	return txn.Commit()
}

func (m *Muxer) compact() {
	if m.head > 0 && m.head*2 >= len(m.queue) {
		n := copy(m.queue, m.queue[m.head:])
		for i := n; i < len(m.queue); i++ {
			m.queue[i] = nil
		}
		m.queue = m.queue[:n]
		m.head = 0
	}
}

// Read returns the oldest pending event. A zero timeout polls, Forever
// blocks. A nil event with a nil error means the timeout expired.
// ErrShutdown is returned once the muxer is dead, or once it stopped
// processing and its queue is drained.
func (m *Muxer) Read(timeout time.Duration) (events.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
		timer := time.AfterFunc(timeout, m.wake)
		defer timer.Stop()
	}

	for {
		e, err := m.nextLocked()
		if err != nil || e != nil {
			return e, err
		}
		if timeout == 0 {
			return nil, nil
		}
		if timeout > 0 && !time.Now().Before(deadline) {
			return nil, nil
		}
		m.cond.Wait()
	}
}

// ReadContext blocks until an event is available, the muxer shuts down
// or ctx is done.
func (m *Muxer) ReadContext(ctx context.Context) (events.Event, error) {
	stop := context.AfterFunc(ctx, m.wake)
	defer stop()

	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		e, err := m.nextLocked()
		if err != nil || e != nil {
			return e, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m.cond.Wait()
	}
}

func (m *Muxer) wake() {
	m.mu.Lock()
	m.cond.Broadcast()
	m.mu.Unlock()
}

// nextLocked dequeues one event, disk first. It returns nil, nil when the
// queue is empty and the muxer is still live.
func (m *Muxer) nextLocked() (events.Event, error) {
	if m.dead != nil {
		return nil, ErrShutdown
	}

	if m.cache != nil && m.cache.Len() > 0 {
		e, err := m.cache.Get()
		if err != nil {
			m.dead = err
			m.logger.Error().Err(err).Msg("failed to read disk cache, muxer is dead")
			return nil, ErrShutdown
		}
		if e != nil {
			m.trackLocked(e, true)
			return e, nil
		}
	}

	if m.resident() > 0 {
		e := m.queue[m.head]
		m.queue[m.head] = nil
		m.head++
		m.compact()
		m.trackLocked(e, false)
		return e, nil
	}

	if m.closed || !m.processIn {
		return nil, ErrShutdown
	}
	return nil, nil
}

// trackLocked records a delivered event until it is acknowledged. Disk
// events stay in the cache until released; memory events are only kept
// when Close may have to persist them.
func (m *Muxer) trackLocked(e events.Event, fromDisk bool) {
	n := len(m.unacked)
	if n == 0 || m.unacked[n-1].fromDisk != fromDisk {
		m.unacked = append(m.unacked, ackRun{fromDisk: fromDisk})
		n++
	}
	run := &m.unacked[n-1]
	run.count++
	if !fromDisk && m.cache != nil && m.cfg.PersistOnClose {
		run.held = append(run.held, e)
	}
}

// heldLocked returns the memory events delivered but not acknowledged,
// oldest first
func (m *Muxer) heldLocked() []events.Event {
	var held []events.Event
	for _, run := range m.unacked {
		held = append(held, run.held...)
	}
	return held
}

// Ack acknowledges the n oldest events returned by Read. Disk storage
// held by acknowledged events is released. Events read but never
// acknowledged are written back to disk by Close when PersistOnClose is
// set.
func (m *Muxer) Ack(n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	fromDisk := 0
	for n > 0 && len(m.unacked) > 0 {
		run := &m.unacked[0]
		take := min(n, run.count)
		if run.fromDisk {
			fromDisk += take
		} else if len(run.held) > 0 {
			clear(run.held[:take])
			run.held = run.held[take:]
		}
		run.count -= take
		n -= take
		if run.count == 0 {
			m.unacked = m.unacked[1:]
		}
	}

	if fromDisk > 0 && m.cache != nil {
		if err := m.cache.Release(fromDisk); err != nil {
			return fmt.Errorf("muxer %s: %w", m.name, err)
		}
	}
	return nil
}

// SetProcessing switches inbound (engine pushes, and delivery once
// drained) and outbound (Write) processing. Blocked readers are woken.
func (m *Muxer) SetProcessing(in, out bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.processIn = in
	m.processOut = out
	m.cond.Broadcast()
}

// Close shuts the muxer down. With PersistOnClose, events delivered but
// not acknowledged are flushed to disk ahead of the undelivered ones;
// otherwise everything still queued is discarded.
func (m *Muxer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.processIn = false
	m.processOut = false
	m.cond.Broadcast()
	defer metrics.ForgetMuxer(m.name)

	pending := m.resident()
	if m.cache == nil {
		if pending > 0 {
			m.logger.Warn().Int("events", pending).Msg("discarding undelivered events")
		}
		m.queue, m.head = nil, 0
		return nil
	}

	if m.cfg.PersistOnClose {
		held := m.heldLocked()
		m.unacked = nil
		if m.dead != nil {
			// What already reached the disk stays there for the next run
			if lost := pending + len(held); lost > 0 {
				m.logger.Warn().Int("events", lost).Msg("discarding in-memory events of dead muxer")
			}
			m.queue, m.head = nil, 0
			return m.cache.Close()
		}

		flush := append(held, m.queue[m.head:]...)
		m.queue, m.head = nil, 0
		if err := m.writeDiskLocked(flush); err != nil {
			m.logger.Error().Err(err).Int("events", len(flush)).Msg("failed to persist in-memory events")
			_ = m.cache.Close()
			return fmt.Errorf("muxer %s: %w", m.name, err)
		}
		if len(flush) > 0 {
			m.logger.Info().
				Int("unacknowledged", len(held)).
				Int("undelivered", pending).
				Msg("in-memory events persisted to disk")
		}
		return m.cache.Close()
	}

	if pending > 0 || m.cache.Len() > 0 {
		m.logger.Warn().Int("events", pending+m.cache.Len()).Msg("discarding undelivered events")
	}
	m.queue, m.head = nil, 0
	return m.cache.Remove()
}

// Err returns the error that killed the muxer, if any
func (m *Muxer) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dead
}

// Stats returns a snapshot of the queue
func (m *Muxer) Stats() MuxerStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := MuxerStats{
		Name:       m.name,
		Memory:     m.resident(),
		Filtered:   m.filtered,
		ProcessIn:  m.processIn,
		ProcessOut: m.processOut,
		Hook:       m.hook,
		Dead:       m.dead != nil,
		ReadFilter: m.cfg.ReadFilter.String(),
	}
	if m.cache != nil && !m.closed {
		s.Disk = m.cache.Len()
	}
	for _, run := range m.unacked {
		s.Unacked += run.count
	}
	return s
}
