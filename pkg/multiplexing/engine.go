package multiplexing

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cuemby/relay/pkg/events"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/metrics"
	"github.com/rs/zerolog"
)

var (
	// ErrEngineNotRunning is returned by Publish outside the running state
	ErrEngineNotRunning = errors.New("multiplexing engine is not running")
)

// State is the lifecycle state of the engine
type State int

const (
	NotStarted State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Engine fans published events out to every registered muxer whose read
// filter accepts them. One engine is built per process by its composition
// root and shared by reference.
type Engine struct {
	mu     sync.RWMutex
	state  State
	muxers []*Muxer
	logger zerolog.Logger
}

// NewEngine creates a new engine in the NotStarted state
func NewEngine() *Engine {
	return &Engine{
		logger: log.WithComponent("engine"),
	}
}

// State returns the current lifecycle state
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Running reports whether the engine accepts publications
func (e *Engine) Running() bool {
	return e.State() == Running
}

// Start moves the engine to Running and re-enables processing on every
// registered muxer. Starting a running engine does nothing.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == Running {
		return
	}
	e.state = Running
	for _, m := range e.muxers {
		m.SetProcessing(true, true)
	}

	metrics.EngineRunning.Set(1)
	e.logger.Info().Int("muxers", len(e.muxers)).Msg("multiplexing engine started")
}

// Stop moves a running engine to Stopped. It waits for in-flight
// publications to finish, then turns processing off on every muxer,
// which wakes their blocked readers. Stopping twice is harmless.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != Running {
		return
	}
	e.state = Stopped
	for _, m := range e.muxers {
		m.SetProcessing(false, false)
	}

	metrics.EngineRunning.Set(0)
	e.logger.Info().Msg("multiplexing engine stopped")
}

// Publish offers ev to every registered muxer accepting its type. A muxer
// that fails to take the event is removed from the engine; delivery to the
// others is unaffected.
func (e *Engine) Publish(ev events.Event) error {
	if ev == nil {
		return fmt.Errorf("cannot publish nil event")
	}

	var failed []*Muxer

	e.mu.RLock()
	if e.state != Running {
		e.mu.RUnlock()
		metrics.EventsRejected.Inc()
		return ErrEngineNotRunning
	}
	t := ev.Type()
	for _, m := range e.muxers {
		if !m.ReadFilter().Accepts(t) {
			continue
		}
		if err := m.push(ev); err != nil {
			e.logger.Error().
				Err(err).
				Str("muxer", m.Name()).
				Stringer("type", t).
				Msg("muxer failed to accept event, event lost for this muxer")
			failed = append(failed, m)
		}
	}
	e.mu.RUnlock()

	metrics.EventsPublished.Inc()

	for _, m := range failed {
		e.Unregister(m)
		metrics.MuxerFailures.Inc()
	}
	return nil
}

// Register adds m to the fan-out set. Names must be unique.
func (e *Engine) Register(m *Muxer) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, existing := range e.muxers {
		if existing == m {
			return nil
		}
		if existing.Name() == m.Name() {
			return fmt.Errorf("muxer %q already registered", m.Name())
		}
	}

	if e.state == Stopped {
		m.SetProcessing(false, false)
	}
	e.muxers = append(e.muxers, m)
	metrics.MuxersTotal.Set(float64(len(e.muxers)))

	e.logger.Debug().
		Str("muxer", m.Name()).
		Str("read_filter", m.ReadFilter().String()).
		Msg("muxer registered")
	return nil
}

// Unregister removes m from the fan-out set
func (e *Engine) Unregister(m *Muxer) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, existing := range e.muxers {
		if existing == m {
			e.muxers = append(e.muxers[:i:i], e.muxers[i+1:]...)
			metrics.MuxersTotal.Set(float64(len(e.muxers)))
			e.logger.Debug().Str("muxer", m.Name()).Msg("muxer unregistered")
			return
		}
	}
}

// Hook registers an always-accepting muxer that observes the full stream
func (e *Engine) Hook(name string) (*Muxer, error) {
	m, err := NewMuxer(name, MuxerConfig{ReadFilter: All()})
	if err != nil {
		return nil, err
	}
	m.hook = true
	if err := e.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Unhook removes and closes a hook
func (e *Engine) Unhook(m *Muxer) error {
	e.Unregister(m)
	return m.Close()
}

// Muxers returns the registered muxers in registration order
func (e *Engine) Muxers() []*Muxer {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*Muxer(nil), e.muxers...)
}

// Stats returns a snapshot of every registered muxer
func (e *Engine) Stats() []MuxerStats {
	muxers := e.Muxers()
	stats := make([]MuxerStats, 0, len(muxers))
	for _, m := range muxers {
		stats = append(stats, m.Stats())
	}
	return stats
}

// QueueSamples implements metrics.Source
func (e *Engine) QueueSamples() []metrics.QueueSample {
	stats := e.Stats()
	samples := make([]metrics.QueueSample, 0, len(stats))
	for _, s := range stats {
		samples = append(samples, metrics.QueueSample{
			Name:    s.Name,
			Memory:  s.Memory,
			Disk:    s.Disk,
			Unacked: s.Unacked,
		})
	}
	return samples
}
