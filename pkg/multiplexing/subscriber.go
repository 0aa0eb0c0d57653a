package multiplexing

import (
	"sync"

	"github.com/cuemby/relay/pkg/events"
	"github.com/google/uuid"
)

// Subscriber owns one muxer registered with an engine for its lifetime
type Subscriber struct {
	engine    *Engine
	muxer     *Muxer
	closeOnce sync.Once
	closeErr  error
}

// NewSubscriber creates a muxer named name and registers it. An empty
// name gets a generated one.
func NewSubscriber(engine *Engine, name string, cfg MuxerConfig) (*Subscriber, error) {
	if name == "" {
		name = "subscriber-" + uuid.New().String()
	}

	m, err := NewMuxer(name, cfg)
	if err != nil {
		return nil, err
	}
	if err := engine.Register(m); err != nil {
		_ = m.Close()
		return nil, err
	}

	return &Subscriber{engine: engine, muxer: m}, nil
}

// Muxer returns the subscriber's muxer
func (s *Subscriber) Muxer() *Muxer {
	return s.muxer
}

// Close unregisters the muxer and closes it
func (s *Subscriber) Close() error {
	s.closeOnce.Do(func() {
		s.engine.Unregister(s.muxer)
		s.closeErr = s.muxer.Close()
	})
	return s.closeErr
}

// Publisher pushes events into an engine. It is a plain value and may be
// copied and shared freely.
type Publisher struct {
	engine *Engine
}

// NewPublisher returns a publisher bound to engine
func NewPublisher(engine *Engine) Publisher {
	return Publisher{engine: engine}
}

// Publish hands e to the engine
func (p Publisher) Publish(e events.Event) error {
	return p.engine.Publish(e)
}

// Write publishes e and reports one processed event, for stream-style callers
func (p Publisher) Write(e events.Event) (int, error) {
	if err := p.engine.Publish(e); err != nil {
		return 0, err
	}
	return 1, nil
}
