package endpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cuemby/relay/pkg/config"
	"github.com/cuemby/relay/pkg/events"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/multiplexing"
	"github.com/rs/zerolog"
)

// Manager builds the configured endpoints and runs them
type Manager struct {
	endpoints []*Endpoint
	logger    zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// NewManager creates every endpoint of cfg. Nothing runs until Start.
func NewManager(cfg *config.Config, engine *multiplexing.Engine, catalog *events.Catalog) (*Manager, error) {
	m := &Manager{logger: log.WithComponent("endpoints")}

	opts := Options{
		Engine:     engine,
		Catalog:    catalog,
		InstanceID: cfg.Broker.InstanceID,
		CacheDir:   cfg.Broker.CacheDir,
		BBDO:       cfg.BBDO,
		Muxer:      cfg.Muxer,
	}

	for _, epCfg := range cfg.Endpoints {
		ep, err := New(epCfg, opts)
		if err != nil {
			_ = m.closeAll()
			return nil, err
		}
		m.endpoints = append(m.endpoints, ep)
	}
	return m, nil
}

// Endpoints returns the endpoints in configuration order
func (m *Manager) Endpoints() []*Endpoint {
	return m.endpoints
}

// Endpoint returns the endpoint named name, or nil
func (m *Manager) Endpoint(name string) *Endpoint {
	for _, ep := range m.endpoints {
		if ep.Name() == name {
			return ep
		}
	}
	return nil
}

// Start runs every endpoint in its own goroutine
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil || m.stopped {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)

	for _, ep := range m.endpoints {
		m.wg.Add(1)
		go func(ep *Endpoint) {
			defer m.wg.Done()
			if err := ep.Run(ctx); err != nil {
				m.logger.Error().Err(err).Str("endpoint", ep.Name()).Msg("endpoint failed")
			}
		}(ep)
	}
	m.logger.Info().Int("endpoints", len(m.endpoints)).Msg("endpoints started")
}

// Stop cancels every endpoint, waits for them and releases their
// subscribers. Undelivered output events follow the muxer close policy.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	return m.closeAll()
}

func (m *Manager) closeAll() error {
	var errs []error
	for _, ep := range m.endpoints {
		if err := ep.Close(); err != nil {
			errs = append(errs, fmt.Errorf("endpoint %s: %w", ep.Name(), err))
		}
	}
	return errors.Join(errs...)
}
