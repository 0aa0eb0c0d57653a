package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cuemby/relay/pkg/bbdo"
	"github.com/cuemby/relay/pkg/config"
	"github.com/cuemby/relay/pkg/events"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/multiplexing"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options are the process-wide settings shared by every endpoint
type Options struct {
	Engine     *multiplexing.Engine
	Catalog    *events.Catalog
	InstanceID uint32
	CacheDir   string
	BBDO       config.BBDOConfig
	Muxer      config.MuxerConfig
}

// Endpoint moves events between the engine and one peer, over TCP or a
// file. Inputs publish what they decode; outputs own a subscriber and
// write what it receives.
type Endpoint struct {
	cfg    config.EndpointConfig
	opts   Options
	logger zerolog.Logger

	in  *input
	out *output
	sub *multiplexing.Subscriber

	mu        sync.Mutex
	addr      net.Addr
	ready     chan struct{}
	readyOnce sync.Once
	closeOnce sync.Once
}

// New builds an endpoint. Outputs register their subscriber right away so
// events published before the peer connects are retained.
func New(cfg config.EndpointConfig, opts Options) (*Endpoint, error) {
	ep := &Endpoint{
		cfg:    cfg,
		opts:   opts,
		logger: log.WithEndpoint(cfg.Name),
		ready:  make(chan struct{}),
	}

	switch cfg.Direction {
	case config.DirectionInput:
		ep.in = &input{
			name:      cfg.Name,
			publisher: multiplexing.NewPublisher(opts.Engine),
			ackLimit:  opts.BBDO.AckLimit,
			resync:    opts.BBDO.Resync,
		}
	case config.DirectionOutput:
		filter, err := multiplexing.ParseFilter(cfg.Filters)
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", cfg.Name, err)
		}
		sub, err := multiplexing.NewSubscriber(opts.Engine, cfg.Name, multiplexing.MuxerConfig{
			ReadFilter:     filter,
			HighWatermark:  opts.Muxer.HighWatermark,
			CacheDir:       opts.CacheDir,
			MaxDiskBytes:   opts.Muxer.MaxDiskBytes,
			Compress:       opts.Muxer.Compress,
			PersistOnClose: opts.Muxer.PersistOnClose,
			Catalog:        opts.Catalog,
		})
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", cfg.Name, err)
		}
		ep.sub = sub
		ep.out = &output{
			name:      cfg.Name,
			muxer:     sub.Muxer(),
			immediate: opts.BBDO.AckLimit == 0 || cfg.Transport == config.TransportFile,
			writeOnly: cfg.Transport == config.TransportFile,
			resync:    opts.BBDO.Resync,
			logger:    ep.logger,
		}
	default:
		return nil, fmt.Errorf("endpoint %s: unknown direction %q", cfg.Name, cfg.Direction)
	}

	metrics.RegisterComponent(ep.component(), false, "not connected")
	return ep, nil
}

// Name returns the configured endpoint name
func (ep *Endpoint) Name() string {
	return ep.cfg.Name
}

// Config returns the endpoint configuration
func (ep *Endpoint) Config() config.EndpointConfig {
	return ep.cfg
}

// Subscriber returns the output's subscriber, nil for inputs
func (ep *Endpoint) Subscriber() *multiplexing.Subscriber {
	return ep.sub
}

// Ready is closed once the endpoint is accepting or connecting
func (ep *Endpoint) Ready() <-chan struct{} {
	return ep.ready
}

// Addr returns the listening address of a listen endpoint after Ready
func (ep *Endpoint) Addr() net.Addr {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.addr
}

func (ep *Endpoint) component() string {
	return "endpoint/" + ep.cfg.Name
}

func (ep *Endpoint) markReady() {
	ep.readyOnce.Do(func() { close(ep.ready) })
}

// Run serves the endpoint until ctx is done. File inputs return once the
// file is replayed; outputs return once their muxer shuts down.
func (ep *Endpoint) Run(ctx context.Context) error {
	ep.logger.Info().
		Str("direction", ep.cfg.Direction).
		Str("transport", ep.cfg.Transport).
		Str("mode", ep.cfg.Mode).
		Msg("endpoint starting")
	defer ep.logger.Info().Msg("endpoint stopped")

	switch {
	case ep.cfg.Transport == config.TransportFile:
		return ep.runFile(ctx)
	case ep.cfg.Mode == config.ModeListen:
		return ep.runListen(ctx)
	default:
		return ep.runConnect(ctx)
	}
}

func (ep *Endpoint) runListen(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", ep.cfg.Address)
	if err != nil {
		metrics.UpdateComponent(ep.component(), false, err.Error())
		ep.markReady()
		return fmt.Errorf("endpoint %s: failed to listen: %w", ep.cfg.Name, err)
	}

	ep.mu.Lock()
	ep.addr = ln.Addr()
	ep.mu.Unlock()
	ep.markReady()
	metrics.UpdateComponent(ep.component(), true, "listening on "+ln.Addr().String())
	ep.logger.Info().Str("address", ln.Addr().String()).Msg("listening")

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer ln.Close()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("endpoint %s: accept failed: %w", ep.cfg.Name, err)
		}

		// Inputs serve every producer concurrently; an output feeds one
		// peer at a time from its single muxer
		if ep.in != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ep.logConnError(ep.serve(ctx, conn, conn.RemoteAddr().String(), bbdo.NegotiateBoth))
			}()
			continue
		}

		err = ep.serve(ctx, conn, conn.RemoteAddr().String(), bbdo.NegotiateBoth)
		if errors.Is(err, multiplexing.ErrShutdown) {
			return nil
		}
		ep.logConnError(err)
	}
}

func (ep *Endpoint) runConnect(ctx context.Context) error {
	ep.markReady()
	var dialer net.Dialer

	for {
		conn, err := dialer.DialContext(ctx, "tcp", ep.cfg.Address)
		if err == nil {
			err = ep.serve(ctx, conn, ep.cfg.Address, bbdo.NegotiateBoth)
			if errors.Is(err, multiplexing.ErrShutdown) {
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		status := "disconnected"
		if err != nil {
			ep.logConnError(err)
			status += ": " + err.Error()
		}
		metrics.UpdateComponent(ep.component(), false, status)
		ep.logger.Info().Dur("retry_interval", ep.cfg.RetryInterval).Msg("reconnecting after interval")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(ep.cfg.RetryInterval):
		}
	}
}

func (ep *Endpoint) runFile(ctx context.Context) error {
	ep.markReady()

	var (
		f           *os.File
		err         error
		negotiation bbdo.Negotiation
	)
	if ep.in != nil {
		f, err = os.Open(ep.cfg.Path)
		negotiation = bbdo.NegotiateReceive
	} else {
		f, err = os.OpenFile(ep.cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		negotiation = bbdo.NegotiateSend
	}
	if err != nil {
		metrics.UpdateComponent(ep.component(), false, err.Error())
		return fmt.Errorf("endpoint %s: %w", ep.cfg.Name, err)
	}

	err = ep.serve(ctx, bbdo.NopDeadline(f), ep.cfg.Path, negotiation)
	if errors.Is(err, multiplexing.ErrShutdown) {
		return nil
	}
	return err
}

// serve runs one connection to completion
func (ep *Endpoint) serve(ctx context.Context, t bbdo.Transport, remote string, negotiation bbdo.Negotiation) error {
	connID := uuid.New().String()
	logger := log.WithConnection(ep.logger, connID).With().Str("remote", remote).Logger()

	stream := bbdo.NewStream(t, ep.opts.Catalog, bbdo.StreamConfig{
		InstanceID:         ep.opts.InstanceID,
		Extensions:         ep.opts.BBDO.Extensions,
		Resync:             ep.opts.BBDO.Resync,
		NegotiationTimeout: ep.opts.BBDO.NegotiationTimeout,
		Negotiation:        negotiation,
		Logger:             &logger,
	})
	stop := context.AfterFunc(ctx, func() { _ = stream.Close() })
	defer stop()
	defer stream.Close()

	if err := stream.Negotiate(); err != nil {
		return fmt.Errorf("negotiation with %s failed: %w", remote, err)
	}

	metrics.EndpointConnections.WithLabelValues(ep.cfg.Name).Inc()
	defer metrics.EndpointConnections.WithLabelValues(ep.cfg.Name).Dec()
	metrics.UpdateComponent(ep.component(), true, "connected to "+remote)
	logger.Info().Strs("extensions", stream.Extensions()).Msg("peer connected")

	if ep.in != nil {
		return ep.in.serve(ctx, stream, logger)
	}
	return ep.out.serve(ctx, stream, logger)
}

func (ep *Endpoint) logConnError(err error) {
	if err == nil {
		return
	}
	if errors.Is(err, bbdo.ErrProtocolMismatch) {
		ep.logger.Error().Err(err).Msg("peer rejected")
		return
	}
	ep.logger.Warn().Err(err).Msg("connection ended")
}

// Close releases the output's subscriber. Run must have returned.
func (ep *Endpoint) Close() error {
	var err error
	ep.closeOnce.Do(func() {
		metrics.RemoveComponent(ep.component())
		if ep.sub != nil {
			err = ep.sub.Close()
		}
	})
	return err
}
