package endpoint

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/cuemby/relay/pkg/bbdo"
	"github.com/cuemby/relay/pkg/events"
	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/multiplexing"
	"github.com/rs/zerolog"
)

// output writes its muxer's events to the peer. Events written but not yet
// acknowledged by the peer are kept and written again to the next peer.
type output struct {
	name      string
	muxer     *multiplexing.Muxer
	immediate bool
	writeOnly bool
	resync    bool
	logger    zerolog.Logger

	mu      sync.Mutex
	pending []events.Event
}

func (o *output) serve(ctx context.Context, stream *bbdo.Stream, logger zerolog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := o.replay(stream, logger); err != nil {
		return err
	}

	peerErr := make(chan error, 1)
	// The peer side is drained even when acks are ignored, so the peer
	// never blocks writing them
	if !o.writeOnly {
		go func() {
			peerErr <- o.consumeAcks(ctx, stream, logger)
			cancel()
		}()
	}

	for {
		e, err := o.muxer.ReadContext(ctx)
		if err != nil {
			select {
			case perr := <-peerErr:
				return perr
			default:
			}
			if errors.Is(err, multiplexing.ErrShutdown) {
				return err
			}
			return nil
		}

		o.mu.Lock()
		o.pending = append(o.pending, e)
		o.mu.Unlock()

		if err := stream.Write(e); err != nil {
			return err
		}
		metrics.EndpointEvents.WithLabelValues(o.name, "out").Inc()

		if o.immediate {
			o.ack(1)
		}
	}
}

// replay writes the events the previous peer never acknowledged
func (o *output) replay(stream *bbdo.Stream, logger zerolog.Logger) error {
	o.mu.Lock()
	replay := append([]events.Event(nil), o.pending...)
	o.mu.Unlock()

	if len(replay) == 0 {
		return nil
	}
	logger.Info().Int("events", len(replay)).Msg("replaying unacknowledged events")

	for _, e := range replay {
		if err := stream.Write(e); err != nil {
			return err
		}
	}
	if o.immediate {
		o.ack(len(replay))
	}
	return nil
}

// consumeAcks reads the peer side of the stream until it fails
func (o *output) consumeAcks(ctx context.Context, stream *bbdo.Stream, logger zerolog.Logger) error {
	for {
		e, err := stream.Read(time.Second)
		if n := stream.TakeAcknowledged(); n > 0 && !o.immediate {
			o.ack(n)
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, bbdo.ErrCorruptFrame) && o.resync {
				continue
			}
			return err
		}
		if e != nil {
			logger.Warn().Stringer("type", e.Type()).Msg("ignoring data event sent to an output")
		}
	}
}

func (o *output) ack(n int) {
	o.mu.Lock()
	n = min(n, len(o.pending))
	clear(o.pending[:n])
	o.pending = o.pending[n:]
	o.mu.Unlock()

	if n == 0 {
		return
	}
	if err := o.muxer.Ack(n); err != nil {
		o.logger.Error().Err(err).Int("events", n).Msg("failed to acknowledge muxer")
	}
}
