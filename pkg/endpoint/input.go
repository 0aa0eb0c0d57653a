package endpoint

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/cuemby/relay/pkg/bbdo"
	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/multiplexing"
	"github.com/rs/zerolog"
)

// idleAck is how long an input waits before acknowledging a partial batch
const idleAck = time.Second

// input publishes the events a peer sends and acknowledges them
type input struct {
	name      string
	publisher multiplexing.Publisher
	ackLimit  int
	resync    bool
}

func (in *input) serve(ctx context.Context, stream *bbdo.Stream, logger zerolog.Logger) error {
	pending := 0
	flush := func() {
		if pending == 0 || in.ackLimit == 0 {
			return
		}
		if err := stream.Acknowledge(pending); err != nil {
			logger.Debug().Err(err).Int("events", pending).Msg("failed to acknowledge events")
			return
		}
		pending = 0
	}
	defer flush()

	for {
		e, err := stream.Read(idleAck)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, io.EOF):
				logger.Info().Msg("peer closed the stream")
				return nil
			case errors.Is(err, bbdo.ErrCorruptFrame) && in.resync:
				continue
			default:
				return err
			}
		}
		if e == nil {
			flush()
			continue
		}

		if err := in.publisher.Publish(e); err != nil {
			return err
		}
		metrics.EndpointEvents.WithLabelValues(in.name, "in").Inc()

		pending++
		if in.ackLimit > 0 && pending >= in.ackLimit {
			flush()
		}
	}
}
