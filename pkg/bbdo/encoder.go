package bbdo

import (
	"fmt"
	"io"

	"github.com/cuemby/relay/pkg/events"
	"github.com/cuemby/relay/pkg/metrics"
)

// Encoder writes events as BBDO frames
type Encoder struct {
	w       io.Writer
	catalog *events.Catalog
	buf     []byte
}

// NewEncoder creates an encoder writing to w
func NewEncoder(w io.Writer, catalog *events.Catalog) *Encoder {
	return &Encoder{w: w, catalog: catalog}
}

// Encode serializes e and writes all of its frames in a single Write.
// Encode is not safe for concurrent use.
func (enc *Encoder) Encode(e events.Event) error {
	var source, destination uint32
	if route := e.Route(); route != nil {
		source, destination = route.SourceID, route.DestinationID
	}
	return enc.encodeRouted(e, source, destination)
}

// encodeRouted encodes e with the given route instead of the event's own
func (enc *Encoder) encodeRouted(e events.Event, source, destination uint32) error {
	timer := metrics.NewTimer()

	body, err := enc.catalog.Encode(e)
	if err != nil {
		return err
	}

	var frames int
	enc.buf, frames = appendFrames(enc.buf[:0], e.Type(), source, destination, body)
	if _, err := enc.w.Write(enc.buf); err != nil {
		return fmt.Errorf("failed to write %s: %w", enc.catalog.Name(e.Type()), err)
	}

	// Keep one large event from pinning a large buffer forever
	if cap(enc.buf) > 4*(MaxPayloadSize+HeaderSize) {
		enc.buf = nil
	}

	metrics.BBDOFrames.WithLabelValues("out").Add(float64(frames))
	timer.ObserveDuration(metrics.BBDOEncodeDuration)
	return nil
}
