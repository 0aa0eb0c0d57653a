package bbdo

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/cuemby/relay/pkg/events"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/metrics"
	"github.com/rs/zerolog"
)

const readChunk = 64 * 1024

type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Decoder reads BBDO frames and reassembles them into events. Bytes read
// before a timeout are kept, so a frame split across reads is decoded once
// the rest arrives.
type Decoder struct {
	r       io.Reader
	catalog *events.Catalog
	resync  bool
	logger  zerolog.Logger

	buf []byte
	off int

	// reassembly of a fragmented event
	assembling bool
	first      header
	body       []byte

	resyncing bool
	skipped   int
	err       error
}

// NewDecoder creates a decoder reading from r. With resync enabled a bad
// frame is reported once and the decoder scans forward for the next valid
// frame; otherwise the first bad frame fails the decoder for good. While
// scanning, a valid frame already buffered is never held back by garbage
// whose length field points past the buffered bytes.
func NewDecoder(r io.Reader, catalog *events.Catalog, resync bool) *Decoder {
	return &Decoder{
		r:       r,
		catalog: catalog,
		resync:  resync,
		logger:  log.WithComponent("bbdo"),
	}
}

// SetLogger replaces the decoder's logger
func (d *Decoder) SetLogger(l zerolog.Logger) {
	d.logger = l
}

// Decode returns the next event. If r supports read deadlines, timeout
// bounds the wait: a negative timeout blocks, zero only returns an event
// that is already buffered. A nil event with a nil error means the
// timeout expired.
func (d *Decoder) Decode(timeout time.Duration) (events.Event, error) {
	if d.err != nil {
		return nil, d.err
	}

	if dl, ok := d.r.(deadliner); ok {
		var deadline time.Time
		if timeout >= 0 {
			deadline = time.Now().Add(timeout)
		}
		if err := dl.SetReadDeadline(deadline); err != nil {
			return nil, fmt.Errorf("failed to set read deadline: %w", err)
		}
	}

	for {
		e, err := d.next()
		if err != nil || e != nil {
			return e, err
		}

		if err := d.fill(); err != nil {
			if isTimeout(err) {
				return nil, nil
			}
			if errors.Is(err, io.EOF) && d.buffered() > 0 {
				err = io.ErrUnexpectedEOF
			}
			d.err = err
			return nil, err
		}
	}
}

func (d *Decoder) buffered() int {
	return len(d.buf) - d.off
}

// fill reads at least one more byte into the buffer
func (d *Decoder) fill() error {
	if d.off > 0 && d.off >= len(d.buf)/2 {
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}
	if cap(d.buf)-len(d.buf) < readChunk {
		grown := make([]byte, len(d.buf), len(d.buf)+readChunk)
		copy(grown, d.buf)
		d.buf = grown
	}

	n, err := d.r.Read(d.buf[len(d.buf):cap(d.buf)])
	d.buf = d.buf[:len(d.buf)+n]
	if n > 0 {
		return nil
	}
	if err == nil {
		err = io.ErrNoProgress
	}
	return err
}

// next decodes from buffered bytes only. It returns nil, nil when more
// input is needed.
func (d *Decoder) next() (events.Event, error) {
	for {
		if d.buffered() < HeaderSize {
			return nil, nil
		}
		b := d.buf[d.off:]
		h := parseHeader(b)

		if h.length > MaxPayloadSize {
			if err := d.corrupt(h, "length exceeds maximum"); err != nil {
				return nil, err
			}
			continue
		}
		if len(b) < HeaderSize+h.length {
			if d.resyncing && d.skipAhead() {
				continue
			}
			return nil, nil
		}

		body := b[HeaderSize : HeaderSize+h.length]
		if frameChecksum(b[:HeaderSize+h.length]) != h.checksum {
			if err := d.corrupt(h, "checksum mismatch"); err != nil {
				return nil, err
			}
			continue
		}

		if d.resyncing {
			d.logger.Info().Int("skipped_bytes", d.skipped).Msg("stream resynchronized")
			d.resyncing = false
		}

		if d.assembling && !d.first.sameRoute(h) {
			// Leave this frame in the buffer: it starts a new event
			d.assembling = false
			d.body = nil
			metrics.BBDOCorruptFrames.Inc()
			d.logger.Warn().
				Stringer("expected", d.first.typ).
				Stringer("got", h.typ).
				Msg("continuation frame does not match fragmented event")
			err := fmt.Errorf("%w: continuation of %s carries %s", ErrCorruptFrame, d.first.typ, h.typ)
			if !d.resync {
				d.err = err
			}
			return nil, err
		}

		d.off += HeaderSize + h.length
		metrics.BBDOFrames.WithLabelValues("in").Inc()

		if h.length == MaxPayloadSize {
			if !d.assembling {
				d.assembling = true
				d.first = h
				d.body = d.body[:0]
			}
			d.body = append(d.body, body...)
			continue
		}

		payload := body
		if d.assembling {
			d.body = append(d.body, body...)
			payload = d.body
			d.assembling = false
		}

		e, err := d.decode(h, payload)
		d.body = nil
		if err != nil || e != nil {
			return e, err
		}
	}
}

// skipAhead is used while resynchronizing, when the candidate header at the
// current offset claims more bytes than are buffered. Rather than wait for
// data that garbage may never be followed by, it moves to the first
// complete, valid frame already in the buffer and reports whether it found
// one.
func (d *Decoder) skipAhead() bool {
	b := d.buf[d.off:]
	for i := 1; i+HeaderSize <= len(b); i++ {
		h := parseHeader(b[i:])
		end := i + HeaderSize + h.length
		if h.length > MaxPayloadSize || end > len(b) {
			continue
		}
		if frameChecksum(b[i:end]) != h.checksum {
			continue
		}
		d.off += i
		d.skipped += i
		return true
	}
	return false
}

// corrupt handles a frame failing validation at the current offset
func (d *Decoder) corrupt(h header, reason string) error {
	if d.resyncing {
		d.off++
		d.skipped++
		return nil
	}

	metrics.BBDOCorruptFrames.Inc()
	d.logger.Warn().
		Str("reason", reason).
		Stringer("type", h.typ).
		Int("length", h.length).
		Bool("resync", d.resync).
		Msg("invalid bbdo frame")

	err := fmt.Errorf("%w: %s", ErrCorruptFrame, reason)
	if !d.resync {
		d.err = err
		return err
	}

	d.resyncing = true
	d.skipped = 1
	d.assembling = false
	d.body = nil
	d.off++
	return err
}

// decode builds the event from a reassembled payload. Unknown types are
// skipped and yield nil, nil.
func (d *Decoder) decode(h header, payload []byte) (events.Event, error) {
	if _, ok := d.catalog.Lookup(h.typ); !ok {
		metrics.BBDOUnknownEvents.Inc()
		d.logger.Warn().
			Stringer("type", h.typ).
			Int("size", len(payload)).
			Msg("skipping event of unknown type")
		return nil, nil
	}

	e, err := d.catalog.Decode(h.typ, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFrame, err)
	}
	if route := e.Route(); route != nil {
		route.SourceID = h.source
		route.DestinationID = h.destination
	}
	return e, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
