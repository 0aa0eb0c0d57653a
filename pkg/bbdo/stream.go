package bbdo

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/relay/pkg/events"
	"github.com/cuemby/relay/pkg/log"
	"github.com/rs/zerolog"
)

var (
	// ErrNotStreaming is returned by data operations before negotiation
	// succeeds or after Close
	ErrNotStreaming = errors.New("bbdo stream is not streaming")
)

// Transport is the byte stream a Stream runs over. net.Conn satisfies it.
type Transport interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

type nopDeadline struct {
	io.ReadWriteCloser
}

func (nopDeadline) SetReadDeadline(time.Time) error { return nil }

// NopDeadline adapts a transport without deadlines, such as a file. Reads
// on it block until data or EOF.
func NopDeadline(rwc io.ReadWriteCloser) Transport {
	return nopDeadline{rwc}
}

// State of a stream
type State int

const (
	AwaitingNegotiation State = iota
	Streaming
	Closed
)

func (s State) String() string {
	switch s {
	case AwaitingNegotiation:
		return "awaiting_negotiation"
	case Streaming:
		return "streaming"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Negotiation selects which half of the version exchange a stream performs
type Negotiation int

const (
	// NegotiateBoth sends our version and waits for the peer's
	NegotiateBoth Negotiation = iota
	// NegotiateSend only announces our version, for write-only sinks
	NegotiateSend
	// NegotiateReceive only checks the peer's version, for replayed dumps
	NegotiateReceive
)

// StreamConfig configures a stream
type StreamConfig struct {
	// InstanceID is stamped as source on events that carry none
	InstanceID uint32

	// Extensions offered during negotiation
	Extensions []string

	// Resync keeps the stream alive across corrupt frames
	Resync bool

	// NegotiationTimeout bounds the wait for the peer's version; zero
	// waits forever
	NegotiationTimeout time.Duration

	Negotiation Negotiation

	Logger *zerolog.Logger
}

// Stream runs the BBDO protocol over a transport: version negotiation,
// then data events in both directions with Ack control events carrying
// acknowledgements.
type Stream struct {
	transport Transport
	cfg       StreamConfig
	logger    zerolog.Logger

	writeMu sync.Mutex
	enc     *Encoder

	// dec is only used by the reading goroutine
	dec *Decoder

	state      atomic.Int32
	peer       *VersionResponse
	extensions []string
	acked      atomic.Int64
	closeOnce  sync.Once
	closeErr   error
}

// NewStream creates a stream over t. catalog must contain the control
// events (see Register).
func NewStream(t Transport, catalog *events.Catalog, cfg StreamConfig) *Stream {
	logger := log.WithComponent("bbdo")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	dec := NewDecoder(t, catalog, cfg.Resync)
	dec.SetLogger(logger)

	return &Stream{
		transport: t,
		cfg:       cfg,
		logger:    logger,
		enc:       NewEncoder(t, catalog),
		dec:       dec,
	}
}

// State returns the protocol state
func (s *Stream) State() State {
	return State(s.state.Load())
}

// Peer returns the version announced by the peer, nil before negotiation
func (s *Stream) Peer() *VersionResponse {
	return s.peer
}

// Extensions returns the extensions both sides support
func (s *Stream) Extensions() []string {
	return s.extensions
}

// Negotiate performs the version exchange selected by the configuration
// and moves the stream to Streaming. A different major version fails with
// ErrProtocolMismatch.
func (s *Stream) Negotiate() error {
	if s.State() != AwaitingNegotiation {
		return fmt.Errorf("cannot negotiate in state %s", s.State())
	}

	if s.cfg.Negotiation != NegotiateReceive {
		own := &VersionResponse{
			Major:      ProtocolMajor,
			Minor:      ProtocolMinor,
			Patch:      ProtocolPatch,
			Extensions: s.cfg.Extensions,
		}
		own.SourceID = s.cfg.InstanceID
		if err := s.write(own); err != nil {
			return fmt.Errorf("failed to send version: %w", err)
		}
	}

	if s.cfg.Negotiation == NegotiateSend {
		s.extensions = append([]string(nil), s.cfg.Extensions...)
		s.state.Store(int32(Streaming))
		return nil
	}

	timeout := s.cfg.NegotiationTimeout
	if timeout <= 0 {
		timeout = -1
	}
	e, err := s.dec.Decode(timeout)
	if err != nil {
		return fmt.Errorf("failed to receive peer version: %w", err)
	}
	if e == nil {
		return fmt.Errorf("timed out after %s waiting for peer version", timeout)
	}

	peer, ok := e.(*VersionResponse)
	if !ok {
		return fmt.Errorf("%w: expected version_response, got %s", ErrProtocolMismatch, e.Type())
	}
	if peer.Major != ProtocolMajor {
		s.logger.Error().
			Str("peer_version", peer.String()).
			Uint16("major", ProtocolMajor).
			Msg("peer speaks an incompatible protocol version")
		return fmt.Errorf("%w: peer version %s, local major %d", ErrProtocolMismatch, peer, ProtocolMajor)
	}

	s.peer = peer
	s.extensions = intersect(s.cfg.Extensions, peer.Extensions)
	s.state.Store(int32(Streaming))

	s.logger.Debug().
		Str("peer_version", peer.String()).
		Uint32("peer_instance", peer.SourceID).
		Strs("extensions", s.extensions).
		Msg("bbdo negotiation complete")
	return nil
}

// Read returns the next data event. Ack events from the peer are consumed
// and accumulated for TakeAcknowledged. A nil event with a nil error means
// the timeout expired; a negative timeout blocks.
func (s *Stream) Read(timeout time.Duration) (events.Event, error) {
	if s.State() != Streaming {
		return nil, ErrNotStreaming
	}

	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		remaining := time.Duration(-1)
		if !deadline.IsZero() {
			remaining = max(time.Until(deadline), 0)
		}

		e, err := s.dec.Decode(remaining)
		if err != nil || e == nil {
			return nil, err
		}

		switch ev := e.(type) {
		case *Ack:
			s.acked.Add(int64(ev.Count))
		case *VersionResponse:
			s.logger.Warn().Str("peer_version", ev.String()).Msg("ignoring version_response while streaming")
		default:
			return e, nil
		}
	}
}

// Write sends a data event. It is safe to call concurrently with Read.
func (s *Stream) Write(e events.Event) error {
	if s.State() != Streaming {
		return ErrNotStreaming
	}
	if route := e.Route(); route != nil && route.SourceID == 0 && s.cfg.InstanceID != 0 {
		// Published events are shared; stamp a copy of the route only
		return s.writeRouted(e, s.cfg.InstanceID, route.DestinationID)
	}
	return s.write(e)
}

// Acknowledge tells the peer that n more events were processed
func (s *Stream) Acknowledge(n int) error {
	if n <= 0 {
		return nil
	}
	if s.State() != Streaming {
		return ErrNotStreaming
	}
	ack := &Ack{Count: uint32(n)}
	ack.SourceID = s.cfg.InstanceID
	return s.write(ack)
}

// TakeAcknowledged returns the number of events the peer acknowledged
// since the previous call
func (s *Stream) TakeAcknowledged() int {
	return int(s.acked.Swap(0))
}

// Close closes the transport
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.state.Store(int32(Closed))
		s.closeErr = s.transport.Close()
	})
	return s.closeErr
}

func (s *Stream) write(e events.Event) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.enc.Encode(e)
}

func (s *Stream) writeRouted(e events.Event, source, destination uint32) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.enc.encodeRouted(e, source, destination)
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, x := range b {
		set[x] = struct{}{}
	}
	var out []string
	for _, x := range a {
		if _, ok := set[x]; ok {
			out = append(out, x)
		}
	}
	return out
}
