package bbdo

import (
	"encoding/binary"
	"errors"

	"github.com/cuemby/relay/pkg/events"
)

const (
	// HeaderSize is the fixed size of a frame header
	HeaderSize = 17

	// MaxPayloadSize is the largest body a single frame carries. A frame
	// of exactly this size announces a continuation frame.
	MaxPayloadSize = 0xFFFF
)

var (
	// ErrCorruptFrame is returned for frames failing checksum or length
	// validation, and for bodies the catalog cannot decode
	ErrCorruptFrame = errors.New("corrupt bbdo frame")

	// ErrProtocolMismatch is returned when peers run incompatible versions
	ErrProtocolMismatch = errors.New("bbdo protocol mismatch")
)

// header is the decoded form of the 17-byte frame header:
//
//	checksum(2) length(3) type(4) source(4) destination(4)
//
// All fields are big endian. The checksum covers bytes 2..16 and the body.
type header struct {
	checksum    uint16
	length      int
	typ         events.Type
	source      uint32
	destination uint32
}

func parseHeader(b []byte) header {
	return header{
		checksum:    binary.BigEndian.Uint16(b[0:2]),
		length:      int(b[2])<<16 | int(b[3])<<8 | int(b[4]),
		typ:         events.Type(binary.BigEndian.Uint32(b[5:9])),
		source:      binary.BigEndian.Uint32(b[9:13]),
		destination: binary.BigEndian.Uint32(b[13:17]),
	}
}

// sameRoute reports whether h and o may belong to the same event
func (h header) sameRoute(o header) bool {
	return h.typ == o.typ && h.source == o.source && h.destination == o.destination
}

// frameChecksum computes the checksum of a complete frame: header bytes
// 2..16 followed by the body
func frameChecksum(frame []byte) uint16 {
	return crc16Update(0xFFFF, frame[2:])
}

// appendFrame appends one complete frame carrying body to dst
func appendFrame(dst []byte, t events.Type, source, destination uint32, body []byte) []byte {
	start := len(dst)
	n := len(body)
	dst = append(dst,
		0, 0,
		byte(n>>16), byte(n>>8), byte(n),
	)
	dst = binary.BigEndian.AppendUint32(dst, uint32(t))
	dst = binary.BigEndian.AppendUint32(dst, source)
	dst = binary.BigEndian.AppendUint32(dst, destination)
	dst = append(dst, body...)

	binary.BigEndian.PutUint16(dst[start:start+2], frameChecksum(dst[start:]))
	return dst
}

// appendFrames splits body into as many frames as needed. A body whose
// size is a multiple of MaxPayloadSize ends with an empty frame.
func appendFrames(dst []byte, t events.Type, source, destination uint32, body []byte) ([]byte, int) {
	frames := 0
	for {
		chunk := min(len(body), MaxPayloadSize)
		dst = appendFrame(dst, t, source, destination, body[:chunk])
		frames++
		body = body[chunk:]
		if chunk < MaxPayloadSize {
			return dst, frames
		}
	}
}
