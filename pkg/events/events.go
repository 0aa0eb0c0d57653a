package events

import "errors"

// ErrUnknownEventType is returned when a type code has no catalog entry
var ErrUnknownEventType = errors.New("unknown event type")

// Event is the contract every event satisfies. Once published an event is
// shared by every queue that holds it and must not be modified.
type Event interface {
	Type() Type
	Route() *Header
}

// Header carries the routing identifiers of an event. They travel in the
// frame header, never in the serialized body.
type Header struct {
	SourceID      uint32
	DestinationID uint32
}

// Route returns the routing header
func (h *Header) Route() *Header {
	return h
}

// Raw is an opaque byte payload
type Raw struct {
	Header `cbor:"-"`
	Data   []byte
}

// NewRaw creates a raw event holding a copy of data
func NewRaw(data []byte) *Raw {
	return &Raw{Data: append([]byte(nil), data...)}
}

// Type implements Event
func (r *Raw) Type() Type {
	return NewType(CategoryInternal, ElementRaw)
}

// InstanceBroadcast announces a broker instance to its peers
type InstanceBroadcast struct {
	Header     `cbor:"-"`
	BrokerID   uint32 `cbor:"1,keyasint"`
	BrokerName string `cbor:"2,keyasint"`
	Enabled    bool   `cbor:"3,keyasint"`
	PollerID   uint32 `cbor:"4,keyasint"`
	PollerName string `cbor:"5,keyasint"`
}

// Type implements Event
func (i *InstanceBroadcast) Type() Type {
	return NewType(CategoryInternal, ElementInstanceBroadcast)
}
