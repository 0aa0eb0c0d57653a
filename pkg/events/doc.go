/*
Package events defines the event model shared by every part of relay.

An event is an immutable, typed value. Its type code packs a 16-bit
category and a 16-bit element; categories partition the namespace between
the broker internals, the BBDO protocol controls and the monitoring
modules. Routing identifiers (source and destination instance) live in a
Header that travels in the frame header rather than in the event body.

# Catalog

The Catalog is the registry that lets the rest of the broker handle events
without knowing their fields. For each type code it stores a name, a
constructor and an encode/decode pair:

	cat := events.NewCatalog()           // internal events pre-registered
	bbdo.Register(cat)                   // protocol control events
	monitoring.Register(cat)             // host/service status, logs, metrics

	body, _ := cat.Encode(ev)
	ev2, err := cat.Decode(ev.Type(), body)
	if errors.Is(err, events.ErrUnknownEventType) {
		// produced by a newer peer; skip it
	}

CBORInfo derives the encode/decode pair from a struct's CBOR tags, which is
how most catalog entries are declared.

# Ownership

Published events are referenced by many muxer queues at once. None of them
copy or modify the event; the garbage collector reclaims it once the last
queue and consumer drop it.
*/
package events
