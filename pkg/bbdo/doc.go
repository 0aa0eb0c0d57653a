/*
Package bbdo implements the BBDO binary event protocol.

Every event travels as one or more frames:

	 0      2         5         9         13        17
	┌──────┬─────────┬─────────┬─────────┬─────────┬──────────────┐
	│ crc  │ length  │  type   │ source  │  dest   │ body         │
	│ 16   │ 24      │ 32      │ 32      │ 32      │ length bytes │
	└──────┴─────────┴─────────┴─────────┴─────────┴──────────────┘

All integers are big endian. The checksum is CRC-16/CCITT-FALSE over bytes
2 to 16 and the body. A body larger than MaxPayloadSize is split: every
frame but the last carries exactly MaxPayloadSize bytes, and the last one
is shorter, possibly empty. The decoder concatenates fragments until it
sees a short frame.

# Negotiation

A Stream starts in AwaitingNegotiation. Each side sends a VersionResponse
carrying its protocol version and extensions. Peers with different major
versions fail with ErrProtocolMismatch; minor and patch differences are
accepted. The negotiated extensions are those both sides offered.

# Acknowledgements

The receiving side periodically sends an Ack with the number of events it
processed. Stream.Read consumes Ack events and adds them up; the sender
collects the total with TakeAcknowledged and acknowledges its muxer.

# Corruption

A frame with a bad checksum or an impossible length yields ErrCorruptFrame.
With resync enabled the decoder then scans forward one byte at a time,
silently, until a valid frame appears. Without it the decoder stays failed.
Frames of a type missing from the catalog are logged and skipped.
*/
package bbdo
