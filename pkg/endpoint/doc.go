/*
Package endpoint connects the multiplexing engine to the outside world.

An endpoint has a direction and a transport:

	input  + tcp listen   accept producers, publish what they send
	input  + tcp connect  dial a producer, reconnecting on failure
	input  + file         replay a BBDO dump once
	output + tcp listen   serve one consumer at a time from a muxer
	output + tcp connect  dial a consumer, reconnecting on failure
	output + file         append a BBDO dump

Every connection runs the bbdo negotiation first and gets its own
connection id in the logs.

Inputs acknowledge what they published with an Ack every ack_limit events
and whenever the stream goes idle. Outputs acknowledge their muxer only
when the peer acknowledges, so an event is released from memory or disk
once the next hop has it. Events a peer never acknowledged are written
again to the next peer. With ack_limit set to zero, and for files, the
muxer is acknowledged as soon as the write succeeds.

A Manager builds the endpoints of a configuration and runs each in its
own goroutine. Each endpoint reports "endpoint/<name>" to the health
registry.
*/
package endpoint
