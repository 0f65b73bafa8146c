// Package frame implements the active card wire format.
//
// A full message is laid out big-endian as
//
//	MAGIC(3) | ENCRYPTED(1) | [IV(12) | TAG(16)] | EVENT_ID(2) | PAYLOAD_SIZE(4) |
//	SESSION_ID(8) | SESSION_START(4) | PAYLOAD(PAYLOAD_SIZE)
//
// and is split into packets of at most a configured packet limit, each prefixed by
// PACKET_MAGIC(3) | SEQUENCE(2). The link layer strips the packet prefix before the
// fragments reach a Reassembler, which accumulates them until a full message parses.
package frame
