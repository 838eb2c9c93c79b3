// Package protocol implements the wire protocol connecting apps: a
// length-prefixed binary framing carrying every message kind, and the
// transports that move frames between processes.
//
// # Framing
//
// Every frame is a 4-byte big-endian length prefix, a 1-byte message
// type tag (the message.Type numeric value), and a msgpack-encoded
// self-describing body: envelope id, name, source and destination Locs,
// command correlation state, and the opaque property payload. Both
// transports share the one codec; a WebSocket binary message carries
// exactly one frame.
//
// # Transports
//
// Destination app URIs select the transport by scheme through a
// Registry: tcp://host:port/ for raw sockets, ws://host:port/ for
// WebSocket. Inbound frames are decoded to the concrete message subtype
// before they reach the local routing table.
//
// Connection loss fails in-flight sends with the connection-closed
// taxonomy; there is no transport-level message retry. Initial dial
// uses bounded backoff (pkg/retry); that covers connection
// establishment, not message redelivery.
package protocol
