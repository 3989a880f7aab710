// Package websocket is a lightweight yet robust implementation of the
// WebSocket protocol (RFC 6455), for both ends of a connection.
//
// [Conn] is the protocol core: one open connection, one frame codec in
// and out, one write serializer, one keep-alive manager, driven by
// [Conn.Receive] and [Conn.Send]/[Conn.Close]. It is transport-agnostic:
// [Dial] and [Accept] are the two handshake producers this package
// ships, built over [net/http], but [NewConn] accepts any already-open
// io.ReadWriteCloser, so callers with their own upgrade logic (a
// reverse proxy, a non-HTTP listener) can drive it directly.
//
// [ClientPool] builds on top of [Conn] for the common client-side case
// of a long-running connection to the same server:
//  1. In-memory map of active pools, keyed by (a secure hash of) a
//     caller-supplied ID, to minimize the number of open connections
//     per app
//  2. Preemptively switch connections before each anticipated
//     disconnection, to prevent downtime during reconnections
//  3. Fast detection and recovery from unexpected disconnections
//
// Note: optimization 2 requires careful balancing of optimization 1
// with ensuring state isolation, correct garbage collection, and
// ensuring that users of this package do not receive duplicate copies
// of messages while a pool temporarily has an extra connection.
package websocket
