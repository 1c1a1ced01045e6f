// Package sctp implements a Sans-IO SCTP association engine: the RFC 4960
// base protocol state machine plus RFC 3758 (PR-SCTP / FORWARD-TSN), RFC
// 6525 (stream reconfiguration), and the receive side of RFC 8260 (I-DATA
// interleaving).
//
// The engine owns no socket, thread, or clock. Every operation that can
// observe or advance time takes an explicit now time.Time, and every
// operation that can produce output appends to an internal queue the
// caller drains with PollTransmit/PollEvent rather than invoking a
// callback. This makes the whole engine deterministic and trivially
// testable: driving two Associations against each other over an in-memory
// channel, under a fake clock, reproduces exactly what driving them over a
// real network would.
//
// Endpoint is the optional multiplexer for handling more than one peer at
// a time; a caller that only ever talks to a single remote address can use
// Association directly.
package sctp
