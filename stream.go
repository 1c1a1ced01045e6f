package sctp

import "time"

// streamState tracks the half-close bookkeeping RFC 6525 needs: a stream
// can be reset outgoing, incoming, or both, independently of the other
// direction and independently of the association's own lifecycle.
type streamState struct {
	outgoingReset bool
	incomingReset bool
}

// Stream is one bidirectional SCTP stream multiplexed over an Association
// (spec §3 "Stream"). A Stream is only ever reached through its owning
// Association; there is no free-standing constructor.
type Stream struct {
	assoc *Association
	id    uint16

	ordered     bool
	reliability Reliability

	// Outgoing sequencing.
	nextSSN uint16
	nextMID uint32

	// bufferedAmount is the sum of user-payload bytes handed to Write but
	// not yet acknowledged or abandoned (spec §4.5).
	bufferedAmount           uint64
	bufferedAmountLowThresh  uint64
	bufferedAmountHighThresh uint64

	reassembly *reassemblyQueue

	state streamState

	// finishRequested is set by Close; once true, Write returns
	// ErrStreamClosed and no further fragments are admitted to the
	// Pending Queue for this stream.
	finishRequested bool
}

func newStream(a *Association, id uint16, ordered bool, rel Reliability) *Stream {
	return &Stream{
		assoc:       a,
		id:          id,
		ordered:     ordered,
		reliability: rel,
		reassembly:  newReassemblyQueue(a.cfg.MaxMessageSize),
	}
}

// ID returns the stream identifier.
func (s *Stream) ID() uint16 { return s.id }

// Write enqueues payload for transmission under the given payload protocol
// identifier, returning the number of bytes accepted. now anchors the
// ReliabilityTimedAbandon lifetime clock (spec §4.5); it has no effect for
// other reliability kinds. The Pending Queue has no implicit backpressure
// (spec §5); callers watching BufferedAmountLow are expected to throttle
// themselves.
func (s *Stream) Write(now time.Time, payload []byte, ppid uint32) (int, error) {
	if s.finishRequested {
		return 0, ErrStreamClosed
	}
	if s.state.outgoingReset {
		return 0, ErrStreamReset
	}
	if uint32(len(payload)) > s.assoc.cfg.MaxMessageSize {
		return 0, ErrMessageTooLarge
	}
	s.assoc.enqueueOutgoing(s, now, payload, ppid)
	wasAbove := s.bufferedAmount > s.bufferedAmountHighThresh
	s.bufferedAmount += uint64(len(payload))
	nowAbove := s.bufferedAmount > s.bufferedAmountHighThresh
	if !wasAbove && nowAbove {
		s.assoc.emit(EventBufferedAmountHigh{StreamID: s.id, Threshold: s.bufferedAmountHighThresh})
	}
	return len(payload), nil
}

// Read pops one fully reassembled message, or (nil, false) if none is
// ready. Ordered streams return messages in SSN order; unordered streams
// return them in completion order.
func (s *Stream) Read() (payload []byte, ppid uint32, ok bool) {
	return s.reassembly.pop()
}

// BufferedAmount reports bytes written but not yet acked or abandoned.
func (s *Stream) BufferedAmount() uint64 { return s.bufferedAmount }

// SetBufferedAmountLowThreshold configures the edge-trigger point for
// EventBufferedAmountLow (spec §9: edge-triggered, transition from
// above to at-or-below only).
func (s *Stream) SetBufferedAmountLowThreshold(n uint64) {
	s.bufferedAmountLowThresh = n
}

// SetBufferedAmountHighThreshold configures the edge-trigger point for
// EventBufferedAmountHigh (spec §9: edge-triggered, transition from
// at-or-below to above only).
func (s *Stream) SetBufferedAmountHighThreshold(n uint64) {
	s.bufferedAmountHighThresh = n
}

// creditAcked lowers bufferedAmount by n (an ack or abandonment freed n
// bytes) and returns whether BufferedAmountLow should fire.
func (s *Stream) creditAcked(n uint64) bool {
	wasAbove := s.bufferedAmount > s.bufferedAmountLowThresh
	if n > s.bufferedAmount {
		n = s.bufferedAmount
	}
	s.bufferedAmount -= n
	nowAbove := s.bufferedAmount > s.bufferedAmountLowThresh
	return wasAbove && !nowAbove
}

// Close requests an outbound stream reset (RFC 6525) and marks the local
// finish flag; it is the convenience operation spec §6 describes. Close is
// asynchronous: completion is surfaced as EventStreamReset once the peer
// confirms.
func (s *Stream) Close() error {
	if s.finishRequested {
		return nil
	}
	s.finishRequested = true
	return s.assoc.requestOutgoingReset(s.id)
}
