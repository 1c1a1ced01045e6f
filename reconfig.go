package sctp

import (
	"time"

	"github.com/tinyrange/sctp/internal/wire"
)

// requestOutgoingReset starts the RFC 6525 reset handshake for a local
// stream (spec §4.3 "RE-CONFIG"): only one outstanding outgoing request is
// allowed at a time, and the request carries the last TSN this side has
// assigned so the peer knows when it is safe to perform the reset.
func (a *Association) requestOutgoingReset(streamID uint16) error {
	if a.outgoingReconfig != nil {
		return ErrReconfigInFlight
	}
	pr := pendingReconfig{
		reqSeq:   a.nextReconfigReqSeq,
		streamID: streamID,
		lastTSN:  a.nextTSN - 1,
	}
	a.nextReconfigReqSeq++
	a.outgoingReconfig = &pr
	a.sendOutgoingResetRequest(pr)
	// The deadline needs `now`, which Close (the only caller) does not
	// have; HandleTimeout arms it lazily on its next invocation.
	return nil
}

func (a *Association) sendOutgoingResetRequest(pr pendingReconfig) {
	req := wire.OutgoingSSNResetRequest{
		RequestSeq:    pr.reqSeq,
		SenderLastTSN: pr.lastTSN,
		StreamIDs:     []uint16{pr.streamID},
	}
	a.sendChunks([]wire.Chunk{&wire.Reconfig{Params: []wire.TLV{req.TLV()}}})
}

// handleReconfig dispatches each parameter of an inbound RE-CONFIG chunk;
// RFC 6525 allows at most one request and one response parameter per
// chunk, but decoding stays generic (spec §4.1 wire codec note).
func (a *Association) handleReconfig(now time.Time, c *wire.Reconfig) {
	for _, p := range c.Params {
		switch p.Type {
		case wire.ParamOutgoingSSNResetRequest:
			a.handleOutgoingSSNResetRequest(now, p)
		case wire.ParamReconfigResponse:
			a.handleReconfigResponse(now, p)
		case wire.ParamIncomingSSNResetRequest:
			a.handleIncomingSSNResetRequest(now, p)
		case wire.ParamAddOutgoingStreamsRequest:
			a.handleAddStreamsRequest(p, true)
		case wire.ParamAddIncomingStreamsRequest:
			a.handleAddStreamsRequest(p, false)
		}
	}
}

// handleOutgoingSSNResetRequest is the peer asking us to reset one of our
// INCOMING streams (spec §4.3: "Inbound Outgoing-SSN-Reset"). Dedup by
// request-sequence-number is mandatory: replaying the same request must
// reproduce the same answer without destroying a stream twice, even if it
// has since been reopened.
func (a *Association) handleOutgoingSSNResetRequest(now time.Time, p wire.TLV) {
	req, err := wire.DecodeOutgoingSSNResetRequest(p)
	if err != nil {
		a.abort(AbortCauseProtocolViolation)
		return
	}

	if a.haveLastIncomingReconfigReqSeq && req.RequestSeq == a.lastIncomingReconfigReqSeq {
		a.sendChunks([]wire.Chunk{&wire.Reconfig{Params: []wire.TLV{a.lastIncomingReconfigResponse}}})
		return
	}

	var result wire.ReconfigResult
	if !tsnLTE(req.SenderLastTSN, a.cumAckPoint) {
		// Not all of the sender's data up to SenderLastTSN has arrived
		// yet; tell it to retry rather than destroy state prematurely.
		result = wire.ReconfigResultInProgress
	} else {
		result = wire.ReconfigResultSuccessPerformed
		ids := req.StreamIDs
		if len(ids) == 0 {
			for id := range a.streams {
				ids = append(ids, id)
			}
		}
		for _, id := range ids {
			s, ok := a.streams[id]
			if !ok {
				continue
			}
			s.state.incomingReset = true
			s.reassembly.advanceForward(req.SenderLastTSN, 0, false)
			s.reassembly.nextOrderedSeq = 0
			a.emit(EventStreamReset{StreamID: id, Incoming: true})
		}
	}

	resp := wire.ReconfigResponse{ResponseSeq: req.RequestSeq, Result: result}.TLV()
	if result != wire.ReconfigResultInProgress {
		a.lastIncomingReconfigReqSeq = req.RequestSeq
		a.haveLastIncomingReconfigReqSeq = true
		a.lastIncomingReconfigResponse = resp
	}
	a.sendChunks([]wire.Chunk{&wire.Reconfig{Params: []wire.TLV{resp}}})
}

// handleReconfigResponse answers OUR outstanding outgoing request.
func (a *Association) handleReconfigResponse(now time.Time, p wire.TLV) {
	resp, err := wire.DecodeReconfigResponse(p)
	if err != nil {
		a.abort(AbortCauseProtocolViolation)
		return
	}
	if a.outgoingReconfig == nil || resp.ResponseSeq != a.outgoingReconfig.reqSeq {
		return
	}
	streamID := a.outgoingReconfig.streamID
	a.outgoingReconfig = nil
	a.timers.reconfig = time.Time{}

	if s, ok := a.streams[streamID]; ok {
		s.state.outgoingReset = true
	}
	dropped := a.pending.RemoveStream(streamID)
	if s, ok := a.streams[streamID]; ok && dropped > 0 {
		s.creditAcked(dropped)
	}
	a.emit(EventStreamReset{StreamID: streamID, Outgoing: true})
}

// handleIncomingSSNResetRequest asks us to reset one of our OWN outgoing
// streams (RFC 6525 §4.2) — the mirror image of
// handleOutgoingSSNResetRequest, but with no TSN precondition since it
// only affects data we are sending, not receiving.
func (a *Association) handleIncomingSSNResetRequest(now time.Time, p wire.TLV) {
	req, err := wire.DecodeIncomingSSNResetRequest(p)
	if err != nil {
		a.abort(AbortCauseProtocolViolation)
		return
	}
	ids := req.StreamIDs
	if len(ids) == 0 {
		for id := range a.streams {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		if s, ok := a.streams[id]; ok {
			s.state.outgoingReset = true
			a.pending.RemoveStream(id)
			a.emit(EventStreamReset{StreamID: id, Outgoing: true})
		}
	}
	resp := wire.ReconfigResponse{ResponseSeq: req.RequestSeq, Result: wire.ReconfigResultSuccessPerformed}.TLV()
	a.sendChunks([]wire.Chunk{&wire.Reconfig{Params: []wire.TLV{resp}}})
}

// handleAddStreamsRequest grants a request to add more outgoing or
// incoming streams (RFC 6525 §4.5/4.6); this engine always grants it up to
// the uint16 ceiling, since the only cost is bookkeeping.
func (a *Association) handleAddStreamsRequest(p wire.TLV, outgoing bool) {
	req, err := wire.DecodeAddStreamsRequest(p)
	if err != nil {
		a.abort(AbortCauseProtocolViolation)
		return
	}
	grow := func(n *uint16) {
		sum := uint32(*n) + uint32(req.NewStreams)
		if sum > 0xFFFF {
			sum = 0xFFFF
		}
		*n = uint16(sum)
	}
	if outgoing {
		grow(&a.inboundStreamCount)
	} else {
		grow(&a.outboundStreamCount)
	}
	resp := wire.ReconfigResponse{ResponseSeq: req.RequestSeq, Result: wire.ReconfigResultSuccessPerformed}.TLV()
	a.sendChunks([]wire.Chunk{&wire.Reconfig{Params: []wire.TLV{resp}}})
}
