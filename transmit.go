package sctp

import (
	"time"

	"github.com/tinyrange/sctp/internal/sendq"
	"github.com/tinyrange/sctp/internal/wire"
)

// runTransmitPass is spec §4.3's "Transmit pass": drain retransmit-marked
// records first, then new fragments from the Pending Queue, bundling as
// many chunks as fit in the configured MTU and honouring cwnd/peer_rwnd.
// DATA is never emitted while the handshake is still in flight.
func (a *Association) runTransmitPass(now time.Time) {
	if a.state == StateCookieWait || a.state == StateCookieEchoed || a.state == StateClosed {
		return
	}

	var chunks []wire.Chunk
	budget := int(a.mtu) - 12 // common header
	var bytesThisPass uint32

	flush := func() {
		if len(chunks) > 0 {
			a.sendChunks(chunks)
			chunks = nil
			budget = int(a.mtu) - 12
		}
	}

	// Retransmit-marked records first (fast retransmit or T3-RTX), bounded
	// by the same cwnd budget as new fragments (spec §3 invariant: bytes in
	// flight never exceed cwnd): whatever doesn't fit stays flagged for the
	// next pass instead of being resent unconditionally.
	var toResend []*sendq.OutboundRecord
	a.retransmit.Ascend(func(rec *sendq.OutboundRecord) bool {
		if rec.RetransmitFlag && !rec.Abandoned {
			toResend = append(toResend, rec)
		}
		return true
	})
	for _, rec := range toResend {
		if uint64(a.cc.cwnd) <= a.retransmit.BytesInFlight() {
			break
		}
		c := dataChunkFromRecord(rec)
		encoded := c.MarshalChunk()
		if len(encoded) > budget {
			flush()
		}
		chunks = append(chunks, c)
		budget -= len(encoded)
		bytesThisPass += uint32(len(rec.Payload))
		rec.RetransmitFlag = false
		rec.SentAtMillis = now.UnixMilli()
		a.retransmit.SetInFlight(rec.TSN, true)
	}
	flush()

	inFlight := a.retransmit.BytesInFlight()
	for a.pending.Len() > 0 {
		if uint64(a.cc.cwnd) <= inFlight {
			break
		}
		if a.peerRwnd == 0 && a.retransmit.Len() > 0 {
			break // at least one outstanding chunk; do not overrun rwnd
		}
		frag, ok := a.pending.Peek()
		if !ok {
			break
		}
		if !a.cfg.Nagle && len(chunks) > 0 {
			flush()
		}
		tsn := a.nextTSN
		rec := &sendq.OutboundRecord{
			TSN: tsn, StreamID: frag.StreamID, Seq: frag.Seq, Wide: frag.Wide,
			PPID: frag.PPID, Unordered: frag.Unordered, Begin: frag.Begin, End: frag.End, FSN: frag.FSN,
			Payload: frag.Payload, RelKind: frag.RelKind, RelLimit: frag.RelLimit,
			EnqueuedAtMillis: frag.EnqueuedAtMillis, SentAtMillis: now.UnixMilli(), InFlight: true,
		}
		c := dataChunkFromRecord(rec)
		encoded := c.MarshalChunk()
		if len(encoded) > budget {
			flush()
			if len(encoded) > budget {
				break // a single fragment larger than the MTU is a config error, not handled here
			}
		}
		a.pending.Pop()
		a.nextTSN++
		a.retransmit.Insert(rec)
		chunks = append(chunks, c)
		budget -= len(encoded)
		inFlight += uint64(len(frag.Payload))
		bytesThisPass += uint32(len(frag.Payload))

		if a.timers.t3Rtx.IsZero() {
			a.timers.t3Rtx = now.Add(a.rtt.RTO())
		}
	}
	flush()

	a.maybeSendForwardTSN(now)
	a.maybeFinishShutdown(now)
}

func dataChunkFromRecord(rec *sendq.OutboundRecord) wire.Chunk {
	if rec.Wide {
		return &wire.IData{
			Unordered: rec.Unordered, Beginning: rec.Begin, Ending: rec.End,
			TSN: rec.TSN, StreamID: rec.StreamID, MID: rec.Seq, PPIDOrFSN: rec.PPID,
			UserData: rec.Payload,
		}
	}
	return &wire.Data{
		Unordered: rec.Unordered, Beginning: rec.Begin, Ending: rec.End,
		TSN: rec.TSN, StreamID: rec.StreamID, SSN: uint16(rec.Seq), PPID: rec.PPID,
		UserData: rec.Payload,
	}
}

func (a *Association) sendHeartbeat(nonce []byte) {
	a.sendChunks([]wire.Chunk{&wire.Heartbeat{Params: []wire.TLV{wire.HeartbeatInfoParam(nonce)}}})
}

// Close begins a graceful shutdown (spec §4.3 "Shutdown"): move to
// SHUTDOWN-PENDING until outstanding DATA is acked, then send SHUTDOWN.
func (a *Association) Close(now time.Time) {
	if a.state != StateEstablished {
		return
	}
	a.state = StateShutdownPending
	a.maybeFinishShutdown(now)
}

// maybeFinishShutdown advances the shutdown sequence once its precondition
// for the current state is satisfied: SHUTDOWN-PENDING waits for the
// Retransmission and Pending Queues to drain, SHUTDOWN-RECEIVED waits on
// the same local condition before acking.
func (a *Association) maybeFinishShutdown(now time.Time) {
	switch a.state {
	case StateShutdownPending:
		if a.retransmit.Len() == 0 && a.pending.Len() == 0 {
			a.sendShutdown()
			a.state = StateShutdownSent
			a.timers.t2Shutdown = now.Add(a.rtt.RTO())
		}
	case StateShutdownReceived:
		if a.retransmit.Len() == 0 && a.pending.Len() == 0 {
			a.sendChunks([]wire.Chunk{&wire.ShutdownAck{}})
			a.state = StateShutdownAckSent
		}
	}
}

func (a *Association) sendShutdown() {
	a.sendChunks([]wire.Chunk{&wire.Shutdown{CumulativeTSNAck: a.cumAckPoint}})
}

// handleShutdown processes an inbound SHUTDOWN chunk (spec §4.3).
func (a *Association) handleShutdown(now time.Time, s *wire.Shutdown) {
	a.freeAcked(s.CumulativeTSNAck)
	a.peerCumAckPoint = s.CumulativeTSNAck

	switch a.state {
	case StateEstablished:
		a.state = StateShutdownReceived
		a.maybeFinishShutdown(now)
	case StateShutdownSent:
		// Simultaneous shutdown (RFC 4960 §9.2): both sides move straight
		// to acking rather than waiting for each other's drain.
		a.sendChunks([]wire.Chunk{&wire.ShutdownAck{}})
		a.state = StateShutdownAckSent
	}
}

// handleShutdownAck completes the initiator's side of shutdown: send
// SHUTDOWN-COMPLETE and close.
func (a *Association) handleShutdownAck() {
	if a.state != StateShutdownSent && a.state != StateShutdownAckSent {
		return
	}
	a.sendChunks([]wire.Chunk{&wire.AbortOrShutdownComplete{Type: wire.CTShutdownComplete}})
	a.timers.t2Shutdown = time.Time{}
	a.state = StateClosed
	a.closeCause = AbortCauseNone
	a.emit(EventClosed{Cause: AbortCauseNone})
}
