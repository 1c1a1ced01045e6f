package sctp

import (
	"time"

	"github.com/tinyrange/sctp/internal/sendq"
	"github.com/tinyrange/sctp/internal/wire"
)

// handleForwardTSN is the receive side of RFC 3758 §3.3: advance the
// cumulative ack point past TSNs the peer has abandoned, even though they
// were never actually delivered, and release whatever that unblocks in
// each named stream's Reassembly Queue.
func (a *Association) handleForwardTSN(now time.Time, c *wire.ForwardTSN) {
	if a.state != StateEstablished && a.state != StateShutdownPending {
		return
	}

	if tsnGT(c.NewCumulativeTSN, a.cumAckPoint) {
		a.cumAckPoint = c.NewCumulativeTSN
		for a.gapReceived[a.cumAckPoint+1] {
			a.cumAckPoint++
			delete(a.gapReceived, a.cumAckPoint)
		}
		for tsn := range a.gapReceived {
			if tsnLTE(tsn, a.cumAckPoint) {
				delete(a.gapReceived, tsn)
			}
		}
	}

	if c.IsInterleaved {
		for _, e := range c.IStreams {
			s := a.getOrCreateInboundStream(e.StreamID, !e.Unordered)
			if e.Unordered {
				continue // unordered sub-queue has no ordering to skip past
			}
			s.reassembly.advanceForward(c.NewCumulativeTSN, e.MID+1, true)
		}
	} else {
		for _, e := range c.Streams {
			s := a.getOrCreateInboundStream(e.StreamID, true)
			s.reassembly.advanceForward(c.NewCumulativeTSN, uint32(e.SSN)+1, true)
		}
	}

	a.updateLocalRwnd()
	a.sackNeeded = true
	a.sackImmediate = true // RFC 3758 §3.3.3: ack a FORWARD-TSN promptly
}

// checkAbandonment walks the Retransmission Queue and marks records that
// have exceeded their stream's partial-reliability policy as abandoned
// (spec §4.5 "abandonment"); it does not itself send anything.
func (a *Association) checkAbandonment(now time.Time) {
	nowMillis := now.UnixMilli()
	a.retransmit.Ascend(func(rec *sendq.OutboundRecord) bool {
		if rec.Abandoned {
			return true
		}
		switch rec.RelKind {
		case sendq.ReliabilityRexmitLimited:
			if uint32(rec.RetransmitCount) > rec.RelLimit {
				rec.Abandoned = true
				rec.RetransmitFlag = false
			}
		case sendq.ReliabilityTimedAbandon:
			if rec.SentAtMillis != 0 && nowMillis-rec.EnqueuedAtMillis > int64(rec.RelLimit) {
				rec.Abandoned = true
				rec.RetransmitFlag = false
			}
		}
		return true
	})
}

// maybeSendForwardTSN is the send side of RFC 3758 §3.2: once a contiguous
// run starting right after the peer's last known cumulative ack point is
// entirely abandoned, tell the peer to skip it rather than waiting forever
// for a retransmit that will never come.
func (a *Association) maybeSendForwardTSN(now time.Time) {
	a.checkAbandonment(now)

	newCum := a.peerCumAckPoint
	lastSeq := make(map[uint16]uint32)
	lastWide := make(map[uint16]bool)
	var toRemove []uint32

	for {
		rec, ok := a.retransmit.Get(newCum + 1)
		if !ok || !rec.Abandoned {
			break
		}
		newCum++
		lastSeq[rec.StreamID] = rec.Seq
		lastWide[rec.StreamID] = rec.Wide
		toRemove = append(toRemove, rec.TSN)
	}
	if newCum == a.peerCumAckPoint || !tsnGT(newCum, a.lastFwdTSNSent) {
		return
	}

	fwd := &wire.ForwardTSN{NewCumulativeTSN: newCum}
	for streamID := range lastSeq {
		if lastWide[streamID] {
			fwd.IsInterleaved = true
			break
		}
	}
	if fwd.IsInterleaved {
		for streamID, seq := range lastSeq {
			fwd.IStreams = append(fwd.IStreams, wire.IForwardTSNStreamEntry{StreamID: streamID, MID: seq})
		}
	} else {
		for streamID, seq := range lastSeq {
			fwd.Streams = append(fwd.Streams, wire.ForwardTSNStreamEntry{StreamID: streamID, SSN: uint16(seq)})
		}
	}

	for _, tsn := range toRemove {
		if rec := a.retransmit.Remove(tsn); rec != nil {
			if s, ok := a.streams[rec.StreamID]; ok {
				if s.creditAcked(uint64(len(rec.Payload))) {
					a.emit(EventBufferedAmountLow{StreamID: rec.StreamID})
				}
			}
		}
	}

	a.sendChunks([]wire.Chunk{fwd})
	a.lastFwdTSNSent = newCum
	a.abandonedSinceFwdTSN = false
}
