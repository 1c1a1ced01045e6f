package sctp

import (
	"sort"
	"time"

	"github.com/tinyrange/sctp/internal/sendq"
	"github.com/tinyrange/sctp/internal/wire"
)

// updateLocalRwnd recomputes the advertised receive window as the
// configured ceiling minus bytes buffered across every stream's
// Reassembly Queue (spec §4.3 "SACK generation").
func (a *Association) updateLocalRwnd() {
	var buffered uint32
	for _, s := range a.streams {
		buffered += s.reassembly.BufferedBytes()
	}
	if buffered >= a.cfg.MaxReceiveBuffer {
		a.localRwnd = 0
		return
	}
	a.localRwnd = a.cfg.MaxReceiveBuffer - buffered
}

// maybeSendSack flushes a pending SACK if one is owed: immediately if
// sackImmediate was set (out-of-order arrival, low rwnd, or the
// every-other-packet rule), otherwise once the delayed-ack timer fires
// (checked by the caller's timer-expiry path too).
func (a *Association) maybeSendSack(now time.Time) {
	if !a.sackNeeded {
		return
	}
	if !a.sackImmediate && !a.timers.delayedAck.IsZero() && now.Before(a.timers.delayedAck) {
		return
	}
	a.sendSack()
}

func (a *Association) sendSack() {
	gaps := a.buildGapAckBlocks()
	sack := &wire.Sack{
		CumulativeTSNAck: a.cumAckPoint,
		AdvertisedRwnd:   a.localRwnd,
		GapAckBlocks:     gaps,
		DuplicateTSNs:    append([]uint32(nil), a.dupTSNs...),
	}
	a.sendChunks([]wire.Chunk{sack})
	a.dupTSNs = nil
	a.sackNeeded = false
	a.sackImmediate = false
	a.packetsSinceSack = 0
	a.timers.delayedAck = time.Time{}
}

// buildGapAckBlocks turns the set of received-but-not-cumulative TSNs into
// RFC 4960 §3.3.4 relative 16-bit offset blocks.
func (a *Association) buildGapAckBlocks() []wire.GapAckBlock {
	if len(a.gapReceived) == 0 {
		return nil
	}
	tsns := make([]uint32, 0, len(a.gapReceived))
	for t := range a.gapReceived {
		tsns = append(tsns, t)
	}
	sort.Slice(tsns, func(i, j int) bool { return tsnLT(tsns[i], tsns[j]) })

	var blocks []wire.GapAckBlock
	start := tsns[0]
	prev := tsns[0]
	for _, t := range tsns[1:] {
		if t == prev+1 {
			prev = t
			continue
		}
		blocks = append(blocks, wire.GapAckBlock{
			Start: uint16(start - a.cumAckPoint),
			End:   uint16(prev - a.cumAckPoint),
		})
		start, prev = t, t
	}
	blocks = append(blocks, wire.GapAckBlock{
		Start: uint16(start - a.cumAckPoint),
		End:   uint16(prev - a.cumAckPoint),
	})
	return blocks
}

// handleSack implements spec §4.3 "SACK inbound": advance the local
// cum-ack-point, free and credit newly acked records, sample RTT,
// increment nack-counts for gapped TSNs, drive fast retransmit / fast
// recovery, and update peer_rwnd.
func (a *Association) handleSack(now time.Time, sack *wire.Sack) {
	if a.state == StateCookieWait || a.state == StateCookieEchoed {
		return
	}
	if tsnLT(sack.CumulativeTSNAck, a.peerCumAckPoint) {
		return // stale SACK, ignore
	}

	var newlyAckedBytes uint32
	var sampledRTT time.Duration
	haveSample := false

	a.retransmit.AscendUpTo(sack.CumulativeTSNAck, func(rec *sendq.OutboundRecord) bool {
		newlyAckedBytes += uint32(len(rec.Payload))
		if rec.RetransmitCount == 0 && !haveSample {
			sampledRTT = now.Sub(time.UnixMilli(rec.SentAtMillis))
			haveSample = true
		}
		if s, ok := a.streams[rec.StreamID]; ok {
			if s.creditAcked(uint64(len(rec.Payload))) {
				a.emit(EventBufferedAmountLow{StreamID: rec.StreamID})
			}
		}
		return true
	})
	a.freeAcked(sack.CumulativeTSNAck)

	a.peerCumAckPoint = sack.CumulativeTSNAck
	if haveSample {
		a.rtt.sample(sampledRTT)
	}
	if newlyAckedBytes > 0 {
		a.cc.onBytesAcked(newlyAckedBytes)
		a.timers.t3Rtx = time.Time{}
		a.assocRetransmits = 0
	}
	a.cc.maybeExitFastRecovery(sack.CumulativeTSNAck)

	a.applyGapAckBlocks(sack)

	inFlight := a.retransmit.BytesInFlight()
	if uint64(sack.AdvertisedRwnd) > inFlight {
		a.peerRwnd = sack.AdvertisedRwnd - uint32(inFlight)
	} else {
		a.peerRwnd = 0
	}

	if a.retransmit.Len() > 0 && a.timers.t3Rtx.IsZero() {
		a.timers.t3Rtx = now.Add(a.rtt.RTO())
	} else if a.retransmit.Len() == 0 {
		a.timers.t3Rtx = time.Time{}
	}

	a.maybeFinishShutdown(now)
}

// freeAcked removes every record at or below the new cumulative ack point.
func (a *Association) freeAcked(cumAck uint32) {
	var toRemove []uint32
	a.retransmit.AscendUpTo(cumAck, func(rec *sendq.OutboundRecord) bool {
		toRemove = append(toRemove, rec.TSN)
		return true
	})
	for _, tsn := range toRemove {
		a.retransmit.Remove(tsn)
	}
}

// applyGapAckBlocks credits bytes for TSNs the gap blocks report as
// received, increments nack-count on unacked TSNs below the highest
// gap-reported TSN, and enters fast recovery once any reaches 3 (spec
// §4.3 "nack-count reaching 3").
func (a *Association) applyGapAckBlocks(sack *wire.Sack) {
	if len(sack.GapAckBlocks) == 0 {
		return
	}
	ackedByGap := make(map[uint32]bool)
	var highestGapTSN uint32
	for _, blk := range sack.GapAckBlocks {
		for off := uint32(blk.Start); off <= uint32(blk.End); off++ {
			tsn := sack.CumulativeTSNAck + off
			ackedByGap[tsn] = true
			if tsnGT(tsn, highestGapTSN) {
				highestGapTSN = tsn
			}
		}
	}

	var anyFastRetransmit bool
	var toRemove []uint32

	a.retransmit.Ascend(func(rec *sendq.OutboundRecord) bool {
		if ackedByGap[rec.TSN] {
			if s, ok := a.streams[rec.StreamID]; ok {
				if s.creditAcked(uint64(len(rec.Payload))) {
					a.emit(EventBufferedAmountLow{StreamID: rec.StreamID})
				}
			}
			toRemove = append(toRemove, rec.TSN)
			return true
		}
		if tsnGT(rec.TSN, sack.CumulativeTSNAck) && tsnLT(rec.TSN, highestGapTSN) {
			rec.NackCount++
			if rec.NackCount >= 3 {
				rec.RetransmitFlag = true
				anyFastRetransmit = true
			}
		}
		return true
	})
	for _, tsn := range toRemove {
		a.retransmit.Remove(tsn)
	}
	if anyFastRetransmit {
		a.cc.onFastRetransmit(a.nextTSN - 1)
	}
}
