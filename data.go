package sctp

import (
	"time"

	"github.com/tinyrange/sctp/internal/wire"
)

// inboundData is the association-level, shape-agnostic view of a received
// DATA or I-DATA chunk (spec §4.3 "DATA / I-DATA inbound").
type inboundData struct {
	tsn       uint32
	streamID  uint16
	seq       uint32
	wide      bool
	ppid      uint32
	begin     bool
	end       bool
	unordered bool
	payload   []byte
}

func dataFromClassic(d *wire.Data) inboundData {
	return inboundData{
		tsn: d.TSN, streamID: d.StreamID, seq: uint32(d.SSN), wide: false,
		ppid: d.PPID, begin: d.Beginning, end: d.Ending, unordered: d.Unordered,
		payload: d.UserData,
	}
}

func dataFromInterleaved(d *wire.IData) inboundData {
	return inboundData{
		tsn: d.TSN, streamID: d.StreamID, seq: d.MID, wide: true,
		ppid: d.PPIDOrFSN, begin: d.Beginning, end: d.Ending, unordered: d.Unordered,
		payload: d.UserData,
	}
}

// getOrCreateInboundStream implicitly opens a Stream the first time DATA
// for it arrives, mirroring how real stacks surface peer-opened streams
// without a prior local OpenStream call.
func (a *Association) getOrCreateInboundStream(id uint16, ordered bool) *Stream {
	if s, ok := a.streams[id]; ok {
		return s
	}
	s := newStream(a, id, ordered, Reliable())
	a.streams[id] = s
	a.emit(EventDataReceived{StreamID: id})
	return s
}

func (a *Association) handleData(now time.Time, d inboundData) {
	if a.state != StateEstablished && a.state != StateShutdownPending {
		return
	}
	if d.streamID >= a.inboundStreamCount && a.inboundStreamCount != 0 {
		a.abort(AbortCauseInvalidStreamID)
		return
	}

	dup := tsnLTE(d.tsn, a.cumAckPoint) || a.gapReceived[d.tsn]
	if dup {
		a.dupTSNs = append(a.dupTSNs, d.tsn)
		a.sackImmediate = true
		return
	}

	inOrder := d.tsn == a.cumAckPoint+1
	if inOrder {
		a.cumAckPoint = d.tsn
		for a.gapReceived[a.cumAckPoint+1] {
			a.cumAckPoint++
			delete(a.gapReceived, a.cumAckPoint)
		}
	} else {
		a.gapReceived[d.tsn] = true
		a.sackImmediate = true
	}

	s := a.getOrCreateInboundStream(d.streamID, !d.unordered)
	if !d.unordered && s.reassembly.wide != d.wide && !s.reassembly.seenFragment {
		s.reassembly.wide = d.wide
	}
	err := s.reassembly.add(fragment{
		tsn: d.tsn, seq: d.seq, ppid: d.ppid,
		begin: d.begin, end: d.end, unordered: d.unordered,
		payload: d.payload,
	})
	if err != nil {
		a.abort(AbortCauseProtocolViolation)
		return
	}
	if len(s.reassembly.ready) > 0 {
		a.emit(EventDataReceived{StreamID: d.streamID, PPID: d.ppid})
	}

	a.updateLocalRwnd()
	a.sackNeeded = true
	a.packetsSinceSack++
	if a.timers.delayedAck.IsZero() {
		a.timers.delayedAck = now.Add(a.cfg.CumAckTimeout)
	}
	if a.localRwnd < a.cfg.MaxReceiveBuffer/8 {
		a.sackImmediate = true
	}
	if a.packetsSinceSack >= 2 {
		a.sackImmediate = true
	}
}
