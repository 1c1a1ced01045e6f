package sctp

import (
	"testing"
	"time"

	"github.com/tinyrange/sctp/internal/wire"
)

// writeAndTransmit writes payload on s and immediately runs a transmit pass
// on its owning association, moving the resulting fragment out of the
// Pending Queue and into the Retransmission Queue as an OutboundRecord.
func writeAndTransmit(t *testing.T, a *Association, s *Stream, now time.Time, payload string) {
	t.Helper()
	if _, err := s.Write(now, []byte(payload), 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	a.runTransmitPass(now)
	// Drain (and discard) whatever DATA that pass queued; these tests
	// exercise send-side bookkeeping directly, not the wire.
	for {
		if _, ok := a.PollTransmit(); !ok {
			break
		}
	}
}

func TestAbandonmentRexmitLimitedMarksAfterExceedingCount(t *testing.T) {
	client, _ := newEstablishedPairForTest(t)
	now := time.Unix(1_700_000_000, 0)

	s, err := client.OpenStream(0, true, RexmitLimited(0))
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	writeAndTransmit(t, client, s, now, "hello")

	rec := client.retransmit.Earliest()
	if rec == nil {
		t.Fatalf("expected a record in the Retransmission Queue")
	}
	if rec.Abandoned {
		t.Fatalf("record must not be abandoned before any retransmit")
	}

	// onT3RtxExpiry bumps RetransmitCount to 1, exceeding the RexmitLimited(0)
	// ceiling, and itself drives a transmit pass whose checkAbandonment marks
	// the record; as the head of the queue it is then reported in a
	// FORWARD-TSN and removed.
	client.onT3RtxExpiry(now.Add(client.rtt.RTO()))

	if _, ok := client.retransmit.Get(rec.TSN); ok {
		t.Fatalf("abandoned head record should be removed once FORWARD-TSN reports it")
	}
	if !rec.Abandoned {
		t.Fatalf("expected record abandoned after exceeding RexmitLimited(0)")
	}
	if rec.RetransmitFlag {
		t.Fatalf("abandoned record must not remain marked for retransmission")
	}
}

func TestAbandonmentTimedAbandonMarksAfterLifetimeElapses(t *testing.T) {
	client, _ := newEstablishedPairForTest(t)
	now := time.Unix(1_700_000_000, 0)

	s, err := client.OpenStream(0, true, TimedAbandon(5*time.Millisecond))
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	writeAndTransmit(t, client, s, now, "hello")

	rec := client.retransmit.Earliest()
	if rec == nil {
		t.Fatalf("expected a record in the Retransmission Queue")
	}

	client.checkAbandonment(now.Add(1 * time.Millisecond))
	if rec.Abandoned {
		t.Fatalf("record must not be abandoned before its lifetime elapses")
	}

	client.checkAbandonment(now.Add(10 * time.Millisecond))
	if !rec.Abandoned {
		t.Fatalf("expected record abandoned once its lifetime elapsed")
	}
}

func TestMaybeSendForwardTSNEmitsOnceContiguousRunAbandoned(t *testing.T) {
	client, _ := newEstablishedPairForTest(t)
	now := time.Unix(1_700_000_000, 0)

	s, err := client.OpenStream(0, true, RexmitLimited(0))
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	writeAndTransmit(t, client, s, now, "a")
	writeAndTransmit(t, client, s, now, "b")

	if client.retransmit.Len() != 2 {
		t.Fatalf("expected 2 records in flight, got %d", client.retransmit.Len())
	}
	startTSN := client.peerCumAckPoint + 1

	// Force both records to exceed their retransmit ceiling directly,
	// without going through onT3RtxExpiry (which would itself drive a
	// transmit pass and consume the FORWARD-TSN this test wants to
	// observe via an explicit, single maybeSendForwardTSN call).
	for _, tsn := range []uint32{startTSN, startTSN + 1} {
		rec, ok := client.retransmit.Get(tsn)
		if !ok {
			t.Fatalf("expected a record at TSN %d", tsn)
		}
		rec.RetransmitCount = 1
	}

	client.maybeSendForwardTSN(now)
	datagram, ok := client.PollTransmit()
	if !ok {
		t.Fatalf("expected a FORWARD-TSN datagram once the contiguous run was abandoned")
	}
	_, chunks, err := wire.DecodePacket(datagram)
	if err != nil {
		t.Fatalf("DecodePacket: %v", err)
	}
	var fwd *wire.ForwardTSN
	for _, c := range chunks {
		if f, ok := c.(*wire.ForwardTSN); ok {
			fwd = f
		}
	}
	if fwd == nil {
		t.Fatalf("expected a ForwardTSN chunk, got %#v", chunks)
	}
	if fwd.NewCumulativeTSN != startTSN+1 {
		t.Fatalf("NewCumulativeTSN = %d, want %d", fwd.NewCumulativeTSN, startTSN+1)
	}
	if client.lastFwdTSNSent != startTSN+1 {
		t.Fatalf("lastFwdTSNSent = %d, want %d", client.lastFwdTSNSent, startTSN+1)
	}
	if client.retransmit.Len() != 0 {
		t.Fatalf("expected abandoned records removed from the Retransmission Queue, %d remain", client.retransmit.Len())
	}
}

func TestMaybeSendForwardTSNDoesNotResendWithoutNewAbandonment(t *testing.T) {
	client, _ := newEstablishedPairForTest(t)
	now := time.Unix(1_700_000_000, 0)

	s, err := client.OpenStream(0, true, RexmitLimited(0))
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	writeAndTransmit(t, client, s, now, "a")
	startTSN := client.peerCumAckPoint + 1
	rec, ok := client.retransmit.Get(startTSN)
	if !ok {
		t.Fatalf("expected a record at TSN %d", startTSN)
	}
	rec.RetransmitCount = 1

	client.maybeSendForwardTSN(now)
	if _, ok := client.PollTransmit(); !ok {
		t.Fatalf("expected the first FORWARD-TSN to be sent")
	}

	// Calling again with nothing new abandoned must not emit a duplicate.
	client.maybeSendForwardTSN(now)
	if _, ok := client.PollTransmit(); ok {
		t.Fatalf("did not expect a second FORWARD-TSN with no new abandonment")
	}
}

func TestHandleForwardTSNAdvancesCumAckPointAndReleasesReassembly(t *testing.T) {
	_, server := newEstablishedPairForTest(t)
	now := time.Unix(1_700_000_000, 0)

	base := server.cumAckPoint

	// Server has an ordered stream 0 with SSN 2 already complete but
	// withheld, because SSN 0 and 1 never arrived.
	st := server.getOrCreateInboundStream(0, true)
	if err := st.reassembly.add(fragment{tsn: base + 3, seq: 2, begin: true, end: true, payload: []byte("c")}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, _, ok := st.reassembly.pop(); ok {
		t.Fatalf("SSN 2 must be withheld until SSN 0 and 1 are accounted for")
	}

	fwd := &wire.ForwardTSN{
		NewCumulativeTSN: base + 3,
		Streams:          []wire.ForwardTSNStreamEntry{{StreamID: 0, SSN: 1}},
	}
	server.handleForwardTSN(now, fwd)

	if server.cumAckPoint != base+3 {
		t.Fatalf("cumAckPoint = %d, want %d", server.cumAckPoint, base+3)
	}
	payload, _, ok := st.reassembly.pop()
	if !ok {
		t.Fatalf("expected SSN 2 released once FORWARD-TSN skipped past SSN 0 and 1")
	}
	if string(payload) != "c" {
		t.Fatalf("payload = %q, want %q", payload, "c")
	}
	if !server.sackImmediate {
		t.Fatalf("FORWARD-TSN must be acked promptly (RFC 3758 §3.3.3)")
	}
}

func TestHandleForwardTSNIgnoresStaleCumulativeTSN(t *testing.T) {
	_, server := newEstablishedPairForTest(t)
	now := time.Unix(1_700_000_000, 0)
	before := server.cumAckPoint

	fwd := &wire.ForwardTSN{NewCumulativeTSN: before - 1}
	server.handleForwardTSN(now, fwd)

	if server.cumAckPoint != before {
		t.Fatalf("cumAckPoint must not move backward: got %d, want %d", server.cumAckPoint, before)
	}
}
