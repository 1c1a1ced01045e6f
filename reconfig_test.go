package sctp

import (
	"testing"
	"time"

	"github.com/tinyrange/sctp/internal/wire"
)

func wireOutgoingResetRequest(t *testing.T, reqSeq, respSeq, lastTSN uint32, ids []uint16) *wire.Reconfig {
	t.Helper()
	req := wire.OutgoingSSNResetRequest{RequestSeq: reqSeq, ResponseSeq: respSeq, SenderLastTSN: lastTSN, StreamIDs: ids}
	return &wire.Reconfig{Params: []wire.TLV{req.TLV()}}
}

func wireAddStreamsRequest(t *testing.T, reqSeq uint32, n uint16) *wire.Reconfig {
	t.Helper()
	req := wire.AddStreamsRequest{RequestSeq: reqSeq, NewStreams: n}
	return &wire.Reconfig{Params: []wire.TLV{req.OutgoingTLV()}}
}

// dispatchReconfigFor feeds c into a's handler and returns the raw datagram
// it queued in response, if any.
func dispatchReconfigFor(t *testing.T, a *Association, c *wire.Reconfig) []byte {
	t.Helper()
	a.handleReconfig(time.Unix(1_700_000_000, 0), c)
	p, ok := a.PollTransmit()
	if !ok {
		return nil
	}
	return p
}

func TestStreamCloseRoundTripResetsBothSides(t *testing.T) {
	client, server := newEstablishedPairForTest(t)
	now := time.Unix(1_700_000_000, 0)

	cs, _ := client.OpenStream(3, true, Reliable())
	if _, err := cs.Write(now, []byte("hi"), 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	client.runTransmitPass(now)
	pump(t, client, server, now)
	drainEvents(client)
	drainEvents(server)

	if err := cs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	pump(t, client, server, now)

	found := false
	for {
		ev, ok := client.PollEvent()
		if !ok {
			break
		}
		if r, ok := ev.(EventStreamReset); ok && r.StreamID == 3 && r.Outgoing {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected client to observe EventStreamReset{Outgoing:true} for stream 3")
	}
	if client.outgoingReconfig != nil {
		t.Fatalf("outgoing reconfig request should be cleared once answered")
	}

	foundIncoming := false
	for {
		ev, ok := server.PollEvent()
		if !ok {
			break
		}
		if r, ok := ev.(EventStreamReset); ok && r.StreamID == 3 && r.Incoming {
			foundIncoming = true
		}
	}
	if !foundIncoming {
		t.Fatalf("expected server to observe EventStreamReset{Incoming:true} for stream 3")
	}
}

func TestReconfigDedupReplaysIdenticalResponse(t *testing.T) {
	_, server := newEstablishedPairForTest(t)

	req := wireOutgoingResetRequest(t, 1, 0, server.cumAckPoint, []uint16{5})
	first := dispatchReconfigFor(t, server, req)
	second := dispatchReconfigFor(t, server, req)

	if first == nil || second == nil {
		t.Fatalf("expected a response datagram both times")
	}
	if string(first) != string(second) {
		t.Fatalf("replaying the same request-sequence must reproduce the same response byte-for-byte")
	}
}

func TestReconfigAddStreamsGrantsImmediately(t *testing.T) {
	_, server := newEstablishedPairForTest(t)
	// The default config already negotiates the 65535 ceiling; start lower
	// so the grant has room to grow the count.
	server.inboundStreamCount = 10
	before := server.inboundStreamCount
	req := wireAddStreamsRequest(t, 1, 4)
	server.handleReconfig(time.Unix(1_700_000_000, 0), req)
	if server.inboundStreamCount != before+4 {
		t.Fatalf("expected inboundStreamCount to grow by 4: got %d want %d", server.inboundStreamCount, before+4)
	}
}
