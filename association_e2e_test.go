package sctp

import (
	"bytes"
	"testing"
	"time"

	"github.com/tinyrange/sctp/internal/pcap"
	"github.com/tinyrange/sctp/internal/wire"
)

// recordTrace opens a pcap.Recorder backed by an in-memory buffer, for
// scenarios exercising loss/retransmission where a failing run benefits
// from a tcpdump/Wireshark-readable capture of what actually crossed the
// wire. Tests don't assert on the buffer; it exists so a future failure can
// be dumped to a file and inspected.
func recordTrace(t *testing.T) (*pcap.Recorder, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	rec, err := pcap.NewRecorder(&buf, 0)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	return rec, &buf
}

// decodeChunks decodes raw and returns its header and every chunk it
// carries, so a bundled datagram's chunks can be re-split into individual
// packets.
func decodeChunks(t *testing.T, raw []byte) (wire.Header, []wire.Chunk) {
	t.Helper()
	hdr, chunks, err := wire.DecodePacket(raw)
	if err != nil {
		t.Fatalf("DecodePacket: %v", err)
	}
	return hdr, chunks
}

func encodeSingle(hdr wire.Header, c wire.Chunk) []byte {
	return wire.EncodePacket(hdr, []wire.Chunk{c})
}

// S1: handshake produces INIT -> INIT-ACK -> COOKIE-ECHO -> COOKIE-ACK, in
// that order, and both sides emit EventEstablished with no DATA observed.
func TestE2EHandshakeScenarioS1(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cfg := DefaultConfig()
	cfg.CookieSecret = []byte("test-secret")
	client := newAssociation(cfg, RoleClient, nil)
	server := newAssociation(cfg, RoleServer, nil)

	if err := client.Connect(now); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var observedTypes []wire.ChunkType
	for i := 0; i < 10; i++ {
		progressed := false
		for {
			p, ok := client.PollTransmit()
			if !ok {
				break
			}
			_, chunks := decodeChunks(t, p)
			for _, c := range chunks {
				observedTypes = append(observedTypes, c.ChunkType())
			}
			server.HandleDatagram(now, p)
			progressed = true
		}
		for {
			p, ok := server.PollTransmit()
			if !ok {
				break
			}
			_, chunks := decodeChunks(t, p)
			for _, c := range chunks {
				observedTypes = append(observedTypes, c.ChunkType())
			}
			client.HandleDatagram(now, p)
			progressed = true
		}
		if !progressed {
			break
		}
	}

	want := []wire.ChunkType{wire.CTInit, wire.CTInitAck, wire.CTCookieEcho, wire.CTCookieAck}
	if len(observedTypes) != len(want) {
		t.Fatalf("chunk sequence = %v, want %v", observedTypes, want)
	}
	for i, c := range want {
		if observedTypes[i] != c {
			t.Fatalf("chunk[%d] = %v, want %v (full sequence %v)", i, observedTypes[i], c, observedTypes)
		}
	}
	for _, c := range observedTypes {
		if c == wire.CTData || c == wire.CTIData {
			t.Fatalf("did not expect any DATA/I-DATA during the handshake, got %v", observedTypes)
		}
	}

	if client.State() != StateEstablished || server.State() != StateEstablished {
		t.Fatalf("expected both sides established, got client=%v server=%v", client.State(), server.State())
	}
	if ev, ok := client.PollEvent(); !ok {
		t.Fatalf("expected client EventEstablished")
	} else if _, ok := ev.(EventEstablished); !ok {
		t.Fatalf("expected EventEstablished, got %T", ev)
	}
	if ev, ok := server.PollEvent(); !ok {
		t.Fatalf("expected server EventEstablished")
	} else if _, ok := ev.(EventEstablished); !ok {
		t.Fatalf("expected EventEstablished, got %T", ev)
	}
}

// S2: a single ordered, reliable write arrives intact and the client's view
// of the peer's cumulative ack point advances to cover it.
func TestE2ERoundTripSendScenarioS2(t *testing.T) {
	client, server := newEstablishedPairForTest(t)
	now := time.Unix(1_700_000_000, 0)

	s, err := client.OpenStream(0, true, Reliable())
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	if _, err := s.Write(now, []byte{0x41, 0x42, 0x43}, 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	sentTSN := client.nextTSN
	client.runTransmitPass(now)

	pump(t, client, server, now)
	// A lone DATA packet is acked when the server's delayed-ack timer fires.
	server.HandleTimeout(now.Add(server.cfg.CumAckTimeout))
	pump(t, client, server, now)

	found := false
	for {
		ev, ok := server.PollEvent()
		if !ok {
			break
		}
		if d, ok := ev.(EventDataReceived); ok && d.StreamID == 0 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected server to observe EventDataReceived on stream 0")
	}

	ss, ok := server.streams[0]
	if !ok {
		t.Fatalf("expected server to have an inbound stream 0")
	}
	payload, _, ok := ss.reassembly.pop()
	if !ok {
		t.Fatalf("expected a reassembled message ready to read")
	}
	if string(payload) != "\x41\x42\x43" {
		t.Fatalf("payload = %x, want 414243", payload)
	}

	if client.peerCumAckPoint != sentTSN {
		t.Fatalf("peerCumAckPoint = %d, want %d (the DATA chunk's TSN)", client.peerCumAckPoint, sentTSN)
	}
}

// S3: dropping the middle of three DATA chunks produces a SACK with a gap
// block; three duplicate SACKs reporting that gap drive fast retransmit and
// halve cwnd, and once the retransmitted copy arrives all three messages
// are delivered, in order.
func TestE2EGapAndRetransmitScenarioS3(t *testing.T) {
	client, server := newEstablishedPairForTest(t)
	now := time.Unix(1_700_000_000, 0)
	trace, traceBuf := recordTrace(t)

	s, err := client.OpenStream(0, true, Reliable())
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	for _, b := range []byte{0x41, 0x42, 0x43} {
		if _, err := s.Write(now, []byte{b}, 0); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	client.runTransmitPass(now)
	raw, ok := client.PollTransmit()
	if !ok {
		t.Fatalf("expected a bundled DATA datagram")
	}
	if err := trace.RecordDatagram(now, raw); err != nil {
		t.Fatalf("RecordDatagram: %v", err)
	}
	hdr, chunks := decodeChunks(t, raw)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 bundled DATA chunks, got %d", len(chunks))
	}
	dropped, ok := chunks[1].(*wire.Data)
	if !ok {
		t.Fatalf("expected chunks[1] to be classic DATA, got %T", chunks[1])
	}
	missingTSN := dropped.TSN

	// Deliver the first and third chunks only; the second never arrives.
	server.HandleDatagram(now, encodeSingle(hdr, chunks[0]))
	server.HandleDatagram(now, encodeSingle(hdr, chunks[2]))

	sackRaw, ok := server.PollTransmit()
	if !ok {
		t.Fatalf("expected an immediate SACK reporting the gap")
	}
	if err := trace.RecordDatagram(now, sackRaw); err != nil {
		t.Fatalf("RecordDatagram: %v", err)
	}
	client.HandleDatagram(now, sackRaw)

	cwndBefore := client.cc.cwnd
	for i := 0; i < 2; i++ {
		server.sendSack()
		dup, ok := server.PollTransmit()
		if !ok {
			t.Fatalf("expected a duplicate SACK")
		}
		if err := trace.RecordDatagram(now, dup); err != nil {
			t.Fatalf("RecordDatagram: %v", err)
		}
		client.HandleDatagram(now, dup)
	}

	rec, ok := client.retransmit.Get(missingTSN)
	if !ok {
		t.Fatalf("expected the dropped TSN still queued for retransmission")
	}
	if !rec.RetransmitFlag {
		t.Fatalf("expected the missing TSN marked for fast retransmit after 3 duplicate SACKs")
	}
	if client.cc.cwnd >= cwndBefore {
		t.Fatalf("expected cwnd to shrink entering fast recovery: before=%d after=%d", cwndBefore, client.cc.cwnd)
	}

	client.runTransmitPass(now)
	for {
		p, ok := client.PollTransmit()
		if !ok {
			break
		}
		if err := trace.RecordDatagram(now, p); err != nil {
			t.Fatalf("RecordDatagram: %v", err)
		}
		server.HandleDatagram(now, p)
	}

	ss, ok := server.streams[0]
	if !ok {
		t.Fatalf("expected server inbound stream 0 to exist")
	}
	var got []byte
	for i := 0; i < 3; i++ {
		payload, _, ok := ss.reassembly.pop()
		if !ok {
			t.Fatalf("expected message %d ready, only got %d", i, len(got))
		}
		got = append(got, payload...)
	}
	if string(got) != "\x41\x42\x43" {
		t.Fatalf("delivered bytes = %x, want 414243 in order", got)
	}
	if traceBuf.Len() == 0 {
		t.Fatalf("expected the pcap trace buffer to hold the captured datagrams")
	}
}

// S4: with all outbound DATA dropped, T3-RTX fires repeatedly until the
// client gives up past MaxAssociationRetransmits and reports
// AbortCauseRetransmitLimitExceeded locally. The server never sees any of
// the dropped datagrams, so only the client side is checked.
func TestE2ET3RTXExhaustionAbortsScenarioS4(t *testing.T) {
	client, _ := newEstablishedPairForTest(t)
	now := time.Unix(1_700_000_000, 0)
	cfg := client.cfg

	s, err := client.OpenStream(0, true, Reliable())
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	if _, err := s.Write(now, []byte("hi"), 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	client.runTransmitPass(now)
	// Drop every retransmission attempt: never deliver to the server.
	for {
		if _, ok := client.PollTransmit(); !ok {
			break
		}
	}

	rto := client.rtt.RTO()
	deadline, ok := client.PollTimeout()
	if !ok {
		t.Fatalf("expected a pending T3-RTX deadline")
	}
	deadline = deadline.Add(1)

	var lastRTO time.Duration
	for i := uint32(0); i <= cfg.MaxAssociationRetransmits+1; i++ {
		if client.State() == StateClosed {
			break
		}
		client.HandleTimeout(deadline)
		for {
			if _, ok := client.PollTransmit(); !ok {
				break
			}
		}
		if next, ok := client.PollTimeout(); ok {
			deadline = next.Add(1)
		}
	}
	_ = rto
	_ = lastRTO

	if client.State() != StateClosed {
		t.Fatalf("expected association closed after exhausting retransmits, state=%v", client.State())
	}
	if client.closeCause != AbortCauseRetransmitLimitExceeded {
		t.Fatalf("closeCause = %v, want AbortCauseRetransmitLimitExceeded", client.closeCause)
	}
	found := false
	for {
		ev, ok := client.PollEvent()
		if !ok {
			break
		}
		if c, ok := ev.(EventClosed); ok && c.Cause == AbortCauseRetransmitLimitExceeded {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an EventClosed{Cause: AbortCauseRetransmitLimitExceeded}")
	}
}

// S6: a reassembled message that exceeds MaxMessageSize aborts the receiver
// with ProtocolViolation.
func TestE2EOversizeMessageAbortsScenarioS6(t *testing.T) {
	client, server := newEstablishedPairForTest(t)
	now := time.Unix(1_700_000_000, 0)
	server.cfg.MaxMessageSize = 1024
	client.cfg.MaxPayloadSize = 600
	client.cfg.MTU = 600

	s, err := client.OpenStream(0, true, Reliable())
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	big := make([]byte, 1025)
	for i := range big {
		big[i] = byte(i)
	}
	if _, err := s.Write(now, big, 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	client.runTransmitPass(now)
	pump(t, client, server, now)

	if server.State() != StateClosed {
		t.Fatalf("expected server association aborted, state=%v", server.State())
	}
	if server.closeCause != AbortCauseProtocolViolation {
		t.Fatalf("closeCause = %v, want AbortCauseProtocolViolation", server.closeCause)
	}
}

// Property: bytes acknowledged never exceed bytes sent, across a send then
// full-ack trace.
func TestPropertyBytesAckedNeverExceedBytesSent(t *testing.T) {
	client, server := newEstablishedPairForTest(t)
	now := time.Unix(1_700_000_000, 0)

	s, err := client.OpenStream(0, true, Reliable())
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	payload := []byte("hello world")
	if _, err := s.Write(now, payload, 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	bytesSent := uint64(len(payload))

	client.runTransmitPass(now)
	pump(t, client, server, now)
	server.HandleTimeout(now.Add(server.cfg.CumAckTimeout))
	pump(t, client, server, now)

	var bytesAcked uint64
	if s.bufferedAmount == 0 {
		bytesAcked = bytesSent
	} else {
		bytesAcked = bytesSent - s.bufferedAmount
	}
	if bytesAcked > bytesSent {
		t.Fatalf("bytesAcked (%d) exceeds bytesSent (%d)", bytesAcked, bytesSent)
	}
}
