package wire

import (
	"bytes"
	"math/rand/v2"
	"testing"
)

func TestCRC32cScalarMatchesTable(t *testing.T) {
	rng := rand.NewChaCha8([32]byte{})
	for _, n := range []int{0, 1, 12, 13, 37, 256, 1500} {
		buf := make([]byte, n)
		for i := range buf {
			buf[i] = byte(rng.Uint64())
		}
		if n >= 12 {
			// Checksum field itself should not affect the result.
			buf[8], buf[9], buf[10], buf[11] = 0xAA, 0xBB, 0xCC, 0xDD
		}
		if got, want := Checksum(buf), checksumScalar(buf); got != want {
			t.Fatalf("len=%d: table=%#x scalar=%#x", n, got, want)
		}
	}
}

func TestPacketRoundTripInit(t *testing.T) {
	init := &Init{
		InitiateTag:     0xdeadbeef,
		AdvertisedRwnd:  131072,
		OutboundStreams: 10,
		InboundStreams:  10,
		InitialTSN:      42,
		Params: []TLV{
			ForwardTSNSupportedParam(),
			IPv4AddressParam([4]byte{10, 0, 0, 1}),
		},
	}
	hdr := Header{SourcePort: 5000, DestinationPort: 5001, VerificationTag: 0}
	raw := EncodePacket(hdr, []Chunk{init})

	gotHdr, chunks, err := DecodePacket(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gotHdr != hdr {
		t.Fatalf("header mismatch: %+v vs %+v", gotHdr, hdr)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	got, ok := chunks[0].(*Init)
	if !ok {
		t.Fatalf("expected *Init, got %T", chunks[0])
	}
	if got.InitiateTag != init.InitiateTag || got.InitialTSN != init.InitialTSN {
		t.Fatalf("field mismatch: %+v vs %+v", got, init)
	}
	if !got.SupportsForwardTSN() {
		t.Fatalf("expected forward-tsn support parameter to round-trip")
	}
}

func TestPacketRoundTripDataAndSack(t *testing.T) {
	data := &Data{
		Beginning: true,
		Ending:    true,
		TSN:       7,
		StreamID:  3,
		SSN:       1,
		PPID:      51,
		UserData:  []byte("hello"),
	}
	sack := &Sack{
		CumulativeTSNAck: 7,
		AdvertisedRwnd:   65536,
		GapAckBlocks:     []GapAckBlock{{Start: 2, End: 2}},
		DuplicateTSNs:    []uint32{5},
	}
	raw := EncodePacket(Header{VerificationTag: 99}, []Chunk{data, sack})

	_, chunks, err := DecodePacket(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	gotData := chunks[0].(*Data)
	if !bytes.Equal(gotData.UserData, data.UserData) {
		t.Fatalf("user data mismatch: %q vs %q", gotData.UserData, data.UserData)
	}
	gotSack := chunks[1].(*Sack)
	if len(gotSack.GapAckBlocks) != 1 || gotSack.GapAckBlocks[0] != sack.GapAckBlocks[0] {
		t.Fatalf("gap ack blocks mismatch: %+v", gotSack.GapAckBlocks)
	}
	if len(gotSack.DuplicateTSNs) != 1 || gotSack.DuplicateTSNs[0] != 5 {
		t.Fatalf("duplicate tsns mismatch: %+v", gotSack.DuplicateTSNs)
	}
}

func TestDecodePacketRejectsBadChecksum(t *testing.T) {
	raw := EncodePacket(Header{}, []Chunk{&CookieAck{}})
	raw[8] ^= 0xFF
	if _, _, err := DecodePacket(raw); err != ErrChecksumMismatch {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestDecodePacketRejectsTruncatedChunk(t *testing.T) {
	raw := EncodePacket(Header{}, []Chunk{&Shutdown{CumulativeTSNAck: 1}})
	truncated := raw[:len(raw)-2]
	if _, _, err := DecodePacket(truncated); err == nil {
		t.Fatalf("expected an error decoding a truncated chunk")
	}
}

func TestUnknownChunkActionBits(t *testing.T) {
	cases := []struct {
		typ          ChunkType
		skip, report bool
	}{
		{0x20, false, false}, // 00
		{0x60, false, true},  // 01
		{0xA0, true, false},  // 10
		{0xE0, true, true},   // 11
	}
	for _, tc := range cases {
		raw := marshalChunk(tc.typ, 0, []byte{1, 2, 3, 4})
		chunks, err := decodeChunks(raw)
		if err != nil {
			t.Fatalf("decode unknown chunk %x: %v", tc.typ, err)
		}
		uc := chunks[0].(*UnknownChunk)
		if uc.Skip() != tc.skip || uc.Report() != tc.report {
			t.Fatalf("type %#x: skip=%v report=%v, want skip=%v report=%v", tc.typ, uc.Skip(), uc.Report(), tc.skip, tc.report)
		}
	}
}

func TestReconfigParamsRoundTrip(t *testing.T) {
	req := OutgoingSSNResetRequest{RequestSeq: 1, ResponseSeq: 0, SenderLastTSN: 99, StreamIDs: []uint16{7}}
	rc := &Reconfig{Params: []TLV{req.TLV()}}
	raw := EncodePacket(Header{}, []Chunk{rc})

	_, chunks, err := DecodePacket(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := chunks[0].(*Reconfig)
	decoded, err := DecodeOutgoingSSNResetRequest(got.Params[0])
	if err != nil {
		t.Fatalf("decode param: %v", err)
	}
	if decoded.RequestSeq != 1 || decoded.SenderLastTSN != 99 || len(decoded.StreamIDs) != 1 || decoded.StreamIDs[0] != 7 {
		t.Fatalf("mismatch: %+v", decoded)
	}
}
