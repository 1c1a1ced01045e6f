package wire

import "encoding/binary"

// DecodePacket validates and parses a full SCTP datagram: the 12-byte
// common header, its CRC32c checksum, and the chunk sequence that follows.
// Per spec §4.1, a packet shorter than the common header, a chunk whose
// declared length exceeds the remaining buffer, or a bad checksum are all
// hard decode errors — Association silently drops the datagram on any of
// them rather than propagating a protocol error to the peer.
func DecodePacket(raw []byte) (Header, []Chunk, error) {
	hdr, err := DecodeHeader(raw)
	if err != nil {
		return Header{}, nil, err
	}

	// The checksum field is transmitted least-significant-byte first even
	// though every other SCTP field is network byte order: Go's crc32
	// package computes CRC32c with reflected input/output, and the SCTP
	// wire format preserves that reflection rather than byte-swapping it
	// back, so the field must be read/written with LittleEndian to match
	// what real stacks put on the wire (see crc32c.go's grounding note).
	theirs := binary.LittleEndian.Uint32(raw[8:12])
	ours := Checksum(raw)
	if theirs != ours {
		return Header{}, nil, ErrChecksumMismatch
	}

	chunks, err := decodeChunks(raw[commonHeaderLen:])
	if err != nil {
		return Header{}, nil, err
	}
	return hdr, chunks, nil
}

// EncodePacket serializes the common header and chunks and stamps the
// CRC32c checksum.
func EncodePacket(hdr Header, chunks []Chunk) []byte {
	buf := make([]byte, commonHeaderLen)
	putHeader(buf, hdr)
	for _, c := range chunks {
		buf = append(buf, c.MarshalChunk()...)
	}
	binary.LittleEndian.PutUint32(buf[8:12], Checksum(buf))
	return buf
}
