package wire

import "encoding/binary"

const sackFixedLen = 12

// GapAckBlock is one (Start, End) gap report, both offsets relative to
// CumulativeTSNAck (RFC 4960 §3.3.4).
type GapAckBlock struct {
	Start uint16
	End   uint16
}

// Sack is a SACK chunk (RFC 4960 §3.3.4).
type Sack struct {
	CumulativeTSNAck uint32
	AdvertisedRwnd   uint32
	GapAckBlocks     []GapAckBlock
	DuplicateTSNs    []uint32
}

func (c *Sack) ChunkType() ChunkType { return CTSack }

func (c *Sack) MarshalChunk() []byte {
	v := make([]byte, sackFixedLen+4*len(c.GapAckBlocks)+4*len(c.DuplicateTSNs))
	binary.BigEndian.PutUint32(v[0:4], c.CumulativeTSNAck)
	binary.BigEndian.PutUint32(v[4:8], c.AdvertisedRwnd)
	binary.BigEndian.PutUint16(v[8:10], uint16(len(c.GapAckBlocks)))
	binary.BigEndian.PutUint16(v[10:12], uint16(len(c.DuplicateTSNs)))

	off := sackFixedLen
	for _, g := range c.GapAckBlocks {
		binary.BigEndian.PutUint16(v[off:off+2], g.Start)
		binary.BigEndian.PutUint16(v[off+2:off+4], g.End)
		off += 4
	}
	for _, d := range c.DuplicateTSNs {
		binary.BigEndian.PutUint32(v[off:off+4], d)
		off += 4
	}
	return marshalChunk(CTSack, 0, v)
}

func decodeSack(_ uint8, value []byte) (*Sack, error) {
	if len(value) < sackFixedLen {
		return nil, ErrChunkTooShort
	}
	numGaps := int(binary.BigEndian.Uint16(value[8:10]))
	numDups := int(binary.BigEndian.Uint16(value[10:12]))

	want := sackFixedLen + 4*numGaps + 4*numDups
	if len(value) < want {
		return nil, ErrChunkTooShort
	}

	s := &Sack{
		CumulativeTSNAck: binary.BigEndian.Uint32(value[0:4]),
		AdvertisedRwnd:   binary.BigEndian.Uint32(value[4:8]),
	}
	off := sackFixedLen
	for i := 0; i < numGaps; i++ {
		s.GapAckBlocks = append(s.GapAckBlocks, GapAckBlock{
			Start: binary.BigEndian.Uint16(value[off : off+2]),
			End:   binary.BigEndian.Uint16(value[off+2 : off+4]),
		})
		off += 4
	}
	for i := 0; i < numDups; i++ {
		s.DuplicateTSNs = append(s.DuplicateTSNs, binary.BigEndian.Uint32(value[off:off+4]))
		off += 4
	}
	return s, nil
}
