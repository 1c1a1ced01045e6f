package wire

import "encoding/binary"

// ForwardTSNStreamEntry reports the new expected SSN for one stream,
// carried in a classic FORWARD-TSN chunk (RFC 3758 §3.2).
type ForwardTSNStreamEntry struct {
	StreamID uint16
	SSN      uint16
}

// IForwardTSNStreamEntry is the RFC 8260 §2.2 equivalent for I-DATA
// streams, which track a 32-bit Message Identifier instead of a 16-bit SSN
// and additionally flag whether the advance applies to the stream's
// unordered sub-queue.
type IForwardTSNStreamEntry struct {
	StreamID  uint16
	Unordered bool
	MID       uint32
}

// ForwardTSN advances the peer's view of the cumulative TSN to cover
// abandoned chunks (RFC 3758 §3.2), optionally using the I-DATA entry
// shape when IsInterleaved is set.
type ForwardTSN struct {
	IsInterleaved    bool
	NewCumulativeTSN uint32
	Streams          []ForwardTSNStreamEntry
	IStreams         []IForwardTSNStreamEntry
}

func (c *ForwardTSN) ChunkType() ChunkType {
	if c.IsInterleaved {
		return CTIForwardTSN
	}
	return CTForwardTSN
}

func (c *ForwardTSN) MarshalChunk() []byte {
	if c.IsInterleaved {
		v := make([]byte, 4+8*len(c.IStreams))
		binary.BigEndian.PutUint32(v[0:4], c.NewCumulativeTSN)
		off := 4
		for _, e := range c.IStreams {
			binary.BigEndian.PutUint16(v[off:off+2], e.StreamID)
			var flags uint16
			if e.Unordered {
				flags = 1
			}
			binary.BigEndian.PutUint16(v[off+2:off+4], flags)
			binary.BigEndian.PutUint32(v[off+4:off+8], e.MID)
			off += 8
		}
		return marshalChunk(CTIForwardTSN, 0, v)
	}

	v := make([]byte, 4+4*len(c.Streams))
	binary.BigEndian.PutUint32(v[0:4], c.NewCumulativeTSN)
	off := 4
	for _, e := range c.Streams {
		binary.BigEndian.PutUint16(v[off:off+2], e.StreamID)
		binary.BigEndian.PutUint16(v[off+2:off+4], e.SSN)
		off += 4
	}
	return marshalChunk(CTForwardTSN, 0, v)
}

func decodeForwardTSN(value []byte, interleaved bool) (*ForwardTSN, error) {
	if len(value) < 4 {
		return nil, ErrChunkTooShort
	}
	c := &ForwardTSN{IsInterleaved: interleaved, NewCumulativeTSN: binary.BigEndian.Uint32(value[0:4])}
	rest := value[4:]

	if interleaved {
		if len(rest)%8 != 0 {
			return nil, ErrChunkTooShort
		}
		for off := 0; off < len(rest); off += 8 {
			c.IStreams = append(c.IStreams, IForwardTSNStreamEntry{
				StreamID:  binary.BigEndian.Uint16(rest[off : off+2]),
				Unordered: binary.BigEndian.Uint16(rest[off+2:off+4]) != 0,
				MID:       binary.BigEndian.Uint32(rest[off+4 : off+8]),
			})
		}
		return c, nil
	}

	if len(rest)%4 != 0 {
		return nil, ErrChunkTooShort
	}
	for off := 0; off < len(rest); off += 4 {
		c.Streams = append(c.Streams, ForwardTSNStreamEntry{
			StreamID: binary.BigEndian.Uint16(rest[off : off+2]),
			SSN:      binary.BigEndian.Uint16(rest[off+2 : off+4]),
		})
	}
	return c, nil
}
