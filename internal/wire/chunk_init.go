package wire

import "encoding/binary"

const initFixedLen = 16

// Init is the common fixed-field shape of INIT and INIT-ACK (RFC 4960
// §3.3.2/§3.3.3); IsAck distinguishes which one this value represents.
type Init struct {
	IsAck              bool
	InitiateTag        uint32
	AdvertisedRwnd     uint32
	OutboundStreams    uint16
	InboundStreams     uint16
	InitialTSN         uint32
	Params             []TLV
}

func (c *Init) ChunkType() ChunkType {
	if c.IsAck {
		return CTInitAck
	}
	return CTInit
}

func (c *Init) MarshalChunk() []byte {
	v := make([]byte, initFixedLen)
	binary.BigEndian.PutUint32(v[0:4], c.InitiateTag)
	binary.BigEndian.PutUint32(v[4:8], c.AdvertisedRwnd)
	binary.BigEndian.PutUint16(v[8:10], c.OutboundStreams)
	binary.BigEndian.PutUint16(v[10:12], c.InboundStreams)
	binary.BigEndian.PutUint32(v[12:16], c.InitialTSN)
	v = append(v, encodeTLVs(c.Params)...)
	return marshalChunk(c.ChunkType(), 0, v)
}

func decodeInit(_ uint8, value []byte, isAck bool) (*Init, error) {
	if len(value) < initFixedLen {
		return nil, ErrChunkTooShort
	}
	params, err := decodeTLVs(value[initFixedLen:])
	if err != nil {
		return nil, err
	}
	return &Init{
		IsAck:           isAck,
		InitiateTag:     binary.BigEndian.Uint32(value[0:4]),
		AdvertisedRwnd:  binary.BigEndian.Uint32(value[4:8]),
		OutboundStreams: binary.BigEndian.Uint16(value[8:10]),
		InboundStreams:  binary.BigEndian.Uint16(value[10:12]),
		InitialTSN:      binary.BigEndian.Uint32(value[12:16]),
		Params:          params,
	}, nil
}

// StateCookie returns the mandatory state cookie parameter from an
// INIT-ACK's parameter list, if present.
func (c *Init) StateCookie() ([]byte, bool) {
	for _, p := range c.Params {
		if p.Type == ParamStateCookie {
			return p.Value, true
		}
	}
	return nil, false
}

// SupportsForwardTSN reports whether the peer advertised RFC 3758 support.
func (c *Init) SupportsForwardTSN() bool {
	for _, p := range c.Params {
		if p.Type == ParamForwardTSNSupported {
			return true
		}
	}
	return false
}
