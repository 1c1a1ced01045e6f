package wire

import "encoding/binary"

const (
	flagDataEnding     uint8 = 1 << 0
	flagDataBeginning  uint8 = 1 << 1
	flagDataUnordered  uint8 = 1 << 2
	flagDataImmediateSack uint8 = 1 << 3 // RFC 7053 SACK-IMMEDIATELY extension
)

const dataFixedLen = 12

// Data is a classic DATA chunk (RFC 4960 §3.3.1).
type Data struct {
	Unordered      bool
	Beginning      bool
	Ending         bool
	ImmediateSack  bool
	TSN            uint32
	StreamID       uint16
	SSN            uint16
	PPID           uint32
	UserData       []byte
}

func (c *Data) ChunkType() ChunkType { return CTData }

func (c *Data) flags() uint8 {
	var f uint8
	if c.Ending {
		f |= flagDataEnding
	}
	if c.Beginning {
		f |= flagDataBeginning
	}
	if c.Unordered {
		f |= flagDataUnordered
	}
	if c.ImmediateSack {
		f |= flagDataImmediateSack
	}
	return f
}

func (c *Data) MarshalChunk() []byte {
	v := make([]byte, dataFixedLen+len(c.UserData))
	binary.BigEndian.PutUint32(v[0:4], c.TSN)
	binary.BigEndian.PutUint16(v[4:6], c.StreamID)
	binary.BigEndian.PutUint16(v[6:8], c.SSN)
	binary.BigEndian.PutUint32(v[8:12], c.PPID)
	copy(v[dataFixedLen:], c.UserData)
	return marshalChunk(CTData, c.flags(), v)
}

func decodeData(flags uint8, value []byte) (*Data, error) {
	if len(value) < dataFixedLen {
		return nil, ErrChunkTooShort
	}
	return &Data{
		Ending:        flags&flagDataEnding != 0,
		Beginning:     flags&flagDataBeginning != 0,
		Unordered:     flags&flagDataUnordered != 0,
		ImmediateSack: flags&flagDataImmediateSack != 0,
		TSN:           binary.BigEndian.Uint32(value[0:4]),
		StreamID:      binary.BigEndian.Uint16(value[4:6]),
		SSN:           binary.BigEndian.Uint16(value[6:8]),
		PPID:          binary.BigEndian.Uint32(value[8:12]),
		UserData:      append([]byte(nil), value[dataFixedLen:]...),
	}, nil
}

const iDataFixedLen = 16

// IData is an I-DATA chunk (RFC 8260 §2.1): classic DATA's SSN is replaced
// by a 32-bit Message Identifier, and the final 4-byte field holds either
// the PPID (first fragment, Beginning set) or the Fragment Sequence Number
// (subsequent fragments).
type IData struct {
	Unordered     bool
	Beginning     bool
	Ending        bool
	ImmediateSack bool
	TSN           uint32
	StreamID      uint16
	MID           uint32
	PPIDOrFSN     uint32
	UserData      []byte
}

func (c *IData) ChunkType() ChunkType { return CTIData }

func (c *IData) flags() uint8 {
	var f uint8
	if c.Ending {
		f |= flagDataEnding
	}
	if c.Beginning {
		f |= flagDataBeginning
	}
	if c.Unordered {
		f |= flagDataUnordered
	}
	if c.ImmediateSack {
		f |= flagDataImmediateSack
	}
	return f
}

func (c *IData) MarshalChunk() []byte {
	v := make([]byte, iDataFixedLen+len(c.UserData))
	binary.BigEndian.PutUint32(v[0:4], c.TSN)
	binary.BigEndian.PutUint16(v[4:6], c.StreamID)
	// bytes [6:8] reserved
	binary.BigEndian.PutUint32(v[8:12], c.MID)
	binary.BigEndian.PutUint32(v[12:16], c.PPIDOrFSN)
	copy(v[iDataFixedLen:], c.UserData)
	return marshalChunk(CTIData, c.flags(), v)
}

func decodeIData(flags uint8, value []byte) (*IData, error) {
	if len(value) < iDataFixedLen {
		return nil, ErrChunkTooShort
	}
	return &IData{
		Ending:        flags&flagDataEnding != 0,
		Beginning:     flags&flagDataBeginning != 0,
		Unordered:     flags&flagDataUnordered != 0,
		ImmediateSack: flags&flagDataImmediateSack != 0,
		TSN:           binary.BigEndian.Uint32(value[0:4]),
		StreamID:      binary.BigEndian.Uint16(value[4:6]),
		MID:           binary.BigEndian.Uint32(value[8:12]),
		PPIDOrFSN:     binary.BigEndian.Uint32(value[12:16]),
		UserData:      append([]byte(nil), value[iDataFixedLen:]...),
	}, nil
}
