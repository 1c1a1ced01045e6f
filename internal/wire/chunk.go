package wire

import (
	"encoding/binary"
)

// ChunkType identifies the chunk variants this engine understands (RFC
// 4960 §3.3, RFC 3758, RFC 6525, RFC 8260). Chunk dispatch is a closed
// switch over this type, not an open interface — see spec §9.
type ChunkType uint8

const (
	CTData             ChunkType = 0
	CTInit             ChunkType = 1
	CTInitAck          ChunkType = 2
	CTSack             ChunkType = 3
	CTHeartbeat        ChunkType = 4
	CTHeartbeatAck     ChunkType = 5
	CTAbort            ChunkType = 6
	CTShutdown         ChunkType = 7
	CTShutdownAck      ChunkType = 8
	CTError            ChunkType = 9
	CTCookieEcho       ChunkType = 10
	CTCookieAck        ChunkType = 11
	CTShutdownComplete ChunkType = 14
	CTIData            ChunkType = 0x40
	CTReconfig         ChunkType = 0x82
	CTForwardTSN       ChunkType = 0xC0
	CTIForwardTSN      ChunkType = 0xC2
)

func (t ChunkType) String() string {
	switch t {
	case CTData:
		return "DATA"
	case CTInit:
		return "INIT"
	case CTInitAck:
		return "INIT_ACK"
	case CTSack:
		return "SACK"
	case CTHeartbeat:
		return "HEARTBEAT"
	case CTHeartbeatAck:
		return "HEARTBEAT_ACK"
	case CTAbort:
		return "ABORT"
	case CTShutdown:
		return "SHUTDOWN"
	case CTShutdownAck:
		return "SHUTDOWN_ACK"
	case CTError:
		return "ERROR"
	case CTCookieEcho:
		return "COOKIE_ECHO"
	case CTCookieAck:
		return "COOKIE_ACK"
	case CTShutdownComplete:
		return "SHUTDOWN_COMPLETE"
	case CTIData:
		return "I_DATA"
	case CTReconfig:
		return "RE_CONFIG"
	case CTForwardTSN:
		return "FORWARD_TSN"
	case CTIForwardTSN:
		return "I_FORWARD_TSN"
	default:
		return "UNKNOWN"
	}
}

const chunkHeaderLen = 4

// Chunk is the closed set of wire chunks this engine can produce and
// consume. Concrete implementations live in the sibling chunk_*.go files.
type Chunk interface {
	ChunkType() ChunkType
	MarshalChunk() []byte
}

// UnknownChunk preserves an unrecognized chunk's type/flags/value so the
// association can apply the action-bit rule (skip/report/abort) without
// the codec needing to understand it.
type UnknownChunk struct {
	Type  ChunkType
	Flags uint8
	Value []byte
}

func (c *UnknownChunk) ChunkType() ChunkType { return c.Type }

func (c *UnknownChunk) MarshalChunk() []byte {
	return marshalChunk(c.Type, c.Flags, c.Value)
}

// Skip and Report implement the RFC 4960 §3.2 unrecognized-chunk-type
// action rule, derived from the two high bits of the type value.
func (c *UnknownChunk) Skip() bool {
	skip, _ := chunkAction(uint8(c.Type))
	return skip
}

func (c *UnknownChunk) Report() bool {
	_, report := chunkAction(uint8(c.Type))
	return report
}

// marshalChunk assembles the 4-byte chunk header plus value plus padding.
// Most concrete chunk types build their value first and call this.
func marshalChunk(t ChunkType, flags uint8, value []byte) []byte {
	length := chunkHeaderLen + len(value)
	buf := make([]byte, length+padLen(length))
	buf[0] = uint8(t)
	buf[1] = flags
	binary.BigEndian.PutUint16(buf[2:4], uint16(length))
	copy(buf[4:], value)
	return buf
}

// decodeChunks splits the chunk area of a packet (everything after the
// common header) into a sequence of typed Chunks. A chunk whose declared
// length exceeds the remaining bytes is a hard decode error (spec §4.1);
// an unrecognized chunk type decodes to *UnknownChunk rather than failing,
// so callers can apply the action-bit rule themselves.
func decodeChunks(b []byte) ([]Chunk, error) {
	var out []Chunk
	offset := 0
	for offset < len(b) {
		if offset+chunkHeaderLen > len(b) {
			return nil, ErrChunkHeaderTooShort
		}
		typ := ChunkType(b[offset])
		flags := b[offset+1]
		length := int(binary.BigEndian.Uint16(b[offset+2 : offset+4]))
		if length < chunkHeaderLen || offset+length > len(b) {
			return nil, ErrChunkTooShort
		}
		value := b[offset+chunkHeaderLen : offset+length]

		chunk, err := decodeOneChunk(typ, flags, value)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk)

		offset += length + padLen(length)
	}
	return out, nil
}

func decodeOneChunk(typ ChunkType, flags uint8, value []byte) (Chunk, error) {
	switch typ {
	case CTInit:
		return decodeInit(flags, value, false)
	case CTInitAck:
		return decodeInit(flags, value, true)
	case CTData:
		return decodeData(flags, value)
	case CTIData:
		return decodeIData(flags, value)
	case CTSack:
		return decodeSack(flags, value)
	case CTHeartbeat:
		return decodeHeartbeat(flags, value, false)
	case CTHeartbeatAck:
		return decodeHeartbeat(flags, value, true)
	case CTAbort:
		return decodeAbortOrShutdownComplete(flags, value, CTAbort)
	case CTShutdown:
		return decodeShutdown(flags, value)
	case CTShutdownAck:
		return &ShutdownAck{}, nil
	case CTShutdownComplete:
		return decodeAbortOrShutdownComplete(flags, value, CTShutdownComplete)
	case CTError:
		return decodeError(flags, value)
	case CTCookieEcho:
		return &CookieEcho{Cookie: append([]byte(nil), value...)}, nil
	case CTCookieAck:
		return &CookieAck{}, nil
	case CTForwardTSN:
		return decodeForwardTSN(value, false)
	case CTIForwardTSN:
		return decodeForwardTSN(value, true)
	case CTReconfig:
		return decodeReconfig(value)
	default:
		return &UnknownChunk{Type: typ, Flags: flags, Value: append([]byte(nil), value...)}, nil
	}
}
