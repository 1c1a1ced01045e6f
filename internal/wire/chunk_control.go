package wire

import "encoding/binary"

// Heartbeat is either a HEARTBEAT or a HEARTBEAT-ACK (RFC 4960 §3.3.5/6);
// both carry the same opaque Heartbeat Info parameter, echoed verbatim by
// the ACK.
type Heartbeat struct {
	IsAck  bool
	Params []TLV
}

func (c *Heartbeat) ChunkType() ChunkType {
	if c.IsAck {
		return CTHeartbeatAck
	}
	return CTHeartbeat
}

func (c *Heartbeat) MarshalChunk() []byte {
	return marshalChunk(c.ChunkType(), 0, encodeTLVs(c.Params))
}

func decodeHeartbeat(_ uint8, value []byte, isAck bool) (*Heartbeat, error) {
	params, err := decodeTLVs(value)
	if err != nil {
		return nil, err
	}
	return &Heartbeat{IsAck: isAck, Params: params}, nil
}

// Info returns the Heartbeat Info parameter value, if present.
func (c *Heartbeat) Info() ([]byte, bool) {
	for _, p := range c.Params {
		if p.Type == ParamHeartbeatInfo {
			return p.Value, true
		}
	}
	return nil, false
}

const flagTBit uint8 = 1

// AbortOrShutdownComplete backs both ABORT and SHUTDOWN-COMPLETE (RFC 4960
// §3.3.7/§3.3.12), which share the single T-bit flag meaning "sent in
// response to an out-of-association packet; reflect the sender's
// verification tag rather than ours."
type AbortOrShutdownComplete struct {
	Type   ChunkType // CTAbort or CTShutdownComplete
	TBit   bool
	Causes []TLV // always empty for SHUTDOWN-COMPLETE
}

func (c *AbortOrShutdownComplete) ChunkType() ChunkType { return c.Type }

func (c *AbortOrShutdownComplete) MarshalChunk() []byte {
	var flags uint8
	if c.TBit {
		flags = flagTBit
	}
	return marshalChunk(c.Type, flags, encodeTLVs(c.Causes))
}

func decodeAbortOrShutdownComplete(flags uint8, value []byte, typ ChunkType) (*AbortOrShutdownComplete, error) {
	causes, err := decodeTLVs(value)
	if err != nil {
		return nil, err
	}
	return &AbortOrShutdownComplete{Type: typ, TBit: flags&flagTBit != 0, Causes: causes}, nil
}

// Shutdown is a SHUTDOWN chunk (RFC 4960 §3.3.8).
type Shutdown struct {
	CumulativeTSNAck uint32
}

func (c *Shutdown) ChunkType() ChunkType { return CTShutdown }

func (c *Shutdown) MarshalChunk() []byte {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, c.CumulativeTSNAck)
	return marshalChunk(CTShutdown, 0, v)
}

func decodeShutdown(_ uint8, value []byte) (*Shutdown, error) {
	if len(value) < 4 {
		return nil, ErrChunkTooShort
	}
	return &Shutdown{CumulativeTSNAck: binary.BigEndian.Uint32(value[0:4])}, nil
}

// ShutdownAck is a SHUTDOWN-ACK chunk (RFC 4960 §3.3.9); it has no value.
type ShutdownAck struct{}

func (c *ShutdownAck) ChunkType() ChunkType { return CTShutdownAck }
func (c *ShutdownAck) MarshalChunk() []byte { return marshalChunk(CTShutdownAck, 0, nil) }

// CookieEcho carries the opaque state cookie echoed back from INIT-ACK
// (RFC 4960 §3.3.10... actually §3.3.11).
type CookieEcho struct {
	Cookie []byte
}

func (c *CookieEcho) ChunkType() ChunkType { return CTCookieEcho }
func (c *CookieEcho) MarshalChunk() []byte { return marshalChunk(CTCookieEcho, 0, c.Cookie) }

// CookieAck is a COOKIE-ACK chunk (RFC 4960 §3.3.12); it has no value.
type CookieAck struct{}

func (c *CookieAck) ChunkType() ChunkType { return CTCookieAck }
func (c *CookieAck) MarshalChunk() []byte { return marshalChunk(CTCookieAck, 0, nil) }

// ErrorChunk is an ERROR chunk (RFC 4960 §3.3.10): a non-fatal report of
// one or more error causes, sent without tearing down the association.
type ErrorChunk struct {
	Causes []TLV
}

func (c *ErrorChunk) ChunkType() ChunkType { return CTError }
func (c *ErrorChunk) MarshalChunk() []byte { return marshalChunk(CTError, 0, encodeTLVs(c.Causes)) }

func decodeError(_ uint8, value []byte) (*ErrorChunk, error) {
	causes, err := decodeTLVs(value)
	if err != nil {
		return nil, err
	}
	return &ErrorChunk{Causes: causes}, nil
}

// SimpleCause builds a minimal error-cause TLV with no cause-specific data,
// for the cause codes this engine actually emits.
func SimpleCause(code uint16) TLV {
	return TLV{Type: code}
}
