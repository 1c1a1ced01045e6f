package wire

import "encoding/binary"

// TLV is the generic Type-Length-Value shape shared by chunk parameters
// (RFC 4960 §3.2.1) and ABORT/ERROR cause codes (RFC 4960 §3.3.10) — both
// are a 16-bit type, a 16-bit length covering type+length+value (but not
// padding), and a value padded to a 4-byte boundary.
type TLV struct {
	Type  uint16
	Value []byte
}

// Parameter type codes (RFC 4960 §3.3.2.1, RFC 3758, RFC 6525, RFC 8260).
const (
	ParamHeartbeatInfo              uint16 = 1
	ParamIPv4Address                uint16 = 5
	ParamIPv6Address                uint16 = 6
	ParamStateCookie                uint16 = 7
	ParamUnrecognizedParameters     uint16 = 8
	ParamCookiePreservative         uint16 = 9
	ParamHostNameAddress            uint16 = 11
	ParamSupportedAddrTypes         uint16 = 12
	ParamOutgoingSSNResetRequest    uint16 = 13
	ParamIncomingSSNResetRequest    uint16 = 14
	ParamSSNTSNResetRequest         uint16 = 15
	ParamReconfigResponse           uint16 = 16
	ParamAddOutgoingStreamsRequest  uint16 = 17
	ParamAddIncomingStreamsRequest  uint16 = 18
	ParamForwardTSNSupported        uint16 = 0xC000
)

// Error cause codes (RFC 4960 §3.3.10), used inside ABORT and ERROR chunks.
const (
	CauseInvalidStreamID         uint16 = 1
	CauseMissingMandatoryParam   uint16 = 2
	CauseStaleCookie             uint16 = 3
	CauseOutOfResource           uint16 = 4
	CauseUnresolvableAddress     uint16 = 5
	CauseUnrecognizedChunkType   uint16 = 6
	CauseInvalidMandatoryParam   uint16 = 7
	CauseUnrecognizedParams      uint16 = 8
	CauseNoUserData              uint16 = 9
	CauseCookieWhileShuttingDown uint16 = 10
	CauseRestartWithNewAddr      uint16 = 11
	CauseUserInitiatedAbort      uint16 = 12
	CauseProtocolViolation       uint16 = 13
)

// decodeTLVs parses a run of 4-byte-aligned TLVs filling the rest of a
// chunk's value (parameters) or a cause list (ABORT/ERROR).
func decodeTLVs(b []byte) ([]TLV, error) {
	var out []TLV
	offset := 0
	for offset < len(b) {
		if offset+4 > len(b) {
			return nil, ErrParamTooShort
		}
		typ := binary.BigEndian.Uint16(b[offset : offset+2])
		length := int(binary.BigEndian.Uint16(b[offset+2 : offset+4]))
		if length < 4 || offset+length > len(b) {
			return nil, ErrParamTooShort
		}
		value := b[offset+4 : offset+length]
		out = append(out, TLV{Type: typ, Value: append([]byte(nil), value...)})
		offset += length + padLen(length)
	}
	return out, nil
}

func encodeTLVs(tlvs []TLV) []byte {
	var out []byte
	for _, t := range tlvs {
		out = append(out, encodeTLV(t)...)
	}
	return out
}

func encodeTLV(t TLV) []byte {
	length := 4 + len(t.Value)
	buf := make([]byte, length+padLen(length))
	binary.BigEndian.PutUint16(buf[0:2], t.Type)
	binary.BigEndian.PutUint16(buf[2:4], uint16(length))
	copy(buf[4:], t.Value)
	return buf
}

// IPv4AddressParam encodes/decodes the IPv4 Address parameter (type 5):
// a single 4-byte address, carried informationally in INIT/INIT-ACK. This
// engine does not act on it (spec §1: no multihoming) but must be able to
// parse it without erroring, since INIT commonly carries it.
func IPv4AddressParam(addr [4]byte) TLV {
	return TLV{Type: ParamIPv4Address, Value: addr[:]}
}

// CookiePreservativeParam encodes the Cookie Preservative parameter
// (type 9): a requested extension, in milliseconds, to the cookie
// lifetime.
func CookiePreservativeParam(extraMs uint32) TLV {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, extraMs)
	return TLV{Type: ParamCookiePreservative, Value: v}
}

// StateCookieParam wraps an opaque, HMAC-verifiable cookie blob (type 7).
func StateCookieParam(cookie []byte) TLV {
	return TLV{Type: ParamStateCookie, Value: cookie}
}

// ForwardTSNSupportedParam advertises RFC 3758 support; it carries no
// value.
func ForwardTSNSupportedParam() TLV {
	return TLV{Type: ParamForwardTSNSupported}
}

// HeartbeatInfoParam wraps the opaque info blob a HEARTBEAT carries (the
// engine fills it with a random nonce), which the peer echoes back verbatim
// in its HEARTBEAT-ACK.
func HeartbeatInfoParam(info []byte) TLV {
	return TLV{Type: ParamHeartbeatInfo, Value: info}
}

// OutgoingSSNResetRequest is the RFC 6525 §4.1 parameter a sender attaches
// to a RE-CONFIG chunk to request that the peer reset one or more of ITS
// incoming streams (i.e. close out OUR outgoing streams).
type OutgoingSSNResetRequest struct {
	RequestSeq    uint32
	ResponseSeq   uint32
	SenderLastTSN uint32
	StreamIDs     []uint16 // empty means "all streams"
}

func (r OutgoingSSNResetRequest) TLV() TLV {
	v := make([]byte, 12+2*len(r.StreamIDs))
	binary.BigEndian.PutUint32(v[0:4], r.RequestSeq)
	binary.BigEndian.PutUint32(v[4:8], r.ResponseSeq)
	binary.BigEndian.PutUint32(v[8:12], r.SenderLastTSN)
	for i, id := range r.StreamIDs {
		binary.BigEndian.PutUint16(v[12+2*i:], id)
	}
	return TLV{Type: ParamOutgoingSSNResetRequest, Value: v}
}

func DecodeOutgoingSSNResetRequest(t TLV) (OutgoingSSNResetRequest, error) {
	if len(t.Value) < 12 || len(t.Value)%2 != 0 {
		return OutgoingSSNResetRequest{}, ErrParamTooShort
	}
	r := OutgoingSSNResetRequest{
		RequestSeq:    binary.BigEndian.Uint32(t.Value[0:4]),
		ResponseSeq:   binary.BigEndian.Uint32(t.Value[4:8]),
		SenderLastTSN: binary.BigEndian.Uint32(t.Value[8:12]),
	}
	for off := 12; off+2 <= len(t.Value); off += 2 {
		r.StreamIDs = append(r.StreamIDs, binary.BigEndian.Uint16(t.Value[off:off+2]))
	}
	return r, nil
}

// IncomingSSNResetRequest (RFC 6525 §4.2) asks the peer to reset one or
// more of its OWN outgoing streams.
type IncomingSSNResetRequest struct {
	RequestSeq uint32
	StreamIDs  []uint16
}

func (r IncomingSSNResetRequest) TLV() TLV {
	v := make([]byte, 4+2*len(r.StreamIDs))
	binary.BigEndian.PutUint32(v[0:4], r.RequestSeq)
	for i, id := range r.StreamIDs {
		binary.BigEndian.PutUint16(v[4+2*i:], id)
	}
	return TLV{Type: ParamIncomingSSNResetRequest, Value: v}
}

func DecodeIncomingSSNResetRequest(t TLV) (IncomingSSNResetRequest, error) {
	if len(t.Value) < 4 || len(t.Value)%2 != 0 {
		return IncomingSSNResetRequest{}, ErrParamTooShort
	}
	r := IncomingSSNResetRequest{RequestSeq: binary.BigEndian.Uint32(t.Value[0:4])}
	for off := 4; off+2 <= len(t.Value); off += 2 {
		r.StreamIDs = append(r.StreamIDs, binary.BigEndian.Uint16(t.Value[off:off+2]))
	}
	return r, nil
}

// ReconfigResult codes, RFC 6525 §4.4.
type ReconfigResult uint32

const (
	ReconfigResultSuccessNothingToDo ReconfigResult = 0
	ReconfigResultSuccessPerformed   ReconfigResult = 1
	ReconfigResultDenied             ReconfigResult = 2
	ReconfigResultErrorWrongSSN      ReconfigResult = 3
	ReconfigResultErrorRequestInProgress ReconfigResult = 4
	ReconfigResultErrorBadSeqNumber  ReconfigResult = 5
	ReconfigResultInProgress         ReconfigResult = 6
)

// ReconfigResponse (RFC 6525 §4.3) answers any RE-CONFIG request
// parameter.
type ReconfigResponse struct {
	ResponseSeq uint32
	Result      ReconfigResult
}

func (r ReconfigResponse) TLV() TLV {
	v := make([]byte, 8)
	binary.BigEndian.PutUint32(v[0:4], r.ResponseSeq)
	binary.BigEndian.PutUint32(v[4:8], uint32(r.Result))
	return TLV{Type: ParamReconfigResponse, Value: v}
}

func DecodeReconfigResponse(t TLV) (ReconfigResponse, error) {
	if len(t.Value) < 8 {
		return ReconfigResponse{}, ErrParamTooShort
	}
	return ReconfigResponse{
		ResponseSeq: binary.BigEndian.Uint32(t.Value[0:4]),
		Result:      ReconfigResult(binary.BigEndian.Uint32(t.Value[4:8])),
	}, nil
}

// AddStreamsRequest backs both the Add Outgoing Streams and Add Incoming
// Streams RE-CONFIG parameters (RFC 6525 §4.5/4.6), which share a shape.
type AddStreamsRequest struct {
	RequestSeq uint32
	NewStreams uint16
}

func (r AddStreamsRequest) tlv(typ uint16) TLV {
	v := make([]byte, 8)
	binary.BigEndian.PutUint32(v[0:4], r.RequestSeq)
	binary.BigEndian.PutUint16(v[4:6], r.NewStreams)
	return TLV{Type: typ, Value: v}
}

func (r AddStreamsRequest) OutgoingTLV() TLV { return r.tlv(ParamAddOutgoingStreamsRequest) }
func (r AddStreamsRequest) IncomingTLV() TLV { return r.tlv(ParamAddIncomingStreamsRequest) }

func DecodeAddStreamsRequest(t TLV) (AddStreamsRequest, error) {
	if len(t.Value) < 6 {
		return AddStreamsRequest{}, ErrParamTooShort
	}
	return AddStreamsRequest{
		RequestSeq: binary.BigEndian.Uint32(t.Value[0:4]),
		NewStreams: binary.BigEndian.Uint16(t.Value[4:6]),
	}, nil
}
