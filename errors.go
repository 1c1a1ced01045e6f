package sctp

import (
	"errors"
	"fmt"

	"github.com/tinyrange/sctp/internal/wire"
)

// Sentinel errors returned by the public API, named the way the teacher
// names its package-level errors (internal/pcap.ErrHeaderAlreadyWritten):
// one exported error per distinct caller-actionable condition, wrapped
// with context via fmt.Errorf("...: %w", ...) rather than ad-hoc strings.
var (
	ErrAssociationClosed   = errors.New("sctp: association is closed")
	ErrStreamClosed        = errors.New("sctp: stream is closed")
	ErrStreamReset         = errors.New("sctp: stream was reset by peer")
	ErrMessageTooLarge     = errors.New("sctp: message exceeds configured maximum size")
	ErrInvalidStreamID     = errors.New("sctp: stream identifier exceeds negotiated stream count")
	ErrNotEstablished      = errors.New("sctp: association has not completed its handshake")
	ErrAlreadyEstablishing = errors.New("sctp: association already has a handshake in progress")
	ErrCookieExpired       = errors.New("sctp: state cookie has expired")
	ErrCookieInvalid       = errors.New("sctp: state cookie failed verification")
	ErrReconfigInFlight    = errors.New("sctp: a reconfiguration request is already awaiting response")
)

// AbortCause identifies why an association entered its closed state, for
// callers that want to distinguish a clean shutdown from a protocol abort
// (spec §7 "error taxonomy").
type AbortCause int

const (
	AbortCauseNone AbortCause = iota
	AbortCauseUserInitiated
	AbortCausePeerAborted
	AbortCauseProtocolViolation
	AbortCauseStaleCookie
	AbortCauseOutOfResource
	AbortCauseInvalidStreamID
	AbortCauseNoUserData
	AbortCauseInitTimeout
	AbortCauseRetransmitLimitExceeded
)

func (c AbortCause) String() string {
	switch c {
	case AbortCauseNone:
		return "none"
	case AbortCauseUserInitiated:
		return "user-initiated"
	case AbortCausePeerAborted:
		return "peer-aborted"
	case AbortCauseProtocolViolation:
		return "protocol-violation"
	case AbortCauseStaleCookie:
		return "stale-cookie"
	case AbortCauseOutOfResource:
		return "out-of-resource"
	case AbortCauseInvalidStreamID:
		return "invalid-stream-id"
	case AbortCauseNoUserData:
		return "no-user-data"
	case AbortCauseInitTimeout:
		return "init-timeout"
	case AbortCauseRetransmitLimitExceeded:
		return "retransmit-limit-exceeded"
	default:
		return "unknown"
	}
}

// errorCauseCode maps an AbortCause to the RFC 4960 §3.3.10 error cause
// code sent in an ABORT or ERROR chunk, when it has one.
func errorCauseCode(c AbortCause) (uint16, bool) {
	switch c {
	case AbortCauseInvalidStreamID:
		return wire.CauseInvalidStreamID, true
	case AbortCauseStaleCookie:
		return wire.CauseStaleCookie, true
	case AbortCauseOutOfResource:
		return wire.CauseOutOfResource, true
	case AbortCauseProtocolViolation:
		return wire.CauseProtocolViolation, true
	case AbortCauseUserInitiated:
		return wire.CauseUserInitiatedAbort, true
	default:
		return 0, false
	}
}

// protocolError wraps a decode or validation failure with the abort cause
// it should produce, so the code that found it (reassembly.go) doesn't
// have to thread both separately.
type protocolError struct {
	cause AbortCause
	err   error
}

func (e *protocolError) Error() string {
	return fmt.Sprintf("sctp: %s: %v", e.cause, e.err)
}

func (e *protocolError) Unwrap() error { return e.err }

func newProtocolError(cause AbortCause, format string, args ...any) *protocolError {
	return &protocolError{cause: cause, err: fmt.Errorf(format, args...)}
}
