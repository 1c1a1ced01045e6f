package sctp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"time"
)

// cookiePlainLen is the fixed-size portion of a stateCookie before its
// trailing HMAC tag.
const cookiePlainLen = 4 + 4 + 4 + 4 + 2 + 2 + 8

// makeStateCookie builds and signs the opaque blob a server hands the
// client in INIT-ACK and expects back verbatim in COOKIE-ECHO (spec §4.3).
// Its content is implementation-defined; this shape (peer tag, our tag,
// init TSN, a_rwnd, stream counts, issue time, an HMAC over all of it) is
// the minimum RFC 4960 §5.1.3 asks for to let the server stay stateless
// between INIT-ACK and COOKIE-ECHO — no association is allocated until the
// COOKIE-ECHO verifies.
func makeStateCookie(secret []byte, peerTag, localTag, peerInitialTSN, localRwnd uint32, outStreams, inStreams uint16, issuedAt time.Time) []byte {
	buf := make([]byte, cookiePlainLen)
	binary.BigEndian.PutUint32(buf[0:4], peerTag)
	binary.BigEndian.PutUint32(buf[4:8], localTag)
	binary.BigEndian.PutUint32(buf[8:12], peerInitialTSN)
	binary.BigEndian.PutUint32(buf[12:16], localRwnd)
	binary.BigEndian.PutUint16(buf[16:18], outStreams)
	binary.BigEndian.PutUint16(buf[18:20], inStreams)
	binary.BigEndian.PutUint64(buf[20:28], uint64(issuedAt.UnixNano()))

	mac := hmac.New(sha256.New, secret)
	mac.Write(buf)
	return mac.Sum(buf)
}

type parsedCookie struct {
	PeerInitiateTag uint32
	LocalTag        uint32
	PeerInitialTSN  uint32
	LocalRwnd       uint32
	OutStreams      uint16
	InStreams       uint16
	IssuedAt        time.Time
}

// verifyStateCookie checks the HMAC and lifetime of a cookie received in
// COOKIE-ECHO, returning the fields the server needs to allocate the
// Association.
func verifyStateCookie(secret, cookie []byte, now time.Time, lifetime time.Duration) (parsedCookie, error) {
	if len(cookie) != cookiePlainLen+sha256.Size {
		return parsedCookie{}, ErrCookieInvalid
	}
	plain, tag := cookie[:cookiePlainLen], cookie[cookiePlainLen:]

	mac := hmac.New(sha256.New, secret)
	mac.Write(plain)
	want := mac.Sum(nil)
	if !hmac.Equal(tag, want) {
		return parsedCookie{}, ErrCookieInvalid
	}

	issuedAt := time.Unix(0, int64(binary.BigEndian.Uint64(plain[20:28])))
	if now.Sub(issuedAt) > lifetime {
		return parsedCookie{}, ErrCookieExpired
	}

	return parsedCookie{
		PeerInitiateTag: binary.BigEndian.Uint32(plain[0:4]),
		LocalTag:        binary.BigEndian.Uint32(plain[4:8]),
		PeerInitialTSN:  binary.BigEndian.Uint32(plain[8:12]),
		LocalRwnd:       binary.BigEndian.Uint32(plain[12:16]),
		OutStreams:      binary.BigEndian.Uint16(plain[16:18]),
		InStreams:       binary.BigEndian.Uint16(plain[18:20]),
		IssuedAt:        issuedAt,
	}, nil
}
