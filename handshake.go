package sctp

import (
	"math/rand/v2"
	"time"

	"github.com/tinyrange/sctp/internal/wire"
)

// Connect begins the client-side handshake (spec §4.3 "Handshake
// (client)"): send INIT, start T1-INIT, move to COOKIE-WAIT.
func (a *Association) Connect(now time.Time) error {
	if a.state != StateClosed {
		return ErrAlreadyEstablishing
	}
	a.role = RoleClient
	a.sendInit(now)
	a.state = StateCookieWait
	return nil
}

func (a *Association) sendInit(now time.Time) {
	params := []wire.TLV{wire.ForwardTSNSupportedParam()}
	init := &wire.Init{
		InitiateTag:     a.localVerifTag,
		AdvertisedRwnd:  a.localRwnd,
		OutboundStreams: a.cfg.OutboundStreams,
		InboundStreams:  a.cfg.InboundStreams,
		InitialTSN:      a.localInitialTSN,
		Params:          params,
	}
	// INIT is sent with verification tag 0 (RFC 4960 §5.1).
	a.queue(wire.EncodePacket(wire.Header{VerificationTag: 0}, []wire.Chunk{init}))
	a.timers.t1Init = now.Add(a.rtt.RTO())
}

// HandleDatagram decodes and dispatches one inbound datagram (spec §4.3
// "Chunk dispatch"). Decode failures are silently dropped per spec §4.1;
// a dispatch failure that is association-fatal aborts the association (the
// ABORT is queued as an outbound datagram, per spec §7) and the datagram's
// remaining chunks are not processed.
func (a *Association) HandleDatagram(now time.Time, raw []byte) {
	_, chunks, err := wire.DecodePacket(raw)
	if err != nil {
		a.log.Debug("dropping undecodable datagram", "err", err)
		return
	}
	for _, c := range chunks {
		if a.state == StateClosed && a.closeCause != AbortCauseNone {
			return
		}
		a.dispatch(now, c)
	}
	a.maybeSendSack(now)
}

func (a *Association) dispatch(now time.Time, c wire.Chunk) {
	switch chunk := c.(type) {
	case *wire.Init:
		if chunk.IsAck {
			a.handleInitAck(now, chunk)
		} else {
			a.handleInit(now, chunk)
		}
	case *wire.CookieEcho:
		a.handleCookieEcho(now, chunk)
	case *wire.CookieAck:
		a.handleCookieAck(now)
	case *wire.Data:
		a.handleData(now, dataFromClassic(chunk))
	case *wire.IData:
		a.handleData(now, dataFromInterleaved(chunk))
	case *wire.Sack:
		a.handleSack(now, chunk)
	case *wire.Heartbeat:
		if chunk.IsAck {
			a.handleHeartbeatAck(chunk)
		} else {
			a.handleHeartbeat(chunk)
		}
	case *wire.AbortOrShutdownComplete:
		a.handlePeerControl(chunk)
	case *wire.Shutdown:
		a.handleShutdown(now, chunk)
	case *wire.ShutdownAck:
		a.handleShutdownAck()
	case *wire.ErrorChunk:
		a.log.Warn("peer sent ERROR chunk", "causes", len(chunk.Causes))
	case *wire.ForwardTSN:
		a.handleForwardTSN(now, chunk)
	case *wire.Reconfig:
		a.handleReconfig(now, chunk)
	case *wire.UnknownChunk:
		a.handleUnknown(chunk)
	default:
		// Recognised-but-unhandled chunk types fall here only if wire
		// grows one this engine hasn't been taught yet; ignore rather
		// than abort, matching the "skip, no report" default posture.
	}
}

func (a *Association) handleUnknown(c *wire.UnknownChunk) {
	if c.Report() {
		a.sendError(wire.SimpleCause(wire.CauseUnrecognizedChunkType))
	}
	if !c.Skip() {
		a.abort(AbortCauseProtocolViolation)
	}
}

// handleInit implements the server side of spec §4.3: INIT arrives with no
// association allocated yet, so a stateless INIT-ACK carrying a cookie is
// all that happens here.
func (a *Association) handleInit(now time.Time, init *wire.Init) {
	if a.state != StateClosed {
		// A second INIT on an established association would need the
		// full RFC 4960 §5.2 restart logic; out of scope (spec §1 single
		// association per handle, no restart).
		return
	}
	a.role = RoleServer
	a.peerVerifTag = init.InitiateTag
	a.peerInitialTSN = init.InitialTSN
	a.cumAckPoint = init.InitialTSN - 1
	a.peerRwnd = init.AdvertisedRwnd
	a.peerForwardTSNSupported = init.SupportsForwardTSN()

	a.outboundStreamCount = minU16(a.cfg.OutboundStreams, init.InboundStreams)
	a.inboundStreamCount = minU16(a.cfg.InboundStreams, init.OutboundStreams)

	cookie := makeStateCookie(a.cfg.CookieSecret, a.peerVerifTag, a.localVerifTag, a.peerInitialTSN, a.localRwnd, a.outboundStreamCount, a.inboundStreamCount, now)

	ack := &wire.Init{
		IsAck:           true,
		InitiateTag:     a.localVerifTag,
		AdvertisedRwnd:  a.localRwnd,
		OutboundStreams: a.outboundStreamCount,
		InboundStreams:  a.inboundStreamCount,
		InitialTSN:      a.localInitialTSN,
		Params: []wire.TLV{
			wire.ForwardTSNSupportedParam(),
			wire.StateCookieParam(cookie),
		},
	}
	a.sendChunks([]wire.Chunk{ack})
}

func (a *Association) handleInitAck(now time.Time, ack *wire.Init) {
	if a.state != StateCookieWait {
		return
	}
	a.peerVerifTag = ack.InitiateTag
	a.peerInitialTSN = ack.InitialTSN
	a.cumAckPoint = ack.InitialTSN - 1
	a.peerRwnd = ack.AdvertisedRwnd
	a.peerForwardTSNSupported = ack.SupportsForwardTSN()
	a.outboundStreamCount = minU16(a.cfg.OutboundStreams, ack.InboundStreams)
	a.inboundStreamCount = minU16(a.cfg.InboundStreams, ack.OutboundStreams)

	cookie, ok := ack.StateCookie()
	if !ok {
		a.abort(AbortCauseProtocolViolation)
		return
	}
	a.cookie = append([]byte(nil), cookie...)

	echo := &wire.CookieEcho{Cookie: a.cookie}
	a.sendChunks([]wire.Chunk{echo})
	a.timers.t1Init = time.Time{}
	a.timers.t1Cookie = now.Add(a.rtt.RTO())
	a.initRetransmits = 0
	a.state = StateCookieEchoed
}

func (a *Association) handleCookieEcho(now time.Time, echo *wire.CookieEcho) {
	if a.state != StateClosed {
		// Already established via this cookie; resend COOKIE-ACK for a
		// retransmitted COOKIE-ECHO (RFC 4960 §5.2.4 case duplicate).
		if a.state == StateEstablished {
			a.sendChunks([]wire.Chunk{&wire.CookieAck{}})
		}
		return
	}
	parsed, err := verifyStateCookie(a.cfg.CookieSecret, echo.Cookie, now, a.cfg.CookieLifetime)
	if err != nil {
		cause := wire.CauseStaleCookie
		a.sendChunks([]wire.Chunk{&wire.AbortOrShutdownComplete{Type: wire.CTAbort, Causes: []wire.TLV{wire.SimpleCause(cause)}}})
		return
	}
	a.peerVerifTag = parsed.PeerInitiateTag
	a.localVerifTag = parsed.LocalTag
	a.peerInitialTSN = parsed.PeerInitialTSN
	a.cumAckPoint = parsed.PeerInitialTSN - 1
	a.peerRwnd = parsed.LocalRwnd
	a.outboundStreamCount = parsed.OutStreams
	a.inboundStreamCount = parsed.InStreams

	a.sendChunks([]wire.Chunk{&wire.CookieAck{}})
	a.becomeEstablished(now)
}

func (a *Association) handleCookieAck(now time.Time) {
	if a.state != StateCookieEchoed {
		return
	}
	a.timers.t1Cookie = time.Time{}
	a.becomeEstablished(now)
}

func (a *Association) becomeEstablished(now time.Time) {
	a.state = StateEstablished
	// peerCumAckPoint tracks the highest of our own TSNs the peer has
	// acked; until the first SACK arrives, that is "none yet", i.e. one
	// below the first TSN we will ever assign (mirrors how cumAckPoint is
	// primed from the peer's InitialTSN above).
	a.peerCumAckPoint = a.localInitialTSN - 1
	// lastFwdTSNSent gates maybeSendForwardTSN's "is this newCum actually
	// new" check via the same serial-number comparison; it needs the same
	// one-below-first-TSN starting point or that check can come out wrong
	// depending on where localInitialTSN happens to land in the 32-bit
	// space.
	a.lastFwdTSNSent = a.localInitialTSN - 1
	a.emit(EventEstablished{InboundStreams: a.inboundStreamCount, OutboundStreams: a.outboundStreamCount})
	a.timers.heartbeat = now.Add(jitter(a.cfg.HeartbeatInterval, a.rng))
}

func (a *Association) handleHeartbeat(hb *wire.Heartbeat) {
	a.sendChunks([]wire.Chunk{&wire.Heartbeat{IsAck: true, Params: hb.Params}})
}

func (a *Association) handleHeartbeatAck(ack *wire.Heartbeat) {
	a.heartbeatErrors = 0
}

func (a *Association) handlePeerControl(c *wire.AbortOrShutdownComplete) {
	switch c.Type {
	case wire.CTAbort:
		a.state = StateClosed
		a.closeCause = AbortCausePeerAborted
		a.emit(EventClosed{Cause: AbortCausePeerAborted})
	case wire.CTShutdownComplete:
		a.state = StateClosed
		a.closeCause = AbortCauseNone
		a.emit(EventClosed{Cause: AbortCauseNone})
	}
}

func (a *Association) sendError(causes ...wire.TLV) {
	a.sendChunks([]wire.Chunk{&wire.ErrorChunk{Causes: causes}})
}

// abort is the association-fatal path of spec §7: transition to CLOSED,
// emit ABORT to the peer when possible, surface exactly one terminal event.
func (a *Association) abort(cause AbortCause) {
	if a.state == StateClosed {
		return
	}
	var causes []wire.TLV
	if code, ok := errorCauseCode(cause); ok {
		causes = []wire.TLV{wire.SimpleCause(code)}
	}
	a.sendChunks([]wire.Chunk{&wire.AbortOrShutdownComplete{Type: wire.CTAbort, Causes: causes}})
	a.state = StateClosed
	a.closeCause = cause
	a.emit(EventClosed{Cause: cause})
}

func minU16(a, b uint16) uint16 {
	if a < b {
		return a
	}
	return b
}

// jitter spreads heartbeat timing by up to 50% (spec §9 "exact jitter for
// heartbeat are configurable; defaults are outside this spec" — this
// engine's default is the classic RFC 4960 §8.3 "up to 50%").
func jitter(base time.Duration, rng *rand.ChaCha8) time.Duration {
	if base <= 0 {
		return base
	}
	frac := float64(rng.Uint64()>>11) / (1 << 53) // [0,1)
	return base + time.Duration(frac*0.5*float64(base))
}
