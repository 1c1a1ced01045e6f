package sctp

import (
	cryptorand "crypto/rand"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/tinyrange/sctp/internal/sendq"
	"github.com/tinyrange/sctp/internal/wire"
)

// State is one of the Association lifecycle states of spec §4.3.
type State int

const (
	StateClosed State = iota
	StateCookieWait
	StateCookieEchoed
	StateEstablished
	StateShutdownPending
	StateShutdownSent
	StateShutdownReceived
	StateShutdownAckSent
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateCookieWait:
		return "COOKIE-WAIT"
	case StateCookieEchoed:
		return "COOKIE-ECHOED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateShutdownPending:
		return "SHUTDOWN-PENDING"
	case StateShutdownSent:
		return "SHUTDOWN-SENT"
	case StateShutdownReceived:
		return "SHUTDOWN-RECEIVED"
	case StateShutdownAckSent:
		return "SHUTDOWN-ACK-SENT"
	default:
		return "UNKNOWN"
	}
}

// outDatagram is a packet the engine wants sent, queued by queue and drained
// by PollTransmit.
type outDatagram struct {
	payload []byte
}

// timerSet holds the absolute deadlines spec §3/§4.3 name. A zero Time
// means "not running".
type timerSet struct {
	t1Init     time.Time
	t1Cookie   time.Time
	t2Shutdown time.Time
	t3Rtx      time.Time
	delayedAck time.Time
	heartbeat  time.Time
	reconfig   time.Time
}

// earliest returns the soonest non-zero deadline, and whether any timer is
// running at all (spec §4.4 poll_timeout).
func (t timerSet) earliest() (time.Time, bool) {
	var best time.Time
	found := false
	for _, d := range []time.Time{t.t1Init, t.t1Cookie, t.t2Shutdown, t.t3Rtx, t.delayedAck, t.heartbeat, t.reconfig} {
		if d.IsZero() {
			continue
		}
		if !found || d.Before(best) {
			best = d
			found = true
		}
	}
	return best, found
}

// Association is the per-peering protocol engine: spec §3's primary
// aggregate, and the "hot loop" of spec §2's five components. It owns no
// socket and no clock; every entry point takes `now` explicitly.
type Association struct {
	log *slog.Logger
	cfg Config

	role  Role
	state State

	localVerifTag uint32
	peerVerifTag  uint32

	localInitialTSN uint32
	peerInitialTSN  uint32
	nextTSN         uint32 // next TSN this side will assign

	cumAckPoint    uint32 // highest contiguous TSN we have received from the peer
	peerCumAckPoint uint32 // highest contiguous TSN the peer has acked from us

	localRwnd uint32
	peerRwnd  uint32

	cc  *congestionController
	rtt *rttEstimator

	mtu uint32

	outboundStreamCount uint16
	inboundStreamCount  uint16
	// peerForwardTSNSupported records whether the peer's INIT/INIT-ACK
	// advertised RFC 3758 support. This engine sends FORWARD-TSN on
	// abandonment regardless (an unsupporting peer just treats it as an
	// unrecognized, skipped chunk), but the flag is kept for diagnostics.
	peerForwardTSNSupported bool

	streams map[uint16]*Stream

	pending      *sendq.Pending
	retransmit   *sendq.Retransmission

	// Inbound gap tracking for SACK generation: TSNs received but not yet
	// contiguous with cumAckPoint.
	gapReceived map[uint32]bool
	dupTSNs     []uint32
	sackNeeded  bool
	sackImmediate bool
	packetsSinceSack int

	// Reconfig (RFC 6525) bookkeeping.
	nextReconfigReqSeq  uint32
	outgoingReconfig    *pendingReconfig
	lastIncomingReconfigReqSeq uint32
	haveLastIncomingReconfigReqSeq bool
	lastIncomingReconfigResponse wire.TLV
	abandonedSinceFwdTSN bool

	lastFwdTSNSent uint32

	timers timerSet

	initRetransmits  uint32
	assocRetransmits uint32
	heartbeatErrors  uint32

	cookie []byte // client: cookie received in INIT-ACK, replayed in COOKIE-ECHO

	outbox  []outDatagram
	events  []Event

	closeCause AbortCause

	rng *rand.ChaCha8
}

// pendingReconfig tracks the single outstanding outgoing RE-CONFIG request
// spec §4.3 allows at a time.
type pendingReconfig struct {
	reqSeq   uint32
	streamID uint16
	lastTSN  uint32
}

func newAssociation(cfg Config, role Role, log *slog.Logger) *Association {
	if log == nil {
		log = slog.Default()
	}
	var seed [32]byte
	_, _ = cryptorand.Read(seed[:])

	a := &Association{
		log:         log,
		cfg:         cfg,
		role:        role,
		state:       StateClosed,
		streams:     make(map[uint16]*Stream),
		pending:     sendq.NewPending(),
		retransmit:  sendq.NewRetransmission(),
		gapReceived: make(map[uint32]bool),
		mtu:         cfg.MTU,
		cc:          newCongestionController(cfg.MTU),
		rtt:         newRTTEstimator(cfg.RTOInitial, cfg.RTOMin, cfg.RTOMax),
		rng:         rand.NewChaCha8(seed),
	}
	a.localVerifTag = uint32(a.rng.Uint64()) // RFC 4960 §5.3.1 only asks for unpredictability, not cryptographic strength
	a.localInitialTSN = uint32(a.rng.Uint64())
	a.nextTSN = a.localInitialTSN
	a.localRwnd = cfg.MaxReceiveBuffer
	a.peerRwnd = cfg.MaxReceiveBuffer
	return a
}

// State reports the current lifecycle state.
func (a *Association) State() State { return a.state }

// OpenStream creates a new local Stream. Stream ids at or above the
// negotiated outbound count are rejected once ESTABLISHED; before then any
// id is accepted without a check.
func (a *Association) OpenStream(id uint16, ordered bool, rel Reliability) (*Stream, error) {
	if a.state == StateEstablished && id >= a.outboundStreamCount {
		return nil, ErrInvalidStreamID
	}
	if s, ok := a.streams[id]; ok {
		return s, nil
	}
	s := newStream(a, id, ordered, rel)
	a.streams[id] = s
	return s, nil
}

// StreamIDs returns a snapshot of currently open stream ids (spec §6).
func (a *Association) StreamIDs() []uint16 {
	out := make([]uint16, 0, len(a.streams))
	for id := range a.streams {
		out = append(out, id)
	}
	return out
}

// enqueueOutgoing fragments payload per cfg.MaxPayloadSize and appends the
// fragments to the Pending Queue (spec §4.5: TSN assigned at transmit
// time, not here).
func (a *Association) enqueueOutgoing(s *Stream, now time.Time, payload []byte, ppid uint32) {
	max := int(a.cfg.MaxPayloadSize)
	if max <= 0 {
		max = len(payload)
	}
	if len(payload) == 0 {
		a.pushFragment(s, now, nil, ppid, true, true, 0, 0)
		return
	}
	// Sending is always classic DATA (RFC 8260 I-DATA is receive-side
	// only here, per spec §1); SSN is the sequencing key.
	seq := uint32(s.nextSSN)
	s.nextSSN++
	var fsn uint32
	for off := 0; off < len(payload); off += max {
		end := off + max
		if end > len(payload) {
			end = len(payload)
		}
		a.pushFragment(s, now, payload[off:end], ppid, off == 0, end == len(payload), seq, fsn)
		fsn++
	}
}

func (a *Association) pushFragment(s *Stream, now time.Time, chunk []byte, ppid uint32, begin, end bool, seq, fsn uint32) {
	relLimit := s.reliability.Limit
	if s.reliability.Kind == ReliabilityTimedAbandon {
		relLimit = uint32(s.reliability.Lifetime.Milliseconds())
	}
	f := sendq.Fragment{
		StreamID:  s.id,
		Seq:       seq,
		Wide:      false,
		PPID:      ppid,
		Unordered: !s.ordered,
		Begin:     begin,
		End:       end,
		FSN:       fsn,
		Payload:   append([]byte(nil), chunk...),
		RelKind:   sendq.Reliability(s.reliability.Kind),
		RelLimit:  relLimit,

		EnqueuedAtMillis: now.UnixMilli(),
	}
	a.pending.Push(f)
}

// PollTransmit returns the next outbound datagram, if any (spec §4.4 poll_transmit).
func (a *Association) PollTransmit() ([]byte, bool) {
	if len(a.outbox) == 0 {
		return nil, false
	}
	d := a.outbox[0]
	a.outbox = a.outbox[1:]
	return d.payload, true
}

// PollTimeout returns the earliest pending timer deadline (spec §4.4
// poll_timeout; read-only, requires no exclusive access in spirit even
// though Go's lack of shared/exclusive locking makes that moot here).
func (a *Association) PollTimeout() (time.Time, bool) { return a.timers.earliest() }

// PollEvent returns the next queued Event, if any.
func (a *Association) PollEvent() (Event, bool) {
	if len(a.events) == 0 {
		return nil, false
	}
	e := a.events[0]
	a.events = a.events[1:]
	return e, true
}

func (a *Association) emit(e Event) { a.events = append(a.events, e) }

func (a *Association) queue(payload []byte) { a.outbox = append(a.outbox, outDatagram{payload: payload}) }

// sendChunks encodes and enqueues one datagram carrying chunks, stamping
// the peer's verification tag (spec §3 invariant). It never uses tag 0;
// sendInit queues the tag-0 INIT itself.
func (a *Association) sendChunks(chunks []wire.Chunk) {
	hdr := wire.Header{VerificationTag: a.peerVerifTag}
	a.queue(wire.EncodePacket(hdr, chunks))
}
