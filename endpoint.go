package sctp

import (
	"log/slog"
	"time"

	"github.com/tinyrange/sctp/internal/wire"
)

// Handle identifies one Association owned by an Endpoint. It is a small
// integer, not a pointer, so Associations can be passed across API
// boundaries (and logged) without exposing the Endpoint's internals (spec
// §9 "cyclic references": Associations carry only the handle, never a
// back-reference to their Endpoint).
type Handle uint64

// Outcome classifies what Endpoint.Handle did with an inbound datagram.
type Outcome int

const (
	// OutcomeReject means the datagram was undecodable, or named no route
	// and did not open a new association (spec §4.1: silent drop).
	OutcomeReject Outcome = iota
	// OutcomeNewAssociation means a fresh, server-role Association was
	// created to answer an inbound INIT.
	OutcomeNewAssociation
	// OutcomeDatagram means the datagram was routed to an existing
	// Association.
	OutcomeDatagram
)

// HandleResult is the sum type spec §4.4's `handle` operation returns,
// expressed as a Go struct tagged by Outcome rather than an enum-with-data.
type HandleResult struct {
	Outcome Outcome
	Handle  Handle
}

type routeKey struct {
	addr string
	tag  uint32
}

// Endpoint is the process-local multiplexer of spec §4.4: it routes
// inbound datagrams to Associations by (remote address, verification tag),
// owns the stateless-cookie HMAC key (via Config.CookieSecret, shared by
// every server-role Association it creates), and allocates handles
// monotonically. It holds no socket of its own; the caller supplies bytes
// and a remote-address label and drains poll_transmit for what to send.
type Endpoint struct {
	log *slog.Logger
	cfg Config

	nextHandle Handle
	assocs     map[Handle]*Association
	addrs      map[Handle]string
	routes     map[routeKey]Handle
}

// NewEndpoint constructs an Endpoint from a base Config applied to every
// Association it creates (server-role fields like CookieSecret are shared
// process-wide and immutable thereafter, per spec §4.4 "Concurrency").
func NewEndpoint(cfg Config, log *slog.Logger) *Endpoint {
	if log == nil {
		log = slog.Default()
	}
	return &Endpoint{
		log:    log,
		cfg:    cfg,
		assocs: make(map[Handle]*Association),
		addrs:  make(map[Handle]string),
		routes: make(map[routeKey]Handle),
	}
}

// Connect allocates a new client-role Association and starts its handshake
// against remoteAddr (an opaque label the caller uses to distinguish
// peers — this engine does no address resolution of its own, per spec §1
// "the datagram transport itself" being out of scope).
func (e *Endpoint) Connect(now time.Time, remoteAddr string) (Handle, error) {
	cfg := e.cfg
	cfg.Role = RoleClient
	a := newAssociation(cfg, RoleClient, e.log)
	if err := a.Connect(now); err != nil {
		return 0, err
	}
	h := e.register(a, remoteAddr)
	return h, nil
}

func (e *Endpoint) register(a *Association, remoteAddr string) Handle {
	e.nextHandle++
	h := e.nextHandle
	e.assocs[h] = a
	e.addrs[h] = remoteAddr
	// Every future datagram from this peer stamps our verification tag
	// (RFC 4960 §5.1), so that is the routing key, not whatever tag (if
	// any) this side's own first packet carried.
	e.routes[routeKey{addr: remoteAddr, tag: a.localVerifTag}] = h
	return h
}

// Handle implements spec §4.4's `handle(now, remote_addr, bytes)`: route an
// inbound datagram to its Association, or open a new server-role one if it
// is a well-formed INIT with no existing route.
func (e *Endpoint) Handle(now time.Time, remoteAddr string, raw []byte) HandleResult {
	hdr, chunks, err := wire.DecodePacket(raw)
	if err != nil {
		e.log.Debug("dropping undecodable datagram", "remote", remoteAddr, "err", err)
		return HandleResult{Outcome: OutcomeReject}
	}

	if h, ok := e.routes[routeKey{addr: remoteAddr, tag: hdr.VerificationTag}]; ok {
		e.assocs[h].HandleDatagram(now, raw)
		return HandleResult{Outcome: OutcomeDatagram, Handle: h}
	}

	// A packet whose first chunk is ABORT or SHUTDOWN-COMPLETE with the
	// T-bit set (RFC 4960 §8.5.1) reflects the *sender's* verification tag
	// rather than ours, so it never matches a route keyed by our own
	// localVerifTag. Match it to the association whose peerVerifTag equals
	// the reflected tag instead, so the peer's out-of-TCB abort still
	// closes our side rather than being silently dropped.
	if len(chunks) > 0 {
		if c, ok := chunks[0].(*wire.AbortOrShutdownComplete); ok && c.TBit {
			if h, ok := e.findByPeerTag(remoteAddr, hdr.VerificationTag); ok {
				e.assocs[h].HandleDatagram(now, raw)
				return HandleResult{Outcome: OutcomeDatagram, Handle: h}
			}
			return HandleResult{Outcome: OutcomeReject}
		}
	}

	// No existing route: the only legitimate way to reach this branch is
	// an initiator's first INIT, which RFC 4960 §5.1 mandates carry
	// verification tag 0.
	if hdr.VerificationTag != 0 || len(chunks) == 0 {
		return HandleResult{Outcome: OutcomeReject}
	}
	init, ok := chunks[0].(*wire.Init)
	if !ok || init.IsAck {
		return HandleResult{Outcome: OutcomeReject}
	}

	cfg := e.cfg
	cfg.Role = RoleServer
	a := newAssociation(cfg, RoleServer, e.log)
	h := e.register(a, remoteAddr)
	a.HandleDatagram(now, raw)
	return HandleResult{Outcome: OutcomeNewAssociation, Handle: h}
}

// findByPeerTag looks up a live association addressed to remoteAddr whose
// peerVerifTag matches tag. Endpoints are expected to hold a handful of
// associations per remote address, so a linear scan is preferable to
// maintaining a second index solely for this out-of-TCB-abort case.
func (e *Endpoint) findByPeerTag(remoteAddr string, tag uint32) (Handle, bool) {
	for h, addr := range e.addrs {
		if addr != remoteAddr {
			continue
		}
		if a, ok := e.assocs[h]; ok && a.peerVerifTag == tag {
			return h, true
		}
	}
	return 0, false
}

// Reject tears down a handle the caller does not want to keep — typically
// a freshly minted OutcomeNewAssociation the application's connection
// policy refuses. It is also the general release path: spec §4.4
// "Cancellation" has the caller drop the handle and the Endpoint release
// state eagerly, with no further protocol exchange required.
func (e *Endpoint) Reject(h Handle) {
	if a, ok := e.assocs[h]; ok {
		addr := e.addrs[h]
		delete(e.routes, routeKey{addr: addr, tag: a.localVerifTag})
	}
	delete(e.assocs, h)
	delete(e.addrs, h)
}

// Association returns the Association behind a handle, if it is still live.
func (e *Endpoint) Association(h Handle) (*Association, bool) {
	a, ok := e.assocs[h]
	return a, ok
}

// PollTransmit returns the next outbound datagram for handle h, paired with
// the remote address it should be sent to.
func (e *Endpoint) PollTransmit(h Handle) (remoteAddr string, payload []byte, ok bool) {
	a, found := e.assocs[h]
	if !found {
		return "", nil, false
	}
	payload, ok = a.PollTransmit()
	if !ok {
		return "", nil, false
	}
	return e.addrs[h], payload, true
}

// PollTimeout reports handle h's earliest pending timer deadline. It reads
// only the Association's own timerSet, so — per spec §4.4's requirement
// that this call "MUST NOT require exclusive access" — nothing here blocks
// on or mutates shared Endpoint state.
func (e *Endpoint) PollTimeout(h Handle) (time.Time, bool) {
	a, ok := e.assocs[h]
	if !ok {
		return time.Time{}, false
	}
	return a.PollTimeout()
}

// HandleTimeout services whichever of handle h's timers are due as of now.
func (e *Endpoint) HandleTimeout(h Handle, now time.Time) {
	if a, ok := e.assocs[h]; ok {
		a.HandleTimeout(now)
	}
}

// PollEvent returns the next queued Event for handle h.
func (e *Endpoint) PollEvent(h Handle) (Event, bool) {
	a, ok := e.assocs[h]
	if !ok {
		return nil, false
	}
	return a.PollEvent()
}

// Handles returns every handle currently owned by the Endpoint, for
// callers that need to poll all associations in a single loop iteration.
func (e *Endpoint) Handles() []Handle {
	out := make([]Handle, 0, len(e.assocs))
	for h := range e.assocs {
		out = append(out, h)
	}
	return out
}
