package sctp

import (
	"time"

	"github.com/tinyrange/sctp/internal/sendq"
	"github.com/tinyrange/sctp/internal/wire"
)

// HandleTimeout services whichever timers have reached their deadline as
// of now (spec §4.4 "handle_timeout"). It is safe to call speculatively;
// timers not yet due are left untouched.
func (a *Association) HandleTimeout(now time.Time) {
	if due(a.timers.t1Init, now) {
		a.onT1InitExpiry(now)
	}
	if due(a.timers.t1Cookie, now) {
		a.onT1CookieExpiry(now)
	}
	if due(a.timers.t2Shutdown, now) {
		a.onT2ShutdownExpiry(now)
	}
	if due(a.timers.t3Rtx, now) {
		a.onT3RtxExpiry(now)
	}
	if due(a.timers.delayedAck, now) {
		a.sendSack()
	}
	if due(a.timers.heartbeat, now) {
		a.onHeartbeatExpiry(now)
	}
	if due(a.timers.reconfig, now) {
		a.onReconfigExpiry(now)
	}
	if a.outgoingReconfig != nil && a.timers.reconfig.IsZero() {
		a.timers.reconfig = now.Add(a.rtt.RTO())
	}
}

func due(deadline, now time.Time) bool {
	return !deadline.IsZero() && !now.Before(deadline)
}

func (a *Association) onT1InitExpiry(now time.Time) {
	if a.state != StateCookieWait {
		a.timers.t1Init = time.Time{}
		return
	}
	a.initRetransmits++
	if a.initRetransmits > a.cfg.MaxInitRetransmits {
		a.timers.t1Init = time.Time{}
		a.state = StateClosed
		a.closeCause = AbortCauseInitTimeout
		a.emit(EventClosed{Cause: AbortCauseInitTimeout})
		return
	}
	a.rtt.backoff()
	a.sendInit(now)
}

func (a *Association) onT1CookieExpiry(now time.Time) {
	if a.state != StateCookieEchoed {
		a.timers.t1Cookie = time.Time{}
		return
	}
	a.initRetransmits++
	if a.initRetransmits > a.cfg.MaxInitRetransmits {
		a.timers.t1Cookie = time.Time{}
		a.state = StateClosed
		a.closeCause = AbortCauseInitTimeout
		a.emit(EventClosed{Cause: AbortCauseInitTimeout})
		return
	}
	a.rtt.backoff()
	a.sendChunks([]wire.Chunk{&wire.CookieEcho{Cookie: a.cookie}})
	a.timers.t1Cookie = now.Add(a.rtt.RTO())
}

func (a *Association) onT2ShutdownExpiry(now time.Time) {
	if a.state != StateShutdownSent {
		a.timers.t2Shutdown = time.Time{}
		return
	}
	a.rtt.backoff()
	a.sendShutdown()
	a.timers.t2Shutdown = now.Add(a.rtt.RTO())
}

// onT3RtxExpiry is the retransmission-timeout path of spec §4.3: mark every
// outstanding record for retransmission (the transmit pass it runs resends
// them earliest TSN first, stopping once bytes in flight reach the
// one-MTU cwnd), double RTO, apply the §7.2.3 congestion response, and abort
// once the association's retransmit ceiling is exceeded.
func (a *Association) onT3RtxExpiry(now time.Time) {
	earliest := a.retransmit.Earliest()
	if earliest == nil {
		a.timers.t3Rtx = time.Time{}
		return
	}
	a.assocRetransmits++
	if a.assocRetransmits > a.cfg.MaxAssociationRetransmits {
		a.timers.t3Rtx = time.Time{}
		a.abort(AbortCauseRetransmitLimitExceeded)
		return
	}
	a.cc.onRetransmitTimeout()
	a.rtt.backoff()

	a.retransmit.Ascend(func(rec *sendq.OutboundRecord) bool {
		rec.RetransmitCount++
		rec.RetransmitFlag = true
		a.retransmit.SetInFlight(rec.TSN, false)
		return true
	})
	a.timers.t3Rtx = now.Add(a.rtt.RTO())
	a.runTransmitPass(now)
}

func (a *Association) onHeartbeatExpiry(now time.Time) {
	nonce := make([]byte, 12)
	for i := range nonce {
		nonce[i] = byte(a.rng.Uint64())
	}
	a.sendHeartbeat(nonce)
	a.heartbeatErrors++
	if a.heartbeatErrors > a.cfg.MaxPathRetransmits {
		a.abort(AbortCauseRetransmitLimitExceeded)
		return
	}
	a.timers.heartbeat = now.Add(jitter(a.cfg.HeartbeatInterval, a.rng))
}

func (a *Association) onReconfigExpiry(now time.Time) {
	if a.outgoingReconfig == nil {
		a.timers.reconfig = time.Time{}
		return
	}
	a.sendOutgoingResetRequest(*a.outgoingReconfig)
	a.timers.reconfig = now.Add(a.rtt.RTO())
}
