package sctp

import "time"

// rttEstimator implements RFC 6298's smoothed-RTT/RTO estimator with the
// SCTP-specific constants from RFC 4960 §6.3.1 (alpha=1/8, beta=1/4,
// G=clock granularity folded into min/max clamps). Grounded on the
// teacher's own from-scratch TCP RTT estimator, carrying the same
// first-sample-vs-subsequent-sample split.
type rttEstimator struct {
	min, max time.Duration

	srtt    time.Duration
	rttvar  time.Duration
	rto     time.Duration
	primed  bool
}

func newRTTEstimator(initial, min, max time.Duration) *rttEstimator {
	return &rttEstimator{min: min, max: max, rto: initial}
}

// sample folds one RTT observation into the estimator (RFC 6298 §2).
func (e *rttEstimator) sample(rtt time.Duration) {
	if !e.primed {
		e.srtt = rtt
		e.rttvar = rtt / 2
		e.primed = true
	} else {
		diff := e.srtt - rtt
		if diff < 0 {
			diff = -diff
		}
		e.rttvar = (3*e.rttvar + diff) / 4
		e.srtt = (7*e.srtt + rtt) / 8
	}
	rto := e.srtt + 4*e.rttvar
	if rto < e.min {
		rto = e.min
	}
	if rto > e.max {
		rto = e.max
	}
	e.rto = rto
}

// backoff doubles the RTO on a retransmission timeout (RFC 6298 §5.5),
// without touching srtt/rttvar until a fresh sample arrives.
func (e *rttEstimator) backoff() {
	e.rto *= 2
	if e.rto > e.max {
		e.rto = e.max
	}
}

// RTO returns the current retransmission timeout.
func (e *rttEstimator) RTO() time.Duration { return e.rto }

// congestionController implements RFC 4960 §7.2: slow start, congestion
// avoidance, partial bytes acked, and fast recovery. mtu is the association's
// configured path MTU (no PMTU discovery, per spec §1 non-goals).
type congestionController struct {
	mtu uint32

	cwnd           uint32
	ssthresh       uint32
	partialBytesAcked uint32

	inFastRecovery bool
	recoveryExit   uint32 // highest TSN assigned when fast recovery began; cleared on exit
}

func newCongestionController(mtu uint32) *congestionController {
	return &congestionController{
		mtu:      mtu,
		cwnd:     initialCwnd(mtu),
		ssthresh: 0xFFFFFFFF,
	}
}

// initialCwnd returns max(4*MTU, 4380 bytes): 4*MTU, raised to RFC 4960
// §7.2.1's 4380-byte floor for small MTUs. Unlike that section's
// min(4*MTU, max(2*MTU, 4380)), it never caps the window below 4*MTU.
func initialCwnd(mtu uint32) uint32 {
	c := 4 * mtu
	floor := 2 * mtu
	if floor < 4380 {
		floor = 4380
	}
	if c < floor {
		c = floor
	}
	return c
}

func (c *congestionController) inSlowStart() bool { return c.cwnd <= c.ssthresh }

// onBytesAcked folds newly-acked bytes into cwnd per §7.2.2/§7.2.3. It must
// be called once per SACK that advances the cumulative ack point. handleSack
// passes the bytes of the records that the new cumulative ack point covers;
// bytes acked only through gap blocks are not counted.
func (c *congestionController) onBytesAcked(newlyAcked uint32) {
	if c.inSlowStart() {
		c.cwnd += min32(newlyAcked, c.mtu)
		return
	}
	c.partialBytesAcked += newlyAcked
	if c.partialBytesAcked >= c.cwnd {
		c.partialBytesAcked -= c.cwnd
		c.cwnd += c.mtu
	}
}

// onFastRetransmit implements the cwnd-halving entry to fast recovery
// (spec §4.3 "nack-count reaching 3"). highestAssigned is the TSN of the
// most recently assigned outbound record, used as the recovery exit point.
func (c *congestionController) onFastRetransmit(highestAssigned uint32) {
	if c.inFastRecovery {
		return
	}
	c.inFastRecovery = true
	c.recoveryExit = highestAssigned
	c.ssthresh = max32(c.cwnd/2, 4*c.mtu)
	c.cwnd = c.ssthresh
	c.partialBytesAcked = 0
}

// maybeExitFastRecovery leaves fast recovery once the cumulative ack point
// has advanced past the recorded exit point (spec §4.3).
func (c *congestionController) maybeExitFastRecovery(cumAck uint32) {
	if c.inFastRecovery && tsnGT(cumAck, c.recoveryExit) {
		c.inFastRecovery = false
	}
}

// onRetransmitTimeout applies RFC 4960 §7.2.3's T3-RTX congestion response.
func (c *congestionController) onRetransmitTimeout() {
	c.ssthresh = max32(c.cwnd/2, 4*c.mtu)
	c.cwnd = c.mtu
	c.partialBytesAcked = 0
	c.inFastRecovery = false
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
