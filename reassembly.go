package sctp

import "sort"

// fragment is one DATA/I-DATA payload buffered while its message is still
// incomplete (spec §4.2). seq is the stream sequence number (classic DATA,
// 16-bit SSN widened) or the message id (I-DATA, 32-bit MID); which one
// depends on the owning reassemblyQueue's wide flag.
type fragment struct {
	tsn       uint32
	seq       uint32
	ppid      uint32
	begin     bool
	end       bool
	unordered bool
	payload   []byte
}

// readyMessage is a fully reassembled user message waiting for Stream.Read.
type readyMessage struct {
	payload []byte
	ppid    uint32
}

// reassemblyQueue is the per-stream inbound half of spec §4.2. It buffers
// fragments keyed by TSN, detects B...E runs, and for ordered streams
// withholds completed messages until their seq matches the next-expected
// one, draining in order once it does.
type reassemblyQueue struct {
	maxMessageSize uint32
	wide           bool // true once this stream is known to carry I-DATA (32-bit MID)

	// seenFragment gates data.go's wide-type detection: the classic-vs-
	// I-DATA shape of a stream can only be pinned down before anything has
	// ever been buffered for it, since switching seqLT's interpretation
	// (16-bit SSN vs 32-bit MID) after fragments are already queued would
	// corrupt the ordering comparisons on those fragments.
	seenFragment bool

	frags map[uint32]fragment // tsn -> fragment, only while its message is incomplete

	// nextOrderedSeq is the next SSN/MID this stream will release for
	// ordered delivery. Both sequencing spaces start numbering at 0 (spec
	// §4.2), so it stays primed to 0 until FORWARD-TSN or a RE-CONFIG
	// reset moves it explicitly — never to whatever seq happens to
	// complete first, which would let an out-of-order first arrival jump
	// the queue ahead of messages still in flight.
	nextOrderedSeq uint32

	orderedPending map[uint32]readyMessage // seq -> completed, not-yet-deliverable ordered message
	ready          []readyMessage          // deliverable, in delivery order

	bufferedBytes uint32
}

func newReassemblyQueue(maxMessageSize uint32) *reassemblyQueue {
	return &reassemblyQueue{
		maxMessageSize: maxMessageSize,
		frags:          make(map[uint32]fragment),
		orderedPending: make(map[uint32]readyMessage),
	}
}

func (q *reassemblyQueue) seqLT(a, b uint32) bool {
	if q.wide {
		return midLT(a, b)
	}
	return ssnLT(uint16(a), uint16(b))
}

// BufferedBytes reports bytes currently held across incomplete messages,
// for the association's a_rwnd computation (spec §4.3 "SACK generation").
func (q *reassemblyQueue) BufferedBytes() uint32 { return q.bufferedBytes }

// add buffers one fragment and, if it completes a message, either queues it
// for immediate delivery (unordered) or for in-order release (ordered). It
// returns a protocolError if admitting the fragment would grow a partial
// message beyond maxMessageSize (spec §4.2).
func (q *reassemblyQueue) add(f fragment) error {
	q.seenFragment = true
	if _, dup := q.frags[f.tsn]; dup {
		return nil
	}
	q.frags[f.tsn] = f
	q.bufferedBytes += uint32(len(f.payload))

	// Find the contiguous run of buffered TSNs containing f.tsn; a
	// message is complete once that run spans a Begin to an End.
	runStart := f.tsn
	for {
		prev, ok := q.frags[runStart-1]
		if !ok || prev.seq != f.seq || prev.unordered != f.unordered {
			break
		}
		runStart--
	}
	runEnd := f.tsn
	for {
		next, ok := q.frags[runEnd+1]
		if !ok || next.seq != f.seq || next.unordered != f.unordered {
			break
		}
		runEnd++
	}

	first, ok := q.frags[runStart]
	if !ok || !first.begin {
		return q.checkSize(f.seq, f.unordered)
	}
	last, ok := q.frags[runEnd]
	if !ok || !last.end {
		return q.checkSize(f.seq, f.unordered)
	}

	var total int
	var tsns []uint32
	for t := runStart; ; t++ {
		frag := q.frags[t]
		total += len(frag.payload)
		tsns = append(tsns, t)
		if t == runEnd {
			break
		}
	}
	if uint32(total) > q.maxMessageSize {
		return newProtocolError(AbortCauseProtocolViolation, "reassembled message size %d exceeds maximum %d", total, q.maxMessageSize)
	}

	payload := make([]byte, 0, total)
	for _, t := range tsns {
		frag := q.frags[t]
		payload = append(payload, frag.payload...)
		q.bufferedBytes -= uint32(len(frag.payload))
		delete(q.frags, t)
	}
	msg := readyMessage{payload: payload, ppid: first.ppid}

	if f.unordered {
		q.ready = append(q.ready, msg)
		return nil
	}
	q.orderedPending[f.seq] = msg
	q.drainOrdered()
	return nil
}

// checkSize rejects a partial message whose already-buffered bytes alone
// exceed the ceiling, so a pathological sender can't hold the connection
// open with an unbounded partial fragment (spec §4.2, §5 memory discipline).
func (q *reassemblyQueue) checkSize(seq uint32, unordered bool) error {
	var total int
	for _, f := range q.frags {
		if f.seq == seq && f.unordered == unordered {
			total += len(f.payload)
		}
	}
	if uint32(total) > q.maxMessageSize {
		return newProtocolError(AbortCauseProtocolViolation, "partial message size %d exceeds maximum %d", total, q.maxMessageSize)
	}
	return nil
}

func (q *reassemblyQueue) drainOrdered() {
	for {
		msg, ok := q.orderedPending[q.nextOrderedSeq]
		if !ok {
			return
		}
		delete(q.orderedPending, q.nextOrderedSeq)
		q.ready = append(q.ready, msg)
		q.nextOrderedSeq++
		if !q.wide {
			q.nextOrderedSeq &= 0xFFFF
		}
	}
}

// pop removes and returns the oldest deliverable message.
func (q *reassemblyQueue) pop() ([]byte, uint32, bool) {
	if len(q.ready) == 0 {
		return nil, 0, false
	}
	msg := q.ready[0]
	q.ready = q.ready[1:]
	return msg.payload, msg.ppid, true
}

// advanceForward implements the receive side of FORWARD-TSN/I-FORWARD-TSN
// (spec §4.3): drop every buffered fragment at or below newCumTSN and, if
// the chunk named a new expected ordered seq for this stream, jump
// nextOrderedSeq forward and drain whatever that newly unblocks.
func (q *reassemblyQueue) advanceForward(newCumTSN uint32, newSeq uint32, haveNewSeq bool) {
	for tsn, f := range q.frags {
		if tsnLTE(tsn, newCumTSN) {
			q.bufferedBytes -= uint32(len(f.payload))
			delete(q.frags, tsn)
		}
	}
	if haveNewSeq {
		if q.seqLT(q.nextOrderedSeq, newSeq) {
			q.nextOrderedSeq = newSeq
		}
		for seq := range q.orderedPending {
			if q.seqLT(seq, q.nextOrderedSeq) {
				delete(q.orderedPending, seq)
			}
		}
		q.drainOrdered()
	}
}

// pendingSeqs returns the buffered ordered seqs in ascending order, for
// tests asserting drain order.
func (q *reassemblyQueue) pendingSeqs() []uint32 {
	out := make([]uint32, 0, len(q.orderedPending))
	for s := range q.orderedPending {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return q.seqLT(out[i], out[j]) })
	return out
}
