package sendq

import "github.com/google/btree"

// OutboundRecord is one DATA/I-DATA fragment that has been assigned a TSN
// and is either in flight or awaiting (re)transmission (spec §3 "Outbound
// record"). It lives in the Retransmission Queue from the moment it is
// assigned a TSN until it is acked or abandoned.
type OutboundRecord struct {
	TSN uint32

	StreamID  uint16
	Seq       uint32
	Wide      bool
	PPID      uint32
	Unordered bool
	Begin     bool
	End       bool
	FSN       uint32

	Payload []byte

	RelKind  Reliability
	RelLimit uint32

	EnqueuedAtMillis int64
	SentAtMillis     int64

	RetransmitCount int
	InFlight        bool
	RetransmitFlag  bool // fast-retransmit marked: resend on next transmit pass
	NackCount       int
	Abandoned       bool
}

// tsnLess orders records by serial-number-aware TSN comparison so the tree
// stays correctly ordered across a TSN wraparound (spec §3 "serial-number
// arithmetic modulo 2^32").
func tsnLess(a, b *OutboundRecord) bool { return int32(a.TSN-b.TSN) < 0 }

// Retransmission is the ordered-by-TSN structure spec §4.5 asks for:
// "efficient earliest-unacked lookup, SACK gap application, fast-retransmit
// marking, and abandonment walks." google/btree.BTreeG gives all four in
// O(log n) per operation without hand-rolling a balanced tree.
type Retransmission struct {
	tree *btree.BTreeG[*OutboundRecord]
	// byTSN indexes the same records for O(1) point lookup by TSN, since
	// btree point lookup still needs a constructed key record.
	byTSN map[uint32]*OutboundRecord

	bytesInFlight uint64
}

// NewRetransmission returns an empty Retransmission Queue.
func NewRetransmission() *Retransmission {
	return &Retransmission{
		tree:  btree.NewG(32, tsnLess),
		byTSN: make(map[uint32]*OutboundRecord),
	}
}

// Insert adds a freshly TSN-assigned record.
func (r *Retransmission) Insert(rec *OutboundRecord) {
	r.tree.ReplaceOrInsert(rec)
	r.byTSN[rec.TSN] = rec
	if rec.InFlight {
		r.bytesInFlight += uint64(len(rec.Payload))
	}
}

// Get looks up a record by TSN.
func (r *Retransmission) Get(tsn uint32) (*OutboundRecord, bool) {
	rec, ok := r.byTSN[tsn]
	return rec, ok
}

// Len reports how many records remain (acked or abandoned ones are
// removed, not just flagged).
func (r *Retransmission) Len() int { return r.tree.Len() }

// BytesInFlight sums the payload length of every record currently marked
// in flight, for the association's cwnd/peer-rwnd bookkeeping.
func (r *Retransmission) BytesInFlight() uint64 { return r.bytesInFlight }

// Earliest returns the record with the lowest TSN still queued, or nil.
func (r *Retransmission) Earliest() *OutboundRecord {
	rec, ok := r.tree.Min()
	if !ok {
		return nil
	}
	return rec
}

// Remove deletes a record (acked, or abandoned and reported via
// FORWARD-TSN), returning it so the caller can credit its bytes.
func (r *Retransmission) Remove(tsn uint32) *OutboundRecord {
	rec, ok := r.byTSN[tsn]
	if !ok {
		return nil
	}
	r.tree.Delete(rec)
	delete(r.byTSN, tsn)
	if rec.InFlight {
		r.bytesInFlight -= uint64(len(rec.Payload))
	}
	return rec
}

// SetInFlight toggles a record's in-flight accounting, used when a
// fast-retransmit or T3-RTX resend puts it back on the wire.
func (r *Retransmission) SetInFlight(tsn uint32, inFlight bool) {
	rec, ok := r.byTSN[tsn]
	if !ok || rec.InFlight == inFlight {
		return
	}
	if inFlight {
		r.bytesInFlight += uint64(len(rec.Payload))
	} else {
		r.bytesInFlight -= uint64(len(rec.Payload))
	}
	rec.InFlight = inFlight
}

// AscendUpTo walks every record with TSN <= tsn in ascending order,
// calling fn on each; fn returning false stops the walk early. It is used
// to credit and free acked records up to a SACK's cumulative ack point.
func (r *Retransmission) AscendUpTo(tsn uint32, fn func(*OutboundRecord) bool) {
	r.tree.Ascend(func(rec *OutboundRecord) bool {
		if int32(rec.TSN-tsn) > 0 {
			return false
		}
		return fn(rec)
	})
}

// Ascend walks every queued record in TSN order.
func (r *Retransmission) Ascend(fn func(*OutboundRecord) bool) {
	r.tree.Ascend(fn)
}
