package sctp

import "testing"

func TestReassemblySingleFragmentMessage(t *testing.T) {
	q := newReassemblyQueue(1 << 16)
	err := q.add(fragment{tsn: 1, seq: 0, ppid: 7, begin: true, end: true, payload: []byte("hello")})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	payload, ppid, ok := q.pop()
	if !ok {
		t.Fatalf("expected a message to be ready")
	}
	if string(payload) != "hello" || ppid != 7 {
		t.Fatalf("got %q/%d, want hello/7", payload, ppid)
	}
}

func TestReassemblyMultiFragmentOutOfOrderArrival(t *testing.T) {
	q := newReassemblyQueue(1 << 16)
	// Fragments of one message arrive out of TSN order.
	mustAdd(t, q, fragment{tsn: 12, seq: 0, begin: false, end: true, payload: []byte("C")})
	mustAdd(t, q, fragment{tsn: 10, seq: 0, begin: true, end: false, payload: []byte("A")})
	mustAdd(t, q, fragment{tsn: 11, seq: 0, begin: false, end: false, payload: []byte("B")})

	payload, _, ok := q.pop()
	if !ok {
		t.Fatalf("expected message complete once all three fragments arrived")
	}
	if string(payload) != "ABC" {
		t.Fatalf("got %q, want ABC", payload)
	}
}

func TestReassemblyOrderedMessagesDeliverInSeqOrder(t *testing.T) {
	q := newReassemblyQueue(1 << 16)
	// seq 1 completes before seq 0, but delivery must still respect seq order.
	mustAdd(t, q, fragment{tsn: 5, seq: 1, begin: true, end: true, payload: []byte("second")})
	if _, _, ok := q.pop(); ok {
		t.Fatalf("seq 1 should be withheld until seq 0 arrives")
	}
	mustAdd(t, q, fragment{tsn: 4, seq: 0, begin: true, end: true, payload: []byte("first")})

	payload, _, ok := q.pop()
	if !ok || string(payload) != "first" {
		t.Fatalf("expected 'first' delivered first, got %q ok=%v", payload, ok)
	}
	payload, _, ok = q.pop()
	if !ok || string(payload) != "second" {
		t.Fatalf("expected 'second' delivered next, got %q ok=%v", payload, ok)
	}
}

func TestReassemblyUnorderedDeliversOnCompletion(t *testing.T) {
	q := newReassemblyQueue(1 << 16)
	mustAdd(t, q, fragment{tsn: 1, seq: 5, unordered: true, begin: true, end: true, payload: []byte("x")})
	if _, _, ok := q.pop(); !ok {
		t.Fatalf("unordered message should deliver immediately on completion")
	}
}

func TestReassemblyRejectsOversizeMessage(t *testing.T) {
	q := newReassemblyQueue(4)
	err := q.add(fragment{tsn: 1, seq: 0, begin: true, end: true, payload: []byte("too long")})
	if err == nil {
		t.Fatalf("expected an error for a message exceeding maxMessageSize")
	}
}

func TestReassemblyDuplicateFragmentIgnored(t *testing.T) {
	q := newReassemblyQueue(1 << 16)
	mustAdd(t, q, fragment{tsn: 1, seq: 0, begin: true, end: true, payload: []byte("a")})
	if _, _, ok := q.pop(); !ok {
		t.Fatalf("expected first add to complete the message")
	}
	// Re-adding the same TSN (a retransmitted duplicate) must not panic or
	// double-count buffered bytes.
	if err := q.add(fragment{tsn: 1, seq: 0, begin: true, end: true, payload: []byte("a")}); err != nil {
		t.Fatalf("duplicate add should be a no-op, got err: %v", err)
	}
}

func TestReassemblyAdvanceForwardSkipsAbandonedAndUnblocksOrder(t *testing.T) {
	q := newReassemblyQueue(1 << 16)
	// seq 0 never completes (its sender abandoned it); seq 2 has fully
	// arrived but is withheld behind it.
	mustAdd(t, q, fragment{tsn: 1, seq: 0, begin: true, end: false, payload: []byte("a")})
	mustAdd(t, q, fragment{tsn: 3, seq: 2, begin: true, end: true, payload: []byte("z")})
	if _, _, ok := q.pop(); ok {
		t.Fatalf("seq 2 should still be withheld behind unfinished seq 0")
	}

	q.advanceForward(2, 2, true)

	payload, _, ok := q.pop()
	if !ok || string(payload) != "z" {
		t.Fatalf("expected seq 2 to be released after advanceForward, got %q ok=%v", payload, ok)
	}
}

func mustAdd(t *testing.T, q *reassemblyQueue, f fragment) {
	t.Helper()
	if err := q.add(f); err != nil {
		t.Fatalf("add(%+v): %v", f, err)
	}
}
