package pcap

import (
	"fmt"
	"io"
	"time"
)

// Recorder captures a sequence of SCTP datagrams (no link-layer framing) to
// an io.Writer in libpcap format, for post-mortem inspection of a failing
// test trace. It is not used by the engine itself — Association and
// Endpoint have no notion of tracing — only by tests that want a record of
// what crossed the wire.
type Recorder struct {
	w       *Writer
	snapLen uint32
}

// NewRecorder opens a Recorder writing to out. snapLen caps how much of each
// datagram is retained; 0 means "no cap" (the full datagram is kept).
func NewRecorder(out io.Writer, snapLen uint32) (*Recorder, error) {
	w := NewWriter(out)
	if err := w.WriteFileHeader(snapLen, LinkTypeRaw); err != nil {
		return nil, fmt.Errorf("pcap: open recorder: %w", err)
	}
	return &Recorder{w: w, snapLen: snapLen}, nil
}

// RecordDatagram appends one SCTP datagram with its timestamp. No direction
// is recorded: sent vs. received is the caller's concern, and Recorder only
// needs a timestamp and bytes.
func (r *Recorder) RecordDatagram(at time.Time, payload []byte) error {
	capLen := len(payload)
	if r.snapLen != 0 && uint32(capLen) > r.snapLen {
		capLen = int(r.snapLen)
	}
	return r.w.WritePacket(CaptureInfo{
		Timestamp:     at,
		CaptureLength: capLen,
		Length:        len(payload),
	}, payload)
}
