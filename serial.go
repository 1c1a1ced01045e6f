package sctp

// Serial-number arithmetic per RFC 1982, applied to TSNs (mod 2^32), SSNs
// and MIDs (mod 2^16 / 2^32), and RE-CONFIG request sequence numbers. All
// comparisons use the half-window rule: a is "less than" b iff the signed
// difference a-b, computed in the field's width, is negative. spec §3
// requires every TSN comparison in the engine go through these so gap
// tracking stays correct across wraparound.

// tsnLT reports whether a precedes b in TSN space.
func tsnLT(a, b uint32) bool { return int32(a-b) < 0 }

// tsnLTE reports whether a precedes or equals b in TSN space.
func tsnLTE(a, b uint32) bool { return int32(a-b) <= 0 }

// tsnGT reports whether a follows b in TSN space.
func tsnGT(a, b uint32) bool { return int32(a-b) > 0 }

// tsnGTE reports whether a follows or equals b in TSN space.
func tsnGTE(a, b uint32) bool { return int32(a-b) >= 0 }

// tsnAdd returns a+n in TSN space (wrapping is the point).
func tsnAdd(a uint32, n uint32) uint32 { return a + n }

// ssnLT reports whether a precedes b in 16-bit SSN space.
func ssnLT(a, b uint16) bool { return int16(a-b) < 0 }

// ssnLTE reports whether a precedes or equals b in 16-bit SSN space.
func ssnLTE(a, b uint16) bool { return int16(a-b) <= 0 }

// midLT reports whether a precedes b in 32-bit Message-ID space (RFC 8260
// MIDs and RE-CONFIG request-sequence numbers share this width).
func midLT(a, b uint32) bool { return int32(a-b) < 0 }

// midLTE reports whether a precedes or equals b in 32-bit Message-ID space.
func midLTE(a, b uint32) bool { return int32(a-b) <= 0 }
