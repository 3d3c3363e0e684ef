package rtpsession

import (
	"math"
	"sync"
)

// Stats tracks per-peer-SSRC statistics: packets received, running loss,
// jitter, fraction lost over the last report interval, cumulative loss,
// extended highest sequence, and the
// LSR/DLSR pair an RTCP Receiver Report needs for RTT.
type Stats struct {
	mu sync.Mutex

	baseSeq     uint16
	maxSeq      uint16
	cycles      uint32
	seeded      bool
	badSeq      uint32

	received uint64

	transit     int64
	transitInit bool
	jitter      float64

	expectedPrior uint32
	receivedPrior uint64

	lastSR    uint32 // middle 32 bits of the last SR's NTP timestamp, for DLSR
	lastSRAt  int64  // local monotonic-ish marker (nanoseconds) the SR was received, for computing DLSR elapsed time
}

const maxDropout = 3000
const maxMisorder = 100

// OnPacket folds one received RTP packet's sequence number and arrival
// transit time into the running statistics (RFC 3550 §A.1 sequence
// validation plus §A.8 jitter estimate).
func (s *Stats) OnPacket(seq uint16, arrivalUnits, rtpTimestamp uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.seeded {
		s.baseSeq = seq
		s.maxSeq = seq
		s.seeded = true
	} else {
		s.updateSeq(seq)
	}
	s.received++

	transit := int64(arrivalUnits) - int64(rtpTimestamp)
	if s.transitInit {
		d := transit - s.transit
		if d < 0 {
			d = -d
		}
		// RFC 3550 §A.8: J = J + (|D(i-1,i)| - J)/16
		s.jitter += (float64(d) - s.jitter) / 16
	}
	s.transit = transit
	s.transitInit = true
}

// updateSeq implements RFC 3550 Appendix A.1's probation-free variant:
// accept seq as the new max if it falls within the dropout window,
// incrementing cycles on wraparound; otherwise treat as misordered/dup.
func (s *Stats) updateSeq(seq uint16) {
	udelta := seq - s.maxSeq // modulo 2^16, so 65535 -> 0 is a forward step of 1
	switch {
	case udelta < maxDropout:
		if seq < s.maxSeq {
			s.cycles++
		}
		s.maxSeq = seq
	case udelta > 1<<16-maxMisorder:
		// Late/reordered packet within the acceptable window; no state change.
	default:
		s.badSeq++
	}
}

// ExtendedHighestSeq returns roc*2^16 + seq, the RTCP receiver report's
// extended highest sequence number field.
func (s *Stats) ExtendedHighestSeq() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycles<<16 | uint32(s.maxSeq)
}

// CumulativeLost returns the running count of packets never received,
// computed from the extended sequence space.
func (s *Stats) CumulativeLost() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	expected := int64(s.cycles)<<16 + int64(s.maxSeq) - int64(s.baseSeq) + 1
	lost := expected - int64(s.received)
	if lost < 0 {
		return 0
	}
	return lost
}

// FractionLost returns the loss fraction (0..1) since the last call,
// resetting the interval counters.
func (s *Stats) FractionLost() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	expected := int64(s.cycles)<<16 + int64(s.maxSeq) - int64(s.baseSeq) + 1
	expectedInterval := uint32(expected) - s.expectedPrior
	receivedInterval := s.received - s.receivedPrior
	s.expectedPrior = uint32(expected)
	s.receivedPrior = s.received

	lostInterval := int64(expectedInterval) - int64(receivedInterval)
	if expectedInterval == 0 || lostInterval <= 0 {
		return 0
	}
	return math.Min(1, float64(lostInterval)/float64(expectedInterval))
}

// Jitter returns the current RFC 3550 §6.4.1 interarrival jitter estimate
// in RTP timestamp units.
func (s *Stats) Jitter() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jitter
}

// PacketsReceived returns the running count of packets received.
func (s *Stats) PacketsReceived() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received
}

// RecordSenderReport stores the middle 32 bits of an inbound SR's NTP
// timestamp and the local arrival marker, for a later DLSR computation
// when this node sends its own report back.
func (s *Stats) RecordSenderReport(lsr uint32, arrivalNanos int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSR = lsr
	s.lastSRAt = arrivalNanos
}

// LSRDLSR returns the LSR to echo and the DLSR elapsed time (in 1/65536
// second units, RFC 3550 §6.4.1) since it was recorded, for this node's
// next Reception Report block. ok is false if no SR has been seen yet.
func (s *Stats) LSRDLSR(nowNanos int64) (lsr, dlsr uint32, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSR == 0 {
		return 0, 0, false
	}
	elapsed := nowNanos - s.lastSRAt
	dlsr = uint32(float64(elapsed) / float64(1e9) * 65536)
	return s.lastSR, dlsr, true
}
