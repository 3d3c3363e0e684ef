package transaction

import (
	"time"

	"github.com/arzzra/rtccore/internal/config"
)

// timers bundles the RFC 3261 §17.1 timer durations derived from a
// transaction.Config's T1/T2/T4 bases, named after the RFC's own letters so
// callers can cross-reference directly.
type timers struct {
	t1, t2, t4 time.Duration
}

func newTimers(cfg config.Transaction) timers {
	return timers{t1: cfg.T1, t2: cfg.T2, t4: cfg.T4}
}

// timerB is the INVITE client transaction's absolute timeout: 64*T1.
func (t timers) timerB() time.Duration { return 64 * t.t1 }

// timerF is the non-INVITE client transaction's absolute timeout: 64*T1.
func (t timers) timerF() time.Duration { return 64 * t.t1 }

// timerH is the INVITE server transaction's wait-for-ACK timeout: 64*T1.
func (t timers) timerH() time.Duration { return 64 * t.t1 }

// timerJ is the non-INVITE server transaction's retransmit-absorption
// window: 64*T1 over unreliable transports, 0 (immediate) over reliable ones.
func (t timers) timerJ(reliable bool) time.Duration {
	if reliable {
		return 0
	}
	return 64 * t.t1
}

// timerD is the INVITE client transaction's time spent in Completed
// absorbing response retransmits: at least 32s unreliable, 0 reliable.
func (t timers) timerD(reliable bool) time.Duration {
	if reliable {
		return 0
	}
	if d := 32 * time.Second; d > t.t1 {
		return d
	}
	return t.t1
}

// timerI is the INVITE server transaction's Confirmed-state lifetime:
// T4 unreliable, 0 reliable.
func (t timers) timerI(reliable bool) time.Duration {
	if reliable {
		return 0
	}
	return t.t4
}

// timerK is the non-INVITE client transaction's Completed-state lifetime:
// T4 unreliable, 0 reliable.
func (t timers) timerK(reliable bool) time.Duration {
	if reliable {
		return 0
	}
	return t.t4
}

// nextRetransmit doubles the previous retransmit interval, capped at T2.
// Used for Timer A, Timer E, and Timer G retransmission backoff.
func (t timers) nextRetransmit(prev time.Duration) time.Duration {
	if prev <= 0 {
		return t.t1
	}
	next := prev * 2
	if next > t.t2 {
		return t.t2
	}
	return next
}
