package rtcpengine

import (
	"time"

	"github.com/arzzra/rtccore/internal/config"
)

// RTT derives a round-trip time estimate from a Reception Report block
// this node received back from its peer, per RFC 3550 §6.4.1:
// rtt = now - (lsr + dlsr), where lsr/dlsr are in 1/65536-second units.
// ok is false if lsr is zero (peer has not yet echoed one of our SRs).
func RTT(lsr, dlsr uint32, now time.Time) (rtt time.Duration, ok bool) {
	if lsr == 0 {
		return 0, false
	}
	nowMid := middle32(toNTP(now))
	elapsed := nowMid - lsr - dlsr
	return time.Duration(elapsed) * time.Second / 65536, true
}

// MOS estimates a Mean Opinion Score from packet loss and one-way delay
// using the simplified ITU-T G.107 E-model R-factor reduction: a
// default-quality R-factor of 93.2 degraded by
// delay impairment (Id) and loss impairment (Ie), then mapped to MOS via
// the standard cubic approximation.
func MOS(lossFraction float64, oneWayDelay time.Duration, jitter time.Duration) float64 {
	const baseR = 93.2

	delayMs := float64(oneWayDelay.Milliseconds()) + float64(jitter.Milliseconds())*2
	id := delayImpairment(delayMs)
	ie := lossImpairment(lossFraction)

	r := baseR - id - ie
	if r < 0 {
		r = 0
	}
	if r > 100 {
		r = 100
	}

	mos := 1 + 0.035*r + 7e-6*r*(r-60)*(100-r)
	if mos < 1 {
		mos = 1
	}
	if mos > 4.5 {
		mos = 4.5
	}
	return mos
}

// delayImpairment approximates Id, the E-model's one-way-delay
// impairment term: negligible under 160ms, then roughly linear.
func delayImpairment(delayMs float64) float64 {
	if delayMs < 160 {
		return delayMs / 40
	}
	return (delayMs-160)/10 + 4
}

// lossImpairment approximates Ie-eff for packet loss on a PCM-class
// codec: 2.5 quality points lost per 1% random packet loss (25 per 10%).
func lossImpairment(lossFraction float64) float64 {
	if lossFraction <= 0 {
		return 0
	}
	return lossFraction * 100 * 2.5
}

// Level is a coarse call-quality bucket, crossed against
// internal/config.Quality thresholds.
type Level int

const (
	LevelGood Level = iota
	LevelFair
	LevelPoor
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelGood:
		return "good"
	case LevelFair:
		return "fair"
	case LevelPoor:
		return "poor"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Quality is one MediaQuality sample.
type Quality struct {
	MOS         float64
	LossFraction float64
	RTT         time.Duration
	Jitter      time.Duration
	Level       Level
}

// Evaluate classifies a quality sample against thr: MOS crossing the
// critical threshold always wins; otherwise MOS at or below the poor
// threshold, or loss at or above the poor loss threshold, is poor, and
// loss at or above the fair loss threshold is fair.
func Evaluate(mos, lossFraction float64, rtt, jitter time.Duration, thr config.Quality) Quality {
	level := LevelGood
	switch {
	case mos <= thr.MOSCriticalThreshold:
		level = LevelCritical
	case mos <= thr.MOSPoorThreshold || lossFraction >= thr.LossPoorThreshold:
		level = LevelPoor
	case lossFraction >= thr.LossFairThreshold:
		level = LevelFair
	}
	return Quality{MOS: mos, LossFraction: lossFraction, RTT: rtt, Jitter: jitter, Level: level}
}
