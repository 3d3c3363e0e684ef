package rtcpengine

import "time"

// ntpEpochOffset is the number of seconds between the NTP epoch
// (1900-01-01) and the Unix epoch (1970-01-01), used to convert wall
// clock time into the 64-bit NTP timestamp RTCP Sender Reports carry
// (RFC 3550 §4).
const ntpEpochOffset = 2208988800

// toNTP converts t into a 64-bit NTP timestamp: 32 bits of seconds since
// the NTP epoch, 32 bits of fractional seconds.
func toNTP(t time.Time) uint64 {
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := uint64(float64(t.Nanosecond()) / 1e9 * (1 << 32))
	return secs<<32 | frac
}

// middle32 extracts the middle 32 bits of a 64-bit NTP timestamp, the
// "LSR" field an RTCP Reception Report echoes back (RFC 3550 §6.4.1).
func middle32(ntp uint64) uint32 {
	return uint32(ntp >> 16)
}
