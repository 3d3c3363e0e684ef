package rtpsession

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStats_SequentialPacketsNoLoss(t *testing.T) {
	var s Stats
	for i := uint16(0); i < 10; i++ {
		s.OnPacket(i, uint32(i)*160, uint32(i)*160)
	}
	require.EqualValues(t, 10, s.PacketsReceived())
	require.Zero(t, s.CumulativeLost())
}

func TestStats_DetectsLoss(t *testing.T) {
	var s Stats
	s.OnPacket(0, 0, 0)
	s.OnPacket(1, 160, 160)
	s.OnPacket(5, 800, 800) // seq 2,3,4 never arrived
	require.EqualValues(t, 3, s.CumulativeLost())
}

func TestStats_SequenceWrapAdvancesExtendedSeq(t *testing.T) {
	var s Stats
	s.OnPacket(65534, 0, 0)
	s.OnPacket(65535, 160, 160)
	s.OnPacket(0, 320, 320)
	require.EqualValues(t, 1<<16, s.ExtendedHighestSeq())
}

func TestStats_JitterAccumulatesFromVariableArrival(t *testing.T) {
	var s Stats
	// Constant arrival/timestamp ratio: jitter should stay at zero.
	s.OnPacket(0, 0, 0)
	s.OnPacket(1, 160, 160)
	require.Zero(t, s.Jitter())

	// A burst of uneven arrival spacing should push jitter above zero.
	s.OnPacket(2, 500, 320)
	require.Greater(t, s.Jitter(), 0.0)
}

func TestStats_FractionLostResetsWindow(t *testing.T) {
	var s Stats
	s.OnPacket(0, 0, 0)
	s.OnPacket(1, 160, 160)
	s.OnPacket(3, 480, 480) // one lost (seq 2)
	require.Greater(t, s.FractionLost(), 0.0)

	// With no new loss since the last call, the next fraction is zero.
	s.OnPacket(4, 640, 640)
	require.Zero(t, s.FractionLost())
}

func TestStats_LSRDLSRRoundTrip(t *testing.T) {
	var s Stats
	_, _, ok := s.LSRDLSR(0)
	require.False(t, ok)

	s.RecordSenderReport(0xAABBCCDD, 1_000_000_000)
	lsr, dlsr, ok := s.LSRDLSR(1_500_000_000)
	require.True(t, ok)
	require.EqualValues(t, 0xAABBCCDD, lsr)
	require.Greater(t, dlsr, uint32(0))
}
