package rtcpengine

import (
	"testing"
	"time"

	"github.com/arzzra/rtccore/internal/config"
	"github.com/stretchr/testify/require"
)

func TestMOS_PerfectLinkIsNearTollQuality(t *testing.T) {
	mos := MOS(0, 20*time.Millisecond, 1*time.Millisecond)
	require.Greater(t, mos, 4.0)
}

func TestMOS_HighLossDegradesScore(t *testing.T) {
	good := MOS(0, 20*time.Millisecond, 1*time.Millisecond)
	bad := MOS(0.15, 20*time.Millisecond, 1*time.Millisecond)
	require.Less(t, bad, good)
}

func TestMOS_StaysWithinBounds(t *testing.T) {
	mos := MOS(1.0, 2*time.Second, 500*time.Millisecond)
	require.GreaterOrEqual(t, mos, 1.0)
	require.LessOrEqual(t, mos, 4.5)
}

func TestRTT_ZeroLSRIsNotOK(t *testing.T) {
	_, ok := RTT(0, 0, time.Now())
	require.False(t, ok)
}

func TestEvaluate_ClassifiesByThreshold(t *testing.T) {
	thr := config.Default().Quality

	good := Evaluate(4.2, 0.0, 20*time.Millisecond, time.Millisecond, thr)
	require.Equal(t, LevelGood, good.Level)

	poor := Evaluate(2.8, 0.02, 20*time.Millisecond, time.Millisecond, thr)
	require.Equal(t, LevelPoor, poor.Level)

	critical := Evaluate(1.5, 0.2, 200*time.Millisecond, 20*time.Millisecond, thr)
	require.Equal(t, LevelCritical, critical.Level)
}
