package rtcpengine

import (
	"testing"
	"time"

	"github.com/arzzra/rtccore/pkg/rtpsession"
	"github.com/pion/rtcp"
	"github.com/stretchr/testify/require"
)

func TestBuildSenderReport_FieldsRoundTripThroughMarshal(t *testing.T) {
	sr := BuildSenderReport(0x1234, time.Unix(1700000000, 0), 8000, 10, 1600, nil)
	data, err := Marshal([]rtcp.Packet{sr, BuildSDES(0x1234, "alice@example.com")})
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, parsed, 2)

	gotSR, ok := parsed[0].(*rtcp.SenderReport)
	require.True(t, ok)
	require.EqualValues(t, 0x1234, gotSR.SSRC)
	require.EqualValues(t, 8000, gotSR.RTPTime)
}

func TestBuildReceptionReport_FromStats(t *testing.T) {
	var st rtpsession.Stats
	st.OnPacket(0, 0, 0)
	st.OnPacket(1, 160, 160)
	st.OnPacket(3, 480, 480)

	rr := BuildReceptionReport(42, &st, time.Now())
	require.EqualValues(t, 42, rr.SSRC)
	require.Greater(t, rr.TotalLost, uint32(0))
}

func TestBuildBYE(t *testing.T) {
	bye := BuildBYE([]uint32{1, 2}, "session ended")
	data, err := Marshal([]rtcp.Packet{bye})
	require.NoError(t, err)
	parsed, err := Parse(data)
	require.NoError(t, err)
	got, ok := parsed[0].(*rtcp.Goodbye)
	require.True(t, ok)
	require.Equal(t, []uint32{1, 2}, got.Sources)
	require.Equal(t, "session ended", got.Reason)
}

func TestNTP_RoundTripsMiddle32(t *testing.T) {
	now := time.Unix(1700000000, 500000000)
	ntp := toNTP(now)
	require.NotZero(t, middle32(ntp))
}
