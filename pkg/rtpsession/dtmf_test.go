package rtpsession

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDTMFPayload_RoundTrip(t *testing.T) {
	want := DTMFEvent{Digit: DTMFStar, Volume: 10, Duration: 800, EndOfEvent: true}
	got, err := decodeDTMFPayload(encodeDTMFPayload(want))
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestDecodeDTMFPayload_TooShort(t *testing.T) {
	_, err := decodeDTMFPayload([]byte{0, 1})
	require.Error(t, err)
}

func TestDTMFSender_BuildPackets(t *testing.T) {
	sender := NewDTMFSender(101)
	start, end := sender.BuildPackets(DTMF5, 0, 1600, 4000, 3)
	require.Len(t, start, 3)
	require.Len(t, end, 3)
	require.True(t, start[0].Marker)
	require.False(t, start[1].Marker)
	for _, p := range start {
		require.EqualValues(t, 5, p.Payload[0])
		require.Zero(t, p.Payload[1]&0x80)
	}
	for _, p := range end {
		require.NotZero(t, p.Payload[1]&0x80)
	}
}

func TestDTMFReceiver_EmitsOnceOnEndOfEvent(t *testing.T) {
	sender := NewDTMFSender(101)
	receiver := NewDTMFReceiver(101)
	start, end := sender.BuildPackets(DTMFPound, 5, 1600, 4000, 3)

	for _, p := range start {
		_, ok, err := receiver.Process(p)
		require.NoError(t, err)
		require.False(t, ok)
	}

	ev, ok, err := receiver.Process(end[0])
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, DTMFPound, ev.Digit)

	// Redundant end retransmissions must not re-fire.
	_, ok, err = receiver.Process(end[1])
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDTMFReceiver_IgnoresOtherPayloadTypes(t *testing.T) {
	receiver := NewDTMFReceiver(101)
	pkt := pkt(1)
	pkt.PayloadType = 0
	_, ok, err := receiver.Process(pkt)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDTMFDigit_String(t *testing.T) {
	require.Equal(t, "5", DTMF5.String())
	require.Equal(t, "*", DTMFStar.String())
	require.Equal(t, "#", DTMFPound.String())
	require.Equal(t, "A", DTMFA.String())
}
