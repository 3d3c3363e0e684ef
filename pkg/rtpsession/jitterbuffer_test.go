package rtpsession

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

func pkt(seq uint16) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{SequenceNumber: seq}}
}

func TestJitterBuffer_OrdersBySequenceNotArrivalOrder(t *testing.T) {
	jb := NewJitterBuffer(3, 50, nil)
	require.True(t, jb.Push(pkt(2)))
	require.True(t, jb.Push(pkt(0)))
	require.True(t, jb.Push(pkt(1)))
	require.True(t, jb.Ready())

	require.EqualValues(t, 0, jb.Pop().SequenceNumber)
	require.EqualValues(t, 1, jb.Pop().SequenceNumber)
	require.EqualValues(t, 2, jb.Pop().SequenceNumber)
}

func TestJitterBuffer_RejectsDuplicate(t *testing.T) {
	jb := NewJitterBuffer(1, 50, nil)
	require.True(t, jb.Push(pkt(5)))
	require.False(t, jb.Push(pkt(5)))
	_, dup, _ := jb.DropCounts()
	require.EqualValues(t, 1, dup)
}

func TestJitterBuffer_RejectsLateAfterPop(t *testing.T) {
	jb := NewJitterBuffer(1, 50, nil)
	require.True(t, jb.Push(pkt(10)))
	require.NotNil(t, jb.Pop())

	require.False(t, jb.Push(pkt(9)))
	late, _, _ := jb.DropCounts()
	require.EqualValues(t, 1, late)
}

func TestJitterBuffer_OverflowDropsAtMaxDepth(t *testing.T) {
	jb := NewJitterBuffer(1, 2, nil)
	require.True(t, jb.Push(pkt(1)))
	require.True(t, jb.Push(pkt(2)))
	require.False(t, jb.Push(pkt(3)))
	_, _, overflow := jb.DropCounts()
	require.EqualValues(t, 1, overflow)
}

func TestJitterBuffer_HandlesSequenceWraparound(t *testing.T) {
	jb := NewJitterBuffer(3, 50, nil)
	require.True(t, jb.Push(pkt(65534)))
	require.True(t, jb.Push(pkt(65535)))
	require.True(t, jb.Push(pkt(0)))

	require.EqualValues(t, 65534, jb.Pop().SequenceNumber)
	require.EqualValues(t, 65535, jb.Pop().SequenceNumber)
	require.EqualValues(t, 0, jb.Pop().SequenceNumber)
}

func TestJitterBuffer_ReadyAtTargetDepth(t *testing.T) {
	jb := NewJitterBuffer(3, 50, nil)
	require.False(t, jb.Ready())
	jb.Push(pkt(0))
	require.True(t, jb.Ready()) // head of line equals nextPop, ready immediately
}
