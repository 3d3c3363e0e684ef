package rtpsession

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/arzzra/rtccore/pkg/transport"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

// loopbackTransport is a minimal fake implementing transport.Transport that
// delivers everything sent through it straight back to a registered peer
// session's HandleInbound, for exercising Session without real sockets.
type loopbackTransport struct {
	mu   sync.Mutex
	peer *Session
	arrival uint32
}

func (l *loopbackTransport) Send(ctx context.Context, data []byte, peer net.Addr) error {
	l.mu.Lock()
	target := l.peer
	l.arrival += 160
	arrival := l.arrival
	l.mu.Unlock()
	if target == nil {
		return nil
	}
	return target.HandleInbound(data, arrival)
}
func (l *loopbackTransport) LocalAddr() net.Addr             { return &net.UDPAddr{} }
func (l *loopbackTransport) Reliable() bool                  { return false }
func (l *loopbackTransport) Secure() bool                    { return false }
func (l *loopbackTransport) Network() string                 { return "UDP" }
func (l *loopbackTransport) OnMessage(transport.MessageHandler) {}
func (l *loopbackTransport) OnClosed(transport.ClosedHandler)   {}
func (l *loopbackTransport) Close() error                    { return nil }

func newLoopbackPair(t *testing.T) (a, b *Session) {
	t.Helper()
	tA := &loopbackTransport{}
	tB := &loopbackTransport{}

	var err error
	a, err = New(Config{PayloadType: 0, ClockRate: 8000, Transport: tA, RemoteAddr: &net.UDPAddr{}, JitterTargetPackets: 1, JitterMaxPackets: 50})
	require.NoError(t, err)
	b, err = New(Config{PayloadType: 0, ClockRate: 8000, Transport: tB, RemoteAddr: &net.UDPAddr{}, JitterTargetPackets: 1, JitterMaxPackets: 50})
	require.NoError(t, err)

	tA.peer = b
	tB.peer = a
	return a, b
}

func TestSession_SendPayloadDeliversToPeer(t *testing.T) {
	a, b := newLoopbackPair(t)

	var received *rtp.Packet
	b.OnPacket(func(pkt *rtp.Packet) { received = pkt })

	require.NoError(t, a.SendPayload(context.Background(), []byte("hello"), 160, false))
	require.NotNil(t, received)
	require.Equal(t, []byte("hello"), received.Payload)
	require.Equal(t, a.SSRC(), received.SSRC)
}

func TestSession_SendPayloadFailsAfterClose(t *testing.T) {
	a, _ := newLoopbackPair(t)
	require.NoError(t, a.Close())
	err := a.SendPayload(context.Background(), []byte("x"), 160, false)
	require.Error(t, err)
}

func TestSession_StatsTrackedPerPeerSSRC(t *testing.T) {
	a, b := newLoopbackPair(t)
	b.OnPacket(func(*rtp.Packet) {})

	for i := 0; i < 5; i++ {
		require.NoError(t, a.SendPayload(context.Background(), []byte("x"), 160, false))
	}
	st := b.StatsFor(a.SSRC())
	require.NotNil(t, st)
	require.EqualValues(t, 5, st.PacketsReceived())
}

func TestSession_DTMFRoundTrip(t *testing.T) {
	tA := &loopbackTransport{}
	tB := &loopbackTransport{}
	a, err := New(Config{PayloadType: 0, ClockRate: 8000, Transport: tA, RemoteAddr: &net.UDPAddr{}, DTMFPayloadType: 101, JitterTargetPackets: 1, JitterMaxPackets: 50})
	require.NoError(t, err)
	b, err := New(Config{PayloadType: 0, ClockRate: 8000, Transport: tB, RemoteAddr: &net.UDPAddr{}, DTMFPayloadType: 101, JitterTargetPackets: 1, JitterMaxPackets: 50})
	require.NoError(t, err)
	tA.peer = b
	tB.peer = a

	var got DTMFEvent
	var gotOK bool
	b.OnDTMF(func(ev DTMFEvent) { got = ev; gotOK = true })

	require.NoError(t, a.SendDTMF(context.Background(), DTMF1, 10, 1600))
	require.True(t, gotOK)
	require.Equal(t, DTMF1, got.Digit)
}
