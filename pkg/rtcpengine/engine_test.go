package rtcpengine

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/arzzra/rtccore/internal/config"
	"github.com/arzzra/rtccore/pkg/transport"
	"github.com/pion/rtcp"
	"github.com/stretchr/testify/require"
)

type capturingTransport struct {
	sent [][]byte
}

func (c *capturingTransport) Send(ctx context.Context, data []byte, peer net.Addr) error {
	c.sent = append(c.sent, data)
	return nil
}
func (c *capturingTransport) LocalAddr() net.Addr               { return &net.UDPAddr{} }
func (c *capturingTransport) Reliable() bool                    { return false }
func (c *capturingTransport) Secure() bool                      { return false }
func (c *capturingTransport) Network() string                   { return "UDP" }
func (c *capturingTransport) OnMessage(transport.MessageHandler) {}
func (c *capturingTransport) OnClosed(transport.ClosedHandler)   {}
func (c *capturingTransport) Close() error                      { return nil }

func TestEngine_SendReportProducesValidCompoundPacket(t *testing.T) {
	tr := &capturingTransport{}
	e := New(Config{
		SessionKey: "sess-1",
		LocalSSRC:  100,
		CNAME:      "alice@example.com",
		Transport:  tr,
		RemoteAddr: &net.UDPAddr{},
		Quality:    config.Default().Quality,
	})

	e.sendReport()
	require.Len(t, tr.sent, 1)

	packets, err := Parse(tr.sent[0])
	require.NoError(t, err)
	require.Len(t, packets, 2)
	_, isSR := packets[0].(*rtcp.SenderReport)
	require.True(t, isSR)
}

func TestEngine_HandleIncomingUpdatesQualityOnMatchingSSRC(t *testing.T) {
	e := New(Config{
		SessionKey: "sess-2",
		LocalSSRC:  200,
		CNAME:      "bob@example.com",
		Quality:    config.Default().Quality,
	})

	var got Quality
	var gotOK bool
	e.OnQuality(func(q Quality) { got = q; gotOK = true })

	now := time.Now()
	lsr := middle32(toNTP(now.Add(-20 * time.Millisecond)))
	rr := &rtcp.ReceiverReport{
		SSRC: 999,
		Reports: []rtcp.ReceptionReport{
			{SSRC: 200, FractionLost: 0, LastSenderReport: lsr, Delay: 0},
		},
	}
	data, err := Marshal([]rtcp.Packet{rr})
	require.NoError(t, err)

	require.NoError(t, e.HandleIncoming(data))
	require.True(t, gotOK)
	require.Equal(t, LevelGood, got.Level)
	require.Greater(t, e.LastRTT(), time.Duration(0))
}

func TestEngine_HandleIncomingByeInvokesHandler(t *testing.T) {
	e := New(Config{SessionKey: "sess-3", LocalSSRC: 1})

	var gotSSRC uint32
	var gotReason string
	e.OnBye(func(ssrc uint32, reason string) { gotSSRC = ssrc; gotReason = reason })

	data, err := Marshal([]rtcp.Packet{BuildBYE([]uint32{55}, "bye")})
	require.NoError(t, err)
	require.NoError(t, e.HandleIncoming(data))
	require.EqualValues(t, 55, gotSSRC)
	require.Equal(t, "bye", gotReason)
}

func TestEngine_IgnoresReceptionReportsForOtherSSRCs(t *testing.T) {
	e := New(Config{SessionKey: "sess-4", LocalSSRC: 7, Quality: config.Default().Quality})
	var fired bool
	e.OnQuality(func(Quality) { fired = true })

	rr := &rtcp.ReceiverReport{SSRC: 1, Reports: []rtcp.ReceptionReport{{SSRC: 999}}}
	data, err := Marshal([]rtcp.Packet{rr})
	require.NoError(t, err)
	require.NoError(t, e.HandleIncoming(data))
	require.False(t, fired)
}
