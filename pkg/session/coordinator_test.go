package session

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arzzra/rtccore/internal/clock"
	"github.com/arzzra/rtccore/internal/config"
	"github.com/arzzra/rtccore/internal/metrics"
	"github.com/arzzra/rtccore/pkg/dialog"
	"github.com/arzzra/rtccore/pkg/sdpneg"
	"github.com/arzzra/rtccore/pkg/sipmsg"
	"github.com/arzzra/rtccore/pkg/transaction"
	"github.com/arzzra/rtccore/pkg/transport"
	"github.com/emiago/sipgo/sip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAddr struct{ s string }

func (a fakeAddr) Network() string { return "udp" }
func (a fakeAddr) String() string  { return a.s }

// recordingTransport is the SIP signaling transport the transaction layer
// sends over; it just records every outbound frame.
type recordingTransport struct {
	mu   sync.Mutex
	sent [][]byte
}

func (r *recordingTransport) Send(ctx context.Context, data []byte, peer net.Addr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, data)
	return nil
}

func (r *recordingTransport) Reliable() bool { return false }

func (r *recordingTransport) last() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return nil
	}
	return r.sent[len(r.sent)-1]
}

func (r *recordingTransport) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

// fakeMediaTransport stands in for a UDP socket bound to the media plane
// (mirrors pkg/rtpsession/session_test.go's loopbackTransport shape).
type fakeMediaTransport struct {
	addr  net.Addr
	onMsg transport.MessageHandler
}

func newFakeMediaTransport(addr string) *fakeMediaTransport {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		panic(err)
	}
	return &fakeMediaTransport{addr: udpAddr}
}

func (f *fakeMediaTransport) Send(ctx context.Context, data []byte, peer net.Addr) error { return nil }
func (f *fakeMediaTransport) LocalAddr() net.Addr                                        { return f.addr }
func (f *fakeMediaTransport) Reliable() bool                                             { return false }
func (f *fakeMediaTransport) Secure() bool                                               { return false }
func (f *fakeMediaTransport) Network() string                                            { return "UDP" }
func (f *fakeMediaTransport) OnMessage(h transport.MessageHandler)                        { f.onMsg = h }
func (f *fakeMediaTransport) OnClosed(transport.ClosedHandler)                            {}
func (f *fakeMediaTransport) Close() error                                               { return nil }

func fakeMediaFactory() MediaTransportFactory {
	n := 0
	return func() (transport.Transport, transport.Transport, error) {
		n++
		rtp := newFakeMediaTransport(fmt.Sprintf("127.0.0.1:%d", 30000+2*n))
		rtcp := newFakeMediaTransport(fmt.Sprintf("127.0.0.1:%d", 30001+2*n))
		return rtp, rtcp, nil
	}
}

// newCoordinatorHarness wires a transaction.Manager, dialog.Manager, and
// Coordinator together exactly as an application would (mirrors
// pkg/dialog/dialog_test.go's newHarness).
func newCoordinatorHarness(t *testing.T, codecs []sdpneg.Codec) (*Coordinator, *transaction.Manager, *recordingTransport) {
	t.Helper()
	tr := &recordingTransport{}
	sched := clock.NewScheduler(clock.System{})
	cfg := config.New(config.WithTimers(10*time.Millisecond, 40*time.Millisecond, 10*time.Millisecond))
	txm := transaction.NewManager(tr, cfg.Transaction, sched, metrics.Noop(), zerolog.Nop())
	contact := sip.Uri{User: "ua", Host: "127.0.0.1", Port: 5060}
	dm := dialog.NewManager(txm, contact, "127.0.0.1", 5060, metrics.Noop(), zerolog.Nop())

	coord := NewCoordinator(Deps{
		Dialogs:      dm,
		Transactions: txm,
		Config:       cfg,
		Codecs:       codecs,
		MediaFactory: fakeMediaFactory(),
		Logger:       zerolog.Nop(),
	})
	return coord, txm, tr
}

func drainEvent(t *testing.T, ch <-chan AppEvent, timeout time.Duration) AppEvent {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(timeout):
		t.Fatal("timed out waiting for an application event")
		return AppEvent{}
	}
}

// buildInboundInvite constructs an inbound INVITE the way a peer would send
// it, mirroring pkg/dialog/dialog_test.go's buildInvite.
func buildInboundInvite(branch, callID, fromTag string) *sipmsg.Request {
	ruri := sip.Uri{User: "ua", Host: "127.0.0.1", Port: 5060}
	req := sip.NewRequest(sip.INVITE, ruri)

	via := &sip.ViaHeader{ProtocolName: "SIP", ProtocolVersion: "2.0", Transport: "UDP", Host: "198.51.100.9", Port: 5060, Params: sip.NewParams()}
	via.Params.Add("branch", branch)
	req.AppendHeader(via)

	from := &sip.FromHeader{Address: sip.Uri{User: "bob", Host: "example.com"}, Params: sip.NewParams()}
	from.Params.Add("tag", fromTag)
	req.AppendHeader(from)

	to := &sip.ToHeader{Address: sip.Uri{User: "ua", Host: "example.com"}, Params: sip.NewParams()}
	req.AppendHeader(to)

	cid := sip.CallID(callID)
	req.AppendHeader(&cid)
	req.AppendHeader(&sip.CSeq{SeqNo: 1, MethodName: sip.INVITE})
	req.AppendHeader(&sip.ContactHeader{Address: sip.Uri{User: "bob", Host: "198.51.100.9", Port: 5060}})

	return sipmsg.WrapRequest(req)
}

// rawSDP builds a minimal valid audio offer/answer body, joined the way
// the pack's raw-message test fixtures are (strings.Join with "\r\n").
func rawSDP(host string, port int, pt uint8, name string, clockRate int, dir string) []byte {
	lines := []string{
		"v=0",
		"o=- 1 1 IN IP4 " + host,
		"s=-",
		"c=IN IP4 " + host,
		"t=0 0",
		fmt.Sprintf("m=audio %d RTP/AVP %d", port, pt),
		fmt.Sprintf("a=rtpmap:%d %s/%d", pt, name, clockRate),
	}
	if dir != "" {
		lines = append(lines, "a="+dir)
	}
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

var pcmu = []sdpneg.Codec{{PayloadType: 0, Name: "PCMU", ClockRate: 8000}}

func TestDialSendsOfferAndTransitionsToNegotiating(t *testing.T) {
	coord, _, tr := newCoordinatorHarness(t, pcmu)

	from := sip.Uri{User: "alice", Host: "example.com"}
	to := sip.Uri{User: "bob", Host: "example.com"}
	localAddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 6000}

	sess, err := coord.Dial(context.Background(), from, to, fakeAddr{"127.0.0.1:5060"}, localAddr)
	require.NoError(t, err)
	assert.True(t, sess.IsUAC())
	assert.Equal(t, Negotiating, sess.State())

	require.Equal(t, 1, tr.count())
	assert.Contains(t, string(tr.last()), "INVITE")
	assert.Contains(t, string(tr.last()), "PCMU")
}

// bringUACSessionActive drives a Dial() through a 200 OK to Active, the
// way a real peer accepting the call would.
func bringUACSessionActive(t *testing.T, coord *Coordinator, txm *transaction.Manager) *Session {
	t.Helper()
	from := sip.Uri{User: "alice", Host: "example.com"}
	to := sip.Uri{User: "bob", Host: "example.com"}
	localAddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 6000}

	sess, err := coord.Dial(context.Background(), from, to, fakeAddr{"127.0.0.1:5060"}, localAddr)
	require.NoError(t, err)

	tx, ok := txm.Lookup(sess.inviteKey)
	require.True(t, ok)

	resp := sipmsg.BuildResponse(tx.Request(), 200, "OK")
	if h, ok := resp.Raw().GetHeader("To").(*sip.ToHeader); ok {
		h.Params.Add("tag", "bobTag")
	}
	resp.Raw().AppendHeader(&sip.ContactHeader{Address: sip.Uri{User: "bob", Host: "198.51.100.9", Port: 5060}})
	resp.Raw().SetBody(rawSDP("198.51.100.9", 40000, 0, "PCMU", 8000, ""))
	tx.HandleResponse(context.Background(), resp)

	drainEvent(t, coord.Events(), time.Second)
	drainEvent(t, coord.Events(), time.Second)
	return sess
}

func TestUACCallAnsweredBindsMediaAndSendsAck(t *testing.T) {
	coord, txm, tr := newCoordinatorHarness(t, pcmu)
	sess := bringUACSessionActive(t, coord, txm)

	assert.Equal(t, Active, sess.State())
	assert.NotNil(t, sess.RTP())

	// the end-to-end ACK has no transaction of its own; it must still
	// reach the wire (RFC 3261 §13.2.2.4).
	assert.Contains(t, string(tr.last()), "ACK")
}

func TestIncomingInviteNoCommonCodecRejectedWith488(t *testing.T) {
	coord, txm, tr := newCoordinatorHarness(t, pcmu)

	req := buildInboundInvite(transaction.NewBranch(), "call-no-codec", "bobTag")
	req.Raw().SetBody(rawSDP("198.51.100.9", 40000, 8, "PCMA", 8000, ""))

	_, err := txm.CreateServer(context.Background(), req, fakeAddr{"198.51.100.9:5060"})
	require.NoError(t, err)

	ev := drainEvent(t, coord.Events(), time.Second)
	assert.Equal(t, CallEnded, ev.Kind)
	assert.Contains(t, string(tr.last()), "488")
}

func TestIncomingInviteAnsweredBindsMediaOnAck(t *testing.T) {
	coord, txm, _ := newCoordinatorHarness(t, pcmu)

	req := buildInboundInvite(transaction.NewBranch(), "call-answer", "bobTag")
	req.Raw().SetBody(rawSDP("198.51.100.9", 40000, 0, "PCMU", 8000, ""))

	tx, err := txm.CreateServer(context.Background(), req, fakeAddr{"198.51.100.9:5060"})
	require.NoError(t, err)

	ev := drainEvent(t, coord.Events(), time.Second)
	require.Equal(t, IncomingCall, ev.Kind)

	require.NoError(t, coord.Answer(context.Background(), ev.SessionID))

	ack := sipmsg.WrapRequest(sip.NewRequest(sip.ACK, *req.Raw().Recipient.Clone()))
	sip.CopyHeaders("From", req.Raw(), ack.Raw())
	sip.CopyHeaders("To", tx.LastResponse().Raw(), ack.Raw())
	sip.CopyHeaders("Call-ID", req.Raw(), ack.Raw())
	tx.HandleRequest(context.Background(), ack)

	ev2 := drainEvent(t, coord.Events(), time.Second)
	assert.Equal(t, MediaEstablished, ev2.Kind)

	sess, ok := coord.Session(ev.SessionID)
	require.True(t, ok)
	assert.Equal(t, Active, sess.State())
	assert.NotNil(t, sess.RTP())
}

func TestHoldResumeChangesDirection(t *testing.T) {
	coord, txm, tr := newCoordinatorHarness(t, pcmu)
	sess := bringUACSessionActive(t, coord, txm)

	peer := fakeAddr{"198.51.100.9:5060"}

	require.NoError(t, coord.Hold(context.Background(), sess.id, peer))
	assert.Equal(t, OnHold, sess.State())
	assert.Contains(t, string(tr.last()), "sendonly")

	// Only one offer/answer exchange may be in flight, so the peer answers
	// the hold re-INVITE before Resume re-offers.
	msg, err := sip.ParseMessage(tr.last())
	require.NoError(t, err)
	holdReq, ok := msg.(*sip.Request)
	require.True(t, ok)
	branch, _, _, _ := sipmsg.WrapRequest(holdReq).Via()
	holdTx, ok := txm.Lookup(transaction.Key{Branch: branch, Method: "INVITE"})
	require.True(t, ok)
	holdResp := sipmsg.BuildResponse(holdTx.Request(), 200, "OK")
	holdResp.Raw().AppendHeader(&sip.ContactHeader{Address: sip.Uri{User: "bob", Host: "198.51.100.9", Port: 5060}})
	holdResp.Raw().SetBody(rawSDP("198.51.100.9", 40000, 0, "PCMU", 8000, "recvonly"))
	holdTx.HandleResponse(context.Background(), holdResp)

	require.NoError(t, coord.Resume(context.Background(), sess.id, peer))
	assert.Equal(t, Active, sess.State())
	assert.Contains(t, string(tr.last()), "sendrecv")
}

func TestSendDTMFFailsWithoutBoundMedia(t *testing.T) {
	coord, _, _ := newCoordinatorHarness(t, pcmu)

	from := sip.Uri{User: "alice", Host: "example.com"}
	to := sip.Uri{User: "bob", Host: "example.com"}
	localAddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 6000}
	sess, err := coord.Dial(context.Background(), from, to, fakeAddr{"127.0.0.1:5060"}, localAddr)
	require.NoError(t, err)

	err = coord.SendDTMF(context.Background(), sess.id, 1, 10, 160)
	assert.Error(t, err)
}
