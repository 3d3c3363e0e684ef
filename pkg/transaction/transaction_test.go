package transaction

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/arzzra/rtccore/internal/clock"
	"github.com/arzzra/rtccore/internal/config"
	"github.com/arzzra/rtccore/internal/metrics"
	"github.com/arzzra/rtccore/pkg/sipmsg"
	"github.com/emiago/sipgo/sip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAddr struct{ s string }

func (a fakeAddr) Network() string { return "udp" }
func (a fakeAddr) String() string  { return a.s }

type recordingTransport struct {
	reliable bool

	mu   sync.Mutex
	sent [][]byte
}

func (r *recordingTransport) Send(ctx context.Context, data []byte, peer net.Addr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, data)
	return nil
}

func (r *recordingTransport) Reliable() bool { return r.reliable }

func (r *recordingTransport) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func testRequest(method sip.RequestMethod, branch string) *sipmsg.Request {
	ruri := sip.Uri{User: "bob", Host: "example.com"}
	req := sipmsg.BuildRequest(string(method), ruri)
	raw := req.Raw()
	via := &sip.ViaHeader{
		ProtocolName:    "SIP",
		ProtocolVersion: "2.0",
		Transport:       "UDP",
		Host:            "127.0.0.1",
		Port:            5060,
		Params:          sip.NewParams(),
	}
	via.Params.Add("branch", branch)
	raw.AppendHeader(via)

	from := &sip.FromHeader{Address: sip.Uri{User: "alice", Host: "example.com"}, Params: sip.NewParams()}
	from.Params.Add("tag", "aliceTag")
	raw.AppendHeader(from)

	to := &sip.ToHeader{Address: sip.Uri{User: "bob", Host: "example.com"}, Params: sip.NewParams()}
	raw.AppendHeader(to)

	callID := sip.CallID("test-call-id-1")
	raw.AppendHeader(&callID)
	raw.AppendHeader(&sip.CSeq{SeqNo: 1, MethodName: method})
	return req
}

func testInvite(branch string) *sipmsg.Request { return testRequest(sip.INVITE, branch) }

func newTestManager(reliable bool) (*Manager, *recordingTransport) {
	transport := &recordingTransport{reliable: reliable}
	sched := clock.NewScheduler(clock.System{})
	cfg := config.New(config.WithTimers(10*time.Millisecond, 40*time.Millisecond, 10*time.Millisecond))
	mgr := NewManager(transport, cfg.Transaction, sched, metrics.Noop(), zerolog.Nop())
	return mgr, transport
}

func TestClientInviteRetransmitsUntilProvisional(t *testing.T) {
	mgr, transport := newTestManager(false)
	req := testInvite(NewBranch())

	tx, err := mgr.CreateClientInvite(context.Background(), req, fakeAddr{"127.0.0.1:5060"})
	require.NoError(t, err)
	require.Equal(t, Calling, tx.State())

	time.Sleep(80 * time.Millisecond)
	assert.GreaterOrEqual(t, transport.count(), 2, "Timer A should have fired at least once")

	resp := sipmsg.BuildResponse(req, 180, "Ringing")
	tx.HandleResponse(context.Background(), resp)
	assert.Equal(t, Proceeding, tx.State())

	sentAfterProvisional := transport.count()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, sentAfterProvisional, transport.count(), "retransmission must stop once a response arrives")
}

func TestClientInviteNon2xxSendsAckAndCompletes(t *testing.T) {
	var gotEvents []EventKind
	var mu sync.Mutex

	mgr, transport := newTestManager(false)
	mgr.OnEvent(func(e Event) {
		mu.Lock()
		gotEvents = append(gotEvents, e.Kind)
		mu.Unlock()
	})

	req := testInvite(NewBranch())
	tx, err := mgr.CreateClientInvite(context.Background(), req, fakeAddr{"127.0.0.1:5060"})
	require.NoError(t, err)

	resp := sipmsg.BuildResponse(req, 486, "Busy Here")
	tx.HandleResponse(context.Background(), resp)
	assert.Equal(t, Completed, tx.State())

	// second send is the ACK, on top of the original INVITE.
	require.GreaterOrEqual(t, transport.count(), 2)

	// Timer D holds Completed for at least 32s (RFC 3261 §17.1.1.2); it is
	// not exercised here, only that the ACK fired and the event landed.
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, gotEvents, EventFinalNon2xx)
}

func TestClientInvite2xxTerminatesImmediately(t *testing.T) {
	mgr, _ := newTestManager(false)
	req := testInvite(NewBranch())
	tx, err := mgr.CreateClientInvite(context.Background(), req, fakeAddr{"127.0.0.1:5060"})
	require.NoError(t, err)

	resp := sipmsg.BuildResponse(req, 200, "OK")
	tx.HandleResponse(context.Background(), resp)
	assert.Equal(t, Terminated, tx.State())
	assert.Equal(t, 0, mgr.Active())
}

func TestClientInviteTimesOutWithoutAnyResponse(t *testing.T) {
	mgr, _ := newTestManager(false)
	req := testInvite(NewBranch())
	tx, err := mgr.CreateClientInvite(context.Background(), req, fakeAddr{"127.0.0.1:5060"})
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if tx.State() == Terminated {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, Terminated, tx.State())
}

func TestServerInviteAckMovesToConfirmed(t *testing.T) {
	mgr, transport := newTestManager(false)
	req := testInvite(NewBranch())

	tx, err := mgr.CreateServer(context.Background(), req, fakeAddr{"127.0.0.1:5060"})
	require.NoError(t, err)
	assert.Equal(t, Proceeding, tx.State())

	resp := sipmsg.BuildResponse(req, 486, "Busy Here")
	require.NoError(t, tx.SendResponse(context.Background(), resp))
	assert.Equal(t, Completed, tx.State())
	assert.Equal(t, 1, transport.count())

	ackRaw := sip.NewRequest(sip.ACK, *req.Raw().Recipient.Clone())
	ack := sipmsg.WrapRequest(ackRaw)
	tx.HandleRequest(context.Background(), ack)
	assert.Equal(t, Confirmed, tx.State())
}

func TestCancelMatchesInviteAndSends487(t *testing.T) {
	var gotEvents []EventKind
	var mu sync.Mutex

	mgr, transport := newTestManager(false)
	mgr.OnEvent(func(e Event) {
		mu.Lock()
		gotEvents = append(gotEvents, e.Kind)
		mu.Unlock()
		// Sending the 487 itself is the dialog layer's job (it also tears
		// down the dialog); here we only verify the transaction layer
		// delivers EventCancel to the INVITE transaction's handler.
		if e.Kind == EventCancel {
			_ = e.Handle.SendResponse(context.Background(), sipmsg.BuildResponse(e.Handle.Request(), 487, "Request Terminated"))
		}
	})

	branch := NewBranch()
	invite := testInvite(branch)
	inviteTx, err := mgr.CreateServer(context.Background(), invite, fakeAddr{"127.0.0.1:5060"})
	require.NoError(t, err)
	assert.Equal(t, Proceeding, inviteTx.State())

	cancel := testRequest(sip.CANCEL, branch)
	cancelTx, err := mgr.CreateServer(context.Background(), cancel, fakeAddr{"127.0.0.1:5060"})
	require.NoError(t, err)

	assert.Equal(t, Completed, inviteTx.State(), "CANCEL must push the INVITE into sending its final response")
	assert.Equal(t, Completed, cancelTx.State(), "the CANCEL's own transaction answers 200 immediately")
	assert.GreaterOrEqual(t, transport.count(), 2, "both the 487 and the CANCEL's 200 go out")

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, gotEvents, EventCancel)
}

func TestCancelWithNoMatchingInviteGets481(t *testing.T) {
	mgr, transport := newTestManager(false)
	cancel := testRequest(sip.CANCEL, NewBranch())

	cancelTx, err := mgr.CreateServer(context.Background(), cancel, fakeAddr{"127.0.0.1:5060"})
	require.NoError(t, err)
	assert.Equal(t, Completed, cancelTx.State())
	require.Equal(t, 1, transport.count())
}

func TestServerNonInviteAbsorbsRetransmission(t *testing.T) {
	mgr, transport := newTestManager(false)
	req := testRequest(sip.REGISTER, NewBranch())

	tx, err := mgr.CreateServer(context.Background(), req, fakeAddr{"127.0.0.1:5060"})
	require.NoError(t, err)

	resp := sipmsg.BuildResponse(req, 200, "OK")
	require.NoError(t, tx.SendResponse(context.Background(), resp))
	require.Equal(t, 1, transport.count())

	// a retransmitted request must re-send the stored response, not re-fire
	// the application's request handler.
	tx.HandleRequest(context.Background(), req)
	assert.Equal(t, 2, transport.count())
}
