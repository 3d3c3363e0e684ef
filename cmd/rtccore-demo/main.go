// rtccore-demo places one call between two local nodes over real loopback
// UDP sockets: alice dials bob, bob auto-answers, both sides send a short
// burst of RTP, alice puts the call on hold and resumes it, sends a
// DTMF digit, then hangs up. It exists to exercise the wiring end to end,
// not as a library entry point.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/arzzra/rtccore/internal/clock"
	"github.com/arzzra/rtccore/internal/config"
	rtclog "github.com/arzzra/rtccore/internal/log"
	"github.com/arzzra/rtccore/internal/metrics"
	"github.com/arzzra/rtccore/pkg/dialog"
	"github.com/arzzra/rtccore/pkg/sdpneg"
	"github.com/arzzra/rtccore/pkg/session"
	"github.com/arzzra/rtccore/pkg/sipmsg"
	"github.com/arzzra/rtccore/pkg/transaction"
	"github.com/arzzra/rtccore/pkg/transport"
	"github.com/emiago/sipgo/sip"
	"github.com/prometheus/client_golang/prometheus"
)

// node bundles one local UA's full stack: its own SIP socket, transaction
// and dialog managers, and a Session Coordinator.
type node struct {
	name  string
	uri   sip.Uri
	sig   *transport.UDP
	txm   *transaction.Manager
	dm    *dialog.Manager
	coord *session.Coordinator
}

func newNode(name string, sigPort int, codecs []sdpneg.Codec) *node {
	logger := rtclog.Component("demo." + name)

	sig, err := transport.ListenUDP(fmt.Sprintf("127.0.0.1:%d", sigPort), 0, logger)
	if err != nil {
		log.Fatalf("%s: listen sip: %v", name, err)
	}

	reg := prometheus.NewRegistry()
	mx := metrics.New(reg)
	sched := clock.NewScheduler(clock.System{})
	cfg := config.Default()

	txm := transaction.NewManager(sig, cfg.Transaction, sched, mx, logger)

	contact := sip.Uri{User: name, Host: "127.0.0.1", Port: sigPort}
	dm := dialog.NewManager(txm, contact, "127.0.0.1", sigPort, mx, logger)

	coord := session.NewCoordinator(session.Deps{
		Dialogs:     dm,
		Transactions: txm,
		Config:      cfg,
		Codecs:      codecs,
		DTMFPayload: 101,
		Metrics:     mx,
		Logger:      logger,
	})

	n := &node{name: name, uri: contact, sig: sig, txm: txm, dm: dm, coord: coord}

	sig.OnMessage(func(data []byte, peer net.Addr, _ bool) {
		msg, err := sip.ParseMessage(data)
		if err != nil {
			logger.Warn().Err(err).Msg("dropping unparseable SIP datagram")
			return
		}
		var wrapped sipmsg.Message
		switch m := msg.(type) {
		case *sip.Request:
			wrapped = sipmsg.WrapRequest(m)
		case *sip.Response:
			wrapped = sipmsg.WrapResponse(m)
		default:
			return
		}
		if err := txm.HandleInbound(context.Background(), wrapped, peer); err != nil {
			logger.Warn().Err(err).Msg("failed to route inbound SIP message")
		}
	})

	return n
}

func main() {
	codecs := []sdpneg.Codec{
		{PayloadType: 0, Name: "PCMU", ClockRate: 8000},
		{PayloadType: 8, Name: "PCMA", ClockRate: 8000},
	}

	bob := newNode("bob", 15161, codecs)
	alice := newNode("alice", 15160, codecs)
	defer bob.sig.Close()
	defer alice.sig.Close()

	// bob auto-answers every incoming call.
	go func() {
		for ev := range bob.coord.Events() {
			switch ev.Kind {
			case session.IncomingCall:
				fmt.Printf("bob: incoming call, session %s -- answering\n", ev.SessionID)
				if err := bob.coord.Answer(context.Background(), ev.SessionID); err != nil {
					fmt.Printf("bob: answer failed: %v\n", err)
				}
			case session.MediaEstablished:
				fmt.Printf("bob: media established for session %s\n", ev.SessionID)
				go pumpRTP(bob, ev.SessionID)
			case session.DtmfReceived:
				fmt.Printf("bob: received DTMF digit %d\n", ev.DTMF.Digit)
			case session.CallEnded:
				fmt.Printf("bob: call ended, session %s: %s\n", ev.SessionID, ev.Reason)
			}
		}
	}()

	aliceEvents := make(chan session.AppEvent, 16)
	go func() {
		for ev := range alice.coord.Events() {
			aliceEvents <- ev
			switch ev.Kind {
			case session.CallAnswered:
				fmt.Printf("alice: call answered, session %s\n", ev.SessionID)
			case session.MediaEstablished:
				fmt.Printf("alice: media established for session %s\n", ev.SessionID)
				go pumpRTP(alice, ev.SessionID)
			case session.CallEnded:
				fmt.Printf("alice: call ended, session %s: %s\n", ev.SessionID, ev.Reason)
			}
		}
	}()

	bobPeer := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 15161}

	from := sip.Uri{User: "alice", Host: "127.0.0.1", Port: 15160}
	to := sip.Uri{User: "bob", Host: "127.0.0.1", Port: 15161}

	sess, err := alice.coord.Dial(context.Background(), from, to, bobPeer, nil)
	if err != nil {
		log.Fatalf("alice: dial failed: %v", err)
	}
	fmt.Printf("alice: dialing, session %s\n", sess.ID())

	waitFor(aliceEvents, session.MediaEstablished, 3*time.Second)

	time.Sleep(500 * time.Millisecond)

	fmt.Println("alice: placing call on hold")
	if err := alice.coord.Hold(context.Background(), sess.ID(), bobPeer); err != nil {
		fmt.Printf("alice: hold failed: %v\n", err)
	}
	time.Sleep(300 * time.Millisecond)

	fmt.Println("alice: resuming call")
	if err := alice.coord.Resume(context.Background(), sess.ID(), bobPeer); err != nil {
		fmt.Printf("alice: resume failed: %v\n", err)
	}
	time.Sleep(300 * time.Millisecond)

	fmt.Println("alice: sending DTMF digit 5")
	if err := alice.coord.SendDTMF(context.Background(), sess.ID(), 5, 10, 160); err != nil {
		fmt.Printf("alice: dtmf failed: %v\n", err)
	}
	time.Sleep(300 * time.Millisecond)

	fmt.Println("alice: hanging up")
	if err := alice.coord.Hangup(context.Background(), sess.ID(), bobPeer); err != nil {
		fmt.Printf("alice: hangup failed: %v\n", err)
	}

	time.Sleep(500 * time.Millisecond)
	fmt.Println("done")
}

// pumpRTP sends a few silence-equivalent PCMU frames on a freshly bound
// session, just to put traffic on the wire for the RTCP engine to report on.
func pumpRTP(n *node, sessionID string) {
	sess, ok := n.coord.Session(sessionID)
	if !ok {
		return
	}
	rtp := sess.RTP()
	if rtp == nil {
		return
	}
	payload := make([]byte, 160) // 20ms of 8kHz mu-law silence
	for i := 0; i < 10; i++ {
		if err := rtp.SendPayload(context.Background(), payload, 160, i == 0); err != nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func waitFor(ch <-chan session.AppEvent, kind session.AppEventKind, timeout time.Duration) {
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return
			}
		case <-deadline:
			return
		}
	}
}
