package session

import (
	"context"
	"sync"

	"github.com/arzzra/rtccore/pkg/dialog"
	"github.com/arzzra/rtccore/pkg/rtcpengine"
	"github.com/arzzra/rtccore/pkg/rtpsession"
	"github.com/arzzra/rtccore/pkg/sdpneg"
	"github.com/arzzra/rtccore/pkg/srtp"
	"github.com/arzzra/rtccore/pkg/transaction"
	"github.com/arzzra/rtccore/pkg/transport"
	"github.com/looplab/fsm"
	"github.com/pion/sdp/v3"
	"github.com/rs/zerolog"
)

// Session is one media session bound to a SIP dialog. It owns the
// offer/answer negotiator, the RTP/RTCP plumbing once media is bound, and
// its own lifecycle fsm; Coordinator is the only thing that touches it
// from the outside.
type Session struct {
	id    string
	isUAC bool

	mu        sync.Mutex
	fsm       *fsm.FSM
	dlg       *dialog.Dialog
	inviteKey transaction.Key

	neg *sdpneg.Negotiator
	// pendingAnswer holds the SDP answer computed for a UAS session as soon
	// as the offer arrives; Answer() just sends it, since a second
	// sdpneg.Negotiator.ReceiveOffer call would start a renegotiation.
	pendingAnswer *sdp.SessionDescription

	rtpTransport  transport.Transport
	rtcpTransport transport.Transport
	rtp           *rtpsession.Session
	rtcpEngine    *rtcpengine.Engine

	// allocRTP/allocRTCP are bound before the offer or answer is built, so
	// the SDP's advertised address is the socket media actually arrives on.
	// bindMedia's transports are these same two, never a second pair.
	allocRTP, allocRTCP transport.Transport

	log zerolog.Logger
}

func newSession(id string, isUAC bool, inviteKey transaction.Key, neg *sdpneg.Negotiator, logger zerolog.Logger) *Session {
	return &Session{
		id:        id,
		isUAC:     isUAC,
		inviteKey: inviteKey,
		fsm:       newFSM(Initializing),
		neg:       neg,
		log:       logger.With().Str("component", "session").Str("session_id", id).Logger(),
	}
}

// ID returns this session's identifier.
func (s *Session) ID() string { return s.id }

// IsUAC reports whether this node originated the call.
func (s *Session) IsUAC() bool { return s.isUAC }

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stateFromString(s.fsm.Current())
}

// Dialog returns the SIP dialog this session is bound to, once known.
func (s *Session) Dialog() *dialog.Dialog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dlg
}

// DialogID returns the bound dialog's id, or the zero ID before one is set.
func (s *Session) DialogID() dialog.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dlg == nil {
		return dialog.ID{}
	}
	return s.dlg.ID()
}

func (s *Session) setDialog(d *dialog.Dialog) {
	s.mu.Lock()
	s.dlg = d
	s.mu.Unlock()
}

// setAllocatedMedia records the RTP/RTCP transports the Coordinator opened
// for this session before negotiation, so bindMedia can reuse the exact
// socket pair the offer or answer already advertised.
func (s *Session) setAllocatedMedia(rtp, rtcp transport.Transport) {
	s.mu.Lock()
	s.allocRTP, s.allocRTCP = rtp, rtcp
	s.mu.Unlock()
}

func (s *Session) allocatedMedia() (rtp, rtcp transport.Transport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allocRTP, s.allocRTCP
}

// NegotiatedMedia returns the settled media parameters, valid once the
// session has reached Active or OnHold.
func (s *Session) NegotiatedMedia() sdpneg.NegotiatedMedia {
	return s.neg.Negotiated()
}

// RTP returns the bound RTP session, or nil before media is established.
func (s *Session) RTP() *rtpsession.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rtp
}

func (s *Session) transition(event string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fsm.Event(context.Background(), event)
}

// bindMedia wires an already-constructed RTP session and RTCP engine into
// this Session once the SDP answer is settled and media can flow. The
// Coordinator builds rtp/rtcpEngine/the two transports, since
// their construction needs the negotiated codec and SSRC that only it
// tracks across the session's lifetime.
func (s *Session) bindMedia(rtp *rtpsession.Session, rtcpEngine *rtcpengine.Engine, rtpTransport, rtcpTransport transport.Transport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fsm.Event(context.Background(), evBindMedia); err != nil {
		return err
	}
	s.rtp = rtp
	s.rtcpEngine = rtcpEngine
	s.rtpTransport = rtpTransport
	s.rtcpTransport = rtcpTransport
	return nil
}

// secureRTP attaches an SRTP transform to the bound RTP session, once
// DTLS-SRTP keying hands its result to the Session Coordinator.
func (s *Session) secureRTP(ctx *srtp.Context) {
	s.mu.Lock()
	rtp := s.rtp
	s.mu.Unlock()
	if rtp != nil {
		rtp.SetSecurity(ctx)
	}
}

func (s *Session) closeMedia() {
	s.mu.Lock()
	rtpT, rtcpT := s.rtpTransport, s.rtcpTransport
	if rtpT == nil {
		rtpT = s.allocRTP
	}
	if rtcpT == nil {
		rtcpT = s.allocRTCP
	}
	rtcpE := s.rtcpEngine
	rtp := s.rtp
	s.mu.Unlock()
	if rtcpE != nil {
		rtcpE.Stop()
	}
	if rtp != nil {
		_ = rtp.Close()
	}
	if rtpT != nil {
		_ = rtpT.Close()
	}
	if rtcpT != nil {
		_ = rtcpT.Close()
	}
}
