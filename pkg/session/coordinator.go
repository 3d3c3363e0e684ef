// Package session implements the Session Coordinator: it turns dialog and
// offer/answer events into media sessions, owns their RTP/RTCP plumbing,
// and surfaces a bounded application event stream.
package session

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/arzzra/rtccore/internal/config"
	"github.com/arzzra/rtccore/internal/metrics"
	"github.com/arzzra/rtccore/internal/rtcerr"
	"github.com/arzzra/rtccore/pkg/dialog"
	"github.com/arzzra/rtccore/pkg/rtcpengine"
	"github.com/arzzra/rtccore/pkg/rtpsession"
	"github.com/arzzra/rtccore/pkg/sdpneg"
	"github.com/arzzra/rtccore/pkg/sipmsg"
	"github.com/arzzra/rtccore/pkg/srtp"
	"github.com/arzzra/rtccore/pkg/transaction"
	"github.com/arzzra/rtccore/pkg/transport"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/pion/sdp/v3"
	"github.com/rs/zerolog"
)

// MediaTransportFactory opens the pair of UDP sockets backing one
// session's media plane: one for RTP, one for RTCP. The default
// (newDefaultMediaFactory) binds RTCP on the RTP port + 1 per RFC 3605,
// since sdpneg never advertises an explicit a=rtcp attribute.
type MediaTransportFactory func() (rtp transport.Transport, rtcp transport.Transport, err error)

// Deps wires a Coordinator to the rest of the core.
type Deps struct {
	Dialogs      *dialog.Manager
	Transactions *transaction.Manager
	Config       config.Config
	Codecs       []sdpneg.Codec // preference order, index 0 = most preferred
	DTMFPayload  uint8          // 0 disables RFC 4733 relay

	// MediaFactory builds the media transports for a new session. Nil
	// selects newDefaultMediaFactory, which binds real UDP sockets.
	MediaFactory MediaTransportFactory

	Metrics *metrics.Collectors
	Logger  zerolog.Logger

	// EventQueueSize sizes the application event Bus (0 defaults to 64).
	EventQueueSize int
}

// Coordinator is the top-level entry point applications use to place and
// receive calls. It consumes dialog.Event
// from the Dialog Manager, drives one sdpneg.Negotiator and Session per
// call, and publishes AppEvent on its Bus.
type Coordinator struct {
	dialogs      *dialog.Manager
	txm          *transaction.Manager
	cfg          config.Config
	codecs       []sdpneg.Codec
	dtmfPayload  uint8
	mediaFactory MediaTransportFactory
	mx           *metrics.Collectors
	log          zerolog.Logger
	bus          *Bus

	mu          sync.Mutex
	byID        map[string]*Session
	byDialogID  map[dialog.ID]string
	byInviteKey map[transaction.Key]string
}

// NewCoordinator builds a Coordinator and registers it with deps.Dialogs.
func NewCoordinator(deps Deps) *Coordinator {
	mx := deps.Metrics
	if mx == nil {
		mx = metrics.Noop()
	}
	factory := deps.MediaFactory
	if factory == nil {
		factory = newDefaultMediaFactory(deps.Logger)
	}
	c := &Coordinator{
		dialogs:      deps.Dialogs,
		txm:          deps.Transactions,
		cfg:          deps.Config,
		codecs:       deps.Codecs,
		dtmfPayload:  deps.DTMFPayload,
		mediaFactory: factory,
		mx:           mx,
		log:          deps.Logger.With().Str("component", "session.coordinator").Logger(),
		bus:          NewBus(deps.EventQueueSize, deps.Logger),
		byID:         make(map[string]*Session),
		byDialogID:   make(map[dialog.ID]string),
		byInviteKey:  make(map[transaction.Key]string),
	}
	c.dialogs.OnEvent(c.onDialogEvent)
	return c
}

// Events returns the channel applications read AppEvent from.
func (c *Coordinator) Events() <-chan AppEvent { return c.bus.Events() }

func newDefaultMediaFactory(logger zerolog.Logger) MediaTransportFactory {
	return func() (transport.Transport, transport.Transport, error) {
		rtpT, err := transport.ListenUDP("0.0.0.0:0", 0, logger)
		if err != nil {
			return nil, nil, rtcerr.Wrap(rtcerr.KindTransportFailure, "session.mediaFactory", err, nil)
		}
		rtpAddr, ok := rtpT.LocalAddr().(*net.UDPAddr)
		if !ok {
			_ = rtpT.Close()
			return nil, nil, rtcerr.New(rtcerr.KindTransportFailure, "session.mediaFactory", map[string]any{"reason": "RTP transport has no UDP local address"})
		}
		rtcpT, err := transport.ListenUDP(fmt.Sprintf("0.0.0.0:%d", rtpAddr.Port+1), 0, logger)
		if err != nil {
			_ = rtpT.Close()
			return nil, nil, rtcerr.Wrap(rtcerr.KindTransportFailure, "session.mediaFactory", err, nil)
		}
		return rtpT, rtcpT, nil
	}
}

// allocateMedia opens this call's RTP/RTCP sockets and derives the address
// to advertise in the SDP: the allocated port, with the host overridden by
// hint's IP when one is given (e.g. a public address behind NAT). This
// must run before the offer or answer is built, since both need the exact
// address media will actually arrive on; bindMediaForSession later reuses
// the same two transports rather than opening a second pair.
func (c *Coordinator) allocateMedia(hint *net.UDPAddr) (rtpT, rtcpT transport.Transport, advertised *net.UDPAddr, err error) {
	rtpT, rtcpT, err = c.mediaFactory()
	if err != nil {
		return nil, nil, nil, err
	}
	addr, ok := rtpT.LocalAddr().(*net.UDPAddr)
	if !ok {
		_ = rtpT.Close()
		_ = rtcpT.Close()
		return nil, nil, nil, rtcerr.New(rtcerr.KindTransportFailure, "session.allocateMedia", map[string]any{"reason": "RTP transport has no UDP local address"})
	}
	host := addr.IP
	if hint != nil && hint.IP != nil {
		host = hint.IP
	}
	return rtpT, rtcpT, &net.UDPAddr{IP: host, Port: addr.Port}, nil
}

func randomSSRC() uint32 {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return binary.BigEndian.Uint32(b[:])
}

func (c *Coordinator) track(sess *Session) {
	c.mu.Lock()
	c.byID[sess.id] = sess
	c.byInviteKey[sess.inviteKey] = sess.id
	c.mu.Unlock()
	c.mx.SessionsActive.Inc()
	c.mx.SessionsTotal.Inc()
}

func (c *Coordinator) bindDialog(sess *Session, d *dialog.Dialog) {
	sess.setDialog(d)
	c.mu.Lock()
	c.byDialogID[d.ID()] = sess.id
	c.mu.Unlock()
}

func (c *Coordinator) untrack(sess *Session) {
	c.mu.Lock()
	delete(c.byID, sess.id)
	delete(c.byInviteKey, sess.inviteKey)
	if d := sess.Dialog(); d != nil {
		delete(c.byDialogID, d.ID())
	}
	c.mu.Unlock()
	c.mx.SessionsActive.Dec()
}

func (c *Coordinator) byDialog(d *dialog.Dialog) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.byDialogID[d.ID()]
	if !ok {
		return nil, false
	}
	sess, ok := c.byID[id]
	return sess, ok
}

func (c *Coordinator) byInvite(key transaction.Key) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.byInviteKey[key]
	if !ok {
		return nil, false
	}
	sess, ok := c.byID[id]
	return sess, ok
}

// Session returns the session by id, if it is still tracked.
func (c *Coordinator) Session(id string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.byID[id]
	return s, ok
}

func (c *Coordinator) onDialogEvent(e dialog.Event) {
	switch e.Kind {
	case dialog.EventIncomingInvite:
		c.onIncomingInvite(e)
	case dialog.EventEarly:
		// nothing to do yet: the offer/answer exchange only advances once
		// the INVITE transaction resolves to a final response.
	case dialog.EventConfirmed:
		c.onConfirmed(e)
	case dialog.EventInDialogRequest:
		c.onInDialogRequest(e)
	case dialog.EventTerminated:
		c.onTerminated(e)
	case dialog.EventForkLost:
		c.onForkLost(e)
	case dialog.EventProtocolViolation:
		c.log.Warn().Str("reason", e.Reason).Msg("protocol violation on in-dialog request")
	}
}

// Dial places an outgoing call: it builds a
// fresh offer, sends the INVITE, and returns the new session immediately
// in Negotiating state. CallAnswered/CallEnded arrive later on the Bus.
func (c *Coordinator) Dial(ctx context.Context, from, to sip.Uri, peer net.Addr, localAddr *net.UDPAddr) (*Session, error) {
	sessionID := uuid.NewString()

	rtpT, rtcpT, advertised, err := c.allocateMedia(localAddr)
	if err != nil {
		return nil, err
	}

	neg := sdpneg.New(sdpneg.Preferences{
		SessionID:   sessionID,
		LocalAddr:   advertised,
		Codecs:      c.codecs,
		Direction:   sdpneg.SendRecv,
		DTMF:        c.dtmfPayload != 0,
		DTMFPayload: c.dtmfPayload,
	})
	offer, err := neg.MakeOffer()
	if err != nil {
		_ = rtpT.Close()
		_ = rtcpT.Close()
		return nil, err
	}
	body, err := offer.Marshal()
	if err != nil {
		_ = rtpT.Close()
		_ = rtcpT.Close()
		return nil, rtcerr.Wrap(rtcerr.KindParse, "session.Dial", err, nil)
	}

	tx, err := c.dialogs.StartInvite(ctx, to, from, body, peer)
	if err != nil {
		_ = rtpT.Close()
		_ = rtcpT.Close()
		return nil, err
	}

	sess := newSession(sessionID, true, tx.Key(), neg, c.log)
	sess.setAllocatedMedia(rtpT, rtcpT)
	if err := sess.transition(evNegotiate); err != nil {
		return nil, err
	}
	c.track(sess)
	return sess, nil
}

func (c *Coordinator) onIncomingInvite(e dialog.Event) {
	d := e.Dialog
	tx, ok := c.txm.Lookup(d.InviteKey())
	if !ok {
		c.log.Warn().Str("dialog_id", d.ID().String()).Msg("incoming invite has no matching transaction, dropping")
		return
	}

	sessionID := uuid.NewString()

	rtpT, rtcpT, advertised, err := c.allocateMedia(nil)
	if err != nil {
		c.log.Error().Err(err).Msg("failed to allocate media for incoming invite")
		_ = c.dialogs.Reject(context.Background(), tx, 500, "Server Internal Error")
		return
	}

	neg := sdpneg.New(sdpneg.Preferences{
		SessionID:   sessionID,
		LocalAddr:   advertised,
		Codecs:      c.codecs,
		Direction:   sdpneg.SendRecv,
		DTMF:        c.dtmfPayload != 0,
		DTMFPayload: c.dtmfPayload,
	})

	sess := newSession(sessionID, false, d.InviteKey(), neg, c.log)
	sess.setAllocatedMedia(rtpT, rtcpT)
	c.track(sess)
	c.bindDialog(sess, d)
	d.SetSessionID(sessionID)

	if len(e.Request.Body()) == 0 {
		_ = c.dialogs.Reject(context.Background(), tx, 488, "Not Acceptable Here")
		c.terminateSession(sess, "no offer in INVITE")
		return
	}

	offer := &sdp.SessionDescription{}
	if err := offer.Unmarshal(e.Request.Body()); err != nil {
		_ = c.dialogs.Reject(context.Background(), tx, 400, "Bad Request")
		c.terminateSession(sess, "malformed offer")
		return
	}
	answer, err := neg.ReceiveOffer(offer)
	if err != nil {
		code, reason := 488, "Not Acceptable Here"
		if rtcerr.Is(err, rtcerr.KindParse) {
			code, reason = 400, "Bad Request"
		}
		_ = c.dialogs.Reject(context.Background(), tx, code, reason)
		c.terminateSession(sess, "offer/answer failed: "+err.Error())
		return
	}
	if err := sess.transition(evNegotiate); err != nil {
		c.log.Error().Err(err).Msg("session fsm rejected negotiate from Initializing")
	}
	sess.pendingAnswer = answer

	c.bus.publish(AppEvent{Kind: IncomingCall, SessionID: sessionID, DialogID: d.ID().String()})
}

func (c *Coordinator) terminateSession(sess *Session, reason string) {
	if sess == nil {
		return
	}
	sess.closeMedia()
	c.untrack(sess)
	c.bus.publish(AppEvent{Kind: CallEnded, SessionID: sess.id, DialogID: dialogIDString(sess), Reason: reason})
}

func dialogIDString(sess *Session) string {
	if d := sess.Dialog(); d != nil {
		return d.ID().String()
	}
	return ""
}

func (c *Coordinator) onConfirmed(e dialog.Event) {
	d := e.Dialog
	sess, ok := c.byDialog(d)
	if !ok {
		sess, ok = c.byInvite(d.InviteKey())
		if ok {
			c.bindDialog(sess, d)
		}
	}
	if !ok {
		return
	}

	if sess.IsUAC() {
		if e.Response != nil && len(e.Response.Body()) > 0 {
			answer := &sdp.SessionDescription{}
			if err := answer.Unmarshal(e.Response.Body()); err != nil {
				c.terminateSession(sess, "malformed answer")
				return
			}
			if err := sess.neg.ReceiveAnswer(answer); err != nil {
				c.terminateSession(sess, "offer/answer failed: "+err.Error())
				return
			}
		}
		if peer, ok := peerFromRemoteTarget(d); ok {
			_ = c.dialogs.SendAck(context.Background(), d, peer)
		}
		if sess.RTP() != nil {
			// 2xx to a re-INVITE (hold/resume): media is already bound.
			media := sess.NegotiatedMedia()
			c.bus.publish(AppEvent{Kind: MediaEstablished, SessionID: sess.id, DialogID: d.ID().String(), Media: &media})
			return
		}
		if err := c.bindMediaForSession(sess); err != nil {
			c.log.Error().Err(err).Msg("failed to bind media")
			c.terminateSession(sess, "media bind failed")
			return
		}
		media := sess.NegotiatedMedia()
		c.bus.publish(AppEvent{Kind: CallAnswered, SessionID: sess.id, DialogID: d.ID().String(), Media: &media})
		c.bus.publish(AppEvent{Kind: MediaEstablished, SessionID: sess.id, DialogID: d.ID().String(), Media: &media})
		return
	}

	// UAS: this EventConfirmed fires when the caller's ACK arrives.
	if err := c.bindMediaForSession(sess); err != nil {
		c.log.Error().Err(err).Msg("failed to bind media")
		c.terminateSession(sess, "media bind failed")
		return
	}
	media := sess.NegotiatedMedia()
	c.bus.publish(AppEvent{Kind: MediaEstablished, SessionID: sess.id, DialogID: d.ID().String(), Media: &media})
}

func peerFromRemoteTarget(d *dialog.Dialog) (net.Addr, bool) {
	target := d.RemoteTarget()
	if target.Host == "" {
		return nil, false
	}
	port := target.Port
	if port == 0 {
		port = 5060
	}
	addr, err := net.ResolveUDPAddr("udp", sipmsg.FormatAddr(target.Host, port))
	if err != nil {
		return nil, false
	}
	return addr, true
}

// Answer accepts a pending incoming call,
// sending the 200 OK with the already-computed SDP answer.
func (c *Coordinator) Answer(ctx context.Context, sessionID string) error {
	sess, ok := c.Session(sessionID)
	if !ok {
		return rtcerr.New(rtcerr.KindProtocolViolation, "session.Answer", map[string]any{"reason": "unknown session"})
	}
	tx, ok := c.txm.Lookup(sess.inviteKey)
	if !ok {
		return rtcerr.New(rtcerr.KindProtocolViolation, "session.Answer", map[string]any{"reason": "invite transaction gone"})
	}
	if sess.pendingAnswer == nil {
		return rtcerr.New(rtcerr.KindNegotiationFailure, "session.Answer", map[string]any{"reason": "no answer computed"})
	}
	body, err := sess.pendingAnswer.Marshal()
	if err != nil {
		return rtcerr.Wrap(rtcerr.KindParse, "session.Answer", err, nil)
	}
	return c.dialogs.Accept(ctx, tx, body)
}

// Reject declines a pending incoming call with a final non-2xx response.
func (c *Coordinator) Reject(ctx context.Context, sessionID string, code int, reason string) error {
	sess, ok := c.Session(sessionID)
	if !ok {
		return rtcerr.New(rtcerr.KindProtocolViolation, "session.Reject", map[string]any{"reason": "unknown session"})
	}
	tx, ok := c.txm.Lookup(sess.inviteKey)
	if !ok {
		return rtcerr.New(rtcerr.KindProtocolViolation, "session.Reject", map[string]any{"reason": "invite transaction gone"})
	}
	if err := c.dialogs.Reject(ctx, tx, code, reason); err != nil {
		return err
	}
	c.terminateSession(sess, "rejected: "+reason)
	return nil
}

func (c *Coordinator) bindMediaForSession(sess *Session) error {
	rtpT, rtcpT := sess.allocatedMedia()
	if rtpT == nil || rtcpT == nil {
		return rtcerr.New(rtcerr.KindProtocolViolation, "session.bindMediaForSession", map[string]any{"reason": "media was never allocated for this session"})
	}

	media := sess.NegotiatedMedia()
	localSSRC := randomSSRC()

	rtp, err := rtpsession.New(rtpsession.Config{
		LocalSSRC:           localSSRC,
		PayloadType:         media.Codec.PayloadType,
		ClockRate:           media.Codec.ClockRate,
		Transport:           rtpT,
		RemoteAddr:          media.RemoteAddr,
		JitterTargetPackets: c.cfg.RTP.JitterTargetPackets,
		JitterMaxPackets:    c.cfg.RTP.JitterMaxPackets,
		DTMFPayloadType:     c.dtmfPayload,
		Metrics:             c.mx,
		Logger:              c.log,
	})
	if err != nil {
		_ = rtpT.Close()
		_ = rtcpT.Close()
		return err
	}
	rtp.OnDTMF(func(ev rtpsession.DTMFEvent) {
		c.bus.publish(AppEvent{Kind: DtmfReceived, SessionID: sess.id, DialogID: dialogIDString(sess), DTMF: &ev})
	})

	clockRate := media.Codec.ClockRate
	if clockRate == 0 {
		clockRate = 8000
	}
	rtpT.OnMessage(func(data []byte, _ net.Addr, _ bool) {
		_ = rtp.HandleInbound(data, nowInClockUnits(clockRate))
	})

	engine := rtcpengine.New(rtcpengine.Config{
		SessionKey:        sess.id,
		LocalSSRC:         localSSRC,
		CNAME:             sess.id,
		RTPSession:        rtp,
		Transport:         rtcpT,
		RemoteAddr:        rtcpRemoteAddr(media.RemoteAddr),
		ReportInterval:    c.cfg.RTCP.ReportInterval,
		BandwidthFraction: c.cfg.RTCP.BandwidthFraction,
		Quality:           c.cfg.Quality,
		Metrics:           c.mx,
		Logger:            c.log,
	})
	engine.OnQuality(func(q rtcpengine.Quality) {
		c.bus.publish(AppEvent{Kind: MediaQuality, SessionID: sess.id, DialogID: dialogIDString(sess), Quality: &q})
	})
	engine.OnBye(func(ssrc uint32, reason string) {
		c.log.Info().Str("session_id", sess.id).Uint32("ssrc", ssrc).Str("reason", reason).Msg("peer sent RTCP BYE")
	})
	rtcpT.OnMessage(func(data []byte, _ net.Addr, _ bool) {
		_ = engine.HandleIncoming(data)
	})
	engine.Start()

	return sess.bindMedia(rtp, engine, rtpT, rtcpT)
}

// rtcpRemoteAddr derives the peer's RTCP address from its RTP address per
// RFC 3605's default convention (the adjacent odd port), since sdpneg
// never parses an explicit a=rtcp attribute out of the remote SDP.
func rtcpRemoteAddr(rtpAddr *net.UDPAddr) net.Addr {
	if rtpAddr == nil {
		return nil
	}
	return &net.UDPAddr{IP: rtpAddr.IP, Port: rtpAddr.Port + 1, Zone: rtpAddr.Zone}
}

func nowInClockUnits(clockRate uint32) uint32 {
	return uint32(uint64(time.Now().UnixNano()) * uint64(clockRate) / uint64(time.Second))
}

// Hold places an active session on hold by re-offering sendonly.
func (c *Coordinator) Hold(ctx context.Context, sessionID string, peer net.Addr) error {
	return c.reinvite(ctx, sessionID, peer, sdpneg.SendOnly, evHold)
}

// Resume re-offers sendrecv on a held session.
func (c *Coordinator) Resume(ctx context.Context, sessionID string, peer net.Addr) error {
	return c.reinvite(ctx, sessionID, peer, sdpneg.SendRecv, evResume)
}

func (c *Coordinator) reinvite(ctx context.Context, sessionID string, peer net.Addr, dir sdpneg.Direction, event string) error {
	sess, ok := c.Session(sessionID)
	if !ok {
		return rtcerr.New(rtcerr.KindProtocolViolation, "session.reinvite", map[string]any{"reason": "unknown session"})
	}
	d := sess.Dialog()
	if d == nil {
		return rtcerr.New(rtcerr.KindProtocolViolation, "session.reinvite", map[string]any{"reason": "dialog not bound yet"})
	}
	if sess.neg.State() != sdpneg.Established {
		return rtcerr.New(rtcerr.KindProtocolViolation, "session.reinvite", map[string]any{"reason": "offer/answer exchange already in flight"})
	}

	offer, err := sess.neg.MakeReoffer(dir)
	if err != nil {
		return err
	}
	body, err := offer.Marshal()
	if err != nil {
		return rtcerr.Wrap(rtcerr.KindParse, "session.reinvite", err, nil)
	}
	if _, err := c.dialogs.SendInDialogRequest(ctx, d, "INVITE", body, peer); err != nil {
		return err
	}
	return sess.transition(event)
}

// onInDialogRequest handles a re-INVITE from the peer: negotiate the new
// direction, answer it, and move the session fsm accordingly.
func (c *Coordinator) onInDialogRequest(e dialog.Event) {
	d := e.Dialog
	sess, ok := c.byDialog(d)
	if !ok {
		return
	}
	if e.Request.Method() != "INVITE" {
		return
	}
	if sess.neg.State() != sdpneg.Established {
		// RFC 3261 §14.2: only one offer/answer exchange may be outstanding
		// per dialog at a time; a concurrent re-INVITE is rejected, not queued.
		c.rejectInDialogInvite(e.Request, 491, "Request Pending")
		return
	}

	body := e.Request.Body()
	if len(body) == 0 {
		return
	}
	offer := &sdp.SessionDescription{}
	if err := offer.Unmarshal(body); err != nil {
		c.rejectInDialogInvite(e.Request, 400, "Bad Request")
		return
	}

	answer, err := sess.neg.ReceiveOffer(offer)
	if err != nil {
		c.rejectInDialogInvite(e.Request, 488, "Not Acceptable Here")
		return
	}
	answerBody, err := answer.Marshal()
	if err != nil {
		c.rejectInDialogInvite(e.Request, 500, "Server Internal Error")
		return
	}

	event := evResume
	switch sess.neg.Negotiated().Direction {
	case sdpneg.SendOnly, sdpneg.Inactive, sdpneg.RecvOnly:
		event = evHold
	}
	if err := sess.transition(event); err != nil {
		c.log.Debug().Err(err).Str("session_id", sess.id).Msg("re-INVITE direction change rejected by session fsm")
	}

	resp := sipmsg.BuildResponse(e.Request, 200, "OK")
	resp.Raw().SetBody(answerBody)
	if err := c.sendServerInviteResponse(e.Request, resp); err != nil {
		c.log.Error().Err(err).Msg("failed to answer re-INVITE")
		return
	}

	media := sess.NegotiatedMedia()
	c.bus.publish(AppEvent{Kind: MediaEstablished, SessionID: sess.id, DialogID: d.ID().String(), Media: &media})
}

func (c *Coordinator) rejectInDialogInvite(req *sipmsg.Request, code int, reason string) {
	resp := sipmsg.BuildResponse(req, code, reason)
	_ = c.sendServerInviteResponse(req, resp)
}

// sendServerInviteResponse looks the server transaction for an in-dialog
// INVITE back up by its top Via branch and sends resp on it.
func (c *Coordinator) sendServerInviteResponse(req *sipmsg.Request, resp *sipmsg.Response) error {
	branch, _, _, ok := req.Via()
	if !ok {
		return rtcerr.New(rtcerr.KindProtocolViolation, "session.sendServerInviteResponse", nil)
	}
	tx, ok := c.txm.Lookup(transaction.Key{Branch: branch, Method: "INVITE"})
	if !ok {
		return rtcerr.New(rtcerr.KindProtocolViolation, "session.sendServerInviteResponse", map[string]any{"reason": "transaction gone"})
	}
	return c.txm.SendResponse(context.Background(), tx, resp)
}

func (c *Coordinator) onTerminated(e dialog.Event) {
	if e.Dialog == nil {
		return
	}
	sess, ok := c.byDialog(e.Dialog)
	if !ok {
		return
	}
	c.terminateSession(sess, e.Reason)
}

// onForkLost implements RFC 3261 §13.2.2.4 for the losing branch of a
// forked INVITE: ACK its 2xx, then immediately BYE it. The dialog manager
// has already marked the losing dialog Terminated locally.
func (c *Coordinator) onForkLost(e dialog.Event) {
	d := e.Dialog
	if d == nil {
		return
	}
	peer, ok := peerFromRemoteTarget(d)
	if !ok {
		return
	}
	_ = c.dialogs.SendAck(context.Background(), d, peer)
	_, _ = c.dialogs.SendInDialogRequest(context.Background(), d, "BYE", nil, peer)
}

// Hangup ends an active call.
func (c *Coordinator) Hangup(ctx context.Context, sessionID string, peer net.Addr) error {
	sess, ok := c.Session(sessionID)
	if !ok {
		return rtcerr.New(rtcerr.KindProtocolViolation, "session.Hangup", map[string]any{"reason": "unknown session"})
	}
	d := sess.Dialog()
	if d == nil {
		return rtcerr.New(rtcerr.KindProtocolViolation, "session.Hangup", map[string]any{"reason": "dialog not bound yet"})
	}
	if err := sess.transition(evTerminate); err != nil {
		return err
	}
	_, err := c.dialogs.SendInDialogRequest(ctx, d, "BYE", nil, peer)
	return err
}

// SendDTMF relays a DTMF digit on an active session's RTP stream via
// RFC 4733 telephone-event packets.
func (c *Coordinator) SendDTMF(ctx context.Context, sessionID string, digit rtpsession.DTMFDigit, volume uint8, durationUnits uint16) error {
	sess, ok := c.Session(sessionID)
	if !ok {
		return rtcerr.New(rtcerr.KindProtocolViolation, "session.SendDTMF", map[string]any{"reason": "unknown session"})
	}
	rtp := sess.RTP()
	if rtp == nil {
		return rtcerr.New(rtcerr.KindProtocolViolation, "session.SendDTMF", map[string]any{"reason": "media not bound"})
	}
	return rtp.SendDTMF(ctx, digit, volume, durationUnits)
}

// SecureMedia hands a completed DTLS-SRTP handshake's keying material to
// the session's RTP path. Callers build ks from
// pkg/dtlssrtp.Handshaker once the handshake completes.
func (c *Coordinator) SecureMedia(sessionID string, ks srtp.KeySource) error {
	sess, ok := c.Session(sessionID)
	if !ok {
		return rtcerr.New(rtcerr.KindProtocolViolation, "session.SecureMedia", map[string]any{"reason": "unknown session"})
	}
	localKey, localSalt, remoteKey, remoteSalt, suite, err := ks.MasterKeySalt()
	if err != nil {
		return err
	}
	srtpCtx, err := srtp.NewContext(localKey, localSalt, remoteKey, remoteSalt, suite, c.cfg.SRTP.ReplayWindowSize, c.mx)
	if err != nil {
		return err
	}
	sess.secureRTP(srtpCtx)
	return nil
}
