package sdpneg

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/arzzra/rtccore/internal/rtcerr"
	"github.com/looplab/fsm"
	"github.com/pion/sdp/v3"
)

// NegotiatedMedia is the settled outcome of an offer/answer exchange.
type NegotiatedMedia struct {
	Codec      Codec
	Direction  Direction
	LocalAddr  *net.UDPAddr
	RemoteAddr *net.UDPAddr
}

// Preferences configures one Negotiator: the local codec list in
// preference order, own session identity, and initial local endpoint.
type Preferences struct {
	SessionID   string
	UserAgent   string
	LocalAddr   *net.UDPAddr
	Codecs      []Codec // preference order, index 0 = most preferred
	Direction   Direction
	DTMF        bool
	DTMFPayload uint8
}

// Negotiator runs one session's offer/answer role machine.
// It is not safe for concurrent use from more than one in-flight
// operation at a time — callers serialize through the owning session.
type Negotiator struct {
	prefs Preferences

	mu  sync.Mutex
	fsm *fsm.FSM

	localDir  Direction
	localOID  uint64
	localVer  uint64
	remote    *sdp.SessionDescription
	negotiate NegotiatedMedia
}

// New builds a Negotiator starting in NoOffer.
func New(prefs Preferences) *Negotiator {
	return &Negotiator{
		prefs:    prefs,
		fsm:      newFSM(),
		localDir: prefs.Direction,
		localOID: uint64(1),
		localVer: uint64(1),
	}
}

// State returns the negotiator's current offer/answer state.
func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return stateFromString(n.fsm.Current())
}

// Negotiated returns the last settled media parameters; valid once State()
// is Established or Renegotiating.
func (n *Negotiator) Negotiated() NegotiatedMedia {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.negotiate
}

// RemoteSDP returns the last SDP received from the peer, or nil before any
// offer/answer has arrived. Used by pkg/dtlssrtp to read the peer's
// a=fingerprint attribute.
func (n *Negotiator) RemoteSDP() *sdp.SessionDescription {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.remote
}

// MakeOffer builds an SDP offer reflecting the local codec preferences and
// direction.
func (n *Negotiator) MakeOffer() (*sdp.SessionDescription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.fsm.Event(context.Background(), evMakeOffer); err != nil {
		return nil, rtcerr.Wrap(rtcerr.KindProtocolViolation, "sdpneg.MakeOffer", err, map[string]any{"state": n.fsm.Current()})
	}

	offer := n.buildSessionDescription(n.prefs.Codecs, n.localDir)
	return offer, nil
}

// MakeReoffer builds a new offer from Established, used to change
// direction (e.g. hold) mid-session; the offered codecs stay the
// configured preferences.
func (n *Negotiator) MakeReoffer(dir Direction) (*sdp.SessionDescription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.fsm.Event(context.Background(), evReoffer); err != nil {
		return nil, rtcerr.Wrap(rtcerr.KindProtocolViolation, "sdpneg.MakeReoffer", err, map[string]any{"state": n.fsm.Current()})
	}
	n.localDir = dir
	n.localVer++
	return n.buildSessionDescription(n.prefs.Codecs, n.localDir), nil
}

// ReceiveOffer parses a peer's SDP offer, selects a common codec and
// intersected direction, and returns the SDP answer to send back.
// Once the exchange is Established, another call is accepted as a new
// (re-)offer and starts a renegotiation.
func (n *Negotiator) ReceiveOffer(offer *sdp.SessionDescription) (*sdp.SessionDescription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.fsm.Event(context.Background(), evReceiveOffer); err != nil {
		return nil, rtcerr.Wrap(rtcerr.KindProtocolViolation, "sdpneg.ReceiveOffer", err, map[string]any{"state": n.fsm.Current()})
	}

	audio, err := audioMediaDescription(offer)
	if err != nil {
		return nil, err
	}

	peerCodecs, err := parseCodecs(audio)
	if err != nil {
		return nil, err
	}
	codec, ok := selectCodec(n.prefs.Codecs, peerCodecs)
	if !ok {
		return nil, rtcerr.New(rtcerr.KindNegotiationFailure, "sdpneg.ReceiveOffer", map[string]any{"reason": "no common codec"})
	}

	remoteDir := parseDirection(audio)
	answerDir := intersectDirection(n.localDir, remoteDir)

	remoteAddr, err := mediaAddress(offer, audio)
	if err != nil {
		return nil, err
	}

	n.remote = offer
	n.negotiate = NegotiatedMedia{
		Codec:      codec,
		Direction:  answerDir,
		LocalAddr:  n.prefs.LocalAddr,
		RemoteAddr: remoteAddr,
	}

	answer := n.buildSessionDescription([]Codec{codec}, answerDir)

	if err := n.fsm.Event(context.Background(), evBind); err != nil {
		return nil, rtcerr.Wrap(rtcerr.KindProtocolViolation, "sdpneg.ReceiveOffer", err, map[string]any{"state": n.fsm.Current()})
	}
	return answer, nil
}

// ReceiveAnswer parses the peer's SDP answer to a prior local offer.
func (n *Negotiator) ReceiveAnswer(answer *sdp.SessionDescription) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.fsm.Event(context.Background(), evReceiveAnswer); err != nil {
		return rtcerr.Wrap(rtcerr.KindProtocolViolation, "sdpneg.ReceiveAnswer", err, map[string]any{"state": n.fsm.Current()})
	}

	audio, err := audioMediaDescription(answer)
	if err != nil {
		return err
	}
	peerCodecs, err := parseCodecs(audio)
	if err != nil {
		return err
	}
	codec, ok := selectCodec(n.prefs.Codecs, peerCodecs)
	if !ok {
		return rtcerr.New(rtcerr.KindNegotiationFailure, "sdpneg.ReceiveAnswer", map[string]any{"reason": "no common codec"})
	}

	remoteDir := parseDirection(audio)
	ourDir := intersectDirection(n.localDir, remoteDir)

	remoteAddr, err := mediaAddress(answer, audio)
	if err != nil {
		return err
	}

	n.remote = answer
	n.negotiate = NegotiatedMedia{
		Codec:      codec,
		Direction:  ourDir,
		LocalAddr:  n.prefs.LocalAddr,
		RemoteAddr: remoteAddr,
	}

	return n.fsm.Event(context.Background(), evBind)
}

func (n *Negotiator) buildSessionDescription(codecs []Codec, dir Direction) *sdp.SessionDescription {
	host := "0.0.0.0"
	port := 0
	if n.prefs.LocalAddr != nil {
		host = n.prefs.LocalAddr.IP.String()
		port = n.prefs.LocalAddr.Port
	}

	n.localOID++
	sess := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      n.localOID,
			SessionVersion: n.localVer,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: host,
		},
		SessionName: sdp.SessionName(n.prefs.SessionID),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: host},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{StartTime: 0, StopTime: 0}}},
	}

	formats := make([]string, 0, len(codecs)+1)
	var attrs []sdp.Attribute
	for _, c := range codecs {
		formats = append(formats, strconv.Itoa(int(c.PayloadType)))
		attrs = append(attrs, sdp.NewAttribute("rtpmap", c.rtpmap()))
	}
	if n.prefs.DTMF {
		formats = append(formats, strconv.Itoa(int(n.prefs.DTMFPayload)))
		attrs = append(attrs, sdp.NewAttribute("rtpmap", dtmfRtpmap(n.prefs.DTMFPayload)))
		attrs = append(attrs, sdp.NewAttribute("fmtp", dtmfFmtp(n.prefs.DTMFPayload)))
	}
	attrs = append(attrs, sdp.NewPropertyAttribute(dir.String()))

	media := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "audio",
			Port:    sdp.RangedPort{Value: port},
			Protos:  []string{"RTP", "AVP"},
			Formats: formats,
		},
		ConnectionInformation: sess.ConnectionInformation,
		Attributes:            attrs,
	}

	sess.MediaDescriptions = []*sdp.MediaDescription{media}
	return sess
}

func dtmfRtpmap(pt uint8) string { return strconv.Itoa(int(pt)) + " telephone-event/8000" }
func dtmfFmtp(pt uint8) string   { return strconv.Itoa(int(pt)) + " 0-15" }
