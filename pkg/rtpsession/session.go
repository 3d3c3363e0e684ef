// Package rtpsession implements the RFC 3550 RTP media session: packet
// send/receive, per-SSRC statistics, sequence-ordered jitter buffering,
// and RFC 4733 DTMF relay, generalized to the optional SRTP-secured path.
package rtpsession

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"net"
	"sync"
	"sync/atomic"

	"github.com/arzzra/rtccore/internal/metrics"
	"github.com/arzzra/rtccore/internal/rtcerr"
	rtccoresrtp "github.com/arzzra/rtccore/pkg/srtp"
	"github.com/arzzra/rtccore/pkg/transport"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// PacketHandler receives a reordered, decrypted inbound RTP packet ready
// for playout.
type PacketHandler func(pkt *rtp.Packet)

// DTMFHandler receives a fully assembled telephone-event digit.
type DTMFHandler func(event DTMFEvent)

// Config configures a Session.
type Config struct {
	LocalSSRC   uint32 // 0 generates a random SSRC
	PayloadType uint8
	ClockRate   uint32
	Transport   transport.Transport
	RemoteAddr  net.Addr

	JitterTargetPackets int
	JitterMaxPackets    int

	// DTMFPayloadType, if non-zero, enables RFC 4733 telephone-event
	// relay at this dynamic payload type.
	DTMFPayloadType uint8

	Metrics *metrics.Collectors
	Logger  zerolog.Logger
}

// Session is one RFC 3550 RTP media session bound to a single remote peer
//. A Session owns its own
// sequence number and timestamp counters; SSRC collisions across multiple
// senders in a stream are tracked in peerSSRCs but not yet resolved beyond
// logging a warning.
type Session struct {
	localSSRC   uint32
	payloadType uint8
	clockRate   uint32
	transport   transport.Transport
	remoteAddr  net.Addr

	localSeq uint32 // atomic, low 16 bits significant
	localTS  uint32 // atomic

	secure *rtccoresrtp.Context

	jitter *JitterBuffer

	statsMu sync.Mutex
	stats   map[uint32]*Stats
	peerSSRCs map[uint32]struct{}

	dtmfTX *DTMFSender
	dtmfRX *DTMFReceiver

	handlerMu   sync.RWMutex
	onPacket    PacketHandler
	onDTMF      DTMFHandler

	mx  *metrics.Collectors
	log zerolog.Logger

	closed int32
}

// New builds a Session. If cfg.LocalSSRC is 0 a random SSRC is generated
// (RFC 3550 §8.1). Call SetSecurity after New to enable SRTP before the
// first packet is sent or received.
func New(cfg Config) (*Session, error) {
	if cfg.Transport == nil {
		return nil, rtcerr.New(rtcerr.KindProtocolViolation, "rtpsession.New", map[string]any{"reason": "transport required"})
	}
	if cfg.ClockRate == 0 {
		return nil, rtcerr.New(rtcerr.KindProtocolViolation, "rtpsession.New", map[string]any{"reason": "clock rate required"})
	}
	ssrc := cfg.LocalSSRC
	if ssrc == 0 {
		var err error
		ssrc, err = randomUint32()
		if err != nil {
			return nil, rtcerr.Wrap(rtcerr.KindProtocolViolation, "rtpsession.New", err, nil)
		}
	}
	mx := cfg.Metrics
	if mx == nil {
		mx = metrics.Noop()
	}
	seq, err := randomUint32()
	if err != nil {
		return nil, rtcerr.Wrap(rtcerr.KindProtocolViolation, "rtpsession.New", err, nil)
	}
	ts, err := randomUint32()
	if err != nil {
		return nil, rtcerr.Wrap(rtcerr.KindProtocolViolation, "rtpsession.New", err, nil)
	}

	s := &Session{
		localSSRC:   ssrc,
		payloadType: cfg.PayloadType,
		clockRate:   cfg.ClockRate,
		transport:   cfg.Transport,
		remoteAddr:  cfg.RemoteAddr,
		localSeq:    seq & 0xFFFF,
		localTS:     ts,
		jitter:      NewJitterBuffer(cfg.JitterTargetPackets, cfg.JitterMaxPackets, mx),
		stats:       make(map[uint32]*Stats),
		peerSSRCs:   make(map[uint32]struct{}),
		mx:          mx,
		log:         cfg.Logger,
	}
	if cfg.DTMFPayloadType != 0 {
		s.dtmfTX = NewDTMFSender(cfg.DTMFPayloadType)
		s.dtmfRX = NewDTMFReceiver(cfg.DTMFPayloadType)
	}
	return s, nil
}

func randomUint32() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// SetSecurity enables SRTP encryption/decryption for this session's send
// and receive paths. Pass nil to disable (plain RTP).
func (s *Session) SetSecurity(ctx *rtccoresrtp.Context) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.secure = ctx
}

// OnPacket registers the handler invoked for each reordered inbound
// packet that the jitter buffer releases for playout.
func (s *Session) OnPacket(h PacketHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.onPacket = h
}

// OnDTMF registers the handler invoked once per completed telephone-event
// digit.
func (s *Session) OnDTMF(h DTMFHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.onDTMF = h
}

// SSRC returns this session's local synchronization source identifier.
func (s *Session) SSRC() uint32 { return s.localSSRC }

// SendPayload builds and sends one RTP packet carrying payload, advancing
// the sequence number by one and the timestamp by sampleCount clock
// ticks: it assigns seq/ts, builds the header, optionally encrypts under
// SRTP, and hands the result to the transport.
func (s *Session) SendPayload(ctx context.Context, payload []byte, sampleCount uint32, marker bool) error {
	if atomic.LoadInt32(&s.closed) != 0 {
		return rtcerr.New(rtcerr.KindTransportFailure, "rtpsession.SendPayload", map[string]any{"reason": "session closed"})
	}
	seq := uint16(atomic.AddUint32(&s.localSeq, 1) - 1)
	ts := atomic.AddUint32(&s.localTS, sampleCount) - sampleCount

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    s.payloadType,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           s.localSSRC,
		},
		Payload: payload,
	}
	return s.sendPacket(ctx, pkt)
}

// SendDTMF transmits one telephone-event digit as the RFC 4733 start/end
// packet sequence, sharing this session's sequence counter.
func (s *Session) SendDTMF(ctx context.Context, digit DTMFDigit, volume uint8, durationUnits uint16) error {
	if s.dtmfTX == nil {
		return rtcerr.New(rtcerr.KindProtocolViolation, "rtpsession.SendDTMF", map[string]any{"reason": "dtmf not negotiated"})
	}
	ts := atomic.LoadUint32(&s.localTS)
	start, end := s.dtmfTX.BuildPackets(digit, volume, durationUnits, ts, 3)
	for _, pkt := range append(start, end...) {
		pkt.SequenceNumber = uint16(atomic.AddUint32(&s.localSeq, 1) - 1)
		pkt.SSRC = s.localSSRC
		if err := s.sendPacket(ctx, pkt); err != nil {
			return err
		}
	}
	atomic.AddUint32(&s.localTS, durationUnits)
	return nil
}

func (s *Session) sendPacket(ctx context.Context, pkt *rtp.Packet) error {
	s.handlerMu.RLock()
	secure := s.secure
	s.handlerMu.RUnlock()

	var out []byte
	if secure != nil {
		enc, err := secure.EncryptRTP(pkt)
		if err != nil {
			return err
		}
		out = enc
	} else {
		raw, err := pkt.Marshal()
		if err != nil {
			return rtcerr.Wrap(rtcerr.KindParse, "rtpsession.sendPacket", err, nil)
		}
		out = raw
	}
	if err := s.transport.Send(ctx, out, s.remoteAddr); err != nil {
		return rtcerr.Wrap(rtcerr.KindTransportFailure, "rtpsession.sendPacket", err, nil)
	}
	return nil
}

// HandleInbound processes one datagram received from the transport layer:
// optional SRTP decrypt, header parse, statistics update, DTMF
// interception, and jitter-buffer admission, then calls Drain to hand any
// packets the jitter buffer releases to the registered PacketHandler.
func (s *Session) HandleInbound(data []byte, arrivalUnits uint32) error {
	if atomic.LoadInt32(&s.closed) != 0 {
		return nil
	}

	s.handlerMu.RLock()
	secure := s.secure
	s.handlerMu.RUnlock()

	var pkt *rtp.Packet
	if secure != nil {
		decrypted, err := secure.DecryptRTP(data)
		if err != nil {
			return err
		}
		pkt = decrypted
	} else {
		pkt = &rtp.Packet{}
		if err := pkt.Unmarshal(data); err != nil {
			return rtcerr.Wrap(rtcerr.KindParse, "rtpsession.HandleInbound", err, nil)
		}
	}

	s.recordPeerSSRC(pkt.SSRC)
	s.statsFor(pkt.SSRC).OnPacket(pkt.SequenceNumber, arrivalUnits, pkt.Timestamp)

	s.handlerMu.RLock()
	dtmfRX := s.dtmfRX
	dtmfHandler := s.onDTMF
	s.handlerMu.RUnlock()

	if dtmfRX != nil {
		if event, ok, err := dtmfRX.Process(pkt); err != nil {
			return err
		} else if ok {
			if dtmfHandler != nil {
				dtmfHandler(event)
			}
			return nil
		} else if pkt.PayloadType == dtmfRX.payloadType {
			return nil // mid-event packet, nothing to deliver yet
		}
	}

	s.jitter.Push(pkt)
	s.Drain()
	return nil
}

// Drain releases every packet the jitter buffer currently considers ready
// for playout, in sequence order, to the registered PacketHandler.
func (s *Session) Drain() {
	s.handlerMu.RLock()
	handler := s.onPacket
	s.handlerMu.RUnlock()
	if handler == nil {
		return
	}
	for s.jitter.Ready() {
		pkt := s.jitter.Pop()
		if pkt == nil {
			return
		}
		handler(pkt)
	}
}

func (s *Session) recordPeerSSRC(ssrc uint32) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if _, ok := s.peerSSRCs[ssrc]; !ok {
		s.peerSSRCs[ssrc] = struct{}{}
		if len(s.peerSSRCs) > 1 {
			s.log.Warn().Uint32("ssrc", ssrc).Msg("additional peer SSRC observed on RTP session")
		}
	}
}

func (s *Session) statsFor(ssrc uint32) *Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	st, ok := s.stats[ssrc]
	if !ok {
		st = &Stats{}
		s.stats[ssrc] = st
	}
	return st
}

// StatsFor returns the statistics tracked for a given peer SSRC, or nil
// if no packets from that SSRC have been observed yet.
func (s *Session) StatsFor(ssrc uint32) *Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats[ssrc]
}

// PeerSSRCs returns every peer SSRC observed on this session so far.
func (s *Session) PeerSSRCs() []uint32 {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	out := make([]uint32, 0, len(s.peerSSRCs))
	for ssrc := range s.peerSSRCs {
		out = append(out, ssrc)
	}
	return out
}

// Close marks the session inactive; further SendPayload/SendDTMF calls
// fail and HandleInbound becomes a no-op.
func (s *Session) Close() error {
	atomic.StoreInt32(&s.closed, 1)
	return nil
}
