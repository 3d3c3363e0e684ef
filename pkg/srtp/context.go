package srtp

import (
	"sync"

	"github.com/arzzra/rtccore/internal/metrics"
	"github.com/arzzra/rtccore/internal/rtcerr"
	pionsrtp "github.com/pion/srtp/v2"
	"github.com/pion/rtp"
)

// rocState tracks, per direction, the rollover counter and highest-seen
// sequence number needed to reconstruct the 48-bit SRTP packet index from
// an RTP header's 16-bit sequence number (RFC 3711 §3.3.1).
type rocState struct {
	mu          sync.Mutex
	roc         uint32
	highestSeen uint16
	seeded      bool
}

// index returns the packet index for seq assuming no wraparound guessing
// is needed (used on the send side, where sequence numbers are always
// generated in order by this node).
func (r *rocState) index(seq uint16) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seeded && seq < r.highestSeen && r.highestSeen-seq > 0x8000 {
		r.roc++
	}
	r.highestSeen = seq
	r.seeded = true
	return uint64(r.roc)<<16 | uint64(seq)
}

// guessROC brackets the candidate ROC values for an inbound seq per RFC
// 3711 §3.3.1: if seq is far below highestSeen it likely wrapped forward
// (roc+1); if far above, it may be a late packet from before the last
// wrap (roc-1); otherwise the current roc applies.
func (r *rocState) guessROC(seq uint16) []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.seeded {
		return []uint32{r.roc}
	}
	switch {
	case seq < r.highestSeen && r.highestSeen-seq > 0x8000:
		return []uint32{r.roc + 1, r.roc, r.roc - 1}
	case seq > r.highestSeen && seq-r.highestSeen > 0x8000:
		if r.roc == 0 {
			return []uint32{r.roc, r.roc + 1}
		}
		return []uint32{r.roc - 1, r.roc, r.roc + 1}
	default:
		return []uint32{r.roc, r.roc + 1, r.roc - 1}
	}
}

// commit records that roc/seq was the value actually used for an
// accepted packet, advancing the rollover counter permanently if needed.
func (r *rocState) commit(roc uint32, seq uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roc = roc
	r.highestSeen = seq
	r.seeded = true
}

// Context wraps one direction-pair's pion/srtp Context with rtccore's own
// replay window and ROC bookkeeping.
type Context struct {
	suite  CipherSuite
	send   *pionsrtp.Context
	recv   *pionsrtp.Context
	window *replayWindow
	sendROC rocState
	recvROC rocState

	mx *metrics.Collectors
}

// Direction selects which side of a Context a caller is using.
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

// NewContext derives session keys from localKey/localSalt (used to
// encrypt outbound packets) and remoteKey/remoteSalt (used to decrypt
// inbound ones) under suite, with a replay window of windowSize packets.
func NewContext(localKey, localSalt, remoteKey, remoteSalt []byte, suite CipherSuite, windowSize int, mx *metrics.Collectors) (*Context, error) {
	profile, err := suite.profile()
	if err != nil {
		return nil, rtcerr.Wrap(rtcerr.KindSecurityFailure, "srtp.NewContext", err, nil)
	}
	sendCtx, err := pionsrtp.CreateContext(localKey, localSalt, profile)
	if err != nil {
		return nil, rtcerr.Wrap(rtcerr.KindSecurityFailure, "srtp.NewContext", err, map[string]any{"side": "send"})
	}
	recvCtx, err := pionsrtp.CreateContext(remoteKey, remoteSalt, profile)
	if err != nil {
		return nil, rtcerr.Wrap(rtcerr.KindSecurityFailure, "srtp.NewContext", err, map[string]any{"side": "recv"})
	}
	if mx == nil {
		mx = metrics.Noop()
	}
	return &Context{
		suite:  suite,
		send:   sendCtx,
		recv:   recvCtx,
		window: newReplayWindow(windowSize),
		mx:     mx,
	}, nil
}

// EncryptRTP applies the AES-CM keystream and appends the authentication
// tag (HMAC-SHA1 or AEAD, per suite) to an outbound RTP packet.
func (c *Context) EncryptRTP(pkt *rtp.Packet) ([]byte, error) {
	c.sendROC.index(pkt.SequenceNumber) // advance our own ROC bookkeeping in lockstep with the stream
	payload, err := pkt.Marshal()
	if err != nil {
		return nil, rtcerr.Wrap(rtcerr.KindParse, "srtp.EncryptRTP", err, nil)
	}
	out, err := c.send.EncryptRTP(nil, payload, &pkt.Header)
	if err != nil {
		return nil, rtcerr.Wrap(rtcerr.KindSecurityFailure, "srtp.EncryptRTP", err, nil)
	}
	return out, nil
}

// DecryptRTP verifies and decrypts an inbound SRTP packet. It brackets
// ROC candidates per RFC 3711 §3.3.1, checks the replay window before
// committing, and rejects with ReplayDetected or SecurityFailure.
func (c *Context) DecryptRTP(data []byte) (*rtp.Packet, error) {
	var hdr rtp.Header
	if _, err := hdr.Unmarshal(data); err != nil {
		return nil, rtcerr.Wrap(rtcerr.KindParse, "srtp.DecryptRTP", err, nil)
	}

	candidates := c.recvROC.guessROC(hdr.SequenceNumber)
	var lastErr error
	for _, roc := range candidates {
		index := uint64(roc)<<16 | uint64(hdr.SequenceNumber)
		if !c.window.check(index) {
			// The first candidate is the best estimate; the decryption below
			// does not depend on which ROC is guessed, so trying the others
			// would only re-admit the same packet under a different index.
			break
		}
		plain, err := c.recv.DecryptRTP(nil, data, &hdr)
		if err != nil {
			lastErr = err
			continue
		}
		c.window.accept(index)
		c.recvROC.commit(roc, hdr.SequenceNumber)
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(plain); err != nil {
			return nil, rtcerr.Wrap(rtcerr.KindParse, "srtp.DecryptRTP", err, nil)
		}
		return pkt, nil
	}
	if lastErr != nil {
		c.mx.SRTPAuthFailures.Inc()
		return nil, rtcerr.Wrap(rtcerr.KindSecurityFailure, "srtp.DecryptRTP", lastErr, nil)
	}
	c.mx.SRTPReplayDrops.Inc()
	return nil, rtcerr.New(rtcerr.KindReplayDetected, "srtp.DecryptRTP", map[string]any{
		"seq": hdr.SequenceNumber,
	})
}
