// Package dtlssrtp performs the DTLS-SRTP handshake RFC 5764 describes
// for deriving SRTP master keys out of band of SDP: a DTLS 1.2 handshake
// over the already-established RTP socket, a peer certificate check
// against the SDP a=fingerprint attribute, and an RFC 5764 §4.2 keying
// material export split into rtccore's pkg/srtp.KeySource contract.
// It wraps github.com/pion/dtls/v2's Client/ServerWithContext and
// ExportKeyingMaterial calls.
package dtlssrtp

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/arzzra/rtccore/internal/rtcerr"
	"github.com/arzzra/rtccore/pkg/srtp"
	"github.com/pion/dtls/v2"
)

// Role selects which side of the handshake this node plays, set from the
// SDP a=setup attribute (active -> Client, passive -> Server).
type Role int

const (
	Client Role = iota
	Server
)

// exporterLabel is the IANA-registered label RFC 5764 §4.2 specifies for
// the SRTP keying material exporter.
const exporterLabel = "EXTRACTOR-dtls_srtp"

// Config configures a Handshaker.
type Config struct {
	Role             Role
	Conn             net.Conn // a connected socket to the remote media peer
	Certificate      tls.Certificate
	RemoteFingerprint Fingerprint // from the peer's SDP a=fingerprint
	Suite            srtp.CipherSuite
	HandshakeTimeout time.Duration

	// InsecureSkipVerify disables the fingerprint check, for loopback
	// tests that don't carry a real SDP exchange. Never set in production.
	InsecureSkipVerify bool
}

// Handshaker drives one DTLS-SRTP handshake and, once complete, exposes
// the derived keys via pkg/srtp.KeySource.
type Handshaker struct {
	cfg Config

	mu   sync.Mutex
	conn *dtls.Conn
}

// NewHandshaker builds a Handshaker. Call Handshake to run it.
func NewHandshaker(cfg Config) *Handshaker {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}
	if cfg.Suite == "" {
		cfg.Suite = srtp.AES_CM_128_HMAC_SHA1_80
	}
	return &Handshaker{cfg: cfg}
}

// Handshake performs the DTLS 1.2 handshake over cfg.Conn, then verifies
// the peer's certificate against cfg.RemoteFingerprint. It returns
// rtcerr.KindSecurityFailure on any handshake or fingerprint failure.
func (h *Handshaker) Handshake(ctx context.Context) error {
	dtlsConfig := &dtls.Config{
		Certificates:         []tls.Certificate{h.cfg.Certificate},
		InsecureSkipVerify:   true, // rtccore authenticates via the SDP fingerprint instead of a CA chain, per RFC 5763 §5
		ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(context.Background(), h.cfg.HandshakeTimeout)
		},
	}

	hctx, cancel := context.WithTimeout(ctx, h.cfg.HandshakeTimeout)
	defer cancel()

	var conn *dtls.Conn
	var err error
	switch h.cfg.Role {
	case Client:
		conn, err = dtls.ClientWithContext(hctx, h.cfg.Conn, dtlsConfig)
	case Server:
		conn, err = dtls.ServerWithContext(hctx, h.cfg.Conn, dtlsConfig)
	}
	if err != nil {
		return rtcerr.Wrap(rtcerr.KindSecurityFailure, "dtlssrtp.Handshake", err, map[string]any{"role": h.cfg.Role})
	}

	if !h.cfg.InsecureSkipVerify {
		state := conn.ConnectionState()
		if len(state.PeerCertificates) == 0 {
			conn.Close()
			return rtcerr.New(rtcerr.KindSecurityFailure, "dtlssrtp.Handshake", map[string]any{"reason": "no peer certificate presented"})
		}
		if !h.cfg.RemoteFingerprint.Matches(state.PeerCertificates[0]) {
			conn.Close()
			return rtcerr.New(rtcerr.KindSecurityFailure, "dtlssrtp.Handshake", map[string]any{"reason": "certificate fingerprint mismatch"})
		}
	}

	h.mu.Lock()
	h.conn = conn
	h.mu.Unlock()
	return nil
}

// Close tears down the DTLS connection.
func (h *Handshaker) Close() error {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// MasterKeySalt implements pkg/srtp.KeySource: it exports keying material
// per RFC 5764 §4.2 and splits it into the local/remote key and salt
// pairs, swapped by role (a DTLS client's write key is the SRTP sender's
// key on its side, and the receive key on the server's side).
func (h *Handshaker) MasterKeySalt() (localKey, localSalt, remoteKey, remoteSalt []byte, suite srtp.CipherSuite, err error) {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return nil, nil, nil, nil, "", rtcerr.New(rtcerr.KindSecurityFailure, "dtlssrtp.MasterKeySalt", map[string]any{"reason": "handshake not complete"})
	}

	keyLen, saltLen := h.cfg.Suite.KeyLen(), h.cfg.Suite.SaltLen()
	material, exportErr := conn.ConnectionState().ExportKeyingMaterial(exporterLabel, nil, 2*keyLen+2*saltLen)
	if exportErr != nil {
		return nil, nil, nil, nil, "", rtcerr.Wrap(rtcerr.KindSecurityFailure, "dtlssrtp.MasterKeySalt", exportErr, nil)
	}

	clientKey := material[:keyLen]
	serverKey := material[keyLen : 2*keyLen]
	clientSalt := material[2*keyLen : 2*keyLen+saltLen]
	serverSalt := material[2*keyLen+saltLen : 2*keyLen+2*saltLen]

	if h.cfg.Role == Client {
		return clientKey, clientSalt, serverKey, serverSalt, h.cfg.Suite, nil
	}
	return serverKey, serverSalt, clientKey, clientSalt, h.cfg.Suite, nil
}
