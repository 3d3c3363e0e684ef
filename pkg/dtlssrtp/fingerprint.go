package dtlssrtp

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"

	"github.com/arzzra/rtccore/internal/rtcerr"
)

// Fingerprint is a certificate fingerprint as carried in an SDP
// a=fingerprint attribute (RFC 8122 §5): a hash algorithm name and the
// resulting digest, colon-hex-encoded.
type Fingerprint struct {
	Algorithm string // "sha-256", "sha-1", "sha-512"
	Digest    string // lowercase colon-separated hex, e.g. "ab:cd:..."
}

// ParseFingerprint parses the value of an SDP a=fingerprint attribute,
// e.g. "sha-256 AB:CD:EF:...".
func ParseFingerprint(attr string) (Fingerprint, error) {
	parts := strings.Fields(attr)
	if len(parts) != 2 {
		return Fingerprint{}, rtcerr.New(rtcerr.KindParse, "dtlssrtp.ParseFingerprint", map[string]any{"attr": attr})
	}
	return Fingerprint{Algorithm: strings.ToLower(parts[0]), Digest: strings.ToLower(parts[1])}, nil
}

func (f Fingerprint) hasher() (hash.Hash, error) {
	switch f.Algorithm {
	case "sha-1":
		return sha1.New(), nil
	case "sha-256":
		return sha256.New(), nil
	case "sha-512":
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("dtlssrtp: unsupported fingerprint algorithm %q", f.Algorithm)
	}
}

// Compute derives the fingerprint of cert under f's algorithm, for
// building the local a=fingerprint attribute to offer in SDP.
func Compute(cert *x509.Certificate, algorithm string) (Fingerprint, error) {
	f := Fingerprint{Algorithm: strings.ToLower(algorithm)}
	h, err := f.hasher()
	if err != nil {
		return Fingerprint{}, rtcerr.Wrap(rtcerr.KindParse, "dtlssrtp.Compute", err, nil)
	}
	h.Write(cert.Raw)
	f.Digest = colonHex(h.Sum(nil))
	return f, nil
}

// Matches reports whether cert's fingerprint under f's algorithm equals
// f's digest (RFC 5763 §5: the only authentication the DTLS-SRTP
// handshake has, since DTLS itself is not anchored to a CA).
func (f Fingerprint) Matches(cert *x509.Certificate) bool {
	h, err := f.hasher()
	if err != nil {
		return false
	}
	h.Write(cert.Raw)
	return colonHex(h.Sum(nil)) == f.Digest
}

// String renders the fingerprint in SDP a=fingerprint attribute form.
func (f Fingerprint) String() string {
	return f.Algorithm + " " + strings.ToUpper(f.Digest)
}

func colonHex(sum []byte) string {
	hexStr := hex.EncodeToString(sum)
	var b strings.Builder
	for i := 0; i < len(hexStr); i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(hexStr[i : i+2])
	}
	return strings.ToLower(b.String())
}
