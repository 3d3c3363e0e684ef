// Package srtp implements the SRTP Transform:
// encrypt/decrypt/authenticate RTP and the replay window. The AES-CM
// keystream and HMAC-SHA1/GCM transform themselves are delegated to
// github.com/pion/srtp/v2's packet-level Context, matching the rest of
// the retrieval pack's uniform use of that library for this concern;
// rtccore supplies its own 64-packet replay-window bitmask and
// ROC-bracket-guessing bookkeeping around it so ReplayDetected is
// observable at the rtccore error-taxonomy layer instead of
// being silently swallowed inside the pion context.
package srtp

import (
	"fmt"

	pionsrtp "github.com/pion/srtp/v2"
)

// CipherSuite names one of the supported SRTP protection profiles.
type CipherSuite string

const (
	AES_CM_128_HMAC_SHA1_80 CipherSuite = "AES_CM_128_HMAC_SHA1_80"
	AES_CM_128_HMAC_SHA1_32 CipherSuite = "AES_CM_128_HMAC_SHA1_32"
	AEAD_AES_128_GCM        CipherSuite = "AEAD_AES_128_GCM"
)

// KeyLen and SaltLen return the master key/salt lengths (bytes) the DTLS-SRTP
// keying material export (RFC 5764 §4.2) must produce for this suite.
func (c CipherSuite) KeyLen() int {
	return 16 // every supported suite uses a 128-bit AES key
}

func (c CipherSuite) SaltLen() int {
	if c == AEAD_AES_128_GCM {
		return 12 // RFC 7714 §8.1
	}
	return 14 // RFC 3711 §4.3 AES-CM salt length
}

func (c CipherSuite) profile() (pionsrtp.ProtectionProfile, error) {
	switch c {
	case AES_CM_128_HMAC_SHA1_80, "":
		return pionsrtp.ProtectionProfileAes128CmHmacSha1_80, nil
	case AES_CM_128_HMAC_SHA1_32:
		return pionsrtp.ProtectionProfileAes128CmHmacSha1_32, nil
	case AEAD_AES_128_GCM:
		return pionsrtp.ProtectionProfileAeadAes128Gcm, nil
	default:
		return 0, fmt.Errorf("srtp: unknown cipher suite %q", c)
	}
}

// KeySource is the "produce master key/salt" contract a keying mechanism
// other than DTLS-SRTP (MIKEY, ZRTP, SDES) could implement to plug into
// the SRTP layer without rtccore building one of its own now.
// pkg/dtlssrtp implements this.
type KeySource interface {
	// MasterKeySalt returns the derived local and remote master key/salt
	// pairs and the negotiated cipher suite.
	MasterKeySalt() (localKey, localSalt, remoteKey, remoteSalt []byte, suite CipherSuite, err error)
}
