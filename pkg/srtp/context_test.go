package srtp

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

func testKeySalt() (key, salt []byte) {
	key = make([]byte, 16)
	salt = make([]byte, 14)
	for i := range key {
		key[i] = byte(i + 1)
	}
	for i := range salt {
		salt[i] = byte(i + 100)
	}
	return key, salt
}

func newTestPair(t *testing.T) (local, remote *Context) {
	t.Helper()
	key, salt := testKeySalt()
	// Both sides share one key/salt pair here for simplicity — local's
	// "send" key is remote's "recv" key and vice versa.
	local, err := NewContext(key, salt, key, salt, AES_CM_128_HMAC_SHA1_80, 64, nil)
	require.NoError(t, err)
	remote, err = NewContext(key, salt, key, salt, AES_CM_128_HMAC_SHA1_80, 64, nil)
	require.NoError(t, err)
	return local, remote
}

func TestContext_EncryptDecryptRoundTrip(t *testing.T) {
	sender, receiver := newTestPair(t)

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    0,
			SequenceNumber: 1000,
			Timestamp:      160000,
			SSRC:           0xCAFEBABE,
		},
		Payload: []byte("audio-frame"),
	}

	encrypted, err := sender.EncryptRTP(pkt)
	require.NoError(t, err)

	decrypted, err := receiver.DecryptRTP(encrypted)
	require.NoError(t, err)
	require.Equal(t, pkt.Payload, decrypted.Payload)
	require.Equal(t, pkt.SequenceNumber, decrypted.SequenceNumber)
}

func TestContext_ReplayDetected(t *testing.T) {
	sender, receiver := newTestPair(t)

	pkt := &rtp.Packet{
		Header:  rtp.Header{Version: 2, SequenceNumber: 42, Timestamp: 8000, SSRC: 1},
		Payload: []byte("hi"),
	}
	encrypted, err := sender.EncryptRTP(pkt)
	require.NoError(t, err)

	_, err = receiver.DecryptRTP(encrypted)
	require.NoError(t, err)

	_, err = receiver.DecryptRTP(encrypted)
	require.Error(t, err)
}

func TestContext_SequenceWrapAdvancesROC(t *testing.T) {
	sender, receiver := newTestPair(t)

	send := func(seq uint16) []byte {
		pkt := &rtp.Packet{
			Header:  rtp.Header{Version: 2, SequenceNumber: seq, Timestamp: uint32(seq) * 160, SSRC: 7},
			Payload: []byte("x"),
		}
		enc, err := sender.EncryptRTP(pkt)
		require.NoError(t, err)
		return enc
	}

	_, err := receiver.DecryptRTP(send(65534))
	require.NoError(t, err)
	_, err = receiver.DecryptRTP(send(65535))
	require.NoError(t, err)
	// Sequence wraps 65535 -> 0; the receiver's ROC must advance to keep
	// the reconstructed index monotonically increasing.
	_, err = receiver.DecryptRTP(send(0))
	require.NoError(t, err)
	require.Equal(t, uint32(1), receiver.recvROC.roc)
}
