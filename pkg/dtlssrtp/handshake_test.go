package dtlssrtp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/arzzra/rtccore/pkg/srtp"
	"github.com/stretchr/testify/require"
)

func TestHandshake_DerivesMatchingKeysOnBothSides(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientCert, err := GenerateSelfSigned()
	require.NoError(t, err)
	serverCert, err := GenerateSelfSigned()
	require.NoError(t, err)

	serverFP, err := Compute(serverCert.Leaf, "sha-256")
	require.NoError(t, err)
	clientFP, err := Compute(clientCert.Leaf, "sha-256")
	require.NoError(t, err)

	client := NewHandshaker(Config{
		Role:              Client,
		Conn:              clientConn,
		Certificate:       clientCert,
		RemoteFingerprint: serverFP,
		Suite:             srtp.AES_CM_128_HMAC_SHA1_80,
		HandshakeTimeout:  5 * time.Second,
	})
	server := NewHandshaker(Config{
		Role:              Server,
		Conn:              serverConn,
		Certificate:       serverCert,
		RemoteFingerprint: clientFP,
		Suite:             srtp.AES_CM_128_HMAC_SHA1_80,
		HandshakeTimeout:  5 * time.Second,
	})

	errCh := make(chan error, 2)
	go func() { errCh <- server.Handshake(context.Background()) }()
	go func() { errCh <- client.Handshake(context.Background()) }()

	require.NoError(t, <-errCh)
	require.NoError(t, <-errCh)

	cLocalKey, cLocalSalt, cRemoteKey, cRemoteSalt, suite, err := client.MasterKeySalt()
	require.NoError(t, err)
	require.Equal(t, srtp.AES_CM_128_HMAC_SHA1_80, suite)

	sLocalKey, sLocalSalt, sRemoteKey, sRemoteSalt, _, err := server.MasterKeySalt()
	require.NoError(t, err)

	require.Equal(t, cLocalKey, sRemoteKey)
	require.Equal(t, cLocalSalt, sRemoteSalt)
	require.Equal(t, cRemoteKey, sLocalKey)
	require.Equal(t, cRemoteSalt, sLocalSalt)
}

func TestHandshake_RejectsWrongFingerprint(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientCert, err := GenerateSelfSigned()
	require.NoError(t, err)
	serverCert, err := GenerateSelfSigned()
	require.NoError(t, err)
	wrongCert, err := GenerateSelfSigned()
	require.NoError(t, err)

	wrongFP, err := Compute(wrongCert.Leaf, "sha-256")
	require.NoError(t, err)
	clientFP, err := Compute(clientCert.Leaf, "sha-256")
	require.NoError(t, err)

	client := NewHandshaker(Config{Role: Client, Conn: clientConn, Certificate: clientCert, RemoteFingerprint: wrongFP})
	server := NewHandshaker(Config{Role: Server, Conn: serverConn, Certificate: serverCert, RemoteFingerprint: clientFP})

	errCh := make(chan error, 2)
	go func() { errCh <- server.Handshake(context.Background()) }()
	go func() { errCh <- client.Handshake(context.Background()) }()

	err1 := <-errCh
	err2 := <-errCh
	require.True(t, err1 != nil || err2 != nil)
}

func TestMasterKeySalt_BeforeHandshakeFails(t *testing.T) {
	h := NewHandshaker(Config{Role: Client})
	_, _, _, _, _, err := h.MasterKeySalt()
	require.Error(t, err)
}
