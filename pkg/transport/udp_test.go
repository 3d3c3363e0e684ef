package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestUDP_SendReceive(t *testing.T) {
	a, err := ListenUDP("127.0.0.1:0", 2, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	b, err := ListenUDP("127.0.0.1:0", 2, zerolog.Nop())
	require.NoError(t, err)
	defer b.Close()

	received := make(chan []byte, 1)
	b.OnMessage(func(data []byte, peer net.Addr, secure bool) {
		require.False(t, secure)
		received <- data
	})

	msg := []byte("OPTIONS sip:test@example.com SIP/2.0\r\n\r\n")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Send(ctx, msg, b.LocalAddr()))

	select {
	case got := <-received:
		require.Equal(t, msg, got)
	case <-time.After(time.Second):
		t.Fatal("message not received within timeout")
	}
}

func TestUDP_SendAfterCloseFails(t *testing.T) {
	a, err := ListenUDP("127.0.0.1:0", 1, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, a.Close())

	err = a.Send(context.Background(), []byte("x"), a.LocalAddr())
	require.ErrorIs(t, err, ErrClosed)
}

func TestUDP_CapabilityFlags(t *testing.T) {
	a, err := ListenUDP("127.0.0.1:0", 1, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	require.False(t, a.Reliable())
	require.False(t, a.Secure())
	require.Equal(t, "UDP", a.Network())
}

func TestManager_RegisterDuplicateNetwork(t *testing.T) {
	m := NewManager()
	a, err := ListenUDP("127.0.0.1:0", 1, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()
	b, err := ListenUDP("127.0.0.1:0", 1, zerolog.Nop())
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, m.Register(a))
	err = m.Register(b)
	require.Error(t, err)
	var dup *DuplicateNetworkError
	require.ErrorAs(t, err, &dup)
}

func TestManager_FanIn(t *testing.T) {
	m := NewManager()
	a, err := ListenUDP("127.0.0.1:0", 1, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()
	b, err := ListenUDP("127.0.0.1:0", 1, zerolog.Nop())
	require.NoError(t, err)
	defer b.Close()
	require.NoError(t, m.Register(b))

	received := make(chan []byte, 1)
	m.OnMessage(func(data []byte, peer net.Addr, secure bool) { received <- data })

	msg := []byte("BYE sip:test@example.com SIP/2.0\r\n\r\n")
	require.NoError(t, a.Send(context.Background(), msg, b.LocalAddr()))

	select {
	case got := <-received:
		require.Equal(t, msg, got)
	case <-time.After(time.Second):
		t.Fatal("message not received within timeout")
	}
}
