package transaction

import (
	"context"
	"net"
)

// Transport is the capability the transaction layer needs from the
// transport layer: send bytes to a peer, and report whether this
// connection is reliable (TCP/TLS/WebSocket), which inhibits
// retransmission timers per RFC 3261 §17.1.1.
type Transport interface {
	Send(ctx context.Context, data []byte, peer net.Addr) error
	Reliable() bool
}
