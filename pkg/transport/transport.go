// Package transport implements the Transport Adapter: a
// closed union over {UDP, TCP, TLS, WebSocket} exposed behind one
// capability interface, plus a Manager that fans inbound bytes from every
// registered transport into a single callback.
package transport

import (
	"context"
	"net"
)

// MessageHandler receives one complete SIP message's bytes plus the peer
// address and whether the carrying transport is secure.
type MessageHandler func(data []byte, peer net.Addr, secure bool)

// ClosedHandler is invoked once a transport hits an unrecoverable failure,
// so the failure surfaces to the owner rather than vanishing silently.
type ClosedHandler func(err error)

// Transport is the capability set every concrete variant implements:
// send bytes to a peer, report whether it is connection-oriented
// and whether it
// is cryptographically secure (Secure, TLS/WSS), and deliver complete
// messages via a registered handler.
type Transport interface {
	// Send transmits data to peer. Every send failure is returned to the
	// caller; Send does not fire OnClosed, which only a failed receive or
	// accept loop does.
	Send(ctx context.Context, data []byte, peer net.Addr) error

	// LocalAddr is the address this transport is bound to.
	LocalAddr() net.Addr

	// Reliable reports whether the underlying transport guarantees
	// delivery/ordering (TCP/TLS/WebSocket), inhibiting retransmission
	// timers at the transaction layer.
	Reliable() bool

	// Secure reports whether the transport is cryptographically
	// protected (TLS/WSS), used to set sips: vs sip: on Contact/Via.
	Secure() bool

	// Network is this transport's RFC 3261 §18.1 token: "UDP", "TCP",
	// "TLS", "WS".
	Network() string

	// OnMessage registers the handler invoked for every complete
	// message this transport receives. Only one handler is retained;
	// callers that need fan-out register a Manager instead.
	OnMessage(MessageHandler)

	// OnClosed registers the handler invoked once when this transport
	// hits an unrecoverable failure.
	OnClosed(ClosedHandler)

	// Close releases the transport's resources.
	Close() error
}

// Manager fans inbound bytes from every registered transport into a single
// callback with the originating transport's secure flag attached.
type Manager struct {
	handler MessageHandler
	closed  ClosedHandler

	transports map[string]Transport
}

// NewManager builds an empty Manager.
func NewManager() *Manager {
	return &Manager{transports: make(map[string]Transport)}
}

// Register adds a transport under its Network() token and wires the
// manager's fan-in handlers into it. Registering two transports for the
// same network token is an error.
func (m *Manager) Register(t Transport) error {
	if t == nil {
		return errTransportNil
	}
	network := t.Network()
	if _, exists := m.transports[network]; exists {
		return &DuplicateNetworkError{Network: network}
	}
	t.OnMessage(func(data []byte, peer net.Addr, secure bool) {
		if m.handler != nil {
			m.handler(data, peer, secure)
		}
	})
	t.OnClosed(func(err error) {
		if m.closed != nil {
			m.closed(err)
		}
	})
	m.transports[network] = t
	return nil
}

// Get returns the transport registered under network, if any.
func (m *Manager) Get(network string) (Transport, bool) {
	t, ok := m.transports[network]
	return t, ok
}

// All returns every registered transport, keyed by network token.
func (m *Manager) All() map[string]Transport {
	out := make(map[string]Transport, len(m.transports))
	for k, v := range m.transports {
		out[k] = v
	}
	return out
}

// OnMessage sets the single fan-in handler for every registered transport.
func (m *Manager) OnMessage(h MessageHandler) { m.handler = h }

// OnClosed sets the single fan-in handler for every registered transport's
// unrecoverable failure.
func (m *Manager) OnClosed(h ClosedHandler) { m.closed = h }

// Close closes every registered transport, returning the first error.
func (m *Manager) Close() error {
	var first error
	for _, t := range m.transports {
		if err := t.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Send routes data to peer via the transport registered for network.
func (m *Manager) Send(ctx context.Context, network string, data []byte, peer net.Addr) error {
	t, ok := m.transports[network]
	if !ok {
		return &UnknownNetworkError{Network: network}
	}
	return t.Send(ctx, data, peer)
}
