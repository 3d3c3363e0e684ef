package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// WS implements Transport over WebSocket, one SIP message per text frame
// (RFC 7118), using gorilla/websocket, since WebSocket is a required
// transport variant alongside UDP and TCP/TLS.
type WS struct {
	server   *http.Server
	listener net.Listener
	upgrader websocket.Upgrader
	addr     net.Addr
	secure   bool
	log      zerolog.Logger

	mu    sync.Mutex
	conns map[string]*wsConn

	handlerMu sync.RWMutex
	handler   MessageHandler
	onClosed  ClosedHandler

	wg     sync.WaitGroup
	closed int32
}

type wsConn struct {
	conn   *websocket.Conn
	remote net.Addr

	writeMu sync.Mutex
	closed  int32
}

func (c *wsConn) send(data []byte) error {
	if atomic.LoadInt32(&c.closed) != 0 {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	return c.conn.Close()
}

// ListenWS opens an HTTP listener at addr and upgrades every connection to
// the "sip" WebSocket subprotocol.
func ListenWS(addr string, secure bool, logger zerolog.Logger) (*WS, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen ws %q: %w", addr, err)
	}
	t := &WS{
		listener: ln,
		addr:     ln.Addr(),
		secure:   secure,
		log:      logger.With().Str("component", "transport.ws").Logger(),
		conns:    make(map[string]*wsConn),
		upgrader: websocket.Upgrader{Subprotocols: []string{"sip"}},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", t.handleUpgrade)
	t.server = &http.Server{Handler: mux}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := t.server.Serve(ln); err != nil && t.isOpen() {
			t.fail(err)
		}
	}()
	return t, nil
}

func (t *WS) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	wc := &wsConn{conn: conn, remote: conn.RemoteAddr()}
	t.mu.Lock()
	t.conns[wc.remote.String()] = wc
	t.mu.Unlock()
	t.wg.Add(1)
	go t.readConn(wc)
}

func (t *WS) readConn(wc *wsConn) {
	defer t.wg.Done()
	defer func() {
		t.mu.Lock()
		delete(t.conns, wc.remote.String())
		t.mu.Unlock()
		wc.close()
	}()
	for {
		msgType, data, err := wc.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		t.handlerMu.RLock()
		h := t.handler
		t.handlerMu.RUnlock()
		if h != nil {
			h(data, wc.remote, t.secure)
		}
	}
}

func (t *WS) isOpen() bool { return atomic.LoadInt32(&t.closed) == 0 }

func (t *WS) fail(err error) {
	if !atomic.CompareAndSwapInt32(&t.closed, 0, 1) {
		return
	}
	t.handlerMu.RLock()
	onClosed := t.onClosed
	t.handlerMu.RUnlock()
	if onClosed != nil {
		onClosed(err)
	}
}

// Send requires peer to already have an established inbound connection —
// WebSocket is server-accepted only in this core, matching RFC 7118's
// client-initiated model (the SIP UAC dials out via a separate WS client,
// out of scope here).
func (t *WS) Send(ctx context.Context, data []byte, peer net.Addr) error {
	if !t.isOpen() {
		return ErrClosed
	}
	t.mu.Lock()
	wc, ok := t.conns[peer.String()]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("transport: no websocket connection for peer %s", peer.String())
	}
	return wc.send(data)
}

func (t *WS) LocalAddr() net.Addr { return t.addr }
func (t *WS) Reliable() bool      { return true }
func (t *WS) Secure() bool        { return t.secure }
func (t *WS) Network() string     { return "WS" }

func (t *WS) OnMessage(h MessageHandler) {
	t.handlerMu.Lock()
	t.handler = h
	t.handlerMu.Unlock()
}

func (t *WS) OnClosed(h ClosedHandler) {
	t.handlerMu.Lock()
	t.onClosed = h
	t.handlerMu.Unlock()
}

func (t *WS) Close() error {
	if !atomic.CompareAndSwapInt32(&t.closed, 0, 1) {
		return nil
	}
	err := t.server.Close()
	t.mu.Lock()
	conns := make([]*wsConn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
	t.wg.Wait()
	return err
}
