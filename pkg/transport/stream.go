package transport

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// FrameReader extracts complete SIP messages from a stream transport per
// RFC 3261 §18.3: read headers up to the blank line, then read exactly
// Content-Length bytes of body.
type FrameReader struct {
	r *bufio.Reader
}

// NewFrameReader wraps r for message-at-a-time framing.
func NewFrameReader(r *bufio.Reader) *FrameReader { return &FrameReader{r: r} }

// ReadMessage returns the next complete message's bytes (headers + body),
// or an error if the stream closed or ended mid-message. A message with no
// parseable Content-Length header is taken to have an empty body.
func (f *FrameReader) ReadMessage() ([]byte, error) {
	var header bytes.Buffer
	contentLength := -1
	for {
		line, err := f.r.ReadBytes('\n')
		if err != nil {
			return nil, err
		}
		header.Write(line)
		trimmed := strings.TrimRight(string(line), "\r\n")
		if trimmed == "" {
			break
		}
		if contentLength < 0 {
			if n, ok := parseContentLength(trimmed); ok {
				contentLength = n
			}
		}
	}
	if contentLength < 0 {
		contentLength = 0
	}
	body := make([]byte, contentLength)
	if contentLength > 0 {
		if _, err := io.ReadFull(f.r, body); err != nil {
			return nil, err
		}
	}
	header.Write(body)
	return header.Bytes(), nil
}

func parseContentLength(line string) (int, bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return 0, false
	}
	name := strings.TrimSpace(line[:idx])
	if !strings.EqualFold(name, "Content-Length") && !strings.EqualFold(name, "l") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(line[idx+1:]))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// streamConn is one persistent TCP/TLS connection, shared by Stream's
// listener-accept path and its dial-on-demand outbound path.
type streamConn struct {
	conn   net.Conn
	remote net.Addr
	secure bool

	writeMu sync.Mutex
	closed  int32
}

func (c *streamConn) send(ctx context.Context, data []byte) error {
	if atomic.LoadInt32(&c.closed) != 0 {
		return ErrClosed
	}
	if dl, ok := ctx.Deadline(); ok {
		c.conn.SetWriteDeadline(dl)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(data)
	return err
}

func (c *streamConn) close() error {
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	return c.conn.Close()
}

// Stream implements Transport for connection-oriented transports (TCP,
// TLS) that frame messages via Content-Length. secure/network/dial are
// supplied by the TCP/TLS constructors.
type Stream struct {
	network  string
	secure   bool
	listener net.Listener
	dial     func(ctx context.Context, addr string) (net.Conn, error)
	addr     net.Addr
	log      zerolog.Logger

	mu    sync.Mutex
	conns map[string]*streamConn // peer address string -> connection

	handlerMu sync.RWMutex
	handler   MessageHandler
	onClosed  ClosedHandler

	wg     sync.WaitGroup
	closed int32
}

func newStream(network string, secure bool, listener net.Listener, dial func(context.Context, string) (net.Conn, error), logger zerolog.Logger) *Stream {
	s := &Stream{
		network:  network,
		secure:   secure,
		listener: listener,
		dial:     dial,
		addr:     listener.Addr(),
		log:      logger.With().Str("component", "transport."+strings.ToLower(network)).Logger(),
		conns:    make(map[string]*streamConn),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s
}

// ListenTCP opens a TCP listener at addr.
func ListenTCP(addr string, logger zerolog.Logger) (*Stream, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen tcp %q: %w", addr, err)
	}
	return newStream("TCP", false, ln, func(ctx context.Context, target string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", target)
	}, logger), nil
}

// ListenTLS opens a TLS listener at addr using cfg.
func ListenTLS(addr string, cfg *tls.Config, logger zerolog.Logger) (*Stream, error) {
	ln, err := tls.Listen("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("transport: listen tls %q: %w", addr, err)
	}
	return newStream("TLS", true, ln, func(ctx context.Context, target string) (net.Conn, error) {
		var d tls.Dialer
		d.Config = cfg
		return d.DialContext(ctx, "tcp", target)
	}, logger), nil
}

func (s *Stream) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isOpen() {
				s.fail(err)
			}
			return
		}
		sc := &streamConn{conn: conn, remote: conn.RemoteAddr(), secure: s.secure}
		s.mu.Lock()
		s.conns[conn.RemoteAddr().String()] = sc
		s.mu.Unlock()
		s.wg.Add(1)
		go s.readConn(sc)
	}
}

func (s *Stream) readConn(sc *streamConn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, sc.remote.String())
		s.mu.Unlock()
		sc.close()
	}()
	fr := NewFrameReader(bufio.NewReader(sc.conn))
	for {
		msg, err := fr.ReadMessage()
		if err != nil {
			return
		}
		s.handlerMu.RLock()
		h := s.handler
		s.handlerMu.RUnlock()
		if h != nil {
			h(msg, sc.remote, sc.secure)
		}
	}
}

func (s *Stream) isOpen() bool { return atomic.LoadInt32(&s.closed) == 0 }

func (s *Stream) fail(err error) {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return
	}
	s.handlerMu.RLock()
	onClosed := s.onClosed
	s.handlerMu.RUnlock()
	if onClosed != nil {
		onClosed(err)
	}
}

// Send writes data to peer, dialing a new connection if none is open yet.
func (s *Stream) Send(ctx context.Context, data []byte, peer net.Addr) error {
	if !s.isOpen() {
		return ErrClosed
	}
	key := peer.String()
	s.mu.Lock()
	sc, ok := s.conns[key]
	s.mu.Unlock()
	if !ok {
		conn, err := s.dial(ctx, key)
		if err != nil {
			return fmt.Errorf("transport: dial %s %q: %w", s.network, key, err)
		}
		_, secure := conn.(*tls.Conn)
		sc = &streamConn{conn: conn, remote: peer, secure: secure || s.secure}
		s.mu.Lock()
		s.conns[key] = sc
		s.mu.Unlock()
		s.wg.Add(1)
		go s.readConn(sc)
	}
	return sc.send(ctx, data)
}

func (s *Stream) LocalAddr() net.Addr { return s.addr }
func (s *Stream) Reliable() bool      { return true }
func (s *Stream) Secure() bool        { return s.secure }
func (s *Stream) Network() string     { return s.network }

func (s *Stream) OnMessage(h MessageHandler) {
	s.handlerMu.Lock()
	s.handler = h
	s.handlerMu.Unlock()
}

func (s *Stream) OnClosed(h ClosedHandler) {
	s.handlerMu.Lock()
	s.onClosed = h
	s.handlerMu.Unlock()
}

func (s *Stream) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	err := s.listener.Close()
	s.mu.Lock()
	conns := make([]*streamConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
	s.wg.Wait()
	return err
}
