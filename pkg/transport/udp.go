package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const maxUDPPayload = 65507

// UDP implements Transport over a connectionless UDP socket, reading
// inbound datagrams on a worker-pool read loop.
type UDP struct {
	conn *net.UDPConn
	addr *net.UDPAddr
	log  zerolog.Logger

	workerPool chan struct{}

	closed  int32
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	handlerMu sync.RWMutex
	handler   MessageHandler
	onClosed  ClosedHandler

	received uint64
	sent     uint64
	errors   uint64
}

// ListenUDP opens a UDP socket at addr and starts its read loop. workers
// bounds the number of concurrent message deliveries; 0 defaults to 4.
func ListenUDP(addr string, workers int, logger zerolog.Logger) (*UDP, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve udp addr %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen udp %q: %w", addr, err)
	}
	if workers <= 0 {
		workers = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &UDP{
		conn:       conn,
		addr:       conn.LocalAddr().(*net.UDPAddr),
		log:        logger.With().Str("component", "transport.udp").Str("local_addr", addr).Logger(),
		workerPool: make(chan struct{}, workers),
		ctx:        ctx,
		cancel:     cancel,
	}
	for i := 0; i < workers; i++ {
		t.workerPool <- struct{}{}
	}
	t.wg.Add(1)
	go t.readLoop()
	return t, nil
}

func (t *UDP) readLoop() {
	defer t.wg.Done()
	buf := make([]byte, 65535)
	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}
		n, remote, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			atomic.AddUint64(&t.errors, 1)
			if t.isOpen() {
				if isTemporary(err) {
					continue
				}
				t.fail(err)
			}
			return
		}
		atomic.AddUint64(&t.received, 1)

		select {
		case <-t.workerPool:
			t.wg.Add(1)
			msg := make([]byte, n)
			copy(msg, buf[:n])
			go t.deliver(msg, remote)
		default:
			atomic.AddUint64(&t.errors, 1)
			t.log.Warn().Msg("udp worker pool exhausted, dropping message")
		}
	}
}

func (t *UDP) deliver(data []byte, remote *net.UDPAddr) {
	defer func() {
		t.workerPool <- struct{}{}
		t.wg.Done()
	}()
	t.handlerMu.RLock()
	h := t.handler
	t.handlerMu.RUnlock()
	if h != nil {
		h(data, remote, false)
	}
}

func (t *UDP) fail(err error) {
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

func (t *UDP) isOpen() bool { return atomic.LoadInt32(&t.closed) == 0 }

func (t *UDP) Send(ctx context.Context, data []byte, peer net.Addr) error {
	if !t.isOpen() {
		return ErrClosed
	}
	if len(data) > maxUDPPayload {
		return ErrMessageTooLarge
	}
	udpPeer, ok := peer.(*net.UDPAddr)
	if !ok {
		resolved, err := net.ResolveUDPAddr("udp", peer.String())
		if err != nil {
			return fmt.Errorf("transport: resolve peer %q: %w", peer.String(), err)
		}
		udpPeer = resolved
	}
	if dl, ok := ctx.Deadline(); ok {
		t.conn.SetWriteDeadline(dl)
	}
	_, err := t.conn.WriteToUDP(data, udpPeer)
	if err != nil {
		atomic.AddUint64(&t.errors, 1)
		return fmt.Errorf("transport: udp send: %w", err)
	}
	atomic.AddUint64(&t.sent, 1)
	return nil
}

func (t *UDP) LocalAddr() net.Addr { return t.addr }
func (t *UDP) Reliable() bool      { return false }
func (t *UDP) Secure() bool        { return false }
func (t *UDP) Network() string     { return "UDP" }

func (t *UDP) OnMessage(h MessageHandler) {
	t.handlerMu.Lock()
	t.handler = h
	t.handlerMu.Unlock()
}

func (t *UDP) OnClosed(h ClosedHandler) {
	t.handlerMu.Lock()
	t.onClosed = h
	t.handlerMu.Unlock()
}

func (t *UDP) Close() error {
	if !atomic.CompareAndSwapInt32(&t.closed, 0, 1) {
		return nil
	}
	t.cancel()
	err := t.conn.Close()
	t.wg.Wait()
	return err
}
