// Package transport carries broker frames over TCP, one JSON envelope per
// line. The corpus has no WebSocket dependency, so the subscription
// transport stays on the standard library; the broker only ever sees the
// Conn interface and can be rehosted on any framed transport.
package transport

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/chainsentry/chainsentry/pkg/broker"
)

// ErrConnClosed indicates a send against a finished connection.
var ErrConnClosed = errors.New("transport: connection closed")

// outboundQueue is the bounded per-connection write buffer size. Overflow
// drops the oldest queued frame rather than blocking the broker.
const outboundQueue = 256

// Acceptor is the broker surface the listener needs.
type Acceptor interface {
	Attach(conn broker.Conn) string
	HandleMessage(id string, raw []byte)
	Detach(id string)
}

// Compile-time interface check.
var _ broker.Conn = (*tcpConn)(nil)

// tcpConn adapts one net.Conn to the broker's Conn interface with an
// asynchronous bounded writer.
type tcpConn struct {
	nc     net.Conn
	out    chan []byte
	done   chan struct{}
	closed sync.Once
	broken atomic.Bool
}

func newTCPConn(nc net.Conn) *tcpConn {
	c := &tcpConn{
		nc:   nc,
		out:  make(chan []byte, outboundQueue),
		done: make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// Send enqueues one frame. When the queue is full the oldest queued frame
// is discarded in its favor; a send on a broken or closed connection
// returns an error so the broker deregisters it.
func (c *tcpConn) Send(frame []byte) error {
	if c.broken.Load() {
		return ErrConnClosed
	}
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	for {
		select {
		case c.out <- frame:
			return nil
		default:
			select {
			case <-c.out: // drop-oldest
			default:
			}
		}
	}
}

func (c *tcpConn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.out:
			if _, err := c.nc.Write(append(frame, '\n')); err != nil {
				c.broken.Store(true)
				return
			}
		}
	}
}

// Close tears down the transport. Idempotent.
func (c *tcpConn) Close() error {
	var err error
	c.closed.Do(func() {
		close(c.done)
		err = c.nc.Close()
	})
	return err
}

// Listener accepts subscriber connections and bridges them to the broker.
type Listener struct {
	broker Acceptor
	logger *slog.Logger
	ln     net.Listener
	wg     sync.WaitGroup
}

// Listen starts accepting on addr.
func Listen(addr string, b Acceptor, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	l := &Listener{broker: b, logger: logger, ln: ln}
	l.wg.Add(1)
	go l.acceptLoop()
	return l, nil
}

// Addr returns the bound listen address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()
	for {
		nc, err := l.ln.Accept()
		if err != nil {
			return // listener closed
		}
		l.wg.Add(1)
		go l.serve(nc)
	}
}

// serve owns one connection's read side for its lifetime. The connection
// is removed the moment the transport closes or errors.
func (l *Listener) serve(nc net.Conn) {
	defer l.wg.Done()

	conn := newTCPConn(nc)
	id := l.broker.Attach(conn)

	scanner := bufio.NewScanner(nc)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		frame := make([]byte, len(line))
		copy(frame, line)
		l.broker.HandleMessage(id, frame)
	}

	if err := scanner.Err(); err != nil {
		l.logger.Debug("connection read error", "conn", id, "error", err)
	}
	l.broker.Detach(id)
}

// Close stops accepting and waits for per-connection goroutines.
func (l *Listener) Close() error {
	err := l.ln.Close()
	l.wg.Wait()
	return err
}
