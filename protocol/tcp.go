package protocol

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/flowmesh/errors"
	"github.com/c360/flowmesh/message"
	"github.com/c360/flowmesh/metric"
	"github.com/c360/flowmesh/pkg/retry"
)

// TCPTransport moves frames over raw TCP sockets (tcp://host:port/).
type TCPTransport struct {
	logger      *slog.Logger
	dialCfg     retry.Config
	dialTimeout time.Duration
	core        *metric.Metrics
}

// TCPOption configures a TCPTransport.
type TCPOption func(*TCPTransport)

// WithTCPLogger sets the transport logger.
func WithTCPLogger(logger *slog.Logger) TCPOption {
	return func(t *TCPTransport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithTCPDialConfig sets the backoff used for connection establishment.
func WithTCPDialConfig(cfg retry.Config) TCPOption {
	return func(t *TCPTransport) { t.dialCfg = cfg }
}

// WithTCPMetrics wires the core connection counters.
func WithTCPMetrics(core *metric.Metrics) TCPOption {
	return func(t *TCPTransport) { t.core = core }
}

// NewTCPTransport creates the tcp:// transport.
func NewTCPTransport(opts ...TCPOption) *TCPTransport {
	t := &TCPTransport{
		logger:      slog.Default(),
		dialCfg:     retry.Quick(),
		dialTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Dial connects to the app at uri with bounded backoff. Once the
// connection is up there is no reconnection: loss surfaces as
// connection-closed on the next send.
func (t *TCPTransport) Dial(ctx context.Context, uri string, handler Handler) (Conn, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, errors.WrapInvalid(err, "TCPTransport", "Dial", "uri parse")
	}

	var nc net.Conn
	err = retry.Do(ctx, t.dialCfg, func() error {
		d := net.Dialer{Timeout: t.dialTimeout}
		conn, derr := d.DialContext(ctx, "tcp", parsed.Host)
		if derr != nil {
			return derr
		}
		nc = conn
		return nil
	})
	if err != nil {
		if t.core != nil {
			t.core.RecordConnectionError()
		}
		return nil, errors.WrapTransient(err, "TCPTransport", "Dial", "connect "+uri)
	}

	c := t.newConn(nc)
	go c.readLoop(handler)
	return c, nil
}

// Listen binds uri and serves inbound connections until closed.
func (t *TCPTransport) Listen(ctx context.Context, uri string, handler Handler) (Listener, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, errors.WrapInvalid(err, "TCPTransport", "Listen", "uri parse")
	}

	ln, err := net.Listen("tcp", parsed.Host)
	if err != nil {
		return nil, errors.WrapTransient(err, "TCPTransport", "Listen", "bind "+uri)
	}

	l := &tcpListener{
		transport: t,
		ln:        ln,
		conns:     make(map[*tcpConn]struct{}),
	}
	go l.acceptLoop(handler)
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	t.logger.Info("listening", "transport", "tcp", "addr", ln.Addr().String())
	return l, nil
}

func (t *TCPTransport) newConn(nc net.Conn) *tcpConn {
	if t.core != nil {
		t.core.RecordConnectionOpened()
	}
	return &tcpConn{
		nc:     nc,
		logger: t.logger,
		core:   t.core,
	}
}

// tcpConn is one live TCP peer connection.
type tcpConn struct {
	nc     net.Conn
	logger *slog.Logger
	core   *metric.Metrics

	writeMu sync.Mutex
	closed  atomic.Bool
}

// Send encodes and writes one frame. Concurrent-safe; a write failure
// closes the connection and every later send fails fast.
func (c *tcpConn) Send(dest message.Loc, msg message.Message) error {
	if c.closed.Load() {
		return errors.WrapTransient(errors.ErrConnectionClosed,
			"tcpConn", "Send", c.RemoteAddr())
	}

	frame, err := EncodeFrame(dest, msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	_, werr := c.nc.Write(frame)
	c.writeMu.Unlock()

	if werr != nil {
		_ = c.Close()
		return errors.WrapTransient(errors.ErrConnectionClosed,
			"tcpConn", "Send", "write to "+c.RemoteAddr())
	}
	if c.core != nil {
		c.core.RecordFrameSent()
	}
	return nil
}

// RemoteAddr implements Conn.
func (c *tcpConn) RemoteAddr() string { return c.nc.RemoteAddr().String() }

// Close implements Conn. Idempotent.
func (c *tcpConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.core != nil {
		c.core.RecordConnectionClosed()
	}
	return c.nc.Close()
}

// readLoop decodes inbound frames until the connection dies. A
// malformed frame is a protocol violation and closes the connection;
// resynchronizing a corrupt length-prefixed stream is not possible.
func (c *tcpConn) readLoop(handler Handler) {
	defer func() { _ = c.Close() }()

	br := bufio.NewReader(c.nc)
	for {
		msg, dest, err := ReadFrame(br)
		if err != nil {
			if !c.closed.Load() {
				c.logger.Debug("connection read ended",
					"remote", c.RemoteAddr(), "error", err)
			}
			return
		}
		if c.core != nil {
			c.core.RecordFrameReceived()
		}
		handler(dest, msg)
	}
}

// tcpListener serves inbound connections for one bound address.
type tcpListener struct {
	transport *TCPTransport
	ln        net.Listener

	mu     sync.Mutex
	conns  map[*tcpConn]struct{}
	closed atomic.Bool
}

func (l *tcpListener) acceptLoop(handler Handler) {
	for {
		nc, err := l.ln.Accept()
		if err != nil {
			if !l.closed.Load() {
				l.transport.logger.Error("accept failed", "error", err)
			}
			return
		}

		c := l.transport.newConn(nc)
		l.mu.Lock()
		l.conns[c] = struct{}{}
		l.mu.Unlock()

		go func() {
			c.readLoop(handler)
			l.mu.Lock()
			delete(l.conns, c)
			l.mu.Unlock()
		}()
	}
}

// Addr implements Listener.
func (l *tcpListener) Addr() string { return l.ln.Addr().String() }

// Close implements Listener: stops accepting and closes every live
// connection.
func (l *tcpListener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := l.ln.Close()

	l.mu.Lock()
	conns := make([]*tcpConn, 0, len(l.conns))
	for c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	return err
}
