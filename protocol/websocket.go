package protocol

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/flowmesh/errors"
	"github.com/c360/flowmesh/message"
	"github.com/c360/flowmesh/metric"
	"github.com/c360/flowmesh/pkg/retry"
)

// WSTransport moves frames over WebSocket (ws://host:port/). Each
// binary WebSocket message carries exactly one frame, encoded with the
// same codec as the TCP transport.
type WSTransport struct {
	logger      *slog.Logger
	dialCfg     retry.Config
	dialTimeout time.Duration
	core        *metric.Metrics
	upgrader    websocket.Upgrader
}

// WSOption configures a WSTransport.
type WSOption func(*WSTransport)

// WithWSLogger sets the transport logger.
func WithWSLogger(logger *slog.Logger) WSOption {
	return func(t *WSTransport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithWSDialConfig sets the backoff used for connection establishment.
func WithWSDialConfig(cfg retry.Config) WSOption {
	return func(t *WSTransport) { t.dialCfg = cfg }
}

// WithWSMetrics wires the core connection counters.
func WithWSMetrics(core *metric.Metrics) WSOption {
	return func(t *WSTransport) { t.core = core }
}

// NewWSTransport creates the ws:// transport.
func NewWSTransport(opts ...WSOption) *WSTransport {
	t := &WSTransport{
		logger:      slog.Default(),
		dialCfg:     retry.Quick(),
		dialTimeout: 5 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Dial connects to the app at uri with bounded backoff.
func (t *WSTransport) Dial(ctx context.Context, uri string, handler Handler) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: t.dialTimeout}

	var wc *websocket.Conn
	err := retry.Do(ctx, t.dialCfg, func() error {
		conn, _, derr := dialer.DialContext(ctx, uri, nil)
		if derr != nil {
			return derr
		}
		wc = conn
		return nil
	})
	if err != nil {
		if t.core != nil {
			t.core.RecordConnectionError()
		}
		return nil, errors.WrapTransient(err, "WSTransport", "Dial", "connect "+uri)
	}

	c := t.newConn(wc)
	go c.readLoop(handler)
	return c, nil
}

// Listen binds uri and upgrades every inbound HTTP request to a frame
// connection.
func (t *WSTransport) Listen(ctx context.Context, uri string, handler Handler) (Listener, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, errors.WrapInvalid(err, "WSTransport", "Listen", "uri parse")
	}

	ln, err := net.Listen("tcp", parsed.Host)
	if err != nil {
		return nil, errors.WrapTransient(err, "WSTransport", "Listen", "bind "+uri)
	}

	l := &wsListener{
		transport: t,
		ln:        ln,
		conns:     make(map[*wsConn]struct{}),
	}
	l.server = &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wc, uerr := t.upgrader.Upgrade(w, r, nil)
		if uerr != nil {
			t.logger.Warn("websocket upgrade failed",
				"remote", r.RemoteAddr, "error", uerr)
			return
		}

		c := t.newConn(wc)
		l.mu.Lock()
		l.conns[c] = struct{}{}
		l.mu.Unlock()

		c.readLoop(handler)

		l.mu.Lock()
		delete(l.conns, c)
		l.mu.Unlock()
	})}

	go func() {
		if serr := l.server.Serve(ln); serr != nil && serr != http.ErrServerClosed {
			if !l.closed.Load() {
				t.logger.Error("websocket server failed", "error", serr)
			}
		}
	}()
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	t.logger.Info("listening", "transport", "ws", "addr", ln.Addr().String())
	return l, nil
}

func (t *WSTransport) newConn(wc *websocket.Conn) *wsConn {
	if t.core != nil {
		t.core.RecordConnectionOpened()
	}
	return &wsConn{
		wc:     wc,
		logger: t.logger,
		core:   t.core,
	}
}

// wsConn is one live WebSocket peer connection.
type wsConn struct {
	wc     *websocket.Conn
	logger *slog.Logger
	core   *metric.Metrics

	writeMu sync.Mutex
	closed  atomic.Bool
}

// Send implements Conn.
func (c *wsConn) Send(dest message.Loc, msg message.Message) error {
	if c.closed.Load() {
		return errors.WrapTransient(errors.ErrConnectionClosed,
			"wsConn", "Send", c.RemoteAddr())
	}

	frame, err := EncodeFrame(dest, msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	werr := c.wc.WriteMessage(websocket.BinaryMessage, frame)
	c.writeMu.Unlock()

	if werr != nil {
		_ = c.Close()
		return errors.WrapTransient(errors.ErrConnectionClosed,
			"wsConn", "Send", "write to "+c.RemoteAddr())
	}
	if c.core != nil {
		c.core.RecordFrameSent()
	}
	return nil
}

// RemoteAddr implements Conn.
func (c *wsConn) RemoteAddr() string { return c.wc.RemoteAddr().String() }

// Close implements Conn. Idempotent.
func (c *wsConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.core != nil {
		c.core.RecordConnectionClosed()
	}
	return c.wc.Close()
}

// readLoop decodes inbound frames until the connection dies.
func (c *wsConn) readLoop(handler Handler) {
	defer func() { _ = c.Close() }()

	for {
		kind, data, err := c.wc.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				c.logger.Debug("connection read ended",
					"remote", c.RemoteAddr(), "error", err)
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}

		msg, dest, err := ReadFrame(bytes.NewReader(data))
		if err != nil {
			c.logger.Warn("dropping malformed frame",
				"remote", c.RemoteAddr(), "error", err)
			return
		}
		if c.core != nil {
			c.core.RecordFrameReceived()
		}
		handler(dest, msg)
	}
}

// wsListener serves inbound WebSocket connections for one bound
// address.
type wsListener struct {
	transport *WSTransport
	ln        net.Listener
	server    *http.Server

	mu     sync.Mutex
	conns  map[*wsConn]struct{}
	closed atomic.Bool
}

// Addr implements Listener.
func (l *wsListener) Addr() string { return l.ln.Addr().String() }

// Close implements Listener.
func (l *wsListener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := l.server.Close()

	l.mu.Lock()
	conns := make([]*wsConn, 0, len(l.conns))
	for c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	return err
}
