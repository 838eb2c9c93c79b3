package protocol

import (
	"context"
	"net/url"
	"sync"

	"github.com/c360/flowmesh/errors"
	"github.com/c360/flowmesh/message"
)

// Handler consumes inbound messages decoded from a peer connection.
// It runs on the connection's read goroutine; implementations hand the
// message to a runloop rather than processing inline.
type Handler func(dest message.Loc, msg message.Message)

// Conn is one established peer connection. Send is safe for concurrent
// use; after the peer closes, every Send fails with the
// connection-closed taxonomy and no delivery is retried.
type Conn interface {
	Send(dest message.Loc, msg message.Message) error
	RemoteAddr() string
	Close() error
}

// Listener accepts inbound peer connections until closed.
type Listener interface {
	// Addr returns the bound address, with the port resolved when the
	// URI asked for :0.
	Addr() string
	Close() error
}

// Transport binds one URI scheme to a connection mechanism.
type Transport interface {
	// Dial connects to the app at uri. Inbound frames on the resulting
	// connection are handed to handler.
	Dial(ctx context.Context, uri string, handler Handler) (Conn, error)

	// Listen binds uri and serves inbound connections, handing every
	// decoded frame to handler.
	Listen(ctx context.Context, uri string, handler Handler) (Listener, error)
}

// Registry maps URI schemes to transports. Apps consult it for both
// the listener and outbound connections.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]Transport
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{transports: make(map[string]Transport)}
}

// Register binds a scheme. Registering a scheme twice fails.
func (r *Registry) Register(scheme string, t Transport) error {
	if scheme == "" || t == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"Registry", "Register", "scheme and transport are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.transports[scheme]; exists {
		return errors.WrapInvalid(errors.ErrDuplicateRegistration,
			"Registry", "Register", "scheme "+scheme)
	}
	r.transports[scheme] = t
	return nil
}

// Lookup returns the transport bound to a scheme.
func (r *Registry) Lookup(scheme string) (Transport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.transports[scheme]
	if !exists {
		return nil, errors.WrapInvalid(errors.ErrUnknownScheme,
			"Registry", "Lookup", "scheme "+scheme)
	}
	return t, nil
}

// Dial resolves the transport from the URI scheme and connects.
func (r *Registry) Dial(ctx context.Context, uri string, handler Handler) (Conn, error) {
	t, err := r.lookupURI(uri)
	if err != nil {
		return nil, err
	}
	return t.Dial(ctx, uri, handler)
}

// Listen resolves the transport from the URI scheme and binds it.
func (r *Registry) Listen(ctx context.Context, uri string, handler Handler) (Listener, error) {
	t, err := r.lookupURI(uri)
	if err != nil {
		return nil, err
	}
	return t.Listen(ctx, uri, handler)
}

func (r *Registry) lookupURI(uri string) (Transport, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Registry", "lookupURI", "uri parse")
	}
	return r.Lookup(parsed.Scheme)
}
