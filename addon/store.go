package addon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/flowmesh"
	"github.com/c360/flowmesh/errors"
	"github.com/c360/flowmesh/extension"
	"github.com/c360/flowmesh/runloop"
)

// storeKey identifies a registered addon.
type storeKey struct {
	addonType Type
	name      string
}

// Store is the process-wide addon registry. It is the only globally
// mutable structure in the runtime: initialized at app start, torn
// down at app stop. Lookups return the stable *Host handle, so
// registry mutation never invalidates live references.
//
// Factory execution happens on the store's own runloop (the addon
// thread); the rest of the store is a coarse-locked map.
type Store struct {
	mu     sync.RWMutex
	hosts  map[storeKey]*Host
	loop   *runloop.Runloop
	logger *slog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the store's logger.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates an empty addon store with its own runloop.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		hosts:  make(map[storeKey]*Host),
		loop:   runloop.New("addon-store"),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the addon thread.
func (s *Store) Start(ctx context.Context) error {
	return s.loop.Start(ctx)
}

// Stop tears the store down. Hosts with live instances are reported:
// the app must destroy all engines first.
func (s *Store) Stop(timeout time.Duration) error {
	s.mu.Lock()
	for key, host := range s.hosts {
		if n := host.LiveInstances(); n > 0 {
			s.logger.Error("addon store stopping with live instances",
				"type", string(key.addonType),
				"addon", key.name,
				"live", n)
		}
	}
	s.hosts = make(map[storeKey]*Host)
	s.mu.Unlock()

	return s.loop.Stop(timeout)
}

// Register adds an addon under (type, name). Registering a key twice
// fails with the duplicate-registration taxonomy.
func (s *Store) Register(addonType Type, name string, a Addon, opts ...HostOption) (*Host, error) {
	if name == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Store", "Register", "addon name validation")
	}
	if a == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Store", "Register", "addon factory validation")
	}

	host := NewHost(addonType, name, a, opts...)
	key := storeKey{addonType: addonType, name: name}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.hosts[key]; exists {
		return nil, errors.WrapInvalid(errors.ErrDuplicateRegistration,
			"Store", "Register",
			fmt.Sprintf("addon (%s, %s) already registered", addonType, name))
	}
	s.hosts[key] = host
	return host, nil
}

// Unregister removes an addon. Fails while the addon still has live
// instances.
func (s *Store) Unregister(addonType Type, name string) error {
	key := storeKey{addonType: addonType, name: name}

	s.mu.Lock()
	defer s.mu.Unlock()

	host, exists := s.hosts[key]
	if !exists {
		return errors.WrapInvalid(errors.ErrAddonNotFound,
			"Store", "Unregister",
			fmt.Sprintf("addon (%s, %s) lookup", addonType, name))
	}
	if n := host.LiveInstances(); n > 0 {
		return errors.WrapInvalid(errors.ErrAlreadyStarted,
			"Store", "Unregister",
			fmt.Sprintf("addon (%s, %s) has %d live instances", addonType, name, n))
	}
	delete(s.hosts, key)
	return nil
}

// Lookup returns the stable host handle for (type, name).
func (s *Store) Lookup(addonType Type, name string) (*Host, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	host, exists := s.hosts[storeKey{addonType: addonType, name: name}]
	if !exists {
		return nil, errors.WrapInvalid(errors.ErrAddonNotFound,
			"Store", "Lookup",
			fmt.Sprintf("addon (%s, %s) lookup", addonType, name))
	}
	return host, nil
}

// Hosts returns a snapshot of all registered hosts.
func (s *Store) Hosts() []*Host {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Host, 0, len(s.hosts))
	for _, h := range s.hosts {
		out = append(out, h)
	}
	return out
}

// CreateInstanceAsync runs the addon's factory on the addon thread and
// invokes done (also on the addon thread) with the result. done fires
// before any message can be delivered to the instance, because the
// caller only wires the instance into routing after done.
func (s *Store) CreateInstanceAsync(
	ctx context.Context, addonType Type, name, instanceName string,
	props map[string]any, done func(extension.Extension, error),
) error {
	host, err := s.Lookup(addonType, name)
	if err != nil {
		return err
	}

	return s.loop.Post(func() {
		ext, err := host.Addon().CreateInstance(ctx, instanceName, props)
		if err != nil {
			done(nil, errors.Wrap(err, "Store", "CreateInstance",
				fmt.Sprintf("factory %s for instance %s", name, instanceName)))
			return
		}
		if ext == nil {
			done(nil, errors.WrapInvalid(errors.ErrInvalidData,
				"Store", "CreateInstance",
				fmt.Sprintf("factory %s returned nil instance", name)))
			return
		}
		host.trackInstance(ext, instanceName)
		done(ext, nil)
	})
}

// CreateInstance is the blocking convenience wrapper around
// CreateInstanceAsync. It must not be called from the addon thread.
func (s *Store) CreateInstance(
	ctx context.Context, addonType Type, name, instanceName string,
	props map[string]any,
) (extension.Extension, error) {
	type result struct {
		ext extension.Extension
		err error
	}
	ch := make(chan result, 1)

	err := s.CreateInstanceAsync(ctx, addonType, name, instanceName, props,
		func(ext extension.Extension, err error) {
			ch <- result{ext: ext, err: err}
		})
	if err != nil {
		return nil, err
	}

	select {
	case r := <-ch:
		return r.ext, r.err
	case <-ctx.Done():
		return nil, errors.WrapTransient(ctx.Err(), "Store", "CreateInstance", "factory wait")
	}
}

// DestroyInstance releases an instance produced by (type, name).
// Destroying the same instance twice is a programming error: fatal
// under flowmesh.Strict, a recoverable error otherwise.
func (s *Store) DestroyInstance(addonType Type, name string, ext extension.Extension) error {
	host, err := s.Lookup(addonType, name)
	if err != nil {
		return err
	}

	if err := host.untrackInstance(ext); err != nil {
		if flowmesh.Strict {
			panic(err)
		}
		s.logger.Error("double instance destroy",
			"addon", name,
			"type", string(addonType))
		return err
	}

	if err := host.Addon().DestroyInstance(ext); err != nil {
		return errors.Wrap(err, "Store", "DestroyInstance",
			fmt.Sprintf("factory %s teardown", name))
	}
	return nil
}
