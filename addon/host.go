package addon

import (
	"sync"
	"sync/atomic"

	"github.com/c360/flowmesh/errors"
	"github.com/c360/flowmesh/extension"
	"github.com/c360/flowmesh/manifest"
)

// Host is the store's record for one registered addon: metadata plus
// the set of live instances it produced. A host is destroyed only
// after every instance it produced has been destroyed.
type Host struct {
	addonType Type
	name      string
	baseDir   string
	manifest  *manifest.Manifest
	property  map[string]any
	addon     Addon

	mu        sync.Mutex
	live      map[extension.Extension]string // instance -> instance name
	instances atomic.Int64
}

// HostOption configures a Host at registration.
type HostOption func(*Host)

// WithBaseDir records the directory the addon was discovered in.
func WithBaseDir(dir string) HostOption {
	return func(h *Host) { h.baseDir = dir }
}

// WithManifest attaches the addon's manifest for api validation.
func WithManifest(m *manifest.Manifest) HostOption {
	return func(h *Host) { h.manifest = m }
}

// WithDefaultProperty attaches default instance properties, merged
// under node properties at instantiation.
func WithDefaultProperty(props map[string]any) HostOption {
	return func(h *Host) { h.property = props }
}

// NewHost creates a host record.
func NewHost(addonType Type, name string, a Addon, opts ...HostOption) *Host {
	h := &Host{
		addonType: addonType,
		name:      name,
		addon:     a,
		live:      make(map[extension.Extension]string),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Type returns the addon type.
func (h *Host) Type() Type { return h.addonType }

// Name returns the addon name.
func (h *Host) Name() string { return h.name }

// BaseDir returns the discovery directory, empty for static addons.
func (h *Host) BaseDir() string { return h.baseDir }

// Manifest returns the attached manifest, nil for static addons
// registered without one.
func (h *Host) Manifest() *manifest.Manifest { return h.manifest }

// DefaultProperty returns the addon's default instance properties.
func (h *Host) DefaultProperty() map[string]any { return h.property }

// Addon returns the factory.
func (h *Host) Addon() Addon { return h.addon }

// LiveInstances returns the number of instances created and not yet
// destroyed.
func (h *Host) LiveInstances() int64 { return h.instances.Load() }

// trackInstance records a newly created instance.
func (h *Host) trackInstance(ext extension.Extension, instanceName string) {
	h.mu.Lock()
	h.live[ext] = instanceName
	h.mu.Unlock()
	h.instances.Add(1)
}

// untrackInstance removes an instance; the second removal of the same
// instance reports the double-destroy programming error.
func (h *Host) untrackInstance(ext extension.Extension) error {
	h.mu.Lock()
	_, ok := h.live[ext]
	if ok {
		delete(h.live, ext)
	}
	h.mu.Unlock()

	if !ok {
		return errors.WrapInvalid(errors.ErrInstanceNotFound,
			"Host", "untrackInstance", "instance destroyed twice for addon "+h.name)
	}
	h.instances.Add(-1)
	return nil
}
