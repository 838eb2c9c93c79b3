package addon

import (
	"fmt"

	"github.com/c360/flowmesh/errors"
	"github.com/c360/flowmesh/manifest"
)

// Loader populates a store with addons. The engine and app depend only
// on this interface, never on a specific loading mechanism; variants
// cover static linking, directory discovery, and (externally
// implemented) out-of-process addons.
type Loader interface {
	Load(store *Store) error
}

// StaticRegistration is one in-process addon for a StaticLoader.
type StaticRegistration struct {
	Type  Type
	Name  string
	Addon Addon
	// Manifest is optional; without one the addon skips api checks.
	Manifest *manifest.Manifest
	// Property is the optional default instance property bag.
	Property map[string]any
}

// StaticLoader registers compiled-in addons.
type StaticLoader struct {
	registrations []StaticRegistration
}

// NewStaticLoader creates a loader over explicit registrations.
func NewStaticLoader(regs ...StaticRegistration) *StaticLoader {
	return &StaticLoader{registrations: regs}
}

// Load implements Loader.
func (l *StaticLoader) Load(store *Store) error {
	for _, reg := range l.registrations {
		var opts []HostOption
		if reg.Manifest != nil {
			opts = append(opts, WithManifest(reg.Manifest))
		}
		if reg.Property != nil {
			opts = append(opts, WithDefaultProperty(reg.Property))
		}
		if _, err := store.Register(reg.Type, reg.Name, reg.Addon, opts...); err != nil {
			return errors.Wrap(err, "StaticLoader", "Load",
				fmt.Sprintf("register %s", reg.Name))
		}
	}
	return nil
}

// DirectoryLoader scans a base directory for addon manifests and binds
// each discovered manifest to a factory provided by name. The
// directory supplies metadata (manifest, default properties, base
// dir); the factories map supplies the code.
type DirectoryLoader struct {
	baseDir   string
	factories map[string]Addon
}

// NewDirectoryLoader creates a loader over the documented directory
// layout. factories maps addon names to their implementations.
func NewDirectoryLoader(baseDir string, factories map[string]Addon) *DirectoryLoader {
	return &DirectoryLoader{baseDir: baseDir, factories: factories}
}

// Load implements Loader. A discovered manifest without a matching
// factory fails the load: shipping metadata for code that does not
// exist is a packaging error worth surfacing early.
func (l *DirectoryLoader) Load(store *Store) error {
	entries, err := manifest.Scan(l.baseDir)
	if err != nil {
		return errors.Wrap(err, "DirectoryLoader", "Load", "manifest scan")
	}

	for _, entry := range entries {
		name := entry.Manifest.Name
		addonType, err := ParseType(entry.Manifest.Type)
		if err != nil {
			return errors.Wrap(err, "DirectoryLoader", "Load",
				fmt.Sprintf("addon %s type", name))
		}

		factory, ok := l.factories[name]
		if !ok {
			return errors.WrapInvalid(errors.ErrAddonNotFound,
				"DirectoryLoader", "Load",
				fmt.Sprintf("no factory bound for discovered addon %s", name))
		}

		_, err = store.Register(addonType, name, factory,
			WithBaseDir(entry.BaseDir),
			WithManifest(entry.Manifest),
			WithDefaultProperty(entry.Property))
		if err != nil {
			return errors.Wrap(err, "DirectoryLoader", "Load",
				fmt.Sprintf("register %s", name))
		}
	}
	return nil
}
