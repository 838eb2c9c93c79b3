package addon

import (
	"context"

	"github.com/c360/flowmesh/errors"
	"github.com/c360/flowmesh/extension"
)

// Type classifies what a registered factory produces.
type Type string

const (
	// TypeExtension produces message-processing extensions.
	TypeExtension Type = "extension"
	// TypeProtocol produces wire-protocol transports.
	TypeProtocol Type = "protocol"
	// TypeLoader produces addon loaders.
	TypeLoader Type = "addon_loader"
	// TypeSystem produces runtime-internal components.
	TypeSystem Type = "system"
)

// ParseType validates an addon type string from a manifest.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeExtension, TypeProtocol, TypeLoader, TypeSystem:
		return Type(s), nil
	default:
		return "", errors.WrapInvalid(errors.ErrInvalidConfig,
			"addon", "ParseType", "unknown addon type "+s)
	}
}

// Addon is a registered factory. CreateInstance is invoked on the
// store's runloop (the addon thread); implementations must not block
// it on long I/O. Do that in OnStart of the produced extension.
type Addon interface {
	// CreateInstance produces a new extension for the given instance
	// name and resolved property bag.
	CreateInstance(ctx context.Context, instanceName string, props map[string]any) (extension.Extension, error)

	// DestroyInstance releases factory-held resources for an instance
	// produced earlier. Called after the instance deinitialized.
	DestroyInstance(ext extension.Extension) error
}

// Factory adapts a plain constructor function to the Addon interface,
// for addons without factory-level state.
type Factory func(ctx context.Context, instanceName string, props map[string]any) (extension.Extension, error)

// CreateInstance implements Addon.
func (f Factory) CreateInstance(ctx context.Context, instanceName string, props map[string]any) (extension.Extension, error) {
	return f(ctx, instanceName, props)
}

// DestroyInstance implements Addon.
func (f Factory) DestroyInstance(extension.Extension) error { return nil }
