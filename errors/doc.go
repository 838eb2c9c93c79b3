// Package errors provides standardized error handling for the FlowMesh
// runtime. It defines the runtime's error taxonomy as sentinel values
// (no destination, connection closed, integrity violation, registry and
// schema errors, timeouts), an error classification scheme for retry
// decisions, and helper functions for consistent error wrapping across
// packages.
//
// Wrapping follows the pattern "component.method: action failed: %w" so
// that log lines and test failures read uniformly:
//
//	if err := store.Register(host); err != nil {
//	    return errors.Wrap(err, "App", "Start", "addon registration")
//	}
//
// Classification splits errors into transient (worth retrying),
// invalid (caller mistake) and fatal (stop processing). Senders use
// the sentinels directly with errors.Is to branch on the taxonomy:
//
//	if errors.Is(err, errors.ErrNoDestination) { ... }
package errors
