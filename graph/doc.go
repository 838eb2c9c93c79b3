// Package graph models the static topology an engine instantiates:
// nodes (extension instances with their addon, app, and properties) and
// connections (message-name → ordered destination list).
//
// A definition is immutable once loaded. Validation happens at load
// time and reports every violation, not just the first; a graph that
// fails validation refuses to start. JSON is the only format the
// runtime parses.
//
// The package also computes the reverse topological order the engine
// uses for shutdown fan-out: downstream-most nodes stop first, so no
// node receives messages from an already-stopped upstream peer.
package graph
