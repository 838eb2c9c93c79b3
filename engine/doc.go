// Package engine runs one graph instance: it owns the extension groups
// and their runloops, drives every extension through its lifecycle
// chain, and routes messages between extensions according to the
// graph's connections.
//
// # Lifecycle
//
// Start validates the definition, allocates one runloop per declared
// group (default one per extension), creates instances through the
// addon store, then drives Configure, Init and Start across all nodes
// stage by stage. Stop walks the nodes in reverse topological order so
// downstream consumers acknowledge their stop before their producers,
// deinitializes every instance, destroys it through its addon, and
// finally joins the group runloops.
//
// # Routing
//
// The routing table is built once at Start from the graph connections:
// (source extension, message type, message name) → ordered destination
// list. Fan-out clones the message per destination so no two extensions
// share a property bag. Commands register correlation state keyed by
// the command id; results walk the stored return path backwards and
// fire the sender's result handler on the sender's runloop. A command
// with zero destinations fails synchronously and never produces a
// result.
//
// Remote destinations (a Loc whose app URI is not this process) are
// handed to the RemoteSender installed by the app; the engine itself
// never opens sockets.
package engine
