// Package flowmesh is a pluggable runtime for composing
// independently-developed extensions into directed message-passing
// graphs, built for real-time multimodal pipelines
// (audio → transcription → reasoning → speech).
//
// # Architecture
//
// FlowMesh is organised around a small number of cooperating layers:
//
//	┌─────────────────────────────────────┐
//	│              App                    │  Addon store, engines,
//	│   (primary runloop, listener)       │  remote connections
//	└─────────────────────────────────────┘
//	           ↓ instantiates
//	┌─────────────────────────────────────┐
//	│             Engine                  │  One per running graph:
//	│  (routing table, correlation)       │  start/stop, fan-out
//	└─────────────────────────────────────┘
//	           ↓ owns
//	┌─────────────────────────────────────┐
//	│         ExtensionGroups             │  Extensions sharing one
//	│   (lifecycle, inbox dispatch)       │  runloop each
//	└─────────────────────────────────────┘
//	           ↓ communicate via
//	┌─────────────────────────────────────┐
//	│            Messages                 │  Command / Data /
//	│  (typed, correlated, ordered)       │  AudioFrame / VideoFrame
//	└─────────────────────────────────────┘
//
// # Concurrency model
//
// Each extension is bound to exactly one runloop (a single-goroutine
// event loop) for its entire life; every callback for that extension
// executes on that runloop. The only legal cross-thread interaction is
// posting a closure through an EnvProxy, which enqueues onto the target
// runloop. There is no shared-memory mutation across runloops.
//
// # Messaging model
//
// Commands carry a correlation id and a return-path stack; results
// travel the stored return path back to the originator rather than
// being re-resolved against the topology. Data, audio-frame and
// video-frame messages are fire-and-forget streams fanned out in
// connection declaration order. A privileged "flush" command discards
// queued-but-undispatched messages at each hop and propagates
// downstream, which is how an interrupted user turn cancels an
// in-flight reasoning/speech pipeline.
//
// Graphs may span processes: the protocol package frames messages as
// length-prefixed, self-describing binary payloads over TCP or
// WebSocket connections, keyed by the destination location's app URI.
package flowmesh

// Strict controls how lifecycle integrity violations are handled.
// When true (debug builds, set by the binary's -debug flag) a
// violation panics; when false it is logged with full context and the
// runtime continues best-effort. Violations are never silently
// swallowed either way.
var Strict bool
