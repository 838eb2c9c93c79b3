// Package extension defines the message-processing unit of a FlowMesh
// graph: the Extension interface with its lifecycle and message
// callbacks, the runtime Instance record that enforces the lifecycle
// state machine, the ExtensionGroup binding instances to one runloop,
// and the Env/EnvProxy capability handles extensions use to interact
// with the runtime.
//
// # Lifecycle
//
// Every extension observes, exactly once per instance lifetime:
//
//	OnConfigure → OnInit → OnStart → {OnCmd/OnData/OnAudioFrame/OnVideoFrame}* → OnStop → OnDeinit
//
// Returning from a callback acknowledges the stage; the runtime does
// not proceed to the next stage before the previous callback returned.
// Long-running stage work belongs in goroutines the extension spawns
// itself, re-entering the runloop through an EnvProxy when finished.
// Skipping or double-driving a stage is an integrity violation: fatal
// (panic) when flowmesh.Strict is set, logged with full context and
// tolerated best-effort otherwise.
//
// # Threading
//
// An instance is bound to exactly one runloop for its entire life; all
// of its callbacks execute on that runloop. Code on any other thread
// must go through an EnvProxy, whose Notify posts a closure onto the
// owning runloop. Proxy handles are counted and must all be released
// before the instance is deinitialized.
//
// # Flush
//
// The "flush" command is privileged. When it reaches an instance's
// inbox, every queued-but-undispatched message is discarded before the
// flush itself is handed to OnCmd; a message already mid-handler
// completes normally. The engine then forwards the flush to all of the
// instance's downstream destinations.
package extension
