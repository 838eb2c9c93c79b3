// Package app hosts the process-level runtime surface. One App owns
// the addon store lifecycle, the set of running graph engines, a
// primary runloop for control commands, and the remote transport
// endpoints. It implements engine.RemoteSender, so every engine it
// starts can reach extensions hosted by peer apps over the wire.
//
// Two commands are handled by the app itself rather than an extension:
// start_graph and stop_graph. They are addressed to a Loc with an
// empty graph id and extension name and answered with a final
// CommandResult.
//
// An app may load a property file (JSON or YAML, with ${env:VAR}
// substitution) carrying its listen URI and predefined graphs.
// Predefined graphs marked auto_start are started during App.Start.
package app
