// Package message defines the typed message model for the FlowMesh
// runtime: the envelope kinds (Command, CommandResult, Data,
// AudioFrame, VideoFrame), the Loc address triple, and the property
// bag carried by every message.
//
// # Design principles
//
//   - Messages are plain data: they carry no routing or storage logic.
//     The engine's routing table decides where a message goes; the
//     message only records where it came from.
//   - Commands are correlated: every Command carries a unique
//     correlation id and a return-path stack of Locs. Each forward hop
//     pushes its Loc; results walk the stored stack backwards, so a
//     result reaches its originator even if the topology changed after
//     the Command was sent.
//   - Fan-out never shares state: Clone produces an independent copy
//     (fresh property map, fresh buffers) so two destinations can
//     mutate their copies freely.
//
// # Example
//
//	cmd := message.NewCmd("ping",
//	    message.WithProperty("seq", 1),
//	)
//	cmd.SetSource(message.Loc{AppURI: "tcp://localhost:8001/", GraphID: g, ExtensionName: "client"})
package message
