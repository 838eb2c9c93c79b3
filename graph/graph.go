package graph

import (
	"encoding/json"

	"github.com/c360/flowmesh/errors"
	"github.com/c360/flowmesh/message"
)

// Definition is a static graph topology: declared nodes and the
// connections routing messages between them. Immutable once loaded.
type Definition struct {
	// Name is an optional human label; the engine assigns the runtime
	// graph id.
	Name        string       `json:"name,omitempty"`
	Nodes       []Node       `json:"nodes"`
	Connections []Connection `json:"connections,omitempty"`
}

// Node declares one extension instance.
type Node struct {
	// Name is the instance name, unique within the graph.
	Name string `json:"name"`
	// Addon names the registered addon that produces the instance.
	Addon string `json:"addon"`
	// App is the URI of the process hosting the node; empty means the
	// app loading the graph.
	App string `json:"app,omitempty"`
	// Group names the thread-affinity group. Nodes sharing a group
	// share a runloop; an empty group gives the node its own.
	Group string `json:"group,omitempty"`
	// Property is the instance property bag, merged over the addon's
	// defaults.
	Property map[string]any `json:"property,omitempty"`
}

// Connection routes one message name from a source node to an ordered
// destination list.
type Connection struct {
	// Extension is the source node name.
	Extension string `json:"extension"`
	// MsgType is the message kind this connection carries: "cmd",
	// "data", "audio_frame" or "video_frame".
	MsgType string `json:"msg_type"`
	// Name is the message name being routed.
	Name string `json:"name"`
	// Dest lists destinations in fan-out order. All destinations
	// always receive a copy.
	Dest []Dest `json:"dest"`
}

// Dest is one connection destination.
type Dest struct {
	// App is the destination process URI; empty means local.
	App string `json:"app,omitempty"`
	// Extension is the destination node name.
	Extension string `json:"extension"`
}

// Loc resolves the destination to a routable address within graphID.
func (d Dest) Loc(graphID string) message.Loc {
	return message.Loc{
		AppURI:        d.App,
		GraphID:       graphID,
		ExtensionName: d.Extension,
	}
}

// Parse decodes a JSON graph definition without validating it; callers
// run Validate before instantiating.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, errors.WrapInvalid(err, "Definition", "Parse", "graph json decode")
	}
	return &def, nil
}

// Node returns the declared node by name, or nil.
func (d *Definition) Node(name string) *Node {
	for i := range d.Nodes {
		if d.Nodes[i].Name == name {
			return &d.Nodes[i]
		}
	}
	return nil
}

// ConnectionsFrom returns all connections whose source is node name,
// in declaration order.
func (d *Definition) ConnectionsFrom(name string) []Connection {
	var out []Connection
	for _, c := range d.Connections {
		if c.Extension == name {
			out = append(out, c)
		}
	}
	return out
}
