package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/flowmesh/errors"
)

func pipelineDef() *Definition {
	return &Definition{
		Nodes: []Node{
			{Name: "mic", Addon: "audio-in"},
			{Name: "stt", Addon: "stt"},
			{Name: "llm", Addon: "llm"},
			{Name: "tts", Addon: "tts"},
		},
		Connections: []Connection{
			{Extension: "mic", MsgType: "audio_frame", Name: "pcm",
				Dest: []Dest{{Extension: "stt"}}},
			{Extension: "stt", MsgType: "data", Name: "transcript",
				Dest: []Dest{{Extension: "llm"}}},
			{Extension: "llm", MsgType: "data", Name: "reply",
				Dest: []Dest{{Extension: "tts"}}},
		},
	}
}

func TestParse(t *testing.T) {
	def, err := Parse([]byte(`{
		"nodes": [
			{"name": "a", "addon": "echo", "property": {"k": "v"}},
			{"name": "b", "addon": "echo", "group": "workers"}
		],
		"connections": [
			{"extension": "a", "msg_type": "cmd", "name": "ping",
			 "dest": [{"extension": "b"}]}
		]
	}`))
	require.NoError(t, err)
	require.Len(t, def.Nodes, 2)
	assert.Equal(t, "v", def.Node("a").Property["k"])
	assert.Equal(t, "workers", def.Node("b").Group)
	assert.Nil(t, def.Node("missing"))

	conns := def.ConnectionsFrom("a")
	require.Len(t, conns, 1)
	assert.Equal(t, "ping", conns[0].Name)
}

func TestParseInvalidJSON(t *testing.T) {
	_, err := Parse([]byte(`{nodes`))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestValidateValid(t *testing.T) {
	result := pipelineDef().Validate()
	assert.True(t, result.Valid())
	assert.Equal(t, "valid", result.Status)
	assert.NoError(t, result.Err())
}

func TestValidateReportsAllViolations(t *testing.T) {
	def := &Definition{
		Nodes: []Node{
			{Name: "a", Addon: "echo"},
			{Name: "b"}, // missing addon
		},
		Connections: []Connection{
			{Extension: "a", MsgType: "cmd", Name: "x",
				Dest: []Dest{{Extension: "ghost1"}, {Extension: "ghost2"}}},
			{Extension: "nobody", MsgType: "bogus", Name: "y",
				Dest: []Dest{{Extension: "a"}}},
		},
	}

	result := def.Validate()
	require.False(t, result.Valid())

	types := map[string]int{}
	for _, issue := range result.Errors {
		types[issue.Type]++
	}
	// Every violation is reported, not just the first.
	assert.Equal(t, 1, types["missing_addon"])
	assert.Equal(t, 2, types["unknown_destination"])
	assert.Equal(t, 1, types["unknown_source"])
	assert.Equal(t, 1, types["invalid_msg_type"])

	err := result.Err()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidGraph))
	assert.Contains(t, err.Error(), "ghost1")
	assert.Contains(t, err.Error(), "ghost2")
}

func TestValidateEmptyGraph(t *testing.T) {
	result := (&Definition{}).Validate()
	require.False(t, result.Valid())
	assert.Equal(t, "empty_graph", result.Errors[0].Type)
}

func TestValidateDuplicateNode(t *testing.T) {
	def := &Definition{
		Nodes: []Node{
			{Name: "a", Addon: "echo"},
			{Name: "a", Addon: "echo"},
		},
	}
	result := def.Validate()
	require.False(t, result.Valid())
	assert.Equal(t, "duplicate_node", result.Errors[0].Type)
}

func TestValidateRemoteDestinationSkipped(t *testing.T) {
	def := &Definition{
		Nodes: []Node{{Name: "a", Addon: "echo"}},
		Connections: []Connection{
			{Extension: "a", MsgType: "cmd", Name: "x",
				Dest: []Dest{{App: "tcp://remote:8001/", Extension: "far"}}},
		},
	}
	// Remote destinations resolve on the remote app at delivery time.
	assert.True(t, def.Validate().Valid())
}

func TestReverseTopologicalOrder(t *testing.T) {
	order := pipelineDef().ReverseTopologicalOrder()
	require.Len(t, order, 4)

	pos := map[string]int{}
	for i, name := range order {
		pos[name] = i
	}
	// Downstream-most first: consumers stop before their producers.
	assert.Less(t, pos["tts"], pos["llm"])
	assert.Less(t, pos["llm"], pos["stt"])
	assert.Less(t, pos["stt"], pos["mic"])
}

func TestReverseTopologicalOrderFanOut(t *testing.T) {
	def := &Definition{
		Nodes: []Node{
			{Name: "src", Addon: "x"},
			{Name: "a", Addon: "x"},
			{Name: "b", Addon: "x"},
		},
		Connections: []Connection{
			{Extension: "src", MsgType: "data", Name: "d",
				Dest: []Dest{{Extension: "a"}, {Extension: "b"}}},
		},
	}
	order := def.ReverseTopologicalOrder()
	require.Len(t, order, 3)
	assert.Equal(t, "src", order[2])
}

func TestReverseTopologicalOrderCycle(t *testing.T) {
	def := &Definition{
		Nodes: []Node{
			{Name: "a", Addon: "x"},
			{Name: "b", Addon: "x"},
		},
		Connections: []Connection{
			{Extension: "a", MsgType: "data", Name: "d", Dest: []Dest{{Extension: "b"}}},
			{Extension: "b", MsgType: "data", Name: "d", Dest: []Dest{{Extension: "a"}}},
		},
	}
	// Cycles must not hang or drop nodes.
	order := def.ReverseTopologicalOrder()
	assert.Len(t, order, 2)
}

func TestDestLoc(t *testing.T) {
	loc := Dest{App: "tcp://h:1/", Extension: "e"}.Loc("g-1")
	assert.Equal(t, "tcp://h:1/", loc.AppURI)
	assert.Equal(t, "g-1", loc.GraphID)
	assert.Equal(t, "e", loc.ExtensionName)
}
