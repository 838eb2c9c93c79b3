package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/flowmesh/addon"
	"github.com/c360/flowmesh/engine"
	"github.com/c360/flowmesh/errors"
	"github.com/c360/flowmesh/extension"
	"github.com/c360/flowmesh/graph"
	"github.com/c360/flowmesh/message"
)

func newTestApp(t *testing.T, opts ...Option) *App {
	t.Helper()
	a := New(opts...)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Stop(2 * time.Second) })
	return a
}

func registerFactory(t *testing.T, store *addon.Store, name string, ext extension.Extension) {
	t.Helper()
	_, err := store.Register(addon.TypeExtension, name,
		addon.Factory(func(context.Context, string, map[string]any) (extension.Extension, error) {
			return ext, nil
		}))
	require.NoError(t, err)
}

func waitResult(t *testing.T, ch <-chan *message.CmdResult) *message.CmdResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(3 * time.Second):
		t.Fatal("no result arrived")
		return nil
	}
}

// pongExt answers "ping" with a result carrying a reply property.
type pongExt struct {
	extension.Base
}

func (p *pongExt) OnCmd(env extension.Env, cmd *message.Cmd) error {
	if cmd.Name() != "ping" {
		return p.Base.OnCmd(env, cmd)
	}
	res := message.NewResult(cmd, message.StatusOK, "", true,
		message.WithProperty("reply", "pong"))
	return env.ReturnResult(res)
}

// pingExt fires a ping from OnStart and records the answer.
type pingExt struct {
	extension.Base
	results chan *message.CmdResult
}

func (p *pingExt) OnStart(env extension.Env) error {
	return env.SendCmd(message.NewCmd("ping"),
		func(_ extension.Env, res *message.CmdResult) {
			p.results <- res
		})
}

func pingPongDef() *graph.Definition {
	return &graph.Definition{
		Nodes: []graph.Node{
			{Name: "ping", Addon: "ping"},
			{Name: "pong", Addon: "pong"},
		},
		Connections: []graph.Connection{
			{Extension: "ping", MsgType: "cmd", Name: "ping",
				Dest: []graph.Dest{{Extension: "pong"}}},
		},
	}
}

const pongOnlyJSON = `{"nodes":[{"name":"pong","addon":"pong"}]}`

func TestAppStartStop(t *testing.T) {
	a := New()
	require.NoError(t, a.Start(context.Background()))
	assert.True(t, a.Running())

	err := a.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAlreadyStarted))

	require.NoError(t, a.Stop(2*time.Second))
	assert.False(t, a.Running())

	// Stop is idempotent.
	require.NoError(t, a.Stop(2*time.Second))
}

func TestStartGraphBeforeAppRefused(t *testing.T) {
	a := New()
	_, err := a.StartGraph(context.Background(), pingPongDef())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotStarted))
}

func TestStartAndStopGraphLocal(t *testing.T) {
	a := newTestApp(t)
	ping := &pingExt{results: make(chan *message.CmdResult, 1)}
	registerFactory(t, a.Store(), "ping", ping)
	registerFactory(t, a.Store(), "pong", &pongExt{})

	eng, err := a.StartGraph(context.Background(), pingPongDef())
	require.NoError(t, err)

	res := waitResult(t, ping.results)
	assert.Equal(t, message.StatusOK, res.Status())
	assert.Equal(t, "pong", res.Properties().GetString("reply", ""))

	assert.Contains(t, a.GraphIDs(), eng.GraphID())
	require.NoError(t, a.StopGraph(eng.GraphID(), 2*time.Second))
	assert.Nil(t, a.Engine(eng.GraphID()))

	err = a.StopGraph(eng.GraphID(), 2*time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInstanceNotFound))
}

func TestBuiltinStartAndStopGraph(t *testing.T) {
	a := newTestApp(t)
	registerFactory(t, a.Store(), "pong", &pongExt{})

	results := make(chan *message.CmdResult, 1)
	start := message.NewCmd(CmdStartGraph,
		message.WithProperty("graph_json", pongOnlyJSON))
	require.NoError(t, a.SendAppCmd(message.Loc{}, start,
		func(res *message.CmdResult) { results <- res }))

	res := waitResult(t, results)
	require.Equal(t, message.StatusOK, res.Status())
	assert.True(t, res.IsFinal())

	graphID := res.Properties().GetString("graph_id", "")
	require.NotEmpty(t, graphID)
	eng := a.Engine(graphID)
	require.NotNil(t, eng)
	assert.True(t, eng.Running())

	stop := message.NewCmd(CmdStopGraph,
		message.WithProperty("graph_id", graphID))
	require.NoError(t, a.SendAppCmd(message.Loc{}, stop,
		func(res *message.CmdResult) { results <- res }))

	res = waitResult(t, results)
	assert.Equal(t, message.StatusOK, res.Status())
	assert.Nil(t, a.Engine(graphID))
}

func TestBuiltinErrors(t *testing.T) {
	a := newTestApp(t)
	results := make(chan *message.CmdResult, 1)

	require.NoError(t, a.SendAppCmd(message.Loc{}, message.NewCmd("reboot"),
		func(res *message.CmdResult) { results <- res }))
	res := waitResult(t, results)
	assert.Equal(t, message.StatusError, res.Status())
	assert.Contains(t, res.Detail(), "unknown app command")

	require.NoError(t, a.SendAppCmd(message.Loc{}, message.NewCmd(CmdStopGraph),
		func(res *message.CmdResult) { results <- res }))
	res = waitResult(t, results)
	assert.Equal(t, message.StatusError, res.Status())
	assert.Contains(t, res.Detail(), "graph_id")

	bad := message.NewCmd(CmdStartGraph,
		message.WithProperty("graph_json", `{"nodes":[`))
	require.NoError(t, a.SendAppCmd(message.Loc{}, bad,
		func(res *message.CmdResult) { results <- res }))
	res = waitResult(t, results)
	assert.Equal(t, message.StatusError, res.Status())
}

func TestPropertyFileWithAutoStart(t *testing.T) {
	t.Setenv("FLOWMESH_TEST_TAG", "v1")
	path := filepath.Join(t.TempDir(), "property.yaml")
	content := `
tag: ${env:FLOWMESH_TEST_TAG}
predefined_graphs:
  - name: echo
    auto_start: true
    graph:
      nodes:
        - name: pong
          addon: pong
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	a := New(WithPropertyFile(path))
	registerFactory(t, a.Store(), "pong", &pongExt{})
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() { _ = a.Stop(2 * time.Second) })

	tag, ok := a.Property("tag")
	require.True(t, ok)
	assert.Equal(t, "v1", tag)

	ids := a.GraphIDs()
	require.Len(t, ids, 1)
	eng := a.Engine(ids[0])
	require.NotNil(t, eng)
	assert.True(t, eng.Running())
	assert.NotNil(t, eng.Definition().Node("pong"))
}

func TestStartPredefinedGraphUnknownName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "property.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"predefined_graphs":[]}`), 0o600))

	a := newTestApp(t, WithPropertyFile(path))
	_, err := a.StartPredefinedGraph(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMissingConfig))
}

func TestRemoteStartGraphOverWire(t *testing.T) {
	peer := newTestApp(t, WithURI("tcp://127.0.0.1:0/"))
	registerFactory(t, peer.Store(), "pong", &pongExt{})

	local := newTestApp(t, WithURI("tcp://127.0.0.1:0/"))

	results := make(chan *message.CmdResult, 1)
	start := message.NewCmd(CmdStartGraph,
		message.WithProperty("graph_json", pongOnlyJSON))
	require.NoError(t, local.SendAppCmd(message.Loc{AppURI: peer.URI()}, start,
		func(res *message.CmdResult) { results <- res }))

	res := waitResult(t, results)
	require.Equal(t, message.StatusOK, res.Status(), res.Detail())

	graphID := res.Properties().GetString("graph_id", "")
	require.NotEmpty(t, graphID)
	require.NotNil(t, peer.Engine(graphID))
	assert.Nil(t, local.Engine(graphID))

	stop := message.NewCmd(CmdStopGraph,
		message.WithProperty("graph_id", graphID))
	require.NoError(t, local.SendAppCmd(message.Loc{AppURI: peer.URI()}, stop,
		func(res *message.CmdResult) { results <- res }))

	res = waitResult(t, results)
	assert.Equal(t, message.StatusOK, res.Status())
	assert.Nil(t, peer.Engine(graphID))
}

func TestCrossAppPingPong(t *testing.T) {
	askerApp := newTestApp(t, WithURI("tcp://127.0.0.1:0/"))
	answerApp := newTestApp(t, WithURI("tcp://127.0.0.1:0/"))

	ping := &pingExt{results: make(chan *message.CmdResult, 1)}
	registerFactory(t, askerApp.Store(), "ping", ping)
	registerFactory(t, answerApp.Store(), "pong", &pongExt{})

	def := &graph.Definition{
		Nodes: []graph.Node{
			{Name: "ping", Addon: "ping", App: askerApp.URI()},
			{Name: "pong", Addon: "pong", App: answerApp.URI()},
		},
		Connections: []graph.Connection{
			{Extension: "ping", MsgType: "cmd", Name: "ping",
				Dest: []graph.Dest{{App: answerApp.URI(), Extension: "pong"}}},
		},
	}

	// Both apps load the same definition under one shared graph id;
	// each instantiates only the nodes it hosts. The answering side
	// comes up first so the ping fired on start finds it.
	const graphID = "shared-session"
	_, err := answerApp.StartGraph(context.Background(), def, engine.WithGraphID(graphID))
	require.NoError(t, err)
	_, err = askerApp.StartGraph(context.Background(), def, engine.WithGraphID(graphID))
	require.NoError(t, err)

	res := waitResult(t, ping.results)
	assert.Equal(t, message.StatusOK, res.Status())
	assert.True(t, res.IsFinal())
	assert.Equal(t, "pong", res.Properties().GetString("reply", ""))
}

// flushRecorder signals every flush it is handed.
type flushRecorder struct {
	extension.Base
	flushes chan struct{}
}

func (f *flushRecorder) OnCmd(env extension.Env, cmd *message.Cmd) error {
	if cmd.IsFlush() {
		f.flushes <- struct{}{}
		return nil
	}
	return f.Base.OnCmd(env, cmd)
}

func TestCrossAppFlushPropagation(t *testing.T) {
	srcApp := newTestApp(t, WithURI("tcp://127.0.0.1:0/"))
	sinkApp := newTestApp(t, WithURI("tcp://127.0.0.1:0/"))

	relay := &flushRecorder{flushes: make(chan struct{}, 1)}
	sink := &flushRecorder{flushes: make(chan struct{}, 1)}
	registerFactory(t, srcApp.Store(), "src", &extension.Base{})
	registerFactory(t, sinkApp.Store(), "relay", relay)
	registerFactory(t, sinkApp.Store(), "sink", sink)

	def := &graph.Definition{
		Nodes: []graph.Node{
			{Name: "src", Addon: "src", App: srcApp.URI()},
			{Name: "relay", Addon: "relay", App: sinkApp.URI()},
			{Name: "sink", Addon: "sink", App: sinkApp.URI()},
		},
		Connections: []graph.Connection{
			{Extension: "src", MsgType: "data", Name: "d",
				Dest: []graph.Dest{{App: sinkApp.URI(), Extension: "relay"}}},
			{Extension: "relay", MsgType: "data", Name: "d",
				Dest: []graph.Dest{{Extension: "sink"}}},
		},
	}

	const graphID = "flush-session"
	_, err := sinkApp.StartGraph(context.Background(), def, engine.WithGraphID(graphID))
	require.NoError(t, err)
	src, err := srcApp.StartGraph(context.Background(), def, engine.WithGraphID(graphID))
	require.NoError(t, err)

	proxy, err := src.Instance("src").NewProxy()
	require.NoError(t, err)
	require.NoError(t, proxy.Notify(func(env extension.Env) {
		_ = env.SendCmd(message.NewCmd(message.CmdFlush), nil)
	}))

	// The flush crosses the wire to relay, then continues along relay's
	// local edge to sink.
	for name, ch := range map[string]chan struct{}{
		"relay": relay.flushes,
		"sink":  sink.flushes,
	} {
		select {
		case <-ch:
		case <-time.After(3 * time.Second):
			t.Fatalf("%s never saw the flush", name)
		}
	}
	require.NoError(t, proxy.Release())
}
