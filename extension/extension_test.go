package extension

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/flowmesh/errors"
	"github.com/c360/flowmesh/message"
	"github.com/c360/flowmesh/runloop"
)

// fakeEnv records interactions for assertions. Sends are not routed.
type fakeEnv struct {
	mu      sync.Mutex
	loc     message.Loc
	results []*message.CmdResult
	props   map[string]any
}

func newFakeEnv(name string) *fakeEnv {
	return &fakeEnv{
		loc:   message.Loc{GraphID: "test", ExtensionName: name},
		props: make(map[string]any),
	}
}

func (e *fakeEnv) Loc() message.Loc { return e.loc }

func (e *fakeEnv) SendCmd(*message.Cmd, ResultHandler, ...SendOption) error { return nil }
func (e *fakeEnv) SendData(*message.Data) error                            { return nil }
func (e *fakeEnv) SendAudioFrame(*message.AudioFrame) error                { return nil }
func (e *fakeEnv) SendVideoFrame(*message.VideoFrame) error                { return nil }

func (e *fakeEnv) ReturnResult(res *message.CmdResult) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.results = append(e.results, res)
	return nil
}

func (e *fakeEnv) GetProperty(key string) (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.props[key]
	return v, ok
}

func (e *fakeEnv) SetProperty(key string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.props[key] = value
}

func (e *fakeEnv) Log() *slog.Logger { return slog.Default() }

func (e *fakeEnv) resultAt(i int) *message.CmdResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i >= len(e.results) {
		return nil
	}
	return e.results[i]
}

func (e *fakeEnv) resultCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.results)
}

// recordingExt records the callback sequence it observes.
type recordingExt struct {
	Base
	mu     sync.Mutex
	stages []string
	msgs   []string
}

func (r *recordingExt) record(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, s)
}

func (r *recordingExt) OnConfigure(Env) error { r.record("configure"); return nil }
func (r *recordingExt) OnInit(Env) error      { r.record("init"); return nil }
func (r *recordingExt) OnStart(Env) error     { r.record("start"); return nil }
func (r *recordingExt) OnStop(Env) error      { r.record("stop"); return nil }
func (r *recordingExt) OnDeinit(Env) error    { r.record("deinit"); return nil }

func (r *recordingExt) OnData(_ Env, d *message.Data) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, d.Name())
	return nil
}

func (r *recordingExt) observed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.stages...)
}

func startedInstance(t *testing.T, ext Extension, name string) (*Instance, *fakeEnv, func()) {
	t.Helper()

	loop := runloop.New("test:" + name)
	require.NoError(t, loop.Start(context.Background()))

	inst := NewInstance(name, ext, loop)
	env := newFakeEnv(name)
	inst.SetEnv(env)

	driveStage(t, inst.Configure)
	driveStage(t, inst.Init)
	driveStage(t, inst.Start)

	cleanup := func() { _ = loop.Stop(time.Second) }
	return inst, env, cleanup
}

func driveStage(t *testing.T, stage func(func(error)) error) {
	t.Helper()
	errCh := make(chan error, 1)
	require.NoError(t, stage(func(err error) { errCh <- err }))
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("lifecycle stage never acknowledged")
	}
}

func driveStageErr(t *testing.T, stage func(func(error)) error) error {
	t.Helper()
	errCh := make(chan error, 1)
	require.NoError(t, stage(func(err error) { errCh <- err }))
	select {
	case err := <-errCh:
		return err
	case <-time.After(time.Second):
		t.Fatal("lifecycle stage never acknowledged")
		return nil
	}
}

func TestLifecycleSequence(t *testing.T) {
	ext := &recordingExt{}
	inst, _, cleanup := startedInstance(t, ext, "rec")
	defer cleanup()

	driveStage(t, inst.Stop)
	driveStage(t, inst.Deinit)

	assert.Equal(t,
		[]string{"configure", "init", "start", "stop", "deinit"},
		ext.observed())
}

func TestLifecycleDoubleStart(t *testing.T) {
	inst, _, cleanup := startedInstance(t, &recordingExt{}, "dbl")
	defer cleanup()

	err := driveStageErr(t, inst.Start)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrIntegrityViolation))
}

func TestLifecycleSkippedStage(t *testing.T) {
	loop := runloop.New("test:skip")
	require.NoError(t, loop.Start(context.Background()))
	defer func() { _ = loop.Stop(time.Second) }()

	inst := NewInstance("skip", &recordingExt{}, loop)
	inst.SetEnv(newFakeEnv("skip"))

	// Start without Configure/Init is an illegal edge.
	err := driveStageErr(t, inst.Start)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrIntegrityViolation))
}

func TestMessagesQueuedUntilStarted(t *testing.T) {
	loop := runloop.New("test:queue")
	require.NoError(t, loop.Start(context.Background()))
	defer func() { _ = loop.Stop(time.Second) }()

	ext := &recordingExt{}
	inst := NewInstance("queue", ext, loop)
	inst.SetEnv(newFakeEnv("queue"))

	// Delivered before the lifecycle ran: must not dispatch yet.
	require.NoError(t, inst.Deliver(message.NewData("early", nil)))

	driveStage(t, inst.Configure)
	driveStage(t, inst.Init)

	ext.mu.Lock()
	assert.Empty(t, ext.msgs)
	ext.mu.Unlock()

	driveStage(t, inst.Start)

	require.Eventually(t, func() bool {
		ext.mu.Lock()
		defer ext.mu.Unlock()
		return len(ext.msgs) == 1 && ext.msgs[0] == "early"
	}, time.Second, 5*time.Millisecond)
}

func TestDeliverOrdering(t *testing.T) {
	ext := &recordingExt{}
	inst, _, cleanup := startedInstance(t, ext, "order")
	defer cleanup()

	for _, name := range []string{"m1", "m2", "m3"} {
		require.NoError(t, inst.Deliver(message.NewData(name, nil)))
	}

	require.Eventually(t, func() bool {
		ext.mu.Lock()
		defer ext.mu.Unlock()
		return len(ext.msgs) == 3
	}, time.Second, 5*time.Millisecond)

	ext.mu.Lock()
	defer ext.mu.Unlock()
	assert.Equal(t, []string{"m1", "m2", "m3"}, ext.msgs)
}

// blockingExt wedges its runloop until released, so messages pile up
// undispatched.
type blockingExt struct {
	recordingExt
	gate chan struct{}
}

func (b *blockingExt) OnData(env Env, d *message.Data) error {
	if d.Name() == "block" {
		<-b.gate
	}
	return b.recordingExt.OnData(env, d)
}

func (b *blockingExt) OnCmd(_ Env, cmd *message.Cmd) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, "cmd:"+cmd.Name())
	return nil
}

func TestFlushDiscardsQueued(t *testing.T) {
	ext := &blockingExt{gate: make(chan struct{})}
	inst, _, cleanup := startedInstance(t, ext, "flush")
	defer cleanup()

	// First message occupies the handler (mid-dispatch).
	require.NoError(t, inst.Deliver(message.NewData("block", nil)))

	// Wait for it to actually start before queueing the rest.
	require.Eventually(t, func() bool {
		return inst.Stats().Dispatched == 1
	}, time.Second, time.Millisecond)

	// Three undispatched messages pile up behind it.
	for _, name := range []string{"q1", "q2", "q3"} {
		require.NoError(t, inst.Deliver(message.NewData(name, nil)))
	}

	// Flush discards all three; the mid-handler message completes.
	require.NoError(t, inst.Deliver(message.NewCmd(message.CmdFlush)))
	close(ext.gate)

	require.Eventually(t, func() bool {
		ext.mu.Lock()
		defer ext.mu.Unlock()
		return len(ext.msgs) == 2
	}, time.Second, 5*time.Millisecond)

	ext.mu.Lock()
	defer ext.mu.Unlock()
	assert.Equal(t, []string{"block", "cmd:flush"}, ext.msgs)
	assert.Equal(t, int64(3), inst.Stats().Flushed)
}

// panickyExt panics on every command.
type panickyExt struct{ Base }

func (panickyExt) OnCmd(Env, *message.Cmd) error { panic("handler exploded") }

func TestHandlerPanicBecomesErrorResult(t *testing.T) {
	inst, env, cleanup := startedInstance(t, panickyExt{}, "panic")
	defer cleanup()

	cmd := message.NewCmd("detonate")
	require.NoError(t, inst.Deliver(cmd))

	require.Eventually(t, func() bool {
		return env.resultCount() == 1
	}, time.Second, 5*time.Millisecond)

	res := env.resultAt(0)
	assert.Equal(t, message.StatusError, res.Status())
	assert.Equal(t, cmd.CmdID(), res.CmdID())
	assert.True(t, res.IsFinal())
	assert.Contains(t, res.Detail(), "handler exploded")

	// The loop survived: another command still dispatches.
	require.NoError(t, inst.Deliver(message.NewCmd("again")))
	require.Eventually(t, func() bool {
		return inst.Stats().Dispatched == 2
	}, time.Second, 5*time.Millisecond)
}

func TestEnvProxyNotify(t *testing.T) {
	inst, _, cleanup := startedInstance(t, &recordingExt{}, "proxy")
	defer cleanup()

	proxy, err := inst.NewProxy()
	require.NoError(t, err)
	assert.Equal(t, int64(1), inst.Stats().Proxies)

	done := make(chan message.Loc, 1)
	require.NoError(t, proxy.Notify(func(env Env) {
		done <- env.Loc()
	}))

	select {
	case loc := <-done:
		assert.Equal(t, "proxy", loc.ExtensionName)
	case <-time.After(time.Second):
		t.Fatal("notify closure never executed")
	}

	require.NoError(t, proxy.Release())
	require.Eventually(t, func() bool {
		return inst.Stats().Proxies == 0
	}, time.Second, time.Millisecond)

	// Double release and use-after-release are programming errors.
	assert.Error(t, proxy.Release())
	assert.Error(t, proxy.Notify(func(Env) {}))
}

func TestDeinitWithLiveProxyIsViolation(t *testing.T) {
	inst, _, cleanup := startedInstance(t, &recordingExt{}, "leak")
	defer cleanup()

	_, err := inst.NewProxy()
	require.NoError(t, err)

	driveStage(t, inst.Stop)
	derr := driveStageErr(t, inst.Deinit)
	require.Error(t, derr)
	assert.True(t, errors.Is(derr, errors.ErrIntegrityViolation))
}

func TestGroup(t *testing.T) {
	g := NewGroup("workers")
	require.NoError(t, g.Start(context.Background()))
	defer func() { _ = g.StopLoop(time.Second) }()

	a := NewInstance("a", &recordingExt{}, g.Runloop())
	b := NewInstance("b", &recordingExt{}, g.Runloop())
	require.NoError(t, g.Add(a))
	require.NoError(t, g.Add(b))

	assert.Error(t, g.Add(NewInstance("a", &recordingExt{}, g.Runloop())))

	foreign := NewInstance("c", &recordingExt{}, runloop.New("other"))
	assert.Error(t, g.Add(foreign))

	assert.Same(t, a, g.Instance("a"))
	assert.Nil(t, g.Instance("missing"))
	assert.Len(t, g.Instances(), 2)
}
