package extension

import (
	"github.com/c360/flowmesh/message"
)

// Extension is the interface every message-processing unit implements.
// All callbacks execute on the instance's owning runloop; returning
// from a callback acknowledges the stage or message.
type Extension interface {
	// OnConfigure runs first, before properties are final. The env's
	// property bag is writable here.
	OnConfigure(env Env) error

	// OnInit runs after configuration; allocate state here, not I/O.
	OnInit(env Env) error

	// OnStart runs before the first message callback. Open connections
	// and start producer goroutines here.
	OnStart(env Env) error

	// OnCmd handles a command. The extension must eventually produce a
	// final result via env.ReturnResult, either here or from a later
	// task, unless it forwards the command downstream instead.
	OnCmd(env Env, cmd *message.Cmd) error

	// OnData handles a fire-and-forget data message.
	OnData(env Env, data *message.Data) error

	// OnAudioFrame handles an audio frame.
	OnAudioFrame(env Env, frame *message.AudioFrame) error

	// OnVideoFrame handles a video frame.
	OnVideoFrame(env Env, frame *message.VideoFrame) error

	// OnStop runs when the engine tears the graph down; stop producer
	// goroutines and close connections here.
	OnStop(env Env) error

	// OnDeinit is the last callback the instance ever receives.
	OnDeinit(env Env) error
}

// Base is a no-op Extension implementation for embedding, so concrete
// extensions only override the callbacks they care about.
type Base struct{}

// OnConfigure implements Extension.
func (Base) OnConfigure(Env) error { return nil }

// OnInit implements Extension.
func (Base) OnInit(Env) error { return nil }

// OnStart implements Extension.
func (Base) OnStart(Env) error { return nil }

// OnCmd implements Extension. The default behaviour returns an OK
// result so unrouted commands never dangle.
func (Base) OnCmd(env Env, cmd *message.Cmd) error {
	return env.ReturnResult(message.NewResult(cmd, message.StatusOK, "", true))
}

// OnData implements Extension.
func (Base) OnData(Env, *message.Data) error { return nil }

// OnAudioFrame implements Extension.
func (Base) OnAudioFrame(Env, *message.AudioFrame) error { return nil }

// OnVideoFrame implements Extension.
func (Base) OnVideoFrame(Env, *message.VideoFrame) error { return nil }

// OnStop implements Extension.
func (Base) OnStop(Env) error { return nil }

// OnDeinit implements Extension.
func (Base) OnDeinit(Env) error { return nil }
