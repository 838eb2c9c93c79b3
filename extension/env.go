package extension

import (
	"log/slog"
	"time"

	"github.com/c360/flowmesh/message"
)

// ResultHandler is invoked on the sender's runloop for every
// CommandResult answering a sent command: zero or more interim results
// (IsFinal false) followed by exactly one final result, unless a flush
// intervenes first.
type ResultHandler func(env Env, result *message.CmdResult)

// SendOption configures a single SendCmd call.
type SendOption func(*SendOptions)

// SendOptions holds resolved send configuration. Exported so the
// engine, which implements Env, can interpret it.
type SendOptions struct {
	// Timeout, when non-zero, delivers an ERROR result carrying the
	// timeout taxonomy if no final result arrives in time.
	Timeout time.Duration
}

// WithTimeout sets a result deadline for a command.
func WithTimeout(d time.Duration) SendOption {
	return func(o *SendOptions) { o.Timeout = d }
}

// ResolveSendOptions folds options into a SendOptions value.
func ResolveSendOptions(opts []SendOption) SendOptions {
	var o SendOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Env is the capability handle an extension uses to interact with the
// runtime: sending messages, returning results, logging, and property
// access. An Env is bound to one instance and must only be used from
// that instance's runloop; cross-thread callers go through an EnvProxy.
type Env interface {
	// Loc returns the address of the extension this env belongs to.
	Loc() message.Loc

	// SendCmd routes a command to its connected destinations. It fails
	// synchronously with the no-destination taxonomy when the command's
	// name resolves to zero destinations; in that case no CommandResult
	// is ever produced. handler may be nil for fire-and-forget commands.
	SendCmd(cmd *message.Cmd, handler ResultHandler, opts ...SendOption) error

	// SendData routes a data message to its destinations in declaration
	// order. Fire-and-forget: remote failures are reported through the
	// returned error of the engine's delivery path, never blocking the
	// local send.
	SendData(data *message.Data) error

	// SendAudioFrame routes an audio frame. Same semantics as SendData.
	SendAudioFrame(frame *message.AudioFrame) error

	// SendVideoFrame routes a video frame. Same semantics as SendData.
	SendVideoFrame(frame *message.VideoFrame) error

	// ReturnResult sends a result back along the originating command's
	// stored return path.
	ReturnResult(result *message.CmdResult) error

	// GetProperty reads an instance property.
	GetProperty(key string) (any, bool)

	// SetProperty writes an instance property. Only legal on the
	// owning runloop.
	SetProperty(key string, value any)

	// Log returns the instance-scoped logger.
	Log() *slog.Logger
}
