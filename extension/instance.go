package extension

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/c360/flowmesh"
	"github.com/c360/flowmesh/errors"
	"github.com/c360/flowmesh/message"
	"github.com/c360/flowmesh/runloop"
)

// Instance is the runtime record for one extension inside a running
// graph. It owns the lifecycle state machine, the message inbox, and
// the proxy-handle count. All mutation happens on the owning runloop.
type Instance struct {
	name   string
	ext    Extension
	loop   *runloop.Runloop
	logger *slog.Logger

	// env is set by the engine after construction, before Configure.
	env Env

	// state and seen are touched only on the owning runloop.
	state State
	seen  map[State]bool

	// inbox holds queued-but-undispatched messages. Guarded by inboxMu
	// because Deliver is the cross-thread entry point.
	inboxMu   sync.Mutex
	inbox     []message.Message
	scheduled bool

	// Statistics (atomic)
	dispatched int64
	flushed    int64

	proxies atomic.Int64
}

// InstanceOption configures an Instance at construction.
type InstanceOption func(*Instance)

// WithInstanceLogger sets the logger for dispatch errors and integrity
// violations.
func WithInstanceLogger(logger *slog.Logger) InstanceOption {
	return func(i *Instance) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// NewInstance binds an extension implementation to its owning runloop.
func NewInstance(name string, ext Extension, loop *runloop.Runloop, opts ...InstanceOption) *Instance {
	inst := &Instance{
		name:   name,
		ext:    ext,
		loop:   loop,
		logger: slog.Default(),
		state:  StateCreated,
		seen:   make(map[State]bool),
	}
	for _, opt := range opts {
		opt(inst)
	}
	return inst
}

// Name returns the instance name unique within its graph.
func (i *Instance) Name() string { return i.name }

// Runloop returns the owning runloop.
func (i *Instance) Runloop() *runloop.Runloop { return i.loop }

// Extension returns the wrapped implementation.
func (i *Instance) Extension() Extension { return i.ext }

// SetEnv installs the capability handle. The engine calls this exactly
// once, before Configure.
func (i *Instance) SetEnv(env Env) { i.env = env }

// Env returns the instance's capability handle.
func (i *Instance) Env() Env { return i.env }

// State returns the lifecycle state. Meaningful only on the owning
// runloop; other threads may observe a stale value.
func (i *Instance) State() State { return i.state }

// advance moves the state machine along one legal edge, recording the
// stage so double-driving is caught even after further transitions.
func (i *Instance) advance(to State) error {
	if i.seen[to] {
		return i.integrityViolation("advance",
			fmt.Sprintf("stage %s driven twice", to))
	}
	if !canTransition(i.state, to) {
		return i.integrityViolation("advance",
			fmt.Sprintf("illegal transition %s → %s", i.state, to))
	}
	i.state = to
	i.seen[to] = true
	return nil
}

// integrityViolation reports a broken lifecycle invariant: fatal in
// strict builds, logged with full context otherwise.
func (i *Instance) integrityViolation(op, detail string) error {
	err := errors.WrapFatal(errors.ErrIntegrityViolation, "Instance", op,
		fmt.Sprintf("extension %s in state %s: %s", i.name, i.state, detail))
	if flowmesh.Strict {
		panic(err)
	}
	i.logger.Error("lifecycle integrity violation",
		"extension", i.name,
		"state", i.state.String(),
		"detail", detail)
	return err
}

// invoke runs a lifecycle callback with panic containment.
func (i *Instance) invoke(cb func(Env) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.WrapFatal(
				fmt.Errorf("panic: %v", rec),
				"Instance", "invoke", "lifecycle callback")
		}
	}()
	return cb(i.env)
}

// Configure drives Created → Configuring via OnConfigure. Returning
// from OnConfigure acknowledges the stage; Init completes the edge to
// Initialized.
func (i *Instance) Configure(done func(error)) error {
	return i.loop.Post(func() {
		if err := i.advance(StateConfiguring); err != nil {
			done(err)
			return
		}
		done(i.invoke(i.ext.OnConfigure))
	})
}

// Init drives Configuring → Initialized via OnInit.
func (i *Instance) Init(done func(error)) error {
	return i.loop.Post(func() {
		err := i.invoke(i.ext.OnInit)
		if err == nil {
			err = i.advance(StateInitialized)
		}
		done(err)
	})
}

// Start drives Initialized → Starting → Started via OnStart, then
// dispatches anything queued while starting.
func (i *Instance) Start(done func(error)) error {
	return i.loop.Post(func() {
		if err := i.advance(StateStarting); err != nil {
			done(err)
			return
		}
		err := i.invoke(i.ext.OnStart)
		if err == nil {
			err = i.advance(StateStarted)
		}
		done(err)
		if err == nil {
			i.scheduleDrain()
		}
	})
}

// Stop drives Started → Stopping → Stopped via OnStop. Queued messages
// that were never dispatched are dropped with a log line.
func (i *Instance) Stop(done func(error)) error {
	return i.loop.Post(func() {
		if err := i.advance(StateStopping); err != nil {
			done(err)
			return
		}

		i.inboxMu.Lock()
		dropped := len(i.inbox)
		i.inbox = nil
		i.inboxMu.Unlock()
		if dropped > 0 {
			i.logger.Debug("dropping undispatched messages on stop",
				"extension", i.name, "count", dropped)
		}

		err := i.invoke(i.ext.OnStop)
		if err == nil {
			err = i.advance(StateStopped)
		}
		done(err)
	})
}

// Deinit drives Stopped → Deinitialized via OnDeinit. Every EnvProxy
// must have been released; a live handle is an integrity violation.
func (i *Instance) Deinit(done func(error)) error {
	return i.loop.Post(func() {
		if n := i.proxies.Load(); n != 0 {
			err := i.integrityViolation("Deinit",
				fmt.Sprintf("%d live env proxies", n))
			done(err)
			return
		}
		err := i.invoke(i.ext.OnDeinit)
		if err == nil {
			err = i.advance(StateDeinitialized)
		}
		done(err)
	})
}

// Deliver queues a message for dispatch on the owning runloop. Safe
// from any thread. A flush command discards every queued message ahead
// of it before being queued itself; a message already mid-handler is
// unaffected.
func (i *Instance) Deliver(msg message.Message) error {
	i.inboxMu.Lock()

	if cmd, ok := msg.(*message.Cmd); ok && cmd.IsFlush() {
		atomic.AddInt64(&i.flushed, int64(len(i.inbox)))
		i.inbox = i.inbox[:0]
	}
	i.inbox = append(i.inbox, msg)

	needSchedule := !i.scheduled
	if needSchedule {
		i.scheduled = true
	}
	i.inboxMu.Unlock()

	if !needSchedule {
		return nil
	}
	if err := i.loop.Post(i.drain); err != nil {
		i.inboxMu.Lock()
		i.scheduled = false
		i.inboxMu.Unlock()
		return errors.WrapTransient(err, "Instance", "Deliver", "dispatch scheduling")
	}
	return nil
}

// scheduleDrain kicks the dispatcher; used when Start completes with
// messages already queued. Runs on the owning runloop.
func (i *Instance) scheduleDrain() {
	i.inboxMu.Lock()
	pending := len(i.inbox) > 0 && !i.scheduled
	if pending {
		i.scheduled = true
	}
	i.inboxMu.Unlock()

	if pending {
		_ = i.loop.Post(i.drain)
	}
}

// drain dispatches queued messages one at a time on the owning runloop.
// Popping one message per iteration (rather than swapping the whole
// slice out) is what gives flush its window: messages still in the
// inbox when a flush arrives are undispatched and can be discarded.
func (i *Instance) drain() {
	for {
		i.inboxMu.Lock()
		if i.state != StateStarted || len(i.inbox) == 0 {
			i.scheduled = false
			i.inboxMu.Unlock()
			return
		}
		msg := i.inbox[0]
		i.inbox = i.inbox[1:]
		i.inboxMu.Unlock()

		i.dispatch(msg)
	}
}

// dispatch hands one message to the extension, containing panics and
// converting failures on commands into ERROR results. The runloop
// never dies because a handler misbehaved.
func (i *Instance) dispatch(msg message.Message) {
	atomic.AddInt64(&i.dispatched, 1)

	var err error
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("panic: %v", rec)
			}
		}()

		switch m := msg.(type) {
		case *message.Cmd:
			err = i.ext.OnCmd(i.env, m)
		case *message.Data:
			err = i.ext.OnData(i.env, m)
		case *message.AudioFrame:
			err = i.ext.OnAudioFrame(i.env, m)
		case *message.VideoFrame:
			err = i.ext.OnVideoFrame(i.env, m)
		default:
			err = errors.WrapInvalid(errors.ErrInvalidData,
				"Instance", "dispatch", "unroutable message kind")
		}
	}()

	if err == nil {
		return
	}

	i.logger.Error("message handler failed",
		"extension", i.name,
		"message", msg.Name(),
		"type", msg.Type().String(),
		"error", err)

	if cmd, ok := msg.(*message.Cmd); ok && i.env != nil {
		res := message.NewResult(cmd, message.StatusError, err.Error(), true)
		if rerr := i.env.ReturnResult(res); rerr != nil {
			i.logger.Error("failed to return error result",
				"extension", i.name,
				"command", cmd.Name(),
				"error", rerr)
		}
	}
}

// Stats returns dispatch counters.
func (i *Instance) Stats() InstanceStats {
	i.inboxMu.Lock()
	queued := len(i.inbox)
	i.inboxMu.Unlock()
	return InstanceStats{
		Queued:     queued,
		Dispatched: atomic.LoadInt64(&i.dispatched),
		Flushed:    atomic.LoadInt64(&i.flushed),
		Proxies:    i.proxies.Load(),
	}
}

// InstanceStats represents per-instance dispatch counters.
type InstanceStats struct {
	Queued     int   `json:"queued"`
	Dispatched int64 `json:"dispatched"`
	Flushed    int64 `json:"flushed"`
	Proxies    int64 `json:"proxies"`
}
