package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/flowmesh/errors"
	"github.com/c360/flowmesh/extension"
	"github.com/c360/flowmesh/graph"
	"github.com/c360/flowmesh/message"
)

// routeKey addresses one routing-table entry: messages of one type and
// name leaving one extension.
type routeKey struct {
	source  string
	msgType message.Type
	name    string
}

// pendingCmd is the correlation state for an in-flight command.
type pendingCmd struct {
	cmd     *message.Cmd
	handler extension.ResultHandler
	owner   *extension.Instance
	timer   *time.Timer
}

// buildRoutes indexes the graph connections into the routing table.
// Destination order within an entry is declaration order; connections
// repeated for the same key append.
func (e *Engine) buildRoutes() {
	for _, conn := range e.def.Connections {
		t, err := message.ParseType(conn.MsgType)
		if err != nil {
			// Validation already rejected this; unreachable after Start.
			continue
		}
		key := routeKey{conn.Extension, t, conn.Name}
		for _, dest := range conn.Dest {
			e.routes[key] = append(e.routes[key], dest.Loc(e.graphID))
		}
	}
}

// destinationsFor resolves the routing table entry for a send.
func (e *Engine) destinationsFor(source string, t message.Type, name string) []message.Loc {
	return e.routes[routeKey{source, t, name}]
}

// downstreamOf returns every destination reachable from source over any
// connection, deduplicated, in declaration order. Flush propagation
// follows this set rather than a single message name.
func (e *Engine) downstreamOf(source string) []message.Loc {
	var out []message.Loc
	seen := make(map[message.Loc]bool)
	for _, conn := range e.def.ConnectionsFrom(source) {
		for _, dest := range conn.Dest {
			loc := dest.Loc(e.graphID)
			if seen[loc] {
				continue
			}
			seen[loc] = true
			out = append(out, loc)
		}
	}
	return out
}

// sendCmd routes a command from sender. Zero destinations fail
// synchronously; no result is ever produced for such a command.
func (e *Engine) sendCmd(
	sender *env, cmd *message.Cmd,
	handler extension.ResultHandler, opts extension.SendOptions,
) error {
	if cmd.IsFlush() {
		cmd.SetSource(sender.loc)
		e.flushDownstream(map[string]bool{sender.loc.ExtensionName: true}, sender.loc)
		return nil
	}

	dests := e.destinationsFor(sender.loc.ExtensionName, message.TypeCommand, cmd.Name())
	if len(dests) == 0 {
		e.metrics.recordNoDestination(e.graphID)
		return errors.WrapInvalid(errors.ErrNoDestination, "Engine", "SendCmd",
			fmt.Sprintf("command %s from %s", cmd.Name(), sender.loc.ExtensionName))
	}

	cmd.SetSource(sender.loc)
	cmd.PushReturn(sender.loc)

	if handler != nil || opts.Timeout > 0 {
		p := &pendingCmd{cmd: cmd, handler: handler, owner: sender.inst}
		if opts.Timeout > 0 {
			p.timer = time.AfterFunc(opts.Timeout, func() { e.expireCmd(cmd.CmdID()) })
		}
		e.mu.Lock()
		e.pending[cmd.CmdID()] = p
		e.mu.Unlock()
		e.metrics.recordPendingAdd(e.graphID)
	}
	e.metrics.recordCommandSent(e.graphID)

	var errs []error
	for _, dest := range dests {
		if err := e.deliver(dest, cmd.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// flushDownstream delivers a flush to every destination reachable from
// origin and recurses through the local graph. The visited set keeps
// cyclic graphs from flushing forever; remote hops carry the flush to
// the peer app, which propagates on its side.
func (e *Engine) flushDownstream(visited map[string]bool, origin message.Loc) {
	for _, dest := range e.downstreamOf(origin.ExtensionName) {
		if !dest.IsLocal(e.appURI) {
			flush := message.NewCmd(message.CmdFlush, message.WithSource(origin))
			if err := e.sendRemote(dest, flush); err != nil {
				e.logger.Warn("flush lost to remote peer",
					"dest", dest.String(), "error", err)
			}
			continue
		}
		if visited[dest.ExtensionName] {
			continue
		}
		visited[dest.ExtensionName] = true

		flush := message.NewCmd(message.CmdFlush, message.WithSource(origin))
		if err := e.deliver(dest, flush); err != nil {
			e.logger.Warn("flush delivery failed",
				"dest", dest.String(), "error", err)
		}
		e.flushDownstream(visited, dest)
	}
}

// sendPayload routes a data, audio-frame or video-frame message:
// fire-and-forget fan-out in declaration order. Delivery failures are
// collected and returned but never stop the remaining destinations.
func (e *Engine) sendPayload(sender *env, msg message.Message) error {
	dests := e.destinationsFor(sender.loc.ExtensionName, msg.Type(), msg.Name())
	if len(dests) == 0 {
		e.metrics.recordNoDestination(e.graphID)
		return errors.WrapInvalid(errors.ErrNoDestination, "Engine", "sendPayload",
			fmt.Sprintf("%s %s from %s", msg.Type(), msg.Name(), sender.loc.ExtensionName))
	}

	msg.SetSource(sender.loc)

	var errs []error
	for _, dest := range dests {
		if err := e.deliver(dest, msg.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// deliver hands one message to its destination: the local instance's
// inbox, or the remote transport.
func (e *Engine) deliver(dest message.Loc, msg message.Message) error {
	if !dest.IsLocal(e.appURI) {
		return e.sendRemote(dest, msg)
	}

	if err := e.checkSchema(dest, msg); err != nil {
		e.metrics.recordDropped(e.graphID, "schema_mismatch")
		return err
	}

	e.mu.Lock()
	inst := e.instances[dest.ExtensionName]
	e.mu.Unlock()
	if inst == nil {
		return errors.WrapInvalid(errors.ErrInstanceNotFound, "Engine", "deliver",
			"destination "+dest.String())
	}

	if err := inst.Deliver(msg); err != nil {
		e.metrics.recordDropped(e.graphID, "inbox")
		return err
	}
	e.metrics.recordRouted(e.graphID, msg.Type().String())
	return nil
}

// checkSchema validates outbound properties against the destination's
// declared inbound api, when schema validation is enabled.
func (e *Engine) checkSchema(dest message.Loc, msg message.Message) error {
	if !e.validateSchema {
		return nil
	}
	schema, ok := e.schemas[routeKey{dest.ExtensionName, msg.Type(), msg.Name()}]
	if !ok {
		return nil
	}
	if err := schema.Validate(msg.Properties()); err != nil {
		return errors.WrapInvalid(err, "Engine", "checkSchema",
			fmt.Sprintf("%s %s into %s", msg.Type(), msg.Name(), dest.ExtensionName))
	}
	return nil
}

// sendRemote hands a message to the installed transport.
func (e *Engine) sendRemote(dest message.Loc, msg message.Message) error {
	if e.remote == nil {
		return errors.WrapTransient(errors.ErrConnectionClosed, "Engine", "sendRemote",
			"no remote transport for "+dest.AppURI)
	}
	return e.remote.SendMessage(dest, msg)
}

// routeResult walks a result back along its stored return path. Hops
// are popped until one matches an in-flight command owned by a local
// extension; the registered handler then runs on that extension's
// runloop. Hops without correlation state were fire-and-forget and are
// skipped.
func (e *Engine) routeResult(result *message.CmdResult) error {
	for {
		hop, ok := result.PopReturn()
		if !ok {
			e.logger.Debug("result exhausted its return path",
				"cmd_id", result.CmdID(), "name", result.Name())
			return nil
		}
		if !hop.IsLocal(e.appURI) {
			// The peer engine pops this hop to match its own pending
			// command, so it stays on the path.
			result.PushReturn(hop)
			return e.sendRemote(hop, result)
		}

		e.mu.Lock()
		p := e.pending[result.CmdID()]
		matched := p != nil && p.owner.Name() == hop.ExtensionName
		if matched && result.IsFinal() {
			delete(e.pending, result.CmdID())
			if p.timer != nil {
				p.timer.Stop()
			}
		}
		e.mu.Unlock()

		if matched && result.IsFinal() {
			e.metrics.recordPendingDone(e.graphID)
		}
		if !matched {
			continue
		}
		if p.handler == nil {
			return nil
		}

		owner, handler := p.owner, p.handler
		return owner.Runloop().Post(func() {
			handler(owner.Env(), result)
		})
	}
}

// expireCmd fires when a command's result deadline passes: the pending
// state is removed and the handler receives a final ERROR result. A
// real result arriving later finds no correlation state and is dropped.
func (e *Engine) expireCmd(cmdID string) {
	e.mu.Lock()
	p := e.pending[cmdID]
	delete(e.pending, cmdID)
	e.mu.Unlock()

	if p == nil {
		return
	}
	e.metrics.recordPendingDone(e.graphID)
	e.metrics.recordTimeout(e.graphID)
	e.logger.Warn("command result deadline exceeded",
		"cmd", p.cmd.Name(), "cmd_id", cmdID)

	if p.handler == nil {
		return
	}
	result := message.NewResult(p.cmd, message.StatusError, errors.ErrTimeout.Error(), true)
	owner, handler := p.owner, p.handler
	_ = owner.Runloop().Post(func() {
		handler(owner.Env(), result)
	})
}

// Deliver routes a message that entered from outside the local routing
// table: the remote transport or the app's built-in command path. An
// inbound flush keeps propagating: after discarding dest's queue it is
// forwarded to dest's downstream destinations, exactly as if dest had
// sent it.
func (e *Engine) Deliver(dest message.Loc, msg message.Message) error {
	if result, ok := msg.(*message.CmdResult); ok {
		return e.routeResult(result)
	}
	if cmd, ok := msg.(*message.Cmd); ok && cmd.IsFlush() {
		err := e.deliver(dest, cmd)
		e.flushDownstream(map[string]bool{dest.ExtensionName: true}, dest)
		return err
	}
	return e.deliver(dest, msg)
}

// env is the per-instance extension.Env implementation. All methods
// except the Deliver path run on the instance's own runloop.
type env struct {
	e      *Engine
	inst   *extension.Instance
	loc    message.Loc
	props  message.Properties
	logger *slog.Logger
}

func newEnv(e *Engine, inst *extension.Instance, node graph.Node) *env {
	props := make(message.Properties, len(node.Property))
	for k, v := range node.Property {
		props[k] = v
	}
	return &env{
		e:    e,
		inst: inst,
		loc: message.Loc{
			AppURI:        e.appURI,
			GraphID:       e.graphID,
			ExtensionName: node.Name,
		},
		props:  props,
		logger: e.logger.With("extension", node.Name),
	}
}

// Loc implements extension.Env.
func (v *env) Loc() message.Loc { return v.loc }

// SendCmd implements extension.Env.
func (v *env) SendCmd(cmd *message.Cmd, handler extension.ResultHandler, opts ...extension.SendOption) error {
	return v.e.sendCmd(v, cmd, handler, extension.ResolveSendOptions(opts))
}

// SendData implements extension.Env.
func (v *env) SendData(data *message.Data) error {
	return v.e.sendPayload(v, data)
}

// SendAudioFrame implements extension.Env.
func (v *env) SendAudioFrame(frame *message.AudioFrame) error {
	return v.e.sendPayload(v, frame)
}

// SendVideoFrame implements extension.Env.
func (v *env) SendVideoFrame(frame *message.VideoFrame) error {
	return v.e.sendPayload(v, frame)
}

// ReturnResult implements extension.Env.
func (v *env) ReturnResult(result *message.CmdResult) error {
	return v.e.routeResult(result)
}

// GetProperty implements extension.Env.
func (v *env) GetProperty(key string) (any, bool) {
	val, ok := v.props[key]
	return val, ok
}

// SetProperty implements extension.Env.
func (v *env) SetProperty(key string, value any) {
	v.props[key] = value
}

// Log implements extension.Env.
func (v *env) Log() *slog.Logger { return v.logger }
