package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/c360/flowmesh/addon"
	"github.com/c360/flowmesh/engine"
	"github.com/c360/flowmesh/errors"
	"github.com/c360/flowmesh/graph"
	"github.com/c360/flowmesh/manifest"
	"github.com/c360/flowmesh/message"
	"github.com/c360/flowmesh/metric"
	"github.com/c360/flowmesh/protocol"
	"github.com/c360/flowmesh/runloop"
)

// Built-in command names handled by the app itself, shared with the
// message package so wire peers and local senders agree on them.
const (
	CmdStartGraph = message.CmdStartGraph
	CmdStopGraph  = message.CmdStopGraph
)

// DefaultStopTimeout bounds graph and runloop teardown during Stop.
const DefaultStopTimeout = 10 * time.Second

// ResultHandler receives results of app-level commands. Handlers run
// on the app's primary runloop.
type ResultHandler func(result *message.CmdResult)

// App is one runtime process: an addon store, zero or more running
// graph engines, and the transport endpoints connecting it to peers.
type App struct {
	uri            string
	store          *addon.Store
	ownStore       bool
	registry       *protocol.Registry
	logger         *slog.Logger
	metrics        *metric.MetricsRegistry
	primary        *runloop.Runloop
	propertyFile   string
	validateSchema bool

	mu       sync.Mutex
	running  bool
	props    map[string]any
	engines  map[string]*engine.Engine
	listener protocol.Listener
	conns    map[string]protocol.Conn
	pending  map[string]ResultHandler
}

// Option configures an App at construction.
type Option func(*App)

// WithURI sets the listen URI (tcp://host:port/ or ws://host:port/).
// An app without a URI runs purely in-process and cannot be reached by
// peers. Port 0 binds an ephemeral port; URI reports the resolved one.
func WithURI(uri string) Option {
	return func(a *App) { a.uri = uri }
}

// WithStore uses an externally managed addon store. The caller keeps
// responsibility for starting and stopping it.
func WithStore(store *addon.Store) Option {
	return func(a *App) {
		if store != nil {
			a.store = store
			a.ownStore = false
		}
	}
}

// WithLogger sets the app logger; engines and transports derive theirs
// from it.
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetrics wires the app, its engines and its transports into the
// given registry.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(a *App) { a.metrics = registry }
}

// WithRegistry replaces the default transport registry (tcp and ws).
func WithRegistry(registry *protocol.Registry) Option {
	return func(a *App) {
		if registry != nil {
			a.registry = registry
		}
	}
}

// WithPropertyFile loads app configuration from a JSON or YAML file at
// Start, with ${env:VAR} substitution.
func WithPropertyFile(path string) Option {
	return func(a *App) { a.propertyFile = path }
}

// WithSchemaValidation enables manifest schema checks on every engine
// this app starts.
func WithSchemaValidation(enabled bool) Option {
	return func(a *App) { a.validateSchema = enabled }
}

// New creates an app. Nothing runs until Start.
func New(opts ...Option) *App {
	a := &App{
		logger:  slog.Default(),
		engines: make(map[string]*engine.Engine),
		conns:   make(map[string]protocol.Conn),
		pending: make(map[string]ResultHandler),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.store == nil {
		a.store = addon.NewStore(addon.WithStoreLogger(a.logger))
		a.ownStore = true
	}
	var core *metric.Metrics
	if a.metrics != nil {
		core = a.metrics.CoreMetrics()
	}

	primaryOpts := []runloop.Option{runloop.WithLogger(a.logger)}
	if core != nil {
		primaryOpts = append(primaryOpts, runloop.WithStatsHook(core))
	}
	a.primary = runloop.New("app", primaryOpts...)

	if a.registry == nil {
		a.registry = protocol.NewRegistry()
		_ = a.registry.Register("tcp", protocol.NewTCPTransport(
			protocol.WithTCPLogger(a.logger), protocol.WithTCPMetrics(core)))
		_ = a.registry.Register("ws", protocol.NewWSTransport(
			protocol.WithWSLogger(a.logger), protocol.WithWSMetrics(core)))
	}
	return a
}

// Start brings the app up: loads the property file, starts the addon
// store and primary runloop, opens the remote listener, and starts any
// predefined graphs marked auto_start.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "App", "Start", "app already running")
	}
	a.mu.Unlock()

	if a.propertyFile != "" {
		props, err := manifest.LoadProperties(a.propertyFile)
		if err != nil {
			return errors.Wrap(err, "App", "Start", "load property file")
		}
		a.mu.Lock()
		a.props = props
		a.mu.Unlock()
		if a.uri == "" {
			a.uri = manifest.GetString(props, "uri", "")
		}
	}

	if a.ownStore {
		if err := a.store.Start(ctx); err != nil {
			return errors.Wrap(err, "App", "Start", "start addon store")
		}
	}
	if err := a.primary.Start(ctx); err != nil {
		return errors.Wrap(err, "App", "Start", "start primary runloop")
	}

	if a.uri != "" {
		listener, err := a.registry.Listen(ctx, a.uri, a.handleInbound)
		if err != nil {
			return errors.Wrap(err, "App", "Start", "listen on "+a.uri)
		}
		a.mu.Lock()
		a.listener = listener
		a.mu.Unlock()
		a.uri = resolveURI(a.uri, listener.Addr())
	}

	a.mu.Lock()
	a.running = true
	a.mu.Unlock()
	a.logger.Info("app started", "uri", a.uri)

	return a.autoStartGraphs(ctx)
}

// Stop tears the app down: every running graph, then the transport
// endpoints, the primary runloop and, when owned, the addon store.
func (a *App) Stop(timeout time.Duration) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	engines := a.engines
	a.engines = make(map[string]*engine.Engine)
	conns := a.conns
	a.conns = make(map[string]protocol.Conn)
	listener := a.listener
	a.listener = nil
	a.mu.Unlock()

	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}

	var errs []error
	for id, eng := range engines {
		if err := eng.Stop(timeout); err != nil {
			errs = append(errs, errors.Wrap(err, "App", "Stop", "stop graph "+id))
		}
	}
	if listener != nil {
		if err := listener.Close(); err != nil {
			errs = append(errs, errors.WrapTransient(err, "App", "Stop", "close listener"))
		}
	}
	for _, conn := range conns {
		_ = conn.Close()
	}
	if err := a.primary.Stop(timeout); err != nil {
		errs = append(errs, errors.WrapTransient(err, "App", "Stop", "join primary runloop"))
	}
	if a.ownStore {
		if err := a.store.Stop(timeout); err != nil {
			errs = append(errs, errors.Wrap(err, "App", "Stop", "stop addon store"))
		}
	}

	a.logger.Info("app stopped")
	return errors.Join(errs...)
}

// URI returns the app's reachable URI, with an ephemeral listen port
// resolved to the bound one. Empty for in-process-only apps.
func (a *App) URI() string { return a.uri }

// Store returns the addon store extensions register with.
func (a *App) Store() *addon.Store { return a.store }

// Running reports whether the app is started and not yet stopped.
func (a *App) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Property returns a value from the loaded property file.
func (a *App) Property(key string) (any, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.props[key]
	return v, ok
}

// Engine returns the running engine for a graph id, or nil.
func (a *App) Engine(graphID string) *engine.Engine {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engines[graphID]
}

// GraphIDs lists the ids of all running graphs.
func (a *App) GraphIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.engines))
	for id := range a.engines {
		ids = append(ids, id)
	}
	return ids
}

// StartGraph creates and starts an engine for def. The engine inherits
// the app's URI, transport, metrics and schema-validation setting;
// opts may override any of them.
func (a *App) StartGraph(ctx context.Context, def *graph.Definition, opts ...engine.Option) (*engine.Engine, error) {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil, errors.WrapInvalid(errors.ErrNotStarted, "App", "StartGraph", "app not started")
	}
	a.mu.Unlock()

	base := []engine.Option{
		engine.WithAppURI(a.uri),
		engine.WithRemoteSender(a),
		engine.WithLogger(a.logger),
		engine.WithSchemaValidation(a.validateSchema),
	}
	if a.metrics != nil {
		base = append(base, engine.WithMetrics(a.metrics))
	}

	eng, err := engine.New(def, a.store, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	if err := eng.Start(ctx); err != nil {
		_ = eng.Stop(DefaultStopTimeout)
		return nil, err
	}

	a.mu.Lock()
	a.engines[eng.GraphID()] = eng
	a.mu.Unlock()
	return eng, nil
}

// StopGraph stops a running graph and removes it from the app.
func (a *App) StopGraph(graphID string, timeout time.Duration) error {
	a.mu.Lock()
	eng := a.engines[graphID]
	delete(a.engines, graphID)
	a.mu.Unlock()

	if eng == nil {
		return errors.WrapInvalid(errors.ErrInstanceNotFound, "App", "StopGraph",
			"no running graph "+graphID)
	}
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}
	return eng.Stop(timeout)
}

// StartPredefinedGraph starts a graph declared in the property file's
// predefined_graphs list by name.
func (a *App) StartPredefinedGraph(ctx context.Context, name string) (*engine.Engine, error) {
	def, err := a.predefinedGraph(name)
	if err != nil {
		return nil, err
	}
	return a.StartGraph(ctx, def)
}

// SendAppCmd sends a command addressed to an app rather than an
// extension: a Loc carrying only the peer's URI (or empty for the
// local app). The handler, if any, receives every result on the
// primary runloop.
func (a *App) SendAppCmd(dest message.Loc, cmd *message.Cmd, handler ResultHandler) error {
	self := message.Loc{AppURI: a.uri}
	cmd.SetSource(self)
	cmd.PushReturn(self)

	if handler != nil {
		a.mu.Lock()
		a.pending[cmd.CmdID()] = handler
		a.mu.Unlock()
	}

	if err := a.SendMessage(dest, cmd); err != nil {
		a.mu.Lock()
		delete(a.pending, cmd.CmdID())
		a.mu.Unlock()
		return err
	}
	return nil
}

// SendMessage implements engine.RemoteSender. Local destinations go
// straight to the dispatch path; remote ones ride a cached connection
// to the peer, dialed on first use.
func (a *App) SendMessage(dest message.Loc, msg message.Message) error {
	if dest.IsLocal(a.uri) {
		return a.dispatch(dest, msg)
	}

	conn, err := a.connTo(dest.AppURI)
	if err != nil {
		return err
	}
	if err := conn.Send(dest, msg); err != nil {
		// The connection is dead; the next send dials fresh. The
		// message itself is not retried.
		a.dropConn(dest.AppURI)
		return err
	}
	return nil
}

// connTo returns the cached connection to a peer, dialing if needed.
func (a *App) connTo(uri string) (protocol.Conn, error) {
	a.mu.Lock()
	conn := a.conns[uri]
	a.mu.Unlock()
	if conn != nil {
		return conn, nil
	}

	conn, err := a.registry.Dial(context.Background(), uri, a.handleInbound)
	if err != nil {
		return nil, errors.WrapTransient(err, "App", "connTo", "dial "+uri)
	}

	a.mu.Lock()
	if existing := a.conns[uri]; existing != nil {
		a.mu.Unlock()
		_ = conn.Close()
		return existing, nil
	}
	a.conns[uri] = conn
	a.mu.Unlock()
	return conn, nil
}

func (a *App) dropConn(uri string) {
	a.mu.Lock()
	conn := a.conns[uri]
	delete(a.conns, uri)
	a.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// handleInbound receives every decoded frame from the transports.
func (a *App) handleInbound(dest message.Loc, msg message.Message) {
	if err := a.dispatch(dest, msg); err != nil {
		a.logger.Warn("inbound message dropped",
			"dest", dest.String(), "type", msg.Type().String(), "error", err)
	}
}

// dispatch routes a message that entered from outside any engine:
// app-level results, built-in commands, or traffic for a local graph.
func (a *App) dispatch(dest message.Loc, msg message.Message) error {
	if result, ok := msg.(*message.CmdResult); ok && dest.GraphID == "" {
		return a.completeAppCmd(result)
	}

	if dest.GraphID == "" && dest.ExtensionName == "" {
		cmd, ok := msg.(*message.Cmd)
		if !ok {
			return errors.WrapInvalid(errors.ErrInvalidData, "App", "dispatch",
				"non-command addressed to app")
		}
		return a.primary.Post(func() { a.handleBuiltin(cmd) })
	}

	a.mu.Lock()
	eng := a.engines[dest.GraphID]
	a.mu.Unlock()
	if eng == nil {
		return errors.WrapInvalid(errors.ErrInvalidGraph, "App", "dispatch",
			"no running graph "+dest.GraphID)
	}
	return eng.Deliver(dest, msg)
}

// completeAppCmd matches a result against an in-flight app command and
// runs its handler on the primary runloop.
func (a *App) completeAppCmd(result *message.CmdResult) error {
	result.PopReturn()

	a.mu.Lock()
	handler := a.pending[result.CmdID()]
	if handler != nil && result.IsFinal() {
		delete(a.pending, result.CmdID())
	}
	a.mu.Unlock()

	if handler == nil {
		a.logger.Debug("uncorrelated app result dropped", "cmd_id", result.CmdID())
		return nil
	}
	return a.primary.Post(func() { handler(result) })
}

// handleBuiltin runs on the primary runloop. Graph lifecycle staging
// happens on the group runloops, so blocking here only serializes
// control commands.
func (a *App) handleBuiltin(cmd *message.Cmd) {
	switch cmd.Name() {
	case CmdStartGraph:
		a.handleStartGraph(cmd)
	case CmdStopGraph:
		a.handleStopGraph(cmd)
	default:
		a.reply(cmd, message.StatusError, "unknown app command "+cmd.Name(), nil)
	}
}

func (a *App) handleStartGraph(cmd *message.Cmd) {
	var def *graph.Definition
	var err error

	if name := cmd.Properties().GetString("predefined_graph", ""); name != "" {
		def, err = a.predefinedGraph(name)
	} else if raw := cmd.Properties().GetString("graph_json", ""); raw != "" {
		def, err = graph.Parse([]byte(raw))
	} else {
		err = errors.WrapInvalid(errors.ErrMissingConfig, "App", "handleStartGraph",
			"graph_json or predefined_graph property")
	}
	if err != nil {
		a.reply(cmd, message.StatusError, err.Error(), nil)
		return
	}

	eng, err := a.StartGraph(context.Background(), def)
	if err != nil {
		a.reply(cmd, message.StatusError, err.Error(), nil)
		return
	}
	a.reply(cmd, message.StatusOK, "graph started",
		message.Properties{"graph_id": eng.GraphID()})
}

func (a *App) handleStopGraph(cmd *message.Cmd) {
	graphID := cmd.Properties().GetString("graph_id", "")
	if graphID == "" {
		a.reply(cmd, message.StatusError, "graph_id property required", nil)
		return
	}
	if err := a.StopGraph(graphID, DefaultStopTimeout); err != nil {
		a.reply(cmd, message.StatusError, err.Error(), nil)
		return
	}
	a.reply(cmd, message.StatusOK, "graph stopped", nil)
}

// reply answers a built-in command along its return path.
func (a *App) reply(cmd *message.Cmd, status message.Status, detail string, props message.Properties) {
	var opts []message.Option
	if props != nil {
		opts = append(opts, message.WithProperties(props))
	}
	result := message.NewResult(cmd, status, detail, true, opts...)

	hop, ok := result.PopReturn()
	if !ok {
		return
	}
	// The hop stays on the path; whoever owns the command pops it.
	result.PushReturn(hop)

	if hop.IsLocal(a.uri) {
		if err := a.completeAppCmd(result); err != nil {
			a.logger.Warn("app command reply dropped", "cmd", cmd.Name(), "error", err)
		}
		return
	}
	if err := a.SendMessage(hop, result); err != nil {
		a.logger.Warn("app command reply lost", "cmd", cmd.Name(), "error", err)
	}
}

// predefinedGraph resolves a named entry of the property file's
// predefined_graphs list into a parsed definition.
func (a *App) predefinedGraph(name string) (*graph.Definition, error) {
	a.mu.Lock()
	entries, _ := a.props["predefined_graphs"].([]any)
	a.mu.Unlock()

	for _, raw := range entries {
		entry, ok := raw.(map[string]any)
		if !ok || manifest.GetString(entry, "name", "") != name {
			continue
		}
		body, ok := entry["graph"].(map[string]any)
		if !ok {
			return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "App", "predefinedGraph",
				"graph body of "+name)
		}
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.WrapInvalid(err, "App", "predefinedGraph",
				"re-encode graph body of "+name)
		}
		return graph.Parse(data)
	}
	return nil, errors.WrapInvalid(errors.ErrMissingConfig, "App", "predefinedGraph",
		"predefined graph "+name)
}

// autoStartGraphs starts every predefined graph marked auto_start.
func (a *App) autoStartGraphs(ctx context.Context) error {
	a.mu.Lock()
	entries, _ := a.props["predefined_graphs"].([]any)
	a.mu.Unlock()

	var errs []error
	for _, raw := range entries {
		entry, ok := raw.(map[string]any)
		if !ok || !manifest.GetBool(entry, "auto_start", false) {
			continue
		}
		name := manifest.GetString(entry, "name", "")
		if _, err := a.StartPredefinedGraph(ctx, name); err != nil {
			errs = append(errs, errors.Wrap(err, "App", "autoStartGraphs",
				"start predefined graph "+name))
		}
	}
	return errors.Join(errs...)
}

// resolveURI swaps the URI host for the bound listener address, so an
// ephemeral port 0 resolves to the real one.
func resolveURI(uri, addr string) string {
	parsed, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	parsed.Host = addr
	return parsed.String()
}
