package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/flowmesh/addon"
	"github.com/c360/flowmesh/errors"
	"github.com/c360/flowmesh/extension"
	"github.com/c360/flowmesh/graph"
	"github.com/c360/flowmesh/manifest"
	"github.com/c360/flowmesh/message"
	"github.com/c360/flowmesh/metric"
	"github.com/c360/flowmesh/runloop"
)

// RemoteSender delivers a message to an extension hosted by another
// process. The app installs its transport layer here; a nil sender
// makes every remote destination fail with the connection-closed
// taxonomy.
type RemoteSender interface {
	SendMessage(dest message.Loc, msg message.Message) error
}

// DefaultStageTimeout bounds the wait for each lifecycle stage
// acknowledgement during Start and Stop.
const DefaultStageTimeout = 10 * time.Second

// Engine runs one graph instance. One engine per running graph; an app
// owns many engines.
type Engine struct {
	graphID string
	appURI  string
	def     *graph.Definition
	store   *addon.Store
	logger    *slog.Logger
	metrics   *engineMetrics
	loopStats runloop.StatsHook
	remote    RemoteSender

	stageTimeout   time.Duration
	validateSchema bool

	mu        sync.Mutex
	running   bool
	stopped   bool
	groups    []*extension.Group
	instances map[string]*extension.Instance
	envs      map[string]*env
	nodeAddon map[string]string
	routes    map[routeKey][]message.Loc
	schemas   map[routeKey]manifest.PropertySchema
	pending   map[string]*pendingCmd
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithLogger sets the engine's logger; instances derive theirs from it.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithGraphID overrides the generated graph instance id.
func WithGraphID(id string) Option {
	return func(e *Engine) { e.graphID = id }
}

// WithAppURI sets the URI of the hosting process, used to decide which
// destinations are local.
func WithAppURI(uri string) Option {
	return func(e *Engine) { e.appURI = uri }
}

// WithRemoteSender installs the transport used for non-local
// destinations.
func WithRemoteSender(sender RemoteSender) Option {
	return func(e *Engine) { e.remote = sender }
}

// WithStageTimeout bounds per-stage lifecycle acknowledgement waits.
func WithStageTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.stageTimeout = d
		}
	}
}

// WithSchemaValidation enables outbound property validation against the
// destination addon's manifest api.
func WithSchemaValidation(enabled bool) Option {
	return func(e *Engine) { e.validateSchema = enabled }
}

// WithMetrics registers engine metrics with the given registry. A nil
// registry disables them.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(e *Engine) {
		m, err := newEngineMetrics(registry)
		if err != nil {
			e.logger.Error("failed to initialize engine metrics", "error", err)
			m = nil
		}
		e.metrics = m
		if registry != nil {
			if core := registry.CoreMetrics(); core != nil {
				e.loopStats = core
			}
		}
	}
}

// New creates an engine for the given definition. Nothing runs until
// Start.
func New(def *graph.Definition, store *addon.Store, opts ...Option) (*Engine, error) {
	if def == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidGraph,
			"Engine", "New", "nil definition")
	}
	if store == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Engine", "New", "nil addon store")
	}

	e := &Engine{
		graphID:      uuid.New().String(),
		def:          def,
		store:        store,
		logger:       slog.Default(),
		stageTimeout: DefaultStageTimeout,
		instances:    make(map[string]*extension.Instance),
		envs:         make(map[string]*env),
		nodeAddon:    make(map[string]string),
		routes:       make(map[routeKey][]message.Loc),
		schemas:      make(map[routeKey]manifest.PropertySchema),
		pending:      make(map[string]*pendingCmd),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("graph_id", e.graphID)
	return e, nil
}

// GraphID returns the runtime id assigned to this graph instance.
func (e *Engine) GraphID() string { return e.graphID }

// Definition returns the definition this engine runs.
func (e *Engine) Definition() *graph.Definition { return e.def }

// Start validates the graph, creates every node through the addon
// store, launches the group runloops, and drives the lifecycle chain
// stage by stage across all nodes. On return every extension is Started
// and routable.
func (e *Engine) Start(ctx context.Context) error {
	start := time.Now()
	success := false
	defer func() {
		e.metrics.recordStart(e.graphID, success, time.Since(start).Seconds())
	}()

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Engine", "Start", "graph already running")
	}
	if e.stopped {
		e.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Engine", "Start", "engine is single-use")
	}
	e.mu.Unlock()

	if result := e.def.Validate(); !result.Valid() {
		for _, issue := range result.Errors {
			e.logger.Error("graph validation failed",
				"issue", issue.Type,
				"node", issue.NodeName,
				"detail", issue.Message)
		}
		return result.Err()
	}

	e.buildRoutes()

	if err := e.createNodes(ctx); err != nil {
		return err
	}

	for _, stage := range []struct {
		name  string
		drive func(*extension.Instance, func(error)) error
	}{
		{"configure", (*extension.Instance).Configure},
		{"init", (*extension.Instance).Init},
		{"start", (*extension.Instance).Start},
	} {
		if err := e.driveStage(stage.name, stage.drive); err != nil {
			return err
		}
	}

	e.mu.Lock()
	e.running = true
	e.mu.Unlock()

	e.logger.Info("graph started",
		"nodes", len(e.def.Nodes),
		"connections", len(e.def.Connections))
	success = true
	return nil
}

// createNodes allocates groups and instances for every declared node.
// Instance creation runs on the addon thread; the engine blocks until
// each factory acknowledges, so no message can ever reach a
// half-created extension.
func (e *Engine) createNodes(ctx context.Context) error {
	groupByName := make(map[string]*extension.Group)

	for _, node := range e.def.Nodes {
		if node.App != "" && node.App != e.appURI {
			// Hosted elsewhere; the remote app instantiates it.
			continue
		}

		groupName := node.Group
		if groupName == "" {
			groupName = node.Name
		}
		grp, ok := groupByName[groupName]
		if !ok {
			grp = extension.NewGroup(groupName,
				extension.WithGroupLogger(e.logger),
				extension.WithGroupStats(e.loopStats))
			if err := grp.Start(ctx); err != nil {
				return errors.Wrap(err, "Engine", "createNodes",
					fmt.Sprintf("start runloop for group %s", groupName))
			}
			groupByName[groupName] = grp
			e.groups = append(e.groups, grp)
		}

		ext, err := e.store.CreateInstance(ctx, addon.TypeExtension, node.Addon, node.Name, node.Property)
		if err != nil {
			return errors.Wrap(err, "Engine", "createNodes",
				fmt.Sprintf("create instance %s via addon %s", node.Name, node.Addon))
		}

		inst := extension.NewInstance(node.Name, ext, grp.Runloop(),
			extension.WithInstanceLogger(e.logger))
		nodeEnv := newEnv(e, inst, node)
		inst.SetEnv(nodeEnv)
		if err := grp.Add(inst); err != nil {
			return errors.Wrap(err, "Engine", "createNodes",
				fmt.Sprintf("add instance %s to group %s", node.Name, groupName))
		}

		e.mu.Lock()
		e.instances[node.Name] = inst
		e.envs[node.Name] = nodeEnv
		e.nodeAddon[node.Name] = node.Addon
		e.mu.Unlock()

		if e.validateSchema {
			e.loadSchemas(node)
		}
	}
	return nil
}

// loadSchemas indexes the inbound property schemas of node's addon
// manifest for outbound validation at the send boundary.
func (e *Engine) loadSchemas(node graph.Node) {
	host, err := e.store.Lookup(addon.TypeExtension, node.Addon)
	if err != nil || host.Manifest() == nil {
		return
	}
	api := host.Manifest().API

	index := func(decls []manifest.MessageDecl, msgType message.Type) {
		for _, decl := range decls {
			if len(decl.Property) == 0 {
				continue
			}
			e.schemas[routeKey{node.Name, msgType, decl.Name}] = decl.Property
		}
	}
	index(api.CmdIn, message.TypeCommand)
	index(api.DataIn, message.TypeData)
	index(api.AudioFrameIn, message.TypeAudioFrame)
	index(api.VideoFrameIn, message.TypeVideoFrame)
}

// driveStage posts one lifecycle stage to every instance and waits for
// all acknowledgements, bounded by the stage timeout.
func (e *Engine) driveStage(name string, drive func(*extension.Instance, func(error)) error) error {
	type ack struct {
		node string
		err  error
	}
	acks := make(chan ack, len(e.def.Nodes))
	driven := 0

	for _, node := range e.def.Nodes {
		inst := e.instances[node.Name]
		if inst == nil {
			continue
		}
		nodeName := node.Name
		if err := drive(inst, func(err error) {
			acks <- ack{node: nodeName, err: err}
		}); err != nil {
			return errors.Wrap(err, "Engine", "driveStage",
				fmt.Sprintf("post %s to %s", name, nodeName))
		}
		driven++
	}

	timer := time.NewTimer(e.stageTimeout)
	defer timer.Stop()

	var errs []error
	for i := 0; i < driven; i++ {
		select {
		case a := <-acks:
			if a.err != nil {
				errs = append(errs, errors.Wrap(a.err, "Engine", "driveStage",
					fmt.Sprintf("%s stage of %s", name, a.node)))
			}
		case <-timer.C:
			return errors.WrapTransient(errors.ErrTimeout, "Engine", "driveStage",
				fmt.Sprintf("waiting for %s acknowledgements", name))
		}
	}
	return errors.Join(errs...)
}

// Stop tears the graph down: stop fan-out in reverse topological order
// so every consumer acknowledges its stop before its producers, then
// deinit, destroy through the addons, and join the group runloops.
func (e *Engine) Stop(timeout time.Duration) error {
	start := time.Now()
	success := false
	defer func() {
		e.metrics.recordStop(e.graphID, success, time.Since(start).Seconds())
	}()

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.stopped = true

	// Cancel in-flight commands; no result will ever arrive for them.
	for id, p := range e.pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(e.pending, id)
		e.metrics.recordPendingDone(e.graphID)
	}
	e.mu.Unlock()

	if timeout <= 0 {
		timeout = e.stageTimeout
	}

	var errs []error
	order := e.def.ReverseTopologicalOrder()

	for _, name := range order {
		inst := e.instances[name]
		if inst == nil {
			continue
		}
		if err := e.awaitStage(inst, timeout, (*extension.Instance).Stop); err != nil {
			errs = append(errs, errors.Wrap(err, "Engine", "Stop", "stop stage of "+name))
		}
	}

	for _, name := range order {
		inst := e.instances[name]
		if inst == nil {
			continue
		}
		if err := e.awaitStage(inst, timeout, (*extension.Instance).Deinit); err != nil {
			errs = append(errs, errors.Wrap(err, "Engine", "Stop", "deinit stage of "+name))
		}
		if err := e.store.DestroyInstance(addon.TypeExtension, e.nodeAddon[name], inst.Extension()); err != nil {
			errs = append(errs, errors.Wrap(err, "Engine", "Stop", "destroy instance "+name))
		}
	}

	for _, grp := range e.groups {
		if err := grp.StopLoop(timeout); err != nil {
			errs = append(errs, errors.WrapTransient(err, "Engine", "Stop",
				"join runloop of group "+grp.Name()))
		}
	}

	e.logger.Info("graph stopped", "nodes", len(order))
	success = len(errs) == 0
	return errors.Join(errs...)
}

// awaitStage drives one lifecycle stage on one instance and blocks for
// its acknowledgement.
func (e *Engine) awaitStage(
	inst *extension.Instance, timeout time.Duration,
	drive func(*extension.Instance, func(error)) error,
) error {
	ch := make(chan error, 1)
	if err := drive(inst, func(err error) { ch <- err }); err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-ch:
		return err
	case <-timer.C:
		return errors.WrapTransient(errors.ErrTimeout, "Engine", "awaitStage",
			"lifecycle acknowledgement wait")
	}
}

// Running reports whether the graph is started and not yet stopped.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Instance returns the named instance, or nil. Used by the app for
// built-in command targeting and by tests.
func (e *Engine) Instance(name string) *extension.Instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.instances[name]
}
