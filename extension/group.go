package extension

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/flowmesh/errors"
	"github.com/c360/flowmesh/runloop"
)

// Group is a set of extension instances colocated on one runloop for
// isolation and lock-free local delivery. A group is created and owned
// by the engine instantiating a graph; instances never outlive it.
type Group struct {
	name      string
	loop      *runloop.Runloop
	instances []*Instance
	byName    map[string]*Instance
}

// GroupOption configures a Group at construction.
type GroupOption func(*groupConfig)

type groupConfig struct {
	queueSize int
	logger    *slog.Logger
	hook      runloop.StatsHook
}

// WithGroupQueueSize overrides the runloop queue capacity.
func WithGroupQueueSize(n int) GroupOption {
	return func(c *groupConfig) { c.queueSize = n }
}

// WithGroupLogger sets the logger handed to the group's runloop.
func WithGroupLogger(logger *slog.Logger) GroupOption {
	return func(c *groupConfig) { c.logger = logger }
}

// WithGroupStats mirrors the runloop's queue depth and panic counts
// into a metrics sink.
func WithGroupStats(hook runloop.StatsHook) GroupOption {
	return func(c *groupConfig) { c.hook = hook }
}

// NewGroup creates a group with a dedicated runloop.
func NewGroup(name string, opts ...GroupOption) *Group {
	cfg := groupConfig{queueSize: 1024, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Group{
		name: name,
		loop: runloop.New("group:"+name,
			runloop.WithQueueSize(cfg.queueSize),
			runloop.WithLogger(cfg.logger),
			runloop.WithStatsHook(cfg.hook)),
		byName: make(map[string]*Instance),
	}
}

// Name returns the group name.
func (g *Group) Name() string { return g.name }

// Runloop returns the group's runloop. Instances added to this group
// must be bound to it.
func (g *Group) Runloop() *runloop.Runloop { return g.loop }

// Add registers an instance with the group. The instance must already
// be bound to the group's runloop.
func (g *Group) Add(inst *Instance) error {
	if inst.Runloop() != g.loop {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"Group", "Add", "instance bound to a foreign runloop")
	}
	if _, exists := g.byName[inst.Name()]; exists {
		return errors.WrapInvalid(errors.ErrInstanceExists,
			"Group", "Add", "duplicate instance "+inst.Name())
	}
	g.instances = append(g.instances, inst)
	g.byName[inst.Name()] = inst
	return nil
}

// Instance returns a member by name, or nil.
func (g *Group) Instance(name string) *Instance { return g.byName[name] }

// Instances returns the members in addition order.
func (g *Group) Instances() []*Instance {
	return append([]*Instance(nil), g.instances...)
}

// Start launches the group's runloop.
func (g *Group) Start(ctx context.Context) error {
	return g.loop.Start(ctx)
}

// StopLoop drains and joins the group's runloop. Called by the engine
// after every member acknowledged its stop and deinit stages.
func (g *Group) StopLoop(timeout time.Duration) error {
	return g.loop.Stop(timeout)
}
