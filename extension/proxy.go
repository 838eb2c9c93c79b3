package extension

import (
	"sync/atomic"

	"github.com/c360/flowmesh/errors"
)

// EnvProxy is the only legal way to interact with a runloop-bound env
// from another thread. Notify posts a closure onto the owning runloop
// and returns immediately; binding layers wrap this in whatever async
// idiom they need (futures, channels, callbacks).
//
// Proxies are counted against the instance; every proxy must be
// released before the instance can be deinitialized.
type EnvProxy struct {
	inst     *Instance
	released atomic.Bool
}

// NewProxy creates a counted cross-thread handle for this instance.
// Safe from any thread.
func (i *Instance) NewProxy() (*EnvProxy, error) {
	if i.env == nil {
		return nil, errors.WrapInvalid(errors.ErrNotStarted,
			"EnvProxy", "NewProxy", "env not yet installed")
	}
	i.proxies.Add(1)
	return &EnvProxy{inst: i}, nil
}

// Notify posts a closure onto the owning runloop, handing it the
// instance's env. The closure executes later on the owning runloop;
// Notify itself returns immediately.
func (p *EnvProxy) Notify(fn func(Env)) error {
	if fn == nil {
		return nil
	}
	if p.released.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStopped,
			"EnvProxy", "Notify", "use after release")
	}
	inst := p.inst
	if err := inst.loop.Post(func() { fn(inst.env) }); err != nil {
		return errors.WrapTransient(err, "EnvProxy", "Notify", "runloop post")
	}
	return nil
}

// Release returns the handle. The decrement itself is routed through
// the owning runloop so teardown ordering is decided on one thread.
// Releasing twice is a programming error and is reported as such.
func (p *EnvProxy) Release() error {
	if !p.released.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStopped,
			"EnvProxy", "Release", "double release")
	}
	inst := p.inst
	if err := inst.loop.Post(func() { inst.proxies.Add(-1) }); err != nil {
		// Loop already stopped: decrement directly so the count still
		// reaches zero for teardown assertions.
		inst.proxies.Add(-1)
	}
	return nil
}
