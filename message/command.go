package message

import (
	"github.com/google/uuid"

	"github.com/c360/flowmesh/errors"
)

// Built-in command names understood by the runtime itself. Everything
// else is routed to extension handlers untouched.
const (
	// CmdFlush cancels queued-but-undispatched messages at each hop and
	// propagates downstream. Privileged: the dispatcher handles it
	// before the extension sees it.
	CmdFlush = "flush"

	// CmdStartGraph and CmdStopGraph are app-level commands addressed
	// to a Loc with an empty extension name.
	CmdStartGraph = "start_graph"
	CmdStopGraph  = "stop_graph"
)

// Cmd is a request message expecting one or more correlated
// CommandResults. It carries a unique correlation id, distinct from the
// envelope id, plus the return-path stack of Locs it passed through.
type Cmd struct {
	base
	cmdID      string
	returnPath []Loc
}

// NewCmd creates a Command with a fresh correlation id.
func NewCmd(name string, opts ...Option) *Cmd {
	c := &Cmd{
		base:  newBase(name),
		cmdID: uuid.New().String(),
	}
	for _, opt := range opts {
		opt(&c.base)
	}
	return c
}

// RestoreCmd reconstructs a Command that arrived over the wire,
// preserving its correlation id and return path.
func RestoreCmd(name, cmdID string, returnPath []Loc, opts ...Option) *Cmd {
	c := &Cmd{
		base:       newBase(name),
		cmdID:      cmdID,
		returnPath: append([]Loc(nil), returnPath...),
	}
	for _, opt := range opts {
		opt(&c.base)
	}
	return c
}

// Type implements Message.
func (c *Cmd) Type() Type { return TypeCommand }

// CmdID returns the correlation id shared by this Command and every
// CommandResult answering it.
func (c *Cmd) CmdID() string { return c.cmdID }

// PushReturn records a forward hop. The engine calls this with the
// sender's Loc on every hop so results can walk back without
// re-resolving the topology.
func (c *Cmd) PushReturn(loc Loc) {
	c.returnPath = append(c.returnPath, loc)
}

// ReturnPath returns a copy of the current return-path stack, deepest
// hop last.
func (c *Cmd) ReturnPath() []Loc {
	return append([]Loc(nil), c.returnPath...)
}

// Clone implements Message. The correlation id and return path are
// preserved so a fan-out copy still answers to the same originator.
func (c *Cmd) Clone() Message {
	return &Cmd{
		base:       c.cloneBase(),
		cmdID:      c.cmdID,
		returnPath: append([]Loc(nil), c.returnPath...),
	}
}

// Validate implements Message.
func (c *Cmd) Validate() error {
	if err := c.validateBase(TypeCommand); err != nil {
		return err
	}
	if c.cmdID == "" {
		return errors.WrapInvalid(errors.ErrInvalidData,
			"Cmd", "Validate", "correlation id validation")
	}
	return nil
}

// IsFlush reports whether this is the privileged flush command.
func (c *Cmd) IsFlush() bool { return c.name == CmdFlush }
