package message

import (
	"github.com/c360/flowmesh/errors"
)

// Status is the outcome carried by a CommandResult.
type Status uint8

const (
	// StatusOK indicates the command succeeded.
	StatusOK Status = iota
	// StatusError indicates the command failed; Detail explains why.
	StatusError
)

// String returns the status name.
func (s Status) String() string {
	if s == StatusOK {
		return "ok"
	}
	return "error"
}

// CmdResult is the correlated response to a Cmd. A command produces
// zero or more interim results (IsFinal=false) followed by exactly one
// final result (IsFinal=true), unless a flush intervenes.
type CmdResult struct {
	base
	cmdID      string
	status     Status
	detail     string
	isFinal    bool
	returnPath []Loc
}

// NewResult creates a result answering cmd. The result inherits the
// command's name, correlation id and return path; the engine walks the
// path backwards to deliver it.
func NewResult(cmd *Cmd, status Status, detail string, isFinal bool, opts ...Option) *CmdResult {
	r := &CmdResult{
		base:       newBase(cmd.Name()),
		cmdID:      cmd.CmdID(),
		status:     status,
		detail:     detail,
		isFinal:    isFinal,
		returnPath: cmd.ReturnPath(),
	}
	for _, opt := range opts {
		opt(&r.base)
	}
	return r
}

// RestoreResult reconstructs a result that arrived over the wire.
func RestoreResult(
	name, cmdID string, status Status, detail string, isFinal bool,
	returnPath []Loc, opts ...Option,
) *CmdResult {
	r := &CmdResult{
		base:       newBase(name),
		cmdID:      cmdID,
		status:     status,
		detail:     detail,
		isFinal:    isFinal,
		returnPath: append([]Loc(nil), returnPath...),
	}
	for _, opt := range opts {
		opt(&r.base)
	}
	return r
}

// Type implements Message.
func (r *CmdResult) Type() Type { return TypeCommandResult }

// CmdID returns the correlation id of the command this result answers.
func (r *CmdResult) CmdID() string { return r.cmdID }

// Status returns the result outcome.
func (r *CmdResult) Status() Status { return r.status }

// Detail returns the human-readable outcome detail.
func (r *CmdResult) Detail() string { return r.detail }

// IsFinal reports whether this is the last result for the command.
func (r *CmdResult) IsFinal() bool { return r.isFinal }

// PopReturn removes and returns the deepest hop of the return path.
// The second return is false when the path is exhausted.
func (r *CmdResult) PopReturn() (Loc, bool) {
	if len(r.returnPath) == 0 {
		return Loc{}, false
	}
	loc := r.returnPath[len(r.returnPath)-1]
	r.returnPath = r.returnPath[:len(r.returnPath)-1]
	return loc, true
}

// PushReturn appends a hop to the return path. The router uses it to
// keep a hop on the path when handing the result to another process,
// so the peer can pop and match it there.
func (r *CmdResult) PushReturn(loc Loc) {
	r.returnPath = append(r.returnPath, loc)
}

// ReturnPath returns a copy of the remaining return path.
func (r *CmdResult) ReturnPath() []Loc {
	return append([]Loc(nil), r.returnPath...)
}

// Clone implements Message.
func (r *CmdResult) Clone() Message {
	return &CmdResult{
		base:       r.cloneBase(),
		cmdID:      r.cmdID,
		status:     r.status,
		detail:     r.detail,
		isFinal:    r.isFinal,
		returnPath: append([]Loc(nil), r.returnPath...),
	}
}

// Validate implements Message.
func (r *CmdResult) Validate() error {
	if err := r.validateBase(TypeCommandResult); err != nil {
		return err
	}
	if r.cmdID == "" {
		return errors.WrapInvalid(errors.ErrInvalidData,
			"CmdResult", "Validate", "correlation id validation")
	}
	return nil
}
