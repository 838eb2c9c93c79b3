package extension

// State represents the current lifecycle state of an extension instance
type State int

const (
	// StateCreated indicates the instance exists but nothing ran yet
	StateCreated State = iota
	// StateConfiguring indicates OnConfigure is executing
	StateConfiguring
	// StateInitialized indicates OnConfigure and OnInit completed
	StateInitialized
	// StateStarting indicates OnStart is executing
	StateStarting
	// StateStarted indicates the instance accepts message callbacks
	StateStarted
	// StateStopping indicates OnStop is executing
	StateStopping
	// StateStopped indicates OnStop completed
	StateStopped
	// StateDeinitialized indicates OnDeinit completed; terminal
	StateDeinitialized
)

// String returns a string representation of the state
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConfiguring:
		return "configuring"
	case StateInitialized:
		return "initialized"
	case StateStarting:
		return "starting"
	case StateStarted:
		return "started"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateDeinitialized:
		return "deinitialized"
	default:
		return "unknown"
	}
}

// validTransitions encodes the only legal lifecycle edges. Anything
// else is an integrity violation.
var validTransitions = map[State]State{
	StateCreated:     StateConfiguring,
	StateConfiguring: StateInitialized,
	StateInitialized: StateStarting,
	StateStarting:    StateStarted,
	StateStarted:     StateStopping,
	StateStopping:    StateStopped,
	StateStopped:     StateDeinitialized,
}

// canTransition reports whether from → to is a legal lifecycle edge.
func canTransition(from, to State) bool {
	next, ok := validTransitions[from]
	return ok && next == to
}
