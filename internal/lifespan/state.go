package lifespan

// State tracks where a coordinator is in the startup/shutdown exchange.
// Failed is absorbing and reachable from either live state.
type State int32

const (
	StateAwaitingStartup State = iota
	StateAwaitingShutdown
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingStartup:
		return "awaiting_startup"
	case StateAwaitingShutdown:
		return "awaiting_shutdown"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
