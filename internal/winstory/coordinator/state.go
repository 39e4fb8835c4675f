package coordinator

// State is the phase of a record's refresh state machine.
type State int

const (
	StateIdle State = iota
	StateTriggering
	StateAwaitingFreshData
	StateSettled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTriggering:
		return "triggering"
	case StateAwaitingFreshData:
		return "awaiting_fresh_data"
	case StateSettled:
		return "settled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// InFlight reports whether a refresh cycle is outstanding.
func (s State) InFlight() bool {
	return s == StateTriggering || s == StateAwaitingFreshData
}
