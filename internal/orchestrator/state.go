package orchestrator

// State is a step of the turn state machine.
type State int

const (
	StateInit State = iota
	StateLocalAttempt
	StateRemoteAttempt
	StateFallbackAttempt
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateLocalAttempt:
		return "LOCAL_ATTEMPT"
	case StateRemoteAttempt:
		return "REMOTE_ATTEMPT"
	case StateFallbackAttempt:
		return "FALLBACK_ATTEMPT"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
