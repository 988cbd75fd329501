package topicspec

// State is the phase of the shared connection
type State int

const (
	// StateIdle means no connection and no attempt in flight
	StateIdle State = iota
	// StateConnecting means a connect attempt is in flight or scheduled
	StateConnecting
	// StateConnected means the session is open and subscriptions are bound
	StateConnected
	// StateBroken means retries are exhausted; the next Subscribe starts over
	StateBroken
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBroken:
		return "broken"
	default:
		return "unknown"
	}
}
