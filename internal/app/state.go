package app

// State is the lifecycle state of a dispatcher. A dispatcher is bound to a
// single run: it starts in StateStopped, moves through StateConnecting and
// StateConnected while running, and ends in StateStopped for good. A
// stopped dispatcher is never restarted; the facade builds a fresh one.
type State int32

const (
	StateStopped State = iota
	StateConnecting
	StateConnected
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	default:
		return "Unknown"
	}
}
