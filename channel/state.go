package channel

// State represents the lifecycle state of a single channel. State is owned
// exclusively by the channel's own connect/receive loop; every other
// component only reads snapshots.
type State int

const (
	// StateDisconnected indicates the channel has no live connection
	StateDisconnected State = iota
	// StateConnecting indicates a handshake is in progress
	StateConnecting
	// StateConnected indicates the receive loop is running
	StateConnected
	// StateErrored indicates the last connect attempt failed
	StateErrored
	// StateClosed indicates the channel was shut down and will not reconnect
	StateClosed
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateErrored:
		return "errored"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Info is a point-in-time snapshot of a channel's state for diagnostics
type Info struct {
	Name             string `json:"name"`
	Endpoint         string `json:"endpoint"`
	State            State  `json:"-"`
	StateName        string `json:"state"`
	LastError        string `json:"last_error,omitempty"`
	ReconnectAttempt int    `json:"reconnect_attempt"`
}
