package session

import "fmt"

// State is the session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateDegraded
	StateTerminating
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	case StateTerminating:
		return "terminating"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the state as its name.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", s.String())), nil
}

// LinkState is the connection state of one external link.
type LinkState int

const (
	LinkDisconnected LinkState = iota
	LinkConnecting
	LinkConnected
	LinkDegraded
	LinkFailed
)

func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "disconnected"
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkDegraded:
		return "degraded"
	case LinkFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the link state as its name.
func (s LinkState) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", s.String())), nil
}

// LinkStatus is the tracked status of one external link, with an optional
// failure reason for the Degraded and Failed states.
type LinkStatus struct {
	State  LinkState `json:"state"`
	Reason string    `json:"reason,omitempty"`
}

// Usable reports whether the link can currently carry traffic.
func (s LinkStatus) Usable() bool {
	return s.State == LinkConnected
}
