// Package drone defines the interpreted movement command model and the
// capability interface implemented by drone adapters.
package drone

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// MovementKind enumerates the movement vocabulary of the interpretation
// service.
type MovementKind int

const (
	Hover MovementKind = iota
	Ascend
	Descend
	Yaw
	Pitch
	Roll
	Land
	EmergencyStop
)

var movementLabels = map[MovementKind]string{
	Hover:         "hover",
	Ascend:        "ascend",
	Descend:       "descend",
	Yaw:           "yaw",
	Pitch:         "pitch",
	Roll:          "roll",
	Land:          "land",
	EmergencyStop: "emergency_stop",
}

// Label returns the wire/storage label of the movement kind.
func (k MovementKind) Label() string {
	if l, ok := movementLabels[k]; ok {
		return l
	}
	return "unknown"
}

// ParseMovementKind maps a wire label back to its MovementKind.
func ParseMovementKind(label string) (MovementKind, error) {
	for k, l := range movementLabels {
		if l == label {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown movement %q", label)
}

// MarshalJSON renders the kind as its wire label.
func (k MovementKind) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf("%q", k.Label())), nil
}

// Movement is a tagged movement variant. Angle carries the signed degrees
// for Yaw, Pitch and Roll and is meaningless for the other kinds.
type Movement struct {
	Kind  MovementKind `json:"kind"`
	Angle float64      `json:"angle,omitempty"`
}

func (m Movement) String() string {
	switch m.Kind {
	case Yaw, Pitch, Roll:
		return fmt.Sprintf("%s(%.0f)", m.Kind.Label(), m.Angle)
	default:
		return m.Kind.Label()
	}
}

// Command is one interpreted movement instruction. Seq is strictly
// increasing per inbound server stream; DecodedAt anchors the staleness
// deadline. Commands are immutable once decoded.
type Command struct {
	Seq        uint64    `json:"seq"`
	Movement   Movement  `json:"movement"`
	Confidence float64   `json:"confidence"`
	DecodedAt  time.Time `json:"decoded_at"`
}

// IsEmergencyStop reports whether the command bypasses the safety policy.
func (c Command) IsEmergencyStop() bool {
	return c.Movement.Kind == EmergencyStop
}

// Age returns the elapsed time since the command was decoded.
func (c Command) Age(now time.Time) time.Duration {
	return now.Sub(c.DecodedAt)
}

// LinkHealth is the drone link health as reported by the adapter.
type LinkHealth int

const (
	LinkDown LinkHealth = iota
	LinkUp
)

func (h LinkHealth) String() string {
	if h == LinkUp {
		return "up"
	}
	return "down"
}

// DispatchErrorKind classifies a DispatchError.
type DispatchErrorKind int

const (
	// DispatchLinkDown indicates the drone link is not connected.
	DispatchLinkDown DispatchErrorKind = iota

	// DispatchRejected indicates the drone refused the command.
	DispatchRejected

	// DispatchTimeout indicates the dispatch deadline elapsed. The command
	// is dropped and must not be retried; replaying a stale motion
	// instruction after a newer one has superseded it is unsafe.
	DispatchTimeout
)

func (k DispatchErrorKind) String() string {
	switch k {
	case DispatchLinkDown:
		return "link down"
	case DispatchRejected:
		return "rejected"
	case DispatchTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// DispatchError is returned by Sink.Dispatch on failure.
type DispatchError struct {
	Kind   DispatchErrorKind
	Reason string
	Err    error
}

func (e *DispatchError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("drone dispatch: %s: %s", e.Kind, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("drone dispatch: %s: %s", e.Kind, e.Err)
	}
	return fmt.Sprintf("drone dispatch: %s", e.Kind)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// DispatchKind extracts the DispatchErrorKind from err. ok is false when
// err is not a DispatchError.
func DispatchKind(err error) (DispatchErrorKind, bool) {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return 0, false
}

// Sink is the drone capability interface. Dispatch must complete or fail
// within the adapter's dispatch deadline and never blocks the calling
// pipeline indefinitely.
type Sink interface {
	Connect(ctx context.Context) error
	Dispatch(ctx context.Context, cmd Command) error
	Status() LinkHealth
	Close() error
}
