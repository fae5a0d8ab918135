package session

import (
	"time"

	"github.com/mindfly/brainpilot/internal/drone"
)

const (
	// DefaultConfidenceThreshold is the minimum interpretation confidence
	// for a movement to reach the drone.
	DefaultConfidenceThreshold = 0.6

	// DefaultStalenessDeadline is the maximum age of a decoded command
	// before executing it is unsafe.
	DefaultStalenessDeadline = 150 * time.Millisecond
)

// RejectReason names why the safety policy refused a command. Policy
// rejections are expected steady-state noise: they are counted, never
// surfaced as failures.
type RejectReason string

const (
	RejectLowConfidence RejectReason = "low_confidence"
	RejectStale         RejectReason = "stale"
	RejectNotActive     RejectReason = "not_active"
)

// Policy is the rule set gating whether a command reaches the drone.
type Policy struct {
	ConfidenceThreshold float64
	StalenessDeadline   time.Duration
}

// DefaultPolicy returns the policy with default thresholds.
func DefaultPolicy() Policy {
	return Policy{
		ConfidenceThreshold: DefaultConfidenceThreshold,
		StalenessDeadline:   DefaultStalenessDeadline,
	}
}

// Check evaluates cmd against the policy. EmergencyStop bypasses every
// check: it is dispatched unconditionally whenever the drone link is
// reachable, including outside the Active state.
func (p Policy) Check(cmd drone.Command, state State, now time.Time) (RejectReason, bool) {
	if cmd.IsEmergencyStop() {
		return "", true
	}
	if state != StateActive {
		return RejectNotActive, false
	}
	if cmd.Confidence < p.ConfidenceThreshold {
		return RejectLowConfidence, false
	}
	if cmd.Age(now) > p.StalenessDeadline {
		return RejectStale, false
	}
	return "", true
}
