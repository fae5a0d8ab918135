package session

import (
	"sync/atomic"
	"time"

	"github.com/mindfly/brainpilot/internal/drone"
	"github.com/mindfly/brainpilot/internal/neuro"
)

// Snapshot is an immutable, atomically published view of current session
// state. It is replaced as a whole and never mutated in place; consumers
// always see a complete, consistent snapshot.
type Snapshot struct {
	State State `json:"state"`

	Sensor LinkStatus `json:"sensor"`
	Server LinkStatus `json:"server"`
	Drone  LinkStatus `json:"drone"`

	LastSample  *neuro.Sample  `json:"last_sample,omitempty"`
	LastCommand *drone.Command `json:"last_command,omitempty"`

	// DroppedSamples counts outbound samples evicted under backpressure.
	DroppedSamples uint64 `json:"dropped_samples"`

	// DroppedCommands counts inbound frames discarded by the link plus
	// commands dropped at dispatch (timeouts, link failures).
	DroppedCommands uint64 `json:"dropped_commands"`

	// RejectedCommands counts local safety-policy rejections.
	RejectedCommands uint64 `json:"rejected_commands"`

	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Publisher holds the latest snapshot for presentation. A single writer
// (the session core) replaces the snapshot atomically; any number of
// readers call Current without blocking and never observe a write in
// progress.
type Publisher struct {
	current atomic.Pointer[Snapshot]
}

// NewPublisher creates a Publisher primed with an idle snapshot.
func NewPublisher() *Publisher {
	p := &Publisher{}
	p.current.Store(&Snapshot{State: StateIdle, UpdatedAt: time.Now()})
	return p
}

// Publish replaces the current snapshot.
func (p *Publisher) Publish(s *Snapshot) {
	p.current.Store(s)
}

// Current returns the latest snapshot without blocking.
func (p *Publisher) Current() *Snapshot {
	return p.current.Load()
}
