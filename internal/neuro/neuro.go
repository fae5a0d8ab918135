// Package neuro defines the brain-wave sample model and the capability
// interface implemented by headset adapters.
package neuro

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a SourceError.
type ErrorKind int

const (
	// Timeout indicates a transient read timeout; the stream may continue.
	Timeout ErrorKind = iota

	// Disconnected indicates the headset link is gone. The sample sequence
	// is finite from this point until Open is retried.
	Disconnected

	// MalformedFrame indicates the adapter gave up parsing the incoming
	// byte stream after repeated consecutive failures.
	MalformedFrame
)

func (k ErrorKind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case Disconnected:
		return "disconnected"
	case MalformedFrame:
		return "malformed frame"
	default:
		return "unknown"
	}
}

// SourceError is returned by Source implementations for read failures.
type SourceError struct {
	Kind ErrorKind
	Err  error
}

func (e *SourceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sensor source: %s: %s", e.Kind, e.Err)
	}
	return fmt.Sprintf("sensor source: %s", e.Kind)
}

func (e *SourceError) Unwrap() error { return e.Err }

// IsDisconnected reports whether err is a SourceError with Kind Disconnected.
func IsDisconnected(err error) bool {
	var se *SourceError
	return errors.As(err, &se) && se.Kind == Disconnected
}

// IsTimeout reports whether err is a SourceError with Kind Timeout.
func IsTimeout(err error) bool {
	var se *SourceError
	return errors.As(err, &se) && se.Kind == Timeout
}

// Sample is one timestamped reading batch from the headset. Samples are
// immutable once produced; Seq is strictly increasing per Source instance
// and is never reused within a session.
type Sample struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Channels  []float64 `json:"channels"`
}

// Source is the headset capability interface. Implementations produce
// samples in strictly increasing Seq order and never reorder. Next blocks
// until a sample is available or the link fails; after a Disconnected
// error the stream is finite until Open is called again.
type Source interface {
	Open(ctx context.Context) error
	Next(ctx context.Context) (Sample, error)
	Close() error

	// Device returns the adapter type, e.g. "cyton" or "synthetic".
	Device() string

	// DeviceID returns the configured identity of this headset, e.g. the
	// serial port path.
	DeviceID() string
}
