// Package storage persists flight session history: the headset samples
// that were forwarded and the commands that came back, with their
// outcomes, in a sqlite database per data directory.
package storage

import (
	"context"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mindfly/brainpilot/internal/neuro"
	"github.com/mindfly/brainpilot/internal/session"
)

// FlightSession is one recorded session row, with sample and command
// counts when listed.
type FlightSession struct {
	ID         int64
	UID        string
	StartTime  time.Time
	SensorType string
	SensorID   string
	DroneAddr  string
	Config     *string

	SampleCount  int64
	CommandCount int64
}

// Store manages flight history persistence. Write operations are atomic;
// the implementation is safe for concurrent use.
type Store interface {
	// CreateSession initializes a new flight session row and returns its
	// identifier. config can be a string, []byte, or any JSON-serializable
	// value; nil stores NULL.
	CreateSession(ctx context.Context, uid, sensorType, sensorID, droneAddr string, config any) (sessionID int64, err error)

	// Session retrieves one session by its ID, without counts.
	Session(ctx context.Context, id int64) (*FlightSession, error)

	// Sessions returns all recorded sessions ordered by start time, with
	// sample and command counts populated.
	Sessions(ctx context.Context) ([]*FlightSession, error)

	// StoreSamples persists a batch of forwarded samples in one
	// transaction.
	StoreSamples(ctx context.Context, sessionID int64, samples []neuro.Sample) error

	// StoreCommand persists one command with its outcome.
	StoreCommand(ctx context.Context, sessionID int64, rec session.CommandRecord) error

	// Close releases the database connections. Safe to call multiple
	// times; the store cannot be reused afterwards.
	Close() error
}
