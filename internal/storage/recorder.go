package storage

import (
	"context"

	"github.com/mindfly/brainpilot/internal/neuro"
	"github.com/mindfly/brainpilot/internal/session"
)

// SessionRecorder binds a Store to one flight session row. It implements
// the session core's Recorder interface.
type SessionRecorder struct {
	store     Store
	sessionID int64
}

// NewSessionRecorder creates a recorder writing into the given session.
func NewSessionRecorder(store Store, sessionID int64) *SessionRecorder {
	return &SessionRecorder{store: store, sessionID: sessionID}
}

func (r *SessionRecorder) StoreSamples(ctx context.Context, samples []neuro.Sample) error {
	return r.store.StoreSamples(ctx, r.sessionID, samples)
}

func (r *SessionRecorder) StoreCommand(ctx context.Context, rec session.CommandRecord) error {
	return r.store.StoreCommand(ctx, r.sessionID, rec)
}
