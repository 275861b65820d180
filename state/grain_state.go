package state

import (
	"context"
	"time"

	"github.com/johnewart/go-orleans-storage/grains"
)

// GrainState is one grain's persisted record. A nil Payload with a
// positive Version is a tombstone left by Clear, not an absent row.
type GrainState struct {
	Payload    []byte
	Version    int32
	ModifiedOn time.Time
}

func (s *GrainState) Tombstone() bool {
	return s.Payload == nil && s.Version > 0
}

// Store persists serialized grain state under optimistic concurrency.
// Write and Clear return the new version on success; on a version
// mismatch they return the unchanged stored version inside a
// database.ConflictError, never a silent success.
type Store interface {
	Write(ctx context.Context, id grains.GrainIdentity, serviceID string, payload []byte, expectedVersion *int32) (int32, error)
	Read(ctx context.Context, id grains.GrainIdentity, serviceID string) (*GrainState, error)
	Clear(ctx context.Context, id grains.GrainIdentity, serviceID string, expectedVersion int32) (int32, error)
}
