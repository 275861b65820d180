package directory

import (
	"context"

	"github.com/johnewart/go-orleans-storage/grains"
)

// SiloAddress is where a grain is currently activated. Placement is a
// volatile cache; the relational stores remain the source of truth for
// everything durable.
type SiloAddress struct {
	Address string `json:"address"`
	Port    int32  `json:"port"`
}

type Directory interface {
	Lookup(ctx context.Context, id grains.GrainIdentity) (*SiloAddress, error)
	Place(ctx context.Context, id grains.GrainIdentity, addr SiloAddress) error
	Evict(ctx context.Context, id grains.GrainIdentity) error
	Healthy(ctx context.Context) bool
}
