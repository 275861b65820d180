package membership

import (
	"context"
	"time"
)

// Status is the externally decided silo lifecycle state. This layer
// persists whatever it is given; the transition policy lives in the
// failure detector, not here.
type Status int32

const (
	Joining Status = iota + 1
	Active
	ShuttingDown
	Stopping
	Stopped
	Dead
)

func (s Status) Terminal() bool {
	return s == Stopped || s == Dead
}

func (s Status) String() string {
	switch s {
	case Joining:
		return "Joining"
	case Active:
		return "Active"
	case ShuttingDown:
		return "ShuttingDown"
	case Stopping:
		return "Stopping"
	case Stopped:
		return "Stopped"
	case Dead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// SiloEntry is one silo's row. The (DeploymentID, Address, Port,
// Generation) key is immutable once inserted; everything else mutates only
// through the CAS-guarded UpdateSilo, except LastAliveTime which the
// heartbeat writes unconditionally.
type SiloEntry struct {
	DeploymentID  string
	Address       string
	Port          int32
	Generation    int32
	HostName      string
	Status        Status
	ProxyPort     int32
	SuspectTimes  []string
	StartTime     time.Time
	LastAliveTime time.Time
}

// TableVersion is the cluster's consistency token: every CAS mutation to
// any silo row bumps it in the same transaction, so a reader holding a
// version holds a coherent snapshot.
type TableVersion struct {
	Version   int32
	Timestamp time.Time
}

// Store maintains the authoritative silo list for a deployment.
type Store interface {
	EnsureDeploymentVersion(ctx context.Context, deploymentID string) error
	InsertSilo(ctx context.Context, entry SiloEntry) (bool, error)
	UpdateSilo(ctx context.Context, entry SiloEntry, expectedVersion int32) (bool, error)
	ReadOne(ctx context.Context, deploymentID, address string, port, generation int32) (*SiloEntry, TableVersion, error)
	ReadAll(ctx context.Context, deploymentID string) ([]SiloEntry, TableVersion, error)
	Gateways(ctx context.Context, deploymentID string, status Status) ([]SiloEntry, error)
	Heartbeat(ctx context.Context, deploymentID, address string, port, generation int32, at time.Time)
	DeleteAll(ctx context.Context, deploymentID string) error
	PurgeDefunct(ctx context.Context, deploymentID string, cutoff time.Time) (int64, error)
}
