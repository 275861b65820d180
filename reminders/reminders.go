package reminders

import (
	"context"
	"time"

	"github.com/twmb/murmur3"
)

// Reminder is one durable scheduled callback for a grain. Version is 0 on
// first insert and increments on every update; it is the CAS token for
// Delete.
type Reminder struct {
	ServiceID string
	GrainID   string
	Name      string
	StartAt   time.Time
	Period    time.Duration
	GrainHash uint32
	Version   int32
}

// GrainRingHash places a grain id on the circular hash space reminders are
// partitioned over.
func GrainRingHash(grainID string) uint32 {
	return murmur3.Sum32([]byte(grainID))
}

// RangeMode selects one of the two interval shapes over the ring. They are
// deliberately distinct modes rather than one formula so the wraparound
// arithmetic stays auditable.
type RangeMode int

const (
	// RangeContained covers hash > Begin AND hash <= End.
	RangeContained RangeMode = iota
	// RangeWrapping covers hash > Begin OR hash <= End; the interval
	// crosses the ring's zero point.
	RangeWrapping
)

type HashRange struct {
	Begin uint32
	End   uint32
	Mode  RangeMode
}

// RangeBetween builds the (begin, end] interval, picking the wrapping
// shape when the interval crosses zero. Equal bounds wrap the whole ring.
func RangeBetween(begin, end uint32) HashRange {
	if begin < end {
		return HashRange{Begin: begin, End: end, Mode: RangeContained}
	}
	return HashRange{Begin: begin, End: end, Mode: RangeWrapping}
}

// Contains mirrors the SQL predicates; it exists so the boundary
// arithmetic is testable without a database.
func (r HashRange) Contains(hash uint32) bool {
	if r.Mode == RangeContained {
		return hash > r.Begin && hash <= r.End
	}
	return hash > r.Begin || hash <= r.End
}

// Store persists reminders and serves the ring-partitioned scans the
// reminder service shards its table with.
type Store interface {
	Upsert(ctx context.Context, reminder Reminder) (int32, error)
	ReadOne(ctx context.Context, serviceID, grainID, name string) (*Reminder, error)
	ReadAllForGrain(ctx context.Context, serviceID, grainID string) ([]Reminder, error)
	ReadRange(ctx context.Context, serviceID string, rng HashRange) ([]Reminder, error)
	Delete(ctx context.Context, serviceID, grainID, name string, expectedVersion int32) (bool, error)
	DeleteAllForService(ctx context.Context, serviceID string) error
}
