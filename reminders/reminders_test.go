package reminders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRangeBetweenPicksTheShape(t *testing.T) {
	assert.Equal(t, RangeContained, RangeBetween(50, 200).Mode)
	assert.Equal(t, RangeWrapping, RangeBetween(200, 50).Mode)
	assert.Equal(t, RangeWrapping, RangeBetween(7, 7).Mode)
}

func TestContainedIntervalBoundaries(t *testing.T) {
	rng := RangeBetween(50, 200)

	assert.False(t, rng.Contains(50), "begin is exclusive")
	assert.True(t, rng.Contains(51))
	assert.True(t, rng.Contains(200), "end is inclusive")
	assert.False(t, rng.Contains(201))
	assert.False(t, rng.Contains(0))
}

func TestWrappingIntervalCrossesZero(t *testing.T) {
	rng := RangeBetween(200, 50)

	assert.True(t, rng.Contains(201))
	assert.True(t, rng.Contains(4_000_000_000))
	assert.True(t, rng.Contains(0))
	assert.True(t, rng.Contains(50))
	assert.False(t, rng.Contains(51))
	assert.False(t, rng.Contains(200))
}

func TestEqualBoundsWrapTheWholeRing(t *testing.T) {
	rng := RangeBetween(7, 7)

	for _, hash := range []uint32{0, 6, 7, 8, ^uint32(0)} {
		assert.True(t, rng.Contains(hash), "hash %d", hash)
	}
}

func TestGrainRingHashIsStable(t *testing.T) {
	assert.Equal(t, GrainRingHash("Player/0.7"), GrainRingHash("Player/0.7"))
	assert.NotEqual(t, GrainRingHash("Player/0.7"), GrainRingHash("Player/0.8"))
}
