package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaxonomyPredicates(t *testing.T) {
	conflict := ConflictError{Op: "write-state", Current: 3}
	absent := AbsentError{Op: "read-state"}
	transient := TransientError{Op: "read-state", Err: errors.New("connection reset")}

	assert.True(t, IsConflict(conflict))
	assert.True(t, IsConflict(fmt.Errorf("outer: %w", conflict)))
	assert.False(t, IsConflict(absent))

	assert.True(t, IsAbsent(absent))
	assert.False(t, IsAbsent(transient))

	assert.True(t, IsTransient(transient))
	assert.False(t, IsTransient(conflict))
}

func TestWrapPassesClassifiedErrorsThrough(t *testing.T) {
	conflict := ConflictError{Op: "write-state", Current: 3}
	assert.Equal(t, error(conflict), Wrap("write-state", conflict))

	assert.NoError(t, Wrap("read-state", nil))

	wrapped := Wrap("read-state", errors.New("driver: bad connection"))
	assert.True(t, IsTransient(wrapped))
}

func TestIsDuplicateKeyRecognizesBothDialects(t *testing.T) {
	assert.True(t, IsDuplicateKey(errors.New(`ERROR: duplicate key value violates unique constraint "grain_state_pkey" (SQLSTATE 23505)`)))
	assert.True(t, IsDuplicateKey(errors.New("UNIQUE constraint failed: grain_state.grain_type")))
	assert.False(t, IsDuplicateKey(errors.New("connection refused")))
	assert.False(t, IsDuplicateKey(nil))
}
