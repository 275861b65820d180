package database

import (
	"errors"
	"fmt"
	"strings"
)

// ConflictError reports an optimistic-concurrency failure: the caller's
// expected version did not match the stored row, or a concurrent first
// write won the race. Current carries the unchanged stored version.
type ConflictError struct {
	Op      string
	Current int32
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s: version conflict, stored version is %d", e.Op, e.Current)
}

// AbsentError reports that no row matched. It is distinct from a tombstone,
// which is a row that exists with a null payload.
type AbsentError struct {
	Op string
}

func (e AbsentError) Error() string {
	return fmt.Sprintf("%s: no matching row", e.Op)
}

// TransientError wraps connection, timeout, and lock failures. The caller
// owns retry and backoff; this layer never retries.
type TransientError struct {
	Op  string
	Err error
}

func (e TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e TransientError) Unwrap() error {
	return e.Err
}

// SchemaError means a required table is missing. Fatal at startup, never
// retried.
type SchemaError struct {
	Missing string
}

func (e SchemaError) Error() string {
	return fmt.Sprintf("required table %q is missing", e.Missing)
}

func IsConflict(err error) bool {
	var c ConflictError
	return errors.As(err, &c)
}

func IsAbsent(err error) bool {
	var a AbsentError
	return errors.As(err, &a)
}

func IsTransient(err error) bool {
	var t TransientError
	return errors.As(err, &t)
}

// Wrap classifies a database error under the taxonomy. Errors already
// classified pass through untouched.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		conflict  ConflictError
		absent    AbsentError
		transient TransientError
		schema    SchemaError
	)
	if errors.As(err, &conflict) || errors.As(err, &absent) || errors.As(err, &transient) || errors.As(err, &schema) {
		return err
	}
	return TransientError{Op: op, Err: err}
}

// IsDuplicateKey recognizes the unique-constraint violation both dialects
// raise when two guarded first-writers race; it is the storage layer's
// atomic conflict signal.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "SQLSTATE 23505")
}
