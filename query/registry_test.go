package query

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryOperationResolvesInBothDialects(t *testing.T) {
	for _, registry := range []Registry{PostgresQueries(), SQLiteQueries()} {
		for _, key := range Keys {
			text, err := registry.Get(key)
			require.NoError(t, err, "%s dialect missing %q", registry.Dialect(), key)
			assert.NotEmpty(t, text)
		}
	}
}

func TestPostgresLockedReadsTakeRowLocks(t *testing.T) {
	pg := PostgresQueries()
	lite := SQLiteQueries()

	for _, key := range []Key{LockStateBucket, LockMembershipVersion, LockReminder} {
		assert.True(t, strings.HasSuffix(pg.MustGet(key), "FOR UPDATE"), "postgres %q", key)
		assert.NotContains(t, lite.MustGet(key), "FOR UPDATE", "sqlite %q", key)
	}
}

func TestRangeStatementsAreDistinctShapes(t *testing.T) {
	pg := PostgresQueries()

	contained := pg.MustGet(ReadReminderRangeContained)
	wrapping := pg.MustGet(ReadReminderRangeWrapping)

	assert.Contains(t, contained, "grain_hash > ? AND grain_hash <= ?")
	assert.Contains(t, wrapping, "grain_hash > ? OR grain_hash <= ?")
}

func TestUnknownOperation(t *testing.T) {
	_, err := PostgresQueries().Get(Key("no-such-operation"))
	assert.Error(t, err)
}
