package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/johnewart/go-orleans-storage/database"
	"github.com/johnewart/go-orleans-storage/membership"
	"github.com/johnewart/go-orleans-storage/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConnection(t *testing.T) *database.Connection {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := database.OpenSQLite(dsn)
	require.NoError(t, err)
	return conn
}

func newTestStore(t *testing.T) *RelationalStore {
	t.Helper()
	conn := newTestConnection(t)
	require.NoError(t, Migrate(conn))
	store, err := NewRelationalStore(conn, metrics.NewNopRegistry())
	require.NoError(t, err)
	return store
}

func testEntry(deploymentID string, port int32) membership.SiloEntry {
	now := time.Now().UTC()
	return membership.SiloEntry{
		DeploymentID:  deploymentID,
		Address:       "10.0.0.1",
		Port:          port,
		Generation:    1,
		HostName:      "silo-host",
		Status:        membership.Joining,
		ProxyPort:     0,
		StartTime:     now,
		LastAliveTime: now,
	}
}

func TestEnsureDeploymentVersionIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	deploymentID := uuid.NewString()

	require.NoError(t, store.EnsureDeploymentVersion(ctx, deploymentID))
	require.NoError(t, store.EnsureDeploymentVersion(ctx, deploymentID))

	entries, version, err := store.ReadAll(ctx, deploymentID)
	require.NoError(t, err)
	assert.Equal(t, int32(0), version.Version)
	assert.Empty(t, entries)
}

func TestInsertSiloBumpsVersionExactlyOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	deploymentID := uuid.NewString()
	require.NoError(t, store.EnsureDeploymentVersion(ctx, deploymentID))

	inserted, err := store.InsertSilo(ctx, testEntry(deploymentID, 11111))
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same (deployment, address, port, generation): no second join, no
	// second bump.
	inserted, err = store.InsertSilo(ctx, testEntry(deploymentID, 11111))
	require.NoError(t, err)
	assert.False(t, inserted)

	entries, version, err := store.ReadAll(ctx, deploymentID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, int32(1), version.Version)
}

func TestInsertSiloRequiresInitializedDeployment(t *testing.T) {
	store := newTestStore(t)

	_, err := store.InsertSilo(context.Background(), testEntry(uuid.NewString(), 11111))
	assert.True(t, database.IsAbsent(err))
}

func TestUpdateSiloVersionCAS(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	deploymentID := uuid.NewString()
	require.NoError(t, store.EnsureDeploymentVersion(ctx, deploymentID))

	entry := testEntry(deploymentID, 11111)
	_, err := store.InsertSilo(ctx, entry)
	require.NoError(t, err)

	entry.Status = membership.Active
	entry.ProxyPort = 30000
	entry.SuspectTimes = []string{"10.0.0.2:11111@1,638000000000000000"}

	updated, err := store.UpdateSilo(ctx, entry, 1)
	require.NoError(t, err)
	assert.True(t, updated)

	stored, version, err := store.ReadOne(ctx, deploymentID, entry.Address, entry.Port, entry.Generation)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, int32(2), version.Version)
	assert.Equal(t, membership.Active, stored.Status)
	assert.Equal(t, int32(30000), stored.ProxyPort)
	assert.Equal(t, entry.SuspectTimes, stored.SuspectTimes)

	// Replaying the same expected version must fail: the token moved.
	updated, err = store.UpdateSilo(ctx, entry, 1)
	require.NoError(t, err)
	assert.False(t, updated)

	_, version, err = store.ReadOne(ctx, deploymentID, entry.Address, entry.Port, entry.Generation)
	require.NoError(t, err)
	assert.Equal(t, int32(2), version.Version)
}

func TestUpdateSiloUnknownSiloRollsBackVersionBump(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	deploymentID := uuid.NewString()
	require.NoError(t, store.EnsureDeploymentVersion(ctx, deploymentID))

	ghost := testEntry(deploymentID, 22222)
	updated, err := store.UpdateSilo(ctx, ghost, 0)
	require.NoError(t, err)
	assert.False(t, updated)

	// The failed half undid the version bump: no torn update.
	_, version, err := store.ReadAll(ctx, deploymentID)
	require.NoError(t, err)
	assert.Equal(t, int32(0), version.Version)
}

func TestReadOneDistinguishesNeverJoinedFromUninitialized(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	deploymentID := uuid.NewString()

	_, _, err := store.ReadOne(ctx, deploymentID, "10.0.0.9", 1, 1)
	assert.True(t, database.IsAbsent(err), "uninitialized deployment")

	require.NoError(t, store.EnsureDeploymentVersion(ctx, deploymentID))

	entry, version, err := store.ReadOne(ctx, deploymentID, "10.0.0.9", 1, 1)
	require.NoError(t, err)
	assert.Nil(t, entry, "never joined")
	assert.Equal(t, int32(0), version.Version)
}

func TestGatewaysFilterOnProxyPortAndStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	deploymentID := uuid.NewString()
	require.NoError(t, store.EnsureDeploymentVersion(ctx, deploymentID))

	gateway := testEntry(deploymentID, 11111)
	gateway.Status = membership.Active
	gateway.ProxyPort = 30000

	plain := testEntry(deploymentID, 22222)
	plain.Status = membership.Active

	joining := testEntry(deploymentID, 33333)
	joining.Status = membership.Joining
	joining.ProxyPort = 30001

	for _, entry := range []membership.SiloEntry{gateway, plain, joining} {
		_, err := store.InsertSilo(ctx, entry)
		require.NoError(t, err)
	}

	gateways, err := store.Gateways(ctx, deploymentID, membership.Active)
	require.NoError(t, err)
	require.Len(t, gateways, 1)
	assert.Equal(t, int32(11111), gateways[0].Port)
}

func TestHeartbeatWritesLivenessWithoutVersionBump(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	deploymentID := uuid.NewString()
	require.NoError(t, store.EnsureDeploymentVersion(ctx, deploymentID))

	entry := testEntry(deploymentID, 11111)
	_, err := store.InsertSilo(ctx, entry)
	require.NoError(t, err)

	beat := time.Now().UTC().Add(90 * time.Second)
	store.Heartbeat(ctx, deploymentID, entry.Address, entry.Port, entry.Generation, beat)

	stored, version, err := store.ReadOne(ctx, deploymentID, entry.Address, entry.Port, entry.Generation)
	require.NoError(t, err)
	assert.WithinDuration(t, beat, stored.LastAliveTime, time.Second)
	assert.Equal(t, int32(1), version.Version, "liveness writes are outside the version token")
}

func TestHeartbeatSwallowsFailures(t *testing.T) {
	conn := newTestConnection(t)
	require.NoError(t, Migrate(conn))
	store, err := NewRelationalStore(conn, metrics.NewNopRegistry())
	require.NoError(t, err)
	ctx := context.Background()
	deploymentID := uuid.NewString()
	require.NoError(t, store.EnsureDeploymentVersion(ctx, deploymentID))

	entry := testEntry(deploymentID, 11111)
	_, err = store.InsertSilo(ctx, entry)
	require.NoError(t, err)

	// Unknown silo: the unconditional write matches zero rows and nothing
	// surfaces.
	store.Heartbeat(ctx, deploymentID, "10.0.0.9", 1, 1, time.Now().UTC())

	// A genuine store failure must be absorbed the same way: the liveness
	// loop never sees it.
	require.NoError(t, conn.Close())
	store.Heartbeat(ctx, deploymentID, entry.Address, entry.Port, entry.Generation, time.Now().UTC())
}

func TestDeleteAllTearsDownDeployment(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	deploymentID := uuid.NewString()
	other := uuid.NewString()
	require.NoError(t, store.EnsureDeploymentVersion(ctx, deploymentID))
	require.NoError(t, store.EnsureDeploymentVersion(ctx, other))

	_, err := store.InsertSilo(ctx, testEntry(deploymentID, 11111))
	require.NoError(t, err)
	_, err = store.InsertSilo(ctx, testEntry(other, 11111))
	require.NoError(t, err)

	require.NoError(t, store.DeleteAll(ctx, deploymentID))

	_, _, err = store.ReadAll(ctx, deploymentID)
	assert.True(t, database.IsAbsent(err))

	entries, _, err := store.ReadAll(ctx, other)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPurgeDefunctRemovesStaleNonTerminalRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	deploymentID := uuid.NewString()
	require.NoError(t, store.EnsureDeploymentVersion(ctx, deploymentID))

	stale := testEntry(deploymentID, 11111)
	stale.Status = membership.Active
	stale.LastAliveTime = time.Now().UTC().Add(-48 * time.Hour)

	dead := testEntry(deploymentID, 22222)
	dead.Status = membership.Dead
	dead.LastAliveTime = time.Now().UTC().Add(-48 * time.Hour)

	fresh := testEntry(deploymentID, 33333)
	fresh.Status = membership.Active

	for _, entry := range []membership.SiloEntry{stale, dead, fresh} {
		_, err := store.InsertSilo(ctx, entry)
		require.NoError(t, err)
	}

	purged, err := store.PurgeDefunct(ctx, deploymentID, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	entries, _, err := store.ReadAll(ctx, deploymentID)
	require.NoError(t, err)
	ports := make([]int32, 0)
	for _, entry := range entries {
		ports = append(ports, entry.Port)
	}
	assert.ElementsMatch(t, []int32{22222, 33333}, ports)
}

func TestMissingSchemaIsFatalAtConstruction(t *testing.T) {
	conn := newTestConnection(t)

	_, err := NewRelationalStore(conn, metrics.NewNopRegistry())
	var schemaErr database.SchemaError
	require.ErrorAs(t, err, &schemaErr)
}
