package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/johnewart/go-orleans-storage/database"
	"github.com/johnewart/go-orleans-storage/membership"
	"github.com/johnewart/go-orleans-storage/metrics"
	"github.com/johnewart/go-orleans-storage/query"
	"gorm.io/gorm"
	"zombiezen.com/go/log"
)

type PgMembershipVersion struct {
	DeploymentId string    `gorm:"column:deployment_id;primaryKey"`
	Version      int32     `gorm:"column:version"`
	Timestamp    time.Time `gorm:"column:timestamp"`
}

func (PgMembershipVersion) TableName() string {
	return "membership_version"
}

type PgSilo struct {
	DeploymentId  string    `gorm:"column:deployment_id;primaryKey"`
	Address       string    `gorm:"column:address;primaryKey"`
	Port          int32     `gorm:"column:port;primaryKey"`
	Generation    int32     `gorm:"column:generation;primaryKey"`
	HostName      string    `gorm:"column:host_name"`
	Status        int32     `gorm:"column:status"`
	ProxyPort     int32     `gorm:"column:proxy_port"`
	SuspectTimes  string    `gorm:"column:suspect_times"`
	StartTime     time.Time `gorm:"column:start_time"`
	LastAliveTime time.Time `gorm:"column:last_alive_time"`
}

func (PgSilo) TableName() string {
	return "silo"
}

// suspect times ride a delimited text column so both dialects round-trip
// the same bytes.
const suspectTimeSeparator = "|"

func encodeSuspectTimes(times []string) string {
	return strings.Join(times, suspectTimeSeparator)
}

func decodeSuspectTimes(encoded string) []string {
	if encoded == "" {
		return nil
	}
	return strings.Split(encoded, suspectTimeSeparator)
}

// errUnchanged aborts a transaction whose conditional guard matched zero
// rows; the callers translate it to a plain false.
var errUnchanged = errors.New("conditional update affected no rows")

// errDuplicate aborts a transaction that lost an insert race.
var errDuplicate = errors.New("row already present")

type RelationalStore struct {
	conn    *database.Connection
	metrics *metrics.Registry
}

var _ membership.Store = (*RelationalStore)(nil)

func NewRelationalStore(conn *database.Connection, m *metrics.Registry) (*RelationalStore, error) {
	for _, table := range []string{PgMembershipVersion{}.TableName(), PgSilo{}.TableName()} {
		if !conn.HasTable(table) {
			return nil, database.SchemaError{Missing: table}
		}
	}
	return &RelationalStore{conn: conn, metrics: m}, nil
}

func Migrate(conn *database.Connection) error {
	return conn.Session(context.Background()).AutoMigrate(&PgMembershipVersion{}, &PgSilo{})
}

type pgVersionRow struct {
	Version   int32
	Timestamp time.Time
}

type pgSnapshotRow struct {
	TableVersion   int32      `gorm:"column:table_version"`
	TableTimestamp time.Time  `gorm:"column:table_timestamp"`
	Address        *string    `gorm:"column:address"`
	Port           *int32     `gorm:"column:port"`
	Generation     *int32     `gorm:"column:generation"`
	HostName       *string    `gorm:"column:host_name"`
	Status         *int32     `gorm:"column:status"`
	ProxyPort      *int32     `gorm:"column:proxy_port"`
	SuspectTimes   *string    `gorm:"column:suspect_times"`
	StartTime      *time.Time `gorm:"column:start_time"`
	LastAliveTime  *time.Time `gorm:"column:last_alive_time"`
}

func (r pgSnapshotRow) entry(deploymentID string) membership.SiloEntry {
	entry := membership.SiloEntry{DeploymentID: deploymentID}
	if r.Address != nil {
		entry.Address = *r.Address
	}
	if r.Port != nil {
		entry.Port = *r.Port
	}
	if r.Generation != nil {
		entry.Generation = *r.Generation
	}
	if r.HostName != nil {
		entry.HostName = *r.HostName
	}
	if r.Status != nil {
		entry.Status = membership.Status(*r.Status)
	}
	if r.ProxyPort != nil {
		entry.ProxyPort = *r.ProxyPort
	}
	if r.SuspectTimes != nil {
		entry.SuspectTimes = decodeSuspectTimes(*r.SuspectTimes)
	}
	if r.StartTime != nil {
		entry.StartTime = *r.StartTime
	}
	if r.LastAliveTime != nil {
		entry.LastAliveTime = *r.LastAliveTime
	}
	return entry
}

func siloEntry(row PgSilo) membership.SiloEntry {
	return membership.SiloEntry{
		DeploymentID:  row.DeploymentId,
		Address:       row.Address,
		Port:          row.Port,
		Generation:    row.Generation,
		HostName:      row.HostName,
		Status:        membership.Status(row.Status),
		ProxyPort:     row.ProxyPort,
		SuspectTimes:  decodeSuspectTimes(row.SuspectTimes),
		StartTime:     row.StartTime,
		LastAliveTime: row.LastAliveTime,
	}
}

// EnsureDeploymentVersion creates the version row once per deployment.
// Concurrent first silos race through the insert; the loser's duplicate
// key is treated as someone else having done the work.
func (s *RelationalStore) EnsureDeploymentVersion(ctx context.Context, deploymentID string) error {
	return s.metrics.TimeStoreOperation("ensure-deployment-version", func() error {
		queries := s.conn.Queries()
		err := s.conn.Transaction(ctx, func(tx *gorm.DB) error {
			rows := make([]pgVersionRow, 0)
			if result := tx.Raw(queries.MustGet(query.LockMembershipVersion), deploymentID).Scan(&rows); result.Error != nil {
				return database.Wrap("ensure-deployment-version", result.Error)
			}
			if len(rows) > 0 {
				return nil
			}
			if result := tx.Exec(queries.MustGet(query.InsertMembershipVersion), deploymentID, time.Now().UTC()); result.Error != nil {
				if database.IsDuplicateKey(result.Error) {
					return errDuplicate
				}
				return database.Wrap("ensure-deployment-version", result.Error)
			}
			return nil
		})
		if errors.Is(err, errDuplicate) {
			return nil
		}
		return err
	})
}

// InsertSilo inserts a new silo row and bumps the table version in the
// same transaction. If either half fails nothing commits, so a silo can
// never join without the cluster version advancing.
func (s *RelationalStore) InsertSilo(ctx context.Context, entry membership.SiloEntry) (bool, error) {
	inserted := false
	err := s.metrics.TimeStoreOperation("insert-silo", func() error {
		queries := s.conn.Queries()
		err := s.conn.Transaction(ctx, func(tx *gorm.DB) error {
			versions := make([]pgVersionRow, 0)
			if result := tx.Raw(queries.MustGet(query.LockMembershipVersion), entry.DeploymentID).Scan(&versions); result.Error != nil {
				return database.Wrap("insert-silo", result.Error)
			}
			if len(versions) == 0 {
				return database.AbsentError{Op: "insert-silo"}
			}

			existing := make([]pgVersionRow, 0)
			if result := tx.Raw(queries.MustGet(query.SiloExists),
				entry.DeploymentID, entry.Address, entry.Port, entry.Generation).Scan(&existing); result.Error != nil {
				return database.Wrap("insert-silo", result.Error)
			}
			if len(existing) > 0 {
				return errDuplicate
			}

			result := tx.Exec(queries.MustGet(query.InsertSilo),
				entry.DeploymentID, entry.Address, entry.Port, entry.Generation,
				entry.HostName, int32(entry.Status), entry.ProxyPort,
				encodeSuspectTimes(entry.SuspectTimes), entry.StartTime, entry.LastAliveTime)
			if result.Error != nil {
				if database.IsDuplicateKey(result.Error) {
					return errDuplicate
				}
				return database.Wrap("insert-silo", result.Error)
			}

			bump := tx.Exec(queries.MustGet(query.BumpMembershipVersion),
				time.Now().UTC(), entry.DeploymentID, versions[0].Version)
			if bump.Error != nil {
				return database.Wrap("insert-silo", bump.Error)
			}
			if bump.RowsAffected == 0 {
				return errUnchanged
			}

			inserted = true
			return nil
		})
		if errors.Is(err, errDuplicate) || errors.Is(err, errUnchanged) {
			return nil
		}
		return err
	})
	return inserted, err
}

// UpdateSilo CASes the table version from expectedVersion to
// expectedVersion+1 and applies the entry's mutable fields, atomically.
// Either both happen or neither does.
func (s *RelationalStore) UpdateSilo(ctx context.Context, entry membership.SiloEntry, expectedVersion int32) (bool, error) {
	updated := false
	err := s.metrics.TimeStoreOperation("update-silo", func() error {
		queries := s.conn.Queries()
		err := s.conn.Transaction(ctx, func(tx *gorm.DB) error {
			bump := tx.Exec(queries.MustGet(query.BumpMembershipVersion),
				time.Now().UTC(), entry.DeploymentID, expectedVersion)
			if bump.Error != nil {
				return database.Wrap("update-silo", bump.Error)
			}
			if bump.RowsAffected == 0 {
				return errUnchanged
			}

			result := tx.Exec(queries.MustGet(query.UpdateSilo),
				int32(entry.Status), entry.ProxyPort, encodeSuspectTimes(entry.SuspectTimes),
				entry.StartTime, entry.LastAliveTime,
				entry.DeploymentID, entry.Address, entry.Port, entry.Generation)
			if result.Error != nil {
				return database.Wrap("update-silo", result.Error)
			}
			if result.RowsAffected == 0 {
				return errUnchanged
			}

			updated = true
			return nil
		})
		if errors.Is(err, errUnchanged) {
			s.metrics.CountConflict("update-silo")
			return nil
		}
		return err
	})
	return updated, err
}

// ReadOne resolves one silo plus the current table version in a single
// left outer join, so the version comes back even when the silo never
// joined. An uninitialized deployment reports Absent instead.
func (s *RelationalStore) ReadOne(ctx context.Context, deploymentID, address string, port, generation int32) (*membership.SiloEntry, membership.TableVersion, error) {
	var entry *membership.SiloEntry
	var version membership.TableVersion
	err := s.metrics.TimeStoreOperation("read-silo", func() error {
		rows := make([]pgSnapshotRow, 0)
		result := s.conn.Session(ctx).
			Raw(s.conn.Queries().MustGet(query.ReadSilo), address, port, generation, deploymentID).
			Scan(&rows)
		if result.Error != nil {
			return database.Wrap("read-silo", result.Error)
		}
		if len(rows) == 0 {
			return database.AbsentError{Op: "read-silo"}
		}
		version = membership.TableVersion{Version: rows[0].TableVersion, Timestamp: rows[0].TableTimestamp}
		if rows[0].Address != nil {
			e := rows[0].entry(deploymentID)
			entry = &e
		}
		return nil
	})
	return entry, version, err
}

func (s *RelationalStore) ReadAll(ctx context.Context, deploymentID string) ([]membership.SiloEntry, membership.TableVersion, error) {
	entries := make([]membership.SiloEntry, 0)
	var version membership.TableVersion
	err := s.metrics.TimeStoreOperation("read-all-silos", func() error {
		rows := make([]pgSnapshotRow, 0)
		result := s.conn.Session(ctx).
			Raw(s.conn.Queries().MustGet(query.ReadAllSilos), deploymentID).
			Scan(&rows)
		if result.Error != nil {
			return database.Wrap("read-all-silos", result.Error)
		}
		if len(rows) == 0 {
			return database.AbsentError{Op: "read-all-silos"}
		}
		version = membership.TableVersion{Version: rows[0].TableVersion, Timestamp: rows[0].TableTimestamp}
		for _, row := range rows {
			if row.Address != nil {
				entries = append(entries, row.entry(deploymentID))
			}
		}
		return nil
	})
	return entries, version, err
}

func (s *RelationalStore) Gateways(ctx context.Context, deploymentID string, status membership.Status) ([]membership.SiloEntry, error) {
	entries := make([]membership.SiloEntry, 0)
	err := s.metrics.TimeStoreOperation("read-gateways", func() error {
		rows := make([]PgSilo, 0)
		result := s.conn.Session(ctx).
			Raw(s.conn.Queries().MustGet(query.ReadGateways), deploymentID, int32(status)).
			Scan(&rows)
		if result.Error != nil {
			return database.Wrap("read-gateways", result.Error)
		}
		for _, row := range rows {
			entries = append(entries, siloEntry(row))
		}
		return nil
	})
	return entries, err
}

// Heartbeat is a best-effort liveness write; failures are logged and
// swallowed so a stalled database never stalls the caller's liveness loop.
func (s *RelationalStore) Heartbeat(ctx context.Context, deploymentID, address string, port, generation int32, at time.Time) {
	err := s.metrics.TimeStoreOperation("heartbeat", func() error {
		result := s.conn.Session(ctx).
			Exec(s.conn.Queries().MustGet(query.UpdateHeartbeat), at, deploymentID, address, port, generation)
		return database.Wrap("heartbeat", result.Error)
	})
	if err != nil {
		log.Warnf(ctx, "Unable to record heartbeat for %s:%d@%d in %s: %v", address, port, generation, deploymentID, err)
	}
}

// DeleteAll tears down a deployment: all silo rows, then the version row.
func (s *RelationalStore) DeleteAll(ctx context.Context, deploymentID string) error {
	return s.metrics.TimeStoreOperation("delete-deployment", func() error {
		queries := s.conn.Queries()
		return s.conn.Transaction(ctx, func(tx *gorm.DB) error {
			if result := tx.Exec(queries.MustGet(query.DeleteAllSilos), deploymentID); result.Error != nil {
				return database.Wrap("delete-deployment", result.Error)
			}
			if result := tx.Exec(queries.MustGet(query.DeleteMembershipVersion), deploymentID); result.Error != nil {
				return database.Wrap("delete-deployment", result.Error)
			}
			return nil
		})
	})
}

// PurgeDefunct removes silo rows whose liveness timestamp fell behind the
// cutoff and whose status is not terminal. It runs outside the CAS path.
func (s *RelationalStore) PurgeDefunct(ctx context.Context, deploymentID string, cutoff time.Time) (int64, error) {
	var purged int64
	err := s.metrics.TimeStoreOperation("purge-defunct-silos", func() error {
		result := s.conn.Session(ctx).
			Exec(s.conn.Queries().MustGet(query.PurgeDefunctSilos),
				deploymentID, cutoff, int32(membership.Stopped), int32(membership.Dead))
		if result.Error != nil {
			return database.Wrap("purge-defunct-silos", result.Error)
		}
		purged = result.RowsAffected
		return nil
	})
	return purged, err
}
