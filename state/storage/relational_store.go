package storage

import (
	"context"
	"time"

	"github.com/johnewart/go-orleans-storage/database"
	"github.com/johnewart/go-orleans-storage/grains"
	"github.com/johnewart/go-orleans-storage/metrics"
	"github.com/johnewart/go-orleans-storage/query"
	"github.com/johnewart/go-orleans-storage/state"
	"gorm.io/gorm"
)

// PgGrainState is the state table row. The two hash columns carry the
// narrow composite index; the natural-key columns form the primary key
// and disambiguate hash collisions. Rows are never deleted on Clear.
type PgGrainState struct {
	GrainIdHash      int32     `gorm:"column:grain_id_hash;index:idx_grain_state_hash"`
	GrainTypeHash    int32     `gorm:"column:grain_type_hash;index:idx_grain_state_hash"`
	GrainType        string    `gorm:"column:grain_type;primaryKey"`
	GrainIdN0        int64     `gorm:"column:grain_id_n0;primaryKey"`
	GrainIdN1        int64     `gorm:"column:grain_id_n1;primaryKey"`
	GrainIdExtension string    `gorm:"column:grain_id_extension;primaryKey"`
	ServiceId        string    `gorm:"column:service_id;primaryKey"`
	Payload          []byte    `gorm:"column:payload"`
	Version          *int32    `gorm:"column:version"`
	ModifiedOn       time.Time `gorm:"column:modified_on"`
}

func (PgGrainState) TableName() string {
	return "grain_state"
}

type RelationalStore struct {
	conn    *database.Connection
	metrics *metrics.Registry
}

var _ state.Store = (*RelationalStore)(nil)

func NewRelationalStore(conn *database.Connection, m *metrics.Registry) (*RelationalStore, error) {
	if !conn.HasTable(PgGrainState{}.TableName()) {
		return nil, database.SchemaError{Missing: PgGrainState{}.TableName()}
	}
	return &RelationalStore{conn: conn, metrics: m}, nil
}

func Migrate(conn *database.Connection) error {
	return conn.Session(context.Background()).AutoMigrate(&PgGrainState{})
}

type pgVersionRow struct {
	Version *int32
}

type pgStateRow struct {
	Payload    []byte
	Version    *int32
	ModifiedOn time.Time
}

func identityArgs(id grains.GrainIdentity, serviceID string) []interface{} {
	return []interface{}{
		id.IdentityHash(), id.TypeHash(),
		id.GrainType, id.KeyN0, id.KeyN1, id.KeyExtension, serviceID,
	}
}

func (s *RelationalStore) Write(ctx context.Context, id grains.GrainIdentity, serviceID string, payload []byte, expectedVersion *int32) (int32, error) {
	var version int32
	err := s.metrics.TimeStoreOperation("write-state", func() error {
		if expectedVersion == nil {
			return s.firstWrite(ctx, id, serviceID, payload, &version)
		}
		return s.conditionalWrite(ctx, "write-state", query.UpdateState, id, serviceID, payload, *expectedVersion, &version)
	})
	if database.IsConflict(err) {
		s.metrics.CountConflict("write-state")
	}
	return version, err
}

func (s *RelationalStore) Clear(ctx context.Context, id grains.GrainIdentity, serviceID string, expectedVersion int32) (int32, error) {
	var version int32
	err := s.metrics.TimeStoreOperation("clear-state", func() error {
		return s.conditionalWrite(ctx, "clear-state", query.ClearState, id, serviceID, nil, expectedVersion, &version)
	})
	if database.IsConflict(err) {
		s.metrics.CountConflict("clear-state")
	}
	return version, err
}

func (s *RelationalStore) Read(ctx context.Context, id grains.GrainIdentity, serviceID string) (*state.GrainState, error) {
	var record *state.GrainState
	err := s.metrics.TimeStoreOperation("read-state", func() error {
		rows := make([]pgStateRow, 0)
		result := s.conn.Session(ctx).
			Raw(s.conn.Queries().MustGet(query.ReadState), identityArgs(id, serviceID)...).
			Scan(&rows)
		if result.Error != nil {
			return database.Wrap("read-state", result.Error)
		}
		if len(rows) == 0 {
			return database.AbsentError{Op: "read-state"}
		}
		version := int32(0)
		if rows[0].Version != nil {
			version = *rows[0].Version
		}
		record = &state.GrainState{
			Payload:    rows[0].Payload,
			Version:    version,
			ModifiedOn: rows[0].ModifiedOn,
		}
		return nil
	})
	return record, err
}

// firstWrite is the guarded insert: lock the hash bucket, check the full
// natural key, then insert version 1. A losing concurrent first-writer
// surfaces either through the existence check or through the primary-key
// violation; both become Conflict.
func (s *RelationalStore) firstWrite(ctx context.Context, id grains.GrainIdentity, serviceID string, payload []byte, out *int32) error {
	queries := s.conn.Queries()
	now := time.Now().UTC()

	return s.conn.Transaction(ctx, func(tx *gorm.DB) error {
		bucket := make([]pgVersionRow, 0)
		if result := tx.Raw(queries.MustGet(query.LockStateBucket), id.IdentityHash(), id.TypeHash()).Scan(&bucket); result.Error != nil {
			return database.Wrap("write-state", result.Error)
		}

		existing := make([]pgVersionRow, 0)
		if result := tx.Raw(queries.MustGet(query.CurrentStateVersion), identityArgs(id, serviceID)...).Scan(&existing); result.Error != nil {
			return database.Wrap("write-state", result.Error)
		}
		if len(existing) > 0 {
			current := int32(0)
			if existing[0].Version != nil {
				current = *existing[0].Version
			}
			return database.ConflictError{Op: "write-state", Current: current}
		}

		args := append(identityArgs(id, serviceID), payload, now)
		if result := tx.Exec(queries.MustGet(query.InsertState), args...); result.Error != nil {
			if database.IsDuplicateKey(result.Error) {
				return database.ConflictError{Op: "write-state"}
			}
			return database.Wrap("write-state", result.Error)
		}

		*out = 1
		return nil
	})
}

// conditionalWrite is the CAS path shared by Write and Clear. Zero rows
// affected means version mismatch or no such identity; the stored version
// is re-read and returned unchanged inside the ConflictError.
func (s *RelationalStore) conditionalWrite(ctx context.Context, op string, key query.Key, id grains.GrainIdentity, serviceID string, payload []byte, expected int32, out *int32) error {
	queries := s.conn.Queries()
	now := time.Now().UTC()

	return s.conn.Transaction(ctx, func(tx *gorm.DB) error {
		var args []interface{}
		if key == query.ClearState {
			args = append([]interface{}{now}, identityArgs(id, serviceID)...)
		} else {
			args = append([]interface{}{payload, now}, identityArgs(id, serviceID)...)
		}
		args = append(args, expected)

		result := tx.Exec(queries.MustGet(key), args...)
		if result.Error != nil {
			return database.Wrap(op, result.Error)
		}
		if result.RowsAffected == 0 {
			rows := make([]pgVersionRow, 0)
			if r := tx.Raw(queries.MustGet(query.CurrentStateVersion), identityArgs(id, serviceID)...).Scan(&rows); r.Error != nil {
				return database.Wrap(op, r.Error)
			}
			current := int32(0)
			if len(rows) > 0 && rows[0].Version != nil {
				current = *rows[0].Version
			}
			*out = current
			return database.ConflictError{Op: op, Current: current}
		}

		*out = expected + 1
		return nil
	})
}
