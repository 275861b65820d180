package storage

import (
	"context"
	"time"

	"github.com/johnewart/go-orleans-storage/database"
	"github.com/johnewart/go-orleans-storage/metrics"
	"github.com/johnewart/go-orleans-storage/query"
	"github.com/johnewart/go-orleans-storage/reminders"
	"gorm.io/gorm"
)

// PgReminder is the reminder table row. Period is stored in milliseconds;
// grain_hash is the ring position the range scans filter on.
type PgReminder struct {
	ServiceId    string    `gorm:"column:service_id;primaryKey"`
	GrainId      string    `gorm:"column:grain_id;primaryKey"`
	ReminderName string    `gorm:"column:reminder_name;primaryKey"`
	StartAt      time.Time `gorm:"column:start_at"`
	Period       int64     `gorm:"column:period"`
	GrainHash    int64     `gorm:"column:grain_hash;index:idx_reminder_hash"`
	Version      int32     `gorm:"column:version"`
}

func (PgReminder) TableName() string {
	return "reminder"
}

func reminderRecord(row PgReminder) reminders.Reminder {
	return reminders.Reminder{
		ServiceID: row.ServiceId,
		GrainID:   row.GrainId,
		Name:      row.ReminderName,
		StartAt:   row.StartAt,
		Period:    time.Duration(row.Period) * time.Millisecond,
		GrainHash: uint32(row.GrainHash),
		Version:   row.Version,
	}
}

type RelationalStore struct {
	conn    *database.Connection
	metrics *metrics.Registry
}

var _ reminders.Store = (*RelationalStore)(nil)

func NewRelationalStore(conn *database.Connection, m *metrics.Registry) (*RelationalStore, error) {
	if !conn.HasTable(PgReminder{}.TableName()) {
		return nil, database.SchemaError{Missing: PgReminder{}.TableName()}
	}
	return &RelationalStore{conn: conn, metrics: m}, nil
}

func Migrate(conn *database.Connection) error {
	return conn.Session(context.Background()).AutoMigrate(&PgReminder{})
}

type pgVersionRow struct {
	Version int32
}

// Upsert updates in place with version+1 when the row exists, otherwise
// inserts fresh at version 0. Both paths run under a lock on the keyed row
// so a concurrent upsert cannot interleave between them.
func (s *RelationalStore) Upsert(ctx context.Context, reminder reminders.Reminder) (int32, error) {
	var version int32
	err := s.metrics.TimeStoreOperation("upsert-reminder", func() error {
		queries := s.conn.Queries()
		return s.conn.Transaction(ctx, func(tx *gorm.DB) error {
			rows := make([]pgVersionRow, 0)
			lock := tx.Raw(queries.MustGet(query.LockReminder),
				reminder.ServiceID, reminder.GrainID, reminder.Name).Scan(&rows)
			if lock.Error != nil {
				return database.Wrap("upsert-reminder", lock.Error)
			}

			if len(rows) == 0 {
				result := tx.Exec(queries.MustGet(query.InsertReminder),
					reminder.ServiceID, reminder.GrainID, reminder.Name,
					reminder.StartAt, reminder.Period.Milliseconds(), int64(reminder.GrainHash))
				if result.Error != nil {
					if database.IsDuplicateKey(result.Error) {
						return database.ConflictError{Op: "upsert-reminder"}
					}
					return database.Wrap("upsert-reminder", result.Error)
				}
				version = 0
				return nil
			}

			result := tx.Exec(queries.MustGet(query.UpdateReminder),
				reminder.StartAt, reminder.Period.Milliseconds(), int64(reminder.GrainHash),
				reminder.ServiceID, reminder.GrainID, reminder.Name, rows[0].Version)
			if result.Error != nil {
				return database.Wrap("upsert-reminder", result.Error)
			}
			if result.RowsAffected == 0 {
				return database.ConflictError{Op: "upsert-reminder", Current: rows[0].Version}
			}
			version = rows[0].Version + 1
			return nil
		})
	})
	return version, err
}

func (s *RelationalStore) ReadOne(ctx context.Context, serviceID, grainID, name string) (*reminders.Reminder, error) {
	var record *reminders.Reminder
	err := s.metrics.TimeStoreOperation("read-reminder", func() error {
		rows := make([]PgReminder, 0)
		result := s.conn.Session(ctx).
			Raw(s.conn.Queries().MustGet(query.ReadReminder), serviceID, grainID, name).
			Scan(&rows)
		if result.Error != nil {
			return database.Wrap("read-reminder", result.Error)
		}
		if len(rows) == 0 {
			return database.AbsentError{Op: "read-reminder"}
		}
		r := reminderRecord(rows[0])
		record = &r
		return nil
	})
	return record, err
}

func (s *RelationalStore) ReadAllForGrain(ctx context.Context, serviceID, grainID string) ([]reminders.Reminder, error) {
	records := make([]reminders.Reminder, 0)
	err := s.metrics.TimeStoreOperation("read-reminders-for-grain", func() error {
		rows := make([]PgReminder, 0)
		result := s.conn.Session(ctx).
			Raw(s.conn.Queries().MustGet(query.ReadRemindersForGrain), serviceID, grainID).
			Scan(&rows)
		if result.Error != nil {
			return database.Wrap("read-reminders-for-grain", result.Error)
		}
		for _, row := range rows {
			records = append(records, reminderRecord(row))
		}
		return nil
	})
	return records, err
}

// ReadRange scans one ownership interval of the ring. The two interval
// shapes are distinct statements selected by the range's mode.
func (s *RelationalStore) ReadRange(ctx context.Context, serviceID string, rng reminders.HashRange) ([]reminders.Reminder, error) {
	records := make([]reminders.Reminder, 0)
	err := s.metrics.TimeStoreOperation("read-reminder-range", func() error {
		key := query.ReadReminderRangeContained
		if rng.Mode == reminders.RangeWrapping {
			key = query.ReadReminderRangeWrapping
		}
		rows := make([]PgReminder, 0)
		result := s.conn.Session(ctx).
			Raw(s.conn.Queries().MustGet(key), serviceID, int64(rng.Begin), int64(rng.End)).
			Scan(&rows)
		if result.Error != nil {
			return database.Wrap("read-reminder-range", result.Error)
		}
		for _, row := range rows {
			records = append(records, reminderRecord(row))
		}
		return nil
	})
	return records, err
}

// Delete is CAS-guarded: it removes the row only at the expected version.
func (s *RelationalStore) Delete(ctx context.Context, serviceID, grainID, name string, expectedVersion int32) (bool, error) {
	deleted := false
	err := s.metrics.TimeStoreOperation("delete-reminder", func() error {
		result := s.conn.Session(ctx).
			Exec(s.conn.Queries().MustGet(query.DeleteReminder), serviceID, grainID, name, expectedVersion)
		if result.Error != nil {
			return database.Wrap("delete-reminder", result.Error)
		}
		deleted = result.RowsAffected > 0
		if !deleted {
			s.metrics.CountConflict("delete-reminder")
		}
		return nil
	})
	return deleted, err
}

func (s *RelationalStore) DeleteAllForService(ctx context.Context, serviceID string) error {
	return s.metrics.TimeStoreOperation("delete-reminders-for-service", func() error {
		result := s.conn.Session(ctx).
			Exec(s.conn.Queries().MustGet(query.DeleteRemindersForService), serviceID)
		return database.Wrap("delete-reminders-for-service", result.Error)
	})
}
