package query

import "fmt"

// Key is the stable name of one storage operation. Callers address
// statements by Key so the relational dialect can change underneath them.
type Key string

const (
	SessionSetup Key = "session-setup"

	LockStateBucket     Key = "lock-state-bucket"
	InsertState         Key = "insert-state"
	UpdateState         Key = "update-state"
	ClearState          Key = "clear-state"
	ReadState           Key = "read-state"
	CurrentStateVersion Key = "current-state-version"

	LockMembershipVersion   Key = "lock-membership-version"
	InsertMembershipVersion Key = "insert-membership-version"
	BumpMembershipVersion   Key = "bump-membership-version"
	SiloExists              Key = "silo-exists"
	InsertSilo              Key = "insert-silo"
	UpdateSilo              Key = "update-silo"
	ReadSilo                Key = "read-silo"
	ReadAllSilos            Key = "read-all-silos"
	ReadGateways            Key = "read-gateways"
	UpdateHeartbeat         Key = "update-heartbeat"
	DeleteAllSilos          Key = "delete-all-silos"
	DeleteMembershipVersion Key = "delete-membership-version"
	PurgeDefunctSilos       Key = "purge-defunct-silos"

	LockReminder               Key = "lock-reminder"
	InsertReminder             Key = "insert-reminder"
	UpdateReminder             Key = "update-reminder"
	ReadReminder               Key = "read-reminder"
	ReadRemindersForGrain      Key = "read-reminders-for-grain"
	ReadReminderRangeContained Key = "read-reminder-range-contained"
	ReadReminderRangeWrapping  Key = "read-reminder-range-wrapping"
	DeleteReminder             Key = "delete-reminder"
	DeleteRemindersForService  Key = "delete-reminders-for-service"
)

// Keys lists every operation a registry must be able to resolve.
var Keys = []Key{
	SessionSetup,
	LockStateBucket, InsertState, UpdateState, ClearState, ReadState, CurrentStateVersion,
	LockMembershipVersion, InsertMembershipVersion, BumpMembershipVersion,
	SiloExists, InsertSilo, UpdateSilo, ReadSilo, ReadAllSilos, ReadGateways,
	UpdateHeartbeat, DeleteAllSilos, DeleteMembershipVersion, PurgeDefunctSilos,
	LockReminder, InsertReminder, UpdateReminder, ReadReminder,
	ReadRemindersForGrain, ReadReminderRangeContained, ReadReminderRangeWrapping,
	DeleteReminder, DeleteRemindersForService,
}

type Registry struct {
	dialect string
	queries map[Key]string
}

func (r Registry) Dialect() string {
	return r.dialect
}

func (r Registry) Get(key Key) (string, error) {
	if q, ok := r.queries[key]; ok {
		return q, nil
	}
	return "", fmt.Errorf("no %s query registered for operation %q", r.dialect, key)
}

// MustGet is for statements registered at compile time; a miss is a
// programming error, not a runtime condition.
func (r Registry) MustGet(key Key) string {
	q, err := r.Get(key)
	if err != nil {
		panic(err)
	}
	return q
}
