package query

// Statement text shared by every dialect. The per-dialect constructors
// overlay the handful of statements whose syntax genuinely differs (row
// locking, session setup); everything else is plain parameterized SQL so
// the CAS and range predicates can be audited in one place.

const stateExactMatch = `grain_id_hash = ? AND grain_type_hash = ?` +
	` AND grain_type = ? AND grain_id_n0 = ? AND grain_id_n1 = ?` +
	` AND grain_id_extension = ? AND service_id = ?`

const siloKeyMatch = `deployment_id = ? AND address = ? AND port = ? AND generation = ?`

const reminderKeyMatch = `service_id = ? AND grain_id = ? AND reminder_name = ?`

const reminderColumns = `service_id, grain_id, reminder_name, start_at, period, grain_hash, version`

const siloColumns = `deployment_id, address, port, generation, host_name, status,` +
	` proxy_port, suspect_times, start_time, last_alive_time`

func baseQueries() map[Key]string {
	return map[Key]string{
		LockStateBucket: `SELECT version FROM grain_state WHERE grain_id_hash = ? AND grain_type_hash = ?`,
		InsertState: `INSERT INTO grain_state` +
			` (grain_id_hash, grain_type_hash, grain_type, grain_id_n0, grain_id_n1,` +
			` grain_id_extension, service_id, payload, version, modified_on)` +
			` VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		UpdateState: `UPDATE grain_state SET payload = ?, version = version + 1, modified_on = ?` +
			` WHERE ` + stateExactMatch + ` AND version = ?`,
		ClearState: `UPDATE grain_state SET payload = NULL, version = version + 1, modified_on = ?` +
			` WHERE ` + stateExactMatch + ` AND version = ?`,
		ReadState:           `SELECT payload, version, modified_on FROM grain_state WHERE ` + stateExactMatch,
		CurrentStateVersion: `SELECT version FROM grain_state WHERE ` + stateExactMatch,

		LockMembershipVersion:   `SELECT version, timestamp FROM membership_version WHERE deployment_id = ?`,
		InsertMembershipVersion: `INSERT INTO membership_version (deployment_id, version, timestamp) VALUES (?, 0, ?)`,
		BumpMembershipVersion: `UPDATE membership_version SET version = version + 1, timestamp = ?` +
			` WHERE deployment_id = ? AND version = ?`,
		SiloExists: `SELECT status FROM silo WHERE ` + siloKeyMatch,
		InsertSilo: `INSERT INTO silo (` + siloColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		UpdateSilo: `UPDATE silo SET status = ?, proxy_port = ?, suspect_times = ?,` +
			` start_time = ?, last_alive_time = ? WHERE ` + siloKeyMatch,
		ReadSilo: `SELECT v.version AS table_version, v.timestamp AS table_timestamp,` +
			` s.address, s.port, s.generation, s.host_name, s.status, s.proxy_port,` +
			` s.suspect_times, s.start_time, s.last_alive_time` +
			` FROM membership_version v` +
			` LEFT OUTER JOIN silo s ON s.deployment_id = v.deployment_id` +
			` AND s.address = ? AND s.port = ? AND s.generation = ?` +
			` WHERE v.deployment_id = ?`,
		ReadAllSilos: `SELECT v.version AS table_version, v.timestamp AS table_timestamp,` +
			` s.address, s.port, s.generation, s.host_name, s.status, s.proxy_port,` +
			` s.suspect_times, s.start_time, s.last_alive_time` +
			` FROM membership_version v` +
			` LEFT OUTER JOIN silo s ON s.deployment_id = v.deployment_id` +
			` WHERE v.deployment_id = ?`,
		ReadGateways: `SELECT ` + siloColumns + ` FROM silo` +
			` WHERE deployment_id = ? AND status = ? AND proxy_port > 0`,
		UpdateHeartbeat:         `UPDATE silo SET last_alive_time = ? WHERE ` + siloKeyMatch,
		DeleteAllSilos:          `DELETE FROM silo WHERE deployment_id = ?`,
		DeleteMembershipVersion: `DELETE FROM membership_version WHERE deployment_id = ?`,
		PurgeDefunctSilos: `DELETE FROM silo WHERE deployment_id = ?` +
			` AND last_alive_time < ? AND status NOT IN (?, ?)`,

		LockReminder:   `SELECT version FROM reminder WHERE ` + reminderKeyMatch,
		InsertReminder: `INSERT INTO reminder (` + reminderColumns + `) VALUES (?, ?, ?, ?, ?, ?, 0)`,
		UpdateReminder: `UPDATE reminder SET start_at = ?, period = ?, grain_hash = ?,` +
			` version = version + 1 WHERE ` + reminderKeyMatch + ` AND version = ?`,
		ReadReminder:          `SELECT ` + reminderColumns + ` FROM reminder WHERE ` + reminderKeyMatch,
		ReadRemindersForGrain: `SELECT ` + reminderColumns + ` FROM reminder WHERE service_id = ? AND grain_id = ?`,
		// Two interval shapes over the ring, kept as distinct statements so
		// the wraparound arithmetic stays auditable.
		ReadReminderRangeContained: `SELECT ` + reminderColumns + ` FROM reminder` +
			` WHERE service_id = ? AND grain_hash > ? AND grain_hash <= ?`,
		ReadReminderRangeWrapping: `SELECT ` + reminderColumns + ` FROM reminder` +
			` WHERE service_id = ? AND (grain_hash > ? OR grain_hash <= ?)`,
		DeleteReminder:            `DELETE FROM reminder WHERE ` + reminderKeyMatch + ` AND version = ?`,
		DeleteRemindersForService: `DELETE FROM reminder WHERE service_id = ?`,
	}
}
