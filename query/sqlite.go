package query

// SQLiteQueries returns the statement set for SQLite. SQLite serializes
// writers on the connection and journal, so the locked reads carry no
// FOR UPDATE suffix; WAL mode gives readers a stable snapshot alongside
// the single writer.
func SQLiteQueries() Registry {
	queries := baseQueries()

	queries[SessionSetup] = `PRAGMA journal_mode = WAL`

	return Registry{dialect: "sqlite", queries: queries}
}
