package query

// PostgresQueries returns the statement set for PostgreSQL. The locked
// reads take explicit row-level exclusive locks; snapshot reads come from
// read-committed MVCC, which the session setup statement pins.
func PostgresQueries() Registry {
	queries := baseQueries()

	queries[SessionSetup] = `SET SESSION CHARACTERISTICS AS TRANSACTION ISOLATION LEVEL READ COMMITTED`

	for _, key := range []Key{LockStateBucket, LockMembershipVersion, LockReminder} {
		queries[key] = queries[key] + ` FOR UPDATE`
	}

	return Registry{dialect: "postgres", queries: queries}
}
