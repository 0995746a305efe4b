package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create sessions",
		SQL: `
			CREATE TABLE sessions (
				id           TEXT PRIMARY KEY,
				config       TEXT NOT NULL DEFAULT '{}',
				messages     TEXT NOT NULL DEFAULT '[]',
				tool_results TEXT NOT NULL DEFAULT '{}',
				active_run   INTEGER NOT NULL DEFAULT 0,
				interrupted  INTEGER NOT NULL DEFAULT 0,
				created_at   TEXT NOT NULL,
				updated_at   TEXT NOT NULL
			);

			CREATE INDEX idx_sessions_updated ON sessions (updated_at);
		`,
	},
	{
		Version: 2,
		Name:    "create exchanges",
		SQL: `
			CREATE TABLE exchanges (
				seq          INTEGER PRIMARY KEY AUTOINCREMENT,
				id           TEXT NOT NULL,
				session_id   TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				at           TEXT NOT NULL,
				model        TEXT NOT NULL DEFAULT '',
				status_code  INTEGER NOT NULL DEFAULT 0,
				request      TEXT,
				response     TEXT,
				error        TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX idx_exchanges_session ON exchanges (session_id, seq);
		`,
	},
}
