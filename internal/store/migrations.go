package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations. Timestamps are
// epoch milliseconds, matching the session document.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create sessions, nodes and messages",
		SQL: `
			CREATE TABLE sessions (
				id                TEXT PRIMARY KEY,
				schema_version    INTEGER NOT NULL,
				mode              TEXT NOT NULL,
				title             TEXT NOT NULL,
				participant_ids   TEXT NOT NULL DEFAULT '[]',
				active_node_id    TEXT NOT NULL,
				relationship_map  TEXT NOT NULL DEFAULT '{}',
				model_id          TEXT NOT NULL DEFAULT '',
				scenario          TEXT NOT NULL DEFAULT '',
				narrator_enabled  INTEGER NOT NULL DEFAULT 0,
				created_at        INTEGER NOT NULL,
				updated_at        INTEGER NOT NULL
			);

			CREATE TABLE nodes (
				session_id  TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				id          TEXT NOT NULL,
				position    INTEGER NOT NULL,
				title       TEXT NOT NULL,
				created_at  INTEGER NOT NULL,
				updated_at  INTEGER NOT NULL,
				PRIMARY KEY (session_id, id)
			);

			CREATE TABLE messages (
				session_id    TEXT NOT NULL,
				node_id       TEXT NOT NULL,
				seq           INTEGER NOT NULL,
				id            TEXT NOT NULL,
				role          TEXT NOT NULL,
				speaker_id    TEXT NOT NULL DEFAULT '',
				speaker_name  TEXT NOT NULL DEFAULT '',
				content       TEXT NOT NULL,
				timestamp     INTEGER NOT NULL,
				PRIMARY KEY (session_id, node_id, seq),
				FOREIGN KEY (session_id, node_id) REFERENCES nodes(session_id, id) ON DELETE CASCADE
			);
		`,
	},
	{
		Version: 2,
		Name:    "index sessions by recency",
		SQL: `
			CREATE INDEX idx_sessions_updated ON sessions (updated_at DESC, id);
		`,
	},
}
