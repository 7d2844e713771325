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
		Name:    "create sessions and messages",
		SQL: `
			CREATE TABLE sessions (
				id          TEXT PRIMARY KEY,
				key_str     TEXT NOT NULL,
				channel_id  TEXT NOT NULL,
				chat_id     TEXT NOT NULL,
				sender_id   TEXT NOT NULL DEFAULT '',
				created_at  TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE UNIQUE INDEX idx_sessions_key ON sessions (key_str);
			CREATE INDEX idx_sessions_channel ON sessions (channel_id);

			CREATE TABLE messages (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id    TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
				role          TEXT NOT NULL,
				content       TEXT NOT NULL,
				timestamp     TEXT NOT NULL DEFAULT (datetime('now')),
				tool_calls    TEXT,
				tool_call_id  TEXT NOT NULL DEFAULT '',
				name          TEXT NOT NULL DEFAULT ''
			);

			CREATE INDEX idx_messages_session ON messages (session_id, id);
		`,
	},
	{
		Version: 2,
		Name:    "create knowledge chunks with FTS5",
		SQL: `
			CREATE TABLE knowledge_chunks (
				id           TEXT PRIMARY KEY,
				source       TEXT NOT NULL,
				chunk_index  INTEGER NOT NULL,
				content      TEXT NOT NULL,
				embedding    BLOB,
				updated_at   TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_knowledge_source ON knowledge_chunks (source, chunk_index);

			CREATE VIRTUAL TABLE knowledge_fts USING fts5(
				content,
				source UNINDEXED,
				content='knowledge_chunks',
				content_rowid='rowid'
			);

			CREATE TRIGGER knowledge_ai AFTER INSERT ON knowledge_chunks BEGIN
				INSERT INTO knowledge_fts(rowid, content, source)
				VALUES (new.rowid, new.content, new.source);
			END;

			CREATE TRIGGER knowledge_ad AFTER DELETE ON knowledge_chunks BEGIN
				INSERT INTO knowledge_fts(knowledge_fts, rowid, content, source)
				VALUES ('delete', old.rowid, old.content, old.source);
			END;

			CREATE TRIGGER knowledge_au AFTER UPDATE ON knowledge_chunks BEGIN
				INSERT INTO knowledge_fts(knowledge_fts, rowid, content, source)
				VALUES ('delete', old.rowid, old.content, old.source);
				INSERT INTO knowledge_fts(rowid, content, source)
				VALUES (new.rowid, new.content, new.source);
			END;
		`,
	},
}
