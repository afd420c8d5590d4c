package storage

// schemaMigrations returns the ordered, forward-only migration history for
// the full schema: sessions, messages, agent_memory, audit_log, tokens.
func schemaMigrations() []Migration {
	return []Migration{
		{
			ID:          1,
			Name:        "001_create_sessions",
			Description: "sessions table",
			UpSQL: `
				CREATE TABLE sessions (
					id TEXT PRIMARY KEY,
					purpose TEXT NOT NULL,
					created_by TEXT NOT NULL,
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL,
					is_active INTEGER NOT NULL DEFAULT 1,
					metadata TEXT NOT NULL DEFAULT '{}'
				);
			`,
		},
		{
			ID:          2,
			Name:        "002_create_messages",
			Description: "messages table with ordering and sender indexes",
			UpSQL: `
				CREATE TABLE messages (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
					sender TEXT NOT NULL,
					sender_type TEXT NOT NULL,
					content TEXT NOT NULL,
					visibility TEXT NOT NULL,
					message_type TEXT NOT NULL,
					metadata TEXT NOT NULL DEFAULT '{}',
					parent_message_id INTEGER NULL REFERENCES messages(id),
					timestamp TEXT NOT NULL
				);
				CREATE INDEX idx_messages_session_order ON messages(session_id, timestamp, id);
				CREATE INDEX idx_messages_sender ON messages(sender);
			`,
		},
		{
			ID:          3,
			Name:        "003_create_agent_memory",
			Description: "per-agent key/value memory store",
			UpSQL: `
				CREATE TABLE agent_memory (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					agent_id TEXT NOT NULL,
					session_id TEXT NULL,
					key TEXT NOT NULL,
					value TEXT NOT NULL,
					created_at TEXT NOT NULL,
					updated_at TEXT NOT NULL,
					expires_at TEXT NULL
				);
				CREATE UNIQUE INDEX idx_agent_memory_scope_key
					ON agent_memory(agent_id, COALESCE(session_id, ''), key);
			`,
		},
		{
			ID:          4,
			Name:        "004_create_audit_log",
			Description: "append-only audit log",
			UpSQL: `
				CREATE TABLE audit_log (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					timestamp TEXT NOT NULL,
					agent_id TEXT NOT NULL,
					event_type TEXT NOT NULL,
					session_id TEXT NULL,
					result TEXT NOT NULL,
					details TEXT NOT NULL DEFAULT '{}'
				);
				CREATE INDEX idx_audit_log_time ON audit_log(timestamp);
				CREATE INDEX idx_audit_log_agent ON audit_log(agent_id);
				CREATE INDEX idx_audit_log_session ON audit_log(session_id);
			`,
		},
		{
			ID:          5,
			Name:        "005_create_tokens",
			Description: "opaque token records",
			UpSQL: `
				CREATE TABLE tokens (
					token_id TEXT PRIMARY KEY,
					agent_id TEXT NOT NULL,
					agent_type TEXT NOT NULL,
					permissions TEXT NOT NULL,
					issued_at TEXT NOT NULL,
					expires_at TEXT NOT NULL,
					revoked INTEGER NOT NULL DEFAULT 0
				);
				CREATE INDEX idx_tokens_agent ON tokens(agent_id);
			`,
		},
		{
			ID:          6,
			Name:        "006_sessions_denormalized_counters",
			Description: "add message_count and last_message_at to sessions for cheap summaries",
			UpSQL: `
				ALTER TABLE sessions ADD COLUMN message_count INTEGER NOT NULL DEFAULT 0;
				ALTER TABLE sessions ADD COLUMN last_message_at TEXT NULL;
			`,
		},
		{
			ID:          7,
			Name:        "007_audit_log_correlation_id",
			Description: "add correlation_id to audit_log for cross-referencing INTERNAL_ERROR responses",
			UpSQL: `
				ALTER TABLE audit_log ADD COLUMN correlation_id TEXT NULL;
			`,
		},
		{
			ID:          8,
			Name:        "008_tokens_bearer_token",
			Description: "store the signed internal bearer alongside the opaque token record",
			UpSQL: `
				ALTER TABLE tokens ADD COLUMN bearer_token TEXT NOT NULL DEFAULT '';
			`,
		},
	}
}
