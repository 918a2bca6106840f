package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	email      TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS conversations (
	id            TEXT PRIMARY KEY,
	owner_user_id TEXT NOT NULL REFERENCES users(id),
	subject       TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	direction       TEXT NOT NULL CHECK(direction IN ('inbound', 'outbound')),
	message_id      TEXT NOT NULL DEFAULT '',
	body            TEXT NOT NULL DEFAULT '',
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS conversation_threads (
	conversation_id TEXT NOT NULL REFERENCES conversations(id),
	message_id      TEXT NOT NULL,
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_conversation_threads_message_id
	ON conversation_threads(message_id);
CREATE INDEX IF NOT EXISTS idx_conversation_threads_conversation_id
	ON conversation_threads(conversation_id);

CREATE TABLE IF NOT EXISTS notifications (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL DEFAULT '',
	message         TEXT NOT NULL,
	read            INTEGER NOT NULL DEFAULT 0 CHECK(read IN (0, 1)),
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
CREATE INDEX IF NOT EXISTS idx_messages_conversation_id ON messages(conversation_id);
CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at);
CREATE INDEX IF NOT EXISTS idx_notifications_read ON notifications(read);
CREATE INDEX IF NOT EXISTS idx_notifications_created ON notifications(created_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
