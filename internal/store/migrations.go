package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// sqliteMigrations is the ordered list of schema migrations for SQLite.
// Each migration's version must be sequential starting from 1.
var sqliteMigrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL DEFAULT '',
	address         TEXT NOT NULL,
	domain          TEXT NOT NULL DEFAULT '',
	host            TEXT NOT NULL DEFAULT '',
	port            INTEGER NOT NULL DEFAULT 0,
	tls             TEXT NOT NULL DEFAULT '',
	credential_ref  TEXT NOT NULL DEFAULT '',
	last_checkpoint DATETIME,
	valid           INTEGER NOT NULL DEFAULT 1 CHECK(valid IN (0, 1)),
	provider_ids    INTEGER NOT NULL DEFAULT 0 CHECK(provider_ids IN (0, 1)),
	job             TEXT NOT NULL DEFAULT '',
	usage           TEXT NOT NULL DEFAULT '',
	interests       TEXT NOT NULL DEFAULT '[]',
	created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	id             TEXT PRIMARY KEY,
	message_id     TEXT NOT NULL DEFAULT '',
	provider_id    TEXT NOT NULL DEFAULT '',
	fingerprint    TEXT NOT NULL UNIQUE,
	subject        TEXT NOT NULL DEFAULT '',
	from_addr      TEXT NOT NULL DEFAULT '',
	to_addrs       TEXT NOT NULL DEFAULT '[]',
	cc_addrs       TEXT NOT NULL DEFAULT '[]',
	bcc_addrs      TEXT NOT NULL DEFAULT '[]',
	text_body      TEXT,
	html_body      TEXT,
	has_attachment INTEGER NOT NULL DEFAULT 0 CHECK(has_attachment IN (0, 1)),
	sent_at        DATETIME,
	created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS mailbox_entries (
	id          TEXT PRIMARY KEY,
	account_id  TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	message_ref TEXT NOT NULL REFERENCES messages(id),
	dedup_key   TEXT NOT NULL,
	folder      TEXT NOT NULL DEFAULT 'inbox'
		CHECK(folder IN ('inbox', 'sent', 'spam', 'starred', 'trash')),
	read        INTEGER NOT NULL DEFAULT 0 CHECK(read IN (0, 1)),
	important   INTEGER NOT NULL DEFAULT 0 CHECK(important IN (0, 1)),
	pinned      INTEGER NOT NULL DEFAULT 0 CHECK(pinned IN (0, 1)),
	spam        INTEGER NOT NULL DEFAULT 0 CHECK(spam IN (0, 1)),
	classified  INTEGER NOT NULL DEFAULT 0 CHECK(classified IN (0, 1)),
	summarized  INTEGER NOT NULL DEFAULT 0 CHECK(summarized IN (0, 1)),
	summary     TEXT,
	received_at DATETIME NOT NULL,
	synced_at   DATETIME NOT NULL,
	deleted_at  DATETIME,
	UNIQUE(account_id, message_ref),
	UNIQUE(account_id, dedup_key)
);

CREATE TABLE IF NOT EXISTS attachments (
	id           TEXT PRIMARY KEY,
	message_ref  TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	filename     TEXT NOT NULL,
	mime_type    TEXT NOT NULL DEFAULT 'application/octet-stream',
	size         INTEGER NOT NULL DEFAULT 0,
	storage_path TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_messages_message_id ON messages(message_id);
CREATE INDEX IF NOT EXISTS idx_entries_account_folder ON mailbox_entries(account_id, folder);
CREATE INDEX IF NOT EXISTS idx_entries_message_ref ON mailbox_entries(message_ref);
CREATE INDEX IF NOT EXISTS idx_entries_received_at ON mailbox_entries(received_at);
CREATE INDEX IF NOT EXISTS idx_attachments_message_ref ON attachments(message_ref);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_entries_unclassified
	ON mailbox_entries(account_id, classified);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}

// postgresMigrations mirrors sqliteMigrations for PostgreSQL.
var postgresMigrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS accounts (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL DEFAULT '',
	address         TEXT NOT NULL,
	domain          TEXT NOT NULL DEFAULT '',
	host            TEXT NOT NULL DEFAULT '',
	port            INTEGER NOT NULL DEFAULT 0,
	tls             TEXT NOT NULL DEFAULT '',
	credential_ref  TEXT NOT NULL DEFAULT '',
	last_checkpoint TIMESTAMPTZ,
	valid           INTEGER NOT NULL DEFAULT 1 CHECK(valid IN (0, 1)),
	provider_ids    INTEGER NOT NULL DEFAULT 0 CHECK(provider_ids IN (0, 1)),
	job             TEXT NOT NULL DEFAULT '',
	usage           TEXT NOT NULL DEFAULT '',
	interests       TEXT NOT NULL DEFAULT '[]',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS messages (
	id             TEXT PRIMARY KEY,
	message_id     TEXT NOT NULL DEFAULT '',
	provider_id    TEXT NOT NULL DEFAULT '',
	fingerprint    TEXT NOT NULL UNIQUE,
	subject        TEXT NOT NULL DEFAULT '',
	from_addr      TEXT NOT NULL DEFAULT '',
	to_addrs       TEXT NOT NULL DEFAULT '[]',
	cc_addrs       TEXT NOT NULL DEFAULT '[]',
	bcc_addrs      TEXT NOT NULL DEFAULT '[]',
	text_body      TEXT,
	html_body      TEXT,
	has_attachment INTEGER NOT NULL DEFAULT 0 CHECK(has_attachment IN (0, 1)),
	sent_at        TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS mailbox_entries (
	id          TEXT PRIMARY KEY,
	account_id  TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
	message_ref TEXT NOT NULL REFERENCES messages(id),
	dedup_key   TEXT NOT NULL,
	folder      TEXT NOT NULL DEFAULT 'inbox'
		CHECK(folder IN ('inbox', 'sent', 'spam', 'starred', 'trash')),
	read        INTEGER NOT NULL DEFAULT 0 CHECK(read IN (0, 1)),
	important   INTEGER NOT NULL DEFAULT 0 CHECK(important IN (0, 1)),
	pinned      INTEGER NOT NULL DEFAULT 0 CHECK(pinned IN (0, 1)),
	spam        INTEGER NOT NULL DEFAULT 0 CHECK(spam IN (0, 1)),
	classified  INTEGER NOT NULL DEFAULT 0 CHECK(classified IN (0, 1)),
	summarized  INTEGER NOT NULL DEFAULT 0 CHECK(summarized IN (0, 1)),
	summary     TEXT,
	received_at TIMESTAMPTZ NOT NULL,
	synced_at   TIMESTAMPTZ NOT NULL,
	deleted_at  TIMESTAMPTZ,
	UNIQUE(account_id, message_ref),
	UNIQUE(account_id, dedup_key)
);

CREATE TABLE IF NOT EXISTS attachments (
	id           TEXT PRIMARY KEY,
	message_ref  TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
	filename     TEXT NOT NULL,
	mime_type    TEXT NOT NULL DEFAULT 'application/octet-stream',
	size         BIGINT NOT NULL DEFAULT 0,
	storage_path TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_messages_message_id ON messages(message_id);
CREATE INDEX IF NOT EXISTS idx_entries_account_folder ON mailbox_entries(account_id, folder);
CREATE INDEX IF NOT EXISTS idx_entries_message_ref ON mailbox_entries(message_ref);
CREATE INDEX IF NOT EXISTS idx_entries_received_at ON mailbox_entries(received_at);
CREATE INDEX IF NOT EXISTS idx_attachments_message_ref ON attachments(message_ref);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_entries_unclassified
	ON mailbox_entries(account_id, classified);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
