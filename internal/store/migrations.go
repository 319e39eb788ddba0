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

CREATE TABLE IF NOT EXISTS ids (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	mailbox TEXT NOT NULL,
	key     TEXT NOT NULL,
	UNIQUE (mailbox, key)
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE INDEX IF NOT EXISTS idx_ids_mailbox_id ON ids(mailbox, id);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
