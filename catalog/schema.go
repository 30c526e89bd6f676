package catalog

// schemaVersion tags the on-disk layout. Opening a catalog written with a
// different version wipes and recreates it; there is no migration path.
const schemaVersion = 1

// The version table is created first and on its own: the tag has to be
// readable before any decision about the data tables is made.
const ddlVersion = `
CREATE TABLE IF NOT EXISTS schema_version (
	id      INTEGER PRIMARY KEY CHECK (id = 1),
	version INTEGER NOT NULL
);
`

// Internal ids come from the identity_mapping rowid. AUTOINCREMENT keeps
// SQLite from ever reusing a rowid, so allocation stays strictly monotonic
// across deletes and restarts.
const ddl = `
CREATE TABLE IF NOT EXISTS projects (
	project_id TEXT PRIMARY KEY,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS identity_mapping (
	internal_id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id  TEXT NOT NULL,
	item_id     TEXT NOT NULL,
	UNIQUE (project_id, item_id)
);

CREATE INDEX IF NOT EXISTS idx_identity_project ON identity_mapping (project_id);

CREATE TABLE IF NOT EXISTS item_records (
	internal_id       INTEGER PRIMARY KEY,
	blob_key          TEXT NOT NULL,
	content_type      TEXT NOT NULL,
	original_filename TEXT NOT NULL DEFAULT '',
	size_bytes        INTEGER NOT NULL,
	created_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS item_vectors (
	internal_id INTEGER PRIMARY KEY,
	embedding   BLOB NOT NULL
);
`

// dataTables lists every table wiped by a schema reset, children first.
// schema_version itself survives and only has its tag rewritten.
var dataTables = []string{"item_vectors", "item_records", "identity_mapping", "projects"}
