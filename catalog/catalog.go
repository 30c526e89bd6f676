// Package catalog persists the durable state of a store in a single SQLite
// database: the project registry, the identity mapping from (project, item)
// pairs to internal ids, the media records, and the raw embeddings.
//
// The catalog is the source of truth. The in-memory vector index and the
// project membership mirrors are rebuilt from it at open, so losing them is
// never more than a restart away from recovery.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when an item does not exist.
	ErrNotFound = errors.New("catalog: item not found")

	// ErrProjectNotFound is returned when a project does not exist.
	ErrProjectNotFound = errors.New("catalog: project not found")
)

// Record describes the stored media behind an item.
type Record struct {
	// BlobKey is the name of the media blob in the blob store.
	BlobKey string

	// ContentType is the MIME type of the media.
	ContentType string

	// OriginalFilename is the upload filename, when one was provided.
	OriginalFilename string

	// SizeBytes is the media size in bytes.
	SizeBytes int64
}

// Item pairs an item id with its record.
type Item struct {
	ItemID string
	Record Record
}

// Entry is one identity row joined with its embedding, as scanned during
// index rebuilds.
type Entry struct {
	InternalID uint64
	ProjectID  string
	ItemID     string
	Embedding  []float32
}

// Options contains options for opening a catalog.
type Options struct {
	// Logger receives operational messages, most importantly the warning
	// emitted when a schema mismatch wipes the catalog.
	Logger *slog.Logger
}

// Catalog is a handle to the SQLite database. It performs no locking of its
// own; the owning store serializes mutations.
type Catalog struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open opens or creates the catalog at path.
//
// A missing database is initialized fresh. A database carrying a different
// schema version is wiped and recreated, with a warning naming both
// versions; there is no migration between versions.
func Open(ctx context.Context, path string, optFns ...func(o *Options)) (*Catalog, error) {
	opts := Options{}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}

	c := &Catalog{
		db:     db,
		path:   path,
		logger: opts.Logger,
	}

	if err := c.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return c, nil
}

func dsn(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

// Close closes the underlying database.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Path returns the database file path.
func (c *Catalog) Path() string {
	return c.path
}

func (c *Catalog) ensureSchema(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, ddlVersion); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	var have int

	err := c.db.QueryRowContext(ctx, `SELECT version FROM schema_version WHERE id = 1`).Scan(&have)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := c.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}

		if _, err := c.db.ExecContext(ctx, `INSERT INTO schema_version (id, version) VALUES (1, ?)`, schemaVersion); err != nil {
			return fmt.Errorf("write schema version: %w", err)
		}

		return nil
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	}

	if have != schemaVersion {
		return c.reset(ctx, have)
	}

	if _, err := c.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	return nil
}

// reset wipes every data table and stamps the current version.
func (c *Catalog) reset(ctx context.Context, have int) error {
	c.logger.WarnContext(ctx, "schema version mismatch, wiping catalog",
		"have", have,
		"want", schemaVersion,
		"path", c.path,
	)

	for _, table := range dataTables {
		if _, err := c.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+table); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
	}

	if _, err := c.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	if _, err := c.db.ExecContext(ctx, `UPDATE schema_version SET version = ? WHERE id = 1`, schemaVersion); err != nil {
		return fmt.Errorf("write schema version: %w", err)
	}

	return nil
}

func (c *Catalog) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// EnsureProject registers the project if it is not known yet.
func (c *Catalog) EnsureProject(ctx context.Context, projectID string) error {
	_, err := c.db.ExecContext(ctx, `INSERT OR IGNORE INTO projects (project_id) VALUES (?)`, projectID)

	return err
}

// ProjectExists reports whether the project is registered.
func (c *Catalog) ProjectExists(ctx context.Context, projectID string) (bool, error) {
	var one int

	err := c.db.QueryRowContext(ctx, `SELECT 1 FROM projects WHERE project_id = ?`, projectID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

// Projects returns all registered project ids, sorted.
func (c *Catalog) Projects(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT project_id FROM projects ORDER BY project_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []string

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}

		projects = append(projects, id)
	}

	return projects, rows.Err()
}

// Resolve looks up the internal id of an item.
func (c *Catalog) Resolve(ctx context.Context, projectID, itemID string) (uint64, bool, error) {
	var internal int64

	err := c.db.QueryRowContext(ctx, `SELECT internal_id FROM identity_mapping WHERE project_id = ? AND item_id = ?`, projectID, itemID).Scan(&internal)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	return uint64(internal), true, nil
}

// UpsertItem writes project, identity, record, and embedding in one
// transaction and returns the item's internal id. A repeated upsert of the
// same (project, item) pair keeps its internal id.
func (c *Catalog) UpsertItem(ctx context.Context, projectID, itemID string, rec Record, embedding []float32) (uint64, error) {
	blob := encodeVector(embedding)

	var internal int64

	err := c.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO projects (project_id) VALUES (?)`, projectID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO identity_mapping (project_id, item_id) VALUES (?, ?)`, projectID, itemID); err != nil {
			return err
		}

		if err := tx.QueryRowContext(ctx, `SELECT internal_id FROM identity_mapping WHERE project_id = ? AND item_id = ?`, projectID, itemID).Scan(&internal); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO item_records (internal_id, blob_key, content_type, original_filename, size_bytes)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (internal_id) DO UPDATE SET
				blob_key = excluded.blob_key,
				content_type = excluded.content_type,
				original_filename = excluded.original_filename,
				size_bytes = excluded.size_bytes,
				updated_at = CURRENT_TIMESTAMP
		`, internal, rec.BlobKey, rec.ContentType, rec.OriginalFilename, rec.SizeBytes); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO item_vectors (internal_id, embedding)
			VALUES (?, ?)
			ON CONFLICT (internal_id) DO UPDATE SET embedding = excluded.embedding
		`, internal, blob); err != nil {
			return err
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return uint64(internal), nil
}

// DeleteItem removes identity, record, and embedding in one transaction.
// It returns the removed record, the item's internal id, and whether the
// item existed; deleting an absent item is a no-op.
func (c *Catalog) DeleteItem(ctx context.Context, projectID, itemID string) (Record, uint64, bool, error) {
	var (
		rec      Record
		internal int64
		existed  bool
	)

	err := c.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT internal_id FROM identity_mapping WHERE project_id = ? AND item_id = ?`, projectID, itemID).Scan(&internal)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}

		existed = true

		err = tx.QueryRowContext(ctx, `SELECT blob_key, content_type, original_filename, size_bytes FROM item_records WHERE internal_id = ?`, internal).
			Scan(&rec.BlobKey, &rec.ContentType, &rec.OriginalFilename, &rec.SizeBytes)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		for _, q := range []string{
			`DELETE FROM item_vectors WHERE internal_id = ?`,
			`DELETE FROM item_records WHERE internal_id = ?`,
			`DELETE FROM identity_mapping WHERE internal_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, internal); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return Record{}, 0, false, err
	}

	return rec, uint64(internal), existed, nil
}

// GetRecord returns the record of an item.
func (c *Catalog) GetRecord(ctx context.Context, projectID, itemID string) (Record, error) {
	var rec Record

	err := c.db.QueryRowContext(ctx, `
		SELECT r.blob_key, r.content_type, r.original_filename, r.size_bytes
		FROM identity_mapping m
		JOIN item_records r ON r.internal_id = m.internal_id
		WHERE m.project_id = ? AND m.item_id = ?
	`, projectID, itemID).Scan(&rec.BlobKey, &rec.ContentType, &rec.OriginalFilename, &rec.SizeBytes)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}

	return rec, nil
}

// ListRecords returns all items of a project ordered by item id. A project
// that was never created yields ErrProjectNotFound; a known empty project
// yields an empty slice.
func (c *Catalog) ListRecords(ctx context.Context, projectID string) ([]Item, error) {
	exists, err := c.ProjectExists(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrProjectNotFound
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT m.item_id, r.blob_key, r.content_type, r.original_filename, r.size_bytes
		FROM identity_mapping m
		JOIN item_records r ON r.internal_id = m.internal_id
		WHERE m.project_id = ?
		ORDER BY m.item_id
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Item, 0)

	for rows.Next() {
		var it Item

		if err := rows.Scan(&it.ItemID, &it.Record.BlobKey, &it.Record.ContentType, &it.Record.OriginalFilename, &it.Record.SizeBytes); err != nil {
			return nil, err
		}

		items = append(items, it)
	}

	return items, rows.Err()
}

// ScanEntries streams every identity row with its embedding in internal id
// order, calling fn per entry. An error from fn stops the scan.
func (c *Catalog) ScanEntries(ctx context.Context, fn func(e Entry) error) error {
	rows, err := c.db.QueryContext(ctx, `
		SELECT m.internal_id, m.project_id, m.item_id, v.embedding
		FROM identity_mapping m
		JOIN item_vectors v ON v.internal_id = m.internal_id
		ORDER BY m.internal_id
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			internal          int64
			projectID, itemID string
			blob              []byte
		)

		if err := rows.Scan(&internal, &projectID, &itemID, &blob); err != nil {
			return err
		}

		vec, err := decodeVector(blob)
		if err != nil {
			return err
		}

		err = fn(Entry{
			InternalID: uint64(internal),
			ProjectID:  projectID,
			ItemID:     itemID,
			Embedding:  vec,
		})
		if err != nil {
			return err
		}
	}

	return rows.Err()
}

// VacuumInto writes a consistent copy of the database to dest using
// SQLite's VACUUM INTO. dest must not exist.
func (c *Catalog) VacuumInto(ctx context.Context, dest string) error {
	if _, err := c.db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return fmt.Errorf("vacuum into: %w", err)
	}

	return nil
}
